// Package extract pulls a JSON object out of free-text assistant output.
//
// Assistant output is prose that may wrap the JSON in a fenced block or mix it with
// commentary. Extraction tries the first fenced block, then a brace-balanced scan from the
// first '{'. No repair of malformed JSON is attempted.
package extract

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strings"

	"github.com/felixgeelhaar/specforge/internal/errors"
)

// fenceOpen matches the opening of a ``` block tagged json (any case) or untagged.
var fenceOpen = regexp.MustCompile("```(?:[jJ][sS][oO][nN])?[ \\t]*\\r?\\n")

// Extract returns the first JSON value recoverable from raw.
// The error is always of kind ExtractionFailure.
func Extract(raw string) (json.RawMessage, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, errors.NewExtractionFailure(errors.ErrCodeExtractNoJSON, "assistant output is empty", nil)
	}

	var fenceErr error
	if loc := fenceOpen.FindStringIndex(raw); loc != nil {
		body := raw[loc[1]:]
		if end := strings.Index(body, "```"); end >= 0 {
			candidate := strings.TrimSpace(body[:end])
			if json.Valid([]byte(candidate)) {
				return json.RawMessage(candidate), nil
			}
			fenceErr = parseError(candidate)
		}
		// The closing fence may sit inside a string value; scan the block body instead.
		if span, ok := BalancedSpan(body); ok && json.Valid([]byte(span)) {
			return json.RawMessage(span), nil
		}
	}

	span, ok := BalancedSpan(raw)
	if !ok {
		if fenceErr != nil {
			return nil, errors.NewExtractionFailure(errors.ErrCodeExtractInvalid, "fenced block is not valid JSON", fenceErr)
		}
		return nil, errors.NewExtractionFailure(errors.ErrCodeExtractNoJSON, "no JSON object found in assistant output", nil)
	}
	if !json.Valid([]byte(span)) {
		return nil, errors.NewExtractionFailure(errors.ErrCodeExtractInvalid, "brace-balanced span is not valid JSON", parseError(span))
	}
	return json.RawMessage(span), nil
}

// Into extracts JSON from raw and decodes it into v.
func Into(raw string, v any) error {
	msg, err := Extract(raw)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(msg, v); err != nil {
		return errors.NewExtractionFailure(errors.ErrCodeExtractShape, "extracted JSON does not match the expected shape", err)
	}
	return nil
}

// BalancedSpan returns the substring starting at the first '{' and ending where the
// bracket depth returns to zero. Brackets inside string literals are ignored.
func BalancedSpan(raw string) (string, bool) {
	start := strings.IndexByte(raw, '{')
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(raw); i++ {
		c := raw[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				return raw[start : i+1], true
			}
		}
	}
	return "", false
}

func parseError(candidate string) error {
	var v any
	dec := json.NewDecoder(bytes.NewReader([]byte(candidate)))
	return dec.Decode(&v)
}
