package session

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
	"github.com/zeebo/blake3"

	"github.com/felixgeelhaar/specforge/internal/errors"
	"github.com/felixgeelhaar/specforge/internal/workspace"
)

// Document is the text a session edits
type Document interface {
	Path() string
	Read() (string, error)
	Write(content string) error
}

// FileDocument is a Document backed by a file on disk
type FileDocument struct {
	path string
}

// NewFileDocument returns a document for path
func NewFileDocument(path string) *FileDocument {
	return &FileDocument{path: path}
}

// Path returns the file path
func (d *FileDocument) Path() string { return d.path }

// Read returns the current file content
func (d *FileDocument) Read() (string, error) {
	data, err := os.ReadFile(d.path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", errors.NewFileNotFoundError(d.path)
		}
		return "", errors.NewIOError(errors.ErrCodeFileReadFailed, fmt.Sprintf("failed to read %s", d.path), err)
	}
	return string(data), nil
}

// Write replaces the file content atomically, keeping its permissions
func (d *FileDocument) Write(content string) error {
	perm := os.FileMode(0o644)
	if info, err := os.Stat(d.path); err == nil {
		perm = info.Mode().Perm()
	}
	if err := workspace.WriteFileAtomic(d.path, []byte(content), perm); err != nil {
		return errors.NewIOError(errors.ErrCodeFileWriteFailed, fmt.Sprintf("failed to write %s", d.path), err)
	}
	return nil
}

// journaledDocument remembers the content a document had before its first write so the
// write can be undone when the session that caused it fails to save.
type journaledDocument struct {
	Document
	original *string
}

func (d *journaledDocument) Write(content string) error {
	if d.original == nil {
		before, err := d.Document.Read()
		if err != nil {
			return err
		}
		d.original = &before
	}
	return d.Document.Write(content)
}

// restore puts back the pre-write content; it is a no-op when nothing was written
func (d *journaledDocument) restore() error {
	if d.original == nil {
		return nil
	}
	return d.Document.Write(*d.original)
}

// Hash returns the hex blake3 digest of content
func Hash(content string) string {
	sum := blake3.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// differ turns a staged original/proposed pair into a patch against the whole document
type differ struct {
	dmp *diffmatchpatch.DiffMatchPatch
}

func newDiffer() *differ {
	return &differ{dmp: diffmatchpatch.New()}
}

// apply replaces original with proposed where original sits in doc (searching from the hinted
// 1-based line when given) by making and applying a patch over the whole document. It returns
// the new document and the patch text.
func (d *differ) apply(doc, original, proposed string, lineHint *int) (string, string, error) {
	offset, ok := locate(doc, original, lineHint)
	if !ok {
		return "", "", notApplied("the text this edit replaces is no longer in the document")
	}
	target := doc[:offset] + proposed + doc[offset+len(original):]

	patches := d.dmp.PatchMake(doc, target)
	result, applied := d.dmp.PatchApply(patches, doc)
	for i, ok := range applied {
		if !ok {
			return "", "", notApplied(fmt.Sprintf("hunk %d of %d does not apply to the current document", i+1, len(applied)))
		}
	}
	return result, d.dmp.PatchToText(patches), nil
}

func notApplied(msg string) error {
	return errors.NewStateConflict(errors.ErrCodePatchNotApplied, msg).
		WithSuggestion("Review the document again; the text the suggestion refers to has changed")
}

// locate returns the byte offset of the occurrence of original nearest to the hinted line,
// preferring occurrences at or after it
func locate(doc, original string, lineHint *int) (int, bool) {
	start := 0
	if lineHint != nil && *lineHint > 1 {
		start = lineOffset(doc, *lineHint)
	}
	if original == "" {
		return start, true
	}
	if i := strings.Index(doc[start:], original); i >= 0 {
		return start + i, true
	}
	if i := strings.LastIndex(doc[:start], original); i >= 0 {
		return i, true
	}
	return 0, false
}

// lineOffset returns the byte offset of the start of a 1-based line, or len(doc) past the end
func lineOffset(doc string, line int) int {
	offset := 0
	for n := 1; n < line; n++ {
		i := strings.IndexByte(doc[offset:], '\n')
		if i < 0 {
			return len(doc)
		}
		offset += i + 1
	}
	return offset
}
