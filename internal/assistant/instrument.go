package assistant

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/felixgeelhaar/specforge/internal/log"
	"github.com/felixgeelhaar/specforge/internal/metrics"
	"github.com/felixgeelhaar/specforge/internal/telemetry"
)

var unsafeLabel = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Instrumented wraps a Runner with transcripts, metrics, tracing, and logging.
//
// Transcripts are written to Request.LogDir whatever the outcome, so raw prompts and raw
// output stay on disk for post-hoc inspection. Credentials are redacted from transcripts
// and from streamed chunks.
type Instrumented struct {
	next    Runner
	logger  *log.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// Instrument decorates next. Nil logger and metrics fall back to process defaults.
func Instrument(next Runner, logger *log.Logger, m *metrics.Metrics) *Instrumented {
	return &Instrumented{
		next:    next,
		logger:  log.OrDefault(logger).Component("assistant"),
		metrics: metrics.OrDefault(m),
		now:     time.Now,
	}
}

// Run implements Runner
func (i *Instrumented) Run(ctx context.Context, req Request) (*Result, error) {
	ctx, span := telemetry.Start(ctx, "assistant.run",
		attribute.String("label", req.Label),
		attribute.Bool("resume", req.Resume),
		attribute.Bool("has_session", req.SessionID != ""),
		attribute.Int("prompt_bytes", len(req.Prompt)),
	)
	if onChunk := req.OnChunk; onChunk != nil {
		req.OnChunk = func(line string) { onChunk(Redact(line)) }
	}

	base := i.transcriptBase(req)
	if base != "" {
		if err := writeTranscript(base+".prompt.md", req.Prompt); err != nil {
			i.logger.WithError(err).Warn("failed to write prompt transcript", "label", req.Label)
		}
	}

	i.logger.Debug("assistant call started", "label", req.Label, "session_id", req.SessionID, "resume", req.Resume)
	start := i.now()
	res, err := i.next.Run(ctx, req)
	elapsed := i.now().Sub(start)

	if base != "" {
		out := ""
		if res != nil {
			out = res.Output
		}
		if err != nil {
			out += fmt.Sprintf("\n\n<!-- error: %v -->\n", err)
		}
		if werr := writeTranscript(base+".output.md", out); werr != nil {
			i.logger.WithError(werr).Warn("failed to write output transcript", "label", req.Label)
		}
	}

	op := operation(req.Label)
	success := err == nil && res != nil && res.Success
	i.metrics.AssistantCalls.WithLabelValues(op, metrics.Bool(success)).Inc()
	i.metrics.AssistantLatency.WithLabelValues(op).Observe(elapsed.Seconds())

	telemetry.End(span, err)
	if err != nil {
		i.logger.WithError(err).Warn("assistant call failed", "label", req.Label, "duration_ms", elapsed.Milliseconds())
		return res, err
	}
	i.logger.Info("assistant call finished", "label", req.Label, "duration_ms", elapsed.Milliseconds(), "output_bytes", len(res.Output))
	return res, nil
}

func (i *Instrumented) transcriptBase(req Request) string {
	if req.LogDir == "" {
		return ""
	}
	label := unsafeLabel.ReplaceAllString(req.Label, "_")
	if label == "" {
		label = "run"
	}
	stamp := i.now().UTC().Format("20060102T150405.000000000")
	return filepath.Join(req.LogDir, stamp+"-"+label)
}

func writeTranscript(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(Redact(content)), 0o600)
}

// operation reduces a label like "review.clarity" to its metric-safe prefix "review".
func operation(label string) string {
	if idx := strings.IndexByte(label, '.'); idx > 0 {
		return label[:idx]
	}
	if label == "" {
		return "unknown"
	}
	return label
}
