// Package assistant is the boundary to the text-generation backend.
//
// The core only needs one capability: run a prompt, get text back, and optionally
// continue a prior backend session. Everything else about the backend is opaque.
package assistant

import (
	"context"
)

// Request describes one assistant invocation
type Request struct {
	// Prompt is the full prompt text
	Prompt string

	// WorkingDir is the directory the backend runs in
	WorkingDir string

	// LogDir receives the raw prompt and raw output of this run
	LogDir string

	// Label names the run in logs, metrics, and transcript filenames (e.g. "review.clarity")
	Label string

	// Model overrides the backend's default model when non-empty
	Model string

	// SessionID identifies a backend conversation. Empty means stateless.
	SessionID string

	// Resume continues SessionID instead of starting it
	Resume bool

	// OnChunk receives output lines as they are produced, if the backend streams
	OnChunk func(line string)
}

// Result is the outcome of an invocation that reached the backend
type Result struct {
	Success    bool
	Output     string
	DurationMs int64
}

// Runner runs prompts against the assistant.
//
// Implementations return a BackendFailure error when the backend did not run or exited
// unsuccessfully. Cancelling ctx must stop the in-flight call.
type Runner interface {
	Run(ctx context.Context, req Request) (*Result, error)
}

// RunnerFunc adapts a function to the Runner interface
type RunnerFunc func(ctx context.Context, req Request) (*Result, error)

// Run calls f(ctx, req)
func (f RunnerFunc) Run(ctx context.Context, req Request) (*Result, error) {
	return f(ctx, req)
}
