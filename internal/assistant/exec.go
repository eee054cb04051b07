package assistant

import (
	"bufio"
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/felixgeelhaar/specforge/internal/errors"
)

// ExecConfig configures a command-line assistant
type ExecConfig struct {
	// Command is the executable, resolved through PATH
	Command string

	// Args are passed before any session or model flags
	Args []string

	// SessionFlag starts a named session (e.g. "--session-id")
	SessionFlag string

	// ResumeFlag continues a named session (e.g. "--resume")
	ResumeFlag string

	// ModelFlag selects the model (e.g. "--model")
	ModelFlag string

	// GracePeriod is how long a cancelled process gets between SIGTERM and SIGKILL
	GracePeriod time.Duration
}

// DefaultExecConfig targets the claude CLI in print mode
func DefaultExecConfig() ExecConfig {
	return ExecConfig{
		Command:     "claude",
		Args:        []string{"-p", "--output-format", "text"},
		SessionFlag: "--session-id",
		ResumeFlag:  "--resume",
		ModelFlag:   "--model",
		GracePeriod: 5 * time.Second,
	}
}

// ExecRunner drives an assistant CLI. The prompt is written to stdin and stdout is the answer.
type ExecRunner struct {
	config ExecConfig
}

// NewExecRunner creates a runner for the configured command
func NewExecRunner(config ExecConfig) *ExecRunner {
	if config.GracePeriod == 0 {
		config.GracePeriod = 5 * time.Second
	}
	return &ExecRunner{config: config}
}

// Available reports whether the command can be found
func (r *ExecRunner) Available() bool {
	_, err := exec.LookPath(r.config.Command)
	return err == nil
}

// Args returns the full argument list for a request
func (r *ExecRunner) Args(req Request) []string {
	args := append([]string{}, r.config.Args...)
	if req.SessionID != "" {
		if req.Resume && r.config.ResumeFlag != "" {
			args = append(args, r.config.ResumeFlag, req.SessionID)
		} else if !req.Resume && r.config.SessionFlag != "" {
			args = append(args, r.config.SessionFlag, req.SessionID)
		}
	}
	if req.Model != "" && r.config.ModelFlag != "" {
		args = append(args, r.config.ModelFlag, req.Model)
	}
	return args
}

// Run executes the command. Cancelling ctx sends SIGTERM, then SIGKILL after the grace period.
func (r *ExecRunner) Run(ctx context.Context, req Request) (*Result, error) {
	path, err := exec.LookPath(r.config.Command)
	if err != nil {
		return nil, errors.NewBackendUnavailable(r.config.Command, err)
	}

	start := time.Now()
	cmd := exec.CommandContext(ctx, path, r.Args(req)...)
	cmd.Dir = req.WorkingDir
	cmd.Stdin = strings.NewReader(req.Prompt)
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = r.config.GracePeriod

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errors.NewBackendFailure(req.Label, fmt.Errorf("failed to create stdout pipe: %w", err))
	}
	if err := cmd.Start(); err != nil {
		return nil, errors.NewBackendUnavailable(r.config.Command, err)
	}

	output, readErr := collect(stdout, req.OnChunk)
	waitErr := cmd.Wait()
	result := &Result{
		Success:    waitErr == nil && readErr == nil,
		Output:     output,
		DurationMs: time.Since(start).Milliseconds(),
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		code := errors.ErrCodeBackendCancelled
		if stderrors.Is(ctxErr, context.DeadlineExceeded) {
			return result, errors.Wrap(code, errors.KindTimeout, fmt.Sprintf("assistant call %s exceeded its deadline", req.Label), ctxErr)
		}
		return result, errors.Wrap(code, errors.KindBackendFailure, fmt.Sprintf("assistant call %s cancelled", req.Label), ctxErr)
	}
	if waitErr != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = waitErr.Error()
		}
		return result, errors.NewBackendFailure(req.Label, fmt.Errorf("%s", msg))
	}
	if readErr != nil {
		return result, errors.NewBackendFailure(req.Label, readErr)
	}
	return result, nil
}

// collect reads r line by line, forwarding each line to onChunk, and returns the whole text.
func collect(r io.Reader, onChunk func(string)) (string, error) {
	var b strings.Builder
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		b.WriteString(line)
		b.WriteByte('\n')
		if onChunk != nil {
			onChunk(line)
		}
	}
	return b.String(), scanner.Err()
}
