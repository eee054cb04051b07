// Package health reports whether specforge's dependencies are usable: the assistant binary,
// the workspace directory, and the task id sequence.
package health

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Checker checks one dependency
type Checker interface {
	Name() string
	Check(ctx context.Context) *Result
}

// Status of a check
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// Result of a single check
type Result struct {
	Status  Status         `json:"status"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	Latency time.Duration  `json:"latency"`
}

func newResult(status Status, message string) *Result {
	return &Result{Status: status, Message: message, Details: make(map[string]any)}
}

// Healthy returns a healthy result
func Healthy(message string) *Result { return newResult(StatusHealthy, message) }

// Degraded returns a degraded result
func Degraded(message string) *Result { return newResult(StatusDegraded, message) }

// Unhealthy returns an unhealthy result
func Unhealthy(message string) *Result { return newResult(StatusUnhealthy, message) }

// WithDetail adds a detail and returns r for chaining
func (r *Result) WithDetail(key string, value any) *Result {
	r.Details[key] = value
	return r
}

// CheckFunc adapts a function to Checker
type CheckFunc struct {
	name string
	fn   func(ctx context.Context) *Result
}

// Func returns a named Checker backed by fn
func Func(name string, fn func(ctx context.Context) *Result) CheckFunc {
	return CheckFunc{name: name, fn: fn}
}

func (c CheckFunc) Name() string                      { return c.name }
func (c CheckFunc) Check(ctx context.Context) *Result { return c.fn(ctx) }

// Assistant checks that the assistant command can be found. A missing assistant degrades
// rather than fails: stored sessions can still be browsed and triaged.
func Assistant(command string, available func() bool) Checker {
	return Func("assistant", func(context.Context) *Result {
		if available() {
			return Healthy("assistant command found").WithDetail("command", command)
		}
		return Degraded(fmt.Sprintf("%s not found in PATH", command)).
			WithDetail("suggestion", "Install the assistant CLI or set assistant.command in .specforge/config.yaml")
	})
}

// Workspace checks that the state directory is writable
func Workspace(dir string) Checker {
	return Func("workspace", func(context.Context) *Result {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return Unhealthy("workspace directory cannot be created").WithDetail("error", err.Error())
		}
		f, err := os.CreateTemp(dir, ".health-*")
		if err != nil {
			return Unhealthy("workspace directory is not writable").WithDetail("error", err.Error())
		}
		name := f.Name()
		_ = f.Close()
		_ = os.Remove(name)
		return Healthy("workspace writable").WithDetail("dir", filepath.Clean(dir))
	})
}

// Sequence checks the task id backend with ping
func Sequence(driver string, ping func(ctx context.Context) error) Checker {
	return Func("sequence", func(ctx context.Context) *Result {
		if err := ping(ctx); err != nil {
			return Unhealthy("task id sequence unreachable").
				WithDetail("driver", driver).
				WithDetail("error", err.Error())
		}
		return Healthy("task id sequence reachable").WithDetail("driver", driver)
	})
}
