package health

import (
	"context"
	"sync/atomic"
	"time"
)

// Probes answers liveness, readiness, and startup questions for the API server
type Probes struct {
	manager     *Manager
	version     string
	started     time.Time
	initialized atomic.Bool
	shutdown    atomic.Bool
}

// ProbeResult is the body of a probe response
type ProbeResult struct {
	Status    Status             `json:"status"`
	Version   string             `json:"version,omitempty"`
	Uptime    string             `json:"uptime,omitempty"`
	Checks    map[string]*Result `json:"checks,omitempty"`
	Timestamp time.Time          `json:"timestamp"`
}

// NewProbes creates probes over a check manager
func NewProbes(version string, manager *Manager) *Probes {
	if manager == nil {
		manager = NewManager()
	}
	return &Probes{manager: manager, version: version, started: time.Now()}
}

// MarkInitialized flips the startup probe to healthy
func (p *Probes) MarkInitialized() { p.initialized.Store(true) }

// MarkShutdown makes readiness fail while connections drain
func (p *Probes) MarkShutdown() { p.shutdown.Store(true) }

func (p *Probes) result(status Status, checks map[string]*Result) *ProbeResult {
	return &ProbeResult{
		Status:    status,
		Version:   p.version,
		Uptime:    time.Since(p.started).Round(time.Second).String(),
		Checks:    checks,
		Timestamp: time.Now().UTC(),
	}
}

// Liveness is healthy unless shutting down, when it is degraded
func (p *Probes) Liveness(context.Context) *ProbeResult {
	if p.shutdown.Load() {
		return p.result(StatusDegraded, nil)
	}
	return p.result(StatusHealthy, nil)
}

// Readiness runs every check; it is unhealthy while shutting down
func (p *Probes) Readiness(ctx context.Context) *ProbeResult {
	if p.shutdown.Load() {
		return p.result(StatusUnhealthy, nil)
	}
	checks := p.manager.Check(ctx)
	return p.result(Overall(checks), checks)
}

// Startup is healthy once MarkInitialized was called
func (p *Probes) Startup(context.Context) *ProbeResult {
	if p.initialized.Load() {
		return p.result(StatusHealthy, nil)
	}
	return p.result(StatusUnhealthy, nil)
}
