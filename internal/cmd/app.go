package cmd

import (
	"context"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/felixgeelhaar/specforge/internal/assistant"
	"github.com/felixgeelhaar/specforge/internal/config"
	"github.com/felixgeelhaar/specforge/internal/decompose"
	"github.com/felixgeelhaar/specforge/internal/events"
	"github.com/felixgeelhaar/specforge/internal/health"
	"github.com/felixgeelhaar/specforge/internal/log"
	"github.com/felixgeelhaar/specforge/internal/metrics"
	"github.com/felixgeelhaar/specforge/internal/orchestrator"
	"github.com/felixgeelhaar/specforge/internal/review"
	"github.com/felixgeelhaar/specforge/internal/session"
	"github.com/felixgeelhaar/specforge/internal/task"
	"github.com/felixgeelhaar/specforge/internal/telemetry"
	"github.com/felixgeelhaar/specforge/internal/version"
	"github.com/felixgeelhaar/specforge/internal/workspace"
)

// appOptions are per-command overrides of the loaded config
type appOptions struct {
	reviewTimeout time.Duration
	parallelism   int
	logConfig     *log.Config
	needSequence  bool
}

// app holds everything a command needs, wired from config
type app struct {
	cfg      *config.Config
	logger   *log.Logger
	store    *workspace.Store
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	bus      *events.Bus
	exec     *assistant.ExecRunner
	runner   assistant.Runner
	seq      task.Sequence
	svc      *orchestrator.Service
	tracing  *telemetry.Provider
}

func newApp(ctx context.Context, opts appOptions) (*app, error) {
	root, err := filepath.Abs(rootDir)
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(root)
	if err != nil {
		return nil, err
	}

	lc := cfg.Logger()
	if opts.logConfig != nil {
		lc = *opts.logConfig
	}
	if rootLogLevel != "" {
		lc.Level = log.ParseLevel(rootLogLevel)
	}
	if rootLogFormat != "" {
		lc.Format = log.ParseFormat(rootLogFormat)
	}
	logger := log.New(lc)
	log.SetDefaultLogger(logger)

	a := &app{cfg: cfg, logger: logger, bus: events.NewBus()}
	a.tracing, err = telemetry.NewProvider(ctx, cfg.Telemetry, version.GetInfo().Version)
	if err != nil {
		return nil, err
	}
	a.store = workspace.Open(root, logger)
	a.registry, a.metrics = metrics.NewRegistry()
	a.exec = assistant.NewExecRunner(cfg.ExecConfig())
	a.runner = assistant.Instrument(a.exec, logger, a.metrics)

	timeout := cfg.Review.Timeout
	if opts.reviewTimeout > 0 {
		timeout = opts.reviewTimeout
	}
	parallelism := cfg.Review.Parallelism
	if opts.parallelism > 0 {
		parallelism = opts.parallelism
	}
	reviewer := review.NewExecutor(a.runner, review.Options{
		Parallelism: parallelism,
		Timeout:     timeout,
		Logger:      logger,
		Metrics:     a.metrics,
		Publisher:   a.bus,
	})

	var loop *decompose.Loop
	if opts.needSequence {
		a.seq, err = task.OpenSequence(ctx, cfg.Backend(a.store))
		if err != nil {
			return nil, err
		}
		loop = decompose.New(decompose.Config{
			Runner:      a.runner,
			Reviewer:    reviewer,
			Store:       a.store,
			Sequence:    a.seq,
			Logger:      logger,
			Metrics:     a.metrics,
			Publisher:   a.bus,
			Model:       cfg.Assistant.Model,
			CallTimeout: cfg.Decompose.CallTimeout,
		})
	}

	a.svc = orchestrator.New(orchestrator.Config{
		Store:          a.store,
		Reviewer:       reviewer,
		Decomposer:     loop,
		Sessions:       session.NewManager(a.store, logger, a.metrics, a.bus),
		Publisher:      a.bus,
		Logger:         logger,
		Metrics:        a.metrics,
		Model:          cfg.Assistant.Model,
		ProjectContext: cfg.Project.Context,
	})
	return a, nil
}

// healthManager checks the assistant, the workspace, and the id sequence if one is open
func (a *app) healthManager() *health.Manager {
	m := health.NewManager(
		health.Assistant(a.cfg.Assistant.Command, a.exec.Available),
		health.Workspace(a.store.Dir()),
	)
	if a.seq != nil {
		m.Add(health.Sequence(a.cfg.Sequence.Driver, a.seq.Ping))
	}
	return m
}

func (a *app) close(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := a.svc.Close(ctx); err != nil {
		a.logger.WithError(err).Warn("background runs did not stop in time")
	}
	if a.seq != nil {
		if err := a.seq.Close(); err != nil {
			a.logger.WithError(err).Warn("failed to close task id sequence")
		}
	}
	if err := a.tracing.Shutdown(ctx); err != nil {
		a.logger.WithError(err).Warn("failed to flush traces")
	}
}

// sessionName maps a document argument to its session name
func sessionName(doc string) string {
	return workspace.NameFor(doc)
}
