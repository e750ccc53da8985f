// File: facade/iocontext.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// IoContext aggregates the shared runtime of the dispatch core behind one
// explicit handle: the readiness provider selected by configuration, the
// timer scheduler with its delivery pool, the IoArgs pool, the file system
// used for stream-file packets, logging and metrics. It is built once at
// startup and passed to every Connector; there is no process-wide global.

package facade

import (
	"context"
	"fmt"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/momentics/hiolink/api"
	"github.com/momentics/hiolink/control"
	"github.com/momentics/hiolink/core/buffer"
	"github.com/momentics/hiolink/internal/concurrency"
	"github.com/momentics/hiolink/reactor"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

// Option customizes New.
type Option func(*IoContext)

// WithLogger sets the logger shared by all components.
func WithLogger(l logrus.FieldLogger) Option {
	return func(c *IoContext) { c.log = l }
}

// WithMetrics sets the metrics sink. Without it metrics are created only
// when cfg.Metrics.Enabled is set.
func WithMetrics(m *control.Metrics) Option {
	return func(c *IoContext) { c.metrics = m }
}

// WithProvider replaces the configured provider, e.g. with fake.Provider.
// The context takes ownership and closes it on Stop.
func WithProvider(p api.IoProvider) Option {
	return func(c *IoContext) { c.provider = p }
}

// WithFs sets the file system for stream-file packets.
func WithFs(fs afero.Fs) Option {
	return func(c *IoContext) { c.fs = fs }
}

// IoContext is the explicit runtime handle.
type IoContext struct {
	cfg       *control.Config
	provider  api.IoProvider
	scheduler *concurrency.Scheduler
	buffers   *buffer.Pool
	fs        afero.Fs
	log       logrus.FieldLogger
	metrics   *control.Metrics
	probes    *control.DebugProbes

	mu      sync.Mutex
	started bool
	stopped bool
	cancel  context.CancelFunc
}

// Ensure compliance with api.GracefulShutdown.
var _ api.GracefulShutdown = (*IoContext)(nil)

// New validates cfg and builds every shared component. A nil cfg selects
// control.DefaultConfig.
func New(cfg *control.Config, opts ...Option) (*IoContext, error) {
	if cfg == nil {
		cfg = control.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := &IoContext{cfg: cfg}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		l, err := control.NewLogger(cfg.Log)
		if err != nil {
			return nil, err
		}
		c.log = l
	}
	if c.metrics == nil && cfg.Metrics.Enabled {
		c.metrics = control.NewMetrics()
	}
	if c.fs == nil {
		c.fs = afero.NewOsFs()
	}

	if c.provider == nil {
		p, err := NewProvider(cfg.IO, c.log, c.metrics)
		if err != nil {
			return nil, fmt.Errorf("provider init failure: %w", err)
		}
		c.provider = p
	}
	c.scheduler = concurrency.NewScheduler(cfg.Scheduler.Workers, cfg.Scheduler.DeliveryWorkers, c.log, c.metrics)
	c.buffers = buffer.NewPool(cfg.IO.BufferSize)

	c.probes = control.NewDebugProbes()
	c.probes.RegisterProbe("io.strategy", func() any { return string(cfg.IO.Strategy) })
	c.probes.RegisterProbe("scheduler.pending", func() any { return c.scheduler.Pending() })
	if rp, ok := c.provider.(*reactor.Provider); ok {
		c.probes.RegisterProbe("provider.stats", func() any { return rp.Stats() })
	}
	return c, nil
}

// NewProvider builds the provider named by cfg.Strategy.
func NewProvider(cfg control.IOConfig, log logrus.FieldLogger, m *control.Metrics) (*reactor.Provider, error) {
	opts := reactor.Options{
		Workers:             cfg.Workers,
		QueueSize:           cfg.QueueSize,
		MaxCallbackFailures: cfg.MaxCallbackFailures,
		Logger:              log,
		Metrics:             m,
	}
	switch cfg.Strategy {
	case control.StrategyDual:
		return reactor.NewDualProvider(opts)
	case control.StrategySingle:
		return reactor.NewSingleProvider(opts)
	case control.StrategyStealing, "":
		return reactor.NewStealingProvider(cfg.Selectors, opts)
	}
	return nil, fmt.Errorf("%w: strategy %q", api.ErrInvalidArgument, cfg.Strategy)
}

// Start launches optional services such as the metrics endpoint.
// Subsequent calls have no effect.
func (c *IoContext) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return api.ErrClosed
	}
	if c.started {
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	if c.cfg.Metrics.Enabled && c.metrics != nil && c.cfg.Metrics.Listen != "" {
		go func() {
			if err := control.ServeMetrics(ctx, c.cfg.Metrics.Listen, c.metrics); err != nil {
				c.log.WithError(err).Error("metrics endpoint stopped")
			}
		}()
	}
	c.started = true
	c.log.WithField("strategy", c.cfg.IO.Strategy).Info("io context started")
	return nil
}

// Stop closes the scheduler and the provider. Connectors should be closed
// first. Calling Stop more than once is a no-op.
func (c *IoContext) Stop() error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil
	}
	c.stopped = true
	cancel := c.cancel
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	var result *multierror.Error
	if err := c.scheduler.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("scheduler: %w", err))
	}
	if err := c.provider.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("provider: %w", err))
	}
	c.log.Info("io context stopped")
	return result.ErrorOrNil()
}

// Shutdown implements api.GracefulShutdown by delegating to Stop().
func (c *IoContext) Shutdown() error {
	return c.Stop()
}

func (c *IoContext) Config() *control.Config    { return c.cfg }
func (c *IoContext) Provider() api.IoProvider   { return c.provider }
func (c *IoContext) Scheduler() api.Scheduler   { return c.scheduler }
func (c *IoContext) Buffers() *buffer.Pool      { return c.buffers }
func (c *IoContext) Fs() afero.Fs               { return c.fs }
func (c *IoContext) Logger() logrus.FieldLogger { return c.log }
func (c *IoContext) Metrics() *control.Metrics  { return c.metrics }
func (c *IoContext) DebugState() map[string]any { return c.probes.DumpState() }
