// ABOUTME: Health monitor that gates the bot into maintenance mode when the agent service is down
// ABOUTME: Checks once at startup and then on a cron schedule, logging every transition

package health

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/2389/fixie-bridge/internal/metrics"
)

// DefaultSchedule re-checks health once a minute.
const DefaultSchedule = "@every 1m"

// Checker checks that the agent service is reachable.
type Checker interface {
	Health(ctx context.Context) error
}

// Config holds Monitor settings.
type Config struct {
	Schedule string        // cron spec or descriptor such as "@every 30s"
	Timeout  time.Duration // per check, default 10s
	Logger   *slog.Logger
	Metrics  *metrics.Metrics

	// OnChange, if set, is called after the mode flips.
	OnChange func(maintenance bool)
}

// Monitor tracks whether the bot should run in maintenance mode.
type Monitor struct {
	checker  Checker
	schedule cron.Schedule
	spec     string
	timeout  time.Duration
	logger   *slog.Logger
	metrics  *metrics.Metrics
	onChange func(bool)

	maintenance atomic.Bool
	lastErr     atomic.Pointer[string]
}

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// NewMonitor validates the schedule and returns a Monitor. It starts out of
// maintenance mode until the first check says otherwise.
func NewMonitor(checker Checker, cfg Config) (*Monitor, error) {
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultSchedule
	}
	sched, err := parser.Parse(cfg.Schedule)
	if err != nil {
		return nil, fmt.Errorf("parsing health schedule %q: %w", cfg.Schedule, err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		checker:  checker,
		schedule: sched,
		spec:     cfg.Schedule,
		timeout:  cfg.Timeout,
		logger:   logger.With("component", "health"),
		metrics:  cfg.Metrics,
		onChange: cfg.OnChange,
	}, nil
}

// InMaintenance reports whether the last check failed.
func (m *Monitor) InMaintenance() bool {
	return m.maintenance.Load()
}

// LastError returns the error text of the last failed check, or "".
func (m *Monitor) LastError() string {
	if p := m.lastErr.Load(); p != nil {
		return *p
	}
	return ""
}

// Check queries the service once and updates the mode. It returns true when healthy.
func (m *Monitor) Check(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	err := m.checker.Health(ctx)
	healthy := err == nil
	if healthy {
		m.lastErr.Store(nil)
	} else {
		msg := err.Error()
		m.lastErr.Store(&msg)
	}

	was := m.maintenance.Swap(!healthy)
	m.metrics.SetMaintenance(!healthy)

	switch {
	case was && healthy:
		m.logger.Info("agent service recovered, leaving maintenance mode")
	case !was && !healthy:
		m.logger.Warn("agent service unreachable, entering maintenance mode", "error", err)
	case !healthy:
		m.logger.Debug("agent service still unreachable", "error", err)
	}
	if was != !healthy && m.onChange != nil {
		m.onChange(!healthy)
	}
	return healthy
}

// Run performs an immediate check, then re-checks on the schedule until ctx ends.
func (m *Monitor) Run(ctx context.Context) error {
	m.Check(ctx)

	c := cron.New(
		cron.WithParser(parser),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	c.Schedule(m.schedule, cron.FuncJob(func() { m.Check(ctx) }))
	c.Start()
	m.logger.Info("health monitor started", "schedule", m.spec)

	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}
