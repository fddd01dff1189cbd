// Package scheduler runs periodic housekeeping: cache sweeps, liveness
// probes and backpressure gauges.
package scheduler

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/robfig/cron/v3"

	"chartfeed/internal/bus"
	"chartfeed/internal/metrics"
)

// Default schedules (six fields, seconds first).
const (
	DefaultSweepSpec      = "0 * * * * *"
	DefaultProbeSpec      = "*/10 * * * * *"
	DefaultSaturationSpec = "*/5 * * * * *"
)

// Sweeper removes expired cache entries.
type Sweeper interface {
	Sweep() int
	Len() int
}

// Config holds cron expressions; empty fields use the defaults.
type Config struct {
	SweepSpec      string
	ProbeSpec      string
	SaturationSpec string
}

// Deps are the components the jobs act on. Nil fields disable their job.
type Deps struct {
	Cache     Sweeper
	Redis     *goredis.Client
	DB        *sql.DB
	Observers func() []bus.ChannelStat
	Health    *metrics.HealthStatus
	Metrics   *metrics.Metrics
	Log       *slog.Logger
}

// Scheduler manages all cron tasks.
type Scheduler struct {
	Cron *cron.Cron
	deps Deps
	log  *slog.Logger
	ctx  context.Context
}

// New creates a Scheduler. ctx bounds the probe calls.
func New(ctx context.Context, deps Deps) *Scheduler {
	log := deps.Log
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{
		Cron: cron.New(cron.WithSeconds()),
		deps: deps,
		log:  log.With(slog.String("component", "scheduler")),
		ctx:  ctx,
	}
}

// RegisterAll registers the sweep, probe and saturation jobs.
func (s *Scheduler) RegisterAll(cfg Config) error {
	if cfg.SweepSpec == "" {
		cfg.SweepSpec = DefaultSweepSpec
	}
	if cfg.ProbeSpec == "" {
		cfg.ProbeSpec = DefaultProbeSpec
	}
	if cfg.SaturationSpec == "" {
		cfg.SaturationSpec = DefaultSaturationSpec
	}

	if s.deps.Cache != nil {
		if _, err := s.Cron.AddFunc(cfg.SweepSpec, s.SweepNow); err != nil {
			return fmt.Errorf("register sweep task: %w", err)
		}
	}
	if s.deps.Health != nil && (s.deps.Redis != nil || s.deps.DB != nil) {
		if _, err := s.Cron.AddFunc(cfg.ProbeSpec, s.ProbeNow); err != nil {
			return fmt.Errorf("register probe task: %w", err)
		}
	}
	if s.deps.Observers != nil && s.deps.Metrics != nil {
		if _, err := s.Cron.AddFunc(cfg.SaturationSpec, s.SaturationNow); err != nil {
			return fmt.Errorf("register saturation task: %w", err)
		}
	}
	return nil
}

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	s.Cron.Start()
	s.log.Info("scheduler started", slog.Int("jobs", len(s.Cron.Entries())))
}

// Stop stops the cron scheduler and waits for running jobs.
func (s *Scheduler) Stop() {
	<-s.Cron.Stop().Done()
	s.log.Info("scheduler stopped")
}

// SweepNow removes expired cache entries and updates the cache gauges.
func (s *Scheduler) SweepNow() {
	n := s.deps.Cache.Sweep()
	if m := s.deps.Metrics; m != nil {
		m.CacheSwept.Add(float64(n))
		m.CacheEntries.Set(float64(s.deps.Cache.Len()))
	}
	if n > 0 {
		s.log.Debug("cache swept", slog.Int("removed", n))
	}
}

// ProbeNow pings redis and sqlite and records the results.
func (s *Scheduler) ProbeNow() {
	ctx, cancel := context.WithTimeout(s.ctx, 2*time.Second)
	defer cancel()
	if s.deps.Redis != nil {
		s.deps.Health.CheckRedis(ctx, s.deps.Redis)
	}
	if s.deps.DB != nil {
		s.deps.Health.CheckSQLite(ctx, s.deps.DB)
	}
	if st := s.deps.Health.Overall(); st != "healthy" {
		s.log.Warn("health degraded", slog.String("status", st))
	}
}

// SaturationNow publishes the fill percentage of each observer channel.
func (s *Scheduler) SaturationNow() {
	g := s.deps.Metrics.ChannelSaturationPct
	g.Reset()
	for i, st := range s.deps.Observers() {
		if st.Cap == 0 {
			continue
		}
		g.WithLabelValues(fmt.Sprintf("observer_%d", i)).Set(float64(st.Len) / float64(st.Cap) * 100)
	}
}
