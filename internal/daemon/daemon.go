// Package daemon runs discovery on a fixed interval in the background.
package daemon

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/yairfalse/cirrus/internal/plugin"
	"github.com/yairfalse/cirrus/pkg/resource"
)

// DefaultInterval is the auto-discovery period.
const DefaultInterval = 30 * time.Second

// Discoverer produces a discovery snapshot. *plugin.Registry satisfies it.
type Discoverer interface {
	DiscoverAll(ctx context.Context) plugin.Snapshot
}

// Config holds scheduler configuration
type Config struct {
	Interval time.Duration
	// Metrics is optional.
	Metrics *Metrics
	// OnPass is called after every pass with the snapshot and the changes
	// since the previous pass. It runs on the scheduler goroutine.
	OnPass func(context.Context, plugin.Snapshot, []resource.ResourceDiff)
}

// Scheduler owns exactly one discovery loop at a time.
type Scheduler struct {
	discoverer Discoverer
	interval   time.Duration
	metrics    *Metrics
	onPass     func(context.Context, plugin.Snapshot, []resource.ResourceDiff)
	tracker    *DiffTracker
	startTime  time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	runCount  atomic.Int64
	lastRunAt atomic.Pointer[time.Time]
}

// NewScheduler creates a stopped scheduler. A zero interval uses DefaultInterval.
func NewScheduler(d Discoverer, config Config) *Scheduler {
	interval := config.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Scheduler{
		discoverer: d,
		interval:   interval,
		metrics:    config.Metrics,
		onPass:     config.OnPass,
		tracker:    NewDiffTracker(),
		startTime:  time.Now(),
	}
}

// Interval returns the effective period.
func (s *Scheduler) Interval() time.Duration {
	return s.interval
}

// Start launches the loop: one pass immediately, then one per tick.
// Calling Start while running is a no-op and returns false.
func (s *Scheduler) Start(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return false
	}

	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done

	go s.loop(loopCtx, done)
	log.Info().Dur("interval", s.interval).Msg("auto-discovery started")
	return true
}

// Stop cancels the loop and waits for an in-flight pass to return.
// It is safe to call when not running.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	log.Info().Int64("runs", s.runCount.Load()).Msg("auto-discovery stopped")
}

// Running reports whether a loop is live.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.runDiscovery(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runDiscovery(ctx)
		}
	}
}

// runDiscovery executes one pass. Panics are logged and swallowed.
func (s *Scheduler) runDiscovery(ctx context.Context) {
	start := time.Now()
	status := "success"
	defer func() {
		if p := recover(); p != nil {
			status = "panic"
			log.Error().Err(fmt.Errorf("%v", p)).Msg("auto-discovery pass panicked")
		}
		s.runCount.Add(1)
		now := time.Now()
		s.lastRunAt.Store(&now)
		if s.metrics != nil {
			s.metrics.RecordRun(context.WithoutCancel(ctx), status, now.Sub(start))
		}
	}()

	if ctx.Err() != nil {
		status = "cancelled"
		return
	}

	snap := s.discoverer.DiscoverAll(ctx)
	if len(snap.AdapterFailures()) > 0 {
		status = "partial"
	}

	diffs := s.tracker.Observe(snap)
	if s.metrics != nil {
		s.metrics.RecordSnapshot(ctx, snap)
		for _, d := range diffs {
			s.metrics.RecordChange(ctx, d.Type, d.Resource.Family)
		}
	}

	log.Debug().
		Int("resources", snap.Count()).
		Int("failed_families", len(snap.AdapterFailures())).
		Int("changes", len(diffs)).
		Dur("duration", time.Since(start)).
		Msg("auto-discovery pass complete")

	if s.onPass != nil {
		s.onPass(ctx, snap, diffs)
	}
}

// HealthStatus represents scheduler health
type HealthStatus struct {
	Running   bool       `json:"running"`
	Uptime    int64      `json:"uptime_seconds"`
	Runs      int64      `json:"runs"`
	LastRunAt *time.Time `json:"last_run_at,omitempty"`
}

// Health returns scheduler health status
func (s *Scheduler) Health() HealthStatus {
	return HealthStatus{
		Running:   s.Running(),
		Uptime:    int64(time.Since(s.startTime).Seconds()),
		Runs:      s.runCount.Load(),
		LastRunAt: s.lastRunAt.Load(),
	}
}

// RunCount returns total discovery passes run
func (s *Scheduler) RunCount() int64 {
	return s.runCount.Load()
}
