// Package health classifies the estate from discovered resources and their
// metrics snapshots.
package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/yairfalse/cirrus/internal/plugin"
	"github.com/yairfalse/cirrus/pkg/resource"
)

const (
	DefaultHighWater = 80.0
	DefaultLowWater  = 20.0

	// DefaultConcurrency bounds concurrent metrics lookups during Check.
	DefaultConcurrency = 8

	// NoResources is the recommendation emitted for an empty estate.
	NoResources = "no resources discovered"
)

// Thresholds are utilization percentages that trigger alerts and recommendations.
type Thresholds struct {
	HighWater float64
	LowWater  float64
}

// DefaultThresholds returns 80/20.
func DefaultThresholds() Thresholds {
	return Thresholds{HighWater: DefaultHighWater, LowWater: DefaultLowWater}
}

// Evaluate builds a report from resources and the metrics keyed by Key.String().
// A resource without metrics is treated as idle.
func (t Thresholds) Evaluate(resources []resource.Resource, metrics map[string]resource.MetricsSnapshot, now time.Time) resource.HealthReport {
	report := resource.HealthReport{
		PerResource:     make(map[string]resource.ResourceHealth, len(resources)),
		Alerts:          []string{},
		Recommendations: []string{},
		Total:           len(resources),
		GeneratedAt:     now,
	}

	for _, r := range resources {
		key := r.Key().String()
		m := metrics[key]
		good := r.Status.Good()
		if good {
			report.Good++
		}
		report.PerResource[key] = resource.ResourceHealth{Resource: r, Metrics: m, Good: good}

		name := r.DisplayName()
		if m.CPUPercent > t.HighWater {
			report.Alerts = append(report.Alerts, fmt.Sprintf("High CPU usage on %s: %s%%", name, percent(m.CPUPercent)))
		}
		if m.MemoryPercent > t.HighWater {
			report.Alerts = append(report.Alerts, fmt.Sprintf("High memory usage on %s: %s%%", name, percent(m.MemoryPercent)))
		}
		if r.Family == resource.FamilyService && m.CPUPercent < t.LowWater {
			report.Recommendations = append(report.Recommendations,
				fmt.Sprintf("Consider reducing %s capacity - low CPU usage", name))
		}
	}

	if report.Total == 0 {
		report.Recommendations = append(report.Recommendations, NoResources)
	}
	report.Overall = classify(report.Total, report.Good, len(report.Alerts))
	return report
}

func classify(total, good, alerts int) resource.HealthStatus {
	switch {
	case good == total && alerts == 0:
		return resource.HealthHealthy
	case float64(good) > float64(total)/2:
		return resource.HealthDegraded
	default:
		return resource.HealthCritical
	}
}

// percent renders one decimal, dropping a trailing ".0".
func percent(v float64) string {
	s := fmt.Sprintf("%.1f", v)
	if len(s) > 2 && s[len(s)-2:] == ".0" {
		return s[:len(s)-2]
	}
	return s
}

// Discoverer produces a fresh discovery snapshot.
type Discoverer interface {
	DiscoverAll(ctx context.Context) plugin.Snapshot
}

// MetricsSource returns one snapshot per resource. It never fails; it falls
// back to estimates on its own.
type MetricsSource interface {
	Get(ctx context.Context, r resource.Resource) resource.MetricsSnapshot
}

// Aggregator re-discovers the estate and evaluates it.
type Aggregator struct {
	discoverer  Discoverer
	metrics     MetricsSource
	thresholds  Thresholds
	concurrency int
	now         func() time.Time
}

// NewAggregator wires an aggregator. Zero thresholds fall back to the defaults.
func NewAggregator(d Discoverer, m MetricsSource, t Thresholds) *Aggregator {
	if t.HighWater <= 0 {
		t.HighWater = DefaultHighWater
	}
	if t.LowWater <= 0 {
		t.LowWater = DefaultLowWater
	}
	return &Aggregator{
		discoverer:  d,
		metrics:     m,
		thresholds:  t,
		concurrency: DefaultConcurrency,
		now:         time.Now,
	}
}

// Thresholds returns the effective thresholds.
func (a *Aggregator) Thresholds() Thresholds {
	return a.thresholds
}

// Check discovers, fetches metrics for every resource concurrently, and evaluates.
func (a *Aggregator) Check(ctx context.Context) resource.HealthReport {
	snap := a.discoverer.DiscoverAll(ctx)
	resources := snap.All()
	metrics := a.Collect(ctx, resources)

	report := a.thresholds.Evaluate(resources, metrics, a.now())
	log.Debug().
		Str("overall", string(report.Overall)).
		Int("total", report.Total).
		Int("good", report.Good).
		Int("alerts", len(report.Alerts)).
		Msg("health check complete")
	return report
}

// Collect fetches one metrics snapshot per resource, keyed by Key.String().
func (a *Aggregator) Collect(ctx context.Context, resources []resource.Resource) map[string]resource.MetricsSnapshot {
	var mu sync.Mutex
	out := make(map[string]resource.MetricsSnapshot, len(resources))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.concurrency)
	for _, r := range resources {
		g.Go(func() error {
			m := a.metrics.Get(gctx, r)
			mu.Lock()
			out[r.Key().String()] = m
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}
