// Package monitor produces utilization snapshots for resources, from a
// monitoring backend when one answers and from a deterministic estimate
// otherwise.
package monitor

import (
	"context"
	"math"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/yairfalse/cirrus/cost"
	"github.com/yairfalse/cirrus/internal/clock"
	"github.com/yairfalse/cirrus/pkg/resource"
)

const (
	DefaultTTL    = 30 * time.Second
	DefaultWindow = time.Hour
	DefaultPeriod = 5 * time.Minute

	// phaseBucket quantizes time for the estimated series.
	phaseBucket = 5 * time.Minute
	variation   = 20.0
)

// Query selects one metric series.
type Query struct {
	Namespace  string
	Metric     string
	Dimensions map[string]string
	Window     time.Duration
	Period     time.Duration
	Stat       string
}

// Backend returns the newest datapoint for a query. ok is false when the
// series has no datapoints in the window.
type Backend interface {
	Datapoint(ctx context.Context, q Query) (value float64, ok bool, err error)
}

// Options configures an Estimator.
type Options struct {
	TTL    time.Duration
	Window time.Duration
	Period time.Duration
	Clock  clock.Clock
	Cache  Cache
}

// Estimator answers metrics requests with caching.
type Estimator struct {
	backend Backend
	costs   *cost.Calculator
	cache   Cache
	clock   clock.Clock
	ttl     time.Duration
	window  time.Duration
	period  time.Duration
}

// NewEstimator creates an estimator. A nil backend always estimates.
func NewEstimator(backend Backend, costs *cost.Calculator, opts Options) *Estimator {
	if opts.TTL <= 0 || opts.TTL > DefaultTTL {
		opts.TTL = DefaultTTL
	}
	if opts.Window <= 0 {
		opts.Window = DefaultWindow
	}
	if opts.Period <= 0 {
		opts.Period = DefaultPeriod
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.Cache == nil {
		opts.Cache = NewMemoryCache(opts.Clock)
	}
	if costs == nil {
		costs = cost.NewCalculator()
	}
	return &Estimator{
		backend: backend,
		costs:   costs,
		cache:   opts.Cache,
		clock:   opts.Clock,
		ttl:     opts.TTL,
		window:  opts.Window,
		period:  opts.Period,
	}
}

// Get returns the metrics snapshot for r. It never fails: backend problems
// fall through to the estimate.
func (e *Estimator) Get(ctx context.Context, r resource.Resource) resource.MetricsSnapshot {
	key := r.Key().String()

	if snap, ok, err := e.cache.Get(ctx, key); err != nil {
		log.Warn().Err(err).Str("resource", key).Msg("metrics cache read failed")
	} else if ok {
		return snap
	}

	snap, ok := e.observed(ctx, r)
	if !ok {
		snap = Estimate(r.Family, r.Status, e.clock.Now())
	}
	snap.StorageGB = storageOf(r)
	snap.EstimatedDailyCostUSD = e.costs.Daily(r)
	snap.CapturedAt = e.clock.Now()

	if err := e.cache.Set(ctx, key, snap, e.ttl); err != nil {
		log.Warn().Err(err).Str("resource", key).Msg("metrics cache write failed")
	}
	return snap
}

// observed queries the backend. ok is false unless a CPU datapoint exists.
func (e *Estimator) observed(ctx context.Context, r resource.Resource) (resource.MetricsSnapshot, bool) {
	if e.backend == nil {
		return resource.MetricsSnapshot{}, false
	}
	set, ok := seriesFor(r)
	if !ok {
		return resource.MetricsSnapshot{}, false
	}

	cpu, ok := e.datapoint(ctx, r, set, set.cpu)
	if !ok {
		return resource.MetricsSnapshot{}, false
	}

	snap := resource.MetricsSnapshot{CPUPercent: cpu, Source: resource.SourceCloudWatch}
	if set.memory != "" {
		snap.MemoryPercent, _ = e.datapoint(ctx, r, set, set.memory)
	}
	if set.connections != "" {
		snap.ConnectionCount, _ = e.datapoint(ctx, r, set, set.connections)
	}
	if set.requests != "" {
		snap.RequestRate, _ = e.datapoint(ctx, r, set, set.requests)
	}
	return snap, true
}

func (e *Estimator) datapoint(ctx context.Context, r resource.Resource, set series, metric string) (float64, bool) {
	v, ok, err := e.backend.Datapoint(ctx, Query{
		Namespace:  set.namespace,
		Metric:     metric,
		Dimensions: set.dimensions,
		Window:     e.window,
		Period:     e.period,
		Stat:       "Average",
	})
	if err != nil {
		log.Debug().Err(err).
			Str("resource", r.Key().String()).
			Str("metric", metric).
			Msg("metrics backend query failed")
		return 0, false
	}
	return v, ok
}

type series struct {
	namespace   string
	dimensions  map[string]string
	cpu         string
	memory      string
	connections string
	requests    string
}

// seriesFor returns the metric names a family publishes. Families without a
// CPU series are always estimated.
func seriesFor(r resource.Resource) (series, bool) {
	switch r.Family {
	case resource.FamilyService:
		return series{
			namespace:  "AWS/ECS",
			dimensions: map[string]string{"ClusterName": r.Group, "ServiceName": r.Key().LocalID()},
			cpu:        "CPUUtilization",
			memory:     "MemoryUtilization",
		}, true
	case resource.FamilyDatabase:
		return series{
			namespace:   "AWS/RDS",
			dimensions:  map[string]string{"DBInstanceIdentifier": r.ID},
			cpu:         "CPUUtilization",
			connections: "DatabaseConnections",
		}, true
	case resource.FamilyCache:
		return series{
			namespace:   "AWS/ElastiCache",
			dimensions:  map[string]string{"CacheClusterId": r.ID},
			cpu:         "CPUUtilization",
			memory:      "DatabaseMemoryUsagePercentage",
			connections: "CurrConnections",
		}, true
	case resource.FamilyInstance:
		return series{
			namespace:  "AWS/EC2",
			dimensions: map[string]string{"InstanceId": r.ID},
			cpu:        "CPUUtilization",
		}, true
	default:
		return series{}, false
	}
}

type baseline struct{ cpu, memory float64 }

var baselines = map[resource.Family]baseline{
	resource.FamilyService:  {cpu: 35, memory: 45},
	resource.FamilyDatabase: {cpu: 25, memory: 40},
	resource.FamilyCache:    {cpu: 20, memory: 55},
}

var defaultBaseline = baseline{cpu: 15, memory: 25}

// Estimate is the deterministic fallback. It depends only on family, status
// and the 5-minute bucket containing now.
func Estimate(family resource.Family, status resource.Status, now time.Time) resource.MetricsSnapshot {
	snap := resource.MetricsSnapshot{Source: resource.SourceEstimated}
	if status.Idle() {
		return snap
	}

	b, ok := baselines[family]
	if !ok {
		b = defaultBaseline
	}

	phase := float64(now.UTC().Truncate(phaseBucket).Unix() / int64(phaseBucket/time.Second))
	seed := familySeed(family)

	snap.CPUPercent = clamp(b.cpu + variation*math.Sin(phase*0.7+seed))
	snap.MemoryPercent = clamp(b.memory + variation*math.Sin(phase*0.3+seed+1.3))

	switch family {
	case resource.FamilyDatabase, resource.FamilyCache:
		snap.ConnectionCount = math.Round(snap.CPUPercent / 2)
	case resource.FamilyService, resource.FamilyLoadBalancer, resource.FamilyDistribution:
		snap.RequestRate = math.Round(snap.CPUPercent * 10)
	}
	return snap
}

func familySeed(f resource.Family) float64 {
	var h uint32 = 2166136261
	for i := 0; i < len(f); i++ {
		h ^= uint32(f[i])
		h *= 16777619
	}
	return float64(h%628) / 100
}

func clamp(v float64) float64 {
	return math.Round(math.Max(0, math.Min(100, v))*100) / 100
}

func storageOf(r resource.Resource) float64 {
	if attrs, ok := r.Attrs.(resource.DatabaseAttrs); ok {
		return float64(attrs.AllocatedStorageGB)
	}
	return 0
}
