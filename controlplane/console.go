// Package controlplane owns one running control plane: adapters, executor,
// history, metrics, cost, health and the auto-discovery scheduler.
package controlplane

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/yairfalse/cirrus/cost"
	"github.com/yairfalse/cirrus/executor"
	"github.com/yairfalse/cirrus/health"
	"github.com/yairfalse/cirrus/history"
	"github.com/yairfalse/cirrus/internal/daemon"
	"github.com/yairfalse/cirrus/internal/emitter"
	"github.com/yairfalse/cirrus/internal/plugin"
	"github.com/yairfalse/cirrus/pkg/resource"
)

// MetricsSource answers per-resource metrics. *monitor.Estimator implements it.
type MetricsSource interface {
	Get(ctx context.Context, r resource.Resource) resource.MetricsSnapshot
}

// ActionRecorder observes executed commands, e.g. for telemetry.
type ActionRecorder interface {
	RecordAction(ctx context.Context, family, kind, state string, d time.Duration)
}

// Parts are the components a Console coordinates. Registry, Engine, History
// and Metrics are required.
type Parts struct {
	Registry   *plugin.Registry
	Engine     *executor.Engine
	History    *history.Log
	Metrics    MetricsSource
	Costs      *cost.Calculator
	Thresholds health.Thresholds
	// Interval is the auto-discovery period.
	Interval       time.Duration
	SchedulerStats *daemon.Metrics
	Tracer         trace.Tracer
	Actions        ActionRecorder
	// Events receives every auto-discovery pass. Close closes it.
	Events emitter.Emitter
	// Closers are closed in order by Close after the engine.
	Closers []io.Closer
}

// Console coordinates discover → act → record → observe.
type Console struct {
	registry  *plugin.Registry
	engine    *executor.Engine
	history   *history.Log
	metrics   MetricsSource
	costs     *cost.Calculator
	health    *health.Aggregator
	scheduler *daemon.Scheduler
	tracer    trace.Tracer
	actions   ActionRecorder
	events    emitter.Emitter
	closers   []io.Closer

	closeOnce sync.Once
	closeErr  error
}

// New wires a console from parts.
func New(p Parts) (*Console, error) {
	if p.Registry == nil || p.Engine == nil || p.History == nil || p.Metrics == nil {
		return nil, errors.New("controlplane: registry, engine, history and metrics are required")
	}
	if p.Costs == nil {
		p.Costs = cost.NewCalculator()
	}
	if p.Tracer == nil {
		p.Tracer = noop.NewTracerProvider().Tracer("")
	}
	c := &Console{
		registry: p.Registry,
		engine:   p.Engine,
		history:  p.History,
		metrics:  p.Metrics,
		costs:    p.Costs,
		health:   health.NewAggregator(p.Registry, p.Metrics, p.Thresholds),
		tracer:   p.Tracer,
		actions:  p.Actions,
		events:   p.Events,
		closers:  p.Closers,
	}
	sc := daemon.Config{Interval: p.Interval, Metrics: p.SchedulerStats}
	if c.events != nil {
		sc.OnPass = c.publish
	}
	c.scheduler = daemon.NewScheduler(p.Registry, sc)
	return c, nil
}

// publish forwards one auto-discovery pass to the event emitters.
func (c *Console) publish(ctx context.Context, snap plugin.Snapshot, changes []resource.ResourceDiff) {
	event := emitter.Event{TakenAt: snap.TakenAt, Snapshot: snap, Changes: changes}
	if err := c.events.Emit(ctx, event); err != nil {
		log.Warn().Err(err).Int("changes", len(changes)).Msg("failed to publish discovery event")
	}
}

// Discover runs a full discovery pass and returns the snapshot with failure details.
func (c *Console) Discover(ctx context.Context) plugin.Snapshot {
	ctx, span := c.tracer.Start(ctx, "controlplane.discover")
	defer span.End()

	snap := c.registry.DiscoverAll(ctx)
	span.SetAttributes(
		attribute.Int("resources", snap.Count()),
		attribute.Int("failed_families", len(snap.AdapterFailures())),
	)
	return snap
}

// DiscoverAllResources returns every family's resources. It never fails;
// a failed family is an empty list.
func (c *Console) DiscoverAllResources(ctx context.Context) map[resource.Family][]resource.Resource {
	return c.Discover(ctx).Resources
}

// CachedResources returns the last discovery snapshot without calling providers.
func (c *Console) CachedResources() (plugin.Snapshot, bool) {
	return c.registry.Last()
}

// ExecuteAction runs one action against one resource.
func (c *Console) ExecuteAction(ctx context.Context, key resource.Key, action resource.ServiceAction) (*resource.Command, error) {
	ctx, span := c.tracer.Start(ctx, "controlplane.execute",
		trace.WithAttributes(
			attribute.String("resource.key", key.String()),
			attribute.String("action.kind", string(action.Kind)),
		),
	)
	defer span.End()

	cmd, err := c.engine.Execute(ctx, key, action)
	if err != nil {
		span.RecordError(err)
	}
	c.recordAction(ctx, cmd)
	return cmd, err
}

// ExecuteBatchAction applies one action to many resources independently.
func (c *Console) ExecuteBatchAction(ctx context.Context, resources []resource.Resource, action resource.ServiceAction) executor.BatchResult {
	keys := make([]resource.Key, len(resources))
	for i, r := range resources {
		keys[i] = r.Key()
	}
	return c.ExecuteBatchKeys(ctx, keys, action)
}

// ExecuteBatchKeys is ExecuteBatchAction addressed by key.
func (c *Console) ExecuteBatchKeys(ctx context.Context, keys []resource.Key, action resource.ServiceAction) executor.BatchResult {
	ctx, span := c.tracer.Start(ctx, "controlplane.execute_batch",
		trace.WithAttributes(
			attribute.Int("batch.size", len(keys)),
			attribute.String("action.kind", string(action.Kind)),
		),
	)
	defer span.End()

	result := c.engine.ExecuteBatch(ctx, keys, action)
	for _, cmd := range result.Commands {
		c.recordAction(ctx, cmd)
	}
	span.SetAttributes(attribute.Int("batch.failed", len(result.Failed)))
	return result
}

func (c *Console) recordAction(ctx context.Context, cmd *resource.Command) {
	if c.actions == nil || cmd == nil {
		return
	}
	var d time.Duration
	if cmd.CompletedAt != nil {
		d = cmd.CompletedAt.Sub(cmd.IssuedAt)
	}
	c.actions.RecordAction(ctx, string(cmd.Family), string(cmd.Action.Kind), string(cmd.State), d)
}

// GetResourceMetrics returns a metrics snapshot for r. It never fails.
func (c *Console) GetResourceMetrics(ctx context.Context, r resource.Resource) resource.MetricsSnapshot {
	return c.metrics.Get(ctx, r)
}

// ResolveResource finds a resource by key in the last snapshot, discovering
// once if there is none or the key is missing. A key without a group that
// matches in several groups fails with resource.ErrAmbiguousKey.
func (c *Console) ResolveResource(ctx context.Context, key resource.Key) (resource.Resource, error) {
	if snap, ok := c.registry.Last(); ok {
		r, err := snap.Lookup(key)
		if !errors.Is(err, resource.ErrNotFound) {
			return r, err
		}
	}
	return c.Discover(ctx).Lookup(key)
}

// GetSystemHealth re-discovers and evaluates the estate.
func (c *Console) GetSystemHealth(ctx context.Context) resource.HealthReport {
	ctx, span := c.tracer.Start(ctx, "controlplane.health")
	defer span.End()

	report := c.health.Check(ctx)
	span.SetAttributes(attribute.String("health.overall", string(report.Overall)))
	return report
}

// GetCommandHistory returns commands newest first.
func (c *Console) GetCommandHistory() []resource.Command {
	return c.history.List()
}

// GetCommand looks a command up by ID.
func (c *Console) GetCommand(id string) (resource.Command, bool) {
	return c.history.Get(id)
}

// GetCostAnalysis re-discovers and prices the estate.
func (c *Console) GetCostAnalysis(ctx context.Context) cost.Analysis {
	return c.costs.Analyze(c.Discover(ctx).All())
}

// PendingTasks lists scheduled scale-backs.
func (c *Console) PendingTasks() []executor.DeferredTask {
	return c.engine.Pending()
}

// WaitForTasks blocks until every scheduled scale-back has run or been
// cancelled, or ctx ends.
func (c *Console) WaitForTasks(ctx context.Context) error {
	return c.engine.Wait(ctx)
}

// CancelTask cancels a scheduled scale-back.
func (c *Console) CancelTask(id string) bool {
	return c.engine.Cancel(id)
}

// StartAutoDiscovery starts the scheduler. It reports false if already running.
func (c *Console) StartAutoDiscovery(ctx context.Context) bool {
	return c.scheduler.Start(ctx)
}

// StopAutoDiscovery stops the scheduler and waits for it.
func (c *Console) StopAutoDiscovery() {
	c.scheduler.Stop()
}

// AutoDiscovery reports scheduler state.
func (c *Console) AutoDiscovery() daemon.HealthStatus {
	return c.scheduler.Health()
}

// Close stops auto-discovery, cancels pending scale-backs and releases stores.
func (c *Console) Close() error {
	c.closeOnce.Do(func() {
		c.scheduler.Stop()
		errs := []error{c.engine.Close()}
		if c.events != nil {
			errs = append(errs, c.events.Close())
		}
		for _, cl := range c.closers {
			errs = append(errs, cl.Close())
		}
		c.closeErr = errors.Join(errs...)
		log.Debug().Err(c.closeErr).Msg("control plane closed")
	})
	return c.closeErr
}
