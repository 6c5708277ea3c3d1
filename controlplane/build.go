package controlplane

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog/log"

	"github.com/yairfalse/cirrus/cost"
	"github.com/yairfalse/cirrus/executor"
	"github.com/yairfalse/cirrus/health"
	"github.com/yairfalse/cirrus/history"
	"github.com/yairfalse/cirrus/internal/clock"
	"github.com/yairfalse/cirrus/internal/config"
	"github.com/yairfalse/cirrus/internal/daemon"
	"github.com/yairfalse/cirrus/internal/emitter"
	"github.com/yairfalse/cirrus/internal/monitor"
	"github.com/yairfalse/cirrus/internal/plugin"
	awsplugin "github.com/yairfalse/cirrus/internal/plugin/aws"
	"github.com/yairfalse/cirrus/internal/plugin/offline"
	"github.com/yairfalse/cirrus/internal/telemetry"
	"github.com/yairfalse/cirrus/pkg/resource"
	"github.com/yairfalse/cirrus/storage"
	"github.com/yairfalse/cirrus/wal"
)

// Source supplies discovery adapters and action handlers for one provider.
type Source interface {
	Adapters() []plugin.Adapter
	Handlers() []executor.Handler
}

// BuildOptions carry runtime dependencies that are not configuration.
type BuildOptions struct {
	// Telemetry is optional; without it spans and action metrics are no-ops.
	Telemetry *telemetry.Provider
	// Source overrides the source selected by cfg.Mode.
	Source Source
	// Backend overrides the monitoring backend selected by cfg.
	Backend monitor.Backend
	Clock   clock.Clock
}

// Build assembles a console from configuration. On error everything opened
// so far is closed. With cfg.Discovery.Auto the scheduler is started under
// ctx before Build returns.
func Build(ctx context.Context, cfg *config.Config, opts BuildOptions) (_ *Console, err error) {
	var (
		closers []io.Closer
		events  *emitter.MultiEmitter
	)
	defer func() {
		if err != nil {
			for _, c := range closers {
				_ = c.Close()
			}
			if events != nil {
				_ = events.Close()
			}
		}
	}()

	src, backend, err := resolveSource(ctx, cfg, opts)
	if err != nil {
		return nil, err
	}

	registry := plugin.NewRegistry(cfg.Discovery.CallTimeout)
	for _, a := range src.Adapters() {
		registry.Register(a)
	}
	for _, f := range cfg.Discovery.Disabled {
		registry.Disable(resource.Family(f), "disabled by configuration")
	}

	store, closer, err := openHistoryStore(cfg.History)
	if err != nil {
		return nil, err
	}
	if closer != nil {
		closers = append(closers, closer)
	}
	hist := history.New(cfg.History.Capacity, store)
	hist.Load(ctx)

	engineOpts := executor.Options{
		RestartGrace:     cfg.Executor.RestartGrace,
		CallTimeout:      cfg.Executor.CallTimeout,
		RateLimit:        cfg.Executor.RateLimit,
		Burst:            cfg.Executor.Burst,
		BatchConcurrency: cfg.Executor.BatchConcurrency,
		Clock:            opts.Clock,
	}
	if cfg.History.JournalDir != "" {
		journal, err := wal.Open(cfg.History.JournalDir)
		if err != nil {
			return nil, fmt.Errorf("open command journal: %w", err)
		}
		closers = append(closers, journal)
		engineOpts.Journal = journal
	}

	var cache monitor.Cache
	if cfg.Metrics.RedisURL != "" {
		rc, err := monitor.NewRedisCache(ctx, cfg.Metrics.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("open metrics cache: %w", err)
		}
		closers = append(closers, rc)
		cache = rc
	}

	costs := cost.NewCalculator()
	estimator := monitor.NewEstimator(backend, costs, monitor.Options{
		TTL:    cfg.Metrics.CacheTTL,
		Window: cfg.Metrics.Window,
		Period: cfg.Metrics.Period,
		Clock:  opts.Clock,
		Cache:  cache,
	})

	parts := Parts{
		Registry:   registry,
		Engine:     executor.NewEngine(src.Handlers(), hist, engineOpts),
		History:    hist,
		Metrics:    estimator,
		Costs:      costs,
		Thresholds: health.Thresholds{HighWater: cfg.Health.HighWater, LowWater: cfg.Health.LowWater},
		Interval:   cfg.Discovery.Interval,
		Closers:    closers,
	}
	sinks := []emitter.Emitter{emitter.NewLogEmitter()}
	if opts.Telemetry != nil {
		parts.Tracer = opts.Telemetry.Tracer()
		parts.Actions = opts.Telemetry
		stats, err := daemon.NewMetricsWithProvider(opts.Telemetry.MeterProvider())
		if err != nil {
			return nil, fmt.Errorf("create discovery metrics: %w", err)
		}
		parts.SchedulerStats = stats

		inventory, err := emitter.NewInventoryEmitter(opts.Telemetry.MeterProvider())
		if err != nil {
			return nil, fmt.Errorf("create inventory gauge: %w", err)
		}
		sinks = append(sinks, inventory)
	}
	if cfg.Events.RedisURL != "" {
		pub, err := emitter.NewRedisEmitter(ctx, cfg.Events.RedisURL, cfg.Events.Channel)
		if err != nil {
			return nil, fmt.Errorf("open change event channel: %w", err)
		}
		sinks = append(sinks, pub)
	}
	events = emitter.NewMultiEmitter(sinks...)
	parts.Events = events

	console, err := New(parts)
	if err != nil {
		return nil, err
	}
	if cfg.Discovery.Auto {
		console.StartAutoDiscovery(ctx)
	}
	log.Info().
		Str("mode", cfg.Mode).
		Str("history", cfg.History.Backend).
		Bool("journal", engineOpts.Journal != nil).
		Bool("redis", cache != nil).
		Int("event_sinks", events.Len()).
		Bool("monitoring", backend != nil).
		Bool("auto_discovery", cfg.Discovery.Auto).
		Msg("control plane ready")
	return console, nil
}

func resolveSource(ctx context.Context, cfg *config.Config, opts BuildOptions) (Source, monitor.Backend, error) {
	if opts.Source != nil {
		return opts.Source, opts.Backend, nil
	}

	switch cfg.Mode {
	case config.ModeOffline:
		fixtures := offline.Demo()
		if cfg.Offline.Fixtures != "" {
			f, err := offline.Load(cfg.Offline.Fixtures)
			if err != nil {
				return nil, nil, err
			}
			fixtures = f
		}
		cloud, err := offline.New(fixtures)
		if err != nil {
			return nil, nil, fmt.Errorf("build offline estate: %w", err)
		}
		return cloud, opts.Backend, nil

	case config.ModeAWS:
		p, err := awsplugin.New(ctx, awsplugin.Config{Region: cfg.AWS.Region, Profile: cfg.AWS.Profile})
		if err != nil {
			return nil, nil, err
		}
		backend := opts.Backend
		if backend == nil && cfg.Metrics.Monitoring {
			backend = p.Monitor()
		}
		return p, backend, nil

	default:
		return nil, nil, fmt.Errorf("unknown mode %q", cfg.Mode)
	}
}

func openHistoryStore(cfg config.HistoryConfig) (history.Store, io.Closer, error) {
	switch cfg.Backend {
	case config.BackendBolt:
		s, err := storage.OpenBolt(cfg.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("open history store: %w", err)
		}
		return s, s, nil
	case config.BackendFile:
		return storage.NewFileStore(cfg.Path), nil, nil
	case config.BackendMemory, "":
		return nil, nil, nil
	default:
		return nil, nil, errors.New("unknown history backend " + cfg.Backend)
	}
}
