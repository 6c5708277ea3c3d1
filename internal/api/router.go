// Package api exposes the control plane over HTTP JSON.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/yairfalse/cirrus/cost"
	"github.com/yairfalse/cirrus/executor"
	"github.com/yairfalse/cirrus/internal/daemon"
	"github.com/yairfalse/cirrus/internal/plugin"
	"github.com/yairfalse/cirrus/pkg/resource"
)

// Console is the control plane surface served by the API.
// *controlplane.Console implements it.
type Console interface {
	Discover(ctx context.Context) plugin.Snapshot
	CachedResources() (plugin.Snapshot, bool)
	ResolveResource(ctx context.Context, key resource.Key) (resource.Resource, error)
	ExecuteAction(ctx context.Context, key resource.Key, action resource.ServiceAction) (*resource.Command, error)
	ExecuteBatchKeys(ctx context.Context, keys []resource.Key, action resource.ServiceAction) executor.BatchResult
	GetResourceMetrics(ctx context.Context, r resource.Resource) resource.MetricsSnapshot
	GetSystemHealth(ctx context.Context) resource.HealthReport
	GetCommandHistory() []resource.Command
	GetCommand(id string) (resource.Command, bool)
	GetCostAnalysis(ctx context.Context) cost.Analysis
	PendingTasks() []executor.DeferredTask
	CancelTask(id string) bool
	StartAutoDiscovery(ctx context.Context) bool
	StopAutoDiscovery()
	AutoDiscovery() daemon.HealthStatus
}

// Options configure the router.
type Options struct {
	// Metrics serves /metrics when set.
	Metrics http.Handler
	// BaseContext outlives requests; auto-discovery started over HTTP runs under it.
	BaseContext context.Context
}

// Handler serves the control plane endpoints.
type Handler struct {
	console Console
	baseCtx context.Context
}

// NewRouter builds the HTTP routes.
func NewRouter(c Console, opts Options) http.Handler {
	if opts.BaseContext == nil {
		opts.BaseContext = context.Background()
	}
	h := &Handler{console: c, baseCtx: opts.BaseContext}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(requestLogger)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", h.Healthz)
	if opts.Metrics != nil {
		r.Handle("/metrics", opts.Metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/resources", h.ListResources)
		r.Post("/actions", h.ExecuteAction)
		r.Post("/actions/batch", h.ExecuteBatch)
		r.Get("/metrics/*", h.GetMetrics)
		r.Get("/health", h.GetHealth)
		r.Get("/history", h.ListHistory)
		r.Get("/history/{id}", h.GetCommand)
		r.Get("/costs", h.GetCosts)
		r.Get("/tasks", h.ListTasks)
		r.Delete("/tasks/{id}", h.CancelTask)
		r.Get("/discovery", h.DiscoveryStatus)
		r.Post("/discovery/start", h.StartDiscovery)
		r.Post("/discovery/stop", h.StopDiscovery)
	})

	return r
}

// requestLogger logs each request with zerolog.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", time.Since(start)).
			Str("request_id", chimiddleware.GetReqID(r.Context())).
			Msg("http request")
	})
}
