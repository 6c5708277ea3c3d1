package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"

	"github.com/yairfalse/cirrus/internal/filter"
	"github.com/yairfalse/cirrus/pkg/resource"
)

var validate = validator.New()

// ActionRequest is the body of POST /api/v1/actions. The action itself is
// validated by the executor so that rejected actions are still recorded.
type ActionRequest struct {
	Target string                 `json:"target" validate:"required"`
	Action resource.ServiceAction `json:"action" validate:"-"`
}

// BatchRequest is the body of POST /api/v1/actions/batch.
type BatchRequest struct {
	Targets []string               `json:"targets" validate:"required,min=1,dive,required"`
	Action  resource.ServiceAction `json:"action" validate:"-"`
}

// ActionResponse carries the recorded command, including on failure.
type ActionResponse struct {
	Command *resource.Command `json:"command"`
	Error   string            `json:"error,omitempty"`
}

// Healthz handles GET /healthz
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"auto_discovery": h.console.AutoDiscovery(),
	})
}

// ListResources handles GET /api/v1/resources. Query parameters:
// cached=true skips discovery; family, status, label and exclude_label
// narrow the result.
func (h *Handler) ListResources(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f, err := selectorFromQuery(q)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if q.Get("cached") == "true" {
		snap, ok := h.console.CachedResources()
		if !ok {
			respondError(w, http.StatusNotFound, "no discovery has completed yet")
			return
		}
		snap = f.Apply(snap)
		respondJSON(w, http.StatusOK, snapshotResponse(snap.Resources, snap.Failed))
		return
	}

	snap := f.Apply(h.console.Discover(r.Context()))
	respondJSON(w, http.StatusOK, snapshotResponse(snap.Resources, snap.Failed))
}

func selectorFromQuery(q url.Values) (*filter.Filter, error) {
	include, err := filter.ParseLabels(q["label"])
	if err != nil {
		return nil, err
	}
	exclude, err := filter.ParseLabels(q["exclude_label"])
	if err != nil {
		return nil, err
	}
	return filter.New(filter.Options{
		Families:      filter.ParseFamilies(q["family"]),
		Statuses:      filter.ParseStatuses(q["status"]),
		IncludeLabels: include,
		ExcludeLabels: exclude,
	})
}

func snapshotResponse(resources map[resource.Family][]resource.Resource, failed map[resource.Family]string) map[string]any {
	count := 0
	for _, rs := range resources {
		count += len(rs)
	}
	return map[string]any{
		"resources": resources,
		"failed":    failed,
		"count":     count,
	}
}

// ExecuteAction handles POST /api/v1/actions
func (h *Handler) ExecuteAction(w http.ResponseWriter, r *http.Request) {
	var req ActionRequest
	if !decode(w, r, &req) {
		return
	}
	key, err := resource.ParseKey(req.Target)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	cmd, err := h.console.ExecuteAction(r.Context(), key, req.Action)
	if err != nil {
		respondJSON(w, statusFor(err), ActionResponse{Command: cmd, Error: err.Error()})
		return
	}
	respondJSON(w, http.StatusOK, ActionResponse{Command: cmd})
}

// ExecuteBatch handles POST /api/v1/actions/batch. Per-item failures are in
// the body; the status is 200 whenever the request itself was valid.
func (h *Handler) ExecuteBatch(w http.ResponseWriter, r *http.Request) {
	var req BatchRequest
	if !decode(w, r, &req) {
		return
	}
	keys := make([]resource.Key, 0, len(req.Targets))
	for _, t := range req.Targets {
		key, err := resource.ParseKey(t)
		if err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		keys = append(keys, key)
	}

	respondJSON(w, http.StatusOK, h.console.ExecuteBatchKeys(r.Context(), keys, req.Action))
}

// GetMetrics handles GET /api/v1/metrics/{key...}
func (h *Handler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	key, err := resource.ParseKey(strings.Trim(chi.URLParam(r, "*"), "/"))
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.console.ResolveResource(r.Context(), key)
	if err != nil {
		respondError(w, statusFor(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"resource": res,
		"metrics":  h.console.GetResourceMetrics(r.Context(), res),
	})
}

// GetHealth handles GET /api/v1/health
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.console.GetSystemHealth(r.Context()))
}

// ListHistory handles GET /api/v1/history
func (h *Handler) ListHistory(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.console.GetCommandHistory())
}

// GetCommand handles GET /api/v1/history/{id}
func (h *Handler) GetCommand(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	cmd, ok := h.console.GetCommand(id)
	if !ok {
		respondError(w, http.StatusNotFound, fmt.Sprintf("command %s not found", id))
		return
	}
	respondJSON(w, http.StatusOK, cmd)
}

// GetCosts handles GET /api/v1/costs
func (h *Handler) GetCosts(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.console.GetCostAnalysis(r.Context()))
}

// ListTasks handles GET /api/v1/tasks
func (h *Handler) ListTasks(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.console.PendingTasks())
}

// CancelTask handles DELETE /api/v1/tasks/{id}
func (h *Handler) CancelTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !h.console.CancelTask(id) {
		respondError(w, http.StatusNotFound, fmt.Sprintf("task %s not pending", id))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DiscoveryStatus handles GET /api/v1/discovery
func (h *Handler) DiscoveryStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.console.AutoDiscovery())
}

// StartDiscovery handles POST /api/v1/discovery/start
func (h *Handler) StartDiscovery(w http.ResponseWriter, r *http.Request) {
	started := h.console.StartAutoDiscovery(h.baseCtx)
	respondJSON(w, http.StatusOK, map[string]any{"started": started, "status": h.console.AutoDiscovery()})
}

// StopDiscovery handles POST /api/v1/discovery/stop
func (h *Handler) StopDiscovery(w http.ResponseWriter, r *http.Request) {
	h.console.StopAutoDiscovery()
	respondJSON(w, http.StatusOK, h.console.AutoDiscovery())
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, resource.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, resource.ErrValidation),
		errors.Is(err, resource.ErrUnsupportedAction),
		errors.Is(err, resource.ErrUnsupportedFamily):
		return http.StatusUnprocessableEntity
	case resource.IsProviderError(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// decode reads and validates a JSON body, responding 400 on failure.
func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	if err := validate.Struct(dst); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request: "+err.Error())
		return false
	}
	return true
}

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Warn().Err(err).Msg("encode response")
	}
}

// respondError sends an error response
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]any{
		"success": false,
		"error":   message,
	})
}
