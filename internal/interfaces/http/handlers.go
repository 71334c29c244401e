package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/sawpanic/macrorun/internal/calc"
	"github.com/sawpanic/macrorun/internal/gateway"
	"github.com/sawpanic/macrorun/internal/indicator"
	"github.com/sawpanic/macrorun/internal/provider"
)

// ErrorResponse is the standard error envelope.
type ErrorResponse struct {
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	Code      string    `json:"code"`
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// Handlers implements every API endpoint.
type Handlers struct {
	gw      *gateway.Gateway
	engine  *calc.Engine
	logger  zerolog.Logger
	version string
	started time.Time
}

// NewHandlers creates the endpoint set.
func NewHandlers(gw *gateway.Gateway, engine *calc.Engine, logger zerolog.Logger, version string) *Handlers {
	return &Handlers{
		gw:      gw,
		engine:  engine,
		logger:  logger.With().Str("component", "api").Logger(),
		version: version,
		started: time.Now().UTC(),
	}
}

// Health reports gateway health. Unhealthy answers with 503 so load
// balancers stop routing here; degraded still serves.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	status := h.gw.HealthStatus()

	code := http.StatusOK
	if status.Status == gateway.StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}

	h.writeJSON(w, code, map[string]interface{}{
		"service": "macrorun",
		"version": h.version,
		"health":  status,
	})
}

// ListIndicators returns the registered catalog, optionally filtered by
// category or kind. With ?ids= it switches to batch resolution instead.
func (h *Handlers) ListIndicators(w http.ResponseWriter, r *http.Request) {
	if raw := r.URL.Query().Get("ids"); raw != "" {
		h.resolveBatch(w, r, raw)
		return
	}

	reg := h.gw.Registry()

	var descriptors []indicator.Descriptor
	switch {
	case r.URL.Query().Get("category") != "":
		descriptors = reg.ListByCategory(indicator.Category(r.URL.Query().Get("category")))
	case r.URL.Query().Get("kind") != "":
		descriptors = reg.ListByKind(indicator.Kind(r.URL.Query().Get("kind")))
	default:
		descriptors = reg.List()
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"indicators": descriptors,
		"count":      len(descriptors),
	})
}

// GetIndicator resolves one indicator, raw or calculated. ?refresh=true
// bypasses caches all the way down.
func (h *Handlers) GetIndicator(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	refresh := r.URL.Query().Get("refresh") == "true"

	v, err := h.engine.Resolve(r.Context(), id, calc.ResolveOptions{ForceRefresh: refresh})
	if err != nil {
		h.writeResolveError(w, r, id, err)
		return
	}
	h.writeJSON(w, http.StatusOK, v)
}

// Quotes is the batch endpoint for raw indicators: ?ids=WALCL,TGA,RRP.
// Partial failure is partial response, never all-or-nothing.
func (h *Handlers) Quotes(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("ids")
	if raw == "" {
		h.writeError(w, r, http.StatusBadRequest, "missing_ids", "ids query parameter is required")
		return
	}

	ids := splitIDs(raw)
	if len(ids) == 0 {
		h.writeError(w, r, http.StatusBadRequest, "missing_ids", "ids query parameter is empty")
		return
	}
	refresh := r.URL.Query().Get("refresh") == "true"

	results := h.gw.FetchMany(r.Context(), ids, gateway.FetchOptions{ForceRefresh: refresh})

	out := make(map[string]quoteResult, len(results))
	failed := 0
	for id, res := range results {
		if res.Err != nil {
			failed++
			out[id] = quoteResult{Error: &quoteError{
				Code:    errorCode(res.Err),
				Message: res.Err.Error(),
			}}
			continue
		}
		v := res.Value
		out[id] = quoteResult{Value: &v}
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"results": out,
		"count":   len(out),
		"failed":  failed,
	})
}

// batchResolveConcurrency bounds the fan-out for ?ids= resolution. The
// gateway's own limiters pace the upstream side; this only keeps one
// request from spawning unbounded goroutines.
const batchResolveConcurrency = 8

// resolveBatch answers /v1/indicators?ids=... by resolving every id
// through the calc engine, so calculated indicators batch the same way
// raw ones do. Partial failure is partial response.
func (h *Handlers) resolveBatch(w http.ResponseWriter, r *http.Request, raw string) {
	ids := splitIDs(raw)
	if len(ids) == 0 {
		h.writeError(w, r, http.StatusBadRequest, "missing_ids", "ids query parameter is empty")
		return
	}
	opts := calc.ResolveOptions{ForceRefresh: r.URL.Query().Get("refresh") == "true"}

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		out     = make(map[string]quoteResult, len(ids))
		failed  int
		permits = make(chan struct{}, batchResolveConcurrency)
	)
	for _, id := range lo.Uniq(ids) {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			permits <- struct{}{}
			defer func() { <-permits }()

			v, err := h.engine.Resolve(r.Context(), id, opts)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed++
				out[id] = quoteResult{Error: &quoteError{Code: errorCode(err), Message: err.Error()}}
				return
			}
			out[id] = quoteResult{Value: &v}
		}(id)
	}
	wg.Wait()

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"results": out,
		"count":   len(out),
		"failed":  failed,
	})
}

func splitIDs(raw string) []string {
	ids := make([]string, 0, 8)
	for _, id := range strings.Split(raw, ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

// Providers reports live adapter probes alongside breaker, limiter, and
// budget state.
func (h *Handlers) Providers(w http.ResponseWriter, r *http.Request) {
	probes := h.gw.ProbeProviders(r.Context())
	status := h.gw.HealthStatus()

	type providerReport struct {
		Upstream provider.Health        `json:"upstream"`
		Gateway  gateway.ProviderHealth `json:"gateway"`
	}

	out := make(map[string]providerReport, len(probes))
	for _, id := range h.gw.ProviderIDs() {
		out[id] = providerReport{
			Upstream: probes[id],
			Gateway:  status.Providers[id],
		}
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"providers": out,
		"count":     len(out),
	})
}

// NotFound handles unmatched routes.
func (h *Handlers) NotFound(w http.ResponseWriter, r *http.Request) {
	h.writeError(w, r, http.StatusNotFound, "endpoint_not_found", "the requested endpoint does not exist")
}

type quoteResult struct {
	Value *indicator.Value `json:"value,omitempty"`
	Error *quoteError      `json:"error,omitempty"`
}

type quoteError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// writeResolveError maps resolution failures onto HTTP statuses.
func (h *Handlers) writeResolveError(w http.ResponseWriter, r *http.Request, id string, err error) {
	var missing *calc.MissingDependencyError

	switch {
	case errors.Is(err, indicator.ErrUnknownIndicator):
		h.writeError(w, r, http.StatusNotFound, "indicator_not_found", "no indicator registered as "+id)
	case errors.As(err, &missing):
		h.writeError(w, r, http.StatusBadGateway, "dependency_unavailable", err.Error())
	case provider.CodeOf(err) == provider.ErrCodeExhausted:
		h.writeError(w, r, http.StatusBadGateway, "all_providers_exhausted", err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		h.writeError(w, r, http.StatusGatewayTimeout, "timeout", "resolution exceeded the request deadline")
	default:
		h.logger.Error().Err(err).Str("indicator", id).Msg("resolution failed")
		h.writeError(w, r, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

func errorCode(err error) string {
	if code := provider.CodeOf(err); code != "" {
		return code
	}
	if errors.Is(err, indicator.ErrUnknownIndicator) {
		return "UNKNOWN_INDICATOR"
	}
	if errors.Is(err, gateway.ErrNotFetchable) {
		return "NOT_FETCHABLE"
	}
	return "ERROR"
}

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error().Err(err).Msg("encoding response failed")
	}
}

func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	h.writeJSON(w, status, ErrorResponse{
		Error:     http.StatusText(status),
		Message:   message,
		Code:      code,
		RequestID: requestIDFrom(r.Context()),
		Timestamp: time.Now().UTC(),
	})
}

// observeRequest feeds the API latency histogram. Uses the route
// template so path parameters do not explode label cardinality.
func (h *Handlers) observeRequest(r *http.Request, status int, elapsed time.Duration) {
	route := "unmatched"
	if current := mux.CurrentRoute(r); current != nil {
		if tpl, err := current.GetPathTemplate(); err == nil {
			route = tpl
		}
	}
	h.gw.Metrics().ObserveRequest(route, r.Method, status, elapsed)
}
