package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/eugenenazirov/endpoint-selector/internal/endpoint"
	"github.com/eugenenazirov/endpoint-selector/internal/selector"
)

type contextKey string

const requestIDContextKey contextKey = "requestID"

// EndpointSelector is the selection state the handlers read and mutate.
type EndpointSelector interface {
	EndpointName() endpoint.Name
	Endpoints() []endpoint.Descriptor
	SetEndpointName(name endpoint.Name) error
	URLs() selector.URLSet
}

// Handler wires the endpoint selector into HTTP handlers.
type Handler struct {
	selector EndpointSelector

	clock func() time.Time

	mu        sync.RWMutex
	updatedAt time.Time
}

// HandlerOption configures Handler behaviour.
type HandlerOption func(*Handler)

// WithClock overrides the time source, primarily for tests.
func WithClock(clock func() time.Time) HandlerOption {
	return func(h *Handler) {
		h.clock = clock
	}
}

// NewHandler constructs a Handler with the provided dependencies.
func NewHandler(sel EndpointSelector, opts ...HandlerOption) *Handler {
	h := &Handler{
		selector: sel,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	h.updatedAt = h.clock()
	return h
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	_ = r
	resp := healthResponse{
		Status:    "ok",
		Timestamp: h.clock(),
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleListEndpoints(w http.ResponseWriter, r *http.Request) {
	_ = r
	resp := endpointsResponse{
		Current:   h.selector.EndpointName(),
		Endpoints: h.selector.Endpoints(),
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleGetEndpoint(w http.ResponseWriter, r *http.Request) {
	_ = r
	resp := endpointResponse{
		URLSet:    h.selector.URLs(),
		UpdatedAt: h.currentUpdatedAt(),
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handlePutEndpoint(w http.ResponseWriter, r *http.Request) {
	var req selectEndpointRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request", "unable to parse JSON payload")
		return
	}

	name := endpoint.Name(strings.TrimSpace(req.Name))
	if name == "" {
		writeError(w, http.StatusBadRequest, "Invalid request", "name must not be empty")
		return
	}

	if err := h.selector.SetEndpointName(name); err != nil {
		if errors.Is(err, endpoint.ErrUnknownEndpoint) {
			writeError(w, http.StatusBadRequest, "Unknown endpoint", err.Error(), knownNames(h.selector.Endpoints()))
			return
		}
		writeInternalError(w, err)
		return
	}

	h.markUpdated()

	resp := endpointResponse{
		URLSet:    h.selector.URLs(),
		UpdatedAt: h.currentUpdatedAt(),
		Message:   "Endpoint updated successfully",
	}
	writeJSON(w, http.StatusOK, resp)
}

func knownNames(endpoints []endpoint.Descriptor) string {
	names := make([]string, 0, len(endpoints))
	for _, e := range endpoints {
		names = append(names, string(e.Name))
	}
	return "choose one of: " + strings.Join(names, ", ")
}

func (h *Handler) currentUpdatedAt() time.Time {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.updatedAt
}

func (h *Handler) markUpdated() {
	h.mu.Lock()
	h.updatedAt = h.clock()
	h.mu.Unlock()
}

func requestIDFromContext(ctx context.Context) string {
	if v := ctx.Value(requestIDContextKey); v != nil {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}

type selectEndpointRequest struct {
	Name string `json:"name"`
}

type endpointsResponse struct {
	Current   endpoint.Name         `json:"current"`
	Endpoints []endpoint.Descriptor `json:"endpoints"`
}

type endpointResponse struct {
	selector.URLSet
	UpdatedAt time.Time `json:"updatedAt"`
	Message   string    `json:"message,omitempty"`
}

type healthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

type errorResponse struct {
	Error      string `json:"error"`
	Details    string `json:"details,omitempty"`
	Suggestion string `json:"suggestion,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if status != 0 {
		w.WriteHeader(status)
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message, details string, suggestion ...string) {
	resp := errorResponse{
		Error:   message,
		Details: details,
	}
	if len(suggestion) > 0 {
		resp.Suggestion = suggestion[0]
	}
	writeJSON(w, status, resp)
}

func writeInternalError(w http.ResponseWriter, err error) {
	writeError(w, http.StatusInternalServerError, "Internal error", err.Error())
}
