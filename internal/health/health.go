// Package health exposes the voxbridge daemon's liveness and readiness
// endpoints on the metrics listener.
//
//   - /healthz — liveness; a process that can serve HTTP is alive.
//   - /readyz  — readiness; passes only when the daemon's dependencies
//     (the settings document store, the local hand-off store) answer.
//
// Responses are JSON objects with a top-level "status" field ("ok" or
// "fail") and a "checks" map with one entry per named check.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/dhkwon/voxbridge/pkg/storage"
)

// checkTimeout bounds a single readiness check.
const checkTimeout = 5 * time.Second

const (
	statusOK   = "ok"
	statusFail = "fail"
)

// Checker is a named readiness check. Check returns nil when the
// dependency is usable and an error describing the failure otherwise.
type Checker struct {
	// Name labels the check in the JSON response, e.g. "storage" or
	// "settings".
	Name string

	// Check probes the dependency. It must respect context cancellation.
	Check func(ctx context.Context) error
}

// StoreChecker probes a persistent store by reading the settings document
// key. A missing key is healthy; only a store that cannot answer fails.
func StoreChecker(name string, s storage.Store) Checker {
	return Checker{
		Name: name,
		Check: func(ctx context.Context) error {
			_, err := s.Get(ctx, storage.KeyUserSettings)
			if errors.Is(err, storage.ErrNotFound) {
				return nil
			}
			return err
		},
	}
}

// response is the JSON body served by both endpoints.
type response struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves the /healthz and /readyz routes. Safe for concurrent
// use; the checker list is fixed at construction time.
type Handler struct {
	checkers []Checker
}

// New creates a [Handler] that evaluates the given checkers, in order, on
// each /readyz request.
func New(checkers ...Checker) *Handler {
	c := make([]Checker, len(checkers))
	copy(c, checkers)
	return &Handler{checkers: c}
}

// Healthz always answers 200 OK.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, response{Status: statusOK})
}

// Readyz answers 200 only when every registered [Checker] passes. Each
// check runs under a [checkTimeout] deadline derived from the request
// context, so a wedged store cannot hold the endpoint open.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	res := response{
		Status: statusOK,
		Checks: make(map[string]string, len(h.checkers)),
	}

	for _, c := range h.checkers {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		err := c.Check(ctx)
		cancel()

		if err != nil {
			res.Checks[c.Name] = statusFail + ": " + err.Error()
			res.Status = statusFail
		} else {
			res.Checks[c.Name] = statusOK
		}
	}

	code := http.StatusOK
	if res.Status != statusOK {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, res)
}

// Register adds the /healthz and /readyz routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

// writeJSON encodes v with the given status code, falling back to a bare
// 500 when encoding fails.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
