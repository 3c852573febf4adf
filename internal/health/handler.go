// AngelaMos | 2026
// handler.go

package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
)

const probeTimeout = 5 * time.Second

// Probe is a named readiness dependency. This service carries two: postgres
// (credential, refresh and one-time token stores) and redis (revocation
// records, legacy sessions, rate limits).
type Probe struct {
	Name string
	Ping func(ctx context.Context) error
}

type Handler struct {
	probes   []Probe
	ready    atomic.Bool
	shutdown atomic.Bool
}

func NewHandler(probes ...Probe) *Handler {
	h := &Handler{probes: probes}
	h.ready.Store(true)
	return h
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/healthz", h.Liveness)
	r.Get("/readyz", h.Readiness)
}

func (h *Handler) Liveness(w http.ResponseWriter, r *http.Request) {
	if h.shutdown.Load() {
		writeStatus(w, http.StatusServiceUnavailable, "shutting_down", nil)
		return
	}

	writeStatus(w, http.StatusOK, "ok", nil)
}

// Readiness pings every dependency in parallel. Token verification fails
// closed when a store is down, so a single unhealthy dependency degrades
// the whole endpoint.
func (h *Handler) Readiness(w http.ResponseWriter, r *http.Request) {
	if h.shutdown.Load() {
		writeStatus(w, http.StatusServiceUnavailable, "shutting_down", nil)
		return
	}

	if !h.ready.Load() {
		writeStatus(w, http.StatusServiceUnavailable, "not_ready", nil)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), probeTimeout)
	defer cancel()

	results := make([]ProbeResult, len(h.probes))

	var wg sync.WaitGroup
	for i, p := range h.probes {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = runProbe(ctx, p)
		}()
	}
	wg.Wait()

	status, code := "ok", http.StatusOK
	for _, res := range results {
		if !res.Healthy {
			status, code = "degraded", http.StatusServiceUnavailable
			break
		}
	}

	writeStatus(w, code, status, results)
}

func (h *Handler) SetReady(ready bool) {
	h.ready.Store(ready)
}

func (h *Handler) SetShutdown(shutdown bool) {
	h.shutdown.Store(shutdown)
}

func runProbe(ctx context.Context, p Probe) ProbeResult {
	res := ProbeResult{Name: p.Name, Healthy: true}

	if p.Ping == nil {
		res.Healthy = false
		res.Message = "probe not configured"
		return res
	}

	start := time.Now()
	err := p.Ping(ctx)
	res.Latency = time.Since(start).String()

	if err != nil {
		res.Healthy = false
		res.Message = "ping failed"
	}

	return res
}

func writeStatus(w http.ResponseWriter, code int, status string, checks []ProbeResult) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.WriteHeader(code)
	//nolint:errcheck // best-effort response
	_ = json.NewEncoder(w).Encode(StatusResponse{
		Status: status,
		Checks: checks,
	})
}

type StatusResponse struct {
	Status string        `json:"status"`
	Checks []ProbeResult `json:"checks,omitempty"`
}

type ProbeResult struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
	Latency string `json:"latency,omitempty"`
	Message string `json:"message,omitempty"`
}
