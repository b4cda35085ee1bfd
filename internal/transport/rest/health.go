package rest

import (
	"context"
	"database/sql"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/frahmantamala/shop-orders/internal/transport"
)

type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
)

const healthCheckTimeout = 2 * time.Second

type HealthResponse struct {
	Status     HealthStatus          `json:"status"`
	CheckedAt  time.Time             `json:"checked_at"`
	Components map[string]CheckEntry `json:"components"`
}

type CheckEntry struct {
	Status     HealthStatus `json:"status"`
	Critical   bool         `json:"critical"`
	Message    string       `json:"message,omitempty"`
	CheckedAt  time.Time    `json:"checked_at"`
	DurationMs int64        `json:"duration_ms"`
}

// HealthCheck probes one dependency. A failing non critical check degrades the service
// without taking it out of rotation.
type HealthCheck struct {
	Name     string
	Critical bool
	Probe    func(ctx context.Context) error
}

type HealthHandler struct {
	*transport.BaseHandler
	checks []HealthCheck
}

func NewHealthHandler(db *sql.DB, extra ...HealthCheck) *HealthHandler {
	checks := make([]HealthCheck, 0, len(extra)+1)
	if db != nil {
		checks = append(checks, HealthCheck{Name: "postgres", Critical: true, Probe: db.PingContext})
	}
	checks = append(checks, extra...)

	return &HealthHandler{
		BaseHandler: transport.NewBaseHandler(nil),
		checks:      checks,
	}
}

// pingHandler only says the process is up
func (h *HealthHandler) pingHandler(w http.ResponseWriter, r *http.Request) {
	h.WriteJSON(w, http.StatusOK, map[string]string{"status": "OK"})
}

// healthCheckHandler runs every probe concurrently
func (h *HealthHandler) healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	entries := make([]CheckEntry, len(h.checks))
	var wg sync.WaitGroup
	for i, check := range h.checks {
		wg.Add(1)
		go func(i int, check HealthCheck) {
			defer wg.Done()
			entries[i] = runCheck(ctx, check)
		}(i, check)
	}
	wg.Wait()

	resp := HealthResponse{
		Status:     HealthHealthy,
		CheckedAt:  time.Now().UTC(),
		Components: make(map[string]CheckEntry, len(entries)),
	}
	for i, entry := range entries {
		resp.Components[h.checks[i].Name] = entry
		if entry.Status == HealthHealthy {
			continue
		}
		if entry.Critical {
			resp.Status = HealthUnhealthy
		} else if resp.Status == HealthHealthy {
			resp.Status = HealthDegraded
		}
	}

	statusCode := http.StatusOK
	if resp.Status == HealthUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}
	h.WriteJSON(w, statusCode, resp)
}

func runCheck(ctx context.Context, check HealthCheck) CheckEntry {
	start := time.Now()
	err := check.Probe(ctx)

	entry := CheckEntry{
		Status:     HealthHealthy,
		Critical:   check.Critical,
		CheckedAt:  time.Now().UTC(),
		DurationMs: time.Since(start).Milliseconds(),
	}
	if err != nil {
		entry.Status = HealthUnhealthy
		entry.Message = err.Error()
	}
	return entry
}

// CheckNames lists the registered probes in a stable order.
func (h *HealthHandler) CheckNames() []string {
	names := make([]string, 0, len(h.checks))
	for _, c := range h.checks {
		names = append(names, c.Name)
	}
	sort.Strings(names)
	return names
}
