package handlers

import (
	"context"
	"net/http"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

const version = "1.0.0"

// Check represents the status of a health check.
type Check struct {
	Status  string `json:"status"`            // "pass" or "fail"
	Latency string `json:"latency,omitempty"` // e.g., "2ms"
	Message string `json:"message,omitempty"`
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status    string           `json:"status"` // "healthy" or "degraded"
	Version   string           `json:"version"`
	Region    string           `json:"region,omitempty"`
	Instance  string           `json:"instance,omitempty"`
	Checks    map[string]Check `json:"checks"`
	Timestamp string           `json:"timestamp"`
}

type pinger interface {
	Ping(ctx context.Context) error
}

// Health handles the health check endpoint. The database is required;
// Redis is checked only when configured.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	targets := map[string]pinger{"database": h.db}
	if h.redis != nil {
		targets["redis"] = h.redis
	}

	var mu sync.Mutex
	checks := make(map[string]Check, len(targets))
	g, gctx := errgroup.WithContext(ctx)
	for name, p := range targets {
		g.Go(func() error {
			start := time.Now()
			c := Check{Status: "pass"}
			if err := p.Ping(gctx); err != nil {
				c = Check{Status: "fail", Message: "connection failed"}
			} else {
				c.Latency = time.Since(start).String()
			}
			mu.Lock()
			checks[name] = c
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	status := "healthy"
	statusCode := http.StatusOK
	for _, c := range checks {
		if c.Status != "pass" {
			status = "degraded"
			statusCode = http.StatusServiceUnavailable
		}
	}

	resp := HealthResponse{
		Status:    status,
		Version:   version,
		Region:    os.Getenv("FLY_REGION"),
		Instance:  os.Getenv("FLY_ALLOC_ID"),
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	h.JSON(w, statusCode, resp)
}

// RootResponse represents the root endpoint response.
type RootResponse struct {
	Name      string            `json:"name"`
	Version   string            `json:"version"`
	Docs      string            `json:"docs"`
	Endpoints map[string]string `json:"endpoints"`
}

// Root handles the API info endpoint.
func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	h.JSON(w, http.StatusOK, RootResponse{
		Name:    "Moltter",
		Version: version,
		Docs:    h.appURL + "/skill.md",
		Endpoints: map[string]string{
			"register":      "POST /api/v1/agents/register",
			"status":        "GET /api/v1/agents/status",
			"post":          "POST /api/v1/molts",
			"timeline":      "GET /api/v1/timeline",
			"global":        "GET /api/v1/timeline/global",
			"notifications": "GET /api/v1/notifications",
			"search":        "GET /api/v1/search",
		},
	})
}
