package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"rotaproxy/internal/proxypool"
	"rotaproxy/internal/shared/logger"
	"rotaproxy/internal/shared/types"
	"rotaproxy/internal/stats"
)

// StatusReport is the snapshot served to the external dashboard. The
// dashboard has read access only; nothing here mutates the core.
type StatusReport struct {
	Stats stats.Snapshot     `json:"stats"`
	Pool  proxypool.Snapshot `json:"pool"`
}

// Handler serves the read-only status API.
type Handler struct {
	collector *stats.Collector
	pool      *proxypool.Pool
}

// NewHandler creates a status handler over the core's counters and pool.
func NewHandler(collector *stats.Collector, pool *proxypool.Pool) *Handler {
	return &Handler{collector: collector, pool: pool}
}

// Report builds a point-in-time status snapshot.
func (h *Handler) Report() StatusReport {
	return StatusReport{
		Stats: h.collector.Snapshot(),
		Pool:  h.pool.Snapshot(),
	}
}

// HandleStatus serves GET /api/status.
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(h.Report()); err != nil {
		l := logger.WithComponent("WebServer")
		l.Warn().Err(err).Msg("Failed to encode status report.")
	}
}

// basicAuthMiddleware enforces HTTP Basic Authentication when credentials
// are configured; otherwise it passes requests through untouched.
func basicAuthMiddleware(next http.Handler, user, pass string) http.Handler {
	if user == "" || pass == "" {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || u != user || p != pass {
			w.Header().Set("WWW-Authenticate", `Basic realm="Restricted"`)
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte("Unauthorized.\n"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// StartServer launches the status server when web_port is configured and
// returns it so the caller can shut it down. It is an external collaborator's
// surface; the core keeps running without it.
func StartServer(wg *sync.WaitGroup, cfg *types.Config, handler *Handler, hub *Hub) *http.Server {
	l := logger.WithComponent("WebServer")
	if cfg.WebConf.WebPort <= 0 {
		l.Info().Msg("Status endpoint is disabled (web_port is 0 or not set).")
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/api/status", basicAuthMiddleware(http.HandlerFunc(handler.HandleStatus), cfg.WebConf.WebUser, cfg.WebConf.WebPassword))
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		ServeWs(hub, w, r)
	})

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.WebConf.WebPort),
		Handler: mux,
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		l.Info().Str("addr", server.Addr).Msg("Status server listening.")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			l.Error().Err(err).Msg("Status server stopped.")
		}
	}()
	return server
}
