package signal

import (
	"encoding/json"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lumen-network/lumen/internal/health"
	"github.com/lumen-network/lumen/internal/metrics"
	"github.com/lumen-network/lumen/internal/registry"
	"github.com/lumen-network/lumen/internal/store"
	"github.com/lumen-network/lumen/internal/validate"
)

// Server hosts the websocket endpoint plus the operational HTTP
// surface (/health, /stats, and optionally /metrics).
type Server struct {
	handler  *Handler
	registry *registry.Registry
	journal  *store.Journal // nil disables the events section of /stats
	checker  *health.Checker

	metricsEnabled bool
	startedAt      time.Time
	upgrader       websocket.Upgrader
}

// NewServer creates the HTTP/websocket front end. journal may be nil.
func NewServer(h *Handler, reg *registry.Registry, journal *store.Journal) *Server {
	return &Server{
		handler:   h,
		registry:  reg,
		journal:   journal,
		startedAt: time.Now(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Peers are native clients, not browsers; origin checks
			// would only reject the legitimate ones.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// EnableMetrics enables the /metrics Prometheus endpoint.
func (s *Server) EnableMetrics() { s.metricsEnabled = true }

// SetHealthChecker attaches the periodic health checker to /health.
func (s *Server) SetHealthChecker(c *health.Checker) { s.checker = c }

// Router returns the chi router with all routes mounted.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/ws", s.handleWS)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		if s.checker == nil {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
			return
		}
		status := http.StatusOK
		if !s.checker.IsHealthy() {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, map[string]any{
			"healthy": s.checker.IsHealthy(),
			"checks":  s.checker.Statuses(),
		})
	})

	r.Get("/stats", s.handleStats)

	if s.metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	return r
}

// handleWS admits, upgrades, and hands the connection to the protocol
// handler. Admission rate limiting happens before peer registration;
// refused connections get close code 1008 so clients can distinguish
// throttling from transport failure.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	remote := remoteHost(r)

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		return
	}

	if !s.handler.AdmitAddress(remote) {
		metrics.ConnectionsRejected.Inc()
		s.handler.record(store.EventRejected, "", remote)
		log.Printf("[signal] connection rate limit exceeded for %s", validate.SanitizeLog(remote))

		deadline := time.Now().Add(time.Second)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "Rate limit exceeded"),
			deadline)
		_ = conn.Close()
		return
	}

	s.handler.ServeConn(conn, remote)
}

// handleStats reports live counts and journal totals.
func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	stats := map[string]any{
		"total_peers":    s.registry.Count(),
		"helpers":        s.registry.HelperCount(),
		"clients":        s.registry.ClientCount(),
		"uptime_seconds": int64(time.Since(s.startedAt).Seconds()),
	}
	if s.journal != nil {
		counts, err := s.journal.Counts()
		if err != nil {
			log.Printf("[signal] stats counts: %v", err)
		} else {
			stats["events"] = counts
		}
	}
	writeJSON(w, http.StatusOK, stats)
}

// remoteHost strips the port from the request's remote address.
func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
