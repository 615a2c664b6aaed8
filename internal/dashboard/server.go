// Package dashboard exposes a read-only HTTP+WS surface over an
// orchestrator's GetStats snapshot, grounded in the teacher's
// internal/handler/ws and internal/handler/lp delivery handlers: a chi
// router plus a per-connection gorilla/websocket pump loop, repurposed
// from per-user event delivery to orchestrator/breaker observability.
package dashboard

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/digitect38/xstatenet/internal/orchestrator"
)

// StatsSource is the minimal read side the dashboard depends on — just
// Orchestrator.GetStats, so the dashboard never needs to import the
// breaker package directly; callers compose additional snapshots via
// WithBreaker.
type StatsSource interface {
	GetStats() orchestrator.Snapshot
}

// Snapshot is what GET /stats and the websocket feed emit: the
// orchestrator's own snapshot plus whatever named breaker snapshots
// the caller registered.
type Snapshot struct {
	Orchestrator orchestrator.Snapshot `json:"orchestrator"`
	Breakers     map[string]any        `json:"breakers,omitempty"`
	CapturedAt   time.Time             `json:"capturedAt"`
}

// BreakerStatsFunc returns a JSON-able snapshot for one named breaker.
type BreakerStatsFunc func() any

// Server is the read-only HTTP+WS surface (§SUPPLEMENTED FEATURES:
// "read-only observability, not a spec.md non-goal").
type Server struct {
	logger   *slog.Logger
	source   StatsSource
	breakers map[string]BreakerStatsFunc

	router *chi.Mux
	hub    *wsHub
}

// New builds a Server backed by source. Register breaker snapshots with
// WithBreaker before calling Router/ListenAndServe.
func New(logger *slog.Logger, source StatsSource) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		logger:   logger,
		source:   source,
		breakers: make(map[string]BreakerStatsFunc),
		hub:      newWSHub(),
	}
	s.router = s.newRouter()
	return s
}

// WithBreaker registers a named breaker's stats function, included
// under Snapshot.Breakers[name].
func (s *Server) WithBreaker(name string, fn BreakerStatsFunc) *Server {
	s.breakers[name] = fn
	return s
}

func (s *Server) newRouter() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/stats", s.handleStats)
	r.Get("/ws", s.handleWS)
	return r
}

// Router returns the chi.Mux so callers can mount it under their own
// http.Server (or ListenAndServe it directly via Serve).
func (s *Server) Router() http.Handler { return s.router }

// Serve runs an http.Server on addr and returns only when it fails;
// there is no way to stop it from here.
func (s *Server) Serve(addr string) error {
	return http.ListenAndServe(addr, s.router)
}

func (s *Server) snapshot() Snapshot {
	snap := Snapshot{
		Orchestrator: s.source.GetStats(),
		CapturedAt:   time.Now(),
	}
	if len(s.breakers) > 0 {
		snap.Breakers = make(map[string]any, len(s.breakers))
		for name, fn := range s.breakers {
			snap.Breakers[name] = fn()
		}
	}
	return snap
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.snapshot()); err != nil {
		s.logger.Error("failed to encode stats snapshot", "error", err)
	}
}

// Broadcast pushes the current snapshot to every connected websocket
// observer. Callers drive this on a ticker (see Module in module.go); the
// server itself has no polling loop of its own.
func (s *Server) Broadcast() {
	s.hub.broadcast(s.snapshot())
}
