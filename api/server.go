// Package api serves health, metrics and cycle reports over HTTP and websocket.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"viewcheck/cycle"
	"viewcheck/history"
	"viewcheck/logger"
	"viewcheck/metrics"
	oidcutil "viewcheck/oidc"
)

// Pinger checks store reachability for /readyz.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HistoryLister backs /reports and seeds /reports/latest after a restart.
type HistoryLister interface {
	List(ctx context.Context, limit int) ([]history.Entry, error)
	Latest(ctx context.Context) (history.Entry, bool, error)
}

// Server is also a cycle.Sink: every delivered report becomes the latest
// report and is pushed to websocket clients.
type Server struct {
	mux      *http.ServeMux
	hub      *Hub
	pinger   Pinger
	verifier oidcutil.TokenVerifier
	history  HistoryLister

	mu     sync.RWMutex
	latest *cycle.Report
}

// NewServer wires the routes. A nil verifier leaves report routes open; a nil
// history disables /reports.
func NewServer(p Pinger, v oidcutil.TokenVerifier, h HistoryLister) *Server {
	s := &Server{mux: http.NewServeMux(), hub: NewHub(), pinger: p, verifier: v, history: h}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.HandleFunc("/readyz", s.handleReady)
	s.mux.HandleFunc("/metrics", metrics.Handler)
	s.mux.Handle("/reports/latest", s.withAuth(http.HandlerFunc(s.handleLatest)))
	s.mux.Handle("/reports", s.withAuth(http.HandlerFunc(s.handleReports)))
	s.mux.HandleFunc("/ws", s.handleWS)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func (s *Server) withAuth(next http.Handler) http.Handler {
	if s.verifier == nil {
		return next
	}
	return oidcutil.AuthMiddleware(s.verifier)(next)
}

// Deliver records rep as the latest report and broadcasts it.
func (s *Server) Deliver(_ context.Context, rep cycle.Report) error {
	s.mu.Lock()
	s.latest = &rep
	s.mu.Unlock()
	s.hub.Broadcast(rep)
	logger.Debug("report broadcast", logger.FieldKV("run_id", rep.RunID), logger.FieldKV("clients", s.hub.Len()))
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.pinger.Ping(ctx); err != nil {
		logger.Error("readiness check failed", err)
		http.Error(w, "mongo unreachable", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	rep := s.latest
	s.mu.RUnlock()
	if rep == nil && s.history != nil {
		e, ok, err := s.history.Latest(r.Context())
		if err != nil {
			logger.Error("history latest failed", err)
			http.Error(w, "fetch failed", http.StatusInternalServerError)
			return
		}
		if ok {
			rep = &e.Report
		}
	}
	if rep == nil {
		http.Error(w, "no report yet", http.StatusNotFound)
		return
	}
	writeJSON(w, rep)
}

func (s *Server) handleReports(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		http.Error(w, "history disabled", http.StatusNotFound)
		return
	}
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 {
		limit = 20
	}
	list, err := s.history.List(r.Context(), limit)
	if err != nil {
		logger.Error("history list failed", err)
		http.Error(w, "fetch failed", http.StatusInternalServerError)
		return
	}
	reports := make([]cycle.Report, 0, len(list))
	for _, e := range list {
		reports = append(reports, e.Report)
	}
	writeJSON(w, reports)
}

var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if s.verifier != nil {
		token := r.URL.Query().Get("token")
		if token == "" || s.verifier.Verify(r.Context(), token) != nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("websocket upgrade failed", err)
		return
	}
	s.hub.Add(conn)
	metrics.IncWSConnections()

	s.mu.RLock()
	latest := s.latest
	s.mu.RUnlock()
	if latest != nil {
		s.hub.mu.Lock()
		werr := conn.WriteJSON(latest)
		s.hub.mu.Unlock()
		if werr != nil {
			logger.Error("websocket write error", werr)
		}
	}

	go func() {
		defer func() { s.hub.Remove(conn); metrics.DecWSConnections() }()
		// Reports only flow outward; reading detects the close.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("encode response", err)
	}
}
