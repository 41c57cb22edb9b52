// Package api is the REST control plane: discovery (topology), policy
// (alerts, rules, reports), response and probe introspection, metrics, and
// the dashboard WebSocket.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shadowhunter/backend/internal/alerts"
	"github.com/shadowhunter/backend/internal/detect"
	"github.com/shadowhunter/backend/internal/graph"
	"github.com/shadowhunter/backend/internal/intel"
	"github.com/shadowhunter/backend/internal/probe"
	"github.com/shadowhunter/backend/internal/response"
	"github.com/shadowhunter/backend/internal/stream"
)

// openPaths bypass the API key check regardless of method.
var openPaths = map[string]bool{
	"/health":       true,
	"/ws":           true,
	"/docs":         true,
	"/openapi.json": true,
	"/redoc":        true,
}

// Server exposes the pipeline's state over HTTP.
type Server struct {
	addr     string
	apiKey   string
	mode     string // demo or live
	started  time.Time
	store    graph.Store
	buffer   *alerts.Buffer
	respond  *response.Manager
	prober   *probe.Interrogator
	hub      *stream.Hub
	analyzer *graph.Analyzer
	registry *detect.Registry
	cidr     *intel.CIDRMatcher
	ja3      *intel.JA3Matcher
	rules    *RuleSet

	httpServer *http.Server
}

// Options carries the server's collaborators.
type Options struct {
	Addr     string
	APIKey   string
	Mode     string
	Store    graph.Store
	Buffer   *alerts.Buffer
	Response *response.Manager
	Prober   *probe.Interrogator
	Hub      *stream.Hub
	Analyzer *graph.Analyzer
	Registry *detect.Registry
	CIDR     *intel.CIDRMatcher
	JA3      *intel.JA3Matcher
}

// NewServer builds the control plane with the default policy rules seeded.
func NewServer(opts Options) *Server {
	return &Server{
		addr:     opts.Addr,
		apiKey:   opts.APIKey,
		mode:     opts.Mode,
		started:  time.Now(),
		store:    opts.Store,
		buffer:   opts.Buffer,
		respond:  opts.Response,
		prober:   opts.Prober,
		hub:      opts.Hub,
		analyzer: opts.Analyzer,
		registry: opts.Registry,
		cidr:     opts.CIDR,
		ja3:      opts.JA3,
		rules:    NewRuleSet(),
	}
}

// Router assembles the route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.corsMiddleware, s.authMiddleware)

	r.HandleFunc("/health", s.handleHealth).Methods("GET")
	r.HandleFunc("/v1/status", s.handleStatus).Methods("GET")

	r.HandleFunc("/v1/discovery/nodes", s.handleNodes).Methods("GET")
	r.HandleFunc("/v1/discovery/edges", s.handleEdges).Methods("GET")
	r.HandleFunc("/v1/discovery/risk-scores", s.handleRiskScores).Methods("GET")
	r.HandleFunc("/v1/discovery/traffic-stats", s.handleTrafficStats).Methods("GET")
	r.HandleFunc("/v1/discovery/topology", s.handleTopology).Methods("GET")

	r.HandleFunc("/v1/policy/alerts", s.handleAlerts).Methods("GET")
	r.HandleFunc("/v1/policy/rules", s.handleListRules).Methods("GET")
	r.HandleFunc("/v1/policy/rules", s.handleCreateRule).Methods("POST")
	r.HandleFunc("/v1/policy/rules/{id}", s.handleUpdateRule).Methods("PUT")
	r.HandleFunc("/v1/policy/rules/{id}", s.handleDeleteRule).Methods("DELETE")
	r.HandleFunc("/v1/policy/rules/{id}/toggle", s.handleToggleRule).Methods("POST")
	r.HandleFunc("/v1/policy/plugins", s.handlePlugins).Methods("GET")
	r.HandleFunc("/v1/policy/killchain", s.handleKillChain).Methods("GET")
	r.HandleFunc("/v1/policy/report", s.handleReport).Methods("GET")

	r.HandleFunc("/v1/response/blocked", s.handleBlocked).Methods("GET")
	r.HandleFunc("/v1/response/stats", s.handleResponseStats).Methods("GET")
	r.HandleFunc("/v1/response/audit", s.handleAudit).Methods("GET")
	r.HandleFunc("/v1/response/unblock", s.handleUnblock).Methods("POST")

	r.HandleFunc("/v1/probe/stats", s.handleProbeStats).Methods("GET")
	r.HandleFunc("/v1/probe/recent", s.handleProbeRecent).Methods("GET")

	r.Handle("/metrics", promhttp.Handler()).Methods("GET")
	r.HandleFunc("/ws", s.hub.HandleWebSocket)

	return r
}

// Start serves until Shutdown. It blocks; run it on its own goroutine.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:         s.addr,
		Handler:      s.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	slog.Info("[API] 🚀 Control plane listening", "addr", s.addr, "mode", s.mode)
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-API-Key")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// authMiddleware guards write endpoints with a static API key. Reads and
// the open path set stay unauthenticated.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey == "" || r.Method == http.MethodGet || openPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}
		if r.Header.Get("X-API-Key") != s.apiKey {
			writeError(w, http.StatusUnauthorized, "invalid or missing API key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "ok",
		"component": "control-plane",
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"mode":            s.mode,
		"uptime_seconds":  int(time.Since(s.started).Seconds()),
		"alerts_buffered": s.buffer.Len(),
		"ws_clients":      s.hub.Clients(),
		"ai_domains":      intel.AIDomainCount(),
		"ja3_signatures":  s.ja3.TotalFingerprints(),
		"centrality_runs": s.analyzer.Runs(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
