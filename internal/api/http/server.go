package apihttp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"storesearch/searchclient/internal/domain"
	"storesearch/searchclient/internal/search"
)

const (
	maxQueryLength   = 500
	defaultRateRPS   = 50
	defaultRateBurst = 100
)

type Server struct {
	catalog   search.Catalog
	assets    search.AssetFetcher
	health    *search.Health
	searchCfg search.Config
	logger    *slog.Logger
	rateRPS   float64
	rateBurst int
	limiters  *clientLimiters
	checkURL  func(context.Context, *url.URL) error
	sessions  *sessionHub
}

type ServerOption func(*Server)

func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithAssets enables the /search/image artwork proxy.
func WithAssets(assets search.AssetFetcher) ServerOption {
	return func(s *Server) {
		s.assets = assets
	}
}

func WithHealth(health *search.Health) ServerOption {
	return func(s *Server) {
		s.health = health
	}
}

// WithSearchConfig sets the orchestrator configuration used by stream and
// WebSocket sessions.
func WithSearchConfig(cfg search.Config) ServerOption {
	return func(s *Server) {
		s.searchCfg = cfg
	}
}

func WithRateLimit(rps float64, burst int) ServerOption {
	return func(s *Server) {
		s.rateRPS = rps
		s.rateBurst = burst
	}
}

func NewServer(catalog search.Catalog, options ...ServerOption) *Server {
	server := &Server{
		catalog:   catalog,
		logger:    slog.Default(),
		rateRPS:   defaultRateRPS,
		rateBurst: defaultRateBurst,
		checkURL:  validateProxyURL,
	}
	for _, option := range options {
		if option != nil {
			option(server)
		}
	}
	if server.logger == nil {
		server.logger = slog.Default()
	}
	if server.rateRPS <= 0 || server.rateBurst <= 0 {
		server.rateRPS, server.rateBurst = defaultRateRPS, defaultRateBurst
	}
	server.limiters = newClientLimiters(server.rateRPS, server.rateBurst)
	server.sessions = newSessionHub(server.logger)
	go server.sessions.run()
	return server
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/search/scopes", s.handleScopes)
	mux.HandleFunc("/search/scopes/health", s.handleScopesHealth)
	mux.HandleFunc("/search/stream", s.handleSearchStream)
	mux.HandleFunc("/search/ws", s.handleSearchSocket)
	mux.HandleFunc("/search/image", s.handleImageProxy)
	traced := otelhttp.NewHandler(observe(s.logger, mux), "storesearch",
		otelhttp.WithFilter(func(r *http.Request) bool {
			p := r.URL.Path
			return p != "/metrics" && p != "/health"
		}),
	)
	return recoveryMiddleware(s.logger, withRequestInfo(rateLimitMiddleware(s.logger, s.limiters, traced)))
}

// Close disconnects every WebSocket session.
func (s *Server) Close() {
	s.sessions.Close()
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC(),
		"sessions":  s.sessions.count(),
	})
}

func (s *Server) handleScopes(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/search/scopes" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	scopes := domain.Scopes()
	items := make([]domain.ScopeInfo, 0, len(scopes))
	for _, scope := range scopes {
		items = append(items, scope.Info())
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) handleScopesHealth(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/search/scopes/health" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	items := []search.ScopeDiagnostics{}
	if s.health != nil {
		items = s.health.Diagnostics()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"checkedAt": time.Now().UTC(),
		"items":     items,
	})
}

func (s *Server) handleSearchStream(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/search/stream" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.catalog == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "search catalog is not configured")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "internal_error", "streaming is not supported")
		return
	}

	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "query is required")
		return
	}
	if len(query) > maxQueryLength {
		writeError(w, http.StatusBadRequest, "invalid_request", "query too long (max 500 characters)")
		return
	}
	scope, ok := domain.ParseScope(r.URL.Query().Get("scope"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_request", "unknown scope")
		return
	}

	annotate(r.Context(), slog.String("scope", scope.Title()), slog.Int("termBytes", len(query)))

	cfg := s.searchCfg
	cfg.Debounce = 0
	orchestrator := search.NewOrchestrator(s.catalog, cfg,
		search.WithLogger(s.logger),
		search.WithHealth(s.health),
	)
	defer orchestrator.Close()

	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	if err := writeSSEEvent(w, flusher, "bootstrap", map[string]any{
		"phase":  "bootstrap",
		"final":  false,
		"query":  query,
		"scope":  scope,
		"status": "started",
	}); err != nil {
		return // Client disconnected
	}

	orchestrator.Submit(query, scope)
	snapshots := orchestrator.Snapshots()
	for {
		select {
		case <-r.Context().Done():
			return // Client disconnected
		case snapshot, ok := <-snapshots:
			if !ok {
				return
			}
			if err := writeSSEEvent(w, flusher, "update", snapshot); err != nil {
				return // Client disconnected
			}
			if !snapshot.Final {
				continue
			}
			annotate(r.Context(),
				slog.Uint64("generation", snapshot.Generation),
				slog.Int("items", snapshot.ItemCount()),
			)
			s.logStreamCompleted(snapshot)
			_ = writeSSEEvent(w, flusher, "done", map[string]any{"final": true, "generation": snapshot.Generation})
			return
		}
	}
}

func (s *Server) logStreamCompleted(snapshot domain.Snapshot) {
	failed := make([]string, 0, len(snapshot.Scopes))
	for _, status := range snapshot.Scopes {
		if !status.OK && !status.Cancelled {
			failed = append(failed, status.Scope.Title())
		}
	}
	s.logger.Info("search stream completed",
		slog.String("query", search.Abbreviate(snapshot.Term, 80)),
		slog.String("scope", snapshot.Scope.Title()),
		slog.Int("totalItems", snapshot.ItemCount()),
		slog.Int("failedScopes", len(failed)),
	)
	if len(failed) > 0 {
		s.logger.Warn("search scopes partially failed",
			slog.String("query", search.Abbreviate(snapshot.Term, 80)),
			slog.Any("failedScopes", failed),
		)
	}
}

func parsePositiveInt(r *http.Request, key string, fallback int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback, nil
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed <= 0 {
		return 0, errors.New("invalid value")
	}
	return parsed, nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	})
}

func writeSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if event != "" {
		if _, err := fmt.Fprintf(w, "event: %s\n", event); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
