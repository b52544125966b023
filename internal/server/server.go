package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/abramin/dynlink/internal/store"
)

// Server serves the dumped dispatch data over HTTP.
type Server struct {
	store      *store.Store
	httpServer *http.Server
	port       int
	logger     *slog.Logger
}

// Config holds server configuration.
type Config struct {
	Port     int
	StoreDir string
	Logger   *slog.Logger
}

// New opens the store under cfg.StoreDir and creates a server for it.
func New(cfg Config) (*Server, error) {
	st, err := store.Open(cfg.StoreDir)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	return NewWithStore(st, cfg), nil
}

// NewWithStore creates a server over an already open store. The server
// closes the store on shutdown.
func NewWithStore(st *store.Store, cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	s := &Server{
		store:  st,
		port:   cfg.Port,
		logger: logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/health", s.corsMiddleware(s.handleHealth))
	mux.HandleFunc("/api/stats", s.corsMiddleware(s.handleStats))
	mux.HandleFunc("/api/types", s.corsMiddleware(s.handleTypes))
	mux.HandleFunc("/api/types/", s.corsMiddleware(s.handleTypeByName))
	mux.HandleFunc("/api/implementations", s.corsMiddleware(s.handleImplementations))
	mux.HandleFunc("/api/resolutions", s.corsMiddleware(s.handleResolutions))
	mux.HandleFunc("/", s.handleStatic)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler returns the server's routes.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start serves until SIGINT or SIGTERM.
func (s *Server) Start() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return s.Run(ctx)
}

// Run serves until ctx is done, then shuts down gracefully and closes the
// store.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "url", fmt.Sprintf("http://localhost:%d", s.port))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			s.store.Close()
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
	}
	s.logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}
	if err := s.store.Close(); err != nil {
		return fmt.Errorf("closing store: %w", err)
	}

	s.logger.Info("server stopped")
	return nil
}

// Port returns the configured port.
func (s *Server) Port() int {
	return s.port
}

// corsMiddleware adds CORS headers for local development.
func (s *Server) corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next(w, r)
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("encoding JSON failed", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

func (s *Server) allowGet(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return false
	}
	return true
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !s.allowGet(w, r) {
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if !s.allowGet(w, r) {
		return
	}
	stats, err := s.store.GetStats()
	if err != nil {
		s.logger.Error("stats query failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get stats")
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

// handleTypes handles GET /api/types?kind=class|interface
func (s *Server) handleTypes(w http.ResponseWriter, r *http.Request) {
	if !s.allowGet(w, r) {
		return
	}
	types, err := s.store.ListTypes()
	if err != nil {
		s.logger.Error("types query failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get types")
		return
	}
	if kind := r.URL.Query().Get("kind"); kind != "" {
		filtered := types[:0]
		for _, t := range types {
			if t.Kind == kind {
				filtered = append(filtered, t)
			}
		}
		types = filtered
	}
	if types == nil {
		types = []store.TypeRecord{}
	}
	s.writeJSON(w, http.StatusOK, types)
}

// handleTypeByName handles GET /api/types/:name
func (s *Server) handleTypeByName(w http.ResponseWriter, r *http.Request) {
	if !s.allowGet(w, r) {
		return
	}
	name := strings.TrimPrefix(r.URL.Path, "/api/types/")
	if name == "" {
		s.writeError(w, http.StatusBadRequest, "type name required")
		return
	}

	types, err := s.store.ListTypes()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to get types")
		return
	}
	var found *store.TypeRecord
	for i := range types {
		if types[i].Name == name {
			found = &types[i]
			break
		}
	}
	if found == nil {
		s.writeError(w, http.StatusNotFound, "type not found")
		return
	}

	methods, err := s.store.ListMethods(name)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to get methods")
		return
	}
	if methods == nil {
		methods = []store.MethodRecord{}
	}

	response := struct {
		*store.TypeRecord
		Methods []store.MethodRecord `json:"methods"`
	}{
		TypeRecord: found,
		Methods:    methods,
	}
	s.writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleImplementations(w http.ResponseWriter, r *http.Request) {
	if !s.allowGet(w, r) {
		return
	}
	impls, err := s.store.ListImplementations()
	if err != nil {
		s.logger.Error("implementations query failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get implementations")
		return
	}
	if iface := r.URL.Query().Get("interface"); iface != "" {
		filtered := impls[:0]
		for _, impl := range impls {
			if impl.Interface == iface {
				filtered = append(filtered, impl)
			}
		}
		impls = filtered
	}
	if impls == nil {
		impls = []store.Implementation{}
	}
	s.writeJSON(w, http.StatusOK, impls)
}

// handleResolutions handles GET /api/resolutions?site=&outcome=&limit=
func (s *Server) handleResolutions(w http.ResponseWriter, r *http.Request) {
	if !s.allowGet(w, r) {
		return
	}
	q := r.URL.Query()
	filter := store.ResolutionFilter{
		SiteID: q.Get("site"),
		Limit:  100,
	}
	switch outcome := store.Outcome(q.Get("outcome")); outcome {
	case "", store.OutcomeResolved, store.OutcomeFailed:
		filter.Outcome = outcome
	default:
		s.writeError(w, http.StatusBadRequest, "outcome must be resolved or failed")
		return
	}
	if limitStr := q.Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit <= 0 {
			s.writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		filter.Limit = limit
	}

	resolutions, err := s.store.ListResolutions(filter)
	if err != nil {
		s.logger.Error("resolutions query failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get resolutions")
		return
	}
	if resolutions == nil {
		resolutions = []store.Resolution{}
	}
	s.writeJSON(w, http.StatusOK, resolutions)
}

// handleStatic serves a placeholder page listing the API.
func (s *Server) handleStatic(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	base := "http://localhost:" + strconv.Itoa(s.port)
	html := `<!DOCTYPE html>
<html>
<head>
    <title>dynlink</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif;
               max-width: 800px; margin: 50px auto; padding: 20px; }
        .api-list { background: #f5f5f5; padding: 20px; border-radius: 8px; }
        .api-list a { display: block; margin: 10px 0; color: #0066cc; }
        pre { background: #f0f0f0; padding: 10px; border-radius: 4px; overflow-x: auto; }
    </style>
</head>
<body>
    <h1>dynlink dump inspector</h1>
    <div class="api-list">
        <a href="/api/stats">GET /api/stats</a>
        <a href="/api/types">GET /api/types</a>
        <a href="/api/implementations">GET /api/implementations</a>
        <a href="/api/resolutions?outcome=failed">GET /api/resolutions?outcome=failed</a>
        <a href="/api/health">GET /api/health</a>
    </div>
    <pre>
curl ` + base + `/api/types?kind=interface
curl ` + base + `/api/resolutions?site=SITE_ID&amp;limit=20
    </pre>
</body>
</html>`
	w.Header().Set("Content-Type", "text/html")
	w.Write([]byte(html))
}
