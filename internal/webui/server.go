package webui

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/tobert/otlp-timeline/internal/storage"
	"github.com/tobert/otlp-timeline/internal/timeline"
)

//go:embed static/index.html
var staticFiles embed.FS

// Options configures the web UI server.
type Options struct {
	Minimap timeline.MinimapConfig // zero value uses timeline.DefaultMinimapConfig
	Verbose bool
}

// Server serves the embedded web UI, the trace JSON API and interactive
// timeline sessions over WebSocket.
type Server struct {
	store   *storage.TraceStore
	minimap timeline.MinimapConfig
	verbose bool
	metrics *metrics
}

// New creates a new web UI server backed by store.
func New(store *storage.TraceStore, opts Options) *Server {
	cfg := opts.Minimap
	if cfg.Width <= 0 || cfg.Height <= 0 {
		cfg = timeline.DefaultMinimapConfig()
	}
	return &Server{
		store:   store,
		minimap: cfg,
		verbose: opts.Verbose,
		metrics: newMetrics(store),
	}
}

// RegisterRoutes attaches web UI routes to an existing ServeMux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ui/", s.handleUI)
	mux.HandleFunc("GET /ui", s.handleUIRedirect)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/traces", s.handleTraces)
	mux.HandleFunc("GET /api/traces/{id}", s.handleTrace)
	mux.HandleFunc("GET /api/traces/{id}/minimap.png", s.handleMinimap)
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	mux.Handle("GET /metrics", s.metrics.handler())
}

// ListenAndServe starts a standalone HTTP server for the web UI.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// handleUIRedirect redirects /ui to /ui/ for consistent routing.
func (s *Server) handleUIRedirect(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/ui/", http.StatusMovedPermanently)
}

// handleUI serves the embedded index.html.
func (s *Server) handleUI(w http.ResponseWriter, r *http.Request) {
	data, err := staticFiles.ReadFile("static/index.html")
	if err != nil {
		http.Error(w, "UI not found", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(data)
}

// statusResponse is the JSON shape for /api/status.
type statusResponse struct {
	storage.StoreStats
	Minimap timeline.MinimapConfig `json:"minimap"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, statusResponse{StoreStats: s.store.Stats(), Minimap: s.minimap})
}

// handleTraces lists stored traces, most recently updated first.
func (s *Server) handleTraces(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.store.List())
}

// handleTrace returns a one-shot view of a trace. The query string carries
// the view state: lo, hi, collapsed, services, compact.
func (s *Server) handleTrace(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionFor(w, r)
	if !ok {
		return
	}
	defer sess.Close()
	writeJSON(w, sess.View())
}

// handleMinimap renders the trace overview with the selection overlay.
func (s *Server) handleMinimap(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionFor(w, r)
	if !ok {
		return
	}
	defer sess.Close()

	img := sess.MinimapImage()
	s.metrics.minimapRedraws.Add(float64(sess.Minimap().Redraws()))
	s.metrics.minimapPNGs.Inc()

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	if err := timeline.EncodePNG(w, img); err != nil {
		log.Printf("webui: failed to write minimap: %v", err)
	}
}

// sessionFor builds a throwaway session for the trace named in the path,
// writing an error response when that fails.
func (s *Server) sessionFor(w http.ResponseWriter, r *http.Request) (*timeline.Session, bool) {
	id := r.PathValue("id")
	t, ok := s.store.Load(id)
	if !ok {
		http.Error(w, "trace not found: "+id, http.StatusNotFound)
		return nil, false
	}

	q, err := parseViewQuery(r.URL.Query(), s.minimap)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return nil, false
	}

	sess := timeline.NewSession(timeline.SessionOptions{
		Minimap: q.Minimap,
		Compact: q.Compact,
	})
	q.apply(sess, t)
	return sess, true
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "")
	if err := enc.Encode(v); err != nil {
		log.Printf("webui: failed to write JSON: %v", err)
	}
}
