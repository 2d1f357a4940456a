// Package server exposes Solenne over HTTP: health and metrics endpoints,
// session introspection, and the WebSocket audio endpoint clients connect to.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/solenne-ai/solenne/internal/app"
	"github.com/solenne-ai/solenne/internal/bridge"
	"github.com/solenne-ai/solenne/internal/config"
	"github.com/solenne-ai/solenne/internal/health"
	"github.com/solenne-ai/solenne/internal/observe"
)

// shutdownGrace bounds how long Shutdown waits for the HTTP listener to
// drain before forcing it closed.
const shutdownGrace = 15 * time.Second

// Server hosts the Solenne HTTP surface. Each accepted WebSocket connection
// becomes one [app.Session] tracked in the registry for the lifetime of the
// connection.
type Server struct {
	cfg       *config.Config
	providers *app.Providers
	registry  *app.Registry
	metrics   *observe.Metrics

	httpSrv *http.Server
}

// Config holds the dependencies for [New].
type Config struct {
	Config    *config.Config
	Providers *app.Providers

	// Registry receives every accepted session. Required.
	Registry *app.Registry

	// Metrics observes sessions and HTTP requests. Nil disables recording.
	Metrics *observe.Metrics
}

// New builds the server and its route table.
func New(cfg Config) (*Server, error) {
	if cfg.Config == nil {
		return nil, errors.New("server: config is required")
	}
	if cfg.Registry == nil {
		return nil, errors.New("server: registry is required")
	}
	if cfg.Providers == nil {
		return nil, errors.New("server: providers are required")
	}

	s := &Server{
		cfg:       cfg.Config,
		providers: cfg.Providers,
		registry:  cfg.Registry,
		metrics:   cfg.Metrics,
	}

	mux := http.NewServeMux()

	checks := health.New(health.Checker{
		Name:  "providers",
		Check: s.checkProviders,
	})
	checks.Register(mux)

	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /sessions", s.handleListSessions)
	mux.HandleFunc("DELETE /sessions/{id}", s.handleEndSession)
	mux.HandleFunc("GET /ws/audio", s.handleAudioSocket)

	var handler http.Handler = mux
	if cfg.Metrics != nil {
		handler = observe.Middleware(cfg.Metrics)(mux)
	}

	s.httpSrv = &http.Server{
		Addr:              cfg.Config.Server.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// Handler returns the server's route table. Useful for tests.
func (s *Server) Handler() http.Handler {
	return s.httpSrv.Handler
}

// ListenAndServe runs the HTTP listener until Shutdown is called. It returns
// nil on clean shutdown.
func (s *Server) ListenAndServe() error {
	slog.Info("server listening", "addr", s.httpSrv.Addr, "tls", s.cfg.Server.TLS != nil)
	var err error
	if tls := s.cfg.Server.TLS; tls != nil {
		err = s.httpSrv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
	} else {
		err = s.httpSrv.ListenAndServe()
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains live sessions and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("server shutting down", "sessions", s.registry.Len())
	s.registry.DrainAll()

	ctx, cancel := context.WithTimeout(ctx, shutdownGrace)
	defer cancel()
	return s.httpSrv.Shutdown(ctx)
}

// checkProviders reports readiness: all three provider slots must be wired.
func (s *Server) checkProviders(context.Context) error {
	if s.providers.STT == nil || s.providers.LLM == nil || s.providers.TTS == nil {
		return errors.New("provider set incomplete")
	}
	return nil
}

// handleListSessions serves GET /sessions.
func (s *Server) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	infos := s.registry.List()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(struct {
		Sessions []app.SessionInfo `json:"sessions"`
	}{Sessions: infos})
}

// handleEndSession serves DELETE /sessions/{id}. Cancelling is asynchronous:
// the WebSocket handler removes the session from the registry once its run
// loop returns.
func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sess := s.registry.Get(id)
	if sess == nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	sess.Cancel()
	w.WriteHeader(http.StatusNoContent)
}

// handleAudioSocket serves GET /ws/audio. The connection is upgraded to a
// WebSocket and driven as a full voice session until the client disconnects.
// Optional query parameters: session_id lets the client pick its own id,
// face_id selects the avatar face for this session.
func (s *Server) handleAudioSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Warn("server: websocket accept failed", "err", err)
		return
	}

	transport := bridge.NewWebSocketTransport(conn)

	scfg := app.SessionConfig{
		Config:    s.cfg,
		Providers: s.providers,
		Transport: transport,
		SessionID: r.URL.Query().Get("session_id"),
		FaceID:    r.URL.Query().Get("face_id"),
	}
	if s.metrics != nil {
		scfg.Stats = s.metrics
		scfg.OnAvatarFallback = func() {
			s.metrics.RecordAvatarFallback(r.Context())
		}
		scfg.OnCrisis = func(_ string, keywords []string) {
			s.metrics.RecordCrisisEscalation(r.Context(), len(keywords))
		}
	}

	sess, err := app.NewSession(scfg)
	if err != nil {
		slog.Error("server: session setup failed", "err", err)
		_ = conn.Close(websocket.StatusInternalError, "session setup failed")
		return
	}

	s.registry.Add(sess)
	if s.metrics != nil {
		s.metrics.SessionStarted(r.Context())
	}
	defer func() {
		s.registry.Remove(sess.ID())
		if s.metrics != nil {
			s.metrics.SessionEnded(context.Background())
		}
		_ = transport.Close()
	}()

	if err := sess.Run(r.Context()); err != nil {
		slog.Warn("server: session ended with error", "session_id", sess.ID(), "err", err)
	}
}
