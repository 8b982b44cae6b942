package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/dgallion1/pdftrans/internal/config"
	"github.com/dgallion1/pdftrans/internal/pipeline"
	"github.com/dgallion1/pdftrans/internal/translate"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Server is the HTTP server behind the translation page.
type Server struct {
	router       chi.Router
	orchestrator *pipeline.Orchestrator
	translator   *translate.Translator
	log          *slog.Logger
	cfg          config.Config

	// Parent of every session context; cancelled on shutdown.
	baseCtx context.Context
}

// NewServer creates and configures the HTTP server.
func NewServer(ctx context.Context, orch *pipeline.Orchestrator, tr *translate.Translator, log *slog.Logger, cfg config.Config) *Server {
	s := &Server{
		orchestrator: orch,
		translator:   tr,
		log:          log,
		cfg:          cfg,
		baseCtx:      ctx,
	}
	s.setupRoutes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(s.log))

	// Public endpoints.
	r.Get("/", s.handleIndex)
	r.Get("/health", s.handleHealth)

	// Authenticated endpoints, open when no API key is configured.
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(s.cfg.APIKey, s.log))

		r.Get("/api/stats/llm", s.handleLLMStats)

		r.Post("/api/sessions", s.handleUpload)
		r.Get("/api/sessions/{id}", s.handleSession)
		r.Get("/api/sessions/{id}/stream", s.handleStream)
		r.Post("/api/sessions/{id}/retry", s.handleRetry)
		r.Delete("/api/sessions/{id}", s.handleDeleteSession)
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ollama := "ok"
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.translator.Ping(ctx); err != nil {
		s.log.Warn("ollama health check failed", "error", err)
		ollama = "unreachable"
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status": "ok",
		"ollama": ollama,
	})
}
