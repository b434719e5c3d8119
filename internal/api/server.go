// Package api serves tenere's HTTP surface: health, the Telegram webhook,
// event ingest and read-only ledger queries.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/MikeSquared-Agency/tenere/internal/dispatcher"
	"github.com/MikeSquared-Agency/tenere/internal/ledger"
)

const maxBodyBytes = 1 << 20

// EventProcessor runs one chat event through the pipeline.
type EventProcessor interface {
	Process(ctx context.Context, ev dispatcher.Event) (dispatcher.Instruction, bool, error)
}

// Reporter answers ledger queries.
type Reporter interface {
	Entries(ctx context.Context, owner string, r ledger.Range) ([]ledger.Entry, error)
	Economy(ctx context.Context, owner string, r ledger.Range) (ledger.EconomyResult, error)
}

// SessionCounter reports live conversations.
type SessionCounter interface {
	Active() int
}

type Server struct {
	router    *chi.Mux
	port      int
	processor EventProcessor
	reports   Reporter
	sessions  SessionCounter
	logger    *slog.Logger
	http      *http.Server
}

func NewServer(port int, apiToken string, proc EventProcessor, reports Reporter, sessions SessionCounter, logger *slog.Logger) *Server {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	s := &Server{
		router:    router,
		port:      port,
		processor: proc,
		reports:   reports,
		sessions:  sessions,
		logger:    logger,
	}

	router.Get("/health", s.health)
	router.Post("/telegram/webhook", s.telegramWebhook)

	router.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", s.status)
		r.Group(func(r chi.Router) {
			r.Use(BearerAuthMiddleware(apiToken))
			r.Post("/events", s.postEvent)
			r.Get("/owners/{owner}/entries", s.listEntries)
			r.Get("/owners/{owner}/economy", s.economy)
		})
	})

	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.port)
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("API server starting", "addr", addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	active := 0
	if s.sessions != nil {
		active = s.sessions.Active()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"service":              "tenere",
		"active_conversations": active,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
