package web

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"endless-chat/internal/usecase"
)

// Server exposes one chat session over HTTP.
type Server struct {
	uc       usecase.ChatUseCase
	hub      *Hub
	gatherer prometheus.Gatherer
	log      *zerolog.Logger
	srv      *http.Server
}

// NewServer builds the router. gatherer nil means the default registry.
func NewServer(uc usecase.ChatUseCase, hub *Hub, gatherer prometheus.Gatherer, logger *zerolog.Logger) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &Server{uc: uc, hub: hub, gatherer: gatherer, log: logger}
}

// Handler returns the routed handler with the middleware chain applied.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(Recover(s.log), TraceID(), RequestLog(s.log))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	r.Route("/v1", func(r chi.Router) {
		r.Get("/events", s.handleEvents)

		r.Group(func(r chi.Router) {
			r.Use(Timeout(10 * time.Second))
			r.Get("/state", s.handleState)
			r.Put("/system-role", s.handleSystemRole)
			r.Put("/input", s.handleInput)
			r.Post("/submit", s.handleSubmit)
			r.Post("/retry", s.handleRetry)
			r.Post("/stop", s.handleStop)
			r.Post("/clear", s.handleClear)
			r.Put("/background", s.handleBackground)
			r.Put("/suggestions", s.handleSuggestions)
		})
	})
	return r
}

// ListenAndServe blocks until the server stops. A graceful Shutdown is
// not reported as an error.
func (s *Server) ListenAndServe(addr string) error {
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.log.Info().Str("addr", addr).Msg("http server listening")
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown closes event streams first so the drain does not wait on them.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Close()
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}
