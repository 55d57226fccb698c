// Package httpapi implements the Trigger API (C10): a narrow HTTP surface
// over the Execution Supervisor -- start, status, logs, stop, pause,
// resume -- one request-reply per operation (spec §4.10).
package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/flowforge/pipelinectl/internal/callback"
	"github.com/flowforge/pipelinectl/internal/engine"
	"github.com/flowforge/pipelinectl/internal/ports"
)

// Server wires the Trigger API's HTTP routes to a Supervisor and Store.
type Server struct {
	supervisor *engine.Supervisor
	store      ports.Store
	router     chi.Router
}

// NewServer builds the chi router for the Trigger API. accessLog may be the
// zero value (zerolog.Logger{}) to silence request logging. callbackSecret
// configures the orchestrator callback channel (empty disables auth, for
// local/dev use only).
func NewServer(supervisor *engine.Supervisor, store ports.Store, accessLog zerolog.Logger, callbackSecret string) *Server {
	s := &Server{supervisor: supervisor, store: store}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(AccessLog(accessLog))
	r.Use(cors.Handler(cors.Options{
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Content-Type", "X-Callback-Secret"},
	}))

	r.Route("/executions", func(r chi.Router) {
		r.Post("/", s.handleStart)
		r.Get("/{executionID}", s.handleStatus)
		r.Get("/{executionID}/logs", s.handleLogs)
		r.Post("/{executionID}/stop", s.handleStop)
		r.Post("/{executionID}/pause", s.handlePause)
		r.Post("/{executionID}/resume", s.handleResume)
	})

	callback.NewHandler(store, callbackSecret).Mount(r, "/callbacks")

	s.router = r
	return s
}

// ServeHTTP satisfies http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

const requestTimeout = 10 * time.Second
