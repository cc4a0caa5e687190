// Package overlayserver exposes a single in-process overlay.Changeset
// over HTTP, GraphQL, and a WebSocket watch feed, strictly for
// inspection: every route only reads the changeset, it never calls
// Set, Modify, Clear, or any transaction boundary. The owner of the
// Changeset drives all mutation and calls NotifyCommit / NotifyRollback
// / NotifyDrain after each boundary so connected watchers see it.
package overlayserver

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mnohosten/stateoverlay/pkg/overlay"
)

// Server is the HTTP/GraphQL/WebSocket front end for a Changeset.
type Server struct {
	config    *Config
	cs        *overlay.Changeset
	router    *chi.Mux
	httpSrv   *http.Server
	startTime time.Time

	mu       sync.Mutex
	watchers map[string]chan WatchEvent
}

// New creates a Server that inspects cs.
func New(config *Config, cs *overlay.Changeset) (*Server, error) {
	if cs == nil {
		return nil, fmt.Errorf("overlayserver: changeset must not be nil")
	}

	srv := &Server{
		config:    config,
		cs:        cs,
		router:    chi.NewRouter(),
		startTime: time.Now(),
		watchers:  make(map[string]chan WatchEvent),
	}

	srv.setupMiddleware()
	srv.setupRoutes()

	if config.EnableGraphQL {
		if err := srv.setupGraphQLRoutes(); err != nil {
			return nil, fmt.Errorf("overlayserver: failed to setup GraphQL routes: %w", err)
		}
	}

	addr := fmt.Sprintf("%s:%d", config.Host, config.Port)
	srv.httpSrv = &http.Server{
		Addr:         addr,
		Handler:      srv.router,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}

	return srv, nil
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Recoverer)
	if s.config.EnableLogging {
		s.router.Use(middleware.Logger)
	}
	if s.config.EnableCORS {
		s.router.Use(s.corsMiddleware)
	}
	s.router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxRequestSize)
			next.ServeHTTP(w, r)
		})
	})
	s.router.Use(middleware.Timeout(30 * time.Second))
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := "*"
		if len(s.config.AllowedOrigins) > 0 {
			origin = s.config.AllowedOrigins[0]
		}
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) setupRoutes() {
	s.router.Get("/_health", s.handleHealth)
	s.router.Get("/depth", s.handleDepth)
	s.router.Get("/changes", s.handleChanges)
	s.router.Get("/changes/{key}", s.handleGetChange)
	s.router.Get("/next/{key}", s.handleNextChange)
	s.router.Get("/_ws/watch", s.handleWatch)
}

// Start runs the HTTP server and blocks until Shutdown stops it
// (returning nil) or a fatal server error occurs.
func (s *Server) Start() error {
	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("overlayserver: server error: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the HTTP server and disconnects every
// active watcher.
func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s.mu.Lock()
	for id, ch := range s.watchers {
		close(ch)
		delete(s.watchers, id)
	}
	s.mu.Unlock()

	return s.httpSrv.Shutdown(ctx)
}
