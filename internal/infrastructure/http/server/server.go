package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"facturacl/ms_facturacion_marketplace/internal/infrastructure/config"
	"facturacl/ms_facturacion_marketplace/internal/infrastructure/http/middleware"
)

// Server wires the HTTP surface: health, batch processing, the sales
// dashboard listing and the internal sync trigger.
type Server struct {
	log             *slog.Logger
	httpServer      *http.Server
	auth            *middleware.JWTAuthenticator
	shutdownTimeout time.Duration
}

// Options configures the server. Handlers left nil answer 503 so the server
// can boot with a subset of its surface during partial outages.
type Options struct {
	Config         config.AppConfig
	Logger         *slog.Logger
	HealthHandler  http.Handler
	ProcessHandler http.Handler
	SalesHandler   http.Handler
	SyncHandler    http.Handler
}

// New assembles the router, middleware chain and the underlying http.Server.
func New(opts Options) (*Server, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.HealthHandler == nil {
		return nil, errors.New("health handler is required")
	}

	auth, err := middleware.NewJWTAuthenticator(opts.Config.Auth, opts.Logger)
	if err != nil {
		return nil, fmt.Errorf("configuring authentication: %w", err)
	}

	unavailable := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "service unavailable", http.StatusServiceUnavailable)
	})
	pick := func(h http.Handler) http.Handler {
		if h == nil {
			return unavailable
		}
		return h
	}

	processTimeout := opts.Config.HTTP.ProcessTimeout
	if processTimeout <= 0 {
		processTimeout = 10 * time.Minute
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(middleware.RequestLogger(opts.Logger))
	r.Use(auth.Middleware)

	r.Method(http.MethodGet, "/health", opts.HealthHandler)
	r.Method(http.MethodGet, "/api/v1/sales", pick(opts.SalesHandler))

	// Batch routes call out to marketplaces and the invoicing provider per
	// order, so they run under an extended deadline.
	r.Group(func(r chi.Router) {
		r.Use(middleware.ExtendedTimeout(processTimeout))
		r.Method(http.MethodPost, "/api/v1/process", pick(opts.ProcessHandler))
		r.Method(http.MethodPost, "/internal/sync-sales", pick(opts.SyncHandler))
	})

	// The server-level write timeout must not undercut a long-running batch.
	writeTimeout := opts.Config.HTTP.WriteTimeout
	if writeTimeout > 0 && writeTimeout < processTimeout {
		writeTimeout = processTimeout + 30*time.Second
	}

	shutdownTimeout := opts.Config.HTTP.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 30 * time.Second
	}

	return &Server{
		log: opts.Logger,
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", opts.Config.HTTP.Port),
			Handler:      r,
			ReadTimeout:  opts.Config.HTTP.ReadTimeout,
			WriteTimeout: writeTimeout,
			IdleTimeout:  opts.Config.HTTP.IdleTimeout,
		},
		auth:            auth,
		shutdownTimeout: shutdownTimeout,
	}, nil
}

// Run starts the server and blocks until the context is canceled or the
// listener fails, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.log.Info("shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}
	return nil
}

// Close releases background resources (JWKS refreshers).
func (s *Server) Close() {
	if s.auth != nil {
		s.auth.Close()
	}
}
