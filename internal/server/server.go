// Package server hosts the HTTP API: health, version, debug and the burst
// routes registered by the burst manager. Plain HTTP is always served;
// HTTP/3 is added when TLS material is configured.
package server

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	_ "net/http/pprof" // registers /debug/pprof on http.DefaultServeMux
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/http3"

	"github.com/zsiec/udpburst/internal/config"
	apperrors "github.com/zsiec/udpburst/internal/errors"
	"github.com/zsiec/udpburst/internal/health"
	"github.com/zsiec/udpburst/internal/logger"
)

const healthCheckInterval = 30 * time.Second

// Server is the HTTP front of the burst service.
type Server struct {
	config       *config.ServerConfig
	router       *mux.Router
	httpServer   *http.Server
	http3Server  *http3.Server
	logger       logger.Logger
	healthMgr    *health.Manager
	errorHandler *apperrors.ErrorHandler

	additionalRoutes []func(*mux.Router)
	routesOnce       sync.Once

	mu       sync.Mutex
	httpAddr net.Addr
}

func New(cfg *config.ServerConfig, log logger.Logger) *Server {
	log = logger.WithComponent(log, "http")
	return &Server{
		config:       cfg,
		router:       mux.NewRouter(),
		logger:       log,
		healthMgr:    health.NewManager(log),
		errorHandler: apperrors.NewErrorHandler(log),
	}
}

// Health returns the manager checkers are registered with.
func (s *Server) Health() *health.Manager {
	return s.healthMgr
}

// RegisterRoutes adds route handlers. It must be called before Start.
func (s *Server) RegisterRoutes(registerFunc func(*mux.Router)) {
	s.additionalRoutes = append(s.additionalRoutes, registerFunc)
}

// Handler returns the fully configured router.
func (s *Server) Handler() http.Handler {
	s.routesOnce.Do(s.setupRoutes)
	return s.router
}

// Addr returns the bound plain HTTP address, or nil before Start binds.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.httpAddr
}

// Start serves until ctx is done, then shuts down gracefully. A listener
// failure is returned immediately.
func (s *Server) Start(ctx context.Context) error {
	handler := s.Handler()

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.config.HTTPPort))
	if err != nil {
		return fmt.Errorf("failed to listen on HTTP port: %w", err)
	}
	s.mu.Lock()
	s.httpAddr = ln.Addr()
	s.mu.Unlock()

	s.httpServer = &http.Server{
		Handler:      handler,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	errCh := make(chan error, 2)

	if s.config.HTTP3Enabled() {
		if err := s.configureHTTP3(handler); err != nil {
			_ = ln.Close()
			return err
		}
		s.httpServer.Handler = s.altSvc(handler)
		go func() {
			s.logger.WithField("port", s.config.HTTP3Port).Info("Starting HTTP/3 server")
			if err := s.http3Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("http3 server: %w", err)
			}
		}()
	}

	go func() {
		s.logger.WithField("address", ln.Addr().String()).Info("Starting HTTP server")
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	go s.healthMgr.StartPeriodicChecks(ctx, healthCheckInterval)

	select {
	case err := <-errCh:
		_ = s.shutdown()
		return err
	case <-ctx.Done():
		return s.shutdown()
	}
}

func (s *Server) configureHTTP3(handler http.Handler) error {
	cert, err := tls.LoadX509KeyPair(s.config.TLSCertFile, s.config.TLSKeyFile)
	if err != nil {
		return fmt.Errorf("failed to load TLS certificates: %w", err)
	}

	s.http3Server = &http3.Server{
		Addr:    fmt.Sprintf(":%d", s.config.HTTP3Port),
		Handler: handler,
		TLSConfig: http3.ConfigureTLSConfig(&tls.Config{
			MinVersion:   tls.VersionTLS13,
			Certificates: []tls.Certificate{cert},
		}),
		QUICConfig: &quic.Config{
			MaxIncomingStreams: s.config.MaxIncomingStreams,
			MaxIdleTimeout:     s.config.MaxIdleTimeout,
		},
	}
	return nil
}

// altSvc advertises the HTTP/3 endpoint on plain HTTP responses.
func (s *Server) altSvc(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := s.http3Server.SetQUICHeaders(w.Header()); err != nil {
			s.logger.WithError(err).Debug("Failed to set Alt-Svc header")
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) shutdown() error {
	s.logger.Info("Shutting down HTTP server")

	timeout := s.config.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var errs []error
	if err := s.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if s.http3Server != nil {
		// http3.Server has no graceful shutdown with a deadline.
		if err := s.http3Server.Close(); err != nil {
			errs = append(errs, fmt.Errorf("http3 shutdown: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (s *Server) setupRoutes() {
	s.router.Use(logger.RequestLoggerMiddleware(s.logger))
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.recoveryMiddleware)
	s.router.Use(s.metricsMiddleware)
	s.router.Use(s.corsMiddleware)

	healthHandler := health.NewHandler(s.healthMgr)
	s.router.HandleFunc("/health", healthHandler.HandleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/ready", healthHandler.HandleReady).Methods(http.MethodGet)
	s.router.HandleFunc("/live", healthHandler.HandleLive).Methods(http.MethodGet)
	s.router.HandleFunc("/version", s.handleVersion).Methods(http.MethodGet)

	if s.config.DebugEndpoints {
		s.setupDebugEndpoints()
	}

	for _, register := range s.additionalRoutes {
		register(s.router)
	}

	s.router.NotFoundHandler = http.HandlerFunc(s.errorHandler.HandleNotFound)
	s.router.MethodNotAllowedHandler = http.HandlerFunc(s.errorHandler.HandleMethodNotAllowed)
}

func (s *Server) setupDebugEndpoints() {
	s.logger.Info("Enabling debug endpoints")

	s.router.PathPrefix("/debug/pprof/").Handler(http.DefaultServeMux)
	s.router.HandleFunc("/debug/info", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"http_port":     s.config.HTTPPort,
			"http3_enabled": s.config.HTTP3Enabled(),
			"http3_port":    s.config.HTTP3Port,
		})
	}).Methods(http.MethodGet)
}
