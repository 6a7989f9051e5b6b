// Package server exposes the network monitor over HTTP.
package server

import (
	"context"
	"crypto/tls"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/quic-go/quic-go/http3"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/zsiec/network-monitor/internal/config"
	"github.com/zsiec/network-monitor/internal/download"
	"github.com/zsiec/network-monitor/internal/errors"
	"github.com/zsiec/network-monitor/internal/health"
	"github.com/zsiec/network-monitor/internal/logger"
	"github.com/zsiec/network-monitor/internal/monitor"
	"github.com/zsiec/network-monitor/internal/network"
	"github.com/zsiec/network-monitor/internal/ratelimit"
)

// Monitor is what the API needs from the running monitor.
type Monitor interface {
	Network() *network.TransportNetwork
	Ready() bool
	StationCount() int
	LayoutLoadedAt() time.Time
	FeedEnabled() bool
	FeedConnected() bool
	FastestPath(from, to string) (network.Path, error)
	RecordEvent(event network.PassengerEvent) error
	RecentEvents(ctx context.Context, n int) ([]network.PassengerEvent, error)
	ReloadLayout(ctx context.Context, trigger string) (monitor.LayoutInfo, error)
	ResetCounts(ctx context.Context) (int, error)
}

// maxLayoutAge marks the layout check degraded once the layout has not been
// refreshed for this long.
const maxLayoutAge = 24 * time.Hour

// errorRules map domain errors to API responses.
var errorRules = []errors.Rule{
	{Target: network.ErrStationNotFound, Type: errors.ErrorTypeNotFound, Status: http.StatusNotFound},
	{Target: network.ErrLineNotFound, Type: errors.ErrorTypeNotFound, Status: http.StatusNotFound},
	{Target: network.ErrRouteNotFound, Type: errors.ErrorTypeNotFound, Status: http.StatusNotFound},
	{Target: network.ErrNoPath, Type: errors.ErrorTypeNotFound, Status: http.StatusNotFound},
	{Target: network.ErrNotAdjacent, Type: errors.ErrorTypeValidation, Status: http.StatusBadRequest},
	{Target: network.ErrUnknownEventType, Type: errors.ErrorTypeValidation, Status: http.StatusBadRequest},
	{Target: network.ErrInvalidStation, Type: errors.ErrorTypeValidation, Status: http.StatusUnprocessableEntity},
	{Target: network.ErrInvalidLine, Type: errors.ErrorTypeValidation, Status: http.StatusUnprocessableEntity},
	{Target: network.ErrInvalidRoute, Type: errors.ErrorTypeValidation, Status: http.StatusUnprocessableEntity},
	{Target: network.ErrStationExists, Type: errors.ErrorTypeConflict, Status: http.StatusConflict},
	{Target: network.ErrLineExists, Type: errors.ErrorTypeConflict, Status: http.StatusConflict},
	{Target: network.ErrRouteExists, Type: errors.ErrorTypeConflict, Status: http.StatusConflict},
	{Target: monitor.ErrMalformedEvent, Type: errors.ErrorTypeValidation, Status: http.StatusBadRequest},
	{Target: download.ErrHTTPStatus, Type: errors.ErrorTypeUpstream, Status: http.StatusBadGateway},
	{Target: monitor.ErrNotReady, Type: errors.ErrorTypeServiceDown, Status: http.StatusServiceUnavailable},
	{Target: monitor.ErrQueueFull, Type: errors.ErrorTypeServiceDown, Status: http.StatusServiceUnavailable},
	{Target: context.DeadlineExceeded, Type: errors.ErrorTypeTimeout, Status: http.StatusGatewayTimeout},
}

// Server serves the API over HTTP/1.1, optionally TLS, and optionally
// HTTP/3.
type Server struct {
	config       *config.ServerConfig
	router       *mux.Router
	httpServer   *http.Server
	http3Server  *http3.Server
	logger       *logrus.Logger
	redis        redis.UniversalClient
	monitor      Monitor
	healthMgr    *health.Manager
	errorHandler *errors.ErrorHandler
	limiter      *ratelimit.ClientLimiter

	routesOnce sync.Once
}

// New creates a new server instance. redisClient may be nil when Redis is
// disabled.
func New(cfg *config.ServerConfig, log *logrus.Logger, mon Monitor, redisClient redis.UniversalClient) *Server {
	s := &Server{
		config:       cfg,
		router:       mux.NewRouter(),
		logger:       log,
		redis:        redisClient,
		monitor:      mon,
		healthMgr:    health.NewManager(log),
		errorHandler: errors.NewErrorHandler(log, errorRules...),
		limiter:      ratelimit.NewClientLimiter(cfg.RateLimit, cfg.RateLimitBurst),
	}

	s.registerHealthCheckers()
	return s
}

// Handler returns the fully routed handler.
func (s *Server) Handler() http.Handler {
	s.routesOnce.Do(s.setupRoutes)
	return s.router
}

// Start serves until ctx is done, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	handler := s.Handler()

	var tlsConfig *tls.Config
	if s.config.TLSEnabled() {
		cert, err := tls.LoadX509KeyPair(s.config.TLSCertFile, s.config.TLSKeyFile)
		if err != nil {
			return fmt.Errorf("failed to load TLS certificates: %w", err)
		}
		tlsConfig = &tls.Config{
			MinVersion:   tls.VersionTLS12,
			Certificates: []tls.Certificate{cert},
			NextProtos:   []string{"h2", "http/1.1"},
		}
	}

	if s.config.EnableHTTP3 && tlsConfig == nil {
		return fmt.Errorf("HTTP/3 requires tls_cert_file and tls_key_file")
	}

	s.httpServer = &http.Server{
		Addr:         net.JoinHostPort(s.config.ListenAddr, strconv.Itoa(s.config.Port)),
		Handler:      handler,
		TLSConfig:    tlsConfig,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	errCh := make(chan error, 2)

	go s.healthMgr.StartPeriodicChecks(ctx, 30*time.Second)
	go s.runLimiterCleanup(ctx)

	go func() {
		s.logger.WithFields(logrus.Fields{
			"addr": s.httpServer.Addr,
			"tls":  tlsConfig != nil,
		}).Info("Starting HTTP server")

		var err error
		if tlsConfig != nil {
			err = s.httpServer.ListenAndServeTLS("", "")
		} else {
			err = s.httpServer.ListenAndServe()
		}
		if err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	if s.config.EnableHTTP3 {
		h3TLS := tlsConfig.Clone()
		h3TLS.MinVersion = tls.VersionTLS13
		h3TLS.NextProtos = []string{"h3"}

		s.http3Server = &http3.Server{
			Addr:      net.JoinHostPort(s.config.ListenAddr, strconv.Itoa(s.config.HTTP3Port)),
			Handler:   handler,
			TLSConfig: h3TLS,
		}
		go func() {
			s.logger.WithField("port", s.config.HTTP3Port).Info("Starting HTTP/3 server")
			if err := s.http3Server.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("http3 server: %w", err)
			}
		}()
	}

	select {
	case err := <-errCh:
		_ = s.shutdown()
		return err
	case <-ctx.Done():
		return s.shutdown()
	}
}

func (s *Server) shutdown() error {
	timeout := s.config.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.Shutdown(ctx)
}

// Shutdown stops the listeners. HTTP/3 has no graceful drain and is closed
// immediately.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server")

	var errs []error
	if s.http3Server != nil {
		if err := s.http3Server.Close(); err != nil {
			errs = append(errs, fmt.Errorf("http3 close: %w", err))
		}
	}
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
	}

	if err := stderrors.Join(errs...); err != nil {
		return err
	}
	s.logger.Info("HTTP server shutdown complete")
	return nil
}

func (s *Server) runLimiterCleanup(ctx context.Context) {
	if !s.limiter.Enabled() {
		return
	}
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.limiter.Cleanup(10 * time.Minute); n > 0 {
				s.logger.WithField("clients", n).Debug("Forgot idle rate limit clients")
			}
		}
	}
}

// HealthManager exposes the health manager so callers can add checks.
func (s *Server) HealthManager() *health.Manager {
	return s.healthMgr
}

func (s *Server) registerHealthCheckers() {
	if s.redis != nil {
		s.healthMgr.Register(health.NewRedisChecker(s.redis))
	}
	s.healthMgr.Register(health.NewLayoutChecker(s.monitor, maxLayoutAge))
	s.healthMgr.Register(health.NewFeedChecker(s.monitor))
}

func (s *Server) setupRoutes() {
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(logger.RequestLoggerMiddleware(s.logger))
	s.router.Use(s.errorHandler.Middleware)
	s.router.Use(s.metricsMiddleware)
	s.router.Use(s.corsMiddleware)
	s.router.Use(s.rateLimitMiddleware)

	healthHandler := health.NewHandler(s.healthMgr, s.monitor.Ready)
	s.router.HandleFunc("/health", healthHandler.HandleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/ready", healthHandler.HandleReady).Methods(http.MethodGet)
	s.router.HandleFunc("/live", healthHandler.HandleLive).Methods(http.MethodGet)

	s.router.HandleFunc("/version", s.handleVersion).Methods(http.MethodGet)

	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/stations", s.handleStations).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/stations/{id}", s.handleStation).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/stations/{id}/routes", s.handleStationRoutes).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/lines", s.handleLines).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/lines/{line}/routes/{route}/travel-time", s.handleRouteTravelTime).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/travel-time", s.handleTravelTime).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/path", s.handlePath).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/events", s.handleRecordEvent).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/events/recent", s.handleRecentEvents).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/layout/reload", s.handleReloadLayout).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/counts/reset", s.handleResetCounts).Methods(http.MethodPost, http.MethodOptions)

	if s.config.DebugEndpoints {
		s.setupDebugEndpoints()
	}

	// Unmatched requests skip the router middleware but still get an ID.
	s.router.NotFoundHandler = s.requestIDMiddleware(http.HandlerFunc(s.errorHandler.HandleNotFound))
	s.router.MethodNotAllowedHandler = s.requestIDMiddleware(http.HandlerFunc(s.errorHandler.HandleMethodNotAllowed))
}

// setupDebugEndpoints registers pprof and a debug info endpoint.
func (s *Server) setupDebugEndpoints() {
	s.logger.Info("Enabling debug endpoints")

	debug := s.router.PathPrefix("/debug").Subrouter()
	debug.HandleFunc("/pprof/cmdline", pprof.Cmdline)
	debug.HandleFunc("/pprof/profile", pprof.Profile)
	debug.HandleFunc("/pprof/symbol", pprof.Symbol)
	debug.HandleFunc("/pprof/trace", pprof.Trace)
	debug.PathPrefix("/pprof/").HandlerFunc(pprof.Index)

	debug.HandleFunc("/info", func(w http.ResponseWriter, r *http.Request) {
		info := map[string]interface{}{
			"protocols": map[string]bool{
				"http3": s.config.EnableHTTP3,
				"tls":   s.config.TLSEnabled(),
			},
			"ports": map[string]int{
				"http":  s.config.Port,
				"http3": s.config.HTTP3Port,
			},
			"rate_limit": map[string]interface{}{
				"per_second": s.config.RateLimit,
				"burst":      s.config.RateLimitBurst,
				"clients":    s.limiter.Clients(),
			},
			"feed_connected": s.monitor.FeedConnected(),
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(info)
	}).Methods(http.MethodGet)
}

// GetRouter returns the router for testing.
func (s *Server) GetRouter() *mux.Router {
	s.routesOnce.Do(s.setupRoutes)
	return s.router
}
