package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/nerrad567/gray-logic-vision/internal/audit"
	"github.com/nerrad567/gray-logic-vision/internal/calibration"
	"github.com/nerrad567/gray-logic-vision/internal/camera"
	"github.com/nerrad567/gray-logic-vision/internal/infield"
	"github.com/nerrad567/gray-logic-vision/internal/infrastructure/archive"
	"github.com/nerrad567/gray-logic-vision/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-vision/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-vision/internal/infrastructure/metrics"
	"github.com/nerrad567/gray-logic-vision/internal/projection"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Security config.SecurityConfig
	BasePath string
	Logger   *logging.Logger

	Cameras      *camera.Service
	Calibrations *calibration.Manager
	Infield      *infield.Manager
	Projections  *projection.Manager

	// Optional.
	Hub     *Hub
	Audit   audit.Repository
	Archive archive.Archiver
	Metrics *metrics.Metrics

	Version string
}

// Server is the HTTP API server for Gray Logic Vision.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg      config.APIConfig
	wsCfg    config.WebSocketConfig
	secCfg   config.SecurityConfig
	basePath string
	logger   *logging.Logger

	cameras      *camera.Service
	calibrations *calibration.Manager
	infield      *infield.Manager
	projections  *projection.Manager

	hub     *Hub
	audit   audit.Repository
	archive archive.Archiver
	metrics *metrics.Metrics
	tickets *ticketStore

	version   string
	startTime time.Time
	server    *http.Server
	cancel    context.CancelFunc
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Cameras == nil || deps.Calibrations == nil || deps.Infield == nil || deps.Projections == nil {
		return nil, fmt.Errorf("camera service and session managers are required")
	}

	s := &Server{
		cfg:          deps.Config,
		wsCfg:        deps.WS,
		secCfg:       deps.Security,
		basePath:     strings.TrimSuffix(deps.BasePath, "/"),
		logger:       deps.Logger,
		cameras:      deps.Cameras,
		calibrations: deps.Calibrations,
		infield:      deps.Infield,
		projections:  deps.Projections,
		hub:          deps.Hub,
		audit:        deps.Audit,
		archive:      deps.Archive,
		metrics:      deps.Metrics,
		tickets:      newTicketStore(),
		version:      deps.Version,
		startTime:    time.Now(),
	}
	if s.hub == nil {
		s.hub = NewHub(s.wsCfg, s.logger)
	}
	return s, nil
}

// Hub returns the WebSocket hub so it can be attached to the event bus.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start begins listening for HTTP connections in a background goroutine.
// The server can be stopped with Close().
//
// Parameters:
//   - ctx: Parent context for the hub and ticket cleanup goroutines
//
// Returns:
//   - error: Always nil; listener errors are logged
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	go s.hub.Run(srvCtx)
	go s.tickets.cleanLoop(srvCtx)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", s.server.Addr,
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", s.server.Addr, "base_path", s.basePath)
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running and responsive.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}
