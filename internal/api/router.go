package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
// Routes are mounted under the configured base path.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.metricsMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	if s.basePath == "" {
		s.routes(r)
	} else {
		r.Route(s.basePath, s.routes)
	}
	return r
}

func (s *Server) routes(r chi.Router) {
	// Unauthenticated monitoring
	r.Get("/health", s.handleHealth)
	r.Get("/version", s.handleVersion)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	// WebSocket (auth via ticket, validated in handler)
	r.Get(s.wsPath(), s.handleWebSocket)

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Post("/ws-ticket", s.handleWSTicket)
		r.Get("/audit", s.handleListAuditLogs)

		r.Route("/cameras", func(r chi.Router) {
			r.Get("/", s.handleListCameras)

			r.Route("/{serial_number}", func(r chi.Router) {
				r.Get("/", s.handleGetCamera)
				r.Delete("/", s.handleDisconnectCamera)
				r.Get("/frame", s.handleFrame)
				r.Get("/frame/pointcloud", s.handleFramePointCloud)
				r.Get("/frame/color-image", s.handleFrameColorImage)
				r.Get("/frame/depth-image", s.handleFrameDepthImage)
				r.Get("/frame/board-pose", s.handleBoardPose)
				r.Get("/frame2d", s.handleFrame2D)
				r.Get("/firmware/up-to-date", s.handleFirmwareUpToDate)
				r.Post("/firmware/update", s.handleFirmwareUpdate)
			})
		})

		r.Route("/calibrations", func(r chi.Router) {
			r.Get("/", s.handleListCalibrations)
			r.Post("/", s.handleStartCalibration)
			r.Delete("/", s.handleClearCalibrations)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetCalibration)
				r.Post("/", s.handleAddPose)
				r.Delete("/", s.handleDeleteCalibration)
				r.Post("/poses", s.handleAddPose)
				r.Delete("/poses", s.handleClearPoses)
				r.Delete("/poses/{index}", s.handleRemovePose)
			})
		})

		r.Route("/infield-correction", func(r chi.Router) {
			r.Get("/", s.handleReadCorrection)
			r.Delete("/", s.handleResetCorrection)
			r.Get("/verification", s.handleVerifyCorrection)

			r.Route("/correction", func(r chi.Router) {
				r.Get("/", s.handleListCorrections)
				r.Post("/", s.handleStartCorrection)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetCorrection)
					r.Post("/", s.handleAddDataset)
					r.Put("/", s.handleCommitCorrection)
					r.Delete("/", s.handleDeleteCorrection)
				})
			})
		})

		r.Route("/projectors", func(r chi.Router) {
			r.Get("/", s.handleListProjections)
			r.Post("/{serial_number}", s.handleStartProjection)
			r.Delete("/{serial_number}", s.handleStopProjection)
		})
	})
}

func (s *Server) wsPath() string {
	if s.wsCfg.Path == "" {
		return "/ws"
	}
	return s.wsCfg.Path
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"version":        s.version,
		"uptime_seconds": int64(time.Since(s.startTime).Seconds()),
	})
}

// versionResponse reports the service and vendor SDK versions.
type versionResponse struct {
	Service string `json:"graylogic_vision"`
	SDK     string `json:"sdk"`
}

func (s *Server) handleVersion(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, versionResponse{
		Service: s.version,
		SDK:     s.cameras.DriverVersion(),
	})
}
