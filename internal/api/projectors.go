package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-vision/internal/projection"
)

// projectionResponse describes a started projection.
type projectionResponse struct {
	SerialNumber string                `json:"serial_number"`
	Resolution   projection.Resolution `json:"resolution"`
}

func (s *Server) handleListProjections(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"serial_numbers": s.projections.Serials()})
}

// handleStartProjection projects the test pattern, replacing any
// projection already running on the camera.
func (s *Server) handleStartProjection(w http.ResponseWriter, r *http.Request) {
	serial := chi.URLParam(r, "serial_number")
	res, err := s.projections.Start(r.Context(), serial)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, projectionResponse{SerialNumber: serial, Resolution: res})
}

func (s *Server) handleStopProjection(w http.ResponseWriter, r *http.Request) {
	if err := s.projections.Stop(r.Context(), chi.URLParam(r, "serial_number")); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
