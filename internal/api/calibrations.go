package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-vision/internal/calibration"
	"github.com/nerrad567/gray-logic-vision/internal/pose"
)

// headerBoardDetected reports whether an add-pose capture saw the board.
const headerBoardDetected = "X-Board-Detected"

func (s *Server) handleListCalibrations(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.calibrations.List())
}

// handleStartCalibration opens a session for ?serial_number= with the
// optional ?mode= (eye_in_hand or eye_to_hand).
func (s *Server) handleStartCalibration(w http.ResponseWriter, r *http.Request) {
	serial := r.URL.Query().Get("serial_number")
	if serial == "" {
		writeBadRequest(w, "serial_number query parameter is required")
		return
	}
	mode, err := calibration.ParseMode(r.URL.Query().Get("mode"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	sess, err := s.calibrations.Start(r.Context(), serial, mode)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (s *Server) handleClearCalibrations(w http.ResponseWriter, r *http.Request) {
	s.calibrations.Clear(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetCalibration(w http.ResponseWriter, r *http.Request) {
	sess, err := s.calibrations.Get(chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// handleAddPose records the robot pose in the body with a fresh board
// detection. A capture that misses the board returns the session
// unchanged with X-Board-Detected: false.
func (s *Server) handleAddPose(w http.ResponseWriter, r *http.Request) {
	var p pose.Pose
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	sess, detected, err := s.calibrations.AddPose(r.Context(), chi.URLParam(r, "id"), p)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	w.Header().Set(headerBoardDetected, strconv.FormatBool(detected))
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleRemovePose(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		writeBadRequest(w, "pose index must be an integer")
		return
	}

	sess, err := s.calibrations.RemovePose(r.Context(), chi.URLParam(r, "id"), index)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleClearPoses(w http.ResponseWriter, r *http.Request) {
	sess, err := s.calibrations.ClearPoses(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleDeleteCalibration(w http.ResponseWriter, r *http.Request) {
	if err := s.calibrations.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
