package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// serialParam returns ?serial_number= or writes a 400 and returns false.
func serialParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	serial := r.URL.Query().Get("serial_number")
	if serial == "" {
		writeBadRequest(w, "serial_number query parameter is required")
		return "", false
	}
	return serial, true
}

// handleReadCorrection reports whether serial carries a correction and
// when it was written.
func (s *Server) handleReadCorrection(w http.ResponseWriter, r *http.Request) {
	serial, ok := serialParam(w, r)
	if !ok {
		return
	}
	info, err := s.infield.ReadLastCorrection(r.Context(), serial)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// handleResetCorrection removes any correction from serial.
func (s *Server) handleResetCorrection(w http.ResponseWriter, r *http.Request) {
	serial, ok := serialParam(w, r)
	if !ok {
		return
	}
	if err := s.infield.Reset(r.Context(), serial); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleVerifyCorrection measures the current accuracy of serial without
// writing anything to it.
func (s *Server) handleVerifyCorrection(w http.ResponseWriter, r *http.Request) {
	serial, ok := serialParam(w, r)
	if !ok {
		return
	}
	v, err := s.infield.Verify(r.Context(), serial)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleListCorrections(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.infield.List())
}

func (s *Server) handleStartCorrection(w http.ResponseWriter, r *http.Request) {
	serial, ok := serialParam(w, r)
	if !ok {
		return
	}
	sess, err := s.infield.Start(r.Context(), serial)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (s *Server) handleGetCorrection(w http.ResponseWriter, r *http.Request) {
	sess, err := s.infield.Get(chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// handleAddDataset captures one more dataset and returns the provisional
// accuracy estimate.
func (s *Server) handleAddDataset(w http.ResponseWriter, r *http.Request) {
	est, err := s.infield.AddDataset(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, est)
}

// handleCommitCorrection writes the correction to the camera and ends the
// session. On failure the session is kept for a retry.
func (s *Server) handleCommitCorrection(w http.ResponseWriter, r *http.Request) {
	if err := s.infield.Commit(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteCorrection(w http.ResponseWriter, r *http.Request) {
	if err := s.infield.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
