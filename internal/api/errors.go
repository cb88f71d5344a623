package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/gray-logic-vision/internal/calibration"
	"github.com/nerrad567/gray-logic-vision/internal/camera"
	"github.com/nerrad567/gray-logic-vision/internal/infield"
	"github.com/nerrad567/gray-logic-vision/internal/projection"
	"github.com/nerrad567/gray-logic-vision/internal/session"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes.
const (
	ErrCodeBadRequest            = "bad_request"
	ErrCodeNotFound              = "not_found"
	ErrCodeInvalidCapture        = "invalid_capture"
	ErrCodeOutOfRange            = "out_of_range"
	ErrCodeUnsupportedResolution = "unsupported_resolution"
	ErrCodeDegenerate            = "degenerate_poses"
	ErrCodeUnauthorized          = "unauthorised"
	ErrCodeConflict              = "conflict"
	ErrCodeHardwareBusy          = "hardware_busy"
	ErrCodeHardwareFault         = "hardware_fault"
	ErrCodeInternal              = "internal_error"
)

// errorMapping ties a domain error to its response. The first match wins,
// so kinds that may wrap one another are ordered most specific first.
var errorMapping = []struct {
	target error
	status int
	code   string
}{
	{camera.ErrHardwareBusy, http.StatusServiceUnavailable, ErrCodeHardwareBusy},
	{camera.ErrNotFound, http.StatusNotFound, ErrCodeNotFound},
	{session.ErrNotFound, http.StatusNotFound, ErrCodeNotFound},
	{camera.ErrInvalidCapture, http.StatusNotFound, ErrCodeInvalidCapture},
	{calibration.ErrOutOfRange, http.StatusBadRequest, ErrCodeOutOfRange},
	{calibration.ErrInvalidMode, http.StatusBadRequest, ErrCodeBadRequest},
	{camera.ErrInvalidArgument, http.StatusBadRequest, ErrCodeBadRequest},
	{calibration.ErrDegenerate, http.StatusUnprocessableEntity, ErrCodeDegenerate},
	{projection.ErrUnsupportedResolution, http.StatusUnprocessableEntity, ErrCodeUnsupportedResolution},
	{infield.ErrEmptyDataset, http.StatusConflict, ErrCodeConflict},
	{camera.ErrHardwareFault, http.StatusBadGateway, ErrCodeHardwareFault},
}

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeUnauthorized writes a 401 error response.
func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeDomainError maps err onto the error taxonomy. Unmapped errors are
// logged and reported as 500 without leaking their text.
func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	for _, m := range errorMapping {
		if errors.Is(err, m.target) {
			writeError(w, m.status, m.code, err.Error())
			return
		}
	}
	s.logger.Error("unhandled error",
		"method", r.Method,
		"path", r.URL.Path,
		"request_id", r.Context().Value(ctxKeyRequestID),
		"error", err,
	)
	writeInternalError(w, "internal server error")
}
