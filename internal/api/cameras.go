package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-vision/internal/camera"
)

// archiveTimeout bounds a best-effort frame upload after the response
// has been written.
const archiveTimeout = 30 * time.Second

func (s *Server) handleListCameras(w http.ResponseWriter, r *http.Request) {
	infos, err := s.cameras.List(r.Context())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, infos)
}

func (s *Server) handleGetCamera(w http.ResponseWriter, r *http.Request) {
	info, err := s.cameras.Get(r.Context(), chi.URLParam(r, "serial_number"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleDisconnectCamera(w http.ResponseWriter, r *http.Request) {
	if err := s.cameras.Disconnect(r.Context(), chi.URLParam(r, "serial_number")); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleFrame(w http.ResponseWriter, r *http.Request) {
	s.serveCapture(w, r, camera.FormatZDF)
}

func (s *Server) handleFramePointCloud(w http.ResponseWriter, r *http.Request) {
	s.serveCapture(w, r, camera.FormatPointCloud)
}

func (s *Server) handleFrameColorImage(w http.ResponseWriter, r *http.Request) {
	s.serveCapture(w, r, camera.FormatColorImage)
}

func (s *Server) handleFrameDepthImage(w http.ResponseWriter, r *http.Request) {
	s.serveCapture(w, r, camera.FormatDepthImage)
}

// serveCapture parses preset and down_sample_factor, captures and writes
// the encoded frame.
func (s *Server) serveCapture(w http.ResponseWriter, r *http.Request, format camera.Format) {
	q := r.URL.Query()
	preset, err := camera.ParsePreset(q.Get("preset"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	factor, err := camera.ParseDownsampleFactor(q.Get("down_sample_factor"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	c, err := s.cameras.Capture(r.Context(), chi.URLParam(r, "serial_number"), camera.CaptureRequest{
		Preset:     preset,
		Downsample: factor,
		Format:     format,
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	s.writeCapture(w, r, c)
}

func (s *Server) handleFrame2D(w http.ResponseWriter, r *http.Request) {
	c, err := s.cameras.Capture2D(r.Context(), chi.URLParam(r, "serial_number"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	s.writeCapture(w, r, c)
}

func (s *Server) handleBoardPose(w http.ResponseWriter, r *http.Request) {
	p, err := s.cameras.BoardPose(r.Context(), chi.URLParam(r, "serial_number"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleFirmwareUpToDate(w http.ResponseWriter, r *http.Request) {
	ok, err := s.cameras.FirmwareUpToDate(r.Context(), chi.URLParam(r, "serial_number"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ok)
}

func (s *Server) handleFirmwareUpdate(w http.ResponseWriter, r *http.Request) {
	if err := s.cameras.UpdateFirmware(r.Context(), chi.URLParam(r, "serial_number")); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// writeCapture writes c as an attachment and hands it to the archive.
func (s *Server) writeCapture(w http.ResponseWriter, r *http.Request, c *camera.Capture) {
	w.Header().Set("Content-Type", c.Format.ContentType())
	w.Header().Set("Content-Length", strconv.Itoa(len(c.Data)))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", c.Filename()))
	w.WriteHeader(http.StatusOK)
	//nolint:errcheck // Best-effort write to response; connection may be closed
	w.Write(c.Data)
	//nolint:errcheck // Flushing is an optimisation; unsupported writers buffer until return
	http.NewResponseController(w).Flush()

	s.archiveCapture(r.Context(), c)
}

// archiveCapture uploads c to the frame archive, if one is configured.
// Failures are logged; the client already has its frame.
func (s *Server) archiveCapture(ctx context.Context, c *camera.Capture) {
	if s.archive == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), archiveTimeout)
	defer cancel()

	key, err := s.archive.Put(ctx, c)
	if err != nil {
		s.logger.Warn("frame archive upload failed",
			"serial_number", c.SerialNumber,
			"format", string(c.Format),
			"error", err,
		)
		return
	}
	s.logger.Debug("frame archived", "serial_number", c.SerialNumber, "key", key)
}
