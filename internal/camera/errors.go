package camera

import "errors"

// Domain errors for camera access.
// These map onto HTTP status codes at the API boundary.
var (
	// ErrNotFound indicates no camera with the serial is visible, or the
	// cached camera can no longer connect.
	ErrNotFound = errors.New("camera: not found")

	// ErrInvalidCapture indicates the board was not detected or a capture
	// failed a validity check. The caller is expected to retry.
	ErrInvalidCapture = errors.New("camera: invalid capture")

	// ErrHardwareFault indicates a device command failed. The handle has
	// been evicted by the time the caller sees it.
	ErrHardwareFault = errors.New("camera: hardware fault")

	// ErrHardwareBusy indicates the hardware lock could not be acquired
	// before the request deadline or the configured lock timeout.
	ErrHardwareBusy = errors.New("camera: hardware busy")

	// ErrInvalidArgument indicates a malformed preset, downsample factor
	// or format.
	ErrInvalidArgument = errors.New("camera: invalid argument")
)
