package camera

import (
	"context"
	"io"
	"time"

	"github.com/nerrad567/gray-logic-vision/internal/pose"
)

// Info describes one camera as reported by the vendor SDK.
type Info struct {
	SerialNumber    string `json:"serial_number"`
	Model           string `json:"model"`
	FirmwareVersion string `json:"firmware_version"`
}

// Device is a vendor handle to one physical camera. Handles belong to the
// Registry; other packages refer to cameras by serial number only.
type Device interface {
	Info() Info
	Connected() bool
	Connect(ctx context.Context) error
	Disconnect() error
}

// Driver discovers cameras.
type Driver interface {
	// Enumerate returns a handle for every camera currently visible.
	Enumerate(ctx context.Context) ([]Device, error)

	// Version reports the vendor SDK version.
	Version() string
}

// Settings selects how a 3D capture is acquired. Exactly one of Path and
// Suggest is set.
type Settings struct {
	Preset  Preset
	Path    string
	Suggest *SuggestParameters
}

// SuggestParameters asks the vendor capture assistant to choose settings.
type SuggestParameters struct {
	MaxCaptureTime        time.Duration
	AmbientLightFrequency AmbientLight
}

// AmbientLight is the mains frequency the capture assistant compensates for.
type AmbientLight string

// AmbientLightNone disables ambient light compensation.
const AmbientLightNone AmbientLight = "none"

// Frame is a captured frame held in vendor memory until Release.
type Frame interface {
	Downsample(d Downsampling) error
	Encode(w io.Writer, f Format) error
	Release()
}

// Capturer turns a connected device plus settings into a frame.
type Capturer interface {
	Capture(ctx context.Context, dev Device, settings Settings) (Frame, error)
	Capture2D(ctx context.Context, dev Device, settingsPath string) (Frame, error)
}

// Detection is the result of searching a fresh capture for the calibration
// board. Pose is meaningful only when Valid is true.
type Detection interface {
	Valid() bool
	Feedback() string
	Pose() pose.Pose
}

// Detector captures and searches for the calibration board.
type Detector interface {
	Detect(ctx context.Context, dev Device) (Detection, error)
}

// Firmware checks and installs device firmware. Both operations require a
// disconnected device.
type Firmware interface {
	UpToDate(ctx context.Context, dev Device) (bool, error)
	Update(ctx context.Context, dev Device) error
}
