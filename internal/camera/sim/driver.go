package sim

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-vision/internal/camera"
	"github.com/nerrad567/gray-logic-vision/internal/infield"
	"github.com/nerrad567/gray-logic-vision/internal/pose"
	"github.com/nerrad567/gray-logic-vision/internal/projection"
)

var (
	_ camera.Driver        = (*Driver)(nil)
	_ camera.Capturer      = (*Driver)(nil)
	_ camera.Detector      = (*Driver)(nil)
	_ camera.Firmware      = (*Driver)(nil)
	_ infield.Corrector    = (*Driver)(nil)
	_ projection.Projector = (*Driver)(nil)
	_ camera.Device        = (*Camera)(nil)
)

// Errors reported by simulated cameras.
var (
	ErrNotConnected = errors.New("sim: camera not connected")
	ErrUnplugged    = errors.New("sim: camera unplugged")
	ErrForeign      = errors.New("sim: handle does not belong to the simulator")
)

// Driver is the simulated SDK.
type Driver struct {
	version string
	now     func() time.Time

	mu      sync.Mutex
	cameras []*Camera
}

// NewDriver creates the cameras listed in cfg.
func NewDriver(cfg Config) (*Driver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	d := &Driver{version: cfg.Version, now: time.Now}
	if d.version == "" {
		d.version = DefaultVersion
	}
	for _, cc := range cfg.Cameras {
		d.cameras = append(d.cameras, newCamera(cc.withDefaults()))
	}
	return d, nil
}

// Enumerate returns every camera that is plugged in.
func (d *Driver) Enumerate(ctx context.Context) ([]camera.Device, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]camera.Device, 0, len(d.cameras))
	for _, c := range d.cameras {
		if !c.isUnplugged() {
			out = append(out, c)
		}
	}
	return out, nil
}

// Version reports the simulated SDK version.
func (d *Driver) Version() string { return d.version }

// Camera returns the simulated camera with serial for test control.
func (d *Driver) Camera(serial string) (*Camera, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, c := range d.cameras {
		if c.info.SerialNumber == serial {
			return c, true
		}
	}
	return nil, false
}

// Close disconnects every camera.
func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, c := range d.cameras {
		_ = c.Disconnect()
	}
	return nil
}

// Camera is one simulated device.
type Camera struct {
	cfg CameraConfig

	mu          sync.Mutex
	info        camera.Info
	connected   bool
	unplugged   bool
	failNext    error
	visible     bool
	board       pose.Pose
	upToDate    bool
	correction  *time.Time
	projections int
	commands    int
}

func newCamera(cfg CameraConfig) *Camera {
	return &Camera{
		cfg: cfg,
		info: camera.Info{
			SerialNumber:    cfg.SerialNumber,
			Model:           cfg.Model,
			FirmwareVersion: cfg.FirmwareVersion,
		},
		visible:  *cfg.BoardVisible,
		board:    cfg.BoardPose,
		upToDate: *cfg.FirmwareUpToDate,
	}
}

// Info implements camera.Device.
func (c *Camera) Info() camera.Info {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.info
}

// Connected implements camera.Device.
func (c *Camera) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Connect implements camera.Device.
func (c *Camera) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.unplugged {
		return ErrUnplugged
	}
	c.connected = true
	return nil
}

// Disconnect implements camera.Device.
func (c *Camera) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
	return nil
}

// Unplug drops the connection and hides the camera from enumeration.
func (c *Camera) Unplug() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
	c.unplugged = true
}

// Plug makes an unplugged camera visible again.
func (c *Camera) Plug() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unplugged = false
}

// SetBoardVisible controls whether detections find the board.
func (c *Camera) SetBoardVisible(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.visible = v
}

// SetBoardPose moves the board, in the camera frame.
func (c *Camera) SetBoardPose(p pose.Pose) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.board = p
}

// FailNext makes the next device command return err.
func (c *Camera) FailNext(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failNext = err
}

// Projections returns the number of running projections.
func (c *Camera) Projections() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.projections
}

// HasCorrection reports whether an infield correction is stored.
func (c *Camera) HasCorrection() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.correction != nil
}

// Commands returns the number of device commands issued.
func (c *Camera) Commands() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.commands
}

func (c *Camera) isUnplugged() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.unplugged
}

// command admits one device command. The caller holds c.mu.
func (c *Camera) command() error {
	c.commands++
	if c.unplugged {
		return ErrUnplugged
	}
	if !c.connected {
		return ErrNotConnected
	}
	if err := c.failNext; err != nil {
		c.failNext = nil
		return err
	}
	return nil
}

func asCamera(dev camera.Device) (*Camera, error) {
	c, ok := dev.(*Camera)
	if !ok {
		return nil, fmt.Errorf("%w: %T", ErrForeign, dev)
	}
	return c, nil
}
