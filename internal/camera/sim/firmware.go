package sim

import (
	"context"
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-vision/internal/camera"
)

// UpToDate implements camera.Firmware.
func (d *Driver) UpToDate(ctx context.Context, dev camera.Device) (bool, error) {
	c, err := d.firmwareCamera(ctx, dev)
	if err != nil {
		return false, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.upToDate, nil
}

// Update implements camera.Firmware. The camera reports the SDK version
// afterwards.
func (d *Driver) Update(ctx context.Context, dev camera.Device) error {
	c, err := d.firmwareCamera(ctx, dev)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.failNext; err != nil {
		c.failNext = nil
		return err
	}
	c.upToDate = true
	c.info.FirmwareVersion = d.version
	return nil
}

func (d *Driver) firmwareCamera(ctx context.Context, dev camera.Device) (*Camera, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c, err := asCamera(dev)
	if err != nil {
		return nil, err
	}
	if c.Connected() {
		return nil, fmt.Errorf("sim: firmware of %s needs a disconnected camera", c.Info().SerialNumber)
	}
	if c.isUnplugged() {
		return nil, ErrUnplugged
	}
	return c, nil
}

func (d *Driver) stamp() time.Time {
	return d.now().UTC()
}
