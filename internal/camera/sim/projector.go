package sim

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"

	"github.com/nerrad567/gray-logic-vision/internal/camera"
	"github.com/nerrad567/gray-logic-vision/internal/projection"
)

var errProjectionStopped = errors.New("sim: projection already stopped")

// Resolution implements projection.Projector.
func (d *Driver) Resolution(ctx context.Context, dev camera.Device) (projection.Resolution, error) {
	if err := ctx.Err(); err != nil {
		return projection.Resolution{}, err
	}
	c, err := asCamera(dev)
	if err != nil {
		return projection.Resolution{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.command(); err != nil {
		return projection.Resolution{}, err
	}
	return c.cfg.Projector, nil
}

// Show implements projection.Projector. The image must match the
// projector exactly.
func (d *Driver) Show(ctx context.Context, dev camera.Device, img *image.RGBA) (projection.Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c, err := asCamera(dev)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.command(); err != nil {
		return nil, err
	}
	b := img.Bounds()
	if b.Dy() != c.cfg.Projector.Height || b.Dx() != c.cfg.Projector.Width {
		return nil, fmt.Errorf("sim: image %dx%d does not fit projector %s", b.Dy(), b.Dx(), c.cfg.Projector)
	}
	c.projections++
	return &handle{cam: c}, nil
}

type handle struct {
	cam  *Camera
	once sync.Once
}

// Stop fails if the camera was unplugged while projecting; the projection
// is gone either way.
func (h *handle) Stop() error {
	err := errProjectionStopped
	h.once.Do(func() {
		h.cam.mu.Lock()
		defer h.cam.mu.Unlock()
		h.cam.projections--
		if h.cam.unplugged {
			err = ErrUnplugged
			return
		}
		err = nil
	})
	return err
}
