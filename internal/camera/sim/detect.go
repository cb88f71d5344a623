package sim

import (
	"context"

	"github.com/nerrad567/gray-logic-vision/internal/camera"
	"github.com/nerrad567/gray-logic-vision/internal/pose"
)

// Trueness figures reported by verification, as fractions.
const (
	truenessUncorrected = 0.0025
	truenessCorrected   = 0.0008
)

// Working distance in which a board capture is accepted for correction, mm.
const (
	correctionMinZ = 300.0
	correctionMaxZ = 1500.0
)

// detection is a simulated board search result.
type detection struct {
	valid    bool
	feedback string
	pose     pose.Pose
	trueness float64
}

func (d detection) Valid() bool      { return d.valid }
func (d detection) Feedback() string { return d.feedback }
func (d detection) Pose() pose.Pose  { return d.pose }

// Detect implements camera.Detector.
func (d *Driver) Detect(ctx context.Context, dev camera.Device) (camera.Detection, error) {
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
	if !c.visible {
		return detection{feedback: "calibration board not found: no fiducial markers detected"}, nil
	}

	trueness := truenessUncorrected
	if c.correction != nil {
		trueness = truenessCorrected
	}
	return detection{valid: true, pose: c.board, trueness: trueness}, nil
}
