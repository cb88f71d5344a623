package sim

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/nerrad567/gray-logic-vision/internal/camera"
	"github.com/nerrad567/gray-logic-vision/internal/infield"
)

var errEmptyDataset = errors.New("sim: correction dataset is empty")

// correctionInput is a detection accepted or rejected for correction.
type correctionInput struct {
	det      detection
	feedback string
}

func (in correctionInput) Valid() bool      { return in.feedback == "" }
func (in correctionInput) Feedback() string { return in.feedback }

// NewInput implements infield.Corrector. Boards outside the working
// distance are rejected.
func (d *Driver) NewInput(det camera.Detection) (infield.Input, error) {
	sd, ok := det.(detection)
	if !ok {
		return nil, fmt.Errorf("%w: detection %T", ErrForeign, det)
	}
	in := correctionInput{det: sd}
	switch z := sd.pose.Position[2]; {
	case !sd.valid:
		in.feedback = "detection is not valid"
	case z < correctionMinZ:
		in.feedback = fmt.Sprintf("board too close: %.0f mm, need at least %.0f mm", z, correctionMinZ)
	case z > correctionMaxZ:
		in.feedback = fmt.Sprintf("board too far: %.0f mm, need at most %.0f mm", z, correctionMaxZ)
	}
	return in, nil
}

// Estimate implements infield.Corrector. Accuracy improves with the square
// root of the dataset size and holds 100 mm either side of the captured
// distances.
func (d *Driver) Estimate(ctx context.Context, dataset []infield.Input) (infield.Accuracy, error) {
	if err := ctx.Err(); err != nil {
		return infield.Accuracy{}, err
	}
	inputs, err := correctionInputs(dataset)
	if err != nil {
		return infield.Accuracy{}, err
	}

	zMin, zMax := math.Inf(1), math.Inf(-1)
	for _, in := range inputs {
		z := in.det.pose.Position[2]
		zMin = math.Min(zMin, z)
		zMax = math.Max(zMax, z)
	}
	return infield.Accuracy{
		DimensionAccuracy: 0.002 / math.Sqrt(float64(len(inputs))),
		ZMin:              zMin - 100,
		ZMax:              zMax + 100,
	}, nil
}

// Verify implements infield.Corrector.
func (d *Driver) Verify(ctx context.Context, in infield.Input) (infield.Verification, error) {
	if err := ctx.Err(); err != nil {
		return infield.Verification{}, err
	}
	inputs, err := correctionInputs([]infield.Input{in})
	if err != nil {
		return infield.Verification{}, err
	}
	return infield.Verification{
		LocalDimensionTrueness: inputs[0].det.trueness,
		Position:               inputs[0].det.pose.Position,
	}, nil
}

// Write implements infield.Corrector.
func (d *Driver) Write(ctx context.Context, dev camera.Device, dataset []infield.Input) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := correctionInputs(dataset); err != nil {
		return err
	}
	c, err := asCamera(dev)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.command(); err != nil {
		return err
	}
	ts := d.stamp()
	c.correction = &ts
	return nil
}

// Read implements infield.Corrector.
func (d *Driver) Read(ctx context.Context, dev camera.Device) (infield.CorrectionInfo, error) {
	if err := ctx.Err(); err != nil {
		return infield.CorrectionInfo{}, err
	}
	c, err := asCamera(dev)
	if err != nil {
		return infield.CorrectionInfo{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.command(); err != nil {
		return infield.CorrectionInfo{}, err
	}
	if c.correction == nil {
		return infield.CorrectionInfo{}, nil
	}
	ts := *c.correction
	return infield.CorrectionInfo{HasCorrection: true, Timestamp: &ts}, nil
}

// Reset implements infield.Corrector.
func (d *Driver) Reset(ctx context.Context, dev camera.Device) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c, err := asCamera(dev)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.command(); err != nil {
		return err
	}
	c.correction = nil
	return nil
}

func correctionInputs(dataset []infield.Input) ([]correctionInput, error) {
	if len(dataset) == 0 {
		return nil, errEmptyDataset
	}
	out := make([]correctionInput, len(dataset))
	for i, in := range dataset {
		ci, ok := in.(correctionInput)
		if !ok {
			return nil, fmt.Errorf("%w: input %T", ErrForeign, in)
		}
		if !ci.Valid() {
			return nil, fmt.Errorf("sim: input %d rejected: %s", i, ci.feedback)
		}
		out[i] = ci
	}
	return out, nil
}
