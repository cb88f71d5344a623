// Package infield runs infield-correction sessions. A session collects
// validated board captures of one camera, reports the accuracy a
// correction computed from them would give, and on commit writes that
// correction to the camera.
package infield

import (
	"context"
	"errors"
	"time"

	"github.com/nerrad567/gray-logic-vision/internal/camera"
)

// ErrEmptyDataset indicates a commit of a session with no datasets.
var ErrEmptyDataset = errors.New("infield: no datasets collected")

// Input is a board capture wrapped for correction. Valid reports whether
// the vendor accepts it as correction data.
type Input interface {
	Valid() bool
	Feedback() string
}

// Accuracy is the vendor estimate for a dataset.
type Accuracy struct {
	// DimensionAccuracy is the expected relative dimension error after
	// correction, as a fraction.
	DimensionAccuracy float64

	// ZMin and ZMax bound the working distance, in millimetres, for which
	// the estimate holds.
	ZMin float64
	ZMax float64
}

// Verification is a one-off accuracy check of the current correction.
type Verification struct {
	LocalDimensionTrueness float64    `json:"local_dimension_trueness"`
	Position               [3]float64 `json:"position"`
}

// CorrectionInfo describes the correction stored on a camera.
type CorrectionInfo struct {
	HasCorrection bool       `json:"has_correction"`
	Timestamp     *time.Time `json:"timestamp"`
}

// Corrector is the vendor infield-correction API. NewInput, Estimate and
// Verify run on the host; Write, Read and Reset talk to the device.
type Corrector interface {
	NewInput(det camera.Detection) (Input, error)
	Estimate(ctx context.Context, dataset []Input) (Accuracy, error)
	Verify(ctx context.Context, in Input) (Verification, error)

	Write(ctx context.Context, dev camera.Device, dataset []Input) error
	Read(ctx context.Context, dev camera.Device) (CorrectionInfo, error)
	Reset(ctx context.Context, dev camera.Device) error
}

// Session is one correction run for one camera.
type Session struct {
	ID           string    `json:"id"`
	SerialNumber string    `json:"serial_number"`
	Dataset      []Input   `json:"-"`
	DatasetSize  int       `json:"dataset_size"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Clone returns a copy with its own dataset slice. Inputs are immutable
// and shared.
func (s Session) Clone() Session {
	s.Dataset = append([]Input{}, s.Dataset...)
	return s
}

// Estimate is the provisional result of adding a dataset.
type Estimate struct {
	DimensionAccuracy float64 `json:"dimension_accuracy"`
	DatasetSize       int     `json:"dataset_size"`
	ZMin              float64 `json:"z_min"`
	ZMax              float64 `json:"z_max"`
}
