// Package calibration runs hand-eye calibration sessions: each session
// collects robot poses paired with calibration board detections and
// re-solves the hand-eye transform after every change.
package calibration

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-vision/internal/camera"
	"github.com/nerrad567/gray-logic-vision/internal/pose"
)

// Domain errors for calibration sessions.
var (
	// ErrOutOfRange indicates a pose index outside the session's poses.
	ErrOutOfRange = errors.New("calibration: pose index out of range")

	// ErrInvalidMode indicates an unknown calibration mode.
	ErrInvalidMode = errors.New("calibration: invalid mode")

	// ErrInconsistent indicates poses and detections fell out of step.
	// It is a programming error, never the result of client input.
	ErrInconsistent = errors.New("calibration: poses and detections out of step")
)

// MinPoses is the number of pose/detection pairs needed to solve.
const MinPoses = 2

// Mode is where the camera is mounted relative to the robot.
type Mode string

// Calibration modes.
const (
	// EyeInHand: the camera rides on the robot flange.
	EyeInHand Mode = "eye_in_hand"

	// EyeToHand: the camera is fixed and the board rides on the flange.
	EyeToHand Mode = "eye_to_hand"
)

// ParseMode parses a query value. Empty means EyeInHand.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case "":
		return EyeInHand, nil
	case EyeInHand, EyeToHand:
		return m, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidMode, s)
	}
}

// Residual is the per-pose error of a solved calibration.
type Residual struct {
	// Translation error in millimetres.
	Translation float64 `json:"translation"`

	// Rotation error in degrees.
	Rotation float64 `json:"rotation"`
}

// Session is one hand-eye calibration run. Poses[i] was recorded with
// Detections[i]; the two slices always have equal length.
type Session struct {
	ID           string             `json:"id"`
	SerialNumber string             `json:"serial_number"`
	Mode         Mode               `json:"mode"`
	Poses        []pose.Pose        `json:"poses"`
	Detections   []camera.Detection `json:"-"`

	// Residuals and HandEyeCalibration are null until MinPoses pairs have
	// been collected, and keep their last value if pairs are removed
	// below that. A failed solve nulls them and sets SolveError; the pairs
	// are kept either way.
	Residuals          []Residual `json:"residuals"`
	HandEyeCalibration *pose.Pose `json:"hand_eye_calibration"`
	SolveError         string     `json:"solve_error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a deep copy. Detections are immutable and shared.
func (s Session) Clone() Session {
	s.Poses = append([]pose.Pose{}, s.Poses...)
	s.Detections = append([]camera.Detection{}, s.Detections...)
	if s.Residuals != nil {
		s.Residuals = append([]Residual{}, s.Residuals...)
	}
	if s.HandEyeCalibration != nil {
		p := *s.HandEyeCalibration
		s.HandEyeCalibration = &p
	}
	return s
}

// Input is one observation handed to the solver.
type Input struct {
	Pose      pose.Pose
	Detection camera.Detection
}

// Result is a solved calibration.
type Result struct {
	Transform pose.Pose
	Residuals []Residual
}

// Solver computes the hand-eye transform from at least MinPoses inputs in
// the given order. It runs on the host and needs no device access.
type Solver interface {
	Solve(ctx context.Context, mode Mode, inputs []Input) (Result, error)
}
