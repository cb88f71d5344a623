package calibration

import (
	"context"
	"errors"
	"testing"

	"github.com/nerrad567/gray-logic-vision/internal/pose"
)

type staticDetection struct{ p pose.Pose }

func (d staticDetection) Valid() bool      { return true }
func (d staticDetection) Feedback() string { return "" }
func (d staticDetection) Pose() pose.Pose  { return d.p }

func TestHandEyeSolver_Degenerate(t *testing.T) {
	board := staticDetection{p: pose.Pose{Position: [3]float64{0, 0, 600}}}

	tests := []struct {
		name   string
		inputs []Input
	}{
		{"one pose", []Input{{Pose: robotPoses[0], Detection: board}}},
		{"pure translation", []Input{
			{Pose: pose.Pose{Position: [3]float64{0, 0, 0}}, Detection: board},
			{Pose: pose.Pose{Position: [3]float64{50, 0, 0}}, Detection: board},
			{Pose: pose.Pose{Position: [3]float64{0, 50, 0}}, Detection: board},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := HandEyeSolver{}.Solve(context.Background(), EyeInHand, tt.inputs)
			if !errors.Is(err, ErrDegenerate) {
				t.Errorf("Solve() error = %v, want ErrDegenerate", err)
			}
		})
	}
}

func TestHandEyeSolver_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	board := staticDetection{p: pose.Pose{Position: [3]float64{0, 0, 600}}}
	inputs := []Input{{Pose: robotPoses[0], Detection: board}, {Pose: robotPoses[1], Detection: board}}
	if _, err := (HandEyeSolver{}).Solve(ctx, EyeInHand, inputs); !errors.Is(err, context.Canceled) {
		t.Errorf("Solve() error = %v, want context.Canceled", err)
	}
}

func TestRigidInverse(t *testing.T) {
	p := robotPoses[2]
	got := mul(p.Matrix(), rigidInverse(p.Matrix()))
	for i := range 4 {
		for j := range 4 {
			want := 0.0
			if i == j {
				want = 1
			}
			if d := got.At(i, j) - want; d > 1e-12 || d < -1e-12 {
				t.Fatalf("P·P⁻¹[%d][%d] = %v", i, j, got.At(i, j))
			}
		}
	}
}
