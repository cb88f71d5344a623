package calibration

import (
	"context"
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/nerrad567/gray-logic-vision/internal/pose"
)

// ErrDegenerate indicates the collected poses do not determine the
// transform, e.g. every robot pose has the same orientation.
var ErrDegenerate = errors.New("calibration: poses do not constrain the hand-eye transform")

// rankTolerance is the relative singular value below which a direction of
// the translation system is treated as unconstrained.
const rankTolerance = 1e-9

// HandEyeSolver solves AX = XB on the host. The rotation is the least
// squares fit between the rotation vectors of every pair of relative
// motions; the translation follows from the stacked linear system.
//
// For EyeInHand the poses are flange in base and X is the camera in the
// flange. For EyeToHand the poses are inverted first and X is the camera
// in the base.
type HandEyeSolver struct{}

// Solve implements Solver.
func (HandEyeSolver) Solve(ctx context.Context, mode Mode, inputs []Input) (Result, error) {
	if len(inputs) < MinPoses {
		return Result{}, fmt.Errorf("%w: %d poses", ErrDegenerate, len(inputs))
	}

	robot := make([]*mat.Dense, len(inputs))
	board := make([]*mat.Dense, len(inputs))
	for i, in := range inputs {
		robot[i] = in.Pose.Matrix()
		if mode == EyeToHand {
			robot[i] = rigidInverse(robot[i])
		}
		board[i] = in.Detection.Pose().Matrix()
	}

	motions := relativeMotions(robot, board)
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	rot := solveRotation(motions)
	trans, err := solveTranslation(motions, rot)
	if err != nil {
		return Result{}, err
	}

	x := mat.NewDense(4, 4, nil)
	for i := range 3 {
		for j := range 3 {
			x.Set(i, j, rot.At(i, j))
		}
		x.Set(i, 3, trans.AtVec(i))
	}
	x.Set(3, 3, 1)

	return Result{
		Transform: pose.FromMatrix(x),
		Residuals: residuals(robot, board, x),
	}, nil
}

// motion is one relative movement: A is the robot side, B the camera side.
type motion struct {
	a, b *mat.Dense
}

// relativeMotions pairs every two observations. With the board fixed,
// Pi·X·Di is constant, so Pj⁻¹Pi·X = X·DjDi⁻¹.
func relativeMotions(robot, board []*mat.Dense) []motion {
	var out []motion
	for j := range robot {
		pj := rigidInverse(robot[j])
		for i := j + 1; i < len(robot); i++ {
			var a, b mat.Dense
			a.Mul(pj, robot[i])
			b.Mul(board[j], rigidInverse(board[i]))
			out = append(out, motion{a: &a, b: &b})
		}
	}
	return out
}

// solveRotation finds R maximising Σ αᵢ·Rβᵢ where α and β are the
// rotation vectors of A and B, using the SVD of Σ βᵢαᵢᵀ.
func solveRotation(motions []motion) *mat.Dense {
	h := mat.NewDense(3, 3, nil)
	for _, m := range motions {
		alpha := pose.FromMatrix(m.a).Orientation
		beta := pose.FromMatrix(m.b).Orientation
		var outer mat.Dense
		outer.Outer(1, mat.NewVecDense(3, beta[:]), mat.NewVecDense(3, alpha[:]))
		h.Add(h, &outer)
	}
	return nearestRotation(h, true)
}

// solveTranslation solves (Ra - I)·t = R·tb - ta for t in the least
// squares sense.
func solveTranslation(motions []motion, rot *mat.Dense) (*mat.VecDense, error) {
	c := mat.NewDense(3*len(motions), 3, nil)
	d := mat.NewVecDense(3*len(motions), nil)

	for k, m := range motions {
		tb := mat.NewVecDense(3, []float64{m.b.At(0, 3), m.b.At(1, 3), m.b.At(2, 3)})
		var rtb mat.VecDense
		rtb.MulVec(rot, tb)

		for i := range 3 {
			for j := range 3 {
				v := m.a.At(i, j)
				if i == j {
					v--
				}
				c.Set(3*k+i, j, v)
			}
			d.SetVec(3*k+i, rtb.AtVec(i)-m.a.At(i, 3))
		}
	}

	var svd mat.SVD
	if !svd.Factorize(c, mat.SVDThin) {
		return nil, fmt.Errorf("%w: translation system did not factorize", ErrDegenerate)
	}
	rank := svd.Rank(rankTolerance)
	if rank == 0 {
		return nil, fmt.Errorf("%w: no rotation between poses", ErrDegenerate)
	}

	var t mat.VecDense
	svd.SolveVecTo(&t, d, rank)
	return &t, nil
}

// residuals compares each observation's board pose Pi·X·Di against their
// mean. Translation is in the pose unit (millimetres), rotation in degrees.
func residuals(robot, board []*mat.Dense, x *mat.Dense) []Residual {
	chain := make([]*mat.Dense, len(robot))
	sumRot := mat.NewDense(3, 3, nil)
	var mean [3]float64
	for i := range robot {
		var px, t mat.Dense
		px.Mul(robot[i], x)
		t.Mul(&px, board[i])
		chain[i] = &t

		sumRot.Add(sumRot, t.Slice(0, 3, 0, 3))
		for k := range 3 {
			mean[k] += t.At(k, 3) / float64(len(robot))
		}
	}
	meanRot := nearestRotation(sumRot, false)

	out := make([]Residual, len(chain))
	for i, t := range chain {
		var dist float64
		for k := range 3 {
			dist += (t.At(k, 3) - mean[k]) * (t.At(k, 3) - mean[k])
		}
		out[i] = Residual{
			Translation: math.Sqrt(dist),
			Rotation:    rotationBetween(meanRot, t.Slice(0, 3, 0, 3)) * 180 / math.Pi,
		}
	}
	return out
}

// nearestRotation projects m onto SO(3). With transposed set, m is taken
// as Σ βαᵀ and the result maps β onto α (Kabsch); otherwise the result is
// the rotation closest to m itself.
func nearestRotation(m mat.Matrix, transposed bool) *mat.Dense {
	var svd mat.SVD
	if !svd.Factorize(m, mat.SVDFull) {
		return identity3()
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	left, right := &u, &v
	if transposed {
		left, right = &v, &u
	}

	var probe mat.Dense
	probe.Mul(left, right.T())
	fix := mat.NewDiagDense(3, []float64{1, 1, math.Copysign(1, mat.Det(&probe))})

	var r, lf mat.Dense
	lf.Mul(left, fix)
	r.Mul(&lf, right.T())
	return &r
}

// rotationBetween is the angle in radians of a⁻¹b.
func rotationBetween(a, b mat.Matrix) float64 {
	var rel mat.Dense
	rel.Mul(a.T(), b)
	c := (mat.Trace(&rel) - 1) / 2
	return math.Acos(math.Max(-1, math.Min(1, c)))
}

func rigidInverse(m *mat.Dense) *mat.Dense {
	out := mat.NewDense(4, 4, nil)
	for i := range 3 {
		var t float64
		for j := range 3 {
			out.Set(i, j, m.At(j, i))
			t -= m.At(j, i) * m.At(j, 3)
		}
		out.Set(i, 3, t)
	}
	out.Set(3, 3, 1)
	return out
}

func identity3() *mat.Dense {
	return mat.NewDense(3, 3, []float64{1, 0, 0, 0, 1, 0, 0, 0, 1})
}
