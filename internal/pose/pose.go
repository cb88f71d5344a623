// Package pose converts rigid transforms between a position plus
// rotation-vector form and 4x4 homogeneous matrices.
package pose

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
)

// smallAngle is the rotation magnitude below which the first-order
// expansions of sin and cos are used.
const smallAngle = 1e-9

// Pose is a rigid transform. Position is in the same unit as the matrices it
// is built from (millimetres for the camera). Orientation is a rotation
// vector: its direction is the rotation axis and its norm the angle in
// radians, expected within [0, π].
type Pose struct {
	Position    [3]float64 `json:"position"`
	Orientation [3]float64 `json:"orientation"`
}

// FromMatrix decomposes a 4x4 homogeneous rigid transform. It panics with
// mat.ErrShape if m is not 4x4. The result for a non-rigid m is undefined.
func FromMatrix(m mat.Matrix) Pose {
	if r, c := m.Dims(); r != 4 || c != 4 {
		panic(mat.ErrShape)
	}

	var rot [3][3]float64
	for i := range 3 {
		for j := range 3 {
			rot[i][j] = m.At(i, j)
		}
	}

	return Pose{
		Position:    [3]float64{m.At(0, 3), m.At(1, 3), m.At(2, 3)},
		Orientation: vecArray(rotationVector(rot)),
	}
}

// Matrix builds the 4x4 homogeneous transform for p.
func (p Pose) Matrix() *mat.Dense {
	rot := rotationMatrix(arrayVec(p.Orientation))

	m := mat.NewDense(4, 4, nil)
	for i := range 3 {
		for j := range 3 {
			m.Set(i, j, rot[i][j])
		}
		m.Set(i, 3, p.Position[i])
	}
	m.Set(3, 3, 1)
	return m
}

// FromRowMajor builds a Pose from a vendor 4x4 matrix laid out row by row.
func FromRowMajor(v [16]float64) Pose {
	return FromMatrix(mat.NewDense(4, 4, v[:]))
}

// RowMajor returns the vendor row-major layout of p's matrix.
func (p Pose) RowMajor() [16]float64 {
	var out [16]float64
	copy(out[:], p.Matrix().RawMatrix().Data)
	return out
}

// Angle is the rotation magnitude in radians.
func (p Pose) Angle() float64 {
	return r3.Norm(arrayVec(p.Orientation))
}

// rotationMatrix is the Rodrigues formula R = I + sinθ·K + (1-cosθ)·K².
func rotationMatrix(rv r3.Vec) [3][3]float64 {
	theta := r3.Norm(rv)
	if theta < smallAngle {
		// R ≈ I + K
		return [3][3]float64{
			{1, -rv.Z, rv.Y},
			{rv.Z, 1, -rv.X},
			{-rv.Y, rv.X, 1},
		}
	}

	k := r3.Scale(1/theta, rv)
	s, c := math.Sincos(theta)
	t := 1 - c

	return [3][3]float64{
		{c + k.X*k.X*t, k.X*k.Y*t - k.Z*s, k.X*k.Z*t + k.Y*s},
		{k.Y*k.X*t + k.Z*s, c + k.Y*k.Y*t, k.Y*k.Z*t - k.X*s},
		{k.Z*k.X*t - k.Y*s, k.Z*k.Y*t + k.X*s, c + k.Z*k.Z*t},
	}
}

// rotationVector is the inverse of rotationMatrix for angles in [0, π].
func rotationVector(rot [3][3]float64) r3.Vec {
	// The skew-symmetric part is 2·sinθ·k.
	skew := r3.Vec{
		X: rot[2][1] - rot[1][2],
		Y: rot[0][2] - rot[2][0],
		Z: rot[1][0] - rot[0][1],
	}
	cosTheta := math.Max(-1, math.Min(1, (rot[0][0]+rot[1][1]+rot[2][2]-1)/2))
	theta := math.Atan2(r3.Norm(skew)/2, cosTheta)

	switch {
	case theta < smallAngle:
		return r3.Scale(0.5, skew)
	case math.Pi-theta < 1e-6:
		return nearPiVector(rot, skew, theta, cosTheta)
	default:
		return r3.Scale(theta/(2*math.Sin(theta)), skew)
	}
}

// nearPiVector recovers the axis from the symmetric part when sinθ is too
// small to divide by. The diagonal gives k_i² = (R_ii - cosθ) / (1 - cosθ);
// the largest component comes from it and the others from the off-diagonal
// sums so their relative signs are kept.
func nearPiVector(rot [3][3]float64, skew r3.Vec, theta, cosTheta float64) r3.Vec {
	t := 1 - cosTheta
	sq := func(i int) float64 {
		return math.Sqrt(math.Max(0, (rot[i][i]-cosTheta)/t))
	}

	var axis r3.Vec
	switch {
	case rot[0][0] >= rot[1][1] && rot[0][0] >= rot[2][2]:
		axis.X = sq(0)
		axis.Y = (rot[0][1] + rot[1][0]) / (2 * t * axis.X)
		axis.Z = (rot[0][2] + rot[2][0]) / (2 * t * axis.X)
	case rot[1][1] >= rot[2][2]:
		axis.Y = sq(1)
		axis.X = (rot[0][1] + rot[1][0]) / (2 * t * axis.Y)
		axis.Z = (rot[1][2] + rot[2][1]) / (2 * t * axis.Y)
	default:
		axis.Z = sq(2)
		axis.X = (rot[0][2] + rot[2][0]) / (2 * t * axis.Z)
		axis.Y = (rot[1][2] + rot[2][1]) / (2 * t * axis.Z)
	}
	axis = r3.Unit(axis)

	// Just short of π the skew part still carries the sign of the axis.
	if r3.Dot(axis, skew) < 0 {
		axis = r3.Scale(-1, axis)
	}
	return r3.Scale(theta, axis)
}

func arrayVec(a [3]float64) r3.Vec {
	return r3.Vec{X: a[0], Y: a[1], Z: a[2]}
}

func vecArray(v r3.Vec) [3]float64 {
	return [3]float64{v.X, v.Y, v.Z}
}
