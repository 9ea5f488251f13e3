// Package geometry implements the rigid-body transforms that move points between a sensor's
// local frame, the ego-vehicle frame and the global frame of a scene.
package geometry

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/rdk/spatialmath"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"
)

// ErrNotOrthonormal is returned by strict validation when a rotation is not a proper rotation.
var ErrNotOrthonormal = errors.New("rotation is not orthonormal")

const (
	orthonormalTolerance = 1e-6
	quaternionTolerance  = 1e-3
)

// Rotation is a 3x3 rotation matrix acting on column vectors.
type Rotation struct {
	rm spatialmath.RotationMatrix
}

// NewRotation builds a rotation from a row-major matrix. No check is made that m is orthonormal.
func NewRotation(m [9]float64) Rotation {
	rm, err := spatialmath.NewRotationMatrix(m[:])
	if err != nil {
		// unreachable, m always has nine elements
		panic(err)
	}
	return Rotation{rm: *rm}
}

// IdentityRotation returns the rotation that leaves every point unchanged.
func IdentityRotation() Rotation {
	return Rotation{rm: *spatialmath.NewZeroOrientation().RotationMatrix()}
}

// RotationFromQuaternion converts a scalar-first quaternion to a rotation matrix.
// The quaternion is normalized before conversion. A zero quaternion maps to the identity.
func RotationFromQuaternion(q quat.Number) Rotation {
	// spatialmath stores the transpose of the active rotation, which is the rotation of the conjugate
	return Rotation{rm: *spatialmath.QuatToRotationMatrix(quat.Conj(spatialmath.Normalize(q)))}
}

// CheckQuaternion reports whether q is close enough to unit length to describe a rotation.
func CheckQuaternion(q quat.Number) error {
	if n := quat.Abs(q); math.Abs(n-1) > quaternionTolerance {
		return errors.Wrapf(ErrNotOrthonormal, "quaternion norm %.6f", n)
	}
	return nil
}

// At returns the element at row i, column j.
func (r Rotation) At(i, j int) float64 {
	return r.rm.At(i, j)
}

// Rotate returns r·p.
func (r Rotation) Rotate(p r3.Vector) r3.Vector {
	return r.rm.Mul(p)
}

// Mul returns r·o.
func (r Rotation) Mul(o Rotation) Rotation {
	return Rotation{rm: *spatialmath.MatMul(r.rm, o.rm)}
}

// Transpose returns rᵗ, which is also the inverse of a proper rotation.
func (r Rotation) Transpose() Rotation {
	c0, c1, c2 := r.rm.Col(0), r.rm.Col(1), r.rm.Col(2)
	return NewRotation([9]float64{c0.X, c0.Y, c0.Z, c1.X, c1.Y, c1.Z, c2.X, c2.Y, c2.Z})
}

func (r Rotation) dense() *mat.Dense {
	return mat.NewDense(3, 3, []float64{
		r.At(0, 0), r.At(0, 1), r.At(0, 2),
		r.At(1, 0), r.At(1, 1), r.At(1, 2),
		r.At(2, 0), r.At(2, 1), r.At(2, 2),
	})
}

// Det returns the determinant of r.
func (r Rotation) Det() float64 {
	return mat.Det(r.dense())
}

// AlmostEqual compares two rotations element-wise within tol.
func (r Rotation) AlmostEqual(o Rotation, tol float64) bool {
	return mat.EqualApprox(r.dense(), o.dense(), tol)
}

// CheckOrthonormal returns ErrNotOrthonormal unless rᵗ·r is the identity and det(r) is 1.
func (r Rotation) CheckOrthonormal() error {
	var rtr mat.Dense
	rtr.Mul(r.dense().T(), r.dense())
	if !mat.EqualApprox(&rtr, IdentityRotation().dense(), orthonormalTolerance) {
		return errors.Wrap(ErrNotOrthonormal, "rᵗr is not the identity")
	}
	if d := r.Det(); math.Abs(d-1) > orthonormalTolerance {
		return errors.Wrapf(ErrNotOrthonormal, "determinant %.9f", d)
	}
	return nil
}

// RigidTransform is an affine pose: Apply(p) = R·p + t. It is a value type and never mutated.
type RigidTransform struct {
	Rotation    Rotation
	Translation r3.Vector
}

// Identity returns the transform that leaves every point unchanged.
func Identity() RigidTransform {
	return RigidTransform{Rotation: IdentityRotation()}
}

// NewRigidTransform builds a transform from a scalar-first quaternion and a translation.
func NewRigidTransform(q quat.Number, t r3.Vector) RigidTransform {
	return RigidTransform{Rotation: RotationFromQuaternion(q), Translation: t}
}

// Apply returns R·p + t.
func (rt RigidTransform) Apply(p r3.Vector) r3.Vector {
	return rt.Rotation.Rotate(p).Add(rt.Translation)
}

// Compose returns the transform equivalent to applying inner and then outer.
func Compose(outer, inner RigidTransform) RigidTransform {
	return RigidTransform{
		Rotation:    outer.Rotation.Mul(inner.Rotation),
		Translation: outer.Rotation.Rotate(inner.Translation).Add(outer.Translation),
	}
}

// Inverse returns the transform with R' = Rᵗ and t' = -Rᵗ·t.
func (rt RigidTransform) Inverse() RigidTransform {
	rT := rt.Rotation.Transpose()
	return RigidTransform{
		Rotation:    rT,
		Translation: rT.Rotate(rt.Translation).Mul(-1),
	}
}

// AlmostEqual compares rotation and translation within tol.
func (rt RigidTransform) AlmostEqual(o RigidTransform, tol float64) bool {
	return rt.Rotation.AlmostEqual(o.Rotation, tol) &&
		math.Abs(rt.Translation.X-o.Translation.X) <= tol &&
		math.Abs(rt.Translation.Y-o.Translation.Y) <= tol &&
		math.Abs(rt.Translation.Z-o.Translation.Z) <= tol
}
