package geometry

import (
	"github.com/golang/geo/r3"
)

// Frames reached by each step of a Chain.
const (
	FrameSourceEgo        = "ego@source"
	FrameGlobal           = "global"
	FrameDestinationEgo   = "ego@destination"
	FrameDestinationLocal = "sensor@destination"
)

// Observation is the pose chain of a single sensor observation: the calibration pose
// (sensor → ego) and the ego pose (ego → global) at the time the observation was captured.
type Observation struct {
	Calibration RigidTransform
	EgoPose     RigidTransform
}

// Step is one elementary frame change. Forward steps rotate and then translate; backward
// steps translate by the negated translation and then rotate by the transposed rotation,
// undoing exactly the forward step that produced the frame.
type Step struct {
	Frame       string
	Rotation    Rotation
	Translation r3.Vector
	backward    bool
}

func forwardStep(frame string, pose RigidTransform) Step {
	return Step{Frame: frame, Rotation: pose.Rotation, Translation: pose.Translation}
}

func backwardStep(frame string, pose RigidTransform) Step {
	return Step{
		Frame:       frame,
		Rotation:    pose.Rotation.Transpose(),
		Translation: pose.Translation.Mul(-1),
		backward:    true,
	}
}

// Backward reports whether the step translates before rotating.
func (s Step) Backward() bool {
	return s.backward
}

// Apply moves p through the step.
func (s Step) Apply(p r3.Vector) r3.Vector {
	if s.backward {
		return s.Rotation.Rotate(p.Add(s.Translation))
	}
	return s.Rotation.Rotate(p).Add(s.Translation)
}

// Transform returns the step as a single rigid transform.
func (s Step) Transform() RigidTransform {
	if s.backward {
		return RigidTransform{Rotation: s.Rotation, Translation: s.Rotation.Rotate(s.Translation)}
	}
	return RigidTransform{Rotation: s.Rotation, Translation: s.Translation}
}

// Chain maps a point from one sensor's local frame at its capture time into another sensor's
// local frame at a different capture time, passing through the ego and global frames.
// The four steps are always applied one after another in order; they are never folded into
// a single matrix on the hot path.
type Chain struct {
	steps [4]Step
}

// Resolve builds the chain from the src observation's local frame to dst's local frame.
func Resolve(src, dst Observation) Chain {
	return Chain{steps: [4]Step{
		forwardStep(FrameSourceEgo, src.Calibration),
		forwardStep(FrameGlobal, src.EgoPose),
		backwardStep(FrameDestinationEgo, dst.EgoPose),
		backwardStep(FrameDestinationLocal, dst.Calibration),
	}}
}

// Steps returns the four steps in application order.
func (c Chain) Steps() []Step {
	out := make([]Step, len(c.steps))
	copy(out, c.steps[:])
	return out
}

// Apply moves p from the source frame into the destination frame.
func (c Chain) Apply(p r3.Vector) r3.Vector {
	for _, s := range c.steps {
		p = s.Apply(p)
	}
	return p
}

// ApplyAll returns the destination-frame coordinates of every point. The input is not modified.
func (c Chain) ApplyAll(points []r3.Vector) []r3.Vector {
	out := make([]r3.Vector, len(points))
	for i, p := range points {
		out[i] = c.Apply(p)
	}
	return out
}

// Transform folds the chain into one rigid transform. Only meant for inspection and tests.
func (c Chain) Transform() RigidTransform {
	out := Identity()
	for _, s := range c.steps {
		out = Compose(s.Transform(), out)
	}
	return out
}
