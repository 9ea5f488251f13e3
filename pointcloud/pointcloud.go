// Package pointcloud defines the ordered, mutable point buffer that one frame of a range
// sensor is decoded into, along with readers for the on-disk lidar and radar formats.
//
// A PointCloud is owned by exactly one caller at a time. Transforms mutate it in place,
// so callers that need the original coordinates must copy them with Positions first.
package pointcloud

import (
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"github.com/viamrobotics/viam-scene-fusion/geometry"
)

// Auxiliary channel names produced by the decoders.
const (
	ChannelIntensity = "intensity"
	ChannelRing      = "ring"
)

// PointCloud is an ordered sequence of 3-D points plus optional per-point channels.
// Every channel slice has the same length as Points.
type PointCloud struct {
	Points   []r3.Vector
	Channels map[string][]float64
}

// New returns a cloud holding points with no auxiliary channels.
func New(points []r3.Vector) *PointCloud {
	return &PointCloud{Points: points, Channels: map[string][]float64{}}
}

// Len returns the number of points.
func (pc *PointCloud) Len() int {
	return len(pc.Points)
}

// SetChannel attaches an auxiliary channel.
func (pc *PointCloud) SetChannel(name string, values []float64) error {
	if len(values) != len(pc.Points) {
		return errors.Errorf("channel %q has %d values for %d points", name, len(values), len(pc.Points))
	}
	if pc.Channels == nil {
		pc.Channels = map[string][]float64{}
	}
	pc.Channels[name] = values
	return nil
}

// Positions returns a copy of the point coordinates.
func (pc *PointCloud) Positions() []r3.Vector {
	out := make([]r3.Vector, len(pc.Points))
	copy(out, pc.Points)
	return out
}

// Rotate applies r to every point in place.
func (pc *PointCloud) Rotate(r geometry.Rotation) {
	for i, p := range pc.Points {
		pc.Points[i] = r.Rotate(p)
	}
}

// Translate adds t to every point in place.
func (pc *PointCloud) Translate(t r3.Vector) {
	for i, p := range pc.Points {
		pc.Points[i] = p.Add(t)
	}
}

// Transform rotates and then translates every point in place.
func (pc *PointCloud) Transform(rt geometry.RigidTransform) {
	pc.Rotate(rt.Rotation)
	pc.Translate(rt.Translation)
}

// DistancesFromOrigin returns the Euclidean norm of every point.
func (pc *PointCloud) DistancesFromOrigin() []float64 {
	out := make([]float64, len(pc.Points))
	for i, p := range pc.Points {
		out[i] = p.Norm()
	}
	return out
}

// Filter keeps the points whose keep entry is true, preserving order, and returns how many
// survived. Channels are filtered alongside the points.
func (pc *PointCloud) Filter(keep []bool) (int, error) {
	if len(keep) != len(pc.Points) {
		return 0, errors.Errorf("filter mask has %d entries for %d points", len(keep), len(pc.Points))
	}
	n := 0
	for i, ok := range keep {
		if !ok {
			continue
		}
		pc.Points[n] = pc.Points[i]
		for _, values := range pc.Channels {
			values[n] = values[i]
		}
		n++
	}
	pc.Points = pc.Points[:n]
	for name, values := range pc.Channels {
		pc.Channels[name] = values[:n]
	}
	return n, nil
}
