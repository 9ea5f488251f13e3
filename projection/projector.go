// Package projection takes a "picture" of camera-frame points: it projects them through a
// pinhole intrinsic matrix, decides which land inside the image and samples their color.
package projection

import (
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/rdk/rimage/transform"
	"gonum.org/v1/gonum/mat"
)

// ErrBadIntrinsic is returned when an intrinsic matrix cannot describe a pinhole camera.
var ErrBadIntrinsic = errors.New("invalid camera intrinsic")

// borderMargin keeps projected points at least this many pixels away from every image border.
const borderMargin = 1

// NewIntrinsic builds the 3x3 intrinsic matrix K from its rows.
func NewIntrinsic(rows [][]float64) (*mat.Dense, error) {
	if len(rows) != 3 {
		return nil, errors.Wrapf(ErrBadIntrinsic, "expected 3 rows, got %d", len(rows))
	}
	data := make([]float64, 0, 9)
	for i, row := range rows {
		if len(row) != 3 {
			return nil, errors.Wrapf(ErrBadIntrinsic, "row %d has %d columns", i, len(row))
		}
		data = append(data, row...)
	}
	return mat.NewDense(3, 3, data), nil
}

// CheckIntrinsic validates K as a zero-skew pinhole model for an image of the given size.
func CheckIntrinsic(k mat.Matrix, width, height int) error {
	if r, c := k.Dims(); r != 3 || c != 3 {
		return errors.Wrapf(ErrBadIntrinsic, "expected 3x3, got %dx%d", r, c)
	}
	if k.At(0, 1) != 0 || k.At(1, 0) != 0 || k.At(2, 0) != 0 || k.At(2, 1) != 0 || k.At(2, 2) != 1 {
		return errors.Wrapf(ErrBadIntrinsic, "not a zero-skew pinhole matrix: %v", mat.Formatted(k, mat.Squeeze()))
	}
	pinhole := &transform.PinholeCameraIntrinsics{
		Width:  width,
		Height: height,
		Fx:     k.At(0, 0),
		Fy:     k.At(1, 1),
		Ppx:    k.At(0, 2),
		Ppy:    k.At(1, 2),
	}
	if err := pinhole.CheckValid(); err != nil {
		return errors.Wrap(ErrBadIntrinsic, err.Error())
	}
	return nil
}

// PointMatrix lays the points out as the columns of a 3xN matrix. It returns nil for no points.
func PointMatrix(points []r3.Vector) *mat.Dense {
	if len(points) == 0 {
		return nil
	}
	m := mat.NewDense(3, len(points), nil)
	for j, p := range points {
		m.Set(0, j, p.X)
		m.Set(1, j, p.Y)
		m.Set(2, j, p.Z)
	}
	return m
}

// ViewPoints returns K·points. With normalize set, the first two rows are divided by the
// third and the third row is set to 1.
func ViewPoints(points mat.Matrix, k mat.Matrix, normalize bool) *mat.Dense {
	var out mat.Dense
	out.Mul(k, points)
	if !normalize {
		return &out
	}
	_, n := out.Dims()
	for j := 0; j < n; j++ {
		z := out.At(2, j)
		out.Set(0, j, out.At(0, j)/z)
		out.Set(1, j, out.At(1, j)/z)
		out.Set(2, j, 1)
	}
	return &out
}

// Projection is the image-plane view of a set of camera-frame points. Pixels holds (u, v, 1)
// for every input point, visible or not; Mask marks the visible ones.
type Projection struct {
	Pixels *mat.Dense
	Mask   []bool
	Width  int
	Height int
}

// Len returns the number of projected points.
func (p Projection) Len() int {
	return len(p.Mask)
}

// Pixel returns the sub-pixel image coordinate of point i.
func (p Projection) Pixel(i int) (u, v float64) {
	return p.Pixels.At(0, i), p.Pixels.At(1, i)
}

// Visible returns the number of points whose mask is set.
func (p Projection) Visible() int {
	n := 0
	for _, ok := range p.Mask {
		if ok {
			n++
		}
	}
	return n
}

// Project projects camera-frame points through K onto an image of the given size.
// A point is visible when its camera-frame depth is positive and its pixel lies strictly
// inside the image with a one pixel margin on every border.
func Project(points []r3.Vector, k mat.Matrix, width, height int) Projection {
	proj := Projection{Mask: make([]bool, len(points)), Width: width, Height: height}
	m := PointMatrix(points)
	if m == nil {
		return proj
	}
	proj.Pixels = ViewPoints(m, k, true)
	for i, p := range points {
		u, v := proj.Pixel(i)
		proj.Mask[i] = p.Z > 0 &&
			u > borderMargin && u < float64(width-borderMargin) &&
			v > borderMargin && v < float64(height-borderMargin)
	}
	return proj
}
