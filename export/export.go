// Package export writes fused, colored scene points to disk.
package export

import (
	"bufio"
	"fmt"
	"image/color"
	"io"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/rdk/pointcloud"
	"golang.org/x/exp/slices"
)

// Format names an output format.
type Format string

// Supported output formats.
const (
	FormatOBJ Format = "obj"
	FormatPCD Format = "pcd"
)

// Formats lists every supported format.
var Formats = []Format{FormatOBJ, FormatPCD}

// Extension returns the file extension for f, including the dot.
func (f Format) Extension() string {
	return "." + string(f)
}

// Validate checks that f is supported.
func (f Format) Validate() error {
	if !slices.Contains(Formats, f) {
		return errors.Errorf("unsupported output format %q, expected one of %v", f, Formats)
	}
	return nil
}

// Writer receives colored points in global coordinates. Points are written in the order
// received. Close flushes any buffered output but does not close the underlying writer.
type Writer interface {
	WritePoint(p r3.Vector, c color.NRGBA) error
	Close() error
}

// NewWriter returns a writer for format f.
func NewWriter(f Format, w io.Writer) (Writer, error) {
	switch f {
	case FormatOBJ:
		return NewOBJWriter(w)
	case FormatPCD:
		return NewPCDWriter(w), nil
	default:
		return nil, f.Validate()
	}
}

// OBJHeader is the first line of every OBJ export.
const OBJHeader = "OBJ File:"

// OBJWriter writes one vertex line per point with the color normalized to [0, 1].
type OBJWriter struct {
	w *bufio.Writer
}

// NewOBJWriter writes the header to w and returns a writer for the vertex lines.
func NewOBJWriter(w io.Writer) (*OBJWriter, error) {
	bw := bufio.NewWriter(w)
	if _, err := fmt.Fprintln(bw, OBJHeader); err != nil {
		return nil, errors.Wrap(err, "error writing obj header")
	}
	return &OBJWriter{w: bw}, nil
}

// WritePoint implements Writer.
func (o *OBJWriter) WritePoint(p r3.Vector, c color.NRGBA) error {
	_, err := fmt.Fprintf(o.w, "v %.8f %.8f %.8f %.4f %.4f %.4f\n",
		p.X, p.Y, p.Z,
		float64(c.R)/255.0, float64(c.G)/255.0, float64(c.B)/255.0)
	return err
}

// Close implements Writer.
func (o *OBJWriter) Close() error {
	return errors.Wrap(o.w.Flush(), "error flushing obj output")
}

// PCDWriter collects points and encodes them as a binary PCD file on Close.
// Coordinates are stored in meters. Points that land on the same position keep the color
// of the last one written.
type PCDWriter struct {
	out   io.Writer
	cloud pointcloud.PointCloud
}

// NewPCDWriter returns a writer that encodes to w on Close.
func NewPCDWriter(w io.Writer) *PCDWriter {
	return &PCDWriter{out: w, cloud: pointcloud.New()}
}

// WritePoint implements Writer.
func (pw *PCDWriter) WritePoint(p r3.Vector, c color.NRGBA) error {
	// the cloud is in millimeters and ToPCD scales back to meters
	mm := p.Mul(1000)
	return pw.cloud.Set(pointcloud.NewVector(mm.X, mm.Y, mm.Z), pointcloud.NewColoredData(c))
}

// Close implements Writer.
func (pw *PCDWriter) Close() error {
	bw := bufio.NewWriter(pw.out)
	if err := pointcloud.ToPCD(pw.cloud, bw, pointcloud.PCDBinary); err != nil {
		return errors.Wrap(err, "error encoding pcd output")
	}
	return errors.Wrap(bw.Flush(), "error flushing pcd output")
}
