package export_test

import (
	"bytes"
	"image/color"
	"strings"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"github.com/viamrobotics/viam-scene-fusion/export"
	"github.com/viamrobotics/viam-scene-fusion/pointcloud"
)

func TestOBJWriter(t *testing.T) {
	t.Run("Header precedes vertex lines", func(t *testing.T) {
		var buf bytes.Buffer
		w, err := export.NewOBJWriter(&buf)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, w.WritePoint(r3.Vector{X: 1, Y: -2.5, Z: 0.123456789}, color.NRGBA{128, 64, 32, 255}), test.ShouldBeNil)
		test.That(t, w.WritePoint(r3.Vector{}, color.NRGBA{255, 0, 0, 255}), test.ShouldBeNil)
		test.That(t, w.Close(), test.ShouldBeNil)

		lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
		test.That(t, lines, test.ShouldResemble, []string{
			"OBJ File:",
			"v 1.00000000 -2.50000000 0.12345679 0.5020 0.2510 0.1255",
			"v 0.00000000 0.00000000 0.00000000 1.0000 0.0000 0.0000",
		})
	})

	t.Run("Nothing reaches the output before Close", func(t *testing.T) {
		var buf bytes.Buffer
		w, err := export.NewOBJWriter(&buf)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, w.WritePoint(r3.Vector{X: 1}, color.NRGBA{A: 255}), test.ShouldBeNil)
		test.That(t, buf.Len(), test.ShouldEqual, 0)
		test.That(t, w.Close(), test.ShouldBeNil)
		test.That(t, buf.String(), test.ShouldStartWith, "OBJ File:\nv 1.00000000")
	})
}

func TestPCDWriter(t *testing.T) {
	var buf bytes.Buffer
	w, err := export.NewWriter(export.FormatPCD, &buf)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, w.WritePoint(r3.Vector{X: 1.5, Y: 2, Z: -3}, color.NRGBA{128, 64, 32, 255}), test.ShouldBeNil)
	test.That(t, w.Close(), test.ShouldBeNil)
	test.That(t, buf.String(), test.ShouldStartWith, "VERSION .7\nFIELDS x y z rgb\n")

	pc, err := pointcloud.ReadPCD(&buf)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pc.Len(), test.ShouldEqual, 1)
	test.That(t, pc.Points[0].X, test.ShouldAlmostEqual, 1.5, 1e-6)
	test.That(t, pc.Points[0].Y, test.ShouldAlmostEqual, 2, 1e-6)
	test.That(t, pc.Points[0].Z, test.ShouldAlmostEqual, -3, 1e-6)
	test.That(t, pc.Channels["rgb"], test.ShouldResemble, []float64{128<<16 | 64<<8 | 32})
}

func TestFormat(t *testing.T) {
	test.That(t, export.FormatOBJ.Validate(), test.ShouldBeNil)
	test.That(t, export.FormatPCD.Extension(), test.ShouldEqual, ".pcd")

	_, err := export.NewWriter(export.Format("ply"), &bytes.Buffer{})
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, `unsupported output format "ply"`)
}
