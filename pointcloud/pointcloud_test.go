package pointcloud_test

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
	"gonum.org/v1/gonum/num/quat"

	"github.com/viamrobotics/viam-scene-fusion/geometry"
	"github.com/viamrobotics/viam-scene-fusion/pointcloud"
)

func TestTransforms(t *testing.T) {
	t.Run("Transform rotates before translating", func(t *testing.T) {
		pc := pointcloud.New([]r3.Vector{{X: 1}, {Y: 2}})
		q := quat.Number{Real: math.Cos(math.Pi / 4), Kmag: math.Sin(math.Pi / 4)}
		pc.Transform(geometry.NewRigidTransform(q, r3.Vector{X: 10}))
		test.That(t, pc.Points[0].X, test.ShouldAlmostEqual, 10)
		test.That(t, pc.Points[0].Y, test.ShouldAlmostEqual, 1)
		test.That(t, pc.Points[1].X, test.ShouldAlmostEqual, 8)
		test.That(t, pc.Points[1].Y, test.ShouldAlmostEqual, 0)
	})

	t.Run("Positions is a copy", func(t *testing.T) {
		pc := pointcloud.New([]r3.Vector{{X: 1}})
		before := pc.Positions()
		pc.Translate(r3.Vector{Z: 5})
		test.That(t, before, test.ShouldResemble, []r3.Vector{{X: 1}})
		test.That(t, pc.Points, test.ShouldResemble, []r3.Vector{{X: 1, Z: 5}})
	})

	t.Run("Distances from origin", func(t *testing.T) {
		pc := pointcloud.New([]r3.Vector{{X: 3, Y: 4}, {}, {Z: -2}})
		test.That(t, pc.DistancesFromOrigin(), test.ShouldResemble, []float64{5, 0, 2})
	})
}

func TestFilter(t *testing.T) {
	t.Run("Keeps order and channels", func(t *testing.T) {
		pc := pointcloud.New([]r3.Vector{{X: 1}, {X: 2}, {X: 3}, {X: 4}})
		test.That(t, pc.SetChannel(pointcloud.ChannelIntensity, []float64{10, 20, 30, 40}), test.ShouldBeNil)
		n, err := pc.Filter([]bool{false, true, false, true})
		test.That(t, err, test.ShouldBeNil)
		test.That(t, n, test.ShouldEqual, 2)
		test.That(t, pc.Points, test.ShouldResemble, []r3.Vector{{X: 2}, {X: 4}})
		test.That(t, pc.Channels[pointcloud.ChannelIntensity], test.ShouldResemble, []float64{20, 40})
	})

	t.Run("Mask length mismatch failure", func(t *testing.T) {
		pc := pointcloud.New([]r3.Vector{{X: 1}})
		_, err := pc.Filter([]bool{true, false})
		test.That(t, err, test.ShouldNotBeNil)
	})

	t.Run("Channel length mismatch failure", func(t *testing.T) {
		pc := pointcloud.New([]r3.Vector{{X: 1}})
		test.That(t, pc.SetChannel("rcs", []float64{1, 2}), test.ShouldNotBeNil)
	})
}

func TestBin(t *testing.T) {
	t.Run("Encoded sweep decodes to the same points", func(t *testing.T) {
		pc := pointcloud.New([]r3.Vector{{X: 1.5, Y: -2.25, Z: 0.125}, {X: 30, Y: 0, Z: -1}})
		test.That(t, pc.SetChannel(pointcloud.ChannelIntensity, []float64{7, 99}), test.ShouldBeNil)
		var buf bytes.Buffer
		test.That(t, pointcloud.WriteBin(&buf, pc), test.ShouldBeNil)
		test.That(t, buf.Len(), test.ShouldEqual, 2*5*4)

		got, err := pointcloud.ReadBin(&buf)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, got.Points, test.ShouldResemble, pc.Points)
		test.That(t, got.Channels[pointcloud.ChannelIntensity], test.ShouldResemble, []float64{7, 99})
		test.That(t, got.Channels[pointcloud.ChannelRing], test.ShouldResemble, []float64{0, 0})
	})

	t.Run("Truncated sweep failure", func(t *testing.T) {
		_, err := pointcloud.ReadBin(bytes.NewReader(make([]byte, 21)))
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, err.Error(), test.ShouldContainSubstring, "corrupt point cloud")
	})
}

func radarPCD(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	buf.WriteString("# .PCD v0.7 - Point Cloud Data file format\n" +
		"VERSION 0.7\n" +
		"FIELDS x y z dyn_prop id rcs\n" +
		"SIZE 4 4 4 1 2 4\n" +
		"TYPE F F F I I F\n" +
		"COUNT 1 1 1 1 1 1\n" +
		"WIDTH 2\n" +
		"HEIGHT 1\n" +
		"VIEWPOINT 0 0 0 1 0 0 0\n" +
		"POINTS 2\n" +
		"DATA binary\n")
	write := func(v interface{}) {
		test.That(t, binary.Write(&buf, binary.LittleEndian, v), test.ShouldBeNil)
	}
	write(float32(10))
	write(float32(-1))
	write(float32(0.5))
	write(int8(-3))
	write(int16(7))
	write(float32(4.5))

	write(float32(20))
	write(float32(2))
	write(float32(0))
	write(int8(1))
	write(int16(8))
	write(float32(-5))
	return buf.Bytes()
}

func TestPCD(t *testing.T) {
	t.Run("Binary radar file", func(t *testing.T) {
		pc, err := pointcloud.ReadPCD(bytes.NewReader(radarPCD(t)))
		test.That(t, err, test.ShouldBeNil)
		test.That(t, pc.Points, test.ShouldResemble, []r3.Vector{{X: 10, Y: -1, Z: 0.5}, {X: 20, Y: 2, Z: 0}})
		test.That(t, pc.Channels["dyn_prop"], test.ShouldResemble, []float64{-3, 1})
		test.That(t, pc.Channels["id"], test.ShouldResemble, []float64{7, 8})
		test.That(t, pc.Channels["rcs"], test.ShouldResemble, []float64{4.5, -5})
	})

	t.Run("Ascii file", func(t *testing.T) {
		data := "FIELDS x y z\nSIZE 4 4 4\nTYPE F F F\nCOUNT 1 1 1\nWIDTH 2\nHEIGHT 1\nPOINTS 2\nDATA ascii\n1 2 3\n4 5 6"
		pc, err := pointcloud.ReadPCD(bytes.NewReader([]byte(data)))
		test.That(t, err, test.ShouldBeNil)
		test.That(t, pc.Points, test.ShouldResemble, []r3.Vector{{X: 1, Y: 2, Z: 3}, {X: 4, Y: 5, Z: 6}})
	})

	t.Run("Truncated binary body failure", func(t *testing.T) {
		data := radarPCD(t)
		_, err := pointcloud.ReadPCD(bytes.NewReader(data[:len(data)-3]))
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, err.Error(), test.ShouldContainSubstring, "corrupt point cloud")
	})

	t.Run("Missing z field failure", func(t *testing.T) {
		data := "FIELDS x y\nSIZE 4 4\nTYPE F F\nCOUNT 1 1\nPOINTS 0\nDATA ascii\n"
		_, err := pointcloud.ReadPCD(bytes.NewReader([]byte(data)))
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, err.Error(), test.ShouldContainSubstring, "no z field")
	})

	t.Run("Compressed data failure", func(t *testing.T) {
		data := "FIELDS x y z\nSIZE 4 4 4\nTYPE F F F\nCOUNT 1 1 1\nPOINTS 0\nDATA binary_compressed\n"
		_, err := pointcloud.ReadPCD(bytes.NewReader([]byte(data)))
		test.That(t, err, test.ShouldNotBeNil)
	})
}

func TestNewFromFile(t *testing.T) {
	dir := t.TempDir()

	t.Run("Lidar sweep by extension", func(t *testing.T) {
		path := filepath.Join(dir, "sweep.pcd.bin")
		var buf bytes.Buffer
		test.That(t, pointcloud.WriteBin(&buf, pointcloud.New([]r3.Vector{{X: 1, Y: 2, Z: 3}})), test.ShouldBeNil)
		test.That(t, os.WriteFile(path, buf.Bytes(), 0o600), test.ShouldBeNil)
		pc, err := pointcloud.NewFromFile(path)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, pc.Len(), test.ShouldEqual, 1)
	})

	t.Run("Radar file by extension", func(t *testing.T) {
		path := filepath.Join(dir, "radar.pcd")
		test.That(t, os.WriteFile(path, radarPCD(t), 0o600), test.ShouldBeNil)
		pc, err := pointcloud.NewFromFile(path)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, pc.Len(), test.ShouldEqual, 2)
	})

	t.Run("Unsupported extension failure", func(t *testing.T) {
		path := filepath.Join(dir, "points.ply")
		test.That(t, os.WriteFile(path, []byte("ply"), 0o600), test.ShouldBeNil)
		_, err := pointcloud.NewFromFile(path)
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, err.Error(), test.ShouldContainSubstring, "unsupported")
	})

	t.Run("Missing file failure", func(t *testing.T) {
		_, err := pointcloud.NewFromFile(filepath.Join(dir, "missing.pcd.bin"))
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, errors.Is(err, os.ErrNotExist), test.ShouldBeTrue)
	})
}
