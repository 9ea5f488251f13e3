// Package testhelper builds small synthetic datasets on disk for exercising the exporter
// end to end. A dataset has the same layout as a real one: JSON tables under the version
// directory, lidar sweeps under samples/<channel>/ and camera images next to them.
package testhelper

import (
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"github.com/viamrobotics/viam-scene-fusion/pointcloud"
	"github.com/viamrobotics/viam-scene-fusion/records"
)

// Version is the version directory every synthetic dataset is written under.
const Version = "v1.0-test"

// LidarChannel is the primary channel of the synthetic rig.
const LidarChannel = "LIDAR_TOP"

// CameraChannels are the camera channels of the synthetic rig.
var CameraChannels = []string{
	"CAM_FRONT_LEFT", "CAM_FRONT", "CAM_FRONT_RIGHT",
	"CAM_BACK_LEFT", "CAM_BACK", "CAM_BACK_RIGHT",
}

// IdentityQuaternion is the scalar-first identity rotation.
var IdentityQuaternion = [4]float64{1, 0, 0, 0}

// FacingAway rotates a camera half a turn about its y axis so that anything at positive z in
// the lidar frame ends up behind it.
var FacingAway = [4]float64{0, 0, 1, 0}

// IdentityIntrinsic maps camera coordinates straight to pixels after the perspective divide.
var IdentityIntrinsic = [][]float64{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}

// Dataset accumulates records and writes them under Root.
type Dataset struct {
	Root   string
	tables map[records.Table][]interface{}
	seq    int
}

// NewDataset returns an empty dataset rooted in a fresh temporary directory.
func NewDataset(tb testing.TB) *Dataset {
	tb.Helper()
	return &Dataset{
		Root:   tb.TempDir(),
		tables: map[records.Table][]interface{}{},
	}
}

// Add appends rec to table. Records are written in the order they are added.
func (d *Dataset) Add(table records.Table, rec interface{}) {
	d.tables[table] = append(d.tables[table], rec)
}

// Token returns a fresh token with the given prefix.
func (d *Dataset) Token(prefix string) string {
	d.seq++
	return fmt.Sprintf("%s-%04d", prefix, d.seq)
}

// WriteCloud writes points as a lidar sweep and returns its dataroot-relative filename.
func (d *Dataset) WriteCloud(tb testing.TB, name string, points []r3.Vector) string {
	tb.Helper()
	rel := filepath.Join("samples", LidarChannel, name+".pcd.bin")
	path := d.mkdir(tb, rel)
	f, err := os.Create(path)
	test.That(tb, err, test.ShouldBeNil)
	test.That(tb, pointcloud.WriteBin(f, pointcloud.New(points)), test.ShouldBeNil)
	test.That(tb, f.Close(), test.ShouldBeNil)
	return rel
}

// WriteImage writes img as a PNG for channel and returns its dataroot-relative filename.
func (d *Dataset) WriteImage(tb testing.TB, channel, name string, img image.Image) string {
	tb.Helper()
	rel := filepath.Join("samples", channel, name+".png")
	test.That(tb, imaging.Save(img, d.mkdir(tb, rel)), test.ShouldBeNil)
	return rel
}

func (d *Dataset) mkdir(tb testing.TB, rel string) string {
	tb.Helper()
	path := filepath.Join(d.Root, rel)
	test.That(tb, os.MkdirAll(filepath.Dir(path), 0o750), test.ShouldBeNil)
	return path
}

// Save writes every table, including empty ones, as <Root>/<Version>/<table>.json.
func (d *Dataset) Save(tb testing.TB) {
	tb.Helper()
	dir := filepath.Join(d.Root, Version)
	test.That(tb, os.MkdirAll(dir, 0o750), test.ShouldBeNil)
	for _, table := range records.Tables {
		recs := d.tables[table]
		if recs == nil {
			recs = []interface{}{}
		}
		data, err := json.MarshalIndent(recs, "", "  ")
		test.That(tb, err, test.ShouldBeNil)
		test.That(tb, os.WriteFile(filepath.Join(dir, string(table)+".json"), data, 0o600), test.ShouldBeNil)
	}
}

// Pose is a scalar-first rotation and a translation.
type Pose struct {
	Rotation    [4]float64
	Translation [3]float64
}

// IdentityPose places a sensor at the ego origin.
var IdentityPose = Pose{Rotation: IdentityQuaternion}

// Rig is the fixed calibration of the synthetic vehicle.
type Rig struct {
	Lidar     Pose
	Cameras   map[string]Pose
	Intrinsic [][]float64
	// ImageSize is the width and height of every camera image.
	ImageSize image.Point
}

// NewRig returns a rig with every sensor at the ego origin looking down +z and 4×4 images.
func NewRig() Rig {
	cams := make(map[string]Pose, len(CameraChannels))
	for _, ch := range CameraChannels {
		cams[ch] = IdentityPose
	}
	return Rig{
		Lidar:     IdentityPose,
		Cameras:   cams,
		Intrinsic: IdentityIntrinsic,
		ImageSize: image.Pt(4, 4),
	}
}

// Frame is one keyframe of a synthetic scene.
type Frame struct {
	Points []r3.Vector
	// Ego is the vehicle pose. The zero value is treated as IdentityPose.
	Ego Pose
	// Images per camera channel. Cameras without an image get a black one.
	Images map[string]image.Image
}

// SceneTokens identifies the records AddScene created.
type SceneTokens struct {
	Scene      string
	Samples    []string
	SampleData []string
}

// AddScene writes a scene of keyframes recorded by rig and returns the tokens it created.
func (d *Dataset) AddScene(tb testing.TB, name string, rig Rig, frames []Frame) SceneTokens {
	tb.Helper()
	test.That(tb, frames, test.ShouldNotBeEmpty)

	calibrated := map[string]string{}
	addSensor := func(channel, modality string, pose Pose, intrinsic [][]float64) {
		sensor := d.Token("sensor")
		d.Add(records.TableSensor, records.Sensor{Token: sensor, Channel: channel, Modality: modality})
		cs := records.CalibratedSensor{
			Token:           d.Token("cs"),
			SensorToken:     sensor,
			Translation:     pose.Translation,
			Rotation:        pose.Rotation,
			CameraIntrinsic: intrinsic,
		}
		if cs.CameraIntrinsic == nil {
			cs.CameraIntrinsic = [][]float64{}
		}
		d.Add(records.TableCalibratedSensor, cs)
		calibrated[channel] = cs.Token
	}
	addSensor(LidarChannel, "lidar", rig.Lidar, nil)
	for _, ch := range CameraChannels {
		pose, ok := rig.Cameras[ch]
		if !ok {
			pose = IdentityPose
		}
		addSensor(ch, "camera", pose, rig.Intrinsic)
	}

	sceneToken := d.Token("scene")
	tokens := SceneTokens{Scene: sceneToken}
	for range frames {
		tokens.Samples = append(tokens.Samples, d.Token("sample"))
	}

	var prevLidar string
	prevCam := map[string]string{}
	var lidarRecs []records.SampleData
	camRecs := map[string][]records.SampleData{}
	for i, frame := range frames {
		ego := frame.Ego
		if ego == (Pose{}) {
			ego = IdentityPose
		}
		egoToken := d.Token("ego")
		timestamp := int64(1000 * (i + 1))
		d.Add(records.TableEgoPose, records.EgoPose{
			Token:       egoToken,
			Timestamp:   timestamp,
			Translation: ego.Translation,
			Rotation:    ego.Rotation,
		})

		sample := records.Sample{
			Token:      tokens.Samples[i],
			Timestamp:  timestamp,
			SceneToken: sceneToken,
		}
		if i > 0 {
			sample.Prev = tokens.Samples[i-1]
		}
		if i < len(frames)-1 {
			sample.Next = tokens.Samples[i+1]
		}
		d.Add(records.TableSample, sample)

		stem := fmt.Sprintf("%s__%s__%d", name, LidarChannel, timestamp)
		lidar := records.SampleData{
			Token:                 d.Token("sd"),
			SampleToken:           sample.Token,
			EgoPoseToken:          egoToken,
			CalibratedSensorToken: calibrated[LidarChannel],
			Filename:              d.WriteCloud(tb, stem, frame.Points),
			FileFormat:            "pcd",
			Timestamp:             timestamp,
			IsKeyFrame:            true,
			Prev:                  records.NewLink(prevLidar),
		}
		prevLidar = lidar.Token
		lidarRecs = append(lidarRecs, lidar)
		tokens.SampleData = append(tokens.SampleData, lidar.Token)

		for _, ch := range CameraChannels {
			img, ok := frame.Images[ch]
			if !ok {
				img = image.NewNRGBA(image.Rectangle{Max: rig.ImageSize})
			}
			cam := records.SampleData{
				Token:                 d.Token("sd"),
				SampleToken:           sample.Token,
				EgoPoseToken:          egoToken,
				CalibratedSensorToken: calibrated[ch],
				Filename:              d.WriteImage(tb, ch, fmt.Sprintf("%s__%s__%d", name, ch, timestamp), img),
				FileFormat:            "png",
				Width:                 img.Bounds().Dx(),
				Height:                img.Bounds().Dy(),
				Timestamp:             timestamp,
				IsKeyFrame:            true,
				Prev:                  records.NewLink(prevCam[ch]),
			}
			prevCam[ch] = cam.Token
			camRecs[ch] = append(camRecs[ch], cam)
		}
	}

	for _, recs := range append([][]records.SampleData{lidarRecs}, channelRecords(camRecs)...) {
		for i := range recs {
			if i < len(recs)-1 {
				recs[i].Next = records.NewLink(recs[i+1].Token)
			}
			d.Add(records.TableSampleData, recs[i])
		}
	}

	d.Add(records.TableScene, records.Scene{
		Token:            sceneToken,
		Name:             name,
		NbrSamples:       len(frames),
		FirstSampleToken: tokens.Samples[0],
		LastSampleToken:  tokens.Samples[len(tokens.Samples)-1],
		LogToken:         d.Token("log"),
	})
	return tokens
}

func channelRecords(byChannel map[string][]records.SampleData) [][]records.SampleData {
	out := make([][]records.SampleData, 0, len(byChannel))
	for _, ch := range CameraChannels {
		out = append(out, byChannel[ch])
	}
	return out
}

// Solid returns a w×h image filled with c.
func Solid(w, h int, c color.Color) *image.NRGBA {
	return imaging.New(w, h, c)
}

// WithPixel returns a black w×h image whose pixel (x, y) is c.
func WithPixel(w, h, x, y int, c color.NRGBA) *image.NRGBA {
	img := imaging.New(w, h, color.NRGBA{A: 255})
	img.SetNRGBA(x, y, c)
	return img
}

// SetNext points the next link of the sample_data record token at next, which need not exist.
func (d *Dataset) SetNext(tb testing.TB, token, next string) {
	tb.Helper()
	for i, rec := range d.tables[records.TableSampleData] {
		if sd, ok := rec.(records.SampleData); ok && sd.Token == token {
			sd.Next = records.NewLink(next)
			d.tables[records.TableSampleData][i] = sd
			return
		}
	}
	tb.Fatalf("no sample_data record %q", token)
}

// AddSweep inserts a non-keyframe lidar sweep right after the sample_data record after and
// returns its token. The sweep belongs to the sample of after, so it is colored from that
// sample's camera images, but it has an ego pose of its own.
func (d *Dataset) AddSweep(tb testing.TB, name, after string, points []r3.Vector, ego Pose) string {
	tb.Helper()
	idx := -1
	var prev records.SampleData
	for i, rec := range d.tables[records.TableSampleData] {
		if sd, ok := rec.(records.SampleData); ok && sd.Token == after {
			idx, prev = i, sd
			break
		}
	}
	if idx < 0 {
		tb.Fatalf("no sample_data record %q", after)
	}

	timestamp := prev.Timestamp + 500
	egoToken := d.Token("ego")
	d.Add(records.TableEgoPose, records.EgoPose{
		Token:       egoToken,
		Timestamp:   timestamp,
		Translation: ego.Translation,
		Rotation:    ego.Rotation,
	})
	sweep := records.SampleData{
		Token:                 d.Token("sd"),
		SampleToken:           prev.SampleToken,
		EgoPoseToken:          egoToken,
		CalibratedSensorToken: prev.CalibratedSensorToken,
		Filename:              d.WriteCloud(tb, fmt.Sprintf("%s__%s__%d", name, LidarChannel, timestamp), points),
		FileFormat:            "pcd",
		Timestamp:             timestamp,
		Prev:                  records.NewLink(prev.Token),
		Next:                  prev.Next,
	}
	prev.Next = records.NewLink(sweep.Token)
	d.tables[records.TableSampleData][idx] = prev
	d.Add(records.TableSampleData, sweep)
	return sweep.Token
}

// Only returns a copy of rig where every camera not in channels faces away from the scene.
func (r Rig) Only(channels ...string) Rig {
	out := r
	out.Cameras = make(map[string]Pose, len(CameraChannels))
	for _, ch := range CameraChannels {
		out.Cameras[ch] = Pose{Rotation: FacingAway}
	}
	for _, ch := range channels {
		pose, ok := r.Cameras[ch]
		if !ok {
			pose = IdentityPose
		}
		out.Cameras[ch] = pose
	}
	return out
}
