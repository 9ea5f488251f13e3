// Package scenefusion fuses the range sensor sweeps of a recorded driving scene into one
// colored point cloud in the global frame. Every sweep is colored by projecting it into the
// six surround cameras of the same sample.
package scenefusion

import (
	"context"
	"image"
	"image/color"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.opencensus.io/trace"
	"go.uber.org/multierr"

	"github.com/viamrobotics/viam-scene-fusion/export"
	"github.com/viamrobotics/viam-scene-fusion/pointcloud"
	"github.com/viamrobotics/viam-scene-fusion/records"
)

// ErrInvalidChannel is returned when the configured primary channel is not a range sensor.
var ErrInvalidChannel = errors.New("invalid channel")

var (
	// ValidChannels are the primary channels a scene can be exported from.
	ValidChannels = []string{
		"LIDAR_TOP",
		"RADAR_FRONT", "RADAR_FRONT_RIGHT", "RADAR_FRONT_LEFT",
		"RADAR_BACK_LEFT", "RADAR_BACK_RIGHT",
	}
	// CameraChannels are the cameras used for coloring, in precedence order. A point seen by
	// several cameras takes the color from the last of them.
	CameraChannels = []string{
		"CAM_FRONT_LEFT", "CAM_FRONT", "CAM_FRONT_RIGHT",
		"CAM_BACK_LEFT", "CAM_BACK", "CAM_BACK_RIGHT",
	}
)

// PointCloudSource loads the point cloud of a sample_data record by its dataroot-relative filename.
type PointCloudSource interface {
	GetData(ctx context.Context, filename string) (*pointcloud.PointCloud, error)
}

// ImageSource loads the image of a sample_data record by its dataroot-relative filename.
type ImageSource interface {
	GetImage(ctx context.Context, filename string) (image.Image, error)
}

// Stats counts the work done exporting one scene.
type Stats struct {
	Frames        int
	PointsRead    int
	PointsKept    int
	PointsWritten int
}

func (s *Stats) add(o Stats) {
	s.Frames += o.Frames
	s.PointsRead += o.PointsRead
	s.PointsKept += o.PointsKept
	s.PointsWritten += o.PointsWritten
}

// Fuser exports scenes of one dataset.
type Fuser struct {
	store           records.Store
	lidar           PointCloudSource
	camera          ImageSource
	channel         string
	format          export.Format
	outputDirectory string
	params          Parameters
	logger          golog.Logger

	activeBackgroundWorkers sync.WaitGroup
}

// New returns a Fuser reading records from store and sensor data from lidar and camera.
// It fails before any scene is touched if cfg names an invalid channel.
func New(
	store records.Store,
	lidar PointCloudSource,
	camera ImageSource,
	cfg Config,
	logger golog.Logger,
) (*Fuser, error) {
	cfg.setDefaults()
	params, err := cfg.Validate(logger)
	if err != nil {
		return nil, err
	}
	return &Fuser{
		store:           store,
		lidar:           lidar,
		camera:          camera,
		channel:         cfg.Channel,
		format:          export.Format(cfg.Format),
		outputDirectory: cfg.OutputDirectory,
		params:          params,
		logger:          logger,
	}, nil
}

// ExportScene writes the fused point cloud of the scene to w in the configured format.
// Output written before an error is flushed and left as is.
func (f *Fuser) ExportScene(ctx context.Context, sceneToken string, w io.Writer) (stats Stats, err error) {
	ctx, span := trace.StartSpan(ctx, "scenefusion::Fuser::ExportScene")
	defer span.End()

	cur, scene, err := records.NewSceneCursor(ctx, f.store, sceneToken, f.channel)
	if err != nil {
		return Stats{}, err
	}
	out, err := export.NewWriter(f.format, w)
	if err != nil {
		return Stats{}, err
	}
	defer func() {
		err = multierr.Combine(err, out.Close())
	}()

	f.logger.Infof("exporting scene %v (%v) from %v", scene.Name, scene.Token, f.channel)
	for cur.Next(ctx) {
		frameStats, err := f.exportFrame(ctx, cur.Record(), out)
		if err != nil {
			return stats, err
		}
		stats.add(frameStats)
	}
	if err := cur.Err(); err != nil {
		return stats, err
	}
	f.logger.Infof("exported %d frames and %d points of scene %v", stats.Frames, stats.PointsWritten, scene.Name)
	return stats, nil
}

// exportFrame colors, filters and emits one sweep.
func (f *Fuser) exportFrame(ctx context.Context, sd records.SampleData, out export.Writer) (Stats, error) {
	ctx, span := trace.StartSpan(ctx, "scenefusion::Fuser::exportFrame")
	defer span.End()

	f.logger.Debugf("Processing frame: %s", sd.Filename)
	src, err := f.observation(ctx, sd)
	if err != nil {
		return Stats{}, err
	}
	pc, err := f.lidar.GetData(ctx, sd.Filename)
	if err != nil {
		return Stats{}, err
	}
	stats := Stats{Frames: 1, PointsRead: pc.Len()}

	coloring, err := f.colorize(ctx, sd, src, pc)
	if err != nil {
		return Stats{}, err
	}

	// ego frame at the sweep's timestamp
	pc.Transform(src.calibration.Transform())

	dists := pc.DistancesFromOrigin()
	keep := make([]bool, len(dists))
	for i, d := range dists {
		keep[i] = f.params.MinDist <= d && d <= f.params.MaxDist
	}
	coloring.filter(keep)
	kept, err := pc.Filter(keep)
	if err != nil {
		return Stats{}, err
	}
	stats.PointsKept = kept
	f.logger.Debugf("Distance filter: Keeping %d of %d points...", kept, len(keep))

	// global frame
	pc.Transform(src.pose.Transform())

	for i, p := range pc.Points {
		c, ok := coloring.at(i)
		if !ok {
			continue
		}
		if err := out.WritePoint(p, c); err != nil {
			return stats, errors.Wrap(err, "error writing point")
		}
		stats.PointsWritten++
	}
	return stats, nil
}

// ExportAll exports every scene of the dataset to <output_directory>/<scene name>.<format>.
// Scenes whose output file already exists are skipped.
func (f *Fuser) ExportAll(ctx context.Context) (Stats, error) {
	ctx, span := trace.StartSpan(ctx, "scenefusion::Fuser::ExportAll")
	defer span.End()

	scenes, err := records.Scenes(ctx, f.store)
	if err != nil {
		return Stats{}, err
	}
	if err := os.MkdirAll(f.outputDirectory, 0o750); err != nil {
		return Stats{}, errors.Wrap(err, "error creating output directory")
	}
	var total Stats
	for _, scene := range scenes {
		path := filepath.Join(f.outputDirectory, scene.Name+f.format.Extension())
		if _, err := os.Stat(path); err == nil {
			f.logger.Infof("%v already exists, skipping scene %v", path, scene.Name)
			continue
		} else if !os.IsNotExist(err) {
			return total, err
		}
		stats, err := f.exportSceneToFile(ctx, scene.Token, path)
		total.add(stats)
		if err != nil {
			return total, errors.Wrapf(err, "error exporting scene %v", scene.Name)
		}
	}
	return total, nil
}

func (f *Fuser) exportSceneToFile(ctx context.Context, sceneToken, path string) (stats Stats, err error) {
	//nolint:gosec
	file, err := os.Create(path)
	if err != nil {
		return Stats{}, err
	}
	defer func() {
		err = multierr.Combine(err, file.Close())
	}()
	return f.ExportScene(ctx, sceneToken, file)
}

// Close waits for any in-flight camera workers. The record store is owned by the caller.
func (f *Fuser) Close() error {
	f.activeBackgroundWorkers.Wait()
	return nil
}

// frameColoring is the per-point color buffer of one sweep. Points no camera saw stay invalid.
type frameColoring struct {
	colors []color.NRGBA
	valid  []bool
}

func newFrameColoring(n int) *frameColoring {
	return &frameColoring{colors: make([]color.NRGBA, n), valid: make([]bool, n)}
}

// overwrite sets the color of every point whose mask bit is set. colors holds one entry per
// set bit, in point order.
func (fc *frameColoring) overwrite(colors []color.NRGBA, mask []bool) {
	j := 0
	for i, ok := range mask {
		if !ok {
			continue
		}
		fc.colors[i] = colors[j]
		fc.valid[i] = true
		j++
	}
}

func (fc *frameColoring) filter(keep []bool) {
	n := 0
	for i, ok := range keep {
		if !ok {
			continue
		}
		fc.colors[n] = fc.colors[i]
		fc.valid[n] = fc.valid[i]
		n++
	}
	fc.colors = fc.colors[:n]
	fc.valid = fc.valid[:n]
}

func (fc *frameColoring) at(i int) (color.NRGBA, bool) {
	return fc.colors[i], fc.valid[i]
}
