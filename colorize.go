package scenefusion

import (
	"context"
	"image"
	"image/color"
	"sync"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.opencensus.io/trace"
	goutils "go.viam.com/utils"
	"gonum.org/v1/gonum/mat"

	"github.com/viamrobotics/viam-scene-fusion/geometry"
	"github.com/viamrobotics/viam-scene-fusion/pointcloud"
	"github.com/viamrobotics/viam-scene-fusion/projection"
	"github.com/viamrobotics/viam-scene-fusion/records"
)

// observation is a sample_data record with its calibration and ego pose resolved.
type observation struct {
	calibration records.CalibratedSensor
	pose        records.EgoPose
}

func (o observation) poses() geometry.Observation {
	return geometry.Observation{Calibration: o.calibration.Transform(), EgoPose: o.pose.Transform()}
}

func (f *Fuser) observation(ctx context.Context, sd records.SampleData) (observation, error) {
	cs, pose, err := records.Observation(ctx, f.store, sd)
	if err != nil {
		return observation{}, err
	}
	if f.params.StrictCalibration {
		if err := checkCalibration(cs); err != nil {
			return observation{}, errors.Wrapf(err, "bad calibration for %v", sd.Filename)
		}
	}
	return observation{calibration: cs, pose: pose}, nil
}

func checkCalibration(cs records.CalibratedSensor) error {
	q := cs.Quaternion()
	if err := geometry.CheckQuaternion(q); err != nil {
		return err
	}
	return geometry.RotationFromQuaternion(q).CheckOrthonormal()
}

// cameraColoring is the result of coloring a sweep from one camera.
type cameraColoring struct {
	colors []color.NRGBA
	mask   []bool
}

// colorize colors the sweep pc, still in its sensor frame, from every camera of the sweep's
// sample. Cameras may be sampled concurrently but are merged in CameraChannels order.
func (f *Fuser) colorize(
	ctx context.Context,
	sd records.SampleData,
	src observation,
	pc *pointcloud.PointCloud,
) (*frameColoring, error) {
	ctx, span := trace.StartSpan(ctx, "scenefusion::Fuser::colorize")
	defer span.End()

	sample, err := records.GetSample(ctx, f.store, sd.SampleToken)
	if err != nil {
		return nil, err
	}
	tokens := make([]string, len(CameraChannels))
	for i, ch := range CameraChannels {
		token, ok := sample.Data[ch]
		if !ok {
			return nil, errors.Errorf("sample %q has no %v data", sample.Token, ch)
		}
		tokens[i] = token
	}

	results := make([]cameraColoring, len(CameraChannels))
	errs := make([]error, len(CameraChannels))
	if f.params.ParallelCameras {
		var wg sync.WaitGroup
		for i := range CameraChannels {
			if err := ctx.Err(); err != nil {
				wg.Wait()
				return nil, err
			}
			iLoop := i
			f.activeBackgroundWorkers.Add(1)
			wg.Add(1)
			// the callback replaces the normal exit of a worker that panicked
			goutils.PanicCapturingGoWithCallback(func() {
				results[iLoop], errs[iLoop] = f.colorFromCamera(ctx, src, pc.Points, tokens[iLoop])
				wg.Done()
				f.activeBackgroundWorkers.Done()
			}, func(err interface{}) {
				errs[iLoop] = panicError(err)
				wg.Done()
				f.activeBackgroundWorkers.Done()
			})
		}
		wg.Wait()
	} else {
		for i := range CameraChannels {
			results[i], errs[i] = f.colorFromCameraRecovered(ctx, src, pc.Points, tokens[i])
			if errs[i] != nil {
				break
			}
		}
	}

	coloring := newFrameColoring(pc.Len())
	for i, res := range results {
		if errs[i] != nil {
			return nil, errors.Wrapf(errs[i], "error coloring from %v", CameraChannels[i])
		}
		coloring.overwrite(res.colors, res.mask)
	}
	return coloring, nil
}

func panicError(recovered interface{}) error {
	return errors.Errorf("panic while coloring: %v", recovered)
}

// colorFromCameraRecovered is colorFromCamera with a panic turned into an error, as the
// concurrent path does.
func (f *Fuser) colorFromCameraRecovered(
	ctx context.Context,
	src observation,
	points []r3.Vector,
	cameraToken string,
) (res cameraColoring, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			res, err = cameraColoring{}, panicError(recovered)
		}
	}()
	return f.colorFromCamera(ctx, src, points, cameraToken)
}

// colorFromCamera projects points, given in the frame of the src observation, into the
// camera image of the sample_data record cameraToken. points is not modified.
func (f *Fuser) colorFromCamera(
	ctx context.Context,
	src observation,
	points []r3.Vector,
	cameraToken string,
) (cameraColoring, error) {
	cam, err := records.GetSampleData(ctx, f.store, cameraToken)
	if err != nil {
		return cameraColoring{}, err
	}
	dst, err := f.observation(ctx, cam)
	if err != nil {
		return cameraColoring{}, err
	}
	k, err := projection.NewIntrinsic(dst.calibration.CameraIntrinsic)
	if err != nil {
		return cameraColoring{}, errors.Wrapf(err, "calibrated_sensor %q", dst.calibration.Token)
	}
	img, err := f.camera.GetImage(ctx, cam.Filename)
	if err != nil {
		return cameraColoring{}, err
	}
	width, height := imageSize(img)
	if f.params.StrictCalibration {
		if err := projection.CheckIntrinsic(k, width, height); err != nil {
			return cameraColoring{}, errors.Wrapf(err, "bad intrinsic for %v", cam.Filename)
		}
	}
	return project(img, k, geometry.Resolve(src.poses(), dst.poses()).ApplyAll(points)), nil
}

func project(img image.Image, k mat.Matrix, cameraPoints []r3.Vector) cameraColoring {
	width, height := imageSize(img)
	colors, mask := projection.SampleColors(img, projection.Project(cameraPoints, k, width, height))
	return cameraColoring{colors: colors, mask: mask}
}

func imageSize(img image.Image) (int, int) {
	b := img.Bounds()
	return b.Dx(), b.Dy()
}
