// Package camera implements the image source for the camera channels of a dataset.
package camera

import (
	"context"
	"image"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
	"go.opencensus.io/trace"

	"github.com/viamrobotics/viam-scene-fusion/sensors/utils"
)

// Camera loads images of one dataset.
type Camera struct {
	Dataroot string
}

// New creates a new Camera reading from dataroot.
func New(dataroot string) (Camera, error) {
	if err := utils.CheckDataroot(dataroot); err != nil {
		return Camera{}, errors.Wrap(err, "error creating camera")
	}
	return Camera{Dataroot: dataroot}, nil
}

// GetImage decodes the JPEG or PNG image stored at the dataroot-relative filename.
func (cam Camera) GetImage(ctx context.Context, filename string) (image.Image, error) {
	_, span := trace.StartSpan(ctx, "camera::Camera::GetImage")
	defer span.End()

	path, err := utils.ResolvePath(cam.Dataroot, filename)
	if err != nil {
		return nil, errors.Wrapf(err, "error getting image %v", filename)
	}
	img, err := imaging.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "error getting image %v", filename)
	}
	return img, nil
}
