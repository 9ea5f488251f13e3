// Package lidar implements the range sensor that a scene is exported from. Despite the name it
// also reads radar sweeps, which share the sample_data layout.
package lidar

import (
	"context"

	"github.com/pkg/errors"
	"go.opencensus.io/trace"

	"github.com/viamrobotics/viam-scene-fusion/pointcloud"
	"github.com/viamrobotics/viam-scene-fusion/sensors/utils"
)

// Lidar loads point clouds of one dataset.
type Lidar struct {
	Dataroot string
}

// New creates a new Lidar sensor reading from dataroot.
func New(dataroot string) (Lidar, error) {
	if err := utils.CheckDataroot(dataroot); err != nil {
		return Lidar{}, errors.Wrap(err, "error creating lidar")
	}
	return Lidar{Dataroot: dataroot}, nil
}

// GetData returns the point cloud stored at the dataroot-relative filename.
func (lidar Lidar) GetData(ctx context.Context, filename string) (*pointcloud.PointCloud, error) {
	_, span := trace.StartSpan(ctx, "lidar::Lidar::GetData")
	defer span.End()

	path, err := utils.ResolvePath(lidar.Dataroot, filename)
	if err != nil {
		return nil, errors.Wrapf(err, "error getting lidar data %v", filename)
	}
	pc, err := pointcloud.NewFromFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "error getting lidar data %v", filename)
	}
	return pc, nil
}
