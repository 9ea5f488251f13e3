// Package main exports the fused, colored point clouds of recorded scenes.
package main

import (
	"context"
	"os"
	"path/filepath"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/utils"

	scenefusion "github.com/viamrobotics/viam-scene-fusion"
	"github.com/viamrobotics/viam-scene-fusion/export"
	"github.com/viamrobotics/viam-scene-fusion/records"
	"github.com/viamrobotics/viam-scene-fusion/sensors/camera"
	"github.com/viamrobotics/viam-scene-fusion/sensors/lidar"
)

const loggerName = "scene-fusion"

func main() {
	utils.ContextualMain(mainWithArgs, golog.NewLogger(loggerName))
}

// Arguments for the command. Flags override the config file and the environment.
type Arguments struct {
	ConfigFile string `flag:"config,usage=yaml config file"`
	Dataroot   string `flag:"dataroot,usage=dataset root directory"`
	Version    string `flag:"version,usage=dataset version directory under the dataroot"`
	Channel    string `flag:"channel,usage=range sensor channel to export"`
	Scene      string `flag:"scene,usage=name or token of a single scene to export"`
	Out        string `flag:"out,usage=output directory"`
	Format     string `flag:"format,usage=output format (obj or pcd)"`
	Index      string `flag:"index,usage=sqlite record index to read, built from the json tables if missing"`
	MinDist    string `flag:"min-dist,usage=drop points closer to the vehicle than this many meters"`
	MaxDist    string `flag:"max-dist,usage=drop points further from the vehicle than this many meters"`
	Verbose    bool   `flag:"verbose,usage=log every frame"`
}

func mainWithArgs(ctx context.Context, args []string, logger golog.Logger) (err error) {
	var argsParsed Arguments
	if err := utils.ParseFlags(args, &argsParsed); err != nil {
		return err
	}
	if argsParsed.Verbose {
		logger = golog.NewDebugLogger(loggerName)
	}

	cfg, err := scenefusion.LoadConfig(argsParsed.ConfigFile)
	if err != nil {
		return err
	}
	applyArguments(&cfg, argsParsed)
	if _, err := cfg.Validate(logger); err != nil {
		return err
	}

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, store.Close())
	}()

	lid, err := lidar.New(cfg.Dataroot)
	if err != nil {
		return err
	}
	cam, err := camera.New(cfg.Dataroot)
	if err != nil {
		return err
	}
	fuser, err := scenefusion.New(store, lid, cam, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, fuser.Close())
	}()

	if argsParsed.Scene == "" {
		stats, err := fuser.ExportAll(ctx)
		logger.Infof("exported %d frames, wrote %d of %d points", stats.Frames, stats.PointsWritten, stats.PointsRead)
		return err
	}
	return exportOne(ctx, fuser, store, cfg, argsParsed.Scene, logger)
}

func applyArguments(cfg *scenefusion.Config, args Arguments) {
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&cfg.Dataroot, args.Dataroot)
	set(&cfg.Version, args.Version)
	set(&cfg.Channel, args.Channel)
	set(&cfg.OutputDirectory, args.Out)
	set(&cfg.Format, args.Format)
	set(&cfg.Index, args.Index)
	if cfg.ConfigParams == nil {
		cfg.ConfigParams = map[string]string{}
	}
	if args.MinDist != "" {
		cfg.ConfigParams["min_dist"] = args.MinDist
	}
	if args.MaxDist != "" {
		cfg.ConfigParams["max_dist"] = args.MaxDist
	}
}

// openStore opens the SQLite index when one is configured, building it first if needed,
// and otherwise loads the JSON tables.
func openStore(ctx context.Context, cfg scenefusion.Config, logger golog.Logger) (records.Store, error) {
	if cfg.Index == "" {
		return records.NewJSONStore(ctx, cfg.Dataroot, cfg.Version, logger)
	}
	if _, err := os.Stat(cfg.Index); os.IsNotExist(err) {
		logger.Infof("building record index %v", cfg.Index)
		src, err := records.NewJSONStore(ctx, cfg.Dataroot, cfg.Version, logger)
		if err != nil {
			return nil, err
		}
		if err := records.BuildSQLiteIndex(ctx, src, cfg.Index, logger); err != nil {
			// a partial index would be picked up by the next run
			if rmErr := os.Remove(cfg.Index); rmErr != nil && !os.IsNotExist(rmErr) {
				err = multierr.Combine(err, rmErr)
			}
			return nil, err
		}
	} else if err != nil {
		return nil, errors.Wrap(err, "error reading record index")
	}
	return records.OpenSQLiteStore(ctx, cfg.Index)
}

func exportOne(
	ctx context.Context,
	fuser *scenefusion.Fuser,
	store records.Store,
	cfg scenefusion.Config,
	nameOrToken string,
	logger golog.Logger,
) (err error) {
	scene, err := records.FindScene(ctx, store, nameOrToken)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.OutputDirectory, 0o750); err != nil {
		return errors.Wrap(err, "error creating output directory")
	}
	path := filepath.Join(cfg.OutputDirectory, scene.Name+export.Format(cfg.Format).Extension())
	//nolint:gosec
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()
	stats, err := fuser.ExportScene(ctx, scene.Token, f)
	if err != nil {
		return err
	}
	logger.Infof("wrote %d points from %d frames to %v", stats.PointsWritten, stats.Frames, path)
	return nil
}
