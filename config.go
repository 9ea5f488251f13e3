package scenefusion

import (
	"os"
	"strconv"

	"github.com/caarlos0/env/v11"
	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"golang.org/x/exp/slices"
	"gopkg.in/yaml.v2"

	"github.com/viamrobotics/viam-scene-fusion/export"
)

const (
	// DefaultVersion is the dataset version read when none is configured.
	DefaultVersion = "v1.0-mini"
	// DefaultChannel is the primary channel exported when none is configured.
	DefaultChannel = "LIDAR_TOP"

	defaultMinDist           = 3.0
	defaultMaxDist           = 30.0
	defaultStrictCalibration = false
	defaultParallelCameras   = true
)

// Config describes one export run. It is read from YAML, then overlaid by environment
// variables, then by command line flags.
type Config struct {
	Dataroot        string            `yaml:"dataroot" env:"NUSCENES_DATAROOT"`
	Version         string            `yaml:"version" env:"NUSCENES_VERSION"`
	Channel         string            `yaml:"channel"`
	OutputDirectory string            `yaml:"output_directory"`
	Format          string            `yaml:"format"`
	Index           string            `yaml:"index" env:"SCENE_FUSION_INDEX"`
	ConfigParams    map[string]string `yaml:"config_params"`
}

// LoadConfig reads the YAML config at path and overlays the environment. An empty path
// starts from the defaults.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	if path != "" {
		//nolint:gosec
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, errors.Wrap(err, "error reading config")
		}
		if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
			return Config{}, errors.Wrapf(err, "error parsing config %v", path)
		}
	}
	if err := env.Parse(&cfg); err != nil {
		return Config{}, errors.Wrap(err, "error reading config from environment")
	}
	cfg.setDefaults()
	return cfg, nil
}

func (cfg *Config) setDefaults() {
	if cfg.Version == "" {
		cfg.Version = DefaultVersion
	}
	if cfg.Channel == "" {
		cfg.Channel = DefaultChannel
	}
	if cfg.Format == "" {
		cfg.Format = string(export.FormatOBJ)
	}
	if cfg.OutputDirectory == "" {
		cfg.OutputDirectory = "."
	}
}

// Validate checks the config and returns the parameters it resolves to.
func (cfg Config) Validate(logger golog.Logger) (Parameters, error) {
	if !slices.Contains(ValidChannels, cfg.Channel) {
		return Parameters{}, errors.Wrapf(ErrInvalidChannel, "input channel %v not valid", cfg.Channel)
	}
	if err := export.Format(cfg.Format).Validate(); err != nil {
		return Parameters{}, err
	}
	return cfg.parameters(logger)
}

// Parameters are the tuning knobs read from config_params.
type Parameters struct {
	MinDist           float64
	MaxDist           float64
	StrictCalibration bool
	ParallelCameras   bool
}

func (cfg Config) parameters(logger golog.Logger) (Parameters, error) {
	var params Parameters
	var err error
	if params.MinDist, err = cfg.configToFloat(logger, "min_dist", defaultMinDist); err != nil {
		return Parameters{}, err
	}
	if params.MaxDist, err = cfg.configToFloat(logger, "max_dist", defaultMaxDist); err != nil {
		return Parameters{}, err
	}
	if params.MinDist > params.MaxDist {
		return Parameters{}, errors.Errorf("min_dist %v is greater than max_dist %v", params.MinDist, params.MaxDist)
	}
	if params.StrictCalibration, err = cfg.configToBool(logger, "strict_calibration", defaultStrictCalibration); err != nil {
		return Parameters{}, err
	}
	if params.ParallelCameras, err = cfg.configToBool(logger, "parallel_cameras", defaultParallelCameras); err != nil {
		return Parameters{}, err
	}
	return params, nil
}

func (cfg Config) configToFloat(logger golog.Logger, key string, def float64) (float64, error) {
	valStr, ok := cfg.ConfigParams[key]
	if !ok {
		logger.Debugf("Parameter %s not found, using default value %f", key, def)
		return def, nil
	}

	val, err := strconv.ParseFloat(valStr, 64)
	if err != nil {
		return 0, errors.Errorf("Parameter %s has an invalid definition", key)
	}
	return val, nil
}

func (cfg Config) configToBool(logger golog.Logger, key string, def bool) (bool, error) {
	valStr, ok := cfg.ConfigParams[key]
	if !ok {
		logger.Debugf("Parameter %s not found, using default value %t", key, def)
		return def, nil
	}

	val, err := strconv.ParseBool(valStr)
	if err != nil {
		return false, errors.Errorf("Parameter %s has an invalid definition", key)
	}
	return val, nil
}
