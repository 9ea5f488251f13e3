// Package records reads the scene database. Records are addressed by table and token and are
// fetched lazily; a Store is always passed explicitly to whatever needs it.
package records

import (
	"context"
	"encoding/json"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/num/quat"

	"github.com/viamrobotics/viam-scene-fusion/geometry"
)

// Table names a record table.
type Table string

// Tables consumed by the exporter.
const (
	TableScene            Table = "scene"
	TableSample           Table = "sample"
	TableSampleData       Table = "sample_data"
	TableCalibratedSensor Table = "calibrated_sensor"
	TableEgoPose          Table = "ego_pose"
	TableSensor           Table = "sensor"
)

// Tables lists every table a Store serves, in load order.
var Tables = []Table{TableSensor, TableCalibratedSensor, TableEgoPose, TableScene, TableSample, TableSampleData}

// ErrNotFound is returned when a token does not exist in its table.
var ErrNotFound = errors.New("record not found")

// NewNotFoundError wraps ErrNotFound with the table and token that were requested.
func NewNotFoundError(table Table, token string) error {
	return errors.Wrapf(ErrNotFound, "%s %q", table, token)
}

// Store is a read-only record database.
type Store interface {
	// Get decodes the record of table with the given token into dst.
	Get(ctx context.Context, table Table, token string, dst interface{}) error
	// Tokens lists the tokens of table in stored order.
	Tokens(ctx context.Context, table Table) ([]string, error)
	Close() error
}

// Link references the chronologically following record on the same channel.
// The zero Link references nothing and ends a traversal.
type Link struct {
	token *string
}

// NewLink returns a link to token. An empty token yields the zero Link.
func NewLink(token string) Link {
	if token == "" {
		return Link{}
	}
	return Link{token: &token}
}

// Token returns the referenced token and whether there is one.
func (l Link) Token() (string, bool) {
	if l.token == nil {
		return "", false
	}
	return *l.token, true
}

// MarshalJSON encodes the absent link as the empty string used on disk.
func (l Link) MarshalJSON() ([]byte, error) {
	token, _ := l.Token()
	return json.Marshal(token)
}

// UnmarshalJSON decodes an on-disk link; the empty string and null are the absent link.
func (l *Link) UnmarshalJSON(b []byte) error {
	var token *string
	if err := json.Unmarshal(b, &token); err != nil {
		return err
	}
	if token == nil {
		*l = Link{}
		return nil
	}
	*l = NewLink(*token)
	return nil
}

// Scene is a recorded drive.
type Scene struct {
	Token            string `json:"token"`
	Name             string `json:"name"`
	Description      string `json:"description"`
	NbrSamples       int    `json:"nbr_samples"`
	FirstSampleToken string `json:"first_sample_token"`
	LastSampleToken  string `json:"last_sample_token"`
	LogToken         string `json:"log_token"`
}

// Sample is an annotated keyframe. Data maps each channel to its keyframe sample_data token.
type Sample struct {
	Token      string            `json:"token"`
	Timestamp  int64             `json:"timestamp"`
	SceneToken string            `json:"scene_token"`
	Prev       string            `json:"prev"`
	Next       string            `json:"next"`
	Data       map[string]string `json:"data"`
}

// SampleData is one sensor observation.
type SampleData struct {
	Token                 string `json:"token"`
	SampleToken           string `json:"sample_token"`
	EgoPoseToken          string `json:"ego_pose_token"`
	CalibratedSensorToken string `json:"calibrated_sensor_token"`
	Filename              string `json:"filename"`
	FileFormat            string `json:"fileformat"`
	Width                 int    `json:"width"`
	Height                int    `json:"height"`
	Timestamp             int64  `json:"timestamp"`
	IsKeyFrame            bool   `json:"is_key_frame"`
	Channel               string `json:"channel"`
	Prev                  Link   `json:"prev"`
	Next                  Link   `json:"next"`
}

// CalibratedSensor is the fixed pose of a sensor in the ego frame.
// CameraIntrinsic is empty for sensors that are not cameras.
type CalibratedSensor struct {
	Token           string      `json:"token"`
	SensorToken     string      `json:"sensor_token"`
	Translation     [3]float64  `json:"translation"`
	Rotation        [4]float64  `json:"rotation"`
	CameraIntrinsic [][]float64 `json:"camera_intrinsic"`
}

// Quaternion returns the scalar-first calibration rotation.
func (c CalibratedSensor) Quaternion() quat.Number {
	return toQuat(c.Rotation)
}

// Transform returns the sensor → ego transform.
func (c CalibratedSensor) Transform() geometry.RigidTransform {
	return geometry.NewRigidTransform(c.Quaternion(), toVector(c.Translation))
}

// EgoPose is the pose of the vehicle in the global frame at a timestamp.
type EgoPose struct {
	Token       string     `json:"token"`
	Timestamp   int64      `json:"timestamp"`
	Translation [3]float64 `json:"translation"`
	Rotation    [4]float64 `json:"rotation"`
}

// Quaternion returns the scalar-first ego rotation.
func (e EgoPose) Quaternion() quat.Number {
	return toQuat(e.Rotation)
}

// Transform returns the ego → global transform.
func (e EgoPose) Transform() geometry.RigidTransform {
	return geometry.NewRigidTransform(e.Quaternion(), toVector(e.Translation))
}

// Sensor describes a physical sensor and the channel it records on.
type Sensor struct {
	Token    string `json:"token"`
	Channel  string `json:"channel"`
	Modality string `json:"modality"`
}

func toQuat(q [4]float64) quat.Number {
	return quat.Number{Real: q[0], Imag: q[1], Jmag: q[2], Kmag: q[3]}
}

func toVector(t [3]float64) r3.Vector {
	return r3.Vector{X: t[0], Y: t[1], Z: t[2]}
}

func get[T any](ctx context.Context, s Store, table Table, token string) (T, error) {
	var rec T
	err := s.Get(ctx, table, token, &rec)
	return rec, err
}

// GetScene fetches a scene record.
func GetScene(ctx context.Context, s Store, token string) (Scene, error) {
	return get[Scene](ctx, s, TableScene, token)
}

// GetSample fetches a sample record.
func GetSample(ctx context.Context, s Store, token string) (Sample, error) {
	return get[Sample](ctx, s, TableSample, token)
}

// GetSampleData fetches a sample_data record.
func GetSampleData(ctx context.Context, s Store, token string) (SampleData, error) {
	return get[SampleData](ctx, s, TableSampleData, token)
}

// GetCalibratedSensor fetches a calibrated_sensor record.
func GetCalibratedSensor(ctx context.Context, s Store, token string) (CalibratedSensor, error) {
	return get[CalibratedSensor](ctx, s, TableCalibratedSensor, token)
}

// GetEgoPose fetches an ego_pose record.
func GetEgoPose(ctx context.Context, s Store, token string) (EgoPose, error) {
	return get[EgoPose](ctx, s, TableEgoPose, token)
}

// Observation fetches the calibration and ego pose of a sample_data record.
func Observation(ctx context.Context, s Store, sd SampleData) (CalibratedSensor, EgoPose, error) {
	cs, err := GetCalibratedSensor(ctx, s, sd.CalibratedSensorToken)
	if err != nil {
		return CalibratedSensor{}, EgoPose{}, err
	}
	pose, err := GetEgoPose(ctx, s, sd.EgoPoseToken)
	if err != nil {
		return CalibratedSensor{}, EgoPose{}, err
	}
	return cs, pose, nil
}

// Scenes lists every scene in stored order.
func Scenes(ctx context.Context, s Store) ([]Scene, error) {
	tokens, err := s.Tokens(ctx, TableScene)
	if err != nil {
		return nil, err
	}
	scenes := make([]Scene, 0, len(tokens))
	for _, token := range tokens {
		scene, err := GetScene(ctx, s, token)
		if err != nil {
			return nil, err
		}
		scenes = append(scenes, scene)
	}
	return scenes, nil
}

// FindScene returns the scene whose name or token is nameOrToken.
func FindScene(ctx context.Context, s Store, nameOrToken string) (Scene, error) {
	if scene, err := GetScene(ctx, s, nameOrToken); err == nil {
		return scene, nil
	} else if !errors.Is(err, ErrNotFound) {
		return Scene{}, err
	}
	scenes, err := Scenes(ctx, s)
	if err != nil {
		return Scene{}, err
	}
	for _, scene := range scenes {
		if scene.Name == nameOrToken {
			return scene, nil
		}
	}
	return Scene{}, errors.Wrapf(ErrNotFound, "no scene named %q", nameOrToken)
}
