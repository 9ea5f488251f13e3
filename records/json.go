package records

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.opencensus.io/trace"
)

type rawRecord map[string]json.RawMessage

// JSONStore serves records from the per-table JSON files of a dataset version directory,
// e.g. <dataroot>/v1.0-mini/sample_data.json. All tables are held in memory.
type JSONStore struct {
	tables map[Table]map[string]rawRecord
	order  map[Table][]string
}

// NewJSONStore loads every table of version under dataroot.
func NewJSONStore(ctx context.Context, dataroot, version string, logger golog.Logger) (*JSONStore, error) {
	ctx, span := trace.StartSpan(ctx, "records::NewJSONStore")
	defer span.End()

	dir := filepath.Join(dataroot, version)
	store := &JSONStore{
		tables: make(map[Table]map[string]rawRecord, len(Tables)),
		order:  make(map[Table][]string, len(Tables)),
	}
	for _, table := range Tables {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := store.load(filepath.Join(dir, string(table)+".json"), table); err != nil {
			return nil, err
		}
		logger.Debugf("loaded %d %v records", len(store.order[table]), table)
	}
	if err := store.index(); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *JSONStore) load(path string, table Table) error {
	//nolint:gosec
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "error reading %v table", table)
	}
	var recs []rawRecord
	if err := json.Unmarshal(data, &recs); err != nil {
		return errors.Wrapf(err, "error parsing %v table", table)
	}
	byToken := make(map[string]rawRecord, len(recs))
	order := make([]string, 0, len(recs))
	for i, rec := range recs {
		var token string
		if err := json.Unmarshal(rec["token"], &token); err != nil || token == "" {
			return errors.Errorf("%v record %d has no token", table, i)
		}
		byToken[token] = rec
		order = append(order, token)
	}
	s.tables[table] = byToken
	s.order[table] = order
	return nil
}

// index derives sample_data channels and the per-sample channel → keyframe map.
func (s *JSONStore) index() error {
	type sensorRef struct {
		SensorToken string `json:"sensor_token"`
	}
	type sampleDataRef struct {
		SampleToken           string `json:"sample_token"`
		CalibratedSensorToken string `json:"calibrated_sensor_token"`
		IsKeyFrame            bool   `json:"is_key_frame"`
	}

	channels := map[string]string{}
	for token, rec := range s.tables[TableSensor] {
		var sensor Sensor
		if err := decode(rec, &sensor); err != nil {
			return errors.Wrapf(err, "error decoding sensor %q", token)
		}
		channels[token] = sensor.Channel
	}
	calibrated := map[string]string{}
	for token, rec := range s.tables[TableCalibratedSensor] {
		var ref sensorRef
		if err := decode(rec, &ref); err != nil {
			return errors.Wrapf(err, "error decoding calibrated_sensor %q", token)
		}
		calibrated[token] = channels[ref.SensorToken]
	}

	keyframes := map[string]map[string]string{}
	for _, token := range s.order[TableSampleData] {
		rec := s.tables[TableSampleData][token]
		var ref sampleDataRef
		if err := decode(rec, &ref); err != nil {
			return errors.Wrapf(err, "error decoding sample_data %q", token)
		}
		channel := calibrated[ref.CalibratedSensorToken]
		encoded, err := json.Marshal(channel)
		if err != nil {
			return err
		}
		rec["channel"] = encoded
		if !ref.IsKeyFrame {
			continue
		}
		if keyframes[ref.SampleToken] == nil {
			keyframes[ref.SampleToken] = map[string]string{}
		}
		keyframes[ref.SampleToken][channel] = token
	}
	for token, rec := range s.tables[TableSample] {
		data := keyframes[token]
		if data == nil {
			data = map[string]string{}
		}
		encoded, err := json.Marshal(data)
		if err != nil {
			return err
		}
		rec["data"] = encoded
	}
	return nil
}

func decode(rec rawRecord, dst interface{}) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dst)
}

// Get implements Store.
func (s *JSONStore) Get(ctx context.Context, table Table, token string, dst interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	rec, ok := s.tables[table][token]
	if !ok {
		return NewNotFoundError(table, token)
	}
	return errors.Wrapf(decode(rec, dst), "error decoding %v %q", table, token)
}

// Tokens implements Store.
func (s *JSONStore) Tokens(ctx context.Context, table Table) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	order, ok := s.order[table]
	if !ok {
		return nil, errors.Errorf("unknown table %v", table)
	}
	return append([]string(nil), order...), nil
}

// each calls fn with the encoded form of every record of table in stored order.
func (s *JSONStore) each(table Table, fn func(token string, body []byte) error) error {
	for _, token := range s.order[table] {
		body, err := json.Marshal(s.tables[table][token])
		if err != nil {
			return err
		}
		if err := fn(token, body); err != nil {
			return err
		}
	}
	return nil
}

// Close implements Store.
func (s *JSONStore) Close() error {
	return nil
}
