package records

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.opencensus.io/trace"
	"go.uber.org/multierr"

	// registers the "sqlite" driver.
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
	CREATE TABLE IF NOT EXISTS records (
		tbl    TEXT    NOT NULL,
		token  TEXT    NOT NULL,
		seq    INTEGER NOT NULL,
		body   TEXT    NOT NULL,
		PRIMARY KEY (tbl, token)
	);
	CREATE INDEX IF NOT EXISTS records_order ON records (tbl, seq);
`

// SQLiteStore serves records from an index file built by BuildSQLiteIndex. Unlike JSONStore
// it does not hold the tables in memory, which matters for the full dataset.
type SQLiteStore struct {
	db *sql.DB
}

// BuildSQLiteIndex writes every record of src into the SQLite file at path, replacing any
// records already indexed there.
func BuildSQLiteIndex(ctx context.Context, src *JSONStore, path string, logger golog.Logger) (err error) {
	ctx, span := trace.StartSpan(ctx, "records::BuildSQLiteIndex")
	defer span.End()

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return errors.Wrap(err, "error opening record index")
	}
	defer func() {
		err = multierr.Combine(err, db.Close())
	}()
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		return errors.Wrap(err, "error creating record index schema")
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			err = multierr.Combine(err, tx.Rollback())
		}
	}()
	stmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO records (tbl, token, seq, body) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, stmt.Close())
	}()

	for _, table := range Tables {
		seq := 0
		if err := src.each(table, func(token string, body []byte) error {
			seq++
			_, err := stmt.ExecContext(ctx, string(table), token, seq, string(body))
			return err
		}); err != nil {
			return errors.Wrapf(err, "error indexing %v", table)
		}
		logger.Debugf("indexed %d %v records", seq, table)
	}
	return tx.Commit()
}

// OpenSQLiteStore opens an index file built by BuildSQLiteIndex. The file must exist.
func OpenSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	// opening creates a missing file, so check first
	if _, err := os.Stat(path); err != nil {
		return nil, errors.Wrap(err, "error opening record index")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "error opening record index")
	}
	var n int
	if err := db.QueryRowContext(ctx, `SELECT count(*) FROM records`).Scan(&n); err != nil {
		return nil, multierr.Combine(errors.Wrapf(err, "%v is not a record index", path), db.Close())
	}
	return &SQLiteStore{db: db}, nil
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, table Table, token string, dst interface{}) error {
	var body string
	err := s.db.QueryRowContext(ctx, `SELECT body FROM records WHERE tbl = ? AND token = ?`, string(table), token).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return NewNotFoundError(table, token)
	}
	if err != nil {
		return errors.Wrapf(err, "error reading %v %q", table, token)
	}
	return errors.Wrapf(json.Unmarshal([]byte(body), dst), "error decoding %v %q", table, token)
}

// Tokens implements Store.
func (s *SQLiteStore) Tokens(ctx context.Context, table Table) (tokens []string, err error) {
	rows, err := s.db.QueryContext(ctx, `SELECT token FROM records WHERE tbl = ? ORDER BY seq`, string(table))
	if err != nil {
		return nil, errors.Wrapf(err, "error listing %v", table)
	}
	defer func() {
		err = multierr.Combine(err, rows.Close())
	}()
	for rows.Next() {
		var token string
		if err := rows.Scan(&token); err != nil {
			return nil, err
		}
		tokens = append(tokens, token)
	}
	return tokens, rows.Err()
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
