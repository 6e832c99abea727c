// Package sqlite mirrors merged fire detections into a SQLite table.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/couchcryptid/climate-prep-etl/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS fire_detections (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	acq_date   TEXT NOT NULL,
	acq_time   TEXT NOT NULL,
	satellite  TEXT NOT NULL,
	lat        REAL NOT NULL,
	lon        REAL NOT NULL,
	confidence REAL NOT NULL,
	lat_text   TEXT NOT NULL,
	lon_text   TEXT NOT NULL,
	conf_text  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS fire_detections_date ON fire_detections (acq_date);
`

const insertDetection = `
INSERT INTO fire_detections (acq_date, acq_time, satellite, lat, lon, confidence, lat_text, lon_text, conf_text)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

// Store writes detections to the fire_detections table.
// It implements pipeline.DetectionLoader.
type Store struct {
	db *sql.DB
}

// Open creates or opens the database at path and ensures the schema exists.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite %s: %w", path, err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Reset deletes every stored detection so the table mirrors a single run,
// like the CSV output.
func (s *Store) Reset(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM fire_detections`); err != nil {
		return fmt.Errorf("clear fire_detections: %w", err)
	}
	return nil
}

// LoadBatch inserts detections in one transaction, preserving order.
func (s *Store) LoadBatch(ctx context.Context, detections []domain.FireDetection) error {
	if len(detections) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, insertDetection)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, d := range detections {
		if _, err := stmt.ExecContext(ctx,
			d.Date, d.Time, d.Satellite, d.Lat, d.Lon, d.Confidence,
			d.LatText, d.LonText, d.ConfText,
		); err != nil {
			return fmt.Errorf("insert detection %s: %w", d.Key(), err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Detections returns every stored detection in insertion order. Type is
// not stored.
func (s *Store) Detections(ctx context.Context) ([]domain.FireDetection, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT acq_date, acq_time, satellite, lat, lon, confidence, lat_text, lon_text, conf_text
FROM fire_detections ORDER BY seq`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.FireDetection
	for rows.Next() {
		var d domain.FireDetection
		if err := rows.Scan(&d.Date, &d.Time, &d.Satellite, &d.Lat, &d.Lon, &d.Confidence,
			&d.LatText, &d.LonText, &d.ConfText); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *Store) Close() error {
	return s.db.Close()
}
