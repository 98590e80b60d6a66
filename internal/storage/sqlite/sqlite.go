// Package sqlite implements the default file-backed sample store.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/rwilli/localweather/internal/log"
	"github.com/rwilli/localweather/internal/types"
	_ "modernc.org/sqlite"
)

const createTableSQL = `
CREATE TABLE IF NOT EXISTS samples (
	device_id  TEXT    NOT NULL,
	channel    TEXT    NOT NULL,
	time       INTEGER NOT NULL,
	value      REAL    NOT NULL,
	unit       TEXT    NOT NULL DEFAULT '',
	battery_ok INTEGER NOT NULL DEFAULT 1,
	PRIMARY KEY (device_id, channel, time)
);
CREATE INDEX IF NOT EXISTS idx_samples_time ON samples (time);
`

// Store is a SampleStore backed by a SQLite database file. Timestamps are
// stored as UTC unix nanoseconds.
type Store struct {
	db *sql.DB
}

// New opens (and if needed initializes) the database at path.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sample database: %w", err)
	}

	// The persister is the single writer; readers tolerate a short wait
	// while a write transaction commits.
	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set pragmas: %w", err)
	}

	if _, err := db.Exec(createTableSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create samples table: %w", err)
	}

	log.Infof("sample store opened at %s", path)
	return &Store{db: db}, nil
}

// StoreSample inserts one sample, ignoring duplicates on the primary key.
func (s *Store) StoreSample(ctx context.Context, sample types.Sample) (bool, error) {
	batteryOK := 0
	if sample.BatteryOK {
		batteryOK = 1
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO samples (device_id, channel, time, value, unit, battery_ok)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(device_id, channel, time) DO NOTHING`,
		sample.DeviceID, sample.Channel, sample.Timestamp.UTC().UnixNano(),
		sample.Value, sample.Unit, batteryOK)
	if err != nil {
		return false, fmt.Errorf("failed to store sample: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// SamplesInRange returns all samples for the given channels in [start, end),
// ordered deterministically so aggregate recomputation is stable.
func (s *Store) SamplesInRange(ctx context.Context, channels []string, start, end time.Time) ([]types.Sample, error) {
	if len(channels) == 0 {
		return nil, nil
	}

	placeholders := strings.Repeat("?,", len(channels))
	placeholders = placeholders[:len(placeholders)-1]

	args := make([]interface{}, 0, len(channels)+2)
	for _, ch := range channels {
		args = append(args, ch)
	}
	args = append(args, start.UTC().UnixNano(), end.UTC().UnixNano())

	rows, err := s.db.QueryContext(ctx,
		`SELECT device_id, channel, time, value, unit, battery_ok
		 FROM samples
		 WHERE channel IN (`+placeholders+`) AND time >= ? AND time < ?
		 ORDER BY time, device_id, channel`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query samples: %w", err)
	}
	defer rows.Close()

	return scanSamples(rows)
}

// LatestSamples returns the most recent sample per (device, channel).
func (s *Store) LatestSamples(ctx context.Context) ([]types.Sample, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT s.device_id, s.channel, s.time, s.value, s.unit, s.battery_ok
		 FROM samples s
		 JOIN (SELECT device_id, channel, MAX(time) AS max_time
		       FROM samples GROUP BY device_id, channel) m
		   ON s.device_id = m.device_id AND s.channel = m.channel AND s.time = m.max_time
		 ORDER BY s.device_id, s.channel`)
	if err != nil {
		return nil, fmt.Errorf("failed to query latest samples: %w", err)
	}
	defer rows.Close()

	return scanSamples(rows)
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func scanSamples(rows *sql.Rows) ([]types.Sample, error) {
	var samples []types.Sample
	for rows.Next() {
		var sample types.Sample
		var unixNanos int64
		var batteryOK int
		if err := rows.Scan(&sample.DeviceID, &sample.Channel, &unixNanos,
			&sample.Value, &sample.Unit, &batteryOK); err != nil {
			return nil, err
		}
		sample.Timestamp = time.Unix(0, unixNanos).UTC()
		sample.BatteryOK = batteryOK != 0
		samples = append(samples, sample)
	}
	return samples, rows.Err()
}
