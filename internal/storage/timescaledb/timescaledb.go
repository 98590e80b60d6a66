// Package timescaledb implements the optional Postgres/TimescaleDB sample
// store for installations that outgrow the SQLite file.
package timescaledb

import (
	"context"
	"fmt"
	"time"

	"github.com/rwilli/localweather/internal/log"
	"github.com/rwilli/localweather/internal/types"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

const createTableSQL = `
CREATE TABLE IF NOT EXISTS samples (
	device_id  TEXT             NOT NULL,
	channel    TEXT             NOT NULL,
	time       TIMESTAMPTZ      NOT NULL,
	value      DOUBLE PRECISION NOT NULL,
	unit       TEXT             NOT NULL DEFAULT '',
	battery_ok BOOLEAN          NOT NULL DEFAULT TRUE,
	PRIMARY KEY (device_id, channel, time)
);
`

const createHypertableSQL = `
SELECT create_hypertable('samples', 'time', if_not_exists => TRUE);
`

// Store is a SampleStore backed by TimescaleDB.
type Store struct {
	db *gorm.DB
}

// New connects to TimescaleDB and ensures the samples table exists. The
// hypertable conversion is attempted but a plain Postgres without the
// extension still works.
func New(ctx context.Context, connectionString string) (*Store, error) {
	log.Info("connecting to TimescaleDB...")
	db, err := gorm.Open(postgres.Open(connectionString), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("unable to connect to TimescaleDB: %w", err)
	}

	if err := db.WithContext(ctx).Exec(createTableSQL).Error; err != nil {
		return nil, fmt.Errorf("could not create samples table: %w", err)
	}

	if err := db.WithContext(ctx).Exec(createHypertableSQL).Error; err != nil {
		log.Warnf("could not create hypertable, continuing with a plain table: %v", err)
	}

	return &Store{db: db}, nil
}

// StoreSample inserts one sample, ignoring duplicates on the primary key.
func (s *Store) StoreSample(ctx context.Context, sample types.Sample) (bool, error) {
	sample.Timestamp = sample.Timestamp.UTC()
	result := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&sample)
	if result.Error != nil {
		return false, fmt.Errorf("failed to store sample: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// SamplesInRange returns all samples for the given channels in [start, end),
// ordered deterministically so aggregate recomputation is stable.
func (s *Store) SamplesInRange(ctx context.Context, channels []string, start, end time.Time) ([]types.Sample, error) {
	if len(channels) == 0 {
		return nil, nil
	}

	var samples []types.Sample
	err := s.db.WithContext(ctx).
		Where("channel IN ? AND time >= ? AND time < ?", channels, start.UTC(), end.UTC()).
		Order("time, device_id, channel").
		Find(&samples).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query samples: %w", err)
	}
	for i := range samples {
		samples[i].Timestamp = samples[i].Timestamp.UTC()
	}
	return samples, nil
}

// LatestSamples returns the most recent sample per (device, channel).
func (s *Store) LatestSamples(ctx context.Context) ([]types.Sample, error) {
	var samples []types.Sample
	err := s.db.WithContext(ctx).Raw(
		`SELECT DISTINCT ON (device_id, channel)
		   device_id, channel, time, value, unit, battery_ok
		 FROM samples
		 ORDER BY device_id, channel, time DESC`).Scan(&samples).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query latest samples: %w", err)
	}
	for i := range samples {
		samples[i].Timestamp = samples[i].Timestamp.UTC()
	}
	return samples, nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
