package store

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"moul.io/zapgorm2"
)

var (
	ErrJobExists  = errors.New("job already exists")
	ErrMaxRetries = errors.New("maximum retries exceeded")
	ErrBadState   = errors.New("invalid job state transition")
)

// Store wraps the relational database holding download jobs and video
// records. All operations are short-lived transactions; no caller holds a
// session across suspension points.
type Store struct {
	db  *gorm.DB
	log *zap.SugaredLogger
}

// Open connects to the SQLite database at path and migrates the schema.
// Use ":memory:" for throwaway stores in tests.
func Open(path string, logger *zap.Logger) (*Store, error) {
	gormLogger := zapgorm2.New(logger)
	gormLogger.SetAsDefault()
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: gormLogger})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite serializes writes anyway; a single pooled connection avoids
	// lock contention errors and keeps ":memory:" databases coherent.
	if sqlDB, err := db.DB(); err != nil {
		return nil, err
	} else {
		sqlDB.SetMaxOpenConns(1)
	}
	if err := db.AutoMigrate(&DownloadJob{}, &Video{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return &Store{
		db:  db,
		log: logger.Sugar().Named("store"),
	}, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
