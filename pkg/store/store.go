// Package store is the relational bookkeeping layer: libraries, files,
// pipeline configs, per-stage results, and retrievers.
//
// Status transitions that must be mutually exclusive across processes
// (the retriever building guard) are implemented as compare-and-swap row
// updates, not in-process locks.
package store

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/raglane/raglane/pkg/config"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("record not found")

// IsNotFound reports whether err indicates a missing row.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// Store wraps the gorm handle and exposes per-entity repositories.
type Store struct {
	db *gorm.DB
}

// Open connects to the configured database and migrates the schema.
func Open(cfg *config.DatabaseConfig) (*Store, error) {
	if cfg.Driver != "sqlite" {
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}

	db, err := gorm.Open(sqlite.Open(cfg.DSN), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}

	slog.Debug("Opened relational store", "driver", cfg.Driver, "dsn", cfg.DSN)
	return s, nil
}

// OpenMemory opens an in-memory sqlite store. Intended for tests.
func OpenMemory() (*Store, error) {
	return Open(&config.DatabaseConfig{Driver: "sqlite", DSN: ":memory:"})
}

func (s *Store) migrate() error {
	err := s.db.AutoMigrate(
		&Library{},
		&SourceFile{},
		&ParserConfig{},
		&ChunkerConfig{},
		&IndexConfig{},
		&ParseResult{},
		&ChunkResult{},
		&Retriever{},
	)
	if err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}

// DB exposes the underlying gorm handle for glue code (HTTP CRUD handlers).
func (s *Store) DB() *gorm.DB {
	return s.db
}

func (s *Store) Libraries() *LibraryRepo        { return &LibraryRepo{db: s.db} }
func (s *Store) Configs() *ConfigRepo           { return &ConfigRepo{db: s.db} }
func (s *Store) ParseResults() *ParseResultRepo { return &ParseResultRepo{db: s.db} }
func (s *Store) ChunkResults() *ChunkResultRepo { return &ChunkResultRepo{db: s.db} }
func (s *Store) Retrievers() *RetrieverRepo     { return &RetrieverRepo{db: s.db} }

func wrapNotFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
