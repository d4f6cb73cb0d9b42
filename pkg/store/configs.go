package store

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ConfigRepo manages parser, chunker, and index configurations.
type ConfigRepo struct {
	db *gorm.DB
}

func (r *ConfigRepo) CreateParser(ctx context.Context, cfg *ParserConfig) error {
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	if cfg.Status == "" {
		cfg.Status = ConfigActive
	}
	return r.db.WithContext(ctx).Create(cfg).Error
}

func (r *ConfigRepo) GetParser(ctx context.Context, id string) (*ParserConfig, error) {
	var cfg ParserConfig
	if err := r.db.WithContext(ctx).First(&cfg, "id = ?", id).Error; err != nil {
		return nil, wrapNotFound(err)
	}
	return &cfg, nil
}

func (r *ConfigRepo) CreateChunker(ctx context.Context, cfg *ChunkerConfig) error {
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	if cfg.Status == "" {
		cfg.Status = ConfigActive
	}
	return r.db.WithContext(ctx).Create(cfg).Error
}

func (r *ConfigRepo) GetChunker(ctx context.Context, id string) (*ChunkerConfig, error) {
	var cfg ChunkerConfig
	if err := r.db.WithContext(ctx).First(&cfg, "id = ?", id).Error; err != nil {
		return nil, wrapNotFound(err)
	}
	return &cfg, nil
}

func (r *ConfigRepo) CreateIndex(ctx context.Context, cfg *IndexConfig) error {
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	if cfg.Status == "" {
		cfg.Status = ConfigActive
	}
	return r.db.WithContext(ctx).Create(cfg).Error
}

func (r *ConfigRepo) GetIndex(ctx context.Context, id string) (*IndexConfig, error) {
	var cfg IndexConfig
	if err := r.db.WithContext(ctx).First(&cfg, "id = ?", id).Error; err != nil {
		return nil, wrapNotFound(err)
	}
	return &cfg, nil
}
