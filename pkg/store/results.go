package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ParseResultRepo manages per-(file, parser) parse outcomes.
type ParseResultRepo struct {
	db *gorm.DB
}

func (r *ParseResultRepo) Create(ctx context.Context, res *ParseResult) error {
	if res.ID == "" {
		res.ID = uuid.NewString()
	}
	if res.Status == "" {
		res.Status = ResultPending
	}
	return r.db.WithContext(ctx).Create(res).Error
}

func (r *ParseResultRepo) Get(ctx context.Context, id string) (*ParseResult, error) {
	var res ParseResult
	if err := r.db.WithContext(ctx).First(&res, "id = ?", id).Error; err != nil {
		return nil, wrapNotFound(err)
	}
	return &res, nil
}

// FindByKey looks up the result for a (file, parser) pair. The unique index
// guarantees at most one row.
func (r *ParseResultRepo) FindByKey(ctx context.Context, fileID, parserID string) (*ParseResult, error) {
	var res ParseResult
	err := r.db.WithContext(ctx).
		First(&res, "file_id = ? AND parser_id = ?", fileID, parserID).Error
	if err != nil {
		return nil, wrapNotFound(err)
	}
	return &res, nil
}

// Complete marks a result terminal: success with output location and
// metadata, or failed with error detail.
func (r *ParseResultRepo) Complete(ctx context.Context, id string, status ResultStatus, errMsg string, meta JSONMap) error {
	now := time.Now().UTC()
	return r.db.WithContext(ctx).
		Model(&ParseResult{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":       status,
			"error":        errMsg,
			"meta":         meta,
			"completed_at": &now,
		}).Error
}

func (r *ParseResultRepo) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Delete(&ParseResult{}, "id = ?", id).Error
}

// List filters parse results; zero-valued filters are ignored.
func (r *ParseResultRepo) List(ctx context.Context, fileID, parserID string, status ResultStatus) ([]ParseResult, error) {
	q := r.db.WithContext(ctx).Model(&ParseResult{})
	if fileID != "" {
		q = q.Where("file_id = ?", fileID)
	}
	if parserID != "" {
		q = q.Where("parser_id = ?", parserID)
	}
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var results []ParseResult
	err := q.Order("created_at, id").Find(&results).Error
	return results, err
}

// ChunkResultRepo manages per-(parse result, chunker) chunk outcomes.
type ChunkResultRepo struct {
	db *gorm.DB
}

func (r *ChunkResultRepo) Create(ctx context.Context, res *ChunkResult) error {
	if res.ID == "" {
		res.ID = uuid.NewString()
	}
	if res.Status == "" {
		res.Status = ResultPending
	}
	return r.db.WithContext(ctx).Create(res).Error
}

func (r *ChunkResultRepo) Get(ctx context.Context, id string) (*ChunkResult, error) {
	var res ChunkResult
	if err := r.db.WithContext(ctx).First(&res, "id = ?", id).Error; err != nil {
		return nil, wrapNotFound(err)
	}
	return &res, nil
}

func (r *ChunkResultRepo) FindByKey(ctx context.Context, parseResultID, chunkerID string) (*ChunkResult, error) {
	var res ChunkResult
	err := r.db.WithContext(ctx).
		First(&res, "parse_result_id = ? AND chunker_id = ?", parseResultID, chunkerID).Error
	if err != nil {
		return nil, wrapNotFound(err)
	}
	return &res, nil
}

func (r *ChunkResultRepo) Complete(ctx context.Context, id string, status ResultStatus, errMsg string, meta JSONMap) error {
	now := time.Now().UTC()
	return r.db.WithContext(ctx).
		Model(&ChunkResult{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":       status,
			"error":        errMsg,
			"meta":         meta,
			"completed_at": &now,
		}).Error
}

func (r *ChunkResultRepo) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Delete(&ChunkResult{}, "id = ?", id).Error
}

func (r *ChunkResultRepo) List(ctx context.Context, parseResultID, chunkerID string, status ResultStatus) ([]ChunkResult, error) {
	q := r.db.WithContext(ctx).Model(&ChunkResult{})
	if parseResultID != "" {
		q = q.Where("parse_result_id = ?", parseResultID)
	}
	if chunkerID != "" {
		q = q.Where("chunker_id = ?", chunkerID)
	}
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var results []ChunkResult
	err := q.Order("created_at, id").Find(&results).Error
	return results, err
}
