package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ErrDuplicateRetriever is returned when a retriever with the same
// (library, parser, chunker, index) combination already exists and has not
// been deprecated.
type ErrDuplicateRetriever struct {
	ExistingID string
}

func (e *ErrDuplicateRetriever) Error() string {
	return fmt.Sprintf("retriever with the same pipeline already exists: %s", e.ExistingID)
}

// RetrieverRepo manages retriever records and their status transitions.
type RetrieverRepo struct {
	db *gorm.DB
}

// Create validates that the referenced configs exist and are active, checks
// pipeline uniqueness among non-deprecated retrievers, then inserts the
// record in pending state. The whole sequence runs in one transaction so a
// concurrent create of the same combination cannot slip through.
func (r *RetrieverRepo) Create(ctx context.Context, ret *Retriever) error {
	if ret.ID == "" {
		ret.ID = uuid.NewString()
	}
	ret.Status = RetrieverPending

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var lib Library
		if err := tx.First(&lib, "id = ?", ret.LibraryID).Error; err != nil {
			return fmt.Errorf("library %s: %w", ret.LibraryID, wrapNotFound(err))
		}
		var parser ParserConfig
		if err := tx.First(&parser, "id = ?", ret.ParserID).Error; err != nil {
			return fmt.Errorf("parser config %s: %w", ret.ParserID, wrapNotFound(err))
		}
		if parser.Status != ConfigActive {
			return fmt.Errorf("parser config %s is %s", ret.ParserID, parser.Status)
		}
		var chunker ChunkerConfig
		if err := tx.First(&chunker, "id = ?", ret.ChunkerID).Error; err != nil {
			return fmt.Errorf("chunker config %s: %w", ret.ChunkerID, wrapNotFound(err))
		}
		if chunker.Status != ConfigActive {
			return fmt.Errorf("chunker config %s is %s", ret.ChunkerID, chunker.Status)
		}
		var index IndexConfig
		if err := tx.First(&index, "id = ?", ret.IndexID).Error; err != nil {
			return fmt.Errorf("index config %s: %w", ret.IndexID, wrapNotFound(err))
		}
		if index.Status != ConfigActive {
			return fmt.Errorf("index config %s is %s", ret.IndexID, index.Status)
		}

		var existing Retriever
		err := tx.Where(
			"library_id = ? AND parser_id = ? AND chunker_id = ? AND index_id = ? AND status <> ?",
			ret.LibraryID, ret.ParserID, ret.ChunkerID, ret.IndexID, RetrieverDeprecated,
		).First(&existing).Error
		if err == nil {
			return &ErrDuplicateRetriever{ExistingID: existing.ID}
		}
		if err != gorm.ErrRecordNotFound {
			return err
		}

		return tx.Create(ret).Error
	})
}

func (r *RetrieverRepo) Get(ctx context.Context, id string) (*Retriever, error) {
	var ret Retriever
	if err := r.db.WithContext(ctx).First(&ret, "id = ?", id).Error; err != nil {
		return nil, wrapNotFound(err)
	}
	return &ret, nil
}

func (r *RetrieverRepo) ListByLibrary(ctx context.Context, libraryID string) ([]Retriever, error) {
	var rets []Retriever
	err := r.db.WithContext(ctx).
		Where("library_id = ?", libraryID).
		Order("created_at, id").
		Find(&rets).Error
	return rets, err
}

// TransitionStatus atomically moves a retriever from one of the given
// states to the target state. It reports whether this call won the
// transition; a false return with nil error means another caller holds the
// state (or the retriever does not exist).
func (r *RetrieverRepo) TransitionStatus(ctx context.Context, id string, from []RetrieverStatus, to RetrieverStatus) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&Retriever{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(map[string]any{"status": to, "error": ""})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// SetActive records a successful build: collection name, point count, and
// index timestamp. Only a building retriever can become active.
func (r *RetrieverRepo) SetActive(ctx context.Context, id, collection string, points int64, indexedAt time.Time) error {
	res := r.db.WithContext(ctx).
		Model(&Retriever{}).
		Where("id = ? AND status = ?", id, RetrieverBuilding).
		Updates(map[string]any{
			"status":          RetrieverActive,
			"collection_name": collection,
			"point_count":     points,
			"error":           "",
			"indexed_at":      &indexedAt,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("retriever %s is not building", id)
	}
	return nil
}

// SetFailed marks a build failure with its cause. The building guard keeps
// a late failure report from clobbering a newer build's outcome.
func (r *RetrieverRepo) SetFailed(ctx context.Context, id, errMsg string) error {
	res := r.db.WithContext(ctx).
		Model(&Retriever{}).
		Where("id = ? AND status = ?", id, RetrieverBuilding).
		Updates(map[string]any{
			"status": RetrieverFailed,
			"error":  errMsg,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("retriever %s is not building", id)
	}
	return nil
}

// Deprecate retires a retriever. Deprecated retrievers no longer count
// toward pipeline uniqueness and cannot serve queries.
func (r *RetrieverRepo) Deprecate(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).
		Model(&Retriever{}).
		Where("id = ? AND status <> ?", id, RetrieverDeprecated).
		Update("status", RetrieverDeprecated)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
