package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// LibraryRepo manages libraries and their source files.
type LibraryRepo struct {
	db *gorm.DB
}

func (r *LibraryRepo) Create(ctx context.Context, lib *Library) error {
	if lib.ID == "" {
		lib.ID = uuid.NewString()
	}
	if lib.Name == "" {
		return fmt.Errorf("library name cannot be empty")
	}
	return r.db.WithContext(ctx).Create(lib).Error
}

func (r *LibraryRepo) Get(ctx context.Context, id string) (*Library, error) {
	var lib Library
	if err := r.db.WithContext(ctx).First(&lib, "id = ?", id).Error; err != nil {
		return nil, wrapNotFound(err)
	}
	return &lib, nil
}

func (r *LibraryRepo) AddFile(ctx context.Context, file *SourceFile) error {
	if file.ID == "" {
		file.ID = uuid.NewString()
	}
	if file.LibraryID == "" {
		return fmt.Errorf("file library_id cannot be empty")
	}
	if file.Status == "" {
		file.Status = FileActive
	}
	return r.db.WithContext(ctx).Create(file).Error
}

func (r *LibraryRepo) GetFile(ctx context.Context, id string) (*SourceFile, error) {
	var file SourceFile
	if err := r.db.WithContext(ctx).First(&file, "id = ?", id).Error; err != nil {
		return nil, wrapNotFound(err)
	}
	return &file, nil
}

// ActiveFiles lists the files of a library that participate in builds,
// in insertion order.
func (r *LibraryRepo) ActiveFiles(ctx context.Context, libraryID string) ([]SourceFile, error) {
	var files []SourceFile
	err := r.db.WithContext(ctx).
		Where("library_id = ? AND status = ?", libraryID, FileActive).
		Order("created_at, id").
		Find(&files).Error
	return files, err
}

// RemoveFile marks a file as deleted; it stops participating in builds but
// existing stage results are kept.
func (r *LibraryRepo) RemoveFile(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).
		Model(&SourceFile{}).
		Where("id = ?", id).
		Update("status", FileDeleted)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
