// Package objectstore abstracts blob storage for raw files and stage
// outputs. Artifacts are addressed by (bucket, key).
package objectstore

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound is returned by Get for missing objects.
var ErrNotFound = errors.New("object not found")

// IsNotFound reports whether err indicates a missing object.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// Store is the blob storage contract consumed by the pipeline.
type Store interface {
	// Put writes an object, creating the bucket if needed.
	Put(ctx context.Context, bucket, key string, data []byte, contentType string) error

	// Get reads an object. Returns ErrNotFound if it does not exist.
	Get(ctx context.Context, bucket, key string) ([]byte, error)

	// Stat reports whether an object exists.
	Stat(ctx context.Context, bucket, key string) (bool, error)

	// Delete removes an object. Deleting a missing object is not an error.
	Delete(ctx context.Context, bucket, key string) error
}

func validateRef(bucket, key string) error {
	if bucket == "" {
		return fmt.Errorf("bucket cannot be empty")
	}
	if key == "" {
		return fmt.Errorf("key cannot be empty")
	}
	return nil
}
