package port

import (
	"context"

	"github.com/dreschagin/screenshot-api/internal/domain/capture"
)

// PersistenceError wraps any failure reported by the storage backend,
// including an incomplete upload descriptor.
type PersistenceError struct {
	Backend string
	Err     error
}

func (e *PersistenceError) Error() string {
	return e.Backend + " upload failed: " + e.Err.Error()
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// AssetStorage uploads rendered screenshots and returns a durable reference.
// Every successful call creates a new object.
type AssetStorage interface {
	Store(ctx context.Context, data []byte, imageType capture.ImageType) (*capture.PersistedAsset, error)
}
