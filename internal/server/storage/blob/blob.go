// Package blob defines the object-storage interface the server core consumes
// and its S3-compatible implementation.
package blob

import (
	"context"
	"time"
)

// ObjectInfo describes a stored object returned by List.
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// Store is the object-storage boundary. Implementations must be safe for
// concurrent use.
type Store interface {
	// GenerateUploadURL returns a presigned URL a client can PUT the blob to.
	// maxSizeBytes is advisory; enforcement depends on the backend's policy.
	GenerateUploadURL(ctx context.Context, key, contentType string, maxSizeBytes int64, expiry time.Duration) (string, error)

	// Exists reports whether an object is present under key.
	Exists(ctx context.Context, key string) (bool, error)

	// Delete removes the object under key. Deleting a missing object is not
	// an error.
	Delete(ctx context.Context, key string) error

	// List returns up to limit objects under prefix, lexicographically after
	// startAfter. An empty startAfter starts from the beginning.
	List(ctx context.Context, prefix, startAfter string, limit int32) ([]ObjectInfo, error)

	// Health verifies the backing bucket is reachable.
	Health(ctx context.Context) error
}
