// Package archive keeps immutable copies of submitted OSS reports on the
// local filesystem or in an S3-compatible bucket.
package archive

import (
	"context"
	"io"
	"time"
)

// Storage abstracts the archive backend.
type Storage interface {
	// Put writes content under key and returns its location.
	Put(ctx context.Context, key string, body io.Reader, contentType string) (string, error)

	// Delete removes the object at key. Missing objects are not an error.
	Delete(ctx context.Context, key string) error

	// URL returns a link to the object, valid for at least expiry on
	// backends with access control.
	URL(ctx context.Context, key string, expiry time.Duration) (string, error)
}
