// Package blob abstracts durable content storage addressed by opaque
// path keys. Production runs on local disk or S3-compatible object
// storage; tests use an in-memory fake.
package blob

import (
	"context"
	"errors"
)

// ErrNotFound is returned when no object exists at the given key.
var ErrNotFound = errors.New("blob: not found")

// Info describes a stored object.
type Info struct {
	Size        int64
	ContentType string
}

// Store is the read/write contract the pipeline needs.
type Store interface {
	Save(ctx context.Context, key string, data []byte, contentType string) error
	Read(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	Stat(ctx context.Context, key string) (Info, error)
}
