// Package storage moves backup archives to and from remote object storage.
package storage

import (
	"context"
	"errors"
	"path"
	"time"
)

// ErrObjectNotFound is returned by Download for a key the store does not hold.
var ErrObjectNotFound = errors.New("object not found")

// Object is one entry returned by List.
type Object struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// Store is a remote blob store. A nil Store means local-only operation.
type Store interface {
	Upload(ctx context.Context, localPath, key string) error
	Download(ctx context.Context, key, localPath string) error
	List(ctx context.Context, prefix string) ([]Object, error)
	Delete(ctx context.Context, key string) error
}

// Key returns the object key for an archive file name under prefix.
func Key(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return path.Join(prefix, name)
}
