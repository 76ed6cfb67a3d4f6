// Package storage holds archive media as immutable objects keyed by their
// archive-relative path, with an existence check so repeated ingestion of the
// same export never duplicates objects.
package storage

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned by Fetch when no object exists under the key.
var ErrNotFound = errors.New("storage: object not found")

type Store interface {
	// Exists reports whether an object is already stored under key.
	Exists(ctx context.Context, key string) (bool, error)
	// Upload stores the object and returns its public URL.
	Upload(ctx context.Context, key, contentType string, r io.Reader) (string, error)
	// Fetch returns the object's bytes.
	Fetch(ctx context.Context, key string) ([]byte, error)
	// Remove deletes the object; removing a missing object is not an error.
	Remove(ctx context.Context, key string) error
	// PublicURL returns the URL an already-stored object is served from.
	PublicURL(key string) string
	// KeyFor inverts PublicURL; ok is false when the URL does not belong to
	// this store.
	KeyFor(publicURL string) (key string, ok bool)
}
