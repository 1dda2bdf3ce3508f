// Package storage holds profile images in an S3-compatible object store. The
// account record keeps only the object key and content type; the bytes never
// touch the database.
package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned when no object exists under the given key.
var ErrNotFound = errors.New("stored object not found")

// ImageStore is the profile-image collaborator consumed by the account
// service.
type ImageStore interface {
	// Save stores the image and returns the object key to persist on the
	// account.
	Save(ctx context.Context, fileName, contentType string, data []byte) (string, error)

	// Load returns the image bytes and content type for a key.
	Load(ctx context.Context, key string) ([]byte, string, error)

	// Delete removes the object; deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}
