// Package store defines the keyed document storage contract shared by every
// backend. Documents are opaque JSON bytes addressed by (collection, id).
package store

import (
	"context"
	"errors"
	"fmt"
	"regexp"
)

var (
	// ErrNotFound is returned when a document does not exist.
	ErrNotFound = errors.New("document not found")
	// ErrAlreadyExists is returned when creating a document whose id is taken.
	ErrAlreadyExists = errors.New("document already exists")
	// ErrInvalidKey is returned for collection or id values that are not safe names.
	ErrInvalidKey = errors.New("invalid collection or id")
)

// Store is atomic keyed document storage. Every write is all-or-nothing: a
// failed write leaves the previously committed document (or none) in place.
type Store interface {
	Create(ctx context.Context, collection, id string, doc []byte) error
	Read(ctx context.Context, collection, id string) ([]byte, error)
	Update(ctx context.Context, collection, id string, doc []byte) error
	Delete(ctx context.Context, collection, id string) error
	List(ctx context.Context, collection string) ([]string, error)
	Close() error
}

var keyPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,127}$`)

// ValidateCollection rejects collection names that are not safe path segments.
func ValidateCollection(collection string) error {
	if !keyPattern.MatchString(collection) {
		return fmt.Errorf("%w: collection %q", ErrInvalidKey, collection)
	}
	return nil
}

// ValidateKey rejects names that could escape a directory or collide with
// temp files.
func ValidateKey(collection, id string) error {
	if err := ValidateCollection(collection); err != nil {
		return err
	}
	if !keyPattern.MatchString(id) {
		return fmt.Errorf("%w: id %q", ErrInvalidKey, id)
	}
	return nil
}
