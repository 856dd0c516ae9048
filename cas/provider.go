// Package cas implements a content-addressable store with pluggable
// backends.
//
// Content is written once and retrieved by an Identifier derived from its
// bytes. Because identifiers are content-derived, concurrent writers racing
// to store identical bytes converge on the same identifier; a duplicate write
// is always a successful no-op, never an error. Backends whose native API
// reports an "already exists" condition absorb it internally.
package cas

import (
	"context"
	"errors"
)

// Sentinel errors for store operations.
var (
	ErrNotFound          = errors.New("content not found")
	ErrAlreadyExists     = errors.New("alias already exists")
	ErrCorrupted         = errors.New("content corrupted")
	ErrInvalidIdentifier = errors.New("invalid identifier")
	ErrInvalidAddress    = errors.New("invalid store address")
)

// Reader retrieves content by identifier.
type Reader interface {
	// Read returns the bytes the identifier points to. It fails with
	// ErrNotFound if the content is absent and ErrCorrupted if the stored
	// bytes disagree with the identifier's declared size or digest.
	Read(ctx context.Context, id Identifier) ([]byte, error)

	// Exists reports whether the content is present without fetching it.
	Exists(ctx context.Context, id Identifier) (bool, error)
}

// Writer stores content.
type Writer interface {
	// Write stores content and returns its deterministic identifier.
	// Writing already-present content succeeds and returns the same
	// identifier.
	Write(ctx context.Context, content []byte) (Identifier, error)
}

// AliasRegistry is a secondary naming layer on top of raw content
// addressing, used for index roots and named manifests.
type AliasRegistry interface {
	// ResolveAlias returns the identifier registered under key, or
	// ErrNotFound.
	ResolveAlias(ctx context.Context, key string) (Identifier, error)

	// RegisterAlias binds key to id. Registering an existing alias fails
	// with ErrAlreadyExists.
	RegisterAlias(ctx context.Context, key string, id Identifier) error
}

// Provider is the full capability set of a content-store backend.
type Provider interface {
	Reader
	Writer
	AliasRegistry
}
