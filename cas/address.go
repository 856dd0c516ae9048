package cas

import (
	"context"
	"fmt"
	"strings"
)

// Open resolves a local store backend from a connection string:
//
//	mem:          in-memory provider
//	file:/path    filesystem provider rooted at /path
//	/path         shorthand for file:/path
//
// Remote object-store addresses (s3://...) are resolved by the s3 subpackage;
// callers that accept arbitrary addresses dispatch on the scheme before
// calling Open.
func Open(_ context.Context, address string) (Provider, error) {
	switch {
	case address == "mem:" || address == "mem://":
		return NewMemory(), nil
	case strings.HasPrefix(address, "file:"):
		return NewFilesystem(strings.TrimPrefix(address, "file:"))
	case address == "":
		return nil, fmt.Errorf("%w: empty address", ErrInvalidAddress)
	case strings.Contains(address, "://"):
		scheme, _, _ := strings.Cut(address, "://")
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidAddress, scheme)
	default:
		// Plain path.
		return NewFilesystem(address)
	}
}
