package cas

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
)

// FilesystemProvider stores each blob as a file named by its identifier,
// sharded by digest prefix:
//
//	{root}/
//	  blobs/{id[0:2]}/{id}
//	  aliases/{escaped key}
//
// Writes go through a temp file and rename, so concurrent writers racing to
// store identical bytes both succeed without torn files.
type FilesystemProvider struct {
	root string
}

// NewFilesystem creates a provider rooted at dir, creating it if needed.
func NewFilesystem(dir string) (*FilesystemProvider, error) {
	for _, sub := range []string{"blobs", "aliases"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create store dir: %w", err)
		}
	}
	return &FilesystemProvider{root: dir}, nil
}

func (p *FilesystemProvider) blobPath(id Identifier) string {
	name := id.String()
	shard := name
	if len(shard) > 2 {
		shard = shard[:2]
	}
	return filepath.Join(p.root, "blobs", shard, name)
}

func (p *FilesystemProvider) Write(_ context.Context, content []byte) (Identifier, error) {
	id := NewIdentifier(content)
	path := p.blobPath(id)

	if _, err := os.Stat(path); err == nil {
		// Duplicate write of identical bytes, benign.
		return id, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return Identifier{}, fmt.Errorf("failed to create shard dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".write-*")
	if err != nil {
		return Identifier{}, fmt.Errorf("failed to create temp blob: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		return Identifier{}, fmt.Errorf("failed to write blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return Identifier{}, fmt.Errorf("failed to close blob: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return Identifier{}, fmt.Errorf("failed to publish blob: %w", err)
	}
	return id, nil
}

func (p *FilesystemProvider) Read(_ context.Context, id Identifier) ([]byte, error) {
	if id.IsData() {
		return id.Data(), nil
	}

	content, err := os.ReadFile(p.blobPath(id))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to read blob %s: %w", id, err)
	}
	if err := id.Verify(content); err != nil {
		return nil, err
	}
	return content, nil
}

func (p *FilesystemProvider) Exists(_ context.Context, id Identifier) (bool, error) {
	if id.IsData() {
		return true, nil
	}
	if _, err := os.Stat(p.blobPath(id)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (p *FilesystemProvider) aliasPath(key string) string {
	return filepath.Join(p.root, "aliases", url.PathEscape(key))
}

func (p *FilesystemProvider) ResolveAlias(_ context.Context, key string) (Identifier, error) {
	data, err := os.ReadFile(p.aliasPath(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Identifier{}, fmt.Errorf("%w: alias %q", ErrNotFound, key)
		}
		return Identifier{}, fmt.Errorf("failed to read alias %q: %w", key, err)
	}
	return ParseIdentifier(string(data))
}

func (p *FilesystemProvider) RegisterAlias(_ context.Context, key string, id Identifier) error {
	// O_EXCL makes re-registration observable even across processes.
	f, err := os.OpenFile(p.aliasPath(key), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("%w: alias %q", ErrAlreadyExists, key)
		}
		return fmt.Errorf("failed to register alias %q: %w", key, err)
	}
	defer f.Close()

	if _, err := f.WriteString(id.String()); err != nil {
		return fmt.Errorf("failed to write alias %q: %w", key, err)
	}
	return nil
}

var _ Provider = (*FilesystemProvider)(nil)
