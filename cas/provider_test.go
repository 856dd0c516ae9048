package cas

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/alecthomas/assert/v2"
)

func providers(t *testing.T) map[string]Provider {
	t.Helper()

	fs, err := NewFilesystem(t.TempDir())
	assert.NoError(t, err)

	return map[string]Provider{
		"memory":     NewMemory(),
		"filesystem": fs,
	}
}

func TestProviderReadWrite(t *testing.T) {
	ctx := context.Background()

	for name, p := range providers(t) {
		t.Run(name, func(t *testing.T) {
			id, err := p.Write(ctx, []byte("compiled output"))
			assert.NoError(t, err)
			assert.Equal(t, uint64(len("compiled output")), id.Size())

			content, err := p.Read(ctx, id)
			assert.NoError(t, err)
			assert.Equal(t, []byte("compiled output"), content)

			ok, err := p.Exists(ctx, id)
			assert.NoError(t, err)
			assert.True(t, ok)
		})
	}
}

func TestProviderNotFound(t *testing.T) {
	ctx := context.Background()

	for name, p := range providers(t) {
		t.Run(name, func(t *testing.T) {
			_, err := p.Read(ctx, NewIdentifier([]byte("never written")))
			assert.Error(t, err)
			assert.True(t, errors.Is(err, ErrNotFound))

			ok, err := p.Exists(ctx, NewIdentifier([]byte("never written")))
			assert.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestProviderDedup(t *testing.T) {
	ctx := context.Background()
	p := NewMemory()

	first, err := p.Write(ctx, []byte("same bytes"))
	assert.NoError(t, err)
	second, err := p.Write(ctx, []byte("same bytes"))
	assert.NoError(t, err)

	assert.True(t, first.Equal(second))
	assert.Equal(t, 1, p.Len())
}

func TestProviderAliases(t *testing.T) {
	ctx := context.Background()

	for name, p := range providers(t) {
		t.Run(name, func(t *testing.T) {
			id, err := p.Write(ctx, []byte("manifest payload"))
			assert.NoError(t, err)

			_, err = p.ResolveAlias(ctx, "builds/main")
			assert.True(t, errors.Is(err, ErrNotFound))

			assert.NoError(t, p.RegisterAlias(ctx, "builds/main", id))

			resolved, err := p.ResolveAlias(ctx, "builds/main")
			assert.NoError(t, err)
			assert.True(t, id.Equal(resolved))

			err = p.RegisterAlias(ctx, "builds/main", id)
			assert.True(t, errors.Is(err, ErrAlreadyExists))
		})
	}
}

func TestFilesystemCorruption(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	p, err := NewFilesystem(dir)
	assert.NoError(t, err)

	id, err := p.Write(ctx, []byte("pristine content"))
	assert.NoError(t, err)

	// Tamper with the stored blob behind the provider's back.
	assert.NoError(t, os.WriteFile(p.blobPath(id), []byte("tampered!"), 0o644))

	_, err = p.Read(ctx, id)
	assert.True(t, errors.Is(err, ErrCorrupted))
}

func TestFilesystemSharding(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	p, err := NewFilesystem(dir)
	assert.NoError(t, err)

	id, err := p.Write(ctx, []byte("sharded"))
	assert.NoError(t, err)

	rel, err := filepath.Rel(dir, p.blobPath(id))
	assert.NoError(t, err)
	assert.Equal(t, filepath.Join("blobs", id.String()[:2], id.String()), rel)
}

func TestSmallContentInline(t *testing.T) {
	ctx := context.Background()
	backend := NewMemory()
	p := WithSmallContent(backend, 16)

	t.Run("small payloads never reach the backend", func(t *testing.T) {
		id, err := p.Write(ctx, []byte("small"))
		assert.NoError(t, err)
		assert.True(t, id.IsData())
		assert.Equal(t, 0, backend.Len())

		content, err := p.Read(ctx, id)
		assert.NoError(t, err)
		assert.Equal(t, []byte("small"), content)

		ok, err := p.Exists(ctx, id)
		assert.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("large payloads pass through", func(t *testing.T) {
		id, err := p.Write(ctx, []byte("payload well above the threshold"))
		assert.NoError(t, err)
		assert.False(t, id.IsData())
		assert.Equal(t, 1, backend.Len())
	})
}

func TestOpenAddress(t *testing.T) {
	ctx := context.Background()

	t.Run("memory", func(t *testing.T) {
		p, err := Open(ctx, "mem:")
		assert.NoError(t, err)
		_, ok := p.(*MemoryProvider)
		assert.True(t, ok)
	})

	t.Run("file scheme", func(t *testing.T) {
		p, err := Open(ctx, "file:"+t.TempDir())
		assert.NoError(t, err)
		_, ok := p.(*FilesystemProvider)
		assert.True(t, ok)
	})

	t.Run("plain path", func(t *testing.T) {
		p, err := Open(ctx, t.TempDir())
		assert.NoError(t, err)
		_, ok := p.(*FilesystemProvider)
		assert.True(t, ok)
	})

	t.Run("unsupported scheme", func(t *testing.T) {
		_, err := Open(ctx, "redis://localhost")
		assert.True(t, errors.Is(err, ErrInvalidAddress))
	})

	t.Run("empty", func(t *testing.T) {
		_, err := Open(ctx, "")
		assert.True(t, errors.Is(err, ErrInvalidAddress))
	})
}
