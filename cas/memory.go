package cas

import (
	"context"
	"fmt"
	"sync"
)

// MemoryProvider keeps all content in process memory. It is safe for
// concurrent use and intended for tests and short-lived builds.
type MemoryProvider struct {
	mu      sync.RWMutex
	content map[string][]byte
	aliases map[string]Identifier
}

// NewMemory creates an empty in-memory provider.
func NewMemory() *MemoryProvider {
	return &MemoryProvider{
		content: map[string][]byte{},
		aliases: map[string]Identifier{},
	}
}

func (p *MemoryProvider) Write(_ context.Context, content []byte) (Identifier, error) {
	id := NewIdentifier(content)

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.content[id.String()]; ok {
		// Duplicate write of identical bytes, benign.
		return id, nil
	}
	stored := make([]byte, len(content))
	copy(stored, content)
	p.content[id.String()] = stored
	return id, nil
}

func (p *MemoryProvider) Read(_ context.Context, id Identifier) ([]byte, error) {
	if id.IsData() {
		return id.Data(), nil
	}

	p.mu.RLock()
	stored, ok := p.content[id.String()]
	p.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err := id.Verify(stored); err != nil {
		return nil, err
	}
	out := make([]byte, len(stored))
	copy(out, stored)
	return out, nil
}

func (p *MemoryProvider) Exists(_ context.Context, id Identifier) (bool, error) {
	if id.IsData() {
		return true, nil
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.content[id.String()]
	return ok, nil
}

func (p *MemoryProvider) ResolveAlias(_ context.Context, key string) (Identifier, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	id, ok := p.aliases[key]
	if !ok {
		return Identifier{}, fmt.Errorf("%w: alias %q", ErrNotFound, key)
	}
	return id, nil
}

func (p *MemoryProvider) RegisterAlias(_ context.Context, key string, id Identifier) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.aliases[key]; ok {
		return fmt.Errorf("%w: alias %q", ErrAlreadyExists, key)
	}
	p.aliases[key] = id
	return nil
}

// Len returns the number of distinct stored blobs. Used by dedup tests.
func (p *MemoryProvider) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.content)
}

// Drop discards all stored blobs, keeping aliases. Used by tests that
// simulate lost store content.
func (p *MemoryProvider) Drop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.content = map[string][]byte{}
}

var _ Provider = (*MemoryProvider)(nil)
