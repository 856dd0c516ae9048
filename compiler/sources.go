package compiler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/birdayz/assetforge/pathid"
)

// MemorySources is an in-process SourceStore keyed by resource id. It backs
// tests and tools that synthesize resources without a workspace on disk.
type MemorySources struct {
	mu        sync.RWMutex
	content   map[pathid.ResourceTypeID][]byte
	deps      map[pathid.ResourceTypeID][]pathid.ResourcePathID
}

// NewMemorySources creates an empty source store.
func NewMemorySources() *MemorySources {
	return &MemorySources{
		content: map[pathid.ResourceTypeID][]byte{},
		deps:    map[pathid.ResourceTypeID][]pathid.ResourcePathID{},
	}
}

// Add registers a source resource with its content and declared build
// dependencies. Re-adding replaces the previous version.
func (s *MemorySources) Add(id pathid.ResourceTypeID, content []byte, deps ...pathid.ResourcePathID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := make([]byte, len(content))
	copy(stored, content)
	s.content[id] = stored
	s.deps[id] = append([]pathid.ResourcePathID(nil), deps...)
}

func (s *MemorySources) Content(_ context.Context, id pathid.ResourceTypeID) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	content, ok := s.content[id]
	if !ok {
		return nil, fmt.Errorf("source resource %s not found", id)
	}
	out := make([]byte, len(content))
	copy(out, content)
	return out, nil
}

func (s *MemorySources) Dependencies(_ context.Context, id pathid.ResourceTypeID) ([]pathid.ResourcePathID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.content[id]; !ok {
		return nil, fmt.Errorf("source resource %s not found", id)
	}
	return append([]pathid.ResourcePathID(nil), s.deps[id]...), nil
}

var _ SourceStore = (*MemorySources)(nil)

// DirSources reads source resources from a workspace directory. Content
// lives at {dir}/{type}/{id} and declared build dependencies, one canonical
// path id per line, at {dir}/{type}/{id}.deps.
type DirSources struct {
	dir string
}

// NewDirSources creates a source store over a workspace directory.
func NewDirSources(dir string) *DirSources {
	return &DirSources{dir: dir}
}

func (s *DirSources) path(id pathid.ResourceTypeID) string {
	return filepath.Join(s.dir, string(id.Type), id.ID.String())
}

func (s *DirSources) Content(_ context.Context, id pathid.ResourceTypeID) ([]byte, error) {
	content, err := os.ReadFile(s.path(id))
	if err != nil {
		return nil, fmt.Errorf("source resource %s: %w", id, err)
	}
	return content, nil
}

func (s *DirSources) Dependencies(_ context.Context, id pathid.ResourceTypeID) ([]pathid.ResourcePathID, error) {
	data, err := os.ReadFile(s.path(id) + ".deps")
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("source resource %s: %w", id, err)
	}

	var deps []pathid.ResourcePathID
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		dep, err := pathid.Parse(line)
		if err != nil {
			return nil, err
		}
		deps = append(deps, dep)
	}
	return deps, nil
}

// Write stores a source resource and its dependency list, creating
// directories as needed. Used by tools that stage workspaces for external
// compilers.
func (s *DirSources) Write(id pathid.ResourceTypeID, content []byte, deps ...pathid.ResourcePathID) error {
	path := s.path(id)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return err
	}
	if len(deps) == 0 {
		return nil
	}
	lines := make([]string, 0, len(deps))
	for _, d := range deps {
		lines = append(lines, d.String())
	}
	return os.WriteFile(path+".deps", []byte(strings.Join(lines, "\n")+"\n"), 0o644)
}

var _ SourceStore = (*DirSources)(nil)
