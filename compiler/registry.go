package compiler

import (
	"context"
	"fmt"

	"github.com/birdayz/assetforge/pathid"
)

// RegistryOptions collects compiler stubs before the registry is built.
//
// The registry is constructed explicitly at startup and passed by reference
// through the call chain; there is no process-wide registry.
type RegistryOptions struct {
	stubs []Stub
	err   error
}

// NewRegistryOptions creates an empty options set.
func NewRegistryOptions() *RegistryOptions {
	return &RegistryOptions{}
}

// Add registers an in-process compiler descriptor.
func (o *RegistryOptions) Add(desc *Descriptor) *RegistryOptions {
	o.stubs = append(o.stubs, NewLocalStub(desc))
	return o
}

// AddStub registers an arbitrary stub (external binary, remote).
func (o *RegistryOptions) AddStub(stub Stub) *RegistryOptions {
	o.stubs = append(o.stubs, stub)
	return o
}

// FromDir discovers external compiler executables in dir and registers a
// binary stub for each. Executables that fail the info verb are skipped.
func (o *RegistryOptions) FromDir(ctx context.Context, dir string) *RegistryOptions {
	paths, err := listCompilers(dir)
	if err != nil {
		o.err = err
		return o
	}
	for _, path := range paths {
		stub := NewBinaryStub(path)
		if _, err := stub.Info(ctx); err != nil {
			continue
		}
		o.stubs = append(o.stubs, stub)
	}
	return o
}

// Create queries every stub's transforms and builds the registry.
func (o *RegistryOptions) Create(ctx context.Context) (*Registry, error) {
	if o.err != nil {
		return nil, o.err
	}

	r := &Registry{}
	for _, stub := range o.stubs {
		infos, err := stub.Info(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to query compiler info: %w", err)
		}
		for _, info := range infos {
			r.entries = append(r.entries, registryEntry{info: info, stub: stub})
		}
	}
	return r, nil
}

type registryEntry struct {
	info Info
	stub Stub
}

// Registry is a static catalogue of available compilers, resolved by
// transform pair.
type Registry struct {
	entries []registryEntry
}

// Infos lists every registered transform.
func (r *Registry) Infos() []Info {
	infos := make([]Info, 0, len(r.entries))
	for _, e := range r.entries {
		infos = append(infos, e.info)
	}
	return infos
}

// FindCompiler returns the stub implementing transform. Zero matches yields
// ErrCompilerNotFound and more than one ErrDuplicateCompiler; both are
// configuration errors.
func (r *Registry) FindCompiler(transform pathid.Transform) (Stub, Info, error) {
	var (
		found Stub
		info  Info
	)
	for _, e := range r.entries {
		if e.info.Transform == transform {
			if found != nil {
				return nil, Info{}, fmt.Errorf("%w: %s", ErrDuplicateCompiler, transform)
			}
			found = e.stub
			info = e.info
		}
	}
	if found == nil {
		return nil, Info{}, fmt.Errorf("%w: %s", ErrCompilerNotFound, transform)
	}
	return found, info, nil
}
