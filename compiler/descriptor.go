package compiler

import (
	"context"
	"fmt"

	"github.com/birdayz/assetforge/pathid"
)

// CompileContext is handed to in-process compile functions. It exposes the
// node's inputs and lets the function load dependency content and store
// outputs without touching backends directly.
type CompileContext struct {
	// Target is the desired compilation output path (unnamed).
	Target pathid.ResourcePathID

	// Source is the direct dependency the target derives from.
	Source pathid.ResourcePathID

	// Dependencies are declared build dependencies of the source.
	Dependencies []pathid.ResourcePathID

	// DerivedDeps are outputs of already-compiled ancestor nodes.
	DerivedDeps []CompiledResource

	// Env is the compilation environment.
	Env Env

	params CompileParams
}

// LoadSource returns the serialized content of a source resource.
func (c *CompileContext) LoadSource(ctx context.Context, id pathid.ResourceTypeID) ([]byte, error) {
	return c.params.Sources.Content(ctx, id)
}

// LoadDerived returns the compiled content of a derived dependency by path.
func (c *CompileContext) LoadDerived(ctx context.Context, path pathid.ResourcePathID) ([]byte, error) {
	for _, dep := range c.DerivedDeps {
		if dep.Path.Equal(path) {
			return c.params.Store.Read(ctx, dep.Content)
		}
	}
	return nil, fmt.Errorf("%w: derived dependency %s not available", ErrCompilation, path)
}

// Store writes compiled content to the content store and describes it.
func (c *CompileContext) Store(ctx context.Context, content []byte, path pathid.ResourcePathID) (CompiledResource, error) {
	id, err := c.params.Store.Write(ctx, content)
	if err != nil {
		return CompiledResource{}, fmt.Errorf("failed to store compiled content for %s: %w", path, err)
	}
	return CompiledResource{Path: path, Content: id, Size: uint64(len(content))}, nil
}

// CompileFunc is the body of an in-process compiler.
type CompileFunc func(ctx context.Context, cc *CompileContext) (Output, error)

// HashFunc computes a compiler Hash from version and environment signals.
type HashFunc func(codeVersion, dataVersion string, env Env) Hash

// Descriptor declares an in-process data compiler.
type Descriptor struct {
	// Name is the compiler's display name.
	Name string

	// CodeVersion changes when the compiler's code changes behavior.
	CodeVersion string

	// DataVersion changes when the output data format changes.
	DataVersion string

	// Transform is the (source type, target type) pair implemented.
	Transform pathid.Transform

	// CompilerHashFunc computes the compiler hash; nil selects
	// DefaultHash.
	CompilerHashFunc HashFunc

	// CompileFunc performs the transformation.
	CompileFunc CompileFunc
}

// Hash computes the descriptor's compiler hash for env.
func (d *Descriptor) Hash(env Env) Hash {
	fn := d.CompilerHashFunc
	if fn == nil {
		fn = DefaultHash
	}
	return fn(d.CodeVersion, d.DataVersion, env)
}

// Info describes the descriptor's single transform.
func (d *Descriptor) Info() Info {
	return Info{
		Name:        d.Name,
		CodeVersion: d.CodeVersion,
		DataVersion: d.DataVersion,
		Transform:   d.Transform,
	}
}

// localStub invokes a Descriptor's compile function in-process.
type localStub struct {
	desc *Descriptor
}

// NewLocalStub wraps an in-process descriptor in the uniform Stub contract.
func NewLocalStub(desc *Descriptor) Stub {
	return &localStub{desc: desc}
}

func (s *localStub) Info(_ context.Context) ([]Info, error) {
	return []Info{s.desc.Info()}, nil
}

func (s *localStub) CompilerHash(_ context.Context, transform pathid.Transform, env Env) (Hash, error) {
	if transform != s.desc.Transform {
		return 0, fmt.Errorf("%w: %s", ErrCompilerNotFound, transform)
	}
	return s.desc.Hash(env), nil
}

func (s *localStub) Compile(ctx context.Context, params CompileParams) (Output, error) {
	source, ok := params.Target.DirectDependency()
	if !ok {
		return Output{}, fmt.Errorf("%w: %s is a source path", ErrCompilation, params.Target)
	}

	cc := &CompileContext{
		Target:       params.Target,
		Source:       source,
		Dependencies: params.Dependencies,
		DerivedDeps:  params.DerivedDeps,
		Env:          params.Env,
		params:       params,
	}

	out, err := s.desc.CompileFunc(ctx, cc)
	if err != nil {
		return Output{}, fmt.Errorf("%w: %s: %v", ErrCompilation, s.desc.Name, err)
	}
	return out, nil
}
