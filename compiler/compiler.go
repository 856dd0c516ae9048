// Package compiler defines the uniform contract for asset transform units.
//
// A compiler consumes one resource type and produces another. It can live
// in-process (a Descriptor with a compile function), as an external
// executable speaking the info/hash/compile process contract, or behind a
// remote execution worker. All variants are driven through the Stub
// interface and catalogued in an explicitly constructed Registry.
package compiler

import (
	"context"
	"errors"
	"fmt"

	"github.com/cespare/xxhash/v2"

	"github.com/birdayz/assetforge/cas"
	"github.com/birdayz/assetforge/pathid"
)

// Sentinel errors for compiler resolution and execution.
var (
	ErrCompilerNotFound  = errors.New("no compiler found for transform")
	ErrDuplicateCompiler = errors.New("multiple compilers found for transform")
	ErrCompilation       = errors.New("compilation failed")
	ErrMalformedOutput   = errors.New("malformed compiler output")
)

// Target selects the build output flavor.
type Target string

const (
	TargetGame   Target = "game"
	TargetServer Target = "server"
)

// Platform selects the output platform.
type Platform string

const (
	PlatformWindows Platform = "windows"
	PlatformLinux   Platform = "linux"
)

// Locale selects the output language/region.
type Locale string

// Env is the compilation environment - the context a compilation runs in.
// It participates in compiler hashing: changing any field invalidates all
// previously compiled output for that environment.
type Env struct {
	Target   Target   `json:"target"`
	Platform Platform `json:"platform"`
	Locale   Locale   `json:"locale"`
}

// Hash is a stable hash of a compiler's code version, data-format version
// and the compilation environment. Two nodes with equal Hash and equal
// source content hash are guaranteed to produce byte-identical output.
type Hash uint64

func (h Hash) String() string {
	return fmt.Sprintf("%016x", uint64(h))
}

// DefaultHash combines versions and environment the way most compilers do.
// Descriptors may install their own function to include extra signals.
func DefaultHash(codeVersion, dataVersion string, env Env) Hash {
	d := xxhash.New()
	d.WriteString(codeVersion)
	d.WriteString("\x00")
	d.WriteString(dataVersion)
	d.WriteString("\x00")
	d.WriteString(string(env.Target))
	d.WriteString("\x00")
	d.WriteString(string(env.Platform))
	d.WriteString("\x00")
	d.WriteString(string(env.Locale))
	return Hash(d.Sum64())
}

// Info describes one transform a compiler implements, with its versioning
// metadata.
type Info struct {
	Name        string           `json:"name"`
	CodeVersion string           `json:"code_version"`
	DataVersion string           `json:"data_version"`
	Transform   pathid.Transform `json:"transform"`
}

// CompiledResource is the output of compiling one node.
type CompiledResource struct {
	Path    pathid.ResourcePathID `json:"path"`
	Content cas.Identifier        `json:"content"`
	Size    uint64                `json:"size"`
}

// ResourceReference is a runtime (load-time) dependency discovered during
// compilation. References are only known after a compile executes; they are
// attached to the manifest and seed the next build's graph, never the
// current pass's scheduling.
type ResourceReference struct {
	From pathid.ResourcePathID `json:"from"`
	To   pathid.ResourcePathID `json:"to"`
}

// Output is a data compiler's result.
type Output struct {
	CompiledResources  []CompiledResource  `json:"compiled_resources"`
	ResourceReferences []ResourceReference `json:"resource_references"`
}

// SourceStore provides access to offline source resources and their declared
// build dependencies. It stands in for the project/workspace layer, which is
// managed elsewhere.
type SourceStore interface {
	// Content returns the serialized source resource.
	Content(ctx context.Context, id pathid.ResourceTypeID) ([]byte, error)

	// Dependencies lists the build dependencies declared by the resource.
	Dependencies(ctx context.Context, id pathid.ResourceTypeID) ([]pathid.ResourcePathID, error)
}

// CompileParams carries one node's compilation inputs through a Stub.
type CompileParams struct {
	// Target is the node being compiled, with any output name dropped.
	Target pathid.ResourcePathID

	// Dependencies are the build dependencies declared by the node's
	// source.
	Dependencies []pathid.ResourcePathID

	// DerivedDeps are the already-compiled outputs of ancestor nodes.
	DerivedDeps []CompiledResource

	// Env is the compilation environment.
	Env Env

	// Store is the content store compilation outputs are written to.
	Store cas.Provider

	// StoreAddress is the store connection string handed to external
	// compiler processes, which open the store themselves.
	StoreAddress string

	// Sources provides source resource content.
	Sources SourceStore

	// ResourceDir is the workspace directory for compilers that read
	// loose files.
	ResourceDir string
}

// Stub is the uniform invocation contract shared by local, external-binary
// and remote compiler variants.
type Stub interface {
	// Info reports the transforms this stub can perform.
	Info(ctx context.Context) ([]Info, error)

	// CompilerHash reports the Hash for a transform under env.
	CompilerHash(ctx context.Context, transform pathid.Transform, env Env) (Hash, error)

	// Compile transforms params.Target and returns the produced resources
	// and discovered references. Failures are reported as errors wrapping
	// ErrCompilation; the caller records them against this node only.
	Compile(ctx context.Context, params CompileParams) (Output, error)
}
