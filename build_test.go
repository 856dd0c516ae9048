package assetforge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/alecthomas/assert/v2"

	"github.com/birdayz/assetforge/buildindex"
	"github.com/birdayz/assetforge/cas"
	"github.com/birdayz/assetforge/compiler"
	"github.com/birdayz/assetforge/pathid"
)

// callLog records compiler invocations in completion order.
type callLog struct {
	mu    sync.Mutex
	paths []string
}

func (l *callLog) record(path pathid.ResourcePathID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.paths = append(l.paths, path.String())
}

func (l *callLog) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.paths)
}

func (l *callLog) position(path pathid.ResourcePathID) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, p := range l.paths {
		if p == path.String() {
			return i
		}
	}
	return -1
}

type fixture struct {
	store      *cas.MemoryProvider
	sources    *compiler.MemorySources
	indexStore *buildindex.MemoryStore
	index      *buildindex.Index
	calls      *callLog
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	indexStore := buildindex.NewMemoryStore()
	index, err := buildindex.Open(indexStore, "1", NullLogger())
	assert.NoError(t, err)
	return &fixture{
		store:      cas.NewMemory(),
		sources:    compiler.NewMemorySources(),
		indexStore: indexStore,
		index:      index,
		calls:      &callLog{},
	}
}

// upperDescriptor compiles text into upper_text by upper-casing the source
// bytes.
func (f *fixture) upperDescriptor(dataVersion string) *compiler.Descriptor {
	return &compiler.Descriptor{
		Name:        "upper",
		CodeVersion: "1",
		DataVersion: dataVersion,
		Transform:   pathid.Transform{From: "text", To: "upper_text"},
		CompileFunc: func(ctx context.Context, cc *compiler.CompileContext) (compiler.Output, error) {
			f.calls.record(cc.Target)
			content, err := cc.LoadSource(ctx, cc.Source.Source())
			if err != nil {
				return compiler.Output{}, err
			}
			cr, err := cc.Store(ctx, []byte(strings.ToUpper(string(content))), cc.Target)
			if err != nil {
				return compiler.Output{}, err
			}
			return compiler.Output{CompiledResources: []compiler.CompiledResource{cr}}, nil
		},
	}
}

// packDescriptor compiles upper_text into packed by wrapping the previous
// step's output.
func (f *fixture) packDescriptor() *compiler.Descriptor {
	return &compiler.Descriptor{
		Name:        "pack",
		CodeVersion: "1",
		DataVersion: "1",
		Transform:   pathid.Transform{From: "upper_text", To: "packed"},
		CompileFunc: func(ctx context.Context, cc *compiler.CompileContext) (compiler.Output, error) {
			f.calls.record(cc.Target)
			content, err := cc.LoadDerived(ctx, cc.Source)
			if err != nil {
				return compiler.Output{}, err
			}
			cr, err := cc.Store(ctx, []byte("packed:"+string(content)), cc.Target)
			if err != nil {
				return compiler.Output{}, err
			}
			return compiler.Output{CompiledResources: []compiler.CompiledResource{cr}}, nil
		},
	}
}

func (f *fixture) brokenDescriptor() *compiler.Descriptor {
	return &compiler.Descriptor{
		Name:        "broken",
		CodeVersion: "1",
		DataVersion: "1",
		Transform:   pathid.Transform{From: "text", To: "broken"},
		CompileFunc: func(ctx context.Context, cc *compiler.CompileContext) (compiler.Output, error) {
			f.calls.record(cc.Target)
			return compiler.Output{}, fmt.Errorf("decode failed")
		},
	}
}

func (f *fixture) build(t *testing.T, descs ...*compiler.Descriptor) *Build {
	t.Helper()
	opts := compiler.NewRegistryOptions()
	for _, d := range descs {
		opts.Add(d)
	}
	registry, err := opts.Create(context.Background())
	assert.NoError(t, err)
	return New(f.store, f.sources, f.index, registry, WithWorkers(2))
}

func textSource(id uint64) pathid.ResourceTypeID {
	return pathid.ResourceTypeID{Type: "text", ID: pathid.ResourceID(id)}
}

func dumpStore(t *testing.T, store *buildindex.MemoryStore) map[string]string {
	t.Helper()
	it, err := store.All()
	assert.NoError(t, err)
	defer it.Close()

	out := map[string]string{}
	for it.Next() {
		out[string(it.Key())] = string(it.Value())
	}
	assert.NoError(t, it.Err())
	return out
}

func TestSingleTransformAndIdempotence(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.sources.Add(textSource(1), []byte("hello"))

	b := f.build(t, f.upperDescriptor("1"))
	target := pathid.New(textSource(1)).Push("upper_text")

	res, err := b.Compile(ctx, target)
	assert.NoError(t, err)
	assert.NoError(t, res.Err())
	assert.Equal(t, 1, res.Compiled)
	assert.Equal(t, 0, res.FromCache)
	assert.Equal(t, 1, len(res.Manifest.Resources))
	assert.Equal(t, StateBuilt, res.State(target))

	content, err := f.store.Read(ctx, res.Manifest.Resources[0].Content)
	assert.NoError(t, err)
	assert.Equal(t, "HELLO", string(content))

	snapshot := dumpStore(t, f.indexStore)

	// An identical second run performs zero compiler invocations and
	// leaves the index byte-identical.
	res, err = b.Compile(ctx, target)
	assert.NoError(t, err)
	assert.Equal(t, 0, res.Compiled)
	assert.Equal(t, 1, res.FromCache)
	assert.Equal(t, 1, f.calls.count())
	assert.Equal(t, snapshot, dumpStore(t, f.indexStore))
	assert.Equal(t, 1, len(res.Manifest.Resources))
}

func TestDataVersionBumpForcesRecompile(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.sources.Add(textSource(1), []byte("hello"))
	target := pathid.New(textSource(1)).Push("upper_text")

	res, err := f.build(t, f.upperDescriptor("1")).Compile(ctx, target)
	assert.NoError(t, err)
	assert.Equal(t, 1, res.Compiled)

	// Unchanged source, bumped data format version: the node is stale.
	res, err = f.build(t, f.upperDescriptor("2")).Compile(ctx, target)
	assert.NoError(t, err)
	assert.Equal(t, 1, res.Compiled)
	assert.Equal(t, 0, res.FromCache)
	assert.Equal(t, 2, f.calls.count())
}

func TestSourceChangeForcesRecompile(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.sources.Add(textSource(1), []byte("hello"))
	target := pathid.New(textSource(1)).Push("upper_text")

	b := f.build(t, f.upperDescriptor("1"))
	_, err := b.Compile(ctx, target)
	assert.NoError(t, err)

	f.sources.Add(textSource(1), []byte("changed"))
	res, err := b.Compile(ctx, target)
	assert.NoError(t, err)
	assert.Equal(t, 1, res.Compiled)

	content, err := f.store.Read(ctx, res.Manifest.Resources[0].Content)
	assert.NoError(t, err)
	assert.Equal(t, "CHANGED", string(content))
}

func TestFailurePropagation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.sources.Add(textSource(1), []byte("bad"))
	f.sources.Add(textSource(2), []byte("good"))

	packUpper := &compiler.Descriptor{
		Name:        "pack_broken",
		CodeVersion: "1",
		DataVersion: "1",
		Transform:   pathid.Transform{From: "broken", To: "packed"},
		CompileFunc: func(ctx context.Context, cc *compiler.CompileContext) (compiler.Output, error) {
			f.calls.record(cc.Target)
			return compiler.Output{}, nil
		},
	}

	b := f.build(t, f.brokenDescriptor(), packUpper, f.upperDescriptor("1"))

	failing := pathid.New(textSource(1)).Push("broken")
	blocked := failing.Push("packed")
	sibling := pathid.New(textSource(2)).Push("upper_text")

	res, err := b.Compile(ctx, blocked, sibling)
	assert.NoError(t, err)

	// The failing node carries a compilation error naming it; its
	// consumer is blocked, the independent sibling still builds.
	buildErr := res.Err()
	assert.Error(t, buildErr)
	assert.True(t, errors.Is(buildErr, compiler.ErrCompilation))
	assert.True(t, strings.Contains(buildErr.Error(), failing.String()))

	assert.Equal(t, StateFailed, res.State(failing))
	assert.Equal(t, StateBlocked, res.State(blocked))
	assert.Equal(t, StateBuilt, res.State(sibling))

	blockedPaths := res.Blocked()
	assert.Equal(t, 1, len(blockedPaths))
	assert.True(t, blocked.Equal(blockedPaths[0]))

	// The blocked consumer's compiler never ran, and no index entry was
	// written for the failed node.
	assert.Equal(t, -1, f.calls.position(blocked))
	_, ok, err := f.index.Get(failing)
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestDependencyOrdering(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.sources.Add(textSource(1), []byte("ordered"))

	b := f.build(t, f.upperDescriptor("1"), f.packDescriptor())

	upper := pathid.New(textSource(1)).Push("upper_text")
	packed := upper.Push("packed")

	res, err := b.Compile(ctx, packed)
	assert.NoError(t, err)
	assert.NoError(t, res.Err())
	assert.Equal(t, 2, res.Compiled)

	// The chain's first step finished before its consumer started.
	assert.True(t, f.calls.position(upper) < f.calls.position(packed))

	content, err := f.store.Read(ctx, res.Manifest.Resources[len(res.Manifest.Resources)-1].Content)
	assert.NoError(t, err)
	assert.Equal(t, "packed:ORDERED", string(content))
}

func TestDeclaredDependencyOrdering(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	depTarget := pathid.New(textSource(2)).Push("upper_text")
	f.sources.Add(textSource(2), []byte("dep"))
	f.sources.Add(textSource(1), []byte("main"), depTarget)

	b := f.build(t, f.upperDescriptor("1"))
	target := pathid.New(textSource(1)).Push("upper_text")

	res, err := b.Compile(ctx, target)
	assert.NoError(t, err)
	assert.NoError(t, res.Err())
	assert.Equal(t, 2, res.Compiled)
	assert.True(t, f.calls.position(depTarget) < f.calls.position(target))

	// Changing the declared dependency's source invalidates the consumer
	// through its dependency content identifiers.
	f.sources.Add(textSource(2), []byte("dep2"))
	res, err = b.Compile(ctx, target)
	assert.NoError(t, err)
	assert.Equal(t, 2, res.Compiled)
}

func TestDeterminism(t *testing.T) {
	ctx := context.Background()

	var ids []string
	for i := 0; i < 2; i++ {
		f := newFixture(t)
		f.sources.Add(textSource(1), []byte("stable"))
		res, err := f.build(t, f.upperDescriptor("1")).Compile(ctx, pathid.New(textSource(1)).Push("upper_text"))
		assert.NoError(t, err)
		assert.Equal(t, 1, len(res.Manifest.Resources))
		ids = append(ids, res.Manifest.Resources[0].Content.String())
	}
	assert.Equal(t, ids[0], ids[1])
}

func TestContentDedup(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.sources.Add(textSource(1), []byte("same"))
	f.sources.Add(textSource(2), []byte("same"))

	b := f.build(t, f.upperDescriptor("1"))
	t1 := pathid.New(textSource(1)).Push("upper_text")
	t2 := pathid.New(textSource(2)).Push("upper_text")

	res, err := b.Compile(ctx, t1, t2)
	assert.NoError(t, err)
	assert.NoError(t, res.Err())
	assert.Equal(t, 2, res.Compiled)

	// Identical output bytes from two nodes share one stored blob.
	assert.Equal(t, 1, f.store.Len())
	assert.True(t, res.Manifest.Resources[0].Content.Equal(res.Manifest.Resources[1].Content))
}

func TestMissingOutputForcesRecompile(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.sources.Add(textSource(1), []byte("hello"))
	target := pathid.New(textSource(1)).Push("upper_text")

	b := f.build(t, f.upperDescriptor("1"))
	_, err := b.Compile(ctx, target)
	assert.NoError(t, err)

	// Index entry intact, but the stored output vanished.
	f.store.Drop()
	res, err := b.Compile(ctx, target)
	assert.NoError(t, err)
	assert.Equal(t, 1, res.Compiled)
	assert.Equal(t, 0, res.FromCache)
}

func TestDependencyCycleIsFatal(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	a := pathid.New(textSource(1)).Push("upper_text")
	bPath := pathid.New(textSource(2)).Push("upper_text")
	f.sources.Add(textSource(1), []byte("a"), bPath)
	f.sources.Add(textSource(2), []byte("b"), a)

	_, err := f.build(t, f.upperDescriptor("1")).Compile(ctx, a)
	assert.Error(t, err)
	assert.True(t, errors.Is(err, ErrCycleDetected))
}

func TestGraphDepthLimit(t *testing.T) {
	// A dependency chain longer than MaxDepth is rejected during
	// validation instead of exhausting the stack.
	g := newGraph()
	prev := g.get(pathid.New(textSource(1)))
	for i := 2; i <= MaxDepth+3; i++ {
		next := g.get(pathid.New(textSource(uint64(i))))
		g.link(prev, next)
		prev = next
	}

	err := g.validate()
	assert.Error(t, err)
	assert.True(t, errors.Is(err, ErrGraphTooDeep))
}

func TestSourceTargetIsRejected(t *testing.T) {
	f := newFixture(t)
	_, err := f.build(t, f.upperDescriptor("1")).Compile(context.Background(), pathid.New(textSource(1)))
	assert.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidTarget))
}

func TestMissingCompilerFailsNode(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.sources.Add(textSource(1), []byte("hello"))

	// Registry has no compiler for text -> upper_text.
	res, err := f.build(t, f.packDescriptor()).Compile(ctx, pathid.New(textSource(1)).Push("upper_text"))
	assert.NoError(t, err)
	assert.Error(t, res.Err())
	assert.True(t, errors.Is(res.Err(), compiler.ErrCompilerNotFound))
}

func TestCancelledContextStopsScheduling(t *testing.T) {
	f := newFixture(t)
	f.sources.Add(textSource(1), []byte("hello"))
	target := pathid.New(textSource(1)).Push("upper_text")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := f.build(t, f.upperDescriptor("1")).Compile(ctx, target)
	assert.NoError(t, err)
	assert.Equal(t, 0, res.Compiled)
	assert.Equal(t, 0, f.calls.count())
	assert.Equal(t, StatePending, res.State(target))
}

func TestDiscoveredReferencesSeedNextBuild(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.sources.Add(textSource(1), []byte("refs"))
	f.sources.Add(textSource(2), []byte("pointed at"))

	referenced := pathid.New(textSource(2)).Push("upper_text")

	referring := &compiler.Descriptor{
		Name:        "upper",
		CodeVersion: "1",
		DataVersion: "1",
		Transform:   pathid.Transform{From: "text", To: "upper_text"},
		CompileFunc: func(ctx context.Context, cc *compiler.CompileContext) (compiler.Output, error) {
			f.calls.record(cc.Target)
			content, err := cc.LoadSource(ctx, cc.Source.Source())
			if err != nil {
				return compiler.Output{}, err
			}
			cr, err := cc.Store(ctx, []byte(strings.ToUpper(string(content))), cc.Target)
			if err != nil {
				return compiler.Output{}, err
			}
			out := compiler.Output{CompiledResources: []compiler.CompiledResource{cr}}
			if cc.Source.Source() == textSource(1) {
				out.ResourceReferences = []compiler.ResourceReference{{From: cc.Target, To: referenced}}
			}
			return out, nil
		},
	}

	b := f.build(t, referring)
	target := pathid.New(textSource(1)).Push("upper_text")

	// First pass: the reference is discovered post-compile. It shows up
	// as a manifest edge but does not schedule the referenced node.
	res, err := b.Compile(ctx, target)
	assert.NoError(t, err)
	assert.Equal(t, 1, res.Compiled)
	assert.Equal(t, 1, len(res.Manifest.References))
	assert.Equal(t, StateNotBuilt, res.State(referenced))

	// Second pass: the persisted reference seeds the graph, so the
	// referenced node is built and its output joins the manifest.
	res, err = b.Compile(ctx, target)
	assert.NoError(t, err)
	assert.Equal(t, 1, res.Compiled)
	assert.Equal(t, StateBuilt, res.State(referenced))
	assert.Equal(t, 2, len(res.Manifest.Resources))
}
