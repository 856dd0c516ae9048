// Package assetforge is an incremental, content-addressable asset build
// pipeline. It turns versioned offline source resources into runtime
// compiled assets by running them through chains of pluggable compilers,
// skipping every node whose inputs, compiler version and environment are
// unchanged since the last pass.
package assetforge

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/birdayz/assetforge/buildindex"
	"github.com/birdayz/assetforge/cas"
	"github.com/birdayz/assetforge/compiler"
	"github.com/birdayz/assetforge/pathid"
)

// Build orchestrates compilation passes against one content store, source
// store, build index and compiler registry. The registry is constructed by
// the caller at startup and passed by reference, never ambient state.
type Build struct {
	store    cas.Provider
	sources  compiler.SourceStore
	index    *buildindex.Index
	registry *compiler.Registry

	env          compiler.Env
	workers      int
	storeAddress string
	resourceDir  string

	log *slog.Logger
}

// New creates a build orchestrator.
func New(store cas.Provider, sources compiler.SourceStore, index *buildindex.Index, registry *compiler.Registry, opts ...Option) *Build {
	b := &Build{
		store:    store,
		sources:  sources,
		index:    index,
		registry: registry,
		env:      compiler.Env{Target: compiler.TargetGame, Platform: compiler.PlatformLinux},
		workers:  4,
		log:      NullLogger(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Compile builds the targets and everything they depend on, reusing
// up-to-date outputs from the index. Per-node compilation failures do not
// abort the pass; they are reported in the Result with their blocked
// consumers. The returned error is reserved for fatal conditions: a
// malformed graph, a cycle, or structural index corruption.
//
// Cancelling ctx stops scheduling new nodes but lets already-started
// compiles finish, so neither store nor index is left mid-write.
func (b *Build) Compile(ctx context.Context, targets ...pathid.ResourcePathID) (*Result, error) {
	if len(targets) == 0 {
		return nil, fmt.Errorf("%w: no targets", ErrInvalidTarget)
	}
	for _, t := range targets {
		if t.IsSource() {
			return nil, fmt.Errorf("%w: %s", ErrInvalidTarget, t)
		}
	}

	g, err := buildGraph(ctx, targets, b.sources, b.index)
	if err != nil {
		return nil, err
	}
	if err := g.validate(); err != nil {
		return nil, err
	}

	r := newRun(b, g, targets)
	if err := r.execute(ctx); err != nil {
		return nil, err
	}
	if err := b.index.Flush(); err != nil {
		return nil, err
	}
	return r.result(), nil
}

// nodeResult crosses from a worker back to the coordinator.
type nodeResult struct {
	key    string
	entry  buildindex.Entry
	refs   []compiler.ResourceReference
	cached bool
	source bool

	// err is a per-node failure; fatal aborts the whole pass.
	err   error
	fatal error
}

// run is the mutable state of one build pass. The coordinator goroutine
// is the only writer of states; entries and refs are mutex-guarded
// because workers read them while hashing and assembling inputs.
type run struct {
	b       *Build
	graph   *graph
	targets []pathid.ResourcePathID
	ordered []string

	mu      sync.Mutex
	entries map[string]buildindex.Entry
	refs    map[string][]compiler.ResourceReference

	states    map[string]NodeState
	failures  map[string]error
	compiled  int
	fromCache int
	fatal     error
}

func newRun(b *Build, g *graph, targets []pathid.ResourcePathID) *run {
	ordered := append([]string(nil), g.order...)
	sort.Slice(ordered, func(i, j int) bool {
		return g.nodes[ordered[i]].path.Compare(g.nodes[ordered[j]].path) < 0
	})

	states := make(map[string]NodeState, len(g.nodes))
	for key := range g.nodes {
		states[key] = StatePending
	}

	return &run{
		b:        b,
		graph:    g,
		targets:  targets,
		ordered:  ordered,
		entries:  map[string]buildindex.Entry{},
		refs:     map[string][]compiler.ResourceReference{},
		states:   states,
		failures: map[string]error{},
	}
}

// execute schedules the graph over the worker pool until every node is
// terminal, the pass hits a fatal error, or ctx stops new scheduling and
// in-flight work has drained.
func (r *run) execute(ctx context.Context) error {
	work := make(chan *node, len(r.graph.nodes))
	done := make(chan nodeResult, len(r.graph.nodes))

	grp := errgroup.Group{}
	for i := 0; i < r.b.workers; i++ {
		grp.Go(func() error {
			for n := range work {
				done <- r.process(ctx, n)
			}
			return nil
		})
	}

	inFlight := 0
	for {
		if r.fatal == nil && ctx.Err() == nil {
			for _, n := range r.ready() {
				r.transition(n.path.String(), StatePending, StateBuilding)
				inFlight++
				work <- n
			}
		}
		if r.fatal != nil || inFlight == 0 {
			break
		}

		res := <-done
		inFlight--
		r.apply(res)
	}

	close(work)
	// Let in-flight compiles finish; none is aborted mid-write.
	for inFlight > 0 {
		res := <-done
		inFlight--
		r.apply(res)
	}
	_ = grp.Wait()

	return r.fatal
}

// ready returns the nodes eligible for scheduling, in deterministic path
// order: Pending with every parent Built.
func (r *run) ready() []*node {
	var out []*node
	for _, key := range r.ordered {
		if r.states[key] != StatePending {
			continue
		}
		eligible := true
		for _, p := range r.graph.nodes[key].parents {
			if r.states[p] != StateBuilt {
				eligible = false
				break
			}
		}
		if eligible {
			out = append(out, r.graph.nodes[key])
		}
	}
	return out
}

func (r *run) transition(key string, from, to NodeState) {
	if r.states[key] != from || !allowedTransition(from, to) {
		r.fatal = multierr.Append(r.fatal,
			fmt.Errorf("invalid state transition for %s: %s -> %s (current %s)", key, from, to, r.states[key]))
		return
	}
	r.states[key] = to
}

// apply folds one worker result into the pass state. A failed node blocks
// its transitive consumers; independent branches continue.
func (r *run) apply(res nodeResult) {
	if res.fatal != nil {
		r.fatal = multierr.Append(r.fatal, res.fatal)
		r.transition(res.key, StateBuilding, StateFailed)
		return
	}
	if res.err != nil {
		r.transition(res.key, StateBuilding, StateFailed)
		r.failures[res.key] = res.err
		r.b.log.Warn("node failed", "path", res.key, "error", res.err)
		for _, key := range r.graph.descendants(res.key) {
			if r.states[key] == StatePending {
				r.transition(key, StatePending, StateBlocked)
			}
		}
		return
	}

	r.transition(res.key, StateBuilding, StateBuilt)
	if res.source {
		return
	}

	r.mu.Lock()
	r.entries[res.key] = res.entry
	if len(res.refs) > 0 {
		r.refs[res.key] = res.refs
	}
	r.mu.Unlock()

	if res.cached {
		r.fromCache++
	} else {
		r.compiled++
	}
}

// process builds one node: source nodes only verify availability, derived
// nodes are hash-checked against the index and compiled when stale.
func (r *run) process(ctx context.Context, n *node) nodeResult {
	key := n.path.String()

	if n.path.IsSource() {
		if _, err := r.b.sources.Content(ctx, n.path.Source()); err != nil {
			return nodeResult{key: key, err: err}
		}
		return nodeResult{key: key, source: true}
	}

	transform, _ := n.path.LastTransform()
	stub, info, err := r.b.registry.FindCompiler(transform)
	if err != nil {
		return nodeResult{key: key, err: err}
	}
	compilerHash, err := stub.CompilerHash(ctx, transform, r.b.env)
	if err != nil {
		return nodeResult{key: key, err: err}
	}
	sourceHash, err := r.sourceHash(ctx, n)
	if err != nil {
		return nodeResult{key: key, err: err}
	}

	prior, ok, err := r.b.index.Get(n.path)
	if err != nil {
		return nodeResult{key: key, fatal: err}
	}
	if ok && r.upToDate(ctx, prior, sourceHash, compilerHash, n.declared) {
		r.b.log.Debug("up to date", "path", key)
		return nodeResult{key: key, entry: prior, cached: true}
	}

	r.b.log.Debug("compiling", "path", key, "compiler", info.Name)
	out, err := stub.Compile(ctx, compiler.CompileParams{
		Target:       n.path,
		Dependencies: n.declared,
		DerivedDeps:  r.derivedFor(n),
		Env:          r.b.env,
		Store:        r.b.store,
		StoreAddress: r.b.storeAddress,
		Sources:      r.b.sources,
		ResourceDir:  r.b.resourceDir,
	})
	if err != nil {
		return nodeResult{key: key, err: err}
	}

	entry := buildindex.Entry{
		PathID:           n.path,
		SourceHash:       sourceHash,
		CompilerHash:     compilerHash,
		Dependencies:     n.declared,
		CompiledManifest: out.CompiledResources,
	}
	if err := r.b.index.Put(entry); err != nil {
		return nodeResult{key: key, fatal: err}
	}
	if len(out.ResourceReferences) > 0 {
		if err := r.b.index.PutReferences(n.path, out.ResourceReferences); err != nil {
			return nodeResult{key: key, fatal: err}
		}
	}
	return nodeResult{key: key, entry: entry, refs: out.ResourceReferences}
}

// upToDate is the staleness predicate: identical source hash, compiler
// hash and declared dependencies, and every recorded output still present
// in the content store.
func (r *run) upToDate(ctx context.Context, prior buildindex.Entry, sourceHash buildindex.SourceHash, compilerHash compiler.Hash, declared []pathid.ResourcePathID) bool {
	if prior.SourceHash != sourceHash || prior.CompilerHash != compilerHash {
		return false
	}
	if len(prior.Dependencies) != len(declared) {
		return false
	}
	for i := range declared {
		if !prior.Dependencies[i].Equal(declared[i]) {
			return false
		}
	}
	for _, cr := range prior.CompiledManifest {
		ok, err := r.b.store.Exists(ctx, cr.Content)
		if err != nil || !ok {
			return false
		}
	}
	return true
}

// sourceHash folds the node's inputs into one hash: the direct
// dependency's content (source bytes or compiled output identifiers) plus
// each declared dependency's.
func (r *run) sourceHash(ctx context.Context, n *node) (buildindex.SourceHash, error) {
	d := xxhash.New()

	write := func(path pathid.ResourcePathID) error {
		if path.IsSource() {
			content, err := r.b.sources.Content(ctx, path.Source())
			if err != nil {
				return err
			}
			d.Write(content)
			return nil
		}
		entry, ok := r.entryFor(path)
		if !ok {
			return fmt.Errorf("dependency %s has no build output", path)
		}
		for _, cr := range entry.CompiledManifest {
			d.WriteString(cr.Content.String())
		}
		return nil
	}

	dep, _ := n.path.DirectDependency()
	if err := write(dep.Unnamed()); err != nil {
		return 0, err
	}
	for _, declared := range n.declared {
		d.WriteString("\x00")
		d.WriteString(declared.String())
		if err := write(declared); err != nil {
			return 0, err
		}
	}
	return buildindex.SourceHash(d.Sum64()), nil
}

func (r *run) entryFor(path pathid.ResourcePathID) (buildindex.Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[path.Unnamed().String()]
	return entry, ok
}

// derivedFor accumulates the compiled outputs of the node's ancestor
// transform steps, source side first, for compilers that consume
// intermediate results.
func (r *run) derivedFor(n *node) []compiler.CompiledResource {
	var chain []pathid.ResourcePathID
	p := n.path
	for {
		dep, ok := p.DirectDependency()
		if !ok || dep.IsSource() {
			break
		}
		dep = dep.Unnamed()
		chain = append([]pathid.ResourcePathID{dep}, chain...)
		p = dep
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	var acc []compiler.CompiledResource
	for _, a := range chain {
		acc = append(acc, r.entries[a.String()].CompiledManifest...)
	}
	return acc
}
