package assetforge

import (
	"fmt"
	"sort"

	"go.uber.org/multierr"

	"github.com/birdayz/assetforge/compiler"
	"github.com/birdayz/assetforge/pathid"
)

// Manifest is the externally consumed listing of compiled assets: a flat
// set of compiled resources plus the runtime reference edges discovered
// while producing them. Pure aggregation, no hashes are recomputed.
type Manifest struct {
	Resources  []compiler.CompiledResource  `json:"compiled_resources"`
	References []compiler.ResourceReference `json:"resource_references"`
}

// NodeError is one node's compilation failure.
type NodeError struct {
	Path pathid.ResourcePathID
	Err  error
}

// Result is the outcome of one build pass.
type Result struct {
	Manifest Manifest

	// Compiled counts compiler invocations; FromCache counts nodes
	// reused from the index.
	Compiled  int
	FromCache int

	// Failures holds per-node compilation errors, in path order.
	Failures []NodeError

	states map[string]NodeState
}

// Err aggregates the per-node failures, or nil when every node built.
func (r *Result) Err() error {
	var err error
	for _, f := range r.Failures {
		err = multierr.Append(err, fmt.Errorf("%s: %w", f.Path, f.Err))
	}
	return err
}

// State reports the final state of a node in this pass. Unknown paths are
// NotBuilt.
func (r *Result) State(path pathid.ResourcePathID) NodeState {
	return r.states[path.Unnamed().String()]
}

// Blocked lists the nodes that were never compiled because a transitive
// dependency failed, in path order.
func (r *Result) Blocked() []pathid.ResourcePathID {
	var out []pathid.ResourcePathID
	for key, state := range r.states {
		if state != StateBlocked {
			continue
		}
		path, err := pathid.Parse(key)
		if err != nil {
			continue
		}
		out = append(out, path)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Compare(out[j]) < 0 })
	return out
}

// result assembles the pass outcome: the targets' compiled resources plus
// the transitive closure of discovered references. References recorded
// this pass appear as manifest edges but never feed back into this pass's
// scheduling.
func (r *run) result() *Result {
	res := &Result{
		Compiled:  r.compiled,
		FromCache: r.fromCache,
		states:    r.states,
	}

	for key, err := range r.failures {
		path, parseErr := pathid.Parse(key)
		if parseErr != nil {
			continue
		}
		res.Failures = append(res.Failures, NodeError{Path: path, Err: err})
	}
	sort.Slice(res.Failures, func(i, j int) bool {
		return res.Failures[i].Path.Compare(res.Failures[j].Path) < 0
	})

	res.Manifest = r.assembleManifest()
	return res
}

func (r *run) assembleManifest() Manifest {
	r.mu.Lock()
	defer r.mu.Unlock()

	var m Manifest
	visited := map[string]bool{}
	queue := make([]string, 0, len(r.targets))
	for _, t := range r.targets {
		queue = append(queue, t.Unnamed().String())
	}

	for len(queue) > 0 {
		key := queue[0]
		queue = queue[1:]
		if visited[key] {
			continue
		}
		visited[key] = true

		if r.states[key] != StateBuilt {
			continue
		}
		if entry, ok := r.entries[key]; ok {
			m.Resources = append(m.Resources, entry.CompiledManifest...)
		}
		for _, ref := range r.refsFor(key) {
			m.References = append(m.References, ref)
			queue = append(queue, ref.To.Unnamed().String())
		}
	}

	sort.Slice(m.Resources, func(i, j int) bool {
		return m.Resources[i].Path.Compare(m.Resources[j].Path) < 0
	})
	sort.Slice(m.References, func(i, j int) bool {
		if c := m.References[i].From.Compare(m.References[j].From); c != 0 {
			return c < 0
		}
		return m.References[i].To.Compare(m.References[j].To) < 0
	})
	return m
}

// refsFor returns reference edges for one node: this pass's discoveries
// plus the ones persisted by earlier passes.
func (r *run) refsFor(key string) []compiler.ResourceReference {
	if refs, ok := r.refs[key]; ok {
		return refs
	}
	path, err := pathid.Parse(key)
	if err != nil {
		return nil
	}
	refs, err := r.b.index.References(path)
	if err != nil {
		return nil
	}
	return refs
}
