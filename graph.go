package assetforge

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/birdayz/assetforge/buildindex"
	"github.com/birdayz/assetforge/compiler"
	"github.com/birdayz/assetforge/pathid"
)

// Sentinel errors for graph construction.
var (
	ErrCycleDetected = errors.New("cycle detected in build graph")
	ErrInvalidTarget = errors.New("target path has no transforms")
	ErrGraphTooDeep  = errors.New("build graph exceeds maximum depth")
)

// MaxDepth caps dependency chain length to keep pathological graphs from
// exhausting the validation stack.
const MaxDepth = 500

// node is one vertex of the build graph. Node identity is the unnamed
// path; named outputs of the same compilation share a node.
type node struct {
	path pathid.ResourcePathID

	// parents must all be Built before this node may start.
	parents []string

	// children are notified when this node finishes.
	children []string

	// declared are the build dependencies the source resource declares.
	// They are attached to the first transform step of the chain.
	declared []pathid.ResourcePathID
}

// graph is the static build-dependency DAG driving scheduling. Runtime
// references discovered by earlier passes seed extra roots but never add
// scheduling edges within a pass.
type graph struct {
	nodes map[string]*node
	order []string
}

func newGraph() *graph {
	return &graph{nodes: map[string]*node{}}
}

func (g *graph) get(path pathid.ResourcePathID) *node {
	key := path.String()
	if n, ok := g.nodes[key]; ok {
		return n
	}
	n := &node{path: path}
	g.nodes[key] = n
	g.order = append(g.order, key)
	return n
}

func (g *graph) link(parent, child *node) {
	childKey := child.path.String()
	for _, c := range parent.children {
		if c == childKey {
			return
		}
	}
	parent.children = append(parent.children, childKey)
	child.parents = append(child.parents, parent.path.String())
}

// buildGraph expands the targets, their transform chains, their declared
// build dependencies and the runtime references recorded by earlier
// passes into the full graph for one build.
func buildGraph(ctx context.Context, targets []pathid.ResourcePathID, sources compiler.SourceStore, index *buildindex.Index) (*graph, error) {
	g := newGraph()

	queue := make([]pathid.ResourcePathID, 0, len(targets))
	for _, t := range targets {
		queue = append(queue, t.Unnamed())
	}

	seen := map[string]bool{}
	for len(queue) > 0 {
		path := queue[0]
		queue = queue[1:]

		key := path.String()
		if seen[key] {
			continue
		}
		seen[key] = true

		n := g.get(path)

		if !path.IsSource() {
			dep, _ := path.DirectDependency()
			dep = dep.Unnamed()
			g.link(g.get(dep), n)
			queue = append(queue, dep)

			// Declared dependencies gate the first compilation of the
			// chain; deeper steps only consume the previous step.
			if dep.IsSource() {
				declared, err := sources.Dependencies(ctx, path.Source())
				if err != nil {
					return nil, fmt.Errorf("failed to expand %s: %w", path, err)
				}
				for _, d := range declared {
					d = d.Unnamed()
					n.declared = append(n.declared, d)
					g.link(g.get(d), n)
					queue = append(queue, d)
				}
			}
		}

		// References discovered by a previous pass seed this build's
		// roots. They are not parents: they never gate this node.
		refs, err := index.References(path)
		if err != nil {
			return nil, err
		}
		for _, r := range refs {
			queue = append(queue, r.To.Unnamed())
		}
	}

	return g, nil
}

// validate runs DFS cycle detection. A cycle is a fatal configuration
// error for the whole build.
func (g *graph) validate() error {
	visited := make(map[string]bool, len(g.nodes))
	recStack := make(map[string]bool, len(g.nodes))

	var dfs func(key string, path []string, depth int) error
	dfs = func(key string, path []string, depth int) error {
		if depth > MaxDepth {
			return fmt.Errorf("%w: maximum depth %d exceeded at %s", ErrGraphTooDeep, MaxDepth, key)
		}

		visited[key] = true
		recStack[key] = true
		path = append(path, key)

		for _, child := range g.nodes[key].children {
			if !visited[child] {
				if err := dfs(child, path, depth+1); err != nil {
					return err
				}
			} else if recStack[child] {
				cycle := append(path, child)
				return fmt.Errorf("%w: %s", ErrCycleDetected, strings.Join(cycle, " -> "))
			}
		}

		recStack[key] = false
		return nil
	}

	for _, key := range g.order {
		if !visited[key] {
			if err := dfs(key, nil, 0); err != nil {
				return err
			}
		}
	}
	return nil
}

// descendants returns every node transitively reachable through child
// edges, excluding start itself.
func (g *graph) descendants(start string) []string {
	var out []string
	seen := map[string]bool{start: true}
	queue := append([]string(nil), g.nodes[start].children...)

	for len(queue) > 0 {
		key := queue[0]
		queue = queue[1:]
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, key)
		queue = append(queue, g.nodes[key].children...)
	}
	return out
}
