// Package graph builds the dependency graph for one posting run: children
// adjacency inverted from parent keys, the root set, per-node descendant
// counts, and the fixed priority order the batch packer consumes.
package graph

import (
	"fmt"
	"sort"

	"github.com/vk/treepost/internal/hierarchy"
)

// Graph is the immutable dependency structure derived from one validated
// input set. It is built once per run and never mutated afterwards, so it is
// safe to read from any goroutine.
type Graph struct {
	nodes       map[string]*hierarchy.Node
	children    map[string][]string
	roots       []string
	descendants map[string]int
	order       []string
}

// Node returns the input node for a key, or nil if the key is unknown.
func (g *Graph) Node(key string) *hierarchy.Node {
	return g.nodes[key]
}

// Len returns the number of nodes in the graph.
func (g *Graph) Len() int {
	return len(g.nodes)
}

// IsRoot reports whether the node is independently postable: it has no parent
// key, or it references an already-existing resource, or its parent key does
// not resolve inside this input set (treated as a pre-existing external
// parent).
func (g *Graph) IsRoot(key string) bool {
	n, ok := g.nodes[key]
	if !ok {
		return false
	}
	if n.ParentKey == "" || n.ParentRef != "" {
		return true
	}
	_, resolves := g.nodes[n.ParentKey]
	return !resolves
}

// Children returns the keys whose parent key resolves to the given node.
func (g *Graph) Children(key string) []string {
	return g.children[key]
}

// DescendantCount returns the size of the subtree rooted at key, self
// excluded.
func (g *Graph) DescendantCount(key string) int {
	return g.descendants[key]
}

// Roots returns every independently postable key.
func (g *Graph) Roots() []string {
	return g.roots
}

// Order returns all keys sorted by descending descendant count. The ordering
// is computed once at build time and fixed for the whole run; it determines
// packing priority only, never eligibility.
func (g *Graph) Order() []string {
	return g.order
}

// Build constructs the graph from validated input. It fails with a
// validation error if the parent-key edges contain a cycle.
func Build(nodes []hierarchy.Node) (*Graph, error) {
	g := &Graph{
		nodes:       make(map[string]*hierarchy.Node, len(nodes)),
		children:    make(map[string][]string),
		descendants: make(map[string]int, len(nodes)),
	}

	for i := range nodes {
		n := &nodes[i]
		g.nodes[n.Key] = n
	}

	// Invert parentKey into children adjacency. Edges whose parent does not
	// resolve in this set are external references, not graph edges.
	for i := range nodes {
		n := &nodes[i]
		if n.ParentKey == "" || n.ParentRef != "" {
			continue
		}
		if _, ok := g.nodes[n.ParentKey]; ok {
			g.children[n.ParentKey] = append(g.children[n.ParentKey], n.Key)
		}
	}

	if err := g.checkAcyclic(); err != nil {
		return nil, err
	}

	for key := range g.nodes {
		if g.IsRoot(key) {
			g.roots = append(g.roots, key)
		}
	}
	sort.Strings(g.roots)

	// Post-order from each root so every child's count is final before its
	// parent's is computed.
	for _, root := range g.roots {
		g.countDescendants(root)
	}

	g.order = make([]string, 0, len(g.nodes))
	for key := range g.nodes {
		g.order = append(g.order, key)
	}
	sort.Slice(g.order, func(i, j int) bool {
		a, b := g.order[i], g.order[j]
		if g.descendants[a] != g.descendants[b] {
			return g.descendants[a] > g.descendants[b]
		}
		return a < b
	})

	return g, nil
}

// countDescendants fills g.descendants for the subtree rooted at key and
// returns the subtree size including key itself.
func (g *Graph) countDescendants(key string) int {
	total := 0
	for _, child := range g.children[key] {
		total += g.countDescendants(child)
	}
	g.descendants[key] = total
	return total + 1
}

// checkAcyclic walks every node's parent chain, collecting visited keys; a
// key reappearing before the chain reaches a root or an already-verified node
// is a circular dependency. Verified nodes are memoized so the overall check
// is linear in the input size.
func (g *Graph) checkAcyclic() error {
	verified := make(map[string]bool, len(g.nodes))

	for start, n := range g.nodes {
		if verified[start] {
			continue
		}
		seen := map[string]bool{start: true}
		chain := []string{start}
		cur := n
		for cur.ParentKey != "" && cur.ParentRef == "" {
			parent, ok := g.nodes[cur.ParentKey]
			if !ok || verified[cur.ParentKey] {
				break
			}
			if seen[cur.ParentKey] {
				return fmt.Errorf("%w: circular dependency involving %q", hierarchy.ErrValidation, cur.ParentKey)
			}
			seen[cur.ParentKey] = true
			chain = append(chain, cur.ParentKey)
			cur = parent
		}
		for _, key := range chain {
			verified[key] = true
		}
	}
	return nil
}
