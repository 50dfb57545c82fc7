// Package batch assembles bounded-size create batches from the currently
// postable frontier of a dependency graph. Packing is structural: a node only
// ever shares a request with its parent or follows a request in which its
// parent was posted, so causal ordering never depends on timing.
package batch

import (
	"container/heap"

	"github.com/vk/treepost/internal/graph"
	"github.com/vk/treepost/internal/hierarchy"
)

// Batch is an ordered set of node keys dispatched together in one create
// call. Its length never exceeds the configured limit.
type Batch struct {
	Keys []string
}

// StatusFunc reports the current scheduling status of a node.
type StatusFunc func(key string) hierarchy.Status

// PackReady assembles the batches for one scheduling pass. Nodes are visited
// in the graph's fixed priority order (descending descendant count). Each
// still-pending postable node seeds a greedy pack of its pending subtree: the
// remote store resolves symbolic parent references within one request, so a
// child may ride in the same batch as its parent. When a batch fills
// mid-subtree the remainder stays pending for a later pass, because a child
// must never be dispatched ahead of its parent.
func PackReady(g *graph.Graph, status StatusFunc, limit int) []Batch {
	var batches []Batch
	consumed := make(map[string]bool)

	for _, key := range g.Order() {
		if consumed[key] || status(key) != hierarchy.StatusPending || !postable(g, status, key) {
			continue
		}

		pq := &subtreeQueue{graph: g}
		heap.Push(pq, key)

		var keys []string
		for pq.Len() > 0 && len(keys) < limit {
			next := heap.Pop(pq).(string)
			keys = append(keys, next)
			consumed[next] = true
			for _, child := range g.Children(next) {
				if !consumed[child] && status(child) == hierarchy.StatusPending {
					heap.Push(pq, child)
				}
			}
		}
		batches = append(batches, Batch{Keys: keys})
	}
	return batches
}

// postable reports whether the node's parent requirement is already
// satisfied: the node is a root (no parent, external parent, or unresolved
// parent key) or its in-set parent has been posted.
func postable(g *graph.Graph, status StatusFunc, key string) bool {
	if g.IsRoot(key) {
		return true
	}
	return status(g.Node(key).ParentKey) == hierarchy.StatusPosted
}

// subtreeQueue is a binary max-heap of node keys prioritized by descendant
// count, so larger subtrees are packed first. Ties fall back to key order to
// keep packing deterministic.
type subtreeQueue struct {
	graph *graph.Graph
	keys  []string
}

func (q *subtreeQueue) Len() int { return len(q.keys) }

func (q *subtreeQueue) Less(i, j int) bool {
	a, b := q.keys[i], q.keys[j]
	if q.graph.DescendantCount(a) != q.graph.DescendantCount(b) {
		return q.graph.DescendantCount(a) > q.graph.DescendantCount(b)
	}
	return a < b
}

func (q *subtreeQueue) Swap(i, j int) { q.keys[i], q.keys[j] = q.keys[j], q.keys[i] }

func (q *subtreeQueue) Push(x any) { q.keys = append(q.keys, x.(string)) }

func (q *subtreeQueue) Pop() any {
	last := len(q.keys) - 1
	key := q.keys[last]
	q.keys = q.keys[:last]
	return key
}
