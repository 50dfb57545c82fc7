// Package scheduler drives a hierarchical bulk-creation run to completion:
// it validates the input forest, builds the dependency graph, packs postable
// nodes into bounded batches, executes them on a fixed worker pool, and
// reconciles every outcome until each node holds a terminal status.
//
// All scheduling state is owned by the coordinator goroutine. Workers are
// pure request/response relays over channels and never touch the graph or
// the status map, so no locking is required beyond the channels themselves.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/vk/treepost/internal/batch"
	"github.com/vk/treepost/internal/ctxlog"
	"github.com/vk/treepost/internal/graph"
	"github.com/vk/treepost/internal/hierarchy"
	"github.com/vk/treepost/internal/remote"
)

// Scheduler posts node hierarchies to a remote store through a BatchCreator.
// It is stateless between runs; a single Scheduler may be reused.
type Scheduler struct {
	remote  remote.BatchCreator
	limit   int
	workers int
}

// New returns a Scheduler that dispatches batches of up to limit nodes
// across the given number of concurrent workers.
func New(rc remote.BatchCreator, limit, workers int) (*Scheduler, error) {
	if rc == nil {
		return nil, errors.New("scheduler: batch creator must not be nil")
	}
	if limit < 1 {
		return nil, fmt.Errorf("scheduler: batch limit must be positive, got %d", limit)
	}
	if workers < 1 {
		return nil, fmt.Errorf("scheduler: worker count must be positive, got %d", workers)
	}
	return &Scheduler{remote: rc, limit: limit, workers: workers}, nil
}

// PostHierarchy is a convenience wrapper for one-shot callers: it builds a
// Scheduler and runs a single posting pass over nodes.
func PostHierarchy(ctx context.Context, rc remote.BatchCreator, nodes []hierarchy.Node, limit, workers int) ([]hierarchy.Node, error) {
	s, err := New(rc, limit, workers)
	if err != nil {
		return nil, err
	}
	return s.Post(ctx, nodes)
}

// request carries one dispatched batch to a worker. The node values are
// copied out of the graph at dispatch time so workers never read shared
// state.
type request struct {
	keys  []string
	nodes []hierarchy.Node
}

// outcome is a worker's report for one completed create call.
type outcome struct {
	keys    []string
	created []hierarchy.Node
	err     error
}

// Post creates every node of the input forest on the remote store. On full
// success it returns all created nodes. On partial failure it returns the
// created nodes together with a *PostError describing the uncertain and
// failed sets. Validation failures and unclassified batch errors return
// before, respectively without, building a partial aggregate. No worker
// goroutine outlives the call on any exit path.
func (s *Scheduler) Post(ctx context.Context, nodes []hierarchy.Node) ([]hierarchy.Node, error) {
	logger := ctxlog.FromContext(ctx)

	if err := hierarchy.Validate(nodes); err != nil {
		return nil, err
	}
	g, err := graph.Build(nodes)
	if err != nil {
		return nil, err
	}
	if g.Len() == 0 {
		return nil, nil
	}
	logger.Debug("Dependency graph built.", "nodes", g.Len(), "roots", len(g.Roots()))

	// Both channels are sized for the worst case of one node per batch, so
	// neither the coordinator nor any worker can block on a send. Each node
	// is dispatched at most once per run.
	requests := make(chan request, g.Len())
	outcomes := make(chan outcome, g.Len())

	runCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer wg.Wait()
	defer cancel()

	wg.Add(s.workers)
	for i := 0; i < s.workers; i++ {
		go s.worker(runCtx, i, requests, outcomes, &wg)
	}
	logger.Debug("Worker pool started.", "workers", s.workers)

	status := make(map[string]hierarchy.Status, g.Len())
	statusOf := func(key string) hierarchy.Status { return status[key] }

	pending := g.Len()
	inFlight := 0
	var posted []hierarchy.Node
	var firstFailure *remote.BatchError

	// cascade marks the whole still-pending subtree below key as failed.
	// Nothing below a failed or uncertain node can ever be created, and none
	// of these nodes has been dispatched, so they go straight from pending
	// to a terminal status. Children that are not pending were part of the
	// same failed batch and cascade on their own reconcile iteration.
	var cascade func(key string)
	cascade = func(key string) {
		for _, child := range g.Children(key) {
			if status[child] != hierarchy.StatusPending {
				continue
			}
			status[child] = hierarchy.StatusFailed
			pending--
			cascade(child)
		}
	}

	for pending > 0 || inFlight > 0 {
		for _, b := range batch.PackReady(g, statusOf, s.limit) {
			req := request{keys: b.Keys, nodes: make([]hierarchy.Node, 0, len(b.Keys))}
			for _, key := range b.Keys {
				status[key] = hierarchy.StatusInFlight
				req.nodes = append(req.nodes, *g.Node(key))
			}
			pending -= len(b.Keys)
			inFlight++
			requests <- req
			logger.Debug("Batch dispatched.", "size", len(b.Keys))
		}

		if inFlight == 0 {
			break
		}

		out := <-outcomes
		inFlight--

		if out.err == nil {
			for _, key := range out.keys {
				status[key] = hierarchy.StatusPosted
			}
			posted = append(posted, out.created...)
			logger.Debug("Batch posted.", "size", len(out.keys))
			continue
		}

		var be *remote.BatchError
		if !errors.As(out.err, &be) || be.Kind == remote.KindUnclassified {
			// An unclassified failure aborts the whole run. The deferred
			// cancel/wait pair shuts the pool down before we return.
			logger.Error("Unclassified batch failure, aborting run.", "error", out.err)
			return nil, fmt.Errorf("posting hierarchy: %w", out.err)
		}

		terminal := hierarchy.StatusFailed
		if be.Kind == remote.KindTransient {
			terminal = hierarchy.StatusUncertain
		}
		logger.Warn("Batch failed.", "kind", be.Kind.String(), "status", be.StatusCode, "size", len(out.keys))
		for _, key := range out.keys {
			status[key] = terminal
			cascade(key)
		}
		if firstFailure == nil {
			firstFailure = be
		}
	}

	if firstFailure == nil {
		logger.Info("Hierarchy posted.", "nodes", len(posted))
		return posted, nil
	}
	return posted, newPostError(posted, status, firstFailure)
}

// worker pulls batches off the request channel and relays the create call's
// result to the coordinator. It exits when the run context is canceled.
func (s *Scheduler) worker(ctx context.Context, id int, requests <-chan request, outcomes chan<- outcome, wg *sync.WaitGroup) {
	defer wg.Done()
	logger := ctxlog.FromContext(ctx).With("workerID", id)
	logger.Debug("Worker started.")

	for {
		select {
		case <-ctx.Done():
			logger.Debug("Worker stopping.")
			return
		case req := <-requests:
			created, err := s.remote.CreateBatch(ctx, req.nodes)
			outcomes <- outcome{keys: req.keys, created: created, err: err}
		}
	}
}
