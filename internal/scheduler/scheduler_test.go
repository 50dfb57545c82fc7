package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/treepost/internal/hierarchy"
	"github.com/vk/treepost/internal/remote"
)

// fakeStore is an in-memory BatchCreator that records every call and can be
// told to fail batches containing specific keys.
type fakeStore struct {
	mu    sync.Mutex
	calls [][]string
	fail  map[string]error
	idSeq int
}

func newFakeStore() *fakeStore {
	return &fakeStore{fail: make(map[string]error)}
}

func (f *fakeStore) CreateBatch(ctx context.Context, nodes []hierarchy.Node) ([]hierarchy.Node, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	keys := make([]string, 0, len(nodes))
	for _, n := range nodes {
		keys = append(keys, n.Key)
	}
	f.calls = append(f.calls, keys)

	for _, key := range keys {
		if err, ok := f.fail[key]; ok {
			var be *remote.BatchError
			if errors.As(err, &be) {
				be.Keys = keys
			}
			return nil, err
		}
	}

	created := make([]hierarchy.Node, 0, len(nodes))
	for _, n := range nodes {
		f.idSeq++
		n.ID = fmt.Sprintf("srv-%d", f.idSeq)
		created = append(created, n)
	}
	return created, nil
}

func (f *fakeStore) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeStore) dispatchedKeys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var keys []string
	for _, call := range f.calls {
		keys = append(keys, call...)
	}
	return keys
}

// callIndex returns the index of the call that contained key, or -1.
func (f *fakeStore) callIndex(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, call := range f.calls {
		for _, k := range call {
			if k == key {
				return i
			}
		}
	}
	return -1
}

func mustScheduler(t *testing.T, store remote.BatchCreator, limit, workers int) *Scheduler {
	t.Helper()
	s, err := New(store, limit, workers)
	require.NoError(t, err)
	return s
}

func TestNew(t *testing.T) {
	store := newFakeStore()

	_, err := New(nil, 10, 2)
	assert.ErrorContains(t, err, "batch creator")

	_, err = New(store, 0, 2)
	assert.ErrorContains(t, err, "batch limit")

	_, err = New(store, 10, 0)
	assert.ErrorContains(t, err, "worker count")

	s, err := New(store, 10, 2)
	require.NoError(t, err)
	assert.NotNil(t, s)
}

func TestPostHierarchy(t *testing.T) {
	store := newFakeStore()

	posted, err := PostHierarchy(context.Background(), store, []hierarchy.Node{{Key: "a"}}, 10, 2)
	require.NoError(t, err)
	assert.Len(t, posted, 1)

	_, err = PostHierarchy(context.Background(), store, nil, 0, 2)
	assert.ErrorContains(t, err, "batch limit")
}

func TestPostChainSingleBatch(t *testing.T) {
	store := newFakeStore()
	s := mustScheduler(t, store, 10, 2)

	posted, err := s.Post(context.Background(), []hierarchy.Node{
		{Key: "a"},
		{Key: "b", ParentKey: "a"},
		{Key: "c", ParentKey: "b"},
	})
	require.NoError(t, err)

	assert.Equal(t, 1, store.callCount(), "whole chain fits one request")
	require.Len(t, posted, 3)
	for _, n := range posted {
		assert.NotEmpty(t, n.ID, "posted nodes carry server-assigned IDs")
	}
}

func TestPostSequentialBatchesWhenLimited(t *testing.T) {
	store := newFakeStore()
	s := mustScheduler(t, store, 1, 4)

	posted, err := s.Post(context.Background(), []hierarchy.Node{
		{Key: "a"},
		{Key: "b", ParentKey: "a"},
	})
	require.NoError(t, err)
	assert.Len(t, posted, 2)

	require.Equal(t, 2, store.callCount())
	assert.Less(t, store.callIndex("a"), store.callIndex("b"),
		"b must not be dispatched before a's batch returns")
}

func TestPostClientErrorCascades(t *testing.T) {
	store := newFakeStore()
	store.fail["a"] = &remote.BatchError{Kind: remote.KindClient, StatusCode: 422, Message: "rejected"}
	s := mustScheduler(t, store, 1, 2)

	posted, err := s.Post(context.Background(), []hierarchy.Node{
		{Key: "a"},
		{Key: "b", ParentKey: "a"},
	})
	require.Error(t, err)
	assert.Empty(t, posted)

	var perr *PostError
	require.ErrorAs(t, err, &perr)
	assert.Empty(t, perr.Posted)
	assert.Empty(t, perr.Uncertain)
	assert.ElementsMatch(t, []string{"a", "b"}, perr.Failed)
	require.NotNil(t, perr.Cause)
	assert.Equal(t, remote.KindClient, perr.Cause.Kind)
	assert.Equal(t, 422, perr.Cause.StatusCode)

	assert.Equal(t, 1, store.callCount(), "descendants of a failed node are never dispatched")
	assert.NotContains(t, store.dispatchedKeys(), "b")
}

func TestPostTransientErrorMarksUncertain(t *testing.T) {
	store := newFakeStore()
	store.fail["a"] = &remote.BatchError{Kind: remote.KindTransient, StatusCode: 503, Message: "try later"}
	s := mustScheduler(t, store, 1, 2)

	_, err := s.Post(context.Background(), []hierarchy.Node{
		{Key: "a"},
		{Key: "b", ParentKey: "a"},
		{Key: "c"},
	})
	require.Error(t, err)

	var perr *PostError
	require.ErrorAs(t, err, &perr)
	assert.ElementsMatch(t, []string{"a"}, perr.Uncertain, "the batch itself ends uncertain")
	assert.ElementsMatch(t, []string{"b"}, perr.Failed, "descendants end failed regardless of the parent's true fate")
	require.Len(t, perr.Posted, 1)
	assert.Equal(t, "c", perr.Posted[0].Key, "unaffected subtrees still complete")

	assert.NotContains(t, store.dispatchedKeys(), "b", "uncertain nodes are never retried, children never sent")
}

func TestPostEveryNodeEndsInExactlyOneTerminalSet(t *testing.T) {
	store := newFakeStore()
	store.fail["bad"] = &remote.BatchError{Kind: remote.KindClient, StatusCode: 400, Message: "nope"}
	s := mustScheduler(t, store, 2, 3)

	input := []hierarchy.Node{
		{Key: "bad"},
		{Key: "bad-child", ParentKey: "bad"},
		{Key: "bad-grandchild", ParentKey: "bad-child"},
		{Key: "ok"},
		{Key: "ok-child", ParentKey: "ok"},
		{Key: "lone", ParentRef: "srv-0"},
	}
	posted, err := s.Post(context.Background(), input)
	require.Error(t, err)

	var perr *PostError
	require.ErrorAs(t, err, &perr)

	terminal := make(map[string]int)
	for _, n := range posted {
		terminal[n.Key]++
	}
	for _, key := range perr.Uncertain {
		terminal[key]++
	}
	for _, key := range perr.Failed {
		terminal[key]++
	}

	require.Len(t, terminal, len(input))
	for _, n := range input {
		assert.Equal(t, 1, terminal[n.Key], "node %q must end in exactly one terminal set", n.Key)
	}
}

func TestPostRunContinuesAfterSameBatchCascade(t *testing.T) {
	store := newFakeStore()
	store.fail["bad"] = &remote.BatchError{Kind: remote.KindClient, StatusCode: 400, Message: "nope"}
	s := mustScheduler(t, store, 2, 2)

	// bad and bad-child share one failing batch. x2 does not fit into x's
	// first batch and must still be dispatched after the failure elsewhere.
	posted, err := s.Post(context.Background(), []hierarchy.Node{
		{Key: "bad"},
		{Key: "bad-child", ParentKey: "bad"},
		{Key: "x"},
		{Key: "x1", ParentKey: "x"},
		{Key: "x2", ParentKey: "x"},
	})
	require.Error(t, err)

	var perr *PostError
	require.ErrorAs(t, err, &perr)
	assert.ElementsMatch(t, []string{"bad", "bad-child"}, perr.Failed)
	assert.Empty(t, perr.Uncertain)

	postedKeys := make([]string, 0, len(posted))
	for _, n := range posted {
		postedKeys = append(postedKeys, n.Key)
	}
	assert.ElementsMatch(t, []string{"x", "x1", "x2"}, postedKeys)
}

func TestPostBatchBound(t *testing.T) {
	store := newFakeStore()
	s := mustScheduler(t, store, 3, 4)

	var input []hierarchy.Node
	input = append(input, hierarchy.Node{Key: "root"})
	for i := 0; i < 20; i++ {
		input = append(input, hierarchy.Node{Key: fmt.Sprintf("n%02d", i), ParentKey: "root"})
	}

	posted, err := s.Post(context.Background(), input)
	require.NoError(t, err)
	assert.Len(t, posted, len(input))

	store.mu.Lock()
	defer store.mu.Unlock()
	for _, call := range store.calls {
		assert.LessOrEqual(t, len(call), 3, "no dispatched batch may exceed the limit")
	}
}

func TestPostCausalOrdering(t *testing.T) {
	store := newFakeStore()
	s := mustScheduler(t, store, 2, 4)

	input := []hierarchy.Node{
		{Key: "r1"},
		{Key: "r1a", ParentKey: "r1"},
		{Key: "r1a1", ParentKey: "r1a"},
		{Key: "r1a2", ParentKey: "r1a"},
		{Key: "r2"},
		{Key: "r2a", ParentKey: "r2"},
		{Key: "r2b", ParentKey: "r2"},
	}
	posted, err := s.Post(context.Background(), input)
	require.NoError(t, err)
	assert.Len(t, posted, len(input))

	byKey := make(map[string]hierarchy.Node, len(input))
	for _, n := range input {
		byKey[n.Key] = n
	}
	for _, n := range input {
		if n.ParentKey == "" {
			continue
		}
		if _, inSet := byKey[n.ParentKey]; !inSet {
			continue
		}
		assert.LessOrEqual(t, store.callIndex(n.ParentKey), store.callIndex(n.Key),
			"%q must not be dispatched before its parent %q", n.Key, n.ParentKey)
	}
}

func TestPostValidationFailuresSkipNetwork(t *testing.T) {
	t.Run("duplicate key", func(t *testing.T) {
		store := newFakeStore()
		s := mustScheduler(t, store, 10, 2)

		_, err := s.Post(context.Background(), []hierarchy.Node{{Key: "a"}, {Key: "a"}})
		require.ErrorIs(t, err, hierarchy.ErrValidation)
		assert.Zero(t, store.callCount())
	})

	t.Run("cycle", func(t *testing.T) {
		store := newFakeStore()
		s := mustScheduler(t, store, 10, 2)

		_, err := s.Post(context.Background(), []hierarchy.Node{
			{Key: "a", ParentKey: "b"},
			{Key: "b", ParentKey: "a"},
		})
		require.ErrorIs(t, err, hierarchy.ErrValidation)
		assert.Zero(t, store.callCount())
	})
}

func TestPostEmptyInput(t *testing.T) {
	store := newFakeStore()
	s := mustScheduler(t, store, 10, 2)

	posted, err := s.Post(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, posted)
	assert.Zero(t, store.callCount())
}

// blockingStore fails one designated batch outright and blocks every other
// call until its context is canceled, recording how many calls have fully
// returned.
type blockingStore struct {
	boomKey string
	mu      sync.Mutex
	started int
	exited  int
}

func (b *blockingStore) CreateBatch(ctx context.Context, nodes []hierarchy.Node) ([]hierarchy.Node, error) {
	b.mu.Lock()
	b.started++
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		b.exited++
		b.mu.Unlock()
	}()

	for _, n := range nodes {
		if n.Key == b.boomKey {
			return nil, errors.New("kaboom")
		}
	}
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestPostUnclassifiedErrorAbortsAndStopsWorkers(t *testing.T) {
	store := &blockingStore{boomKey: "boom"}
	s := mustScheduler(t, store, 1, 3)

	done := make(chan struct{})
	var posted []hierarchy.Node
	var err error
	go func() {
		defer close(done)
		posted, err = s.Post(context.Background(), []hierarchy.Node{
			{Key: "boom"},
			{Key: "slow1"},
			{Key: "slow2"},
		})
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Post did not return after an unclassified failure")
	}

	require.Error(t, err)
	assert.ErrorContains(t, err, "kaboom")
	var perr *PostError
	assert.False(t, errors.As(err, &perr), "unclassified failures must not produce a partial aggregate")
	assert.Empty(t, posted)

	// Post waits for the worker pool on its way out, so by the time it has
	// returned every in-flight create call must have observed cancellation.
	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Equal(t, store.started, store.exited, "no create call may still be running after Post returns")
}
