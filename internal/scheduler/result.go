package scheduler

import (
	"fmt"
	"sort"

	"github.com/vk/treepost/internal/hierarchy"
	"github.com/vk/treepost/internal/remote"
)

// PostError is the aggregate result of a run that completed with classified
// failures. It separates nodes that are confirmed absent from nodes whose
// fate is unknown: retrying the former is safe, retrying the latter risks
// duplicate creation.
type PostError struct {
	// Posted holds every node the store confirmed, in completion order.
	Posted []hierarchy.Node
	// Uncertain holds the keys whose create outcome could not be confirmed.
	Uncertain []string
	// Failed holds the keys that were definitively not created, including
	// every descendant of a failed or uncertain node.
	Failed []string
	// Cause is the first classified batch failure observed during the run.
	Cause *remote.BatchError
}

// Error implements the error interface.
func (e *PostError) Error() string {
	return fmt.Sprintf("hierarchy partially posted: %d posted, %d uncertain, %d failed (first failure: %v)",
		len(e.Posted), len(e.Uncertain), len(e.Failed), e.Cause)
}

// Unwrap exposes the first classified failure to errors.Is / errors.As.
func (e *PostError) Unwrap() error {
	return e.Cause
}

func newPostError(posted []hierarchy.Node, status map[string]hierarchy.Status, cause *remote.BatchError) *PostError {
	perr := &PostError{Posted: posted, Cause: cause}
	for key, st := range status {
		switch st {
		case hierarchy.StatusUncertain:
			perr.Uncertain = append(perr.Uncertain, key)
		case hierarchy.StatusFailed:
			perr.Failed = append(perr.Failed, key)
		}
	}
	sort.Strings(perr.Uncertain)
	sort.Strings(perr.Failed)
	return perr
}
