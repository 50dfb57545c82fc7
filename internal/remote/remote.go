// Package remote defines the single primitive the scheduler consumes from
// the outside world: a bulk create call against the remote store, plus the
// error taxonomy the coordinator uses to classify batch failures.
package remote

import (
	"context"
	"fmt"
	"strings"

	"github.com/vk/treepost/internal/hierarchy"
)

// BatchCreator performs one network create call for a bounded batch of
// nodes. The store resolves symbolic parent references between nodes of the
// same request. Implementations must return a *BatchError for failures that
// can be attributed to the batch; any other error is treated as unclassified
// and aborts the whole run.
type BatchCreator interface {
	CreateBatch(ctx context.Context, nodes []hierarchy.Node) ([]hierarchy.Node, error)
}

// ErrorKind classifies a failed create call.
type ErrorKind int

const (
	// KindUnclassified covers failures carrying no usable status, such as
	// transport errors. The scheduler aborts the run on these.
	KindUnclassified ErrorKind = iota
	// KindClient is a 4xx-equivalent rejection: the batch's nodes were
	// definitively not created.
	KindClient
	// KindTransient is a 5xx-equivalent failure: the outcome is unknown and
	// a retry could create duplicates.
	KindTransient
)

func (k ErrorKind) String() string {
	switch k {
	case KindClient:
		return "client"
	case KindTransient:
		return "transient"
	default:
		return "unclassified"
	}
}

// BatchError is a classified failure of one create call. Keys carries the
// batch's node keys so the coordinator can map the failure back onto the
// graph.
type BatchError struct {
	Kind       ErrorKind
	StatusCode int
	Message    string
	Keys       []string
}

// Error implements the error interface.
func (e *BatchError) Error() string {
	return fmt.Sprintf("batch create failed (%s, status %d) for [%s]: %s",
		e.Kind, e.StatusCode, strings.Join(e.Keys, ", "), e.Message)
}
