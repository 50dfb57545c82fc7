// Package hierarchy defines the node model for a forest of resources awaiting
// bulk creation on a remote store, and the pre-flight validation applied to
// caller input before any network call is made.
package hierarchy

// Node is a single resource to be created on the remote store. Parent-child
// relationships inside one input set are expressed through symbolic keys,
// because server IDs do not exist until the store assigns them.
type Node struct {
	// Key is the symbolic identifier for this node, unique across the input
	// set. Other nodes reference it through ParentKey.
	Key string
	// ParentKey references another node's Key within the same input set.
	// Empty for roots.
	ParentKey string
	// ParentRef references a resource that already exists on the remote store
	// (a server-assigned ID). Mutually exclusive with ParentKey.
	ParentRef string

	// Name is the human-readable resource name sent to the store.
	Name string
	// Fields holds any additional resource attributes from the manifest.
	Fields map[string]string

	// ID is the server-assigned identifier. Empty until the store has
	// created the node and returned it.
	ID string
}

// Status is the scheduling state of a node during a posting run.
type Status int32

const (
	// StatusPending indicates the node has not yet been dispatched.
	StatusPending Status = iota
	// StatusInFlight indicates the node is part of a dispatched batch whose
	// outcome is not yet known.
	StatusInFlight
	// StatusPosted indicates the store confirmed creation.
	StatusPosted
	// StatusUncertain indicates the create call failed in a way that leaves
	// the true outcome unknown. Never retried, never assumed successful.
	StatusUncertain
	// StatusFailed indicates the node was definitively not created, either
	// because its batch was rejected or because an ancestor failed.
	StatusFailed
)

// Terminal reports whether a node in this status will never transition again.
func (s Status) Terminal() bool {
	return s == StatusPosted || s == StatusUncertain || s == StatusFailed
}

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusInFlight:
		return "in_flight"
	case StatusPosted:
		return "posted"
	case StatusUncertain:
		return "uncertain"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}
