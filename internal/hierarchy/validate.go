package hierarchy

import (
	"errors"
	"fmt"
)

// ErrValidation is wrapped by every error returned from Validate, so callers
// can distinguish bad input from runtime failures with errors.Is.
var ErrValidation = errors.New("invalid hierarchy")

// Validate performs the synchronous pre-flight check on caller input. It
// rejects empty or duplicated keys and nodes carrying both a symbolic parent
// key and an external parent reference. It never touches the network.
func Validate(nodes []Node) error {
	seen := make(map[string]struct{}, len(nodes))
	for i, n := range nodes {
		if n.Key == "" {
			return fmt.Errorf("%w: node at index %d has an empty key", ErrValidation, i)
		}
		if _, dup := seen[n.Key]; dup {
			return fmt.Errorf("%w: duplicate key %q", ErrValidation, n.Key)
		}
		seen[n.Key] = struct{}{}

		if n.ParentKey != "" && n.ParentRef != "" {
			return fmt.Errorf("%w: node %q sets both parent key and parent ref", ErrValidation, n.Key)
		}
	}
	return nil
}
