package execution

import (
	"errors"
	"fmt"

	"github.com/dukex/flowrun/pkg/registry"
)

// ErrPermanentNodeFailure is returned when a node has exhausted its
// attempt budget and must not be tried again.
var ErrPermanentNodeFailure = errors.New("node failed permanently")

// ErrUnsupportedNodeType mirrors the registry sentinel so callers can
// treat dispatch failures as configuration errors.
var ErrUnsupportedNodeType = registry.ErrUnsupportedNodeType

// NodeExecutionError wraps a node failure with its position in the run.
type NodeExecutionError struct {
	RunID  string
	NodeID string
	Err    error
}

func (e *NodeExecutionError) Error() string {
	return fmt.Sprintf("node %s in run %s failed: %v", e.NodeID, e.RunID, e.Err)
}

func (e *NodeExecutionError) Unwrap() error {
	return e.Err
}

// IsPermanentFailure checks whether an error means the node must not be
// retried.
func IsPermanentFailure(err error) bool {
	return errors.Is(err, ErrPermanentNodeFailure)
}
