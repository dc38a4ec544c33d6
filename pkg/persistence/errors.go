// Package persistence provides standardized error types for persistence operations.
package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrWorkflowNotFound indicates a workflow was not found by the given identifier.
	ErrWorkflowNotFound = errors.New("workflow not found")

	// ErrRunNotFound indicates a workflow run was not found by the given identifier.
	ErrRunNotFound = errors.New("workflow run not found")

	// ErrNodeRunNotFound indicates a node run was not found for the given run and node.
	ErrNodeRunNotFound = errors.New("node run not found")

	// ErrUsageNotFound indicates no usage record exists for the given user and period.
	ErrUsageNotFound = errors.New("usage record not found")

	// ErrConcurrentLimit indicates the user is at their plan's concurrent-run cap.
	ErrConcurrentLimit = errors.New("concurrent run limit reached")

	// ErrMonthlyLimit indicates the user's monthly run quota is exhausted.
	ErrMonthlyLimit = errors.New("monthly run quota exhausted")
)

// RunError wraps run-related errors with additional context.
type RunError struct {
	Op    string // Operation being performed (e.g., "ReserveRun", "TryLock")
	RunID string // Run ID if applicable
	Err   error  // Underlying error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("%s operation failed for run %s: %v", e.Op, e.RunID, e.Err)
}

func (e *RunError) Unwrap() error {
	return e.Err
}

func (e *RunError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewRunError creates a new run error with context.
func NewRunError(op, runID string, err error) *RunError {
	return &RunError{Op: op, RunID: runID, Err: err}
}

// NodeRunError wraps node-run-related errors with additional context.
type NodeRunError struct {
	Op     string
	RunID  string
	NodeID string
	Err    error
}

func (e *NodeRunError) Error() string {
	return fmt.Sprintf("%s operation failed for node %s in run %s: %v", e.Op, e.NodeID, e.RunID, e.Err)
}

func (e *NodeRunError) Unwrap() error {
	return e.Err
}

func (e *NodeRunError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// IsWorkflowNotFound checks if an error indicates a workflow was not found.
func IsWorkflowNotFound(err error) bool {
	return errors.Is(err, ErrWorkflowNotFound)
}

// IsRunNotFound checks if an error indicates a run was not found.
func IsRunNotFound(err error) bool {
	return errors.Is(err, ErrRunNotFound)
}

// IsNodeRunNotFound checks if an error indicates a node run was not found.
func IsNodeRunNotFound(err error) bool {
	return errors.Is(err, ErrNodeRunNotFound)
}

// IsUsageNotFound checks if an error indicates no usage record exists.
func IsUsageNotFound(err error) bool {
	return errors.Is(err, ErrUsageNotFound)
}

// IsQuotaError checks if an error is one of the plan-limit rejections.
func IsQuotaError(err error) bool {
	return errors.Is(err, ErrConcurrentLimit) || errors.Is(err, ErrMonthlyLimit)
}
