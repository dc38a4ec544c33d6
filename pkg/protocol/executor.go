// Package protocol defines the interfaces and contracts for pluggable node executors.
package protocol

import (
	"context"
	"log/slog"

	"github.com/dukex/flowrun/pkg/models"
)

// ExecutionContext carries everything an executor may need while running
// one node of one run: the identifiers, the trigger payload and the
// outputs of previously completed nodes keyed for templating.
type ExecutionContext struct {
	RunID         string
	WorkflowID    string
	UserID        string
	ExecutionMode models.ExecutionMode
	Node          *models.WorkflowNode
	TriggerData   map[string]any

	// Variables holds completed node outputs under every key the
	// templating rules expose (node ID, response name, AI aliases).
	Variables map[string]any
}

// Executor runs a single node to completion. Implementations must be
// stateless across calls; per-node configuration arrives via the factory.
type Executor interface {
	Execute(ctx context.Context, executionCtx ExecutionContext, logger *slog.Logger) (any, error)
}

// ExecutorFactory creates executor instances and provides metadata about
// the node type, including the JSON schema its configuration is
// validated against at registration time.
type ExecutorFactory interface {
	// Create builds a new executor from the node's configuration.
	Create(config map[string]any) (Executor, error)

	// ID returns the node type this factory serves.
	ID() string

	// Name returns the human-readable name for this node type.
	Name() string

	// Description returns a description of what this node does.
	Description() string

	// Schema returns the JSON schema for configuring this node type.
	Schema() map[string]any
}

// CredentialResolver resolves a credential reference from a node into the
// secret material executors need. Implementations decide where secrets
// live; executors only see the resolved values. Resolution is scoped to
// the run's owning user: a credential owned by anyone else must not
// resolve.
type CredentialResolver interface {
	Resolve(ctx context.Context, credentialID, ownerUserID string) (map[string]string, error)
}
