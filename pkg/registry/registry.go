// Package registry maps node types to executor factories and validates
// node configuration against each factory's JSON schema before an
// executor is built.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dukex/flowrun/pkg/models"
	"github.com/dukex/flowrun/pkg/protocol"
	"github.com/xeipuuv/gojsonschema"
)

// ErrUnsupportedNodeType is returned when no factory serves a node type.
var ErrUnsupportedNodeType = errors.New("unsupported node type")

type Registry struct {
	logger    *slog.Logger
	factories map[string]protocol.ExecutorFactory
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		logger:    logger.With("module", "registry"),
		factories: make(map[string]protocol.ExecutorFactory),
	}
}

func (r *Registry) Register(factory protocol.ExecutorFactory) {
	r.factories[factory.ID()] = factory
}

// CreateExecutor validates the node's configuration against the
// factory's schema and builds the executor. An unknown type is a
// configuration error, not a retryable one.
func (r *Registry) CreateExecutor(ctx context.Context, node *models.WorkflowNode) (protocol.Executor, error) {
	factory, ok := r.factories[node.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedNodeType, node.Type)
	}

	err := r.validateConfig(node.Config, factory.Schema())
	if err != nil {
		return nil, fmt.Errorf("invalid configuration for node %s (%s): %w", node.ID, node.Type, err)
	}

	executor, err := factory.Create(node.Config)
	if err != nil {
		return nil, fmt.Errorf("failed to create executor for node %s (%s): %w", node.ID, node.Type, err)
	}

	r.logger.DebugContext(ctx, "Created executor", "node_id", node.ID, "node_type", node.Type)

	return executor, nil
}

// AvailableTypes returns all registered node types.
func (r *Registry) AvailableTypes() []string {
	types := make([]string, 0, len(r.factories))
	for nodeType := range r.factories {
		types = append(types, nodeType)
	}

	return types
}

func (r *Registry) validateConfig(config map[string]any, schema map[string]any) error {
	if schema == nil {
		return nil
	}

	if config == nil {
		config = map[string]any{}
	}

	schemaLoader := gojsonschema.NewGoLoader(schema)
	dataLoader := gojsonschema.NewGoLoader(config)

	result, err := gojsonschema.Validate(schemaLoader, dataLoader)
	if err != nil {
		return err
	}

	if !result.Valid() {
		descriptions := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			descriptions = append(descriptions, desc.String())
		}

		return fmt.Errorf("validation errors: %s", strings.Join(descriptions, "; "))
	}

	return nil
}
