package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/flowrun/pkg/models"
	"github.com/dukex/flowrun/pkg/persistence"
)

// NodeRunRepository handles node-run-related database operations. One row
// exists per (run, node); Save upserts so resumed attempts overwrite the
// previous attempt's row.
type NodeRunRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewNodeRunRepository creates a new node run repository.
func NewNodeRunRepository(db *sql.DB, logger *slog.Logger) *NodeRunRepository {
	return &NodeRunRepository{db: db, logger: logger}
}

func (r *NodeRunRepository) GetByNode(ctx context.Context, runID, nodeID string) (*models.NodeRun, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, run_id, node_id, node_type, status, retry_count, output, error, started_at, completed_at
		FROM node_runs
		WHERE run_id = $1 AND node_id = $2
	`, runID, nodeID)

	nodeRun, err := r.scanNodeRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &persistence.NodeRunError{Op: "GetByNode", RunID: runID, NodeID: nodeID, Err: persistence.ErrNodeRunNotFound}
		}

		return nil, fmt.Errorf("failed to scan node run: %w", err)
	}

	return nodeRun, nil
}

func (r *NodeRunRepository) ListByRun(ctx context.Context, runID string) ([]*models.NodeRun, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, run_id, node_id, node_type, status, retry_count, output, error, started_at, completed_at
		FROM node_runs
		WHERE run_id = $1
		ORDER BY started_at
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query node runs: %w", err)
	}

	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", closeErr)
		}
	}()

	nodeRuns := make([]*models.NodeRun, 0)

	for rows.Next() {
		nodeRun, err := r.scanNodeRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan node run: %w", err)
		}

		nodeRuns = append(nodeRuns, nodeRun)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating node runs: %w", err)
	}

	return nodeRuns, nil
}

func (r *NodeRunRepository) Save(ctx context.Context, nodeRun *models.NodeRun) error {
	outputJSON, err := json.Marshal(nodeRun.Output)
	if err != nil {
		return fmt.Errorf("failed to marshal node output: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO node_runs (id, run_id, node_id, node_type, status, retry_count, output, error, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (run_id, node_id) DO UPDATE SET
			status = EXCLUDED.status,
			retry_count = EXCLUDED.retry_count,
			output = EXCLUDED.output,
			error = EXCLUDED.error,
			started_at = EXCLUDED.started_at,
			completed_at = EXCLUDED.completed_at
	`, nodeRun.ID, nodeRun.RunID, nodeRun.NodeID, nodeRun.NodeType, nodeRun.Status,
		nodeRun.RetryCount, outputJSON, nodeRun.Error, nodeRun.StartedAt, nodeRun.CompletedAt)
	if err != nil {
		return &persistence.NodeRunError{Op: "Save", RunID: nodeRun.RunID, NodeID: nodeRun.NodeID, Err: err}
	}

	return nil
}

func (r *NodeRunRepository) scanNodeRun(scanner interface {
	Scan(dest ...any) error
}) (*models.NodeRun, error) {
	var (
		nodeRun    models.NodeRun
		outputJSON []byte
		errMsg     sql.NullString
	)

	err := scanner.Scan(
		&nodeRun.ID,
		&nodeRun.RunID,
		&nodeRun.NodeID,
		&nodeRun.NodeType,
		&nodeRun.Status,
		&nodeRun.RetryCount,
		&outputJSON,
		&errMsg,
		&nodeRun.StartedAt,
		&nodeRun.CompletedAt,
	)
	if err != nil {
		return nil, err
	}

	nodeRun.Error = errMsg.String

	if outputJSON != nil {
		err := json.Unmarshal(outputJSON, &nodeRun.Output)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal node output: %w", err)
		}
	}

	return &nodeRun, nil
}
