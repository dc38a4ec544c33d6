// Package web provides the HTTP surface for triggering and inspecting
// workflow runs.
package web

import "github.com/dukex/flowrun/pkg/models"

// TriggerRunRequest represents the request body for manually triggering a
// workflow run.
type TriggerRunRequest struct {
	UserID      string         `json:"user_id"      validate:"required"`
	TriggerData map[string]any `json:"trigger_data,omitempty"`
}

// RunDetailResponse bundles a run with its node attempt records.
type RunDetailResponse struct {
	Run      *models.WorkflowRun `json:"run"`
	NodeRuns []*models.NodeRun   `json:"node_runs"`
}
