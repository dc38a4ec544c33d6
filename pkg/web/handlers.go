package web

import (
	"context"
	"time"

	"github.com/dukex/flowrun/pkg/admission"
	"github.com/dukex/flowrun/pkg/models"
	"github.com/dukex/flowrun/pkg/persistence"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

// Admitter reserves a quota-checked run and enqueues its job.
type Admitter interface {
	ReserveAndEnqueue(ctx context.Context, req admission.Request) (*models.WorkflowRun, error)
}

type APIHandlers struct {
	workflows persistence.WorkflowRepository
	runs      persistence.RunRepository
	nodeRuns  persistence.NodeRunRepository
	usage     persistence.UsageRepository
	admitter  Admitter
	validator *validator.Validate
}

func NewAPIHandlers(
	workflows persistence.WorkflowRepository,
	runs persistence.RunRepository,
	nodeRuns persistence.NodeRunRepository,
	usage persistence.UsageRepository,
	admitter Admitter,
	validator *validator.Validate,
) *APIHandlers {
	return &APIHandlers{
		workflows: workflows,
		runs:      runs,
		nodeRuns:  nodeRuns,
		usage:     usage,
		admitter:  admitter,
		validator: validator,
	}
}

// RegisterRoutes mounts the run API onto the app.
func RegisterRoutes(app *fiber.App, handlers *APIHandlers) {
	app.Post("/workflows/:id/runs", handlers.TriggerRun)

	runs := app.Group("/runs")
	runs.Get("/:id", handlers.GetRun)
	runs.Get("/:id/node-runs", handlers.GetRunNodeRuns)

	app.Get("/users/:id/usage", handlers.GetUserUsage)
}

// TriggerRun admits a manual run of a published workflow. Quota and
// reservation-contention rejections come back as 429 problems.
func (h *APIHandlers) TriggerRun(c fiber.Ctx) error {
	workflowID := c.Params("id")
	if workflowID == "" {
		return badRequest(c, "Workflow ID is required")
	}

	var req TriggerRunRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	workflow, err := h.workflows.GetByID(c.Context(), workflowID)
	if err != nil {
		return handleAdmissionError(c, err)
	}

	if workflow.Status != models.WorkflowStatusPublished {
		return badRequest(c, "Workflow is not published")
	}

	run, err := h.admitter.ReserveAndEnqueue(c.Context(), admission.Request{
		WorkflowID:  workflow.ID,
		UserID:      req.UserID,
		TriggerType: "manual",
		TriggerData: req.TriggerData,
	})
	if err != nil {
		return handleAdmissionError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(run)
}

func (h *APIHandlers) GetRun(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Run ID is required")
	}

	run, err := h.runs.GetByID(c.Context(), id)
	if err != nil {
		if persistence.IsRunNotFound(err) {
			return notFound(c, "run_not_found", "run not found")
		}

		return internalError(c, err)
	}

	return c.JSON(run)
}

func (h *APIHandlers) GetRunNodeRuns(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Run ID is required")
	}

	run, err := h.runs.GetByID(c.Context(), id)
	if err != nil {
		if persistence.IsRunNotFound(err) {
			return notFound(c, "run_not_found", "run not found")
		}

		return internalError(c, err)
	}

	nodeRuns, err := h.nodeRuns.ListByRun(c.Context(), run.ID)
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(RunDetailResponse{Run: run, NodeRuns: nodeRuns})
}

// GetUserUsage returns the user's run counter for the current month. A
// user with no runs this month gets a zeroed record.
func (h *APIHandlers) GetUserUsage(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "User ID is required")
	}

	period := models.UsagePeriod(time.Now().UTC())

	usage, err := h.usage.GetForPeriod(c.Context(), id, period)
	if err != nil {
		if persistence.IsUsageNotFound(err) {
			return c.JSON(models.UsageRecord{UserID: id, Period: period})
		}

		return internalError(c, err)
	}

	return c.JSON(usage)
}
