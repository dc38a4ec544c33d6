package web

import (
	"errors"

	"github.com/dukex/flowrun/pkg/graph"
	"github.com/dukex/flowrun/pkg/lock"
	"github.com/dukex/flowrun/pkg/persistence"
	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"
)

func badRequest(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(400).
		WithInstance(c.Path()).
		WithType("validation_error").
		WithDetail(detail)

	return c.Status(fiber.StatusBadRequest).JSON(problem)
}

func notFound(c fiber.Ctx, problemType, detail string) error {
	problem := problems.NewStatusProblem(404).
		WithInstance(c.Path()).
		WithType(problemType).
		WithDetail(detail)

	return c.Status(fiber.StatusNotFound).JSON(problem)
}

func tooManyRequests(c fiber.Ctx, problemType, detail string) error {
	problem := problems.NewStatusProblem(429).
		WithInstance(c.Path()).
		WithType(problemType).
		WithDetail(detail)

	return c.Status(fiber.StatusTooManyRequests).JSON(problem)
}

func internalError(c fiber.Ctx, err error) error {
	problem := problems.NewStatusProblem(500).
		WithInstance(c.Path()).
		WithType("internal_error").
		WithError(err)

	return c.Status(fiber.StatusInternalServerError).JSON(problem)
}

// handleAdmissionError maps reservation and quota rejections onto 429
// responses the client can retry or surface, everything else onto 500.
func handleAdmissionError(c fiber.Ctx, err error) error {
	switch {
	case persistence.IsWorkflowNotFound(err):
		return notFound(c, "workflow_not_found", "workflow not found")

	case graph.IsValidationError(err):
		return badRequest(c, err.Error())

	case errors.Is(err, persistence.ErrConcurrentLimit):
		return tooManyRequests(c, "concurrent_limit", "concurrent run limit reached, retry after a run finishes")

	case errors.Is(err, persistence.ErrMonthlyLimit):
		return tooManyRequests(c, "monthly_limit", "monthly run quota exhausted")

	case lock.IsReservationTimeout(err):
		return tooManyRequests(c, "reservation_timeout", "could not reserve a run slot in time, try again")

	default:
		return internalError(c, err)
	}
}
