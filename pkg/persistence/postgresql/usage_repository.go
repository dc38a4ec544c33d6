package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/flowrun/pkg/models"
	"github.com/dukex/flowrun/pkg/persistence"
)

// UsageRepository reads the per-user monthly run counters. Writes happen
// only inside the reservation transaction in RunRepository.
type UsageRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewUsageRepository creates a new usage repository.
func NewUsageRepository(db *sql.DB, logger *slog.Logger) *UsageRepository {
	return &UsageRepository{db: db, logger: logger}
}

func (r *UsageRepository) GetForPeriod(ctx context.Context, userID, period string) (*models.UsageRecord, error) {
	var record models.UsageRecord

	err := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, period, run_count, updated_at
		FROM usage_records
		WHERE user_id = $1 AND period = $2
	`, userID, period).Scan(&record.ID, &record.UserID, &record.Period, &record.RunCount, &record.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrUsageNotFound
		}

		return nil, fmt.Errorf("failed to scan usage record: %w", err)
	}

	return &record, nil
}
