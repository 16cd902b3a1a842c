package postgres

import (
	"context"

	"github.com/uptrace/bun"

	"appointly/backend/internal/domain"
)

type ScheduleRepo struct {
	db *bun.DB
}

func NewScheduleRepo(db *bun.DB) *ScheduleRepo {
	return &ScheduleRepo{db: db}
}

func (r *ScheduleRepo) GetWeeklyHours(ctx context.Context, providerID string) ([]domain.WeeklyHours, error) {
	return listWeeklyHours(ctx, r.db, providerID)
}

// ReplaceWeeklyHours takes the provider lock so a concurrent booking never
// validates against a half-written schedule.
func (r *ScheduleRepo) ReplaceWeeklyHours(ctx context.Context, providerID string, hours []domain.WeeklyHours) ([]domain.WeeklyHours, error) {
	rows := make([]domain.WeeklyHours, 0, len(hours))
	for _, h := range hours {
		h.ProviderID = providerID
		rows = append(rows, h)
	}

	err := r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := lockProviderCalendar(ctx, tx, providerID); err != nil {
			return err
		}
		_, err := tx.NewDelete().
			Model((*domain.WeeklyHours)(nil)).
			Where("provider_id = ?", providerID).
			Exec(ctx)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		_, err = tx.NewInsert().Model(&rows).Exec(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func listWeeklyHours(ctx context.Context, db bun.IDB, providerID string) ([]domain.WeeklyHours, error) {
	var rows []domain.WeeklyHours
	err := db.NewSelect().
		Model(&rows).
		Where("provider_id = ?", providerID).
		OrderExpr("day_of_week ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return rows, nil
}
