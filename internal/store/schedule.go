package store

import (
	"context"

	"appointly/backend/internal/domain"
)

type ScheduleRepository interface {
	GetWeeklyHours(ctx context.Context, providerID string) ([]domain.WeeklyHours, error)
	// ReplaceWeeklyHours deletes every row of the provider and inserts hours in
	// the same transaction.
	ReplaceWeeklyHours(ctx context.Context, providerID string, hours []domain.WeeklyHours) ([]domain.WeeklyHours, error)
}
