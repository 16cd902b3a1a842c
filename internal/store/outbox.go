package store

import (
	"context"

	"appointly/backend/internal/domain"
)

type OutboxRepository interface {
	// PublishPending claims up to limit unpublished events, passes them to
	// publish and marks them published when publish returns nil. Claimed rows
	// are skipped by concurrent callers.
	PublishPending(ctx context.Context, limit int, publish func(ctx context.Context, events []domain.OutboxEvent) error) (int, error)
}
