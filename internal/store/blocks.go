package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"appointly/backend/internal/domain"
)

type BlockRepository interface {
	Create(ctx context.Context, b domain.Block) (domain.Block, error)
	Get(ctx context.Context, blockID uuid.UUID) (domain.Block, error)
	Delete(ctx context.Context, providerID string, blockID uuid.UUID) error
	List(ctx context.Context, providerID string, windowStart, windowEnd time.Time) ([]domain.Block, error)

	// UpsertExternal keys on ExternalID: insert when unknown, update when the
	// timing or reason changed, otherwise leave the row alone.
	UpsertExternal(ctx context.Context, b domain.Block) (domain.UpsertResult, error)
	// DeleteStaleExternal removes the provider's synced blocks with the given
	// external id prefix that intersect the window and are not listed in keep.
	DeleteStaleExternal(ctx context.Context, providerID, prefix string, windowStart, windowEnd time.Time, keep []string) (int, error)
}
