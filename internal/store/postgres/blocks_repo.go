package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"appointly/backend/internal/domain"
	"appointly/backend/internal/store"
)

type BlockRepo struct {
	db *bun.DB
}

func NewBlockRepo(db *bun.DB) *BlockRepo {
	return &BlockRepo{db: db}
}

func (r *BlockRepo) Create(ctx context.Context, b domain.Block) (domain.Block, error) {
	m := b
	err := r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := lockProviderCalendar(ctx, tx, b.ProviderID); err != nil {
			return err
		}
		_, err := tx.NewInsert().Model(&m).Exec(ctx)
		return err
	})
	if err != nil {
		return domain.Block{}, err
	}
	return m, nil
}

func (r *BlockRepo) Get(ctx context.Context, blockID uuid.UUID) (domain.Block, error) {
	var b domain.Block
	err := r.db.NewSelect().
		Model(&b).
		Where("id = ?", blockID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Block{}, store.ErrNotFound
		}
		return domain.Block{}, err
	}
	return b, nil
}

func (r *BlockRepo) Delete(ctx context.Context, providerID string, blockID uuid.UUID) error {
	res, err := r.db.NewDelete().
		Model((*domain.Block)(nil)).
		Where("provider_id = ?", providerID).
		Where("id = ?", blockID).
		Exec(ctx)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

func (r *BlockRepo) List(ctx context.Context, providerID string, windowStart, windowEnd time.Time) ([]domain.Block, error) {
	return listBlocks(ctx, r.db, providerID, windowStart, windowEnd)
}

func (r *BlockRepo) UpsertExternal(ctx context.Context, b domain.Block) (domain.UpsertResult, error) {
	if b.ExternalID == nil {
		return domain.UpsertUnchanged, domain.NewValidationError("external_id is required")
	}

	result := domain.UpsertUnchanged
	err := r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var existing domain.Block
		err := tx.NewSelect().
			Model(&existing).
			Where("provider_id = ?", b.ProviderID).
			Where("external_id = ?", *b.ExternalID).
			For("UPDATE").
			Limit(1).
			Scan(ctx)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			m := b
			m.IsManual = false
			res, err := tx.NewInsert().
				Model(&m).
				On("CONFLICT (external_id) DO NOTHING").
				Exec(ctx)
			if err != nil {
				return err
			}
			// Another provider already owns this external id.
			if n, err := res.RowsAffected(); err == nil && n == 0 {
				return store.ErrConflict
			}
			result = domain.UpsertInserted
			return nil
		case err != nil:
			return err
		}

		if existing.SameAs(b.StartDateTime, b.EndDateTime, b.Reason) {
			return nil
		}
		existing.StartDateTime = b.StartDateTime
		existing.EndDateTime = b.EndDateTime
		existing.Reason = b.Reason
		_, err = tx.NewUpdate().
			Model(&existing).
			Column("start_date_time", "end_date_time", "reason", "updated_at").
			WherePK().
			Exec(ctx)
		if err != nil {
			return err
		}
		result = domain.UpsertUpdated
		return nil
	})
	if err != nil {
		return domain.UpsertUnchanged, err
	}
	return result, nil
}

func (r *BlockRepo) DeleteStaleExternal(ctx context.Context, providerID, prefix string, windowStart, windowEnd time.Time, keep []string) (int, error) {
	q := r.db.NewDelete().
		Model((*domain.Block)(nil)).
		Where("provider_id = ?", providerID).
		Where("is_manual = false").
		Where("external_id LIKE ?", prefix+"%").
		Where("start_date_time < ?", windowEnd).
		Where("end_date_time > ?", windowStart)
	if len(keep) > 0 {
		q = q.Where("external_id NOT IN (?)", bun.In(keep))
	}
	res, err := q.Exec(ctx)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func listBlocks(ctx context.Context, db bun.IDB, providerID string, windowStart, windowEnd time.Time) ([]domain.Block, error) {
	var rows []domain.Block
	err := db.NewSelect().
		Model(&rows).
		Where("provider_id = ?", providerID).
		Where("start_date_time < ?", windowEnd).
		Where("end_date_time > ?", windowStart).
		OrderExpr("start_date_time ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return rows, nil
}
