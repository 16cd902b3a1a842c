package postgres

import (
	"context"
	"time"

	"github.com/uptrace/bun"

	"appointly/backend/internal/domain"
)

type OutboxRepo struct {
	db *bun.DB
}

func NewOutboxRepo(db *bun.DB) *OutboxRepo {
	return &OutboxRepo{db: db}
}

func (r *OutboxRepo) PublishPending(ctx context.Context, limit int, publish func(ctx context.Context, events []domain.OutboxEvent) error) (int, error) {
	if limit <= 0 {
		limit = 50
	}

	var n int
	err := r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var rows []domain.OutboxEvent
		err := tx.NewSelect().
			Model(&rows).
			Where("published_at IS NULL").
			OrderExpr("id ASC").
			Limit(limit).
			For("UPDATE SKIP LOCKED").
			Scan(ctx)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}

		if err := publish(ctx, rows); err != nil {
			return err
		}

		ids := make([]int64, 0, len(rows))
		for _, ev := range rows {
			ids = append(ids, ev.ID)
		}
		_, err = tx.NewUpdate().
			Model((*domain.OutboxEvent)(nil)).
			Set("published_at = ?", time.Now().UTC()).
			Where("id IN (?)", bun.In(ids)).
			Exec(ctx)
		if err != nil {
			return err
		}
		n = len(rows)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}
