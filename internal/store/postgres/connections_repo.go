package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/uptrace/bun"

	"appointly/backend/internal/domain"
	"appointly/backend/internal/store"
)

type ConnectionRepo struct {
	db *bun.DB
}

func NewConnectionRepo(db *bun.DB) *ConnectionRepo {
	return &ConnectionRepo{db: db}
}

func (r *ConnectionRepo) Get(ctx context.Context, providerID string) (domain.CalendarConnection, error) {
	var c domain.CalendarConnection
	err := r.db.NewSelect().
		Model(&c).
		Where("provider_id = ?", providerID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.CalendarConnection{}, store.ErrNotFound
		}
		return domain.CalendarConnection{}, err
	}
	return c, nil
}

func (r *ConnectionRepo) Upsert(ctx context.Context, c domain.CalendarConnection) (domain.CalendarConnection, error) {
	m := c
	m.UpdatedAt = time.Now().UTC()
	_, err := r.db.NewInsert().
		Model(&m).
		On("CONFLICT (provider_id) DO UPDATE").
		Set("provider = EXCLUDED.provider").
		Set("calendar_id = EXCLUDED.calendar_id").
		Set("access_token = EXCLUDED.access_token").
		Set("refresh_token = CASE WHEN EXCLUDED.refresh_token = '' THEN cc.refresh_token ELSE EXCLUDED.refresh_token END").
		Set("token_type = EXCLUDED.token_type").
		Set("expiry = EXCLUDED.expiry").
		Set("status = EXCLUDED.status").
		Set("last_error = NULL").
		Set("updated_at = EXCLUDED.updated_at").
		Returning("*").
		Exec(ctx)
	if err != nil {
		return domain.CalendarConnection{}, err
	}
	return m, nil
}

func (r *ConnectionRepo) ListActive(ctx context.Context) ([]domain.CalendarConnection, error) {
	var rows []domain.CalendarConnection
	err := r.db.NewSelect().
		Model(&rows).
		Where("status = ?", domain.ConnectionActive).
		OrderExpr("provider_id ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *ConnectionRepo) UpdateToken(ctx context.Context, providerID string, tok store.Token) error {
	q := r.db.NewUpdate().
		Model((*domain.CalendarConnection)(nil)).
		Set("access_token = ?", tok.AccessToken).
		Set("token_type = ?", tok.TokenType).
		Set("expiry = ?", tok.Expiry).
		Set("updated_at = ?", time.Now().UTC()).
		Where("provider_id = ?", providerID)
	if tok.RefreshToken != "" {
		q = q.Set("refresh_token = ?", tok.RefreshToken)
	}
	res, err := q.Exec(ctx)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

func (r *ConnectionRepo) MarkBroken(ctx context.Context, providerID, reason string) error {
	res, err := r.db.NewUpdate().
		Model((*domain.CalendarConnection)(nil)).
		Set("status = ?", domain.ConnectionBroken).
		Set("last_error = ?", reason).
		Set("updated_at = ?", time.Now().UTC()).
		Where("provider_id = ?", providerID).
		Exec(ctx)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

func (r *ConnectionRepo) MarkSynced(ctx context.Context, providerID string, at time.Time) error {
	res, err := r.db.NewUpdate().
		Model((*domain.CalendarConnection)(nil)).
		Set("last_synced_at = ?", at.UTC()).
		Set("last_error = NULL").
		Set("updated_at = ?", time.Now().UTC()).
		Where("provider_id = ?", providerID).
		Exec(ctx)
	if err != nil {
		return err
	}
	return expectAffected(res)
}
