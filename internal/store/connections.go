package store

import (
	"context"
	"time"

	"appointly/backend/internal/domain"
)

type ConnectionRepository interface {
	Get(ctx context.Context, providerID string) (domain.CalendarConnection, error)
	Upsert(ctx context.Context, c domain.CalendarConnection) (domain.CalendarConnection, error)
	ListActive(ctx context.Context) ([]domain.CalendarConnection, error)

	UpdateToken(ctx context.Context, providerID string, tok Token) error
	MarkBroken(ctx context.Context, providerID, reason string) error
	MarkSynced(ctx context.Context, providerID string, at time.Time) error
}

// Token is the persisted part of an OAuth token.
type Token struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	Expiry       time.Time
}
