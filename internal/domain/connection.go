package domain

import (
	"context"
	"time"

	"github.com/uptrace/bun"
)

type ConnectionStatus string

const (
	ConnectionActive ConnectionStatus = "ACTIVE"
	ConnectionBroken ConnectionStatus = "BROKEN"
)

const CalendarProviderGoogle = "google"

// CalendarConnection holds the OAuth credentials a provider granted for their
// external calendar. A BROKEN connection is skipped by sync until reconnected.
type CalendarConnection struct {
	bun.BaseModel `bun:"table:calendar_connections,alias:cc"`

	ProviderID   string           `bun:"provider_id,pk"`
	Provider     string           `bun:"provider,notnull"`
	CalendarID   string           `bun:"calendar_id,notnull"`
	AccessToken  string           `bun:"access_token,notnull"`
	RefreshToken string           `bun:"refresh_token,notnull"`
	TokenType    string           `bun:"token_type,notnull"`
	Expiry       time.Time        `bun:"expiry,nullzero"`
	Status       ConnectionStatus `bun:"status,notnull"`
	LastSyncedAt *time.Time       `bun:"last_synced_at"`
	LastError    string           `bun:"last_error,nullzero"`
	CreatedAt    time.Time        `bun:"created_at,notnull"`
	UpdatedAt    time.Time        `bun:"updated_at,notnull"`
}

func (c *CalendarConnection) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	now := time.Now().UTC()
	switch query.(type) {
	case *bun.InsertQuery:
		if c.CreatedAt.IsZero() {
			c.CreatedAt = now
		}
		if c.UpdatedAt.IsZero() {
			c.UpdatedAt = now
		}
	case *bun.UpdateQuery:
		c.UpdatedAt = now
	}
	return nil
}

func (c CalendarConnection) Active() bool {
	return c.Status == ConnectionActive
}
