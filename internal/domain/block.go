package domain

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// ExternalIDPrefixGoogle namespaces block ids pulled from Google Calendar.
const ExternalIDPrefixGoogle = "google:"

// GoogleExternalPrefix scopes synced block ids to one provider's calendar.
// A shared meeting has the same event id in every attendee's calendar.
func GoogleExternalPrefix(providerID, calendarID string) string {
	return ExternalIDPrefixGoogle + providerID + ":" + calendarID + ":"
}

// Block is time the provider cannot be booked: either entered by hand or
// mirrored from an external calendar. ExternalID is nil for manual blocks.
type Block struct {
	bun.BaseModel `bun:"table:blocks"`

	ID            uuid.UUID `bun:"id,pk,type:uuid"`
	ProviderID    string    `bun:"provider_id,notnull"`
	StartDateTime time.Time `bun:"start_date_time,notnull"`
	EndDateTime   time.Time `bun:"end_date_time,notnull"`
	Reason        string    `bun:"reason,nullzero"`
	ExternalID    *string   `bun:"external_id,unique"`
	IsManual      bool      `bun:"is_manual,notnull"`
	CreatedAt     time.Time `bun:"created_at,notnull"`
	UpdatedAt     time.Time `bun:"updated_at,notnull"`
}

func (b *Block) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	now := time.Now().UTC()
	switch query.(type) {
	case *bun.InsertQuery:
		if b.ID == uuid.Nil {
			id, err := uuid.NewV7()
			if err != nil {
				return err
			}
			b.ID = id
		}
		if b.CreatedAt.IsZero() {
			b.CreatedAt = now
		}
		if b.UpdatedAt.IsZero() {
			b.UpdatedAt = now
		}
	case *bun.UpdateQuery:
		b.UpdatedAt = now
	}
	return nil
}

func (b Block) Interval() Interval {
	return Interval{Start: b.StartDateTime, End: b.EndDateTime}
}

// SameAs reports whether a synced block already carries the given timing and reason.
func (b Block) SameAs(start, end time.Time, reason string) bool {
	return b.StartDateTime.Equal(start) && b.EndDateTime.Equal(end) && b.Reason == reason
}

func (b Block) Validate() error {
	if strings.TrimSpace(b.ProviderID) == "" {
		return NewValidationError("provider_id is required")
	}
	if !b.StartDateTime.Before(b.EndDateTime) {
		return NewValidationError("end must be after start")
	}
	if b.ExternalID != nil && strings.TrimSpace(*b.ExternalID) == "" {
		return NewValidationError("external_id must not be blank")
	}
	return nil
}

// UpsertResult tells what a sync upsert did with a remote event.
type UpsertResult int

const (
	UpsertUnchanged UpsertResult = iota
	UpsertInserted
	UpsertUpdated
)

func (r UpsertResult) String() string {
	switch r {
	case UpsertInserted:
		return "inserted"
	case UpsertUpdated:
		return "updated"
	default:
		return "unchanged"
	}
}
