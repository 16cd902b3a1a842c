package memory

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"appointly/backend/internal/domain"
	"appointly/backend/internal/store"
)

type ScheduleRepo struct {
	s *Store
}

func (r *ScheduleRepo) GetWeeklyHours(ctx context.Context, providerID string) ([]domain.WeeklyHours, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return append([]domain.WeeklyHours(nil), r.s.hours[providerID]...), nil
}

func (r *ScheduleRepo) ReplaceWeeklyHours(ctx context.Context, providerID string, hours []domain.WeeklyHours) ([]domain.WeeklyHours, error) {
	unlock := r.s.locks.Lock(providerID)
	defer unlock()

	now := time.Now().UTC()
	rows := make([]domain.WeeklyHours, 0, len(hours))
	for _, h := range hours {
		h.ProviderID = providerID
		h.CreatedAt = now
		h.UpdatedAt = now
		rows = append(rows, h)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].DayOfWeek < rows[j].DayOfWeek })

	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if len(rows) == 0 {
		delete(r.s.hours, providerID)
		return rows, nil
	}
	r.s.hours[providerID] = append([]domain.WeeklyHours(nil), rows...)
	return rows, nil
}

type BlockRepo struct {
	s *Store
}

func (r *BlockRepo) Create(ctx context.Context, b domain.Block) (domain.Block, error) {
	unlock := r.s.locks.Lock(b.ProviderID)
	defer unlock()

	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if b.ExternalID != nil && r.findExternal(*b.ExternalID) != nil {
		return domain.Block{}, store.ErrConflict
	}
	return r.insertLocked(b)
}

func (r *BlockRepo) Get(ctx context.Context, blockID uuid.UUID) (domain.Block, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	b, ok := r.s.blocks[blockID]
	if !ok {
		return domain.Block{}, store.ErrNotFound
	}
	return b, nil
}

func (r *BlockRepo) Delete(ctx context.Context, providerID string, blockID uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	b, ok := r.s.blocks[blockID]
	if !ok || b.ProviderID != providerID {
		return store.ErrNotFound
	}
	delete(r.s.blocks, blockID)
	return nil
}

func (r *BlockRepo) List(ctx context.Context, providerID string, windowStart, windowEnd time.Time) ([]domain.Block, error) {
	window := domain.Interval{Start: windowStart, End: windowEnd}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []domain.Block
	for _, b := range r.s.blocks {
		if b.ProviderID == providerID && b.Interval().Overlaps(window) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartDateTime.Before(out[j].StartDateTime) })
	return out, nil
}

func (r *BlockRepo) UpsertExternal(ctx context.Context, b domain.Block) (domain.UpsertResult, error) {
	if b.ExternalID == nil {
		return domain.UpsertUnchanged, domain.NewValidationError("external_id is required")
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	existing := r.findExternal(*b.ExternalID)
	if existing == nil {
		b.IsManual = false
		if _, err := r.insertLocked(b); err != nil {
			return domain.UpsertUnchanged, err
		}
		return domain.UpsertInserted, nil
	}
	if existing.ProviderID != b.ProviderID {
		return domain.UpsertUnchanged, store.ErrConflict
	}
	if existing.SameAs(b.StartDateTime, b.EndDateTime, b.Reason) {
		return domain.UpsertUnchanged, nil
	}
	existing.StartDateTime = b.StartDateTime
	existing.EndDateTime = b.EndDateTime
	existing.Reason = b.Reason
	existing.UpdatedAt = time.Now().UTC()
	r.s.blocks[existing.ID] = *existing
	return domain.UpsertUpdated, nil
}

func (r *BlockRepo) DeleteStaleExternal(ctx context.Context, providerID, prefix string, windowStart, windowEnd time.Time, keep []string) (int, error) {
	kept := make(map[string]struct{}, len(keep))
	for _, k := range keep {
		kept[k] = struct{}{}
	}
	window := domain.Interval{Start: windowStart, End: windowEnd}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	n := 0
	for id, b := range r.s.blocks {
		if b.ProviderID != providerID || b.IsManual || b.ExternalID == nil {
			continue
		}
		if !strings.HasPrefix(*b.ExternalID, prefix) || !b.Interval().Overlaps(window) {
			continue
		}
		if _, ok := kept[*b.ExternalID]; ok {
			continue
		}
		delete(r.s.blocks, id)
		n++
	}
	return n, nil
}

func (r *BlockRepo) findExternal(externalID string) *domain.Block {
	for _, b := range r.s.blocks {
		if b.ExternalID != nil && *b.ExternalID == externalID {
			found := b
			return &found
		}
	}
	return nil
}

func (r *BlockRepo) insertLocked(b domain.Block) (domain.Block, error) {
	if b.ID == uuid.Nil {
		id, err := uuid.NewV7()
		if err != nil {
			return domain.Block{}, err
		}
		b.ID = id
	}
	now := time.Now().UTC()
	b.CreatedAt = now
	b.UpdatedAt = now
	r.s.blocks[b.ID] = b
	return b, nil
}

type ConnectionRepo struct {
	s *Store
}

func (r *ConnectionRepo) Get(ctx context.Context, providerID string) (domain.CalendarConnection, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	c, ok := r.s.connections[providerID]
	if !ok {
		return domain.CalendarConnection{}, store.ErrNotFound
	}
	return c, nil
}

func (r *ConnectionRepo) Upsert(ctx context.Context, c domain.CalendarConnection) (domain.CalendarConnection, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	now := time.Now().UTC()
	if existing, ok := r.s.connections[c.ProviderID]; ok {
		c.CreatedAt = existing.CreatedAt
		c.LastSyncedAt = existing.LastSyncedAt
		if c.RefreshToken == "" {
			c.RefreshToken = existing.RefreshToken
		}
	} else {
		c.CreatedAt = now
	}
	c.LastError = ""
	c.UpdatedAt = now
	r.s.connections[c.ProviderID] = c
	return c, nil
}

func (r *ConnectionRepo) ListActive(ctx context.Context) ([]domain.CalendarConnection, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []domain.CalendarConnection
	for _, c := range r.s.connections {
		if c.Active() {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProviderID < out[j].ProviderID })
	return out, nil
}

func (r *ConnectionRepo) UpdateToken(ctx context.Context, providerID string, tok store.Token) error {
	return r.update(providerID, func(c *domain.CalendarConnection) {
		c.AccessToken = tok.AccessToken
		c.TokenType = tok.TokenType
		c.Expiry = tok.Expiry
		if tok.RefreshToken != "" {
			c.RefreshToken = tok.RefreshToken
		}
	})
}

func (r *ConnectionRepo) MarkBroken(ctx context.Context, providerID, reason string) error {
	return r.update(providerID, func(c *domain.CalendarConnection) {
		c.Status = domain.ConnectionBroken
		c.LastError = reason
	})
}

func (r *ConnectionRepo) MarkSynced(ctx context.Context, providerID string, at time.Time) error {
	return r.update(providerID, func(c *domain.CalendarConnection) {
		t := at.UTC()
		c.LastSyncedAt = &t
		c.LastError = ""
	})
}

func (r *ConnectionRepo) update(providerID string, fn func(c *domain.CalendarConnection)) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.connections[providerID]
	if !ok {
		return store.ErrNotFound
	}
	fn(&c)
	c.UpdatedAt = time.Now().UTC()
	r.s.connections[providerID] = c
	return nil
}

type OutboxRepo struct {
	s *Store
}

func (r *OutboxRepo) PublishPending(ctx context.Context, limit int, publish func(ctx context.Context, events []domain.OutboxEvent) error) (int, error) {
	if limit <= 0 {
		limit = 50
	}
	r.s.publishMu.Lock()
	defer r.s.publishMu.Unlock()

	r.s.mu.RLock()
	var batch []domain.OutboxEvent
	for _, ev := range r.s.outbox {
		if ev.PublishedAt != nil {
			continue
		}
		batch = append(batch, ev)
		if len(batch) == limit {
			break
		}
	}
	r.s.mu.RUnlock()
	if len(batch) == 0 {
		return 0, nil
	}

	if err := publish(ctx, batch); err != nil {
		return 0, err
	}

	ids := make(map[int64]struct{}, len(batch))
	for _, ev := range batch {
		ids[ev.ID] = struct{}{}
	}
	now := time.Now().UTC()
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for i := range r.s.outbox {
		if _, ok := ids[r.s.outbox[i].ID]; ok {
			r.s.outbox[i].PublishedAt = &now
		}
	}
	return len(batch), nil
}

// Events returns every recorded outbox event in insertion order.
func (r *OutboxRepo) Events() []domain.OutboxEvent {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return append([]domain.OutboxEvent(nil), r.s.outbox...)
}
