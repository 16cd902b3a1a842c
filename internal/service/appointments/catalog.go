package appointments

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"appointly/backend/internal/domain"
)

// ServiceSnapshot is what a booking copies from the catalog at booking time.
type ServiceSnapshot struct {
	Name     string
	Price    decimal.Decimal
	Currency string
}

type Catalog interface {
	Lookup(ctx context.Context, providerID, serviceID string) (ServiceSnapshot, error)
}

type CatalogEntry struct {
	ID         string          `json:"id"`
	ProviderID string          `json:"provider_id,omitempty"`
	Name       string          `json:"name"`
	Price      decimal.Decimal `json:"price"`
	Currency   string          `json:"currency"`
}

// StaticCatalog serves a fixed list of services. Entries without a provider id
// are offered by every provider.
type StaticCatalog struct {
	byKey map[string]CatalogEntry
}

func NewStaticCatalog(entries []CatalogEntry) *StaticCatalog {
	c := &StaticCatalog{byKey: make(map[string]CatalogEntry, len(entries))}
	for _, e := range entries {
		c.byKey[catalogKey(e.ProviderID, e.ID)] = e
	}
	return c
}

func (c *StaticCatalog) Lookup(ctx context.Context, providerID, serviceID string) (ServiceSnapshot, error) {
	e, ok := c.byKey[catalogKey(providerID, serviceID)]
	if !ok {
		e, ok = c.byKey[catalogKey("", serviceID)]
	}
	if !ok {
		return ServiceSnapshot{}, domain.Validationf("unknown service %q", serviceID)
	}
	return ServiceSnapshot{Name: e.Name, Price: e.Price, Currency: e.Currency}, nil
}

func catalogKey(providerID, serviceID string) string {
	return providerID + "\x00" + serviceID
}

func ParseCatalog(raw string) ([]CatalogEntry, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	var entries []CatalogEntry
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	for i, e := range entries {
		if strings.TrimSpace(e.ID) == "" || strings.TrimSpace(e.Name) == "" {
			return nil, fmt.Errorf("catalog entry %d: id and name are required", i)
		}
		if e.Price.IsNegative() {
			return nil, fmt.Errorf("catalog entry %d: price must not be negative", i)
		}
		if e.Currency == "" {
			entries[i].Currency = "USD"
		}
	}
	return entries, nil
}
