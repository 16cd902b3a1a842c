package calendarsync

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"appointly/backend/internal/domain"
	"appointly/backend/internal/store"
)

const (
	stateTTL          = 10 * time.Minute
	defaultCalendarID = "primary"
)

// Connector runs the OAuth consent flow that links a provider's calendar.
type Connector struct {
	oauth  OAuthConfig
	states StateStore
	conns  store.ConnectionRepository
	log    *slog.Logger
}

func NewConnector(oauth OAuthConfig, states StateStore, conns store.ConnectionRepository, log *slog.Logger) *Connector {
	if log == nil {
		log = slog.Default()
	}
	return &Connector{
		oauth:  oauth,
		states: states,
		conns:  conns,
		log:    log.With(slog.String("component", "calendarsync.connect")),
	}
}

// AuthURL starts the consent flow for the calling provider.
func (c *Connector) AuthURL(ctx context.Context, actor domain.Actor) (string, error) {
	if !actor.IsProvider() || actor.ID == "" {
		return "", domain.ErrPermissionDenied
	}
	if c.oauth == nil {
		return "", ErrNotConfigured
	}
	state, err := newState()
	if err != nil {
		return "", err
	}
	if err := c.states.Save(ctx, state, actor.ID, stateTTL); err != nil {
		return "", err
	}
	return c.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce), nil
}

// Callback completes the flow. The state is single use.
func (c *Connector) Callback(ctx context.Context, code, state string) (domain.CalendarConnection, error) {
	code = strings.TrimSpace(code)
	state = strings.TrimSpace(state)
	if code == "" || state == "" {
		return domain.CalendarConnection{}, domain.NewValidationError("code and state are required")
	}
	if c.oauth == nil {
		return domain.CalendarConnection{}, ErrNotConfigured
	}

	providerID, err := c.states.Consume(ctx, state)
	if err != nil {
		return domain.CalendarConnection{}, err
	}

	tok, err := c.oauth.Exchange(ctx, code)
	if err != nil {
		c.log.Warn("oauth code exchange failed", slog.String("provider_id", providerID), slog.Any("err", err))
		return domain.CalendarConnection{}, external("exchange oauth code", err)
	}

	conn, err := c.conns.Upsert(ctx, domain.CalendarConnection{
		ProviderID:   providerID,
		Provider:     domain.CalendarProviderGoogle,
		CalendarID:   defaultCalendarID,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.Type(),
		Expiry:       tok.Expiry.UTC(),
		Status:       domain.ConnectionActive,
	})
	if err != nil {
		return domain.CalendarConnection{}, err
	}
	c.log.Info("calendar connected", slog.String("provider_id", providerID), slog.String("calendar_id", conn.CalendarID))
	return conn, nil
}

func newState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
