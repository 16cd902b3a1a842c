package calendarsync

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/oauth2"

	"appointly/backend/internal/domain"
	"appointly/backend/internal/store"
)

// persistingTokenSource stores every refreshed token so the next run starts
// from it instead of refreshing again.
type persistingTokenSource struct {
	ctx        context.Context
	base       oauth2.TokenSource
	providerID string
	conns      store.ConnectionRepository
	log        *slog.Logger

	mu   sync.Mutex
	last string
}

func newTokenSource(ctx context.Context, cfg OAuthConfig, conns store.ConnectionRepository, conn domain.CalendarConnection, log *slog.Logger) oauth2.TokenSource {
	return &persistingTokenSource{
		ctx:        ctx,
		base:       cfg.TokenSource(ctx, connectionToken(conn)),
		providerID: conn.ProviderID,
		conns:      conns,
		log:        log,
		last:       conn.AccessToken,
	}
}

func (p *persistingTokenSource) Token() (*oauth2.Token, error) {
	tok, err := p.base.Token()
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	changed := tok.AccessToken != p.last
	p.last = tok.AccessToken
	p.mu.Unlock()

	if changed {
		if err := p.conns.UpdateToken(p.ctx, p.providerID, storeToken(tok)); err != nil {
			p.log.Warn("persist refreshed token failed", slog.String("provider_id", p.providerID), slog.Any("err", err))
		} else {
			p.log.Debug("calendar token refreshed", slog.String("provider_id", p.providerID))
		}
	}
	return tok, nil
}

func connectionToken(c domain.CalendarConnection) *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  c.AccessToken,
		RefreshToken: c.RefreshToken,
		TokenType:    c.TokenType,
		Expiry:       c.Expiry,
	}
}

func storeToken(t *oauth2.Token) store.Token {
	return store.Token{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		TokenType:    t.Type(),
		Expiry:       t.Expiry.UTC(),
	}
}
