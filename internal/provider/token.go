package provider

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/BradenHooton/facegate/pkg/logger"
)

// Token is a provider access token with its absolute expiry
type Token struct {
	Value     string    `json:"value"`
	ExpiresAt time.Time `json:"expires_at"`
}

// TokenStore shares tokens between replicas. Implementations must be safe for concurrent use.
type TokenStore interface {
	Load(ctx context.Context) (*Token, error)
	Save(ctx context.Context, tok Token) error
	Delete(ctx context.Context, value string) error
}

// ErrTokenNotCached is returned by a TokenStore with nothing stored
var ErrTokenNotCached = errors.New("provider token not cached")

// FetchFunc performs the actual token round trip
type FetchFunc func(ctx context.Context) (Token, error)

// TokenManager caches the process-wide access token and guarantees at most one
// refresh in flight. Waiters of a refresh are released together when it lands.
type TokenManager struct {
	fetch          FetchFunc
	store          TokenStore
	skew           time.Duration
	refreshTimeout time.Duration
	logger         *slog.Logger
	now            func() time.Time

	mu     sync.RWMutex
	cached Token
	flight singleflight.Group
}

type TokenManagerConfig struct {
	ExpirySkew     time.Duration
	RefreshTimeout time.Duration
}

func NewTokenManager(fetch FetchFunc, store TokenStore, cfg TokenManagerConfig, logger *slog.Logger) *TokenManager {
	if cfg.RefreshTimeout <= 0 {
		cfg.RefreshTimeout = 10 * time.Second
	}
	return &TokenManager{
		fetch:          fetch,
		store:          store,
		skew:           cfg.ExpirySkew,
		refreshTimeout: cfg.RefreshTimeout,
		logger:         logger,
		now:            time.Now,
	}
}

func (m *TokenManager) valid(tok Token) bool {
	return tok.Value != "" && m.now().Add(m.skew).Before(tok.ExpiresAt)
}

func (m *TokenManager) current() (Token, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cached, m.valid(m.cached)
}

// Get returns a valid token, refreshing it when the cached one is missing or close to expiry
func (m *TokenManager) Get(ctx context.Context) (string, error) {
	if tok, ok := m.current(); ok {
		return tok.Value, nil
	}

	ch := m.flight.DoChan("token", func() (interface{}, error) {
		// A refresh that finished just before this flight started already stored a token.
		if tok, ok := m.current(); ok {
			return tok, nil
		}

		// The refresh outlives the caller that triggered it: other waiters share its result.
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.refreshTimeout)
		defer cancel()

		if tok, ok := m.fromStore(rctx); ok {
			m.set(tok)
			return tok, nil
		}

		providerTokenRefreshTotal.Inc()
		tok, err := m.fetch(rctx)
		if err != nil {
			return Token{}, err
		}
		m.set(tok)

		if m.store != nil {
			if err := m.store.Save(rctx, tok); err != nil {
				m.logger.Warn("failed to share provider token", slog.Any("error", err))
			}
		}

		m.logger.Info("provider access token refreshed",
			slog.Time("expires_at", tok.ExpiresAt),
			logger.RedactedAttr("token", tok.Value),
		)
		return tok, nil
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(Token).Value, nil
	}
}

func (m *TokenManager) fromStore(ctx context.Context) (Token, bool) {
	if m.store == nil {
		return Token{}, false
	}
	tok, err := m.store.Load(ctx)
	if err != nil {
		if !errors.Is(err, ErrTokenNotCached) {
			m.logger.Warn("failed to read shared provider token", slog.Any("error", err))
		}
		return Token{}, false
	}
	if !m.valid(*tok) {
		return Token{}, false
	}
	return *tok, true
}

func (m *TokenManager) set(tok Token) {
	m.mu.Lock()
	m.cached = tok
	m.mu.Unlock()
}

// Invalidate drops value if it is still the cached token, forcing the next Get to refresh
func (m *TokenManager) Invalidate(ctx context.Context, value string) {
	m.mu.Lock()
	if m.cached.Value == value {
		m.cached = Token{}
	}
	m.mu.Unlock()

	if m.store != nil {
		if err := m.store.Delete(ctx, value); err != nil {
			m.logger.Warn("failed to drop shared provider token", slog.Any("error", err))
		}
	}
}
