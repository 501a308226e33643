// Package ledger caches the user's token balance. The server is authoritative: Load overwrites
// the cache, and optimistic increments stay marked pending until the next successful Load.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"golang.org/x/sync/singleflight"

	"fotobudka/internal/infra"
)

const pathCurrentUser = "/api/users/me"

// Backend is the gateway call the ledger needs.
type Backend interface {
	Do(ctx context.Context, method, path string, body any, useAuth bool, out any) error
}

// Balance is the cached server balance.
type Balance struct {
	Tokens       int
	AvatarTokens int
	// Pending is set while an optimistic delta awaits confirmation by Load.
	Pending bool
}

type userResponse struct {
	ID           string `json:"id"`
	Tokens       *int   `json:"tokens"`
	AvatarTokens int    `json:"avatar_tokens"`
}

// Ledger holds the cached balance.
type Ledger struct {
	backend Backend
	logger  *infra.Logger
	group   singleflight.Group

	mu      sync.RWMutex
	balance Balance
}

// New constructs a ledger with an empty balance.
func New(backend Backend, logger *infra.Logger) *Ledger {
	return &Ledger{backend: backend, logger: infra.OrDiscard(logger)}
}

// Load fetches the current user and overwrites the cached balance. Concurrent calls share one
// request, which runs detached from any single caller's cancellation; a cancelled caller returns
// early while the others keep waiting. The gateway's request timeout bounds the shared call.
func (l *Ledger) Load(ctx context.Context) (Balance, error) {
	if l.backend == nil {
		return Balance{}, errors.New("ledger: no backend configured")
	}
	shared := context.WithoutCancel(ctx)
	ch := l.group.DoChan("me", func() (any, error) {
		var resp userResponse
		if err := l.backend.Do(shared, http.MethodGet, pathCurrentUser, nil, true, &resp); err != nil {
			return nil, fmt.Errorf("ledger: load balance: %w", err)
		}
		if resp.Tokens == nil {
			return nil, errors.New("ledger: load balance: response has no tokens field")
		}
		b := Balance{Tokens: *resp.Tokens, AvatarTokens: resp.AvatarTokens}
		l.mu.Lock()
		l.balance = b
		l.mu.Unlock()
		l.logger.Debug().Int("tokens", b.Tokens).Int("avatar_tokens", b.AvatarTokens).Msg("ledger: balance loaded")
		return b, nil
	})
	select {
	case <-ctx.Done():
		return Balance{}, fmt.Errorf("ledger: load balance: %w", ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return Balance{}, res.Err
		}
		return res.Val.(Balance), nil
	}
}

// Refresh reloads the balance, discarding the value.
func (l *Ledger) Refresh(ctx context.Context) error {
	_, err := l.Load(ctx)
	return err
}

// ApplyOptimisticDelta adds n tokens right after a locally verified purchase.
func (l *Ledger) ApplyOptimisticDelta(n int) Balance {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balance.Tokens += n
	l.balance.Pending = true
	return l.balance
}

// Set overwrites the cache with server-reported values, such as the register response.
func (l *Ledger) Set(tokens, avatarTokens int) {
	l.mu.Lock()
	l.balance = Balance{Tokens: tokens, AvatarTokens: avatarTokens}
	l.mu.Unlock()
}

// Balance returns the cached balance.
func (l *Ledger) Balance() Balance {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.balance
}
