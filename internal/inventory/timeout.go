package inventory

import (
	"context"
	"time"
)

// WithTimeout bounds every gateway call by d so a stalled store surfaces as an
// error instead of holding a session lock forever. The returned gateway keeps
// the Exchanger capability of g when g has it.
func WithTimeout(g Gateway, d time.Duration) Gateway {
	if d <= 0 {
		return g
	}
	t := timeoutGateway{g: g, d: d}
	if ex, ok := g.(Exchanger); ok {
		return timeoutExchanger{timeoutGateway: t, ex: ex}
	}
	return t
}

type timeoutGateway struct {
	g Gateway
	d time.Duration
}

func (t timeoutGateway) ListOwned(ctx context.Context, actorID string) ([]Asset, error) {
	ctx, cancel := context.WithTimeout(ctx, t.d)
	defer cancel()
	return t.g.ListOwned(ctx, actorID)
}

func (t timeoutGateway) Lock(ctx context.Context, actorID, assetID, sessionID string) error {
	ctx, cancel := context.WithTimeout(ctx, t.d)
	defer cancel()
	return t.g.Lock(ctx, actorID, assetID, sessionID)
}

func (t timeoutGateway) UnlockAll(ctx context.Context, sessionID string) error {
	ctx, cancel := context.WithTimeout(ctx, t.d)
	defer cancel()
	return t.g.UnlockAll(ctx, sessionID)
}

func (t timeoutGateway) Transfer(ctx context.Context, fromID, toID string, assetIDs []string, sessionID string) error {
	ctx, cancel := context.WithTimeout(ctx, t.d)
	defer cancel()
	return t.g.Transfer(ctx, fromID, toID, assetIDs, sessionID)
}

type timeoutExchanger struct {
	timeoutGateway
	ex Exchanger
}

func (t timeoutExchanger) Exchange(ctx context.Context, sessionID string, legs []Leg) error {
	ctx, cancel := context.WithTimeout(ctx, t.d)
	defer cancel()
	return t.ex.Exchange(ctx, sessionID, legs)
}
