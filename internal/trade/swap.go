package trade

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"tradepost.ai/internal/inventory"
)

var log = logrus.WithField("component", "trade")

// swap moves both offer lists in one step. It runs with s.mu held and never
// mutates ownership unless every offered asset is still escrowed by s.
func (s *Session) swap(ctx context.Context) error {
	for _, p := range []*Party{s.a, s.b} {
		if len(p.offers) == 0 {
			continue
		}
		owned, err := s.gw.ListOwned(ctx, p.Actor)
		if err != nil {
			return fmt.Errorf("%w: swap aborted: list %s: %w", ErrGatewayFailure, p.Actor, err)
		}
		for _, id := range p.offers {
			a, ok := inventory.Find(owned, id)
			if !ok {
				return fmt.Errorf("%w: swap aborted: %s no longer owned by %s", ErrGatewayFailure, id, p.Actor)
			}
			if a.LockToken != s.id {
				return fmt.Errorf("%w: swap aborted: %s lock token %q, want %s", ErrGatewayFailure, id, a.LockToken, s.id)
			}
		}
	}

	legs := s.legs()
	var err error
	if ex, ok := s.gw.(inventory.Exchanger); ok {
		err = ex.Exchange(ctx, s.id, legs)
	} else {
		err = s.transferEach(ctx, legs)
	}
	if err != nil {
		return fmt.Errorf("%w: swap: %w", ErrGatewayFailure, err)
	}
	return nil
}

func (s *Session) legs() []inventory.Leg {
	var legs []inventory.Leg
	if len(s.a.offers) > 0 {
		legs = append(legs, inventory.Leg{From: s.a.Actor, To: s.b.Actor, AssetIDs: s.a.Offers()})
	}
	if len(s.b.offers) > 0 {
		legs = append(legs, inventory.Leg{From: s.b.Actor, To: s.a.Actor, AssetIDs: s.b.Offers()})
	}
	return legs
}

// transferEach is the fallback for gateways without Exchange. A failed leg
// reverses the legs already applied so callers never see a one-sided swap.
func (s *Session) transferEach(ctx context.Context, legs []inventory.Leg) error {
	for i, l := range legs {
		if err := s.gw.Transfer(ctx, l.From, l.To, l.AssetIDs, s.id); err != nil {
			s.reverse(ctx, legs[:i])
			return err
		}
	}
	return nil
}

func (s *Session) reverse(ctx context.Context, applied []inventory.Leg) {
	entry := log.WithField("session_id", s.id)
	for i := len(applied) - 1; i >= 0; i-- {
		l := applied[i]
		for _, id := range l.AssetIDs {
			if err := s.gw.Lock(ctx, l.To, id, s.id); err != nil {
				entry.WithError(err).WithField("asset_id", id).Error("swap compensation: relock moved asset")
			}
		}
		if err := s.gw.Transfer(ctx, l.To, l.From, l.AssetIDs, s.id); err != nil {
			entry.WithError(err).Error("swap compensation: transfer back")
			continue
		}
		// Back in escrow so the session stays LOCKED and retryable.
		for _, id := range l.AssetIDs {
			if err := s.gw.Lock(ctx, l.From, id, s.id); err != nil {
				entry.WithError(err).WithField("asset_id", id).Warn("swap compensation: re-escrow")
			}
		}
	}
}
