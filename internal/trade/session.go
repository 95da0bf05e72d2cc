package trade

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"tradepost.ai/internal/inventory"
)

// Session is one negotiation between two actors. Every exported mutator takes
// the session mutex for its whole duration, gateway calls included, so calls on
// the same session observe a single linear history.
type Session struct {
	mu sync.Mutex

	id     string
	status Status
	a, b   *Party

	createdAt time.Time
	updatedAt time.Time
	expiresAt time.Time

	gw       inventory.Gateway
	now      func() time.Time
	onChange func(*Session)

	// done mirrors status.Terminal() for readers that must not take mu.
	done atomic.Bool
}

type sessionEnv struct {
	gw       inventory.Gateway
	now      func() time.Time
	onChange func(*Session)
}

func newSession(id string, a, b *Party, ttl time.Duration, env sessionEnv) *Session {
	now := env.now()
	return &Session{
		id:        id,
		status:    StatusOpen,
		a:         a,
		b:         b,
		createdAt: now,
		updatedAt: now,
		expiresAt: now.Add(ttl),
		gw:        env.gw,
		now:       env.now,
		onChange:  env.onChange,
	}
}

func sessionFromRecord(r Record, env sessionEnv) *Session {
	s := &Session{
		id:        r.ID,
		status:    r.Status,
		a:         partyFromRecord(r.A),
		b:         partyFromRecord(r.B),
		createdAt: r.CreatedAt,
		updatedAt: r.UpdatedAt,
		expiresAt: r.ExpiresAt,
		gw:        env.gw,
		now:       env.now,
		onChange:  env.onChange,
	}
	s.done.Store(r.Status.Terminal())
	return s
}

func (s *Session) ID() string { return s.id }

// Actors returns both participants. Parties never change after creation.
func (s *Session) Actors() (a, b string) { return s.a.Actor, s.b.Actor }

func (s *Session) Involves(actor string) bool {
	return actor != "" && (actor == s.a.Actor || actor == s.b.Actor)
}

func (s *Session) Counterparty(actor string) string {
	if actor == s.a.Actor {
		return s.b.Actor
	}
	return s.a.Actor
}

// Terminal is safe to call without holding any lock.
func (s *Session) Terminal() bool { return s.done.Load() }

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Session) ExpiresAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expiresAt
}

func (s *Session) Record() Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recordLocked()
}

func (s *Session) recordLocked() Record {
	return Record{
		ID:        s.id,
		Status:    s.status,
		A:         s.a.record(),
		B:         s.b.record(),
		CreatedAt: s.createdAt,
		UpdatedAt: s.updatedAt,
		ExpiresAt: s.expiresAt,
	}
}

// AddOffer appends assetID to actor's offer list. Any change to the offer set
// releases escrow and clears both parties' readiness and acceptance.
func (s *Session) AddOffer(ctx context.Context, actor, assetID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, _, err := s.begin(actor)
	if err != nil {
		return err
	}
	if assetID == "" {
		return fmt.Errorf("%w: empty asset id", ErrAssetNotOwned)
	}
	if p.has(assetID) {
		return nil
	}
	owned, err := s.gw.ListOwned(ctx, actor)
	if err != nil {
		return gatewayErr("list owned", assetID, err)
	}
	a, ok := inventory.Find(owned, assetID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrAssetNotOwned, assetID)
	}
	if a.LockToken != "" && a.LockToken != s.id {
		return fmt.Errorf("%w: %s", ErrAssetLocked, assetID)
	}
	if err := s.renegotiate(ctx); err != nil {
		return err
	}
	p.add(assetID)
	s.touch()
	return nil
}

func (s *Session) RemoveOffer(ctx context.Context, actor, assetID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, _, err := s.begin(actor)
	if err != nil {
		return err
	}
	if !p.has(assetID) {
		return fmt.Errorf("%w: %s", ErrAssetNotOffered, assetID)
	}
	if err := s.renegotiate(ctx); err != nil {
		return err
	}
	p.remove(assetID)
	s.touch()
	return nil
}

// SetReady updates actor's readiness. When both parties become ready every
// offered asset is escrowed; if any lock fails the attempt is rolled back and
// the session stays OPEN.
func (s *Session) SetReady(ctx context.Context, actor string, ready bool) (Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, other, err := s.begin(actor)
	if err != nil {
		return "", err
	}
	if s.status != StatusOpen && s.status != StatusReady {
		return s.status, fmt.Errorf("%w: readiness is fixed while %s", ErrInvalidTransition, s.status)
	}
	if p.ready == ready {
		return s.status, nil
	}

	if !ready {
		if s.status == StatusReady {
			if err := s.gw.UnlockAll(ctx, s.id); err != nil {
				return s.status, gatewayErr("unlock", "", err)
			}
			if err := s.transition(StatusOpen); err != nil {
				return s.status, err
			}
		}
		p.ready = false
		s.clearAcceptance()
		s.touch()
		return s.status, nil
	}

	if !other.ready {
		p.ready = true
		s.clearAcceptance()
		s.touch()
		return s.status, nil
	}
	if len(p.offers)+len(other.offers) == 0 {
		return s.status, fmt.Errorf("%w: nothing offered", ErrInvalidTransition)
	}
	if err := s.lockOffers(ctx); err != nil {
		return s.status, err
	}
	if err := s.transition(StatusReady); err != nil {
		return s.status, err
	}
	p.ready = true
	s.clearAcceptance()
	s.touch()
	return s.status, nil
}

// Accept records actor's acceptance. The first acceptance moves READY to LOCKED;
// once both parties have accepted the swap runs and the session completes. A
// failed swap leaves the session LOCKED so either side may retry or cancel.
func (s *Session) Accept(ctx context.Context, actor string) (Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, other, err := s.begin(actor)
	if err != nil {
		return "", err
	}
	if s.status != StatusReady && s.status != StatusLocked {
		return s.status, fmt.Errorf("%w: must be READY before accepting", ErrInvalidTransition)
	}
	if !p.accepted {
		p.accepted = true
		if s.status == StatusReady {
			if err := s.transition(StatusLocked); err != nil {
				p.accepted = false
				return s.status, err
			}
		}
		s.touch()
	}
	if !other.accepted {
		return s.status, nil
	}
	if err := s.swap(ctx); err != nil {
		return s.status, err
	}
	if err := s.transition(StatusComplete); err != nil {
		return s.status, err
	}
	s.touch()
	return s.status, nil
}

// Cancel is available to either participant in any non-terminal state. If a
// swap is in flight it waits on the session mutex for the swap's outcome.
func (s *Session) Cancel(ctx context.Context, actor string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, _, err := s.begin(actor); err != nil {
		return err
	}
	return s.finish(ctx, StatusCancelled)
}

// Expire ends the session if now is past its expiry. It reports whether the
// session transitioned.
func (s *Session) Expire(ctx context.Context, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status.Terminal() || !now.After(s.expiresAt) {
		return false, nil
	}
	if err := s.finish(ctx, StatusExpired); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Session) begin(actor string) (p, other *Party, err error) {
	if s.status.Terminal() {
		return nil, nil, fmt.Errorf("%w: session %s is %s", ErrNoActiveSession, s.id, s.status)
	}
	switch actor {
	case s.a.Actor:
		return s.a, s.b, nil
	case s.b.Actor:
		return s.b, s.a, nil
	}
	return nil, nil, fmt.Errorf("%w: %s in %s", ErrNotAParticipant, actor, s.id)
}

// finish releases escrow before going terminal, so no terminal session can
// leave a lock token behind.
func (s *Session) finish(ctx context.Context, to Status) error {
	if err := s.gw.UnlockAll(ctx, s.id); err != nil {
		return gatewayErr("unlock", "", err)
	}
	if err := s.transition(to); err != nil {
		return err
	}
	s.touch()
	return nil
}

func (s *Session) renegotiate(ctx context.Context) error {
	if s.status == StatusReady || s.status == StatusLocked {
		if err := s.gw.UnlockAll(ctx, s.id); err != nil {
			return gatewayErr("unlock", "", err)
		}
		if err := s.transition(StatusOpen); err != nil {
			return err
		}
	}
	s.a.ready, s.b.ready = false, false
	s.clearAcceptance()
	return nil
}

func (s *Session) clearAcceptance() {
	s.a.accepted, s.b.accepted = false, false
}

func (s *Session) lockOffers(ctx context.Context) error {
	for _, p := range []*Party{s.a, s.b} {
		for _, id := range p.offers {
			if err := s.gw.Lock(ctx, p.Actor, id, s.id); err != nil {
				if uerr := s.gw.UnlockAll(ctx, s.id); uerr != nil {
					log.WithField("session_id", s.id).WithError(uerr).Warn("release after failed lock")
				}
				return gatewayErr("lock", id, err)
			}
		}
	}
	return nil
}

func (s *Session) transition(to Status) error {
	if s.status == to {
		return nil
	}
	if !CanTransition(s.status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.status, to)
	}
	s.status = to
	if to.Terminal() {
		s.done.Store(true)
	}
	return nil
}

func (s *Session) touch() {
	s.updatedAt = s.now()
	if s.onChange != nil {
		s.onChange(s)
	}
}
