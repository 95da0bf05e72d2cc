package trade

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Service is the command-level surface: one call per user action, each
// returning a status line for the caller or a taxonomy error.
type Service struct {
	reg    *Registry
	rec    Recorder
	notify Notifier
	dir    Directory
	now    func() time.Time
}

type ServiceOptions struct {
	Recorder  Recorder
	Notifier  Notifier
	Directory Directory
}

func NewService(reg *Registry, opts ServiceOptions) *Service {
	return &Service{
		reg:    reg,
		rec:    opts.Recorder,
		notify: opts.Notifier,
		dir:    opts.Directory,
		now:    reg.now,
	}
}

func (s *Service) Registry() *Registry { return s.reg }

// NewReaper returns a reaper whose expirations are recorded and announced.
func (s *Service) NewReaper(interval time.Duration) *Reaper {
	rp := NewReaper(s.reg, interval)
	rp.OnExpired = s.expired
	return rp
}

func (s *Service) Open(_ context.Context, actor, target string) (string, error) {
	sess, created, err := s.reg.Open(
		Participant{Actor: actor, Label: s.name(actor)},
		Participant{Actor: target, Label: s.name(target)},
	)
	if err != nil {
		return "", err
	}
	rec := sess.Record()
	other := rec.Other(actor)
	if !created {
		return fmt.Sprintf("you already have trade %s with %s", rec.ID, label(other)), nil
	}
	s.emit(Event{Kind: EventOpened, SessionID: rec.ID, Actor: actor, Status: rec.Status})
	s.tell(target, rec.ID, fmt.Sprintf("%s opened trade %s with you", s.name(actor), rec.ID))
	return fmt.Sprintf("trade %s opened with %s; expires in %s", rec.ID, label(other), s.reg.TTL()), nil
}

func (s *Service) Offer(ctx context.Context, actor, assetID string) (string, error) {
	sess, err := s.active(actor)
	if err != nil {
		return "", err
	}
	if err := sess.AddOffer(ctx, actor, assetID); err != nil {
		return "", err
	}
	s.emit(Event{Kind: EventOffered, SessionID: sess.ID(), Actor: actor, AssetID: assetID, Status: sess.Status()})
	s.tell(sess.Counterparty(actor), sess.ID(), fmt.Sprintf("%s offered %s; readiness reset", s.name(actor), assetID))
	return fmt.Sprintf("offered %s; both sides must set ready again", assetID), nil
}

func (s *Service) Unoffer(ctx context.Context, actor, assetID string) (string, error) {
	sess, err := s.active(actor)
	if err != nil {
		return "", err
	}
	if err := sess.RemoveOffer(ctx, actor, assetID); err != nil {
		return "", err
	}
	s.emit(Event{Kind: EventWithdrawn, SessionID: sess.ID(), Actor: actor, AssetID: assetID, Status: sess.Status()})
	s.tell(sess.Counterparty(actor), sess.ID(), fmt.Sprintf("%s withdrew %s; readiness reset", s.name(actor), assetID))
	return fmt.Sprintf("withdrew %s; both sides must set ready again", assetID), nil
}

func (s *Service) SetReady(ctx context.Context, actor string, ready bool) (string, error) {
	sess, err := s.active(actor)
	if err != nil {
		return "", err
	}
	st, err := sess.SetReady(ctx, actor, ready)
	if err != nil {
		return "", err
	}
	other := sess.Counterparty(actor)
	if !ready {
		s.emit(Event{Kind: EventUnready, SessionID: sess.ID(), Actor: actor, Status: st})
		s.tell(other, sess.ID(), fmt.Sprintf("%s is no longer ready", s.name(actor)))
		return "you are no longer ready", nil
	}
	s.emit(Event{Kind: EventReady, SessionID: sess.ID(), Actor: actor, Status: st})
	if st == StatusReady {
		s.tell(other, sess.ID(), fmt.Sprintf("%s is ready; assets are escrowed, accept to complete", s.name(actor)))
		return "both sides ready; assets are escrowed, accept to complete", nil
	}
	s.tell(other, sess.ID(), fmt.Sprintf("%s is ready", s.name(actor)))
	return fmt.Sprintf("you are ready; waiting for %s", s.name(other)), nil
}

func (s *Service) Accept(ctx context.Context, actor string) (string, error) {
	sess, err := s.active(actor)
	if err != nil {
		return "", err
	}
	other := sess.Counterparty(actor)
	st, err := sess.Accept(ctx, actor)
	if err != nil {
		if errors.Is(err, ErrGatewayFailure) {
			s.emit(Event{Kind: EventSwapFailed, SessionID: sess.ID(), Actor: actor, Status: st, Error: err.Error()})
			s.tell(other, sess.ID(), "swap failed; accept again to retry or cancel")
		}
		return "", err
	}
	if st != StatusComplete {
		s.emit(Event{Kind: EventAccepted, SessionID: sess.ID(), Actor: actor, Status: st})
		s.tell(other, sess.ID(), fmt.Sprintf("%s accepted; accept to complete", s.name(actor)))
		return fmt.Sprintf("accepted; waiting for %s", s.name(other)), nil
	}
	rec := sess.Record()
	s.emit(Event{Kind: EventCompleted, SessionID: rec.ID, Actor: actor, Status: rec.Status, Record: &rec})
	s.tell(other, rec.ID, fmt.Sprintf("trade %s complete; you received %s", rec.ID, received(rec, other)))
	return fmt.Sprintf("trade %s complete; you received %s", rec.ID, received(rec, actor)), nil
}

func (s *Service) Cancel(ctx context.Context, actor string) (string, error) {
	sess, err := s.active(actor)
	if err != nil {
		return "", err
	}
	if err := sess.Cancel(ctx, actor); err != nil {
		return "", err
	}
	rec := sess.Record()
	s.emit(Event{Kind: EventCancelled, SessionID: rec.ID, Actor: actor, Status: rec.Status, Record: &rec})
	s.tell(sess.Counterparty(actor), rec.ID, fmt.Sprintf("%s cancelled trade %s", s.name(actor), rec.ID))
	return fmt.Sprintf("trade %s cancelled", rec.ID), nil
}

func (s *Service) Show(_ context.Context, actor string) (string, error) {
	rec, err := s.View(actor)
	if err != nil {
		return "", err
	}
	return Render(rec, actor, s.now()), nil
}

// View returns the structured form of actor's active session.
func (s *Service) View(actor string) (Record, error) {
	sess, err := s.active(actor)
	if err != nil {
		return Record{}, err
	}
	return sess.Record(), nil
}

func (s *Service) expired(rec Record) {
	s.emit(Event{Kind: EventExpired, SessionID: rec.ID, Status: rec.Status, Record: &rec})
	for _, actor := range []string{rec.A.Actor, rec.B.Actor} {
		s.tell(actor, rec.ID, fmt.Sprintf("trade %s expired", rec.ID))
	}
}

func (s *Service) active(actor string) (*Session, error) {
	sess := s.reg.FindActiveFor(actor)
	if sess == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoActiveSession, actor)
	}
	return sess, nil
}

func (s *Service) name(actor string) string {
	if s.dir != nil {
		if n := s.dir.DisplayName(actor); n != "" {
			return n
		}
	}
	return actor
}

func (s *Service) emit(ev Event) {
	if s.rec == nil {
		return
	}
	ev.Time = s.now()
	s.rec.RecordEvent(ev)
}

func (s *Service) tell(to, sessionID, text string) {
	if s.notify == nil || to == "" {
		return
	}
	s.notify.Notify(Notice{To: to, SessionID: sessionID, Text: text})
}

func received(rec Record, actor string) string {
	got := rec.Other(actor).Offers
	if len(got) == 0 {
		return "nothing"
	}
	return fmt.Sprintf("%v", got)
}
