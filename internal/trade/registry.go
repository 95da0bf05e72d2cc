package trade

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"tradepost.ai/internal/inventory"
)

const (
	DefaultTTL             = 10 * time.Minute
	DefaultPersistDebounce = 500 * time.Millisecond
)

// Participant identifies one side when a session is created.
type Participant struct {
	Actor string
	Label string
}

type RegistryConfig struct {
	Gateway inventory.Gateway
	TTL     time.Duration
	// ReuseActive makes Open return the initiator's existing session instead of
	// failing with ErrAlreadyInTrade.
	ReuseActive bool

	Store           SessionStore
	PersistDebounce time.Duration

	Now   func() time.Time
	NewID func() string
}

// Registry owns the set of active sessions and the actor -> session index.
//
// Lock order is session then registry: a session may call into the registry
// while holding its own mutex, so the registry never takes a session mutex
// while holding r.mu.
type Registry struct {
	mu      sync.RWMutex
	byID    map[string]*Session
	byActor map[string]string

	gw    inventory.Gateway
	ttl   time.Duration
	reuse bool
	now   func() time.Time
	newID func() string

	store           SessionStore
	persistDebounce time.Duration
	persistCh       chan struct{}
	persistFlush    chan chan struct{}
	persistStop     chan struct{}
	persistWG       sync.WaitGroup
	closeOnce       sync.Once
}

func NewRegistry(cfg RegistryConfig) *Registry {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewID == nil {
		cfg.NewID = NewSessionID
	}
	if cfg.PersistDebounce <= 0 {
		cfg.PersistDebounce = DefaultPersistDebounce
	}
	r := &Registry{
		byID:            map[string]*Session{},
		byActor:         map[string]string{},
		gw:              cfg.Gateway,
		ttl:             cfg.TTL,
		reuse:           cfg.ReuseActive,
		now:             cfg.Now,
		newID:           cfg.NewID,
		store:           cfg.Store,
		persistDebounce: cfg.PersistDebounce,
	}
	if r.store != nil {
		r.persistCh = make(chan struct{}, 1)
		r.persistFlush = make(chan chan struct{})
		r.persistStop = make(chan struct{})
		r.persistWG.Add(1)
		go r.persistLoop()
	}
	return r
}

func NewSessionID() string { return "TS-" + uuid.NewString() }

func (r *Registry) TTL() time.Duration { return r.ttl }

func (r *Registry) env() sessionEnv {
	return sessionEnv{gw: r.gw, now: r.now, onChange: r.changed}
}

// FindActiveFor returns actor's non-terminal session, or nil.
func (r *Registry) FindActiveFor(actor string) *Session {
	r.mu.RLock()
	s := r.byID[r.byActor[actor]]
	r.mu.RUnlock()
	if s == nil || s.Terminal() {
		return nil
	}
	return s
}

func (r *Registry) Get(id string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byID[id]
}

// Create starts a new session; it fails if either actor already has one.
func (r *Registry) Create(a, b Participant) (*Session, error) {
	if err := validatePair(a, b); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, actor := range []string{a.Actor, b.Actor} {
		if r.activeLocked(actor) != nil {
			return nil, fmt.Errorf("%w: %s", ErrAlreadyInTrade, actor)
		}
	}
	return r.createLocked(a, b), nil
}

// Open is Create under the idempotent-open policy: when the initiator already
// has a session and reuse is enabled, that session is returned with created=false.
func (r *Registry) Open(initiator, counterparty Participant) (s *Session, created bool, err error) {
	if err := validatePair(initiator, counterparty); err != nil {
		return nil, false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur := r.activeLocked(initiator.Actor); cur != nil {
		if r.reuse {
			return cur, false, nil
		}
		return nil, false, fmt.Errorf("%w: %s has session %s", ErrAlreadyInTrade, initiator.Actor, cur.ID())
	}
	if cur := r.activeLocked(counterparty.Actor); cur != nil {
		return nil, false, fmt.Errorf("%w: %s is busy", ErrAlreadyInTrade, counterparty.Actor)
	}
	return r.createLocked(initiator, counterparty), true, nil
}

// Remove drops a terminal session from the active index.
func (r *Registry) Remove(id string) error {
	s := r.Get(id)
	if s == nil {
		return fmt.Errorf("%w: %s", ErrNoActiveSession, id)
	}
	if !s.Terminal() {
		return fmt.Errorf("%w: session %s is still active", ErrInvalidTransition, id)
	}
	r.mu.Lock()
	r.dropLocked(s)
	r.mu.Unlock()
	r.schedulePersist()
	return nil
}

// Active returns every non-terminal session ordered by id.
func (r *Registry) Active() []*Session {
	r.mu.RLock()
	out := make([]*Session, 0, len(r.byID))
	for _, s := range r.byID {
		if !s.Terminal() {
			out = append(out, s)
		}
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

func (r *Registry) Records() []Record {
	active := r.Active()
	out := make([]Record, 0, len(active))
	for _, s := range active {
		rec := s.Record()
		if rec.Status.Terminal() {
			continue
		}
		out = append(out, rec)
	}
	return out
}

// Restore rebuilds the registry and its actor index from persisted records.
// Terminal, malformed and colliding records are skipped.
func (r *Registry) Restore(recs []Record) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, rec := range recs {
		entry := log.WithField("session_id", rec.ID)
		if err := rec.Validate(); err != nil {
			entry.WithError(err).Warn("skip malformed session record")
			continue
		}
		if rec.Status.Terminal() {
			continue
		}
		if r.byID[rec.ID] != nil || r.activeLocked(rec.A.Actor) != nil || r.activeLocked(rec.B.Actor) != nil {
			entry.Warn("skip session record: actor already in a trade")
			continue
		}
		s := sessionFromRecord(rec, r.env())
		r.indexLocked(s)
		n++
	}
	return n
}

// Load restores sessions from the configured store.
func (r *Registry) Load() (int, error) {
	if r.store == nil {
		return 0, nil
	}
	recs, err := r.store.LoadSessions()
	if err != nil {
		return 0, err
	}
	return r.Restore(recs), nil
}

func (r *Registry) createLocked(a, b Participant) *Session {
	s := newSession(r.newID(),
		&Party{Actor: a.Actor, Label: a.Label},
		&Party{Actor: b.Actor, Label: b.Label},
		r.ttl, r.env())
	r.indexLocked(s)
	r.schedulePersist()
	return s
}

func (r *Registry) indexLocked(s *Session) {
	r.byID[s.id] = s
	r.byActor[s.a.Actor] = s.id
	r.byActor[s.b.Actor] = s.id
}

func (r *Registry) activeLocked(actor string) *Session {
	s := r.byID[r.byActor[actor]]
	if s == nil {
		return nil
	}
	if s.Terminal() {
		r.dropLocked(s)
		return nil
	}
	return s
}

func (r *Registry) dropLocked(s *Session) {
	delete(r.byID, s.id)
	for _, actor := range []string{s.a.Actor, s.b.Actor} {
		if r.byActor[actor] == s.id {
			delete(r.byActor, actor)
		}
	}
}

// changed runs with the session mutex held.
func (r *Registry) changed(s *Session) {
	if s.Terminal() {
		r.mu.Lock()
		r.dropLocked(s)
		r.mu.Unlock()
	}
	r.schedulePersist()
}

func validatePair(a, b Participant) error {
	if strings.TrimSpace(a.Actor) == "" || strings.TrimSpace(b.Actor) == "" {
		return fmt.Errorf("%w: missing actor", ErrInvalidCounterparty)
	}
	if a.Actor == b.Actor {
		return fmt.Errorf("%w: cannot trade with yourself", ErrInvalidCounterparty)
	}
	return nil
}

func (r *Registry) schedulePersist() {
	if r.persistCh == nil {
		return
	}
	select {
	case r.persistCh <- struct{}{}:
	default:
	}
}

func (r *Registry) persistLoop() {
	defer r.persistWG.Done()
	var timer *time.Timer
	stopTimer := func() {
		if timer == nil {
			return
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer = nil
	}
	for {
		var timerCh <-chan time.Time
		if timer != nil {
			timerCh = timer.C
		}
		select {
		case <-r.persistStop:
			stopTimer()
			r.persistNow()
			return
		case <-r.persistCh:
			if timer == nil {
				timer = time.NewTimer(r.persistDebounce)
			}
		case ack := <-r.persistFlush:
			stopTimer()
			r.persistNow()
			close(ack)
		case <-timerCh:
			timer = nil
			r.persistNow()
		}
	}
}

func (r *Registry) persistNow() {
	recs := r.Records()
	if err := r.store.SaveSessions(recs); err != nil {
		log.WithError(err).WithField("sessions", len(recs)).Error("persist sessions")
	}
}

// Flush writes the current sessions to the store and waits for it.
func (r *Registry) Flush(ctx context.Context) error {
	if r.persistFlush == nil {
		return nil
	}
	ack := make(chan struct{})
	select {
	case r.persistFlush <- ack:
	case <-r.persistStop:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-ack:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the persist loop after a final save.
func (r *Registry) Close() {
	r.closeOnce.Do(func() {
		if r.persistStop != nil {
			close(r.persistStop)
		}
		r.persistWG.Wait()
	})
}
