package trade

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestRegistryOneSessionPerActor(t *testing.T) {
	f := newFixtureWith(t, nil, RegistryConfig{})
	s := f.open(t, "A", "B")
	if got := f.reg.FindActiveFor("A"); got != s {
		t.Fatalf("FindActiveFor(A): got %v", got)
	}
	if got := f.reg.FindActiveFor("B"); got != s {
		t.Fatalf("FindActiveFor(B): got %v", got)
	}
	if _, err := f.reg.Create(Participant{Actor: "B"}, Participant{Actor: "C"}); !errors.Is(err, ErrAlreadyInTrade) {
		t.Fatalf("expected ErrAlreadyInTrade, got %v", err)
	}
	if _, _, err := f.reg.Open(Participant{Actor: "A"}, Participant{Actor: "C"}); !errors.Is(err, ErrAlreadyInTrade) {
		t.Fatalf("open without reuse: expected ErrAlreadyInTrade, got %v", err)
	}
	if f.reg.FindActiveFor("C") != nil {
		t.Fatalf("C should have no session")
	}
}

func TestRegistryRejectsBadPairs(t *testing.T) {
	f := newFixture(t)
	if _, err := f.reg.Create(Participant{Actor: "A"}, Participant{Actor: "A"}); !errors.Is(err, ErrInvalidCounterparty) {
		t.Fatalf("self trade: expected ErrInvalidCounterparty, got %v", err)
	}
	if _, _, err := f.reg.Open(Participant{Actor: "A"}, Participant{Actor: " "}); !errors.Is(err, ErrInvalidCounterparty) {
		t.Fatalf("blank counterparty: expected ErrInvalidCounterparty, got %v", err)
	}
}

func TestRegistryOpenReusesActiveSession(t *testing.T) {
	f := newFixture(t)
	first, created, err := f.reg.Open(Participant{Actor: "A"}, Participant{Actor: "B"})
	if err != nil || !created {
		t.Fatalf("open: created=%v err=%v", created, err)
	}
	again, created, err := f.reg.Open(Participant{Actor: "A"}, Participant{Actor: "B"})
	if err != nil || created || again != first {
		t.Fatalf("reopen: created=%v same=%v err=%v", created, again == first, err)
	}
	// The counterparty being busy is still an error.
	if _, _, err := f.reg.Open(Participant{Actor: "C"}, Participant{Actor: "B"}); !errors.Is(err, ErrAlreadyInTrade) {
		t.Fatalf("busy counterparty: expected ErrAlreadyInTrade, got %v", err)
	}
}

func TestRegistryConcurrentOpenSingleWinner(t *testing.T) {
	f := newFixtureWith(t, nil, RegistryConfig{})
	const n = 8
	var wg sync.WaitGroup
	results := make([]error, n)
	for i := 0; i < n; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, results[i] = f.reg.Open(Participant{Actor: "A"}, Participant{Actor: fmt.Sprintf("P%d", i)})
		}()
	}
	wg.Wait()
	wins := 0
	for _, err := range results {
		switch {
		case err == nil:
			wins++
		case !errors.Is(err, ErrAlreadyInTrade):
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly one session, got %d", wins)
	}
	if len(f.reg.Active()) != 1 {
		t.Fatalf("active: got %d", len(f.reg.Active()))
	}
}

func TestRegistryTerminalSessionFreesActors(t *testing.T) {
	f := newFixture(t)
	s := f.open(t, "A", "B")
	if err := f.reg.Remove(s.ID()); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("remove active: expected ErrInvalidTransition, got %v", err)
	}
	if err := s.Cancel(context.Background(), "B"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if f.reg.FindActiveFor("A") != nil {
		t.Fatalf("cancelled session still active")
	}
	if f.reg.Get(s.ID()) != nil {
		t.Fatalf("cancelled session still indexed by id")
	}
	if err := f.reg.Remove(s.ID()); !errors.Is(err, ErrNoActiveSession) {
		t.Fatalf("remove twice: expected ErrNoActiveSession, got %v", err)
	}
	next := f.open(t, "A", "C")
	if next.ID() == s.ID() {
		t.Fatalf("session id reused")
	}
}

type memStore struct {
	mu   sync.Mutex
	recs []Record
	cnt  int
}

func (m *memStore) SaveSessions(recs []Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs = append([]Record(nil), recs...)
	m.cnt++
	return nil
}

func (m *memStore) LoadSessions() ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Record(nil), m.recs...), nil
}

func TestRegistryPersistAndRestore(t *testing.T) {
	ctx := context.Background()
	store := &memStore{}
	f := newFixtureWith(t, nil, RegistryConfig{Store: store, PersistDebounce: time.Hour})
	f.grant(t, "A", "X1")
	f.grant(t, "B", "Y1")
	s := f.open(t, "A", "B")
	if err := s.AddOffer(ctx, "A", "X1"); err != nil {
		t.Fatalf("offer: %v", err)
	}
	if err := s.AddOffer(ctx, "B", "Y1"); err != nil {
		t.Fatalf("offer: %v", err)
	}
	for _, actor := range []string{"A", "B"} {
		if _, err := s.SetReady(ctx, actor, true); err != nil {
			t.Fatalf("ready %s: %v", actor, err)
		}
	}
	done := f.open(t, "C", "D")
	if err := done.Cancel(ctx, "C"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if err := f.reg.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
	saved, _ := store.LoadSessions()
	if len(saved) != 1 || saved[0].ID != s.ID() {
		t.Fatalf("saved: %+v", saved)
	}

	// A fresh registry over the same inventory picks the session back up and
	// can finish it.
	reg := NewRegistry(RegistryConfig{Gateway: f.inv, Store: store, Now: f.clock.Now})
	defer reg.Close()
	n, err := reg.Load()
	if err != nil || n != 1 {
		t.Fatalf("load: n=%d err=%v", n, err)
	}
	got := reg.FindActiveFor("B")
	if got == nil || got.ID() != s.ID() || got.Status() != StatusReady {
		t.Fatalf("restored session: %+v", got)
	}
	for _, actor := range []string{"A", "B"} {
		if _, err := got.Accept(ctx, actor); err != nil {
			t.Fatalf("accept %s: %v", actor, err)
		}
	}
	mustStatus(t, got, StatusComplete)
	f.asset(t, "A", "Y1")
	f.asset(t, "B", "X1")
}

func TestRegistryRestoreSkipsBadRecords(t *testing.T) {
	f := newFixture(t)
	now := f.clock.Now()
	ok := Record{ID: "TS-a", Status: StatusOpen, A: PartyRecord{Actor: "A"}, B: PartyRecord{Actor: "B"}, ExpiresAt: now.Add(time.Minute)}
	n := f.reg.Restore([]Record{
		ok,
		{ID: "TS-b", Status: StatusOpen, A: PartyRecord{Actor: "A"}, B: PartyRecord{Actor: "C"}},
		{ID: "TS-c", Status: StatusComplete, A: PartyRecord{Actor: "D"}, B: PartyRecord{Actor: "E"}},
		{ID: "TS-d", Status: "BOGUS", A: PartyRecord{Actor: "F"}, B: PartyRecord{Actor: "G"}},
		{ID: "", Status: StatusOpen, A: PartyRecord{Actor: "H"}, B: PartyRecord{Actor: "I"}},
	})
	if n != 1 {
		t.Fatalf("restored %d, want 1", n)
	}
	if f.reg.FindActiveFor("C") != nil || f.reg.FindActiveFor("D") != nil {
		t.Fatalf("skipped records became active")
	}
}

func TestRegistryFlushWithoutStore(t *testing.T) {
	f := newFixture(t)
	if err := f.reg.Flush(context.Background()); err != nil {
		t.Fatalf("flush: %v", err)
	}
	f.reg.Close()
	f.reg.Close()
}
