package trade

import (
	"context"
	"testing"
	"time"

	"tradepost.ai/internal/inventory"
)

func TestReaperExpiresIdleSession(t *testing.T) {
	ctx := context.Background()
	f := newFixtureWith(t, nil, RegistryConfig{TTL: time.Minute})
	f.grant(t, "A", "X1")
	s := f.open(t, "A", "B")
	if err := s.AddOffer(ctx, "A", "X1"); err != nil {
		t.Fatalf("offer: %v", err)
	}

	var expired []Record
	rp := NewReaper(f.reg, time.Second)
	rp.OnExpired = func(rec Record) { expired = append(expired, rec) }

	if n := rp.Sweep(ctx); n != 0 {
		t.Fatalf("early sweep expired %d", n)
	}
	f.clock.Advance(time.Minute + time.Second)
	if n := rp.Sweep(ctx); n != 1 {
		t.Fatalf("sweep expired %d, want 1", n)
	}
	mustStatus(t, s, StatusExpired)
	if len(expired) != 1 || expired[0].Status != StatusExpired {
		t.Fatalf("OnExpired: %+v", expired)
	}
	if a := f.asset(t, "A", "X1"); a.Locked() {
		t.Fatalf("X1 locked after expiry: %+v", a)
	}
	if f.reg.FindActiveFor("A") != nil {
		t.Fatalf("expired session still active")
	}
	if n := rp.Sweep(ctx); n != 0 {
		t.Fatalf("second sweep expired %d", n)
	}
}

func TestReaperReleasesEscrow(t *testing.T) {
	ctx := context.Background()
	f := newFixtureWith(t, nil, RegistryConfig{TTL: time.Minute})
	f.grant(t, "A", "X1")
	f.grant(t, "B", "Y1")
	s := f.open(t, "A", "B")
	for _, step := range []struct{ actor, id string }{{"A", "X1"}, {"B", "Y1"}} {
		if err := s.AddOffer(ctx, step.actor, step.id); err != nil {
			t.Fatalf("offer %s: %v", step.id, err)
		}
	}
	for _, actor := range []string{"A", "B"} {
		if _, err := s.SetReady(ctx, actor, true); err != nil {
			t.Fatalf("ready %s: %v", actor, err)
		}
	}
	if _, err := s.Accept(ctx, "A"); err != nil {
		t.Fatalf("accept: %v", err)
	}
	f.clock.Advance(2 * time.Minute)
	if n := NewReaper(f.reg, 0).Sweep(ctx); n != 1 {
		t.Fatalf("sweep expired %d", n)
	}
	if f.asset(t, "A", "X1").Locked() || f.asset(t, "B", "Y1").Locked() {
		t.Fatalf("escrow survived expiry")
	}
}

func TestReaperRetriesAfterGatewayFailure(t *testing.T) {
	ctx := context.Background()
	var gw *unlockFailGateway
	f := newFixtureWith(t, func(inner inventory.Gateway) inventory.Gateway {
		gw = &unlockFailGateway{Gateway: inner}
		return gw
	}, RegistryConfig{TTL: time.Minute})
	stuck := f.open(t, "A", "B")
	f.clock.Advance(2 * time.Minute)

	rp := NewReaper(f.reg, time.Second)
	gw.setFail(true)
	if n := rp.Sweep(ctx); n != 0 {
		t.Fatalf("sweep with failing gateway expired %d", n)
	}
	mustStatus(t, stuck, StatusOpen)

	gw.setFail(false)
	if n := rp.Sweep(ctx); n != 1 {
		t.Fatalf("retry sweep expired %d", n)
	}
	mustStatus(t, stuck, StatusExpired)
}

func TestReaperRunStopsOnCancel(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewReaper(f.reg, 10*time.Millisecond).Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		if err != context.Canceled {
			t.Fatalf("run: got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("reaper did not stop")
	}
}
