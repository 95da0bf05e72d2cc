package trade

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"tradepost.ai/internal/protocol"
)

type captured struct {
	mu      sync.Mutex
	events  []Event
	notices []Notice
}

func (c *captured) RecordEvent(ev Event) {
	c.mu.Lock()
	c.events = append(c.events, ev)
	c.mu.Unlock()
}

func (c *captured) Notify(n Notice) {
	c.mu.Lock()
	c.notices = append(c.notices, n)
	c.mu.Unlock()
}

func (c *captured) kinds() []EventKind {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]EventKind, 0, len(c.events))
	for _, ev := range c.events {
		out = append(out, ev.Kind)
	}
	return out
}

func (c *captured) noticesFor(actor string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, n := range c.notices {
		if n.To == actor {
			out = append(out, n.Text)
		}
	}
	return out
}

type names map[string]string

func (n names) DisplayName(actor string) string { return n[actor] }

func newService(t *testing.T, cfg RegistryConfig) (*Service, *fixture, *captured) {
	t.Helper()
	f := newFixtureWith(t, nil, cfg)
	c := &captured{}
	svc := NewService(f.reg, ServiceOptions{
		Recorder:  c,
		Notifier:  c,
		Directory: names{"A": "Alice", "B": "Bob"},
	})
	return svc, f, c
}

func TestServiceCompleteTrade(t *testing.T) {
	ctx := context.Background()
	svc, f, c := newService(t, RegistryConfig{ReuseActive: true})
	f.grant(t, "A", "X1")
	f.grant(t, "B", "Y1")

	steps := []struct {
		name string
		run  func() (string, error)
		want string
	}{
		{"open", func() (string, error) { return svc.Open(ctx, "A", "B") }, "opened with Bob"},
		{"offer A", func() (string, error) { return svc.Offer(ctx, "A", "X1") }, "offered X1"},
		{"offer B", func() (string, error) { return svc.Offer(ctx, "B", "Y1") }, "offered Y1"},
		{"ready A", func() (string, error) { return svc.SetReady(ctx, "A", true) }, "waiting for Bob"},
		{"ready B", func() (string, error) { return svc.SetReady(ctx, "B", true) }, "both sides ready"},
		{"accept A", func() (string, error) { return svc.Accept(ctx, "A") }, "waiting for Bob"},
		{"accept B", func() (string, error) { return svc.Accept(ctx, "B") }, "received [X1]"},
	}
	for _, st := range steps {
		got, err := st.run()
		if err != nil {
			t.Fatalf("%s: %v", st.name, err)
		}
		if !strings.Contains(got, st.want) {
			t.Fatalf("%s: got %q, want substring %q", st.name, got, st.want)
		}
	}

	f.asset(t, "A", "Y1")
	f.asset(t, "B", "X1")

	kinds := c.kinds()
	if last := kinds[len(kinds)-1]; last != EventCompleted {
		t.Fatalf("last event: %s", last)
	}
	c.mu.Lock()
	final := c.events[len(c.events)-1]
	c.mu.Unlock()
	if final.Record == nil || final.Record.Status != StatusComplete {
		t.Fatalf("completed event record: %+v", final.Record)
	}
	if got := c.noticesFor("A"); len(got) == 0 || !strings.Contains(got[len(got)-1], "received [Y1]") {
		t.Fatalf("notices for A: %v", got)
	}
	if _, err := svc.Show(ctx, "A"); !errors.Is(err, ErrNoActiveSession) {
		t.Fatalf("show after complete: expected ErrNoActiveSession, got %v", err)
	}
}

func TestServiceCancelThenAcceptFails(t *testing.T) {
	ctx := context.Background()
	svc, f, c := newService(t, RegistryConfig{ReuseActive: true})
	f.grant(t, "A", "X1")
	f.grant(t, "B", "Y1")
	mustRun(t, func() (string, error) { return svc.Open(ctx, "A", "B") })
	mustRun(t, func() (string, error) { return svc.Offer(ctx, "A", "X1") })
	mustRun(t, func() (string, error) { return svc.Offer(ctx, "B", "Y1") })
	mustRun(t, func() (string, error) { return svc.SetReady(ctx, "A", true) })
	mustRun(t, func() (string, error) { return svc.SetReady(ctx, "B", true) })
	mustRun(t, func() (string, error) { return svc.Cancel(ctx, "A") })

	if f.asset(t, "A", "X1").Locked() || f.asset(t, "B", "Y1").Locked() {
		t.Fatalf("locks survived cancel")
	}
	_, err := svc.Accept(ctx, "B")
	if !errors.Is(err, ErrNoActiveSession) {
		t.Fatalf("expected ErrNoActiveSession, got %v", err)
	}
	if Code(err) != protocol.ErrNoActiveSession {
		t.Fatalf("code: %s", Code(err))
	}
	if got := c.noticesFor("B"); len(got) == 0 || !strings.Contains(got[len(got)-1], "Alice cancelled") {
		t.Fatalf("notices for B: %v", got)
	}
}

func TestServiceOpenPolicy(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newService(t, RegistryConfig{ReuseActive: true})
	mustRun(t, func() (string, error) { return svc.Open(ctx, "A", "B") })
	got, err := svc.Open(ctx, "A", "C")
	if err != nil || !strings.Contains(got, "already have trade") {
		t.Fatalf("reopen: %q %v", got, err)
	}
	if _, err := svc.Open(ctx, "C", "B"); !errors.Is(err, ErrAlreadyInTrade) {
		t.Fatalf("busy counterparty: %v", err)
	}

	strict, _, _ := newService(t, RegistryConfig{})
	mustRun(t, func() (string, error) { return strict.Open(ctx, "A", "B") })
	if _, err := strict.Open(ctx, "A", "B"); !errors.Is(err, ErrAlreadyInTrade) {
		t.Fatalf("strict reopen: %v", err)
	}
}

func TestServiceErrorsWithoutSession(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newService(t, RegistryConfig{})
	calls := map[string]func() (string, error){
		"offer":   func() (string, error) { return svc.Offer(ctx, "A", "X1") },
		"unoffer": func() (string, error) { return svc.Unoffer(ctx, "A", "X1") },
		"ready":   func() (string, error) { return svc.SetReady(ctx, "A", true) },
		"accept":  func() (string, error) { return svc.Accept(ctx, "A") },
		"cancel":  func() (string, error) { return svc.Cancel(ctx, "A") },
		"show":    func() (string, error) { return svc.Show(ctx, "A") },
	}
	for name, call := range calls {
		if _, err := call(); !errors.Is(err, ErrNoActiveSession) {
			t.Fatalf("%s: expected ErrNoActiveSession, got %v", name, err)
		}
	}
}

func TestServiceShow(t *testing.T) {
	ctx := context.Background()
	svc, f, _ := newService(t, RegistryConfig{TTL: 5 * time.Minute})
	f.grant(t, "A", "X1")
	mustRun(t, func() (string, error) { return svc.Open(ctx, "A", "B") })
	mustRun(t, func() (string, error) { return svc.Offer(ctx, "A", "X1") })
	mustRun(t, func() (string, error) { return svc.SetReady(ctx, "A", true) })
	f.clock.Advance(time.Minute)

	out, err := svc.Show(ctx, "B")
	if err != nil {
		t.Fatalf("show: %v", err)
	}
	for _, want := range []string{"[OPEN]", "expires in 4m0s", "Alice: X1 | ready", "Bob (you): (nothing)"} {
		if !strings.Contains(out, want) {
			t.Fatalf("show output missing %q:\n%s", want, out)
		}
	}
	view, err := svc.View("A")
	if err != nil || view.A.Actor != "A" || len(view.A.Offers) != 1 {
		t.Fatalf("view: %+v %v", view, err)
	}
}

func TestServiceReaperAnnouncesExpiry(t *testing.T) {
	ctx := context.Background()
	svc, f, c := newService(t, RegistryConfig{TTL: time.Minute})
	mustRun(t, func() (string, error) { return svc.Open(ctx, "A", "B") })
	f.clock.Advance(time.Hour)
	if n := svc.NewReaper(time.Second).Sweep(ctx); n != 1 {
		t.Fatalf("sweep: %d", n)
	}
	for _, actor := range []string{"A", "B"} {
		if got := c.noticesFor(actor); len(got) == 0 || !strings.Contains(got[len(got)-1], "expired") {
			t.Fatalf("notices for %s: %v", actor, got)
		}
	}
	kinds := c.kinds()
	if kinds[len(kinds)-1] != EventExpired {
		t.Fatalf("events: %v", kinds)
	}
}

func mustRun(t *testing.T, fn func() (string, error)) string {
	t.Helper()
	out, err := fn()
	if err != nil {
		t.Fatalf("command failed: %v", err)
	}
	return out
}
