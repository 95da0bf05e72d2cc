package kv

import (
	"testing"
	"time"

	"tradepost.ai/internal/trade"
)

func rec(id, a, b string, offers ...string) trade.Record {
	now := time.Date(2026, 5, 6, 7, 8, 9, 0, time.UTC)
	return trade.Record{
		ID:        id,
		Status:    trade.StatusOpen,
		A:         trade.PartyRecord{Actor: a, Offers: offers},
		B:         trade.PartyRecord{Actor: b},
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(time.Minute),
	}
}

func TestStoreReplacesSet(t *testing.T) {
	st, err := Open(OpenOptions{Path: t.TempDir()})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer st.Close()

	if err := st.SaveSessions([]trade.Record{rec("TS-1", "A", "B", "X1"), rec("TS-2", "C", "D")}); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := st.LoadSessions()
	if err != nil || len(got) != 2 {
		t.Fatalf("load: %d %v", len(got), err)
	}

	if err := st.SaveSessions([]trade.Record{rec("TS-2", "C", "D", "Z9")}); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err = st.LoadSessions()
	if err != nil || len(got) != 1 || got[0].ID != "TS-2" {
		t.Fatalf("after replace: %+v %v", got, err)
	}
	if _, ok, err := st.Get("TS-1"); ok || err != nil {
		t.Fatalf("stale session kept: ok=%v err=%v", ok, err)
	}
	r, ok, err := st.Get("TS-2")
	if !ok || err != nil || len(r.A.Offers) != 1 || r.A.Offers[0] != "Z9" {
		t.Fatalf("get TS-2: %+v ok=%v err=%v", r, ok, err)
	}
}

func TestStoreSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	st, err := Open(OpenOptions{Path: dir})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := st.SaveSessions([]trade.Record{rec("TS-1", "A", "B", "X1")}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	st, err = Open(OpenOptions{Path: dir})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st.Close()
	got, err := st.LoadSessions()
	if err != nil || len(got) != 1 || got[0].A.Actor != "A" {
		t.Fatalf("load: %+v %v", got, err)
	}
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open(OpenOptions{}); err == nil {
		t.Fatalf("expected error for empty path")
	}
	st, err := Open(OpenOptions{InMemory: true})
	if err != nil {
		t.Fatalf("in-memory open: %v", err)
	}
	_ = st.Close()
}
