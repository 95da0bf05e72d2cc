package snapshot

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"tradepost.ai/internal/trade"
)

func sampleRecords() []trade.Record {
	at := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	return []trade.Record{{
		ID:        "TS-1",
		Status:    trade.StatusReady,
		A:         trade.PartyRecord{Actor: "A", Label: "Alice", Offers: []string{"X1", "X2"}, Ready: true},
		B:         trade.PartyRecord{Actor: "B", Offers: []string{"Y1"}, Ready: true},
		CreatedAt: at,
		UpdatedAt: at.Add(time.Second),
		ExpiresAt: at.Add(10 * time.Minute),
	}}
}

func TestStoreSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "sessions.snap.zst")
	st := NewStore(path)

	recs, err := st.LoadSessions()
	if err != nil || len(recs) != 0 {
		t.Fatalf("load missing: %v %v", recs, err)
	}
	if err := st.SaveSessions(sampleRecords()); err != nil {
		t.Fatalf("save: %v", err)
	}
	recs, err = st.LoadSessions()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("records: %d", len(recs))
	}
	got := recs[0]
	if got.ID != "TS-1" || got.Status != trade.StatusReady || got.A.Label != "Alice" {
		t.Fatalf("record: %+v", got)
	}
	if len(got.A.Offers) != 2 || got.A.Offers[1] != "X2" || !got.B.Ready {
		t.Fatalf("parties: %+v %+v", got.A, got.B)
	}
	if !got.ExpiresAt.Equal(sampleRecords()[0].ExpiresAt) {
		t.Fatalf("expires: %v", got.ExpiresAt)
	}

	snap, err := ReadSnapshot(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if snap.Header.Version != Version || snap.Header.Sessions != 1 {
		t.Fatalf("header: %+v", snap.Header)
	}
}

func TestStoreOverwriteLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	st := NewStore(filepath.Join(dir, "sessions.snap.zst"))
	if err := st.SaveSessions(sampleRecords()); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := st.SaveSessions(nil); err != nil {
		t.Fatalf("save empty: %v", err)
	}
	recs, err := st.LoadSessions()
	if err != nil || len(recs) != 0 {
		t.Fatalf("after overwrite: %v %v", recs, err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected only the snapshot, got %d entries", len(entries))
	}
}

func TestReadSnapshotRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.zst")
	if err := os.WriteFile(path, []byte("not zstd"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := NewStore(path).LoadSessions(); err == nil {
		t.Fatalf("expected error for garbage snapshot")
	}
}
