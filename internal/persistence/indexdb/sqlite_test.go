package indexdb

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"tradepost.ai/internal/trade"
)

func TestSQLiteIndex_QueueDropStats(t *testing.T) {
	s := &SQLiteIndex{ch: make(chan req, 1)}
	s.RecordEvent(trade.Event{Kind: trade.EventOpened, SessionID: "TS-1"})
	s.RecordEvent(trade.Event{Kind: trade.EventOffered, SessionID: "TS-1"})
	s.RecordEvent(trade.Event{Kind: trade.EventOffered, SessionID: "TS-1"})

	st := s.Stats()
	if st.DropEventTotal != 2 {
		t.Fatalf("DropEventTotal=%d want=2", st.DropEventTotal)
	}
	if st.QueueDepth != 1 || st.QueueCapacity != 1 {
		t.Fatalf("queue stats mismatch: depth=%d cap=%d", st.QueueDepth, st.QueueCapacity)
	}
}

func finished(id, a, b string, status trade.Status, closed time.Time) trade.Event {
	rec := trade.Record{
		ID:        id,
		Status:    status,
		A:         trade.PartyRecord{Actor: a, Offers: []string{"X-" + id}},
		B:         trade.PartyRecord{Actor: b},
		CreatedAt: closed.Add(-time.Minute),
	}
	kind := trade.EventCompleted
	if status == trade.StatusCancelled {
		kind = trade.EventCancelled
	}
	return trade.Event{Time: closed, Kind: kind, SessionID: id, Actor: a, Status: status, Record: &rec}
}

func TestSQLiteIndex_RecentTrades(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "index", "trades.sqlite")
	s, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	base := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
	s.RecordEvent(trade.Event{Time: base, Kind: trade.EventOpened, SessionID: "TS-1", Actor: "A", Status: trade.StatusOpen})
	s.RecordEvent(trade.Event{Time: base, Kind: trade.EventOffered, SessionID: "TS-1", Actor: "A", AssetID: "X-TS-1", Status: trade.StatusOpen})
	s.RecordEvent(finished("TS-1", "A", "B", trade.StatusComplete, base.Add(time.Minute)))
	s.RecordEvent(finished("TS-2", "C", "A", trade.StatusCancelled, base.Add(2*time.Minute)))
	s.RecordEvent(finished("TS-3", "C", "D", trade.StatusComplete, base.Add(3*time.Minute)))
	if err := s.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}

	all, err := s.Recent(ctx, "", 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(all) != 3 || all[0].SessionID != "TS-3" || all[2].SessionID != "TS-1" {
		t.Fatalf("recent order: %+v", all)
	}
	if len(all[2].OffersA) != 1 || all[2].OffersA[0] != "X-TS-1" || len(all[2].OffersB) != 0 {
		t.Fatalf("offers: %+v", all[2])
	}

	mine, err := s.Recent(ctx, "A", 10)
	if err != nil {
		t.Fatalf("recent A: %v", err)
	}
	if len(mine) != 2 || mine[0].Status != string(trade.StatusCancelled) {
		t.Fatalf("recent A: %+v", mine)
	}

	evs, err := s.SessionEvents(ctx, "TS-1")
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(evs) != 3 || evs[1].AssetID != "X-TS-1" || evs[2].Kind != string(trade.EventCompleted) {
		t.Fatalf("events: %+v", evs)
	}
}

func TestSQLiteIndex_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "trades.sqlite")
	s, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	s.RecordEvent(finished("TS-9", "A", "B", trade.StatusComplete, time.Now()))
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	s.RecordEvent(finished("TS-10", "A", "B", trade.StatusComplete, time.Now()))

	s, err = OpenSQLite(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	rows, err := s.Recent(ctx, "B", 0)
	if err != nil || len(rows) != 1 || rows[0].SessionID != "TS-9" {
		t.Fatalf("after reopen: %+v %v", rows, err)
	}
}

func TestSQLiteIndex_RecordEventRacesClose(t *testing.T) {
	for i := 0; i < 20; i++ {
		s, err := OpenSQLite(filepath.Join(t.TempDir(), "race.sqlite"))
		if err != nil {
			t.Fatalf("open: %v", err)
		}
		var wg sync.WaitGroup
		for w := 0; w < 4; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for n := 0; n < 50; n++ {
					s.RecordEvent(trade.Event{Kind: trade.EventOffered, SessionID: "TS-1"})
				}
			}()
		}
		if err := s.Close(); err != nil {
			t.Fatalf("close: %v", err)
		}
		wg.Wait()
		s.RecordEvent(trade.Event{Kind: trade.EventOffered, SessionID: "TS-1"})
		if err := s.Flush(context.Background()); err != nil {
			t.Fatalf("flush after close: %v", err)
		}
	}
}
