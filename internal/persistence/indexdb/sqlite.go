// Package indexdb is a queryable SQLite index of trade history. The audit JSONL
// files stay the source of truth; the index may drop writes under pressure.
package indexdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"tradepost.ai/internal/trade"
)

var log = logrus.WithField("component", "indexdb")

// tsLayout is fixed-width so text columns sort chronologically.
const tsLayout = "2006-01-02T15:04:05.000000000Z07:00"

type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	// sendMu orders sends on ch against close(ch).
	sendMu sync.RWMutex
	closed atomic.Bool

	dropEvents atomic.Uint64
}

type reqKind int

const (
	reqEvent reqKind = iota + 1
	reqFlush
)

type req struct {
	kind  reqKind
	event trade.Event
	ack   chan struct{}
}

// Stats reports queue pressure on the async writer.
type Stats struct {
	QueueDepth     int    `json:"queue_depth"`
	QueueCapacity  int    `json:"queue_capacity"`
	DropEventTotal uint64 `json:"drop_event_total"`
}

// TradeRow is one finished trade.
type TradeRow struct {
	SessionID string    `json:"session_id"`
	Status    string    `json:"status"`
	ActorA    string    `json:"actor_a"`
	ActorB    string    `json:"actor_b"`
	OffersA   []string  `json:"offers_a"`
	OffersB   []string  `json:"offers_b"`
	CreatedAt time.Time `json:"created_at"`
	ClosedAt  time.Time `json:"closed_at"`
}

// EventRow is one indexed event.
type EventRow struct {
	Seq       int64     `json:"seq"`
	Time      time.Time `json:"time"`
	Kind      string    `json:"kind"`
	SessionID string    `json:"session_id"`
	Actor     string    `json:"actor,omitempty"`
	AssetID   string    `json:"asset_id,omitempty"`
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	return openSQLite(path, 8192)
}

func openSQLite(path string, queue int) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		ch: make(chan req, queue),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS events (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			ts TEXT NOT NULL,
			kind TEXT NOT NULL,
			session_id TEXT NOT NULL,
			actor TEXT NOT NULL,
			asset_id TEXT NOT NULL,
			status TEXT NOT NULL,
			error TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_events_session ON events(session_id, seq);`,
		`CREATE TABLE IF NOT EXISTS trades (
			session_id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			actor_a TEXT NOT NULL,
			actor_b TEXT NOT NULL,
			offers_a TEXT NOT NULL,
			offers_b TEXT NOT NULL,
			created_at TEXT NOT NULL,
			closed_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_trades_closed ON trades(closed_at);`,
		`CREATE INDEX IF NOT EXISTS idx_trades_actor_a ON trades(actor_a);`,
		`CREATE INDEX IF NOT EXISTS idx_trades_actor_b ON trades(actor_b);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.sendMu.Lock()
		s.closed.Store(true)
		close(s.ch)
		s.sendMu.Unlock()
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

// RecordEvent queues ev for indexing. It never blocks: when the writer falls
// behind the event is dropped and counted.
func (s *SQLiteIndex) RecordEvent(ev trade.Event) {
	if s == nil {
		return
	}
	s.sendMu.RLock()
	defer s.sendMu.RUnlock()
	if s.closed.Load() {
		return
	}
	select {
	case s.ch <- req{kind: reqEvent, event: ev}:
	default:
		s.dropEvents.Add(1)
	}
}

// Flush waits until everything queued so far is committed.
func (s *SQLiteIndex) Flush(ctx context.Context) error {
	if s == nil {
		return nil
	}
	ack := make(chan struct{})
	s.sendMu.RLock()
	if s.closed.Load() {
		s.sendMu.RUnlock()
		return nil
	}
	select {
	case s.ch <- req{kind: reqFlush, ack: ack}:
	case <-ctx.Done():
		s.sendMu.RUnlock()
		return ctx.Err()
	}
	s.sendMu.RUnlock()
	select {
	case <-ack:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:     len(s.ch),
		QueueCapacity:  cap(s.ch),
		DropEventTotal: s.dropEvents.Load(),
	}
}

// Recent returns finished trades, newest first. actor filters to trades that
// involve that actor when non-empty.
func (s *SQLiteIndex) Recent(ctx context.Context, actor string, limit int) ([]TradeRow, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	q := `SELECT session_id,status,actor_a,actor_b,offers_a,offers_b,created_at,closed_at FROM trades`
	args := []any{}
	if actor != "" {
		q += ` WHERE actor_a=? OR actor_b=?`
		args = append(args, actor, actor)
	}
	q += ` ORDER BY closed_at DESC, session_id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []TradeRow
	for rows.Next() {
		var (
			r                  TradeRow
			offA, offB         string
			created, closedStr string
		)
		if err := rows.Scan(&r.SessionID, &r.Status, &r.ActorA, &r.ActorB, &offA, &offB, &created, &closedStr); err != nil {
			return nil, err
		}
		_ = json.Unmarshal([]byte(offA), &r.OffersA)
		_ = json.Unmarshal([]byte(offB), &r.OffersB)
		r.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		r.ClosedAt, _ = time.Parse(time.RFC3339Nano, closedStr)
		out = append(out, r)
	}
	return out, rows.Err()
}

// SessionEvents returns the indexed events of one session in order.
func (s *SQLiteIndex) SessionEvents(ctx context.Context, sessionID string) ([]EventRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq,ts,kind,session_id,actor,asset_id,status,error FROM events WHERE session_id=? ORDER BY seq`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []EventRow
	for rows.Next() {
		var (
			r  EventRow
			ts string
		)
		if err := rows.Scan(&r.Seq, &ts, &r.Kind, &r.SessionID, &r.Actor, &r.AssetID, &r.Status, &r.Error); err != nil {
			return nil, err
		}
		r.Time, _ = time.Parse(time.RFC3339Nano, ts)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertEvent, err := s.db.Prepare(`INSERT INTO events(ts,kind,session_id,actor,asset_id,status,error) VALUES(?,?,?,?,?,?,?)`)
	if err != nil {
		log.WithError(err).Error("prepare event insert")
	}
	insertTrade, err := s.db.Prepare(`INSERT OR REPLACE INTO trades(session_id,status,actor_a,actor_b,offers_a,offers_b,created_at,closed_at) VALUES(?,?,?,?,?,?,?,?)`)
	if err != nil {
		log.WithError(err).Error("prepare trade insert")
	}
	defer func() {
		if insertEvent != nil {
			_ = insertEvent.Close()
		}
		if insertTrade != nil {
			_ = insertTrade.Close()
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 500
		commitMaxWait = time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			log.WithError(err).Warn("begin tx")
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		if err := tx.Commit(); err != nil {
			log.WithError(err).Warn("commit")
		}
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}

	ticker := time.NewTicker(commitMaxWait)
	defer ticker.Stop()

	for {
		var r req
		var ok bool
		select {
		case r, ok = <-s.ch:
			if !ok {
				commit()
				return
			}
		case <-ticker.C:
			commit()
			continue
		}

		if r.kind == reqFlush {
			commit()
			close(r.ack)
			continue
		}

		begin()
		if tx == nil {
			continue
		}
		ev := r.event
		if insertEvent != nil {
			if _, err := tx.Stmt(insertEvent).Exec(
				ev.Time.UTC().Format(tsLayout),
				string(ev.Kind),
				ev.SessionID,
				ev.Actor,
				ev.AssetID,
				string(ev.Status),
				ev.Error,
			); err != nil {
				log.WithError(err).Warn("insert event")
				rollback()
				continue
			}
			opCount++
		}
		if rec := ev.Record; rec != nil && rec.Status.Terminal() && insertTrade != nil {
			offA, _ := json.Marshal(nonNil(rec.A.Offers))
			offB, _ := json.Marshal(nonNil(rec.B.Offers))
			if _, err := tx.Stmt(insertTrade).Exec(
				rec.ID,
				string(rec.Status),
				rec.A.Actor,
				rec.B.Actor,
				string(offA),
				string(offB),
				rec.CreatedAt.UTC().Format(tsLayout),
				ev.Time.UTC().Format(tsLayout),
			); err != nil {
				log.WithError(err).Warn("insert trade")
				rollback()
				continue
			}
			opCount++
		}
		if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait {
			commit()
		}
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
