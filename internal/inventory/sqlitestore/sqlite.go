// Package sqlitestore is the durable inventory gateway. Each asset row carries its
// own lock token, so escrow survives a restart without any session-side state.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	"tradepost.ai/internal/inventory"
)

type Store struct {
	db *sql.DB
}

var (
	_ inventory.Gateway   = (*Store)(nil)
	_ inventory.Exchanger = (*Store)(nil)
	_ inventory.Granter   = (*Store)(nil)
)

func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlitestore: empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(err, "sqlitestore: mkdir")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "sqlitestore: open")
	}
	// One connection serializes writers; Lock relies on that plus its guarded UPDATE.
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
	return &Store{db: db}, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=FULL;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return errors.Wrapf(err, "sqlitestore: %s", p)
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS assets (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			owner TEXT NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			meta_json TEXT NOT NULL DEFAULT '{}',
			lock_token TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE INDEX IF NOT EXISTS idx_assets_owner ON assets(owner, seq);`,
		`CREATE INDEX IF NOT EXISTS idx_assets_lock ON assets(lock_token);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return errors.Wrap(err, "sqlitestore: schema")
		}
	}
	return nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Grant(ctx context.Context, actorID string, a inventory.Asset) (inventory.Asset, error) {
	actorID = strings.TrimSpace(actorID)
	if actorID == "" {
		return inventory.Asset{}, errors.New("sqlitestore: grant: empty actor")
	}
	if a.ID == "" {
		a.ID = inventory.NewAssetID()
	}
	meta, err := json.Marshal(a.Meta)
	if err != nil {
		return inventory.Asset{}, errors.Wrap(err, "sqlitestore: encode meta")
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO assets(id,owner,name,meta_json,lock_token) VALUES(?,?,?,?,'')`,
		a.ID, actorID, a.Name, string(meta),
	); err != nil {
		return inventory.Asset{}, errors.Wrapf(err, "sqlitestore: grant %s", a.ID)
	}
	a.Owner = actorID
	a.LockToken = ""
	return a, nil
}

func (s *Store) ListOwned(ctx context.Context, actorID string) ([]inventory.Asset, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id,owner,name,meta_json,lock_token FROM assets WHERE owner=? ORDER BY seq`, actorID)
	if err != nil {
		return nil, errors.Wrap(err, "sqlitestore: list owned")
	}
	defer rows.Close()
	var out []inventory.Asset
	for rows.Next() {
		var (
			a    inventory.Asset
			meta string
		)
		if err := rows.Scan(&a.ID, &a.Owner, &a.Name, &meta, &a.LockToken); err != nil {
			return nil, errors.Wrap(err, "sqlitestore: scan asset")
		}
		if meta != "" && meta != "{}" && meta != "null" {
			if err := json.Unmarshal([]byte(meta), &a.Meta); err != nil {
				return nil, errors.Wrapf(err, "sqlitestore: decode meta of %s", a.ID)
			}
		}
		out = append(out, a)
	}
	return out, errors.Wrap(rows.Err(), "sqlitestore: list owned")
}

func (s *Store) Lock(ctx context.Context, actorID, assetID, sessionID string) error {
	if sessionID == "" {
		return errors.New("sqlitestore: lock: empty session")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE assets SET lock_token=? WHERE id=? AND owner=? AND (lock_token='' OR lock_token=?)`,
		sessionID, assetID, actorID, sessionID)
	if err != nil {
		return errors.Wrapf(err, "sqlitestore: lock %s", assetID)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}
	owner, token, err := s.assetState(ctx, s.db, assetID)
	if err != nil {
		return err
	}
	if owner != actorID {
		return errors.Wrap(inventory.ErrNotOwned, assetID)
	}
	if token != "" && token != sessionID {
		return errors.Wrap(inventory.ErrAlreadyLocked, assetID)
	}
	return errors.Errorf("sqlitestore: lock %s: no row updated", assetID)
}

func (s *Store) UnlockAll(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `UPDATE assets SET lock_token='' WHERE lock_token=?`, sessionID)
	return errors.Wrapf(err, "sqlitestore: unlock %s", sessionID)
}

func (s *Store) Transfer(ctx context.Context, fromID, toID string, assetIDs []string, sessionID string) error {
	return s.Exchange(ctx, sessionID, []inventory.Leg{{From: fromID, To: toID, AssetIDs: assetIDs}})
}

// Exchange applies every leg inside one transaction.
func (s *Store) Exchange(ctx context.Context, sessionID string, legs []inventory.Leg) error {
	if sessionID == "" {
		return errors.Wrap(inventory.ErrNotLocked, "empty session")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "sqlitestore: begin exchange")
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`UPDATE assets SET owner=?, lock_token='' WHERE id=? AND owner=? AND lock_token=?`)
	if err != nil {
		return errors.Wrap(err, "sqlitestore: prepare exchange")
	}
	defer stmt.Close()

	for _, l := range legs {
		for _, id := range l.AssetIDs {
			res, err := stmt.ExecContext(ctx, l.To, id, l.From, sessionID)
			if err != nil {
				return errors.Wrapf(err, "sqlitestore: move %s", id)
			}
			if n, _ := res.RowsAffected(); n == 1 {
				continue
			}
			owner, _, err := s.assetState(ctx, tx, id)
			if err != nil {
				return err
			}
			if owner != l.From {
				return errors.Wrap(inventory.ErrNotOwned, id)
			}
			return errors.Wrap(inventory.ErrNotLocked, id)
		}
	}
	return errors.Wrap(tx.Commit(), "sqlitestore: commit exchange")
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) assetState(ctx context.Context, q queryer, assetID string) (owner, token string, err error) {
	err = q.QueryRowContext(ctx, `SELECT owner,lock_token FROM assets WHERE id=?`, assetID).Scan(&owner, &token)
	if errors.Is(err, sql.ErrNoRows) {
		return "", "", errors.Wrap(inventory.ErrUnknownAsset, assetID)
	}
	if err != nil {
		return "", "", errors.Wrapf(err, "sqlitestore: read %s", assetID)
	}
	return owner, token, nil
}

// Locked lists every asset currently escrowed under sessionID.
func (s *Store) Locked(ctx context.Context, sessionID string) ([]inventory.Asset, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id,owner,name,lock_token FROM assets WHERE lock_token=? ORDER BY seq`, sessionID)
	if err != nil {
		return nil, errors.Wrap(err, "sqlitestore: locked")
	}
	defer rows.Close()
	var out []inventory.Asset
	for rows.Next() {
		var a inventory.Asset
		if err := rows.Scan(&a.ID, &a.Owner, &a.Name, &a.LockToken); err != nil {
			return nil, errors.Wrap(err, "sqlitestore: scan locked")
		}
		out = append(out, a)
	}
	return out, errors.Wrap(rows.Err(), "sqlitestore: locked")
}
