package main

import (
	"encoding/hex"
	"fmt"
	"os"

	"github.com/pkg/errors"

	"tradepost.ai/internal/config"
	"tradepost.ai/internal/inventory"
	"tradepost.ai/internal/inventory/sqlitestore"
	"tradepost.ai/internal/persistence/indexdb"
	"tradepost.ai/internal/persistence/kv"
	persistlog "tradepost.ai/internal/persistence/log"
	"tradepost.ai/internal/persistence/snapshot"
	"tradepost.ai/internal/trade"
)

// runtime holds the storage backends selected by the configuration.
type runtime struct {
	gateway  inventory.Gateway
	sessions trade.SessionStore
	history  *indexdb.SQLiteIndex
	audit    *persistlog.AuditLogger

	closers []func() error
}

func openRuntime(cfg config.Config) (*runtime, error) {
	if err := os.MkdirAll(cfg.Storage.DataDir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create data dir")
	}
	rt := &runtime{}
	if err := rt.open(cfg); err != nil {
		rt.Close()
		return nil, err
	}
	return rt, nil
}

func (rt *runtime) open(cfg config.Config) error {
	var gw inventory.Gateway
	switch cfg.Storage.Inventory {
	case config.InventoryMemory:
		gw = inventory.NewMemory()
		log.Warn("inventory is in-memory; assets vanish on restart")
	default:
		st, err := sqlitestore.Open(cfg.Storage.InventoryPath())
		if err != nil {
			return errors.Wrap(err, "open inventory")
		}
		rt.closers = append(rt.closers, st.Close)
		gw = st
	}
	rt.gateway = inventory.WithTimeout(gw, cfg.Trade.GatewayTimeout)

	switch cfg.Storage.Sessions {
	case config.SessionsSnapshot:
		rt.sessions = snapshot.NewStore(cfg.Storage.SnapshotPath())
	case config.SessionsBadger:
		key, err := badgerKey(cfg.Storage.BadgerKey)
		if err != nil {
			return err
		}
		st, err := kv.Open(kv.OpenOptions{Path: cfg.Storage.BadgerDir(), EncryptionKey: key})
		if err != nil {
			return errors.Wrap(err, "open session store")
		}
		rt.closers = append(rt.closers, st.Close)
		rt.sessions = st
	case config.SessionsNone:
		log.Warn("session persistence disabled")
	}

	rt.audit = persistlog.NewAuditLogger(cfg.Storage.DataDir)
	rt.closers = append(rt.closers, rt.audit.Close)

	if cfg.Storage.History {
		idx, err := indexdb.OpenSQLite(cfg.Storage.HistoryPath())
		if err != nil {
			return errors.Wrap(err, "open history index")
		}
		rt.closers = append(rt.closers, idx.Close)
		rt.history = idx
	}
	return nil
}

func (rt *runtime) recorders() trade.Recorder {
	rs := trade.Recorders{rt.audit}
	if rt.history != nil {
		rs = append(rs, rt.history)
	}
	return rs
}

// Close releases backends in reverse order of opening.
func (rt *runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			log.WithError(err).Warn("close backend")
		}
	}
	rt.closers = nil
}

func badgerKey(s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	key, err := hex.DecodeString(s)
	if err != nil {
		return nil, errors.Wrap(err, "storage.badger_key must be hex")
	}
	switch len(key) {
	case 16, 24, 32:
		return key, nil
	}
	return nil, fmt.Errorf("storage.badger_key must decode to 16, 24 or 32 bytes, got %d", len(key))
}
