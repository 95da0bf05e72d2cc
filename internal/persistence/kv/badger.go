// Package kv keeps active trade sessions in Badger, one key per session.
package kv

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	badger "github.com/dgraph-io/badger/v4"

	"tradepost.ai/internal/trade"
)

const sessionPrefix = "session/"

// Store is a trade.SessionStore on an embedded Badger database.
type Store struct {
	db *badger.DB
}

type OpenOptions struct {
	Path string
	// EncryptionKey must be 16, 24 or 32 bytes; nil opens without encryption.
	EncryptionKey []byte
	InMemory      bool
}

func Open(opts OpenOptions) (*Store, error) {
	if !opts.InMemory && strings.TrimSpace(opts.Path) == "" {
		return nil, errors.New("kv: path is required")
	}
	bopts := badger.DefaultOptions(opts.Path).
		WithLogger(nil).
		WithInMemory(opts.InMemory)
	if opts.InMemory {
		bopts = bopts.WithDir("").WithValueDir("")
	}
	if len(opts.EncryptionKey) > 0 {
		bopts = bopts.
			WithEncryptionKey(opts.EncryptionKey).
			WithIndexCacheSize(16 << 20)
	}
	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("kv: open %s: %w", opts.Path, err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func sessionKey(id string) []byte { return []byte(sessionPrefix + id) }

// SaveSessions replaces the stored set in a single transaction.
func (s *Store) SaveSessions(recs []trade.Record) error {
	keep := make(map[string]bool, len(recs))
	return s.db.Update(func(txn *badger.Txn) error {
		for _, rec := range recs {
			b, err := json.Marshal(rec)
			if err != nil {
				return fmt.Errorf("kv: encode %s: %w", rec.ID, err)
			}
			if err := txn.Set(sessionKey(rec.ID), b); err != nil {
				return err
			}
			keep[string(sessionKey(rec.ID))] = true
		}

		var stale [][]byte
		it := txn.NewIterator(badger.IteratorOptions{Prefix: []byte(sessionPrefix)})
		for it.Rewind(); it.Valid(); it.Next() {
			k := it.Item().KeyCopy(nil)
			if !keep[string(k)] {
				stale = append(stale, k)
			}
		}
		it.Close()
		for _, k := range stale {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) LoadSessions() ([]trade.Record, error) {
	var out []trade.Record
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(sessionPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			var rec trade.Record
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return fmt.Errorf("kv: decode %s: %w", item.Key(), err)
			}
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Get returns one stored session record.
func (s *Store) Get(id string) (trade.Record, bool, error) {
	var rec trade.Record
	found := false
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(sessionKey(id))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		}
		found = true
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})
	return rec, found, err
}
