package main

import (
	"encoding/hex"
	"fmt"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"tradepost.ai/internal/config"
	"tradepost.ai/internal/persistence/indexdb"
	"tradepost.ai/internal/persistence/kv"
	"tradepost.ai/internal/persistence/snapshot"
	"tradepost.ai/internal/trade"
)

type Sessions struct{}

func (Sessions) Command() *cli.Command {
	return &cli.Command{
		Name:  "sessions",
		Usage: "dump the persisted active sessions",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "store", Value: config.SessionsSnapshot, Usage: "snapshot or badger"},
			&cli.StringFlag{Name: "badger-key", EnvVars: []string{config.EnvPrefix + "STORAGE_BADGER_KEY"}, Usage: "hex encryption key"},
		},
		Action: func(c *cli.Context) error {
			recs, err := loadSessions(c)
			if err != nil {
				return err
			}
			if recs == nil {
				recs = []trade.Record{}
			}
			return printJSON(recs)
		},
	}
}

func loadSessions(c *cli.Context) ([]trade.Record, error) {
	st := storage(c)
	switch c.String("store") {
	case config.SessionsSnapshot:
		return snapshot.NewStore(st.SnapshotPath()).LoadSessions()
	case config.SessionsBadger:
		var key []byte
		if k := c.String("badger-key"); k != "" {
			b, err := hex.DecodeString(k)
			if err != nil {
				return nil, errors.Wrap(err, "badger-key must be hex")
			}
			key = b
		}
		db, err := kv.Open(kv.OpenOptions{Path: st.BadgerDir(), EncryptionKey: key})
		if err != nil {
			return nil, err
		}
		defer db.Close()
		return db.LoadSessions()
	}
	return nil, fmt.Errorf("unknown --store %q", c.String("store"))
}

func openHistory(c *cli.Context) (*indexdb.SQLiteIndex, error) {
	idx, err := indexdb.OpenSQLite(pathOr(c, storage(c).HistoryPath()))
	return idx, errors.Wrap(err, "open history")
}

type History struct{}

func (History) Command() *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "list recently finished trades",
		Flags: []cli.Flag{
			dbFlag,
			&cli.StringFlag{Name: "actor", Aliases: []string{"a"}, Usage: "only trades involving this actor"},
			&cli.IntFlag{Name: "limit", Aliases: []string{"n"}, Value: 20},
		},
		Action: func(c *cli.Context) error {
			if c.Int("limit") <= 0 {
				return errors.New("--limit must be > 0")
			}
			idx, err := openHistory(c)
			if err != nil {
				return err
			}
			defer idx.Close()
			rows, err := idx.Recent(c.Context, c.String("actor"), c.Int("limit"))
			if err != nil {
				return err
			}
			if rows == nil {
				rows = []indexdb.TradeRow{}
			}
			return printJSON(rows)
		},
	}
}

type Events struct{}

func (Events) Command() *cli.Command {
	return &cli.Command{
		Name:  "events",
		Usage: "list the indexed events of one session",
		Flags: []cli.Flag{
			dbFlag,
			&cli.StringFlag{Name: "session", Aliases: []string{"s"}, Required: true},
		},
		Action: func(c *cli.Context) error {
			idx, err := openHistory(c)
			if err != nil {
				return err
			}
			defer idx.Close()
			rows, err := idx.SessionEvents(c.Context, c.String("session"))
			if err != nil {
				return err
			}
			if rows == nil {
				rows = []indexdb.EventRow{}
			}
			return printJSON(rows)
		},
	}
}
