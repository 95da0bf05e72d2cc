package main

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"tradepost.ai/internal/inventory"
	"tradepost.ai/internal/inventory/sqlitestore"
)

var dbFlag = &cli.StringFlag{Name: "db", Usage: "sqlite path (default derived from --data)"}

func openInventory(c *cli.Context) (*sqlitestore.Store, error) {
	st, err := sqlitestore.Open(pathOr(c, storage(c).InventoryPath()))
	return st, errors.Wrap(err, "open inventory")
}

type Grant struct{}

func (Grant) Command() *cli.Command {
	return &cli.Command{
		Name:  "grant",
		Usage: "create an asset owned by an actor",
		Flags: []cli.Flag{
			dbFlag,
			&cli.StringFlag{Name: "actor", Aliases: []string{"a"}, Required: true},
			&cli.StringFlag{Name: "name", Aliases: []string{"n"}},
			&cli.StringFlag{Name: "id", Usage: "asset id (generated when empty)"},
			&cli.StringSliceFlag{Name: "meta", Aliases: []string{"m"}, Usage: "key=value, repeatable"},
		},
		Action: func(c *cli.Context) error {
			meta, err := parseMeta(c.StringSlice("meta"))
			if err != nil {
				return err
			}
			st, err := openInventory(c)
			if err != nil {
				return err
			}
			defer st.Close()
			a, err := st.Grant(c.Context, c.String("actor"), inventory.Asset{
				ID:   c.String("id"),
				Name: c.String("name"),
				Meta: meta,
			})
			if err != nil {
				return err
			}
			return printJSON(a)
		},
	}
}

type Assets struct{}

func (Assets) Command() *cli.Command {
	return &cli.Command{
		Name:  "assets",
		Usage: "list the assets an actor owns",
		Flags: []cli.Flag{
			dbFlag,
			&cli.StringFlag{Name: "actor", Aliases: []string{"a"}, Required: true},
		},
		Action: func(c *cli.Context) error {
			st, err := openInventory(c)
			if err != nil {
				return err
			}
			defer st.Close()
			assets, err := st.ListOwned(c.Context, c.String("actor"))
			if err != nil {
				return err
			}
			if assets == nil {
				assets = []inventory.Asset{}
			}
			return printJSON(assets)
		},
	}
}

type Escrow struct{}

func (Escrow) Command() *cli.Command {
	return &cli.Command{
		Name:  "escrow",
		Usage: "list assets locked by a trade session",
		Flags: []cli.Flag{
			dbFlag,
			&cli.StringFlag{Name: "session", Aliases: []string{"s"}, Required: true},
		},
		Action: func(c *cli.Context) error {
			st, err := openInventory(c)
			if err != nil {
				return err
			}
			defer st.Close()
			locked, err := st.Locked(c.Context, c.String("session"))
			if err != nil {
				return err
			}
			if locked == nil {
				locked = []inventory.Asset{}
			}
			return printJSON(locked)
		},
	}
}

func parseMeta(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, errors.Errorf("bad --meta %q, want key=value", p)
		}
		out[k] = v
	}
	return out, nil
}
