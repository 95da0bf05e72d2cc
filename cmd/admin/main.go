package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"tradepost.ai/internal/config"
)

type Commander interface {
	Command() *cli.Command
}

var commands = []Commander{
	Grant{},
	Assets{},
	Escrow{},
	Sessions{},
	History{},
	Events{},
	Audit{},
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		logrus.Fatal(err)
	}
}

func newApp() *cli.App {
	app := &cli.App{
		Name:  "tradepost-admin",
		Usage: "inspect and seed a tradepost data directory",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "data",
				Aliases: []string{"d"},
				Value:   config.Defaults().Storage.DataDir,
				EnvVars: []string{config.EnvPrefix + "STORAGE_DATA_DIR"},
				Usage:   "runtime data directory",
			},
		},
	}
	for _, c := range commands {
		app.Commands = append(app.Commands, c.Command())
	}
	return app
}

// storage resolves the data layout from the global --data flag.
func storage(c *cli.Context) config.StorageConfig {
	st := config.Defaults().Storage
	st.DataDir = c.String("data")
	return st
}

// pathOr returns the --db flag when set, else fallback.
func pathOr(c *cli.Context, fallback string) string {
	if p := c.String("db"); p != "" {
		return p
	}
	return fallback
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
