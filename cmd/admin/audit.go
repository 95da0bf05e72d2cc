package main

import (
	"github.com/urfave/cli/v2"

	persistlog "tradepost.ai/internal/persistence/log"
	"tradepost.ai/internal/trade"
)

type Audit struct{}

func (Audit) Command() *cli.Command {
	return &cli.Command{
		Name:  "audit",
		Usage: "replay the audit trail, optionally for one session",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "session", Aliases: []string{"s"}},
			&cli.IntFlag{Name: "limit", Aliases: []string{"n"}, Usage: "stop after this many events (0 = all)"},
		},
		Action: func(c *cli.Context) error {
			limit := c.Int("limit")
			out := []trade.Event{}
			err := persistlog.ReadAudit(storage(c).DataDir, c.String("session"), func(ev trade.Event) bool {
				out = append(out, ev)
				return limit <= 0 || len(out) < limit
			})
			if err != nil {
				return err
			}
			return printJSON(out)
		},
	}
}
