package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/codexcms/codex"
)

func main() {
	app := &cli.App{
		Name:  "codex-migrate",
		Usage: "run pending codex schema migrations",
		Commands: []*cli.Command{
			{
				Name:  "up",
				Usage: "apply every pending migration file",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "dir",
						Value: "migrations",
						Usage: "directory of ordered .sql migration files",
					},
					&cli.StringFlag{
						Name:  "config",
						Usage: "optional config file; CODEX_* env vars apply either way",
					},
				},
				Action: runUp,
			},
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "codex-migrate:", err)
		os.Exit(1)
	}
}

func runUp(cctx *cli.Context) error {
	log, err := zap.NewProduction()
	if err != nil {
		return err
	}
	defer log.Sync() //nolint:errcheck

	cfg, err := codex.LoadConfig(cctx.String("config"))
	if err != nil {
		return err
	}

	ctx := context.Background()
	db, err := codex.Connect(ctx, cfg, codex.WithLogger(log))
	if err != nil {
		return err
	}
	defer db.Close()

	return db.Migrate(ctx, os.DirFS(cctx.String("dir")))
}
