package main

import (
	"fmt"
	"log/slog"
	"os"
	"sort"

	"task-market/internal/config"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
)

const configKey = "config"

func main() {
	if err := newApp().Run(os.Args); err != nil {
		os.Exit(1)
	}
}

func newApp() *cli.App {
	app := &cli.App{
		Name:  "taskmarket",
		Usage: "staked task marketplace node",
		Commands: []*cli.Command{
			serveCommand(),
			migrateCommand(),
			fundCommand(),
			tokenCommand(),
		},
		Before: func(ctx *cli.Context) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return errors.Wrap(err, "could not load configuration")
			}
			if level := ctx.String("log-level"); level != "" {
				cfg.Log.Level = level
			}

			slog.SetDefault(newLogger(cfg))
			ctx.App.Metadata[configKey] = cfg
			return nil
		},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "override LOG_LEVEL (debug, info, warn, error)",
			},
			&cli.BoolFlag{
				Name:    "debug",
				EnvVars: []string{"TASKMARKET_DEBUG"},
				Usage:   "print error stack traces",
			},
		},
		Metadata: map[string]any{},
	}

	app.ExitErrHandler = func(ctx *cli.Context, err error) {
		if err == nil {
			return
		}
		if ctx.Bool("debug") {
			slog.ErrorContext(ctx.Context, fmt.Sprintf("%+v", err))
			return
		}
		slog.ErrorContext(ctx.Context, err.Error())
	}

	sort.Sort(cli.FlagsByName(app.Flags))
	sort.Sort(cli.CommandsByName(app.Commands))

	return app
}

func newLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	if cfg.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func configFrom(ctx *cli.Context) *config.Config {
	return ctx.App.Metadata[configKey].(*config.Config)
}
