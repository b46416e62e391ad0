package main

import (
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"task-market/internal/models"
	"task-market/internal/server"
	"task-market/internal/services"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
)

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "run the HTTP API and the event worker",
		Action: func(ctx *cli.Context) error {
			cfg := configFrom(ctx)

			runCtx, stop := signal.NotifyContext(ctx.Context, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			deps, err := server.Open(runCtx, cfg)
			if err != nil {
				return errors.WithStack(err)
			}
			app, err := server.New(runCtx, cfg, deps, slog.Default())
			if err != nil {
				return errors.WithStack(err)
			}
			defer app.Close()

			slog.Info("starting task market",
				slog.String("environment", cfg.Server.Environment),
				slog.String("database", cfg.Database.Driver),
				slog.Bool("redis", deps.Redis != nil),
			)
			return errors.WithStack(app.Run(runCtx))
		},
	}
}

// openWithoutRedis builds an app for one-shot administrative commands.
func openWithoutRedis(ctx *cli.Context) (*server.App, error) {
	cfg := *configFrom(ctx)
	cfg.Redis.Enabled = false

	deps, err := server.Open(ctx.Context, &cfg)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	app, err := server.New(ctx.Context, &cfg, deps, slog.Default())
	if err != nil {
		deps.DB.Close()
		return nil, errors.WithStack(err)
	}
	return app, nil
}

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "create or update the database schema",
		Action: func(ctx *cli.Context) error {
			app, err := openWithoutRedis(ctx)
			if err != nil {
				return err
			}
			defer app.Close()

			height, err := app.Store.Height(ctx.Context)
			if err != nil {
				return errors.WithStack(err)
			}
			slog.Info("schema up to date", slog.Uint64("height", height))
			return nil
		},
	}
}

func fundCommand() *cli.Command {
	return &cli.Command{
		Name:  "fund",
		Usage: "credit free balance to an account",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "account", Aliases: []string{"a"}, Required: true},
			&cli.StringFlag{Name: "amount", Aliases: []string{"n"}, Required: true},
		},
		Action: func(ctx *cli.Context) error {
			amount, err := models.ParseU128(ctx.String("amount"))
			if err != nil {
				return errors.Wrap(err, "invalid amount")
			}

			app, err := openWithoutRedis(ctx)
			if err != nil {
				return err
			}
			defer app.Close()

			balance, err := app.Core.Fund(ctx.Context, models.AccountID(ctx.String("account")), amount)
			if err != nil {
				return errors.WithStack(err)
			}
			fmt.Fprintf(ctx.App.Writer, "%s free=%s reserved=%s\n", balance.Account, balance.Free, balance.Reserved)
			return nil
		},
	}
}

func tokenCommand() *cli.Command {
	return &cli.Command{
		Name:  "token",
		Usage: "mint an access token for development",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "account", Aliases: []string{"a"}, Required: true},
		},
		Action: func(ctx *cli.Context) error {
			cfg := configFrom(ctx)
			if cfg.IsProduction() {
				return errors.New("refusing to mint tokens in production")
			}

			tokens := services.NewTokens(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTL)
			token, expiresAt, err := tokens.Issue(models.AccountID(ctx.String("account")))
			if err != nil {
				return errors.WithStack(err)
			}
			fmt.Fprintln(ctx.App.Writer, token)
			slog.Debug("token minted", slog.Time("expires_at", expiresAt))
			return nil
		},
	}
}
