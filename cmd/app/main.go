// Package main provides the entry point for the application with CLI commands.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/allisson/bearertoken/cmd/app/commands"
	"github.com/allisson/bearertoken/internal/app"
	"github.com/allisson/bearertoken/internal/config"
	keyringService "github.com/allisson/bearertoken/internal/keyring/service"
)

const version = "1.0.0"

func main() {
	cmd := &cli.Command{
		Name:    "bearertoken",
		Usage:   "Bearer token issuance, validation, refresh, and invalidation service",
		Version: version,
		Commands: []*cli.Command{
			{
				Name:  "server",
				Usage: "Start the HTTP server",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return commands.RunServer(ctx, version)
				},
			},
			{
				Name:  "migrate",
				Usage: "Run database migrations",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return commands.RunMigrations()
				},
			},
			{
				Name:  "generate-spare-key",
				Usage: "Report key metadata with a spare signing key added; the metadata is not submitted",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return withKeyManager(ctx, func(km *keyringService.KeyManager, logger *slog.Logger) error {
						return commands.RunGenerateSpareKey(ctx, km, logger, commands.DefaultIO().Writer)
					})
				},
			},
			{
				Name:  "rotate-key",
				Usage: "Promote the spare signing key to active",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return withKeyManager(ctx, func(km *keyringService.KeyManager, logger *slog.Logger) error {
						return commands.RunRotateKey(ctx, km, logger, commands.DefaultIO().Writer)
					})
				},
			},
			{
				Name:  "prune-keys",
				Usage: "Report key metadata keeping the n most recently created keys plus the active key; the metadata is not submitted",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:     "keep",
						Aliases:  []string{"n"},
						Required: true,
						Usage:    "Number of most recent keys to keep",
					},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return withKeyManager(ctx, func(km *keyringService.KeyManager, logger *slog.Logger) error {
						return commands.RunPruneKeys(ctx, km, logger, commands.DefaultIO().Writer, int(cmd.Int("keep")))
					})
				},
			},
			{
				Name:  "seed-key-metadata",
				Usage: "Publish this node's key ring to the cluster coordination channel",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return withKeyManager(ctx, func(km *keyringService.KeyManager, logger *slog.Logger) error {
						return commands.RunSeedKeyMetadata(ctx, km, logger, commands.DefaultIO().Writer)
					})
				},
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.Any("error", err))
		os.Exit(1)
	}
}

// withKeyManager builds a DI container just long enough to run a
// key-rotation command against its KeyManager, then shuts it down.
func withKeyManager(ctx context.Context, fn func(*keyringService.KeyManager, *slog.Logger) error) error {
	cfg := config.Load()
	container := app.NewContainer(ctx, cfg)
	defer func() { _ = container.Shutdown(ctx) }()

	km, err := container.KeyManager()
	if err != nil {
		return err
	}

	return fn(km, container.Logger())
}
