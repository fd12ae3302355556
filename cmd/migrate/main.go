package main

import (
	"context"
	"embed"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rinkside/rinkside/pkg/config"
	"github.com/rinkside/rinkside/pkg/migrate"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

func main() {
	_ = godotenv.Load()

	// Load configuration
	cfg := config.LoadFromEnv()
	cfg.Logging.SetupLogging()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newApp(cfg).RunContext(ctx, os.Args); err != nil {
		log.Fatal().Err(err).Msg("Migration failed")
	}
}

func newApp(cfg *config.Config) *cli.App {
	withMigrator := func(fn func(ctx context.Context, m *migrate.Migrator) error) cli.ActionFunc {
		return func(c *cli.Context) error {
			migrator, err := migrate.NewMigrator(c.Context, &cfg.Database, migrationsFS, "migrations")
			if err != nil {
				return err
			}
			defer migrator.Close()
			return fn(c.Context, migrator)
		}
	}

	return &cli.App{
		Name:  "migrate",
		Usage: "manage the video catalog schema",
		Commands: []*cli.Command{
			{
				Name:  "up",
				Usage: "run pending migrations",
				Action: withMigrator(func(ctx context.Context, m *migrate.Migrator) error {
					n, err := m.Up(ctx)
					if err != nil {
						return err
					}
					log.Info().Int("applied", n).Msg("Migrations completed successfully")
					return nil
				}),
			},
			{
				Name:  "down",
				Usage: "roll back the last migration",
				Action: withMigrator(func(ctx context.Context, m *migrate.Migrator) error {
					if err := m.Down(ctx); err != nil {
						return err
					}
					log.Info().Msg("Rollback completed successfully")
					return nil
				}),
			},
			{
				Name:  "status",
				Usage: "list migrations and whether they are applied",
				Action: withMigrator(func(ctx context.Context, m *migrate.Migrator) error {
					statuses, err := m.Status(ctx)
					if err != nil {
						return err
					}
					for _, s := range statuses {
						state := "pending"
						if s.Applied {
							state = "applied"
						}
						fmt.Printf("%03d  %-30s %s\n", s.Version, s.Name, state)
					}
					return nil
				}),
			},
		},
	}
}
