// Package main is the entrypoint for streamcall.
package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/morezero/streamcall/internal/config"
	"github.com/morezero/streamcall/internal/server"
	"github.com/morezero/streamcall/pkg/db"
)

const usage = `Usage: streamcall [command]
       streamcall serve                Start the server (bus, namespaces, HTTP API).
       streamcall worker <res>         Run one offloaded stream, handshaking on topic res.
       streamcall migrate up           Run hand-off store migrations.
       streamcall migrate status       Show migration status.
       streamcall clear                Truncate the hand-off table; schema is preserved.
       streamcall purge                Delete expired hand-off frames.
       streamcall describe [prefix...] Print the callable paths of each namespace as JSON.

Commands:
  serve           (default) Start streamcall.
  worker <res>    Started by the offloader; not meant to be run by hand.
  migrate up      Run database migrations only.
  migrate status  Show current migration status.
  clear           Truncate hand-off data.
  purge           Remove hand-off frames past their TTL.
  describe        Load the bootstrap namespaces without serving them.

Environment: BOOTSTRAP_FILE, BUS_URL, BUS_EMBEDDED, HTTP_ADDR (default 0.0.0.0:8080),
OFFLOAD, HANDOFF_STORE (memory, postgres, s3), DATABASE_URL, MIGRATION_PATH. See README.
`

func main() {
	args := os.Args[1:]
	cmd := ""
	if len(args) > 0 && args[0] != "" {
		cmd = args[0]
	}

	switch cmd {
	case "worker":
		if len(args) < 2 || args[1] == "" {
			log.Fatalf("streamcall worker: require the handshake topic")
		}
		if err := server.RunWorker(args[1]); err != nil {
			log.Fatalf("streamcall worker: %v", err)
		}
		return
	case "migrate":
		if len(args) < 2 {
			log.Fatalf("streamcall migrate: require subcommand (up, status)")
		}
		sub := args[1]
		switch sub {
		case "up":
			if err := runMigrateUp(); err != nil {
				log.Fatalf("streamcall migrate up: %v", err)
			}
		case "status":
			if err := runMigrateStatus(); err != nil {
				log.Fatalf("streamcall migrate status: %v", err)
			}
		default:
			log.Fatalf("streamcall migrate: unknown subcommand %q (use up, status)", sub)
		}
		return
	case "clear":
		if err := runClear(); err != nil {
			log.Fatalf("streamcall clear: %v", err)
		}
		return
	case "purge":
		if err := runPurge(); err != nil {
			log.Fatalf("streamcall purge: %v", err)
		}
		return
	case "describe":
		if err := runDescribe(args[1:]); err != nil {
			log.Fatalf("streamcall describe: %v", err)
		}
		return
	case "help", "-h", "--help":
		fmt.Print(usage)
		return
	case "serve", "":
		// serve (explicit or default)
		break
	default:
		fmt.Fprintf(os.Stderr, "Unknown command %q.\n%s", cmd, usage)
		os.Exit(1)
	}

	if err := server.Run(); err != nil {
		log.Fatalf("streamcall: %v", err)
	}
}

// withPool connects to DATABASE_URL and runs fn.
func withPool(fn func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.ValidateForDB(); err != nil {
		return err
	}
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	return fn(ctx, cfg, pool)
}

func runMigrateUp() error {
	return withPool(func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error {
		migrationSQL, err := db.LoadMigrationFiles(cfg.MigrationPath)
		if err != nil {
			return fmt.Errorf("load migrations: %w", err)
		}
		if err := db.RunMigrations(ctx, pool, migrationSQL); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
		return nil
	})
}

func runMigrateStatus() error {
	return withPool(func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error {
		st, err := db.MigrationStatus(ctx, pool, cfg.MigrationPath)
		if err != nil {
			return err
		}
		fmt.Println(st)
		return nil
	})
}

func runClear() error {
	return withPool(func(ctx context.Context, _ *config.Config, pool *pgxpool.Pool) error {
		if err := db.ClearHandoffs(ctx, pool); err != nil {
			return fmt.Errorf("clear handoffs: %w", err)
		}
		return nil
	})
}

func runPurge() error {
	return withPool(func(ctx context.Context, _ *config.Config, pool *pgxpool.Pool) error {
		n, err := db.NewRepository(pool).PurgeHandoffs(ctx)
		if err != nil {
			return fmt.Errorf("purge handoffs: %w", err)
		}
		fmt.Printf("Purged %d expired hand-off frames.\n", n)
		return nil
	})
}

func runDescribe(prefixes []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	return server.Describe(context.Background(), cfg, os.Stdout, prefixes...)
}
