package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/fleet-ledger/cmd/ledgerctl/cli"
	"github.com/odyssey-erp/fleet-ledger/internal/accounting"
	"github.com/odyssey-erp/fleet-ledger/internal/app"
	"github.com/odyssey-erp/fleet-ledger/internal/events"
	"github.com/odyssey-erp/fleet-ledger/internal/platform/cache"
	"github.com/odyssey-erp/fleet-ledger/internal/platform/db"
	"github.com/odyssey-erp/fleet-ledger/internal/rbac"
)

const usage = `usage: ledgerctl <command> [flags]

commands:
  migrate                              apply the embedded schema
  seed                                 create the default chart of accounts
  period -action open|close|reopen -period YYYY-MM [-actor ID]
  periods [-json]                      list accounting periods
  trial-balance [-from DATE] [-to DATE] [-json]
  history [-pattern P] [-entity-type T] [-entity-id ID] [-limit N] [-json]
  failures [-lookback 1h] [-limit N]   emits with failed handlers
  grant -role R -pattern P -level L    store a role grant
  check -role R -op ID -level L        evaluate a permission
  enqueue -job integrity|failures [-year N] [-lookback D]
  queue                                show worker queue stats
  demo [-role R] [-amount N] [-account CODE]
`

func main() {
	if len(os.Args) < 2 {
		_, _ = fmt.Fprint(os.Stderr, usage)
		os.Exit(cli.ExitError)
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1], os.Args[2:], cli.Output{Stdout: os.Stdout, Stderr: os.Stderr})
	stop()
	os.Exit(code)
}

func run(ctx context.Context, command string, args []string, out cli.Output) int {
	cfg, err := app.LoadConfig()
	if err != nil {
		_, _ = fmt.Fprintf(out.Stderr, "load config: %v\n", err)
		return cli.ExitError
	}
	logger := app.NewLogger(cfg)
	fs := flag.NewFlagSet(command, flag.ContinueOnError)
	fs.SetOutput(out.Stderr)

	switch command {
	case "demo":
		role := fs.String("role", "fleet-manager", "role approving the expense")
		amount := fs.String("amount", "5000", "expense amount")
		account := fs.String("account", "", "expense account code (default mapping when empty)")
		if fs.Parse(args) != nil {
			return cli.ExitError
		}
		return cli.DemoCommand(ctx, logger, cli.DemoOptions{Role: *role, Amount: *amount, Account: *account, Output: out})
	case "enqueue", "queue":
		return runJobs(ctx, cfg, command, fs, args, out)
	case "migrate", "seed", "period", "periods", "trial-balance", "history", "failures", "grant", "check":
	default:
		_, _ = fmt.Fprint(out.Stderr, usage)
		return cli.ExitError
	}

	pool, err := db.New(ctx, cfg.Postgres())
	if err != nil {
		_, _ = fmt.Fprintf(out.Stderr, "connect database: %v\n", err)
		return cli.ExitError
	}
	defer pool.Close()
	return runWithPool(ctx, cfg, logger, pool, command, fs, args, out)
}

func runWithPool(ctx context.Context, cfg *app.Config, logger *slog.Logger, pool *pgxpool.Pool, command string, fs *flag.FlagSet, args []string, out cli.Output) int {
	ledger := accounting.NewService(accounting.NewRepository(pool), logger)
	ledgerCLI, err := cli.NewLedgerCLI(ledger)
	if err != nil {
		_, _ = fmt.Fprintln(out.Stderr, err)
		return cli.ExitError
	}

	switch command {
	case "migrate":
		if err := db.Migrate(ctx, pool); err != nil {
			_, _ = fmt.Fprintf(out.Stderr, "migrate: %v\n", err)
			return cli.ExitError
		}
		_, _ = fmt.Fprintln(out.Stdout, "schema applied")
		return cli.ExitOK
	case "seed":
		return ledgerCLI.SeedCommand(ctx, out)
	case "period":
		action := fs.String("action", "", "open, close or reopen")
		period := fs.String("period", "", "period as YYYY-MM")
		actor := fs.Int64("actor", 0, "acting user id")
		if fs.Parse(args) != nil {
			return cli.ExitError
		}
		return ledgerCLI.PeriodCommand(ctx, cli.PeriodOptions{Action: cli.PeriodAction(*action), Period: *period, ActorID: *actor, Output: out})
	case "periods":
		asJSON := fs.Bool("json", false, "print JSON")
		if fs.Parse(args) != nil {
			return cli.ExitError
		}
		return ledgerCLI.PeriodsCommand(ctx, *asJSON, out)
	case "trial-balance":
		from := fs.String("from", "", "first day YYYY-MM-DD")
		to := fs.String("to", "", "last day YYYY-MM-DD")
		asJSON := fs.Bool("json", false, "print JSON")
		if fs.Parse(args) != nil {
			return cli.ExitError
		}
		return ledgerCLI.TrialBalanceCommand(ctx, cli.TrialBalanceOptions{From: *from, To: *to, JSONOutput: *asJSON, Output: out})
	case "history", "failures":
		store := events.NewRepository(pool)
		bus := events.NewBus(store, logger)
		eventsCLI, err := cli.NewEventsCLI(bus, store, logger)
		if err != nil {
			_, _ = fmt.Fprintln(out.Stderr, err)
			return cli.ExitError
		}
		if command == "failures" {
			lookback := fs.Duration("lookback", time.Hour, "window to report")
			limit := fs.Int("limit", 200, "maximum rows")
			if fs.Parse(args) != nil {
				return cli.ExitError
			}
			return eventsCLI.FailuresCommand(ctx, *lookback, *limit, out)
		}
		pattern := fs.String("pattern", "", "operation pattern, e.g. finance.*")
		entityType := fs.String("entity-type", "", "entity type")
		entityID := fs.String("entity-id", "", "entity id")
		limit := fs.Int("limit", 20, "maximum rows")
		asJSON := fs.Bool("json", false, "print JSON")
		if fs.Parse(args) != nil {
			return cli.ExitError
		}
		return eventsCLI.HistoryCommand(ctx, cli.HistoryOptions{Pattern: *pattern, EntityType: *entityType, EntityID: *entityID, Limit: *limit, JSONOutput: *asJSON, Output: out})
	default:
		return runAccess(ctx, cfg, logger, pool, command, fs, args, out)
	}
}

func runAccess(ctx context.Context, cfg *app.Config, logger *slog.Logger, pool *pgxpool.Pool, command string, fs *flag.FlagSet, args []string, out cli.Output) int {
	role := fs.String("role", "", "role name")
	pattern := fs.String("pattern", "", "operation pattern (grant)")
	op := fs.String("op", "", "operation id (check)")
	level := fs.String("level", "view", "none, view, edit, approve or admin")
	if fs.Parse(args) != nil {
		return cli.ExitError
	}

	policy := rbac.NewPostgresPolicy(pool)
	var decisions rbac.Cache
	redisClient, err := cache.New(ctx, cfg.Redis())
	if err != nil {
		logger.Warn("permission cache unavailable", slog.Any("error", err))
	} else {
		defer closeQuietly(logger, redisClient)
		decisions = rbac.NewRedisCache(redisClient, cfg.PermissionCacheTTL)
	}
	accessCLI, err := cli.NewAccessCLI(policy, rbac.NewGate(policy, decisions, logger))
	if err != nil {
		_, _ = fmt.Fprintln(out.Stderr, err)
		return cli.ExitError
	}
	if command == "grant" {
		return accessCLI.GrantCommand(ctx, cli.AccessOptions{Role: *role, Target: *pattern, Level: *level, Output: out})
	}
	return accessCLI.CheckCommand(ctx, cli.AccessOptions{Role: *role, Target: *op, Level: *level, Output: out})
}

func runJobs(ctx context.Context, cfg *app.Config, command string, fs *flag.FlagSet, args []string, out cli.Output) int {
	job := fs.String("job", "", "integrity or failures")
	year := fs.Int("year", 0, "fiscal year for integrity (current when 0)")
	lookback := fs.Duration("lookback", 0, "window for failures")
	if fs.Parse(args) != nil {
		return cli.ExitError
	}
	jobsCLI, err := cli.NewJobsCLI(cfg.Redis().Asynq())
	if err != nil {
		_, _ = fmt.Fprintf(out.Stderr, "jobs: %v\n", err)
		return cli.ExitError
	}
	defer func() { _ = jobsCLI.Close() }()
	if command == "queue" {
		return jobsCLI.QueueCommand(ctx, out)
	}
	return jobsCLI.Trigger(ctx, cli.TriggerOptions{Name: *job, Year: *year, Lookback: *lookback, Output: out})
}

func closeQuietly(logger *slog.Logger, c io.Closer) {
	if err := c.Close(); err != nil {
		logger.Warn("close", slog.Any("error", err))
	}
}
