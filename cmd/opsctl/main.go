package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/KJZOFFERS/krizzy-ops-launch-sub000/internal/airtable"
	"github.com/KJZOFFERS/krizzy-ops-launch-sub000/internal/broker"
	"github.com/KJZOFFERS/krizzy-ops-launch-sub000/internal/config"
	"github.com/KJZOFFERS/krizzy-ops-launch-sub000/internal/db"
	"github.com/KJZOFFERS/krizzy-ops-launch-sub000/internal/feed"
	"github.com/KJZOFFERS/krizzy-ops-launch-sub000/internal/quota"
	"github.com/KJZOFFERS/krizzy-ops-launch-sub000/internal/retry"
	"github.com/KJZOFFERS/krizzy-ops-launch-sub000/internal/schema"
	"github.com/spf13/cobra"
)

const cmdTimeout = 30 * time.Second

func main() {
	if err := buildRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func buildRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "opsctl",
		Short: "Operator toolkit for the Krizzy Ops pipeline",
		Long: `opsctl inspects and repairs the moving parts of the pipeline:
remote table schemas, the outbound send budget, stuck dispatch claims and
the sync job backlog. Every command reads the same env configuration as
the daemons.`,
		Version:      "1.0.0",
		SilenceUsage: true,
	}

	root.AddCommand(buildSchemaCommand())
	root.AddCommand(buildJobsCommand())
	root.AddCommand(buildBudgetCommand())
	root.AddCommand(buildDispatchCommand())
	root.AddCommand(buildProbeCommand())

	return root
}

// quietLogger keeps library noise on stderr so command output owns stdout.
func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func buildSchemaCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Inspect remote table schemas",
	}
	cmd.AddCommand(buildSchemaShowCommand())
	return cmd
}

func buildSchemaShowCommand() *cobra.Command {
	var table string
	var refresh bool

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the writable fields of one remote table",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			logger := quietLogger()

			baseID, err := cfg.NormalizedBaseID()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), cmdTimeout)
			defer cancel()

			remote := airtable.NewClient(cfg.AirtableAPIKey, baseID, logger)
			retrier := retry.NewController(cfg.SyncMaxRetries, cfg.SyncBackoffBase, logger)
			schemas := schema.NewCache(remote, retrier, cfg.SchemaTTL, logger)

			s, err := schemas.Get(ctx, table, refresh)
			if err != nil {
				return fmt.Errorf("schema fetch failed: %w", err)
			}

			fields := s.FieldNames()
			fmt.Printf("📋 %s (%d fields)\n", table, len(fields))
			for _, f := range fields {
				fmt.Printf("  └─ %s\n", f)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&table, "table", "t", "", "remote table name")
	cmd.Flags().BoolVar(&refresh, "refresh", false, "bypass the cached snapshot")
	cmd.MarkFlagRequired("table")

	return cmd
}

func buildJobsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect the sync job outbox",
	}
	cmd.AddCommand(buildJobsBacklogCommand())
	return cmd
}

func buildJobsBacklogCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "backlog",
		Short: "Show pending and dead sync job counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()

			ctx, cancel := context.WithTimeout(cmd.Context(), cmdTimeout)
			defer cancel()

			pool, err := db.NewPool(ctx, cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer pool.Close()

			pending, dead, err := db.NewSyncJobRepo(pool).Backlog(ctx)
			if err != nil {
				return fmt.Errorf("backlog query failed: %w", err)
			}

			fmt.Println("🧾 Sync job backlog")
			fmt.Printf("  └─ pending: %d\n", pending)
			fmt.Printf("  └─ dead:    %d\n", dead)
			if dead > 0 {
				fmt.Println("\n⚠️  Dead jobs need manual review before they sync again.")
			}
			return nil
		},
	}
}

func buildBudgetCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "budget",
		Short: "Inspect the outbound send budget",
	}
	cmd.AddCommand(buildBudgetShowCommand())
	return cmd
}

func buildBudgetShowCommand() *cobra.Command {
	var day string

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show per-bucket usage against the active policy",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			logger := quietLogger()

			if day == "" {
				day = time.Now().UTC().Format(quota.DayFormat)
			} else if _, err := time.Parse(quota.DayFormat, day); err != nil {
				return fmt.Errorf("invalid --day %q, want YYYY-MM-DD", day)
			}

			policy := activePolicy(cfg, logger)

			ctx, cancel := context.WithTimeout(cmd.Context(), cmdTimeout)
			defer cancel()

			pool, err := db.NewPool(ctx, cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer pool.Close()

			usage, err := db.NewBudgetRepo(pool).Usage(ctx, day)
			if err != nil {
				return fmt.Errorf("usage query failed: %w", err)
			}

			total := 0
			fmt.Printf("📊 Outbound budget for %s\n", day)
			for _, b := range policy.Buckets {
				used := usage[b.Name]
				total += used
				fmt.Printf("  └─ %-12s %3d sent / %3d limit (%d left)\n", b.Name, used, b.DailyLimit, max(b.DailyLimit-used, 0))
			}
			fmt.Printf("  └─ %-12s %3d sent / %3d limit (%d left)\n", "GLOBAL", total, policy.GlobalDailyLimit, max(policy.GlobalDailyLimit-total, 0))
			return nil
		},
	}

	cmd.Flags().StringVar(&day, "day", "", "UTC day to inspect (YYYY-MM-DD, default today)")

	return cmd
}

// activePolicy mirrors the dispatcher's policy resolution so the numbers shown
// here match what the daemon enforces.
func activePolicy(cfg *config.Config, logger *slog.Logger) quota.Policy {
	policy, err := quota.LoadPolicyFile(cfg.QuotaPolicyPath)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Warn("Unreadable quota policy file, using built-in allocation", "path", cfg.QuotaPolicyPath, "error", err)
		}
		policy = quota.DefaultPolicy()
		policy.GlobalDailyLimit = cfg.DailyLimit
	}
	if policy.GlobalDailyLimit == 0 {
		policy.GlobalDailyLimit = cfg.DailyLimit
	}
	policy.MinCooldown = time.Duration(cfg.CooldownDays) * 24 * time.Hour
	policy.Lookback = time.Duration(cfg.LookbackDays) * 24 * time.Hour
	policy.TouchCeiling = cfg.TouchCeiling
	return policy
}

func buildDispatchCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dispatch",
		Short: "Operate on the outbound dispatch log",
	}
	cmd.AddCommand(buildRequeueStaleCommand())
	return cmd
}

func buildRequeueStaleCommand() *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "requeue-stale",
		Short: "Return crashed sending claims to the queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()

			ctx, cancel := context.WithTimeout(cmd.Context(), cmdTimeout)
			defer cancel()

			pool, err := db.NewPool(ctx, cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer pool.Close()

			n, err := db.NewDispatchRepo(pool).RequeueStale(ctx, olderThan)
			if err != nil {
				return fmt.Errorf("requeue failed: %w", err)
			}

			if n == 0 {
				fmt.Println("✅ No stale claims found.")
			} else {
				fmt.Printf("🧹 Requeued %d stale dispatch claims older than %s.\n", n, olderThan)
			}
			return nil
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 15*time.Minute, "minimum claim age to recover")

	return cmd
}

func buildProbeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "probe",
		Short: "Check connectivity to every external dependency",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			logger := quietLogger()

			ctx, cancel := context.WithTimeout(cmd.Context(), cmdTimeout)
			defer cancel()

			fmt.Println("🔎 Probing infrastructure...")
			failures := 0

			if pool, err := db.NewPool(ctx, cfg.DatabaseURL); err != nil {
				failures++
				fmt.Printf("  ❌ Postgres: %v\n", err)
			} else {
				pool.Close()
				fmt.Println("  ✅ Postgres: reachable")
			}

			if rabbit, err := broker.NewRabbitMQClient(cfg.RabbitMQURL, logger); err != nil {
				failures++
				fmt.Printf("  ❌ RabbitMQ: %v\n", err)
			} else {
				rabbit.Close()
				fmt.Println("  ✅ RabbitMQ: reachable")
			}

			if baseID, err := cfg.NormalizedBaseID(); err != nil {
				failures++
				fmt.Printf("  ❌ Remote base: %v\n", err)
			} else {
				remote := airtable.NewClient(cfg.AirtableAPIKey, baseID, logger)
				if tables, err := remote.ListTables(ctx); err != nil {
					failures++
					fmt.Printf("  ❌ Remote base: %v\n", err)
				} else {
					fmt.Printf("  ✅ Remote base: %d tables visible\n", len(tables))
				}
			}

			if cfg.ProviderConfigured() {
				fmt.Println("  ✅ Messaging provider: configured")
			} else {
				fmt.Println("  ⚠️  Messaging provider: not configured (dispatches run in safe mode)")
			}

			probeRetrier := retry.NewController(1, time.Second, logger)
			if feed.NewClient(cfg.SAMSearchAPI, cfg.SAMAPIKey, cfg.FeedLimit, probeRetrier, logger).Configured() {
				fmt.Println("  ✅ Opportunity feed: configured")
			} else {
				fmt.Println("  ⚠️  Opportunity feed: not configured (GovCon engine rescores only)")
			}

			fmt.Printf("  📣 Webhooks: %d ops, %d errors\n", len(cfg.OpsWebhooks), len(cfg.ErrorWebhooks))

			if failures > 0 {
				return fmt.Errorf("%d probe(s) failed", failures)
			}
			fmt.Println("\n✅ All critical dependencies reachable.")
			return nil
		},
	}
}
