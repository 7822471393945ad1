package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/sheikh-saqib/stakes-ledger/internal/config"
	"github.com/sheikh-saqib/stakes-ledger/internal/core"
	"github.com/sheikh-saqib/stakes-ledger/internal/events"
	interfaces "github.com/sheikh-saqib/stakes-ledger/internal/interfaces"
	"github.com/sheikh-saqib/stakes-ledger/internal/logging"
	"github.com/sheikh-saqib/stakes-ledger/internal/models"
	"github.com/sheikh-saqib/stakes-ledger/internal/storage/postgres"
)

// session is everything one command needs. Close releases the database.
type session struct {
	cfg    *config.Config
	logger *log.Logger
	db     *sql.DB
	dir    *postgres.Directory
	core   *core.Core
}

func (s *session) Close() { s.db.Close() }

func open(ctx context.Context) (*session, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if cfg.DatabaseURL == "" {
		return nil, errors.New("database_url is not configured (set STAKES_DATABASE_URL or DATABASE_URL)")
	}
	opts := logging.DefaultOptions()
	opts.Level = logging.ParseLevel(cfg.LogLevel)
	opts.Formatter = logging.ParseFormatter(cfg.LogFormat)
	logger := logging.New(os.Stderr, opts)

	db, err := postgres.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	dir := postgres.NewDirectory(db)
	c := core.New(postgres.NewPostgresStore(db), dir, interfaces.SystemClock{},
		events.LogPublisher{Logger: logging.Component(logger, "notify")}, logger, core.Options{
			Calendar:            cfg.Calendar,
			InitialCoins:        cfg.InitialCoins,
			DefaultGraceMinutes: cfg.DefaultGraceMinutes,
			VoteWindow:          cfg.VoteWindow.Duration,
		})
	return &session{cfg: cfg, logger: logger, db: db, dir: dir, core: c}, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()
			if err := postgres.Migrate(cmd.Context(), s.db); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
			return nil
		},
	}
}

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Expire stale votes and miss overdue tasks once",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()
			report, err := s.core.RunDeadlineSweep(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, report)
		},
	}
}

func aggregateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "aggregate",
		Short: "Write weekly stats for the previous week",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()
			report, err := s.core.RunWeeklyAggregation(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, report)
		},
	}
}

func depositCmd() *cobra.Command {
	var sync bool
	cmd := &cobra.Command{
		Use:   "deposit [user] [amount]",
		Short: "Credit coins to a user",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("amount: %w", err)
			}
			s, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()
			if sync {
				if _, err := s.core.SyncUser(cmd.Context(), args[0]); err != nil {
					return err
				}
			}
			entry, err := s.core.Deposit(cmd.Context(), args[0], amount)
			if err != nil {
				return err
			}
			return printJSON(cmd, entry)
		},
	}
	cmd.Flags().BoolVar(&sync, "sync", false, "register the user first if unknown")
	return cmd
}

func balanceCmd() *cobra.Command {
	var verify bool
	cmd := &cobra.Command{
		Use:   "balance [user]",
		Short: "Show a user's balance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()
			if verify {
				d, err := s.core.VerifyBalance(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if !d.InSync() {
					s.logger.Warn("wallet cache drifted", "user", args[0], "cached", d.Cached, "computed", d.Computed)
				}
				return printJSON(cmd, d)
			}
			b, err := s.core.GetBalance(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]any{"user_id": args[0], "balance": b})
		},
	}
	cmd.Flags().BoolVar(&verify, "verify", false, "compare the wallet cache with the entry sum")
	return cmd
}

func spaceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "space",
		Short: "Manage space rules and members",
	}

	rules := models.SpaceRules{}
	put := &cobra.Command{
		Use:   "put [space]",
		Short: "Create or replace a space's rules",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()
			rules.SpaceID = args[0]
			if err := s.dir.PutSpace(cmd.Context(), rules); err != nil {
				return err
			}
			return printJSON(cmd, rules)
		},
	}
	put.Flags().Int64Var(&rules.MinStake, "min-stake", 1, "minimum coins per task")
	put.Flags().IntVar(&rules.GraceMinutes, "grace", 0, "grace period in minutes")
	put.Flags().IntVar(&rules.WeeklyForgivenessTokens, "tokens", 1, "personal forgiveness tokens per week")
	put.Flags().BoolVar(&rules.GroupVoteEnabled, "group-vote", true, "allow group forgiveness votes")
	put.Flags().IntVar(&rules.VoteThresholdPercent, "threshold", 50, "approval percent needed")

	join := &cobra.Command{
		Use:   "add-member [space] [user]",
		Short: "Add a user to a space",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()
			return s.dir.AddMember(cmd.Context(), args[0], args[1])
		},
	}

	seed := &cobra.Command{
		Use:   "seed",
		Short: "Write every [[spaces]] table of the config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()
			for _, sp := range s.cfg.Spaces {
				if err := s.dir.Seed(cmd.Context(), sp.Rules(), sp.Members...); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "seeded %d spaces\n", len(s.cfg.Spaces))
			return nil
		},
	}

	cmd.AddCommand(put, join, seed)
	return cmd
}
