package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"remember2.co/relay/internal/auth"
	"remember2.co/relay/internal/config"
	"remember2.co/relay/internal/migrate"
	"remember2.co/relay/internal/obs"
	"remember2.co/relay/ops/migrations"
)

const dsnKey = "directory.postgres_dsn"

func main() {
	if err := newRootCmd(config.New(), os.Stdout).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// runner is the subset of migrate.Manager the commands use.
type runner interface {
	Up(ctx context.Context) ([]string, error)
	Seed(ctx context.Context) ([]string, error)
	Down(ctx context.Context) (string, error)
	Status(ctx context.Context) ([]string, error)
}

func newRootCmd(v *viper.Viper, out io.Writer) *cobra.Command {
	var timeout time.Duration
	root := &cobra.Command{
		Use:           "relay-migrate",
		Short:         "Manage the caller directory schema in PostgreSQL.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("dsn", "", "PostgreSQL DSN (default $RELAY_DIRECTORY_POSTGRES_DSN).")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "Overall deadline.")
	if err := v.BindPFlag(dsnKey, root.PersistentFlags().Lookup("dsn")); err != nil {
		panic(err)
	}

	withRunner := func(fn func(ctx context.Context, r runner) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			dsn := v.GetString(dsnKey)
			if dsn == "" {
				return errors.New("missing DSN: provide via --dsn or RELAY_DIRECTORY_POSTGRES_DSN")
			}
			db, err := auth.OpenPG(dsn)
			if err != nil {
				return fmt.Errorf("open db: %w", err)
			}
			defer db.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			logger := obs.NewLogger(os.Stderr, "text", false)
			return fn(ctx, migrate.NewManager(db, migrations.SQL(), migrations.Seeds(), migrate.WithLogger(logger)))
		}
	}
	root.AddCommand(commands(out, withRunner)...)
	return root
}

func commands(out io.Writer, withRunner func(func(context.Context, runner) error) func(*cobra.Command, []string) error) []*cobra.Command {
	list := func(verb string, names []string) {
		if len(names) == 0 {
			fmt.Fprintf(out, "nothing to %s\n", verb)
			return
		}
		for _, name := range names {
			fmt.Fprintln(out, name)
		}
	}
	return []*cobra.Command{
		{
			Use:   "up",
			Short: "Apply pending migrations.",
			Args:  cobra.NoArgs,
			RunE: withRunner(func(ctx context.Context, r runner) error {
				applied, err := r.Up(ctx)
				if err != nil {
					return err
				}
				list("apply", applied)
				return nil
			}),
		},
		{
			Use:   "down",
			Short: "Roll back the latest migration.",
			Args:  cobra.NoArgs,
			RunE: withRunner(func(ctx context.Context, r runner) error {
				name, err := r.Down(ctx)
				if errors.Is(err, migrate.ErrNothingApplied) {
					list("roll back", nil)
					return nil
				}
				if err != nil {
					return err
				}
				fmt.Fprintln(out, name)
				return nil
			}),
		},
		{
			Use:   "seed",
			Short: "Insert the default callers.",
			Args:  cobra.NoArgs,
			RunE: withRunner(func(ctx context.Context, r runner) error {
				applied, err := r.Seed(ctx)
				if err != nil {
					return err
				}
				list("seed", applied)
				return nil
			}),
		},
		{
			Use:   "status",
			Short: "List applied migrations in order.",
			Args:  cobra.NoArgs,
			RunE: withRunner(func(ctx context.Context, r runner) error {
				history, err := r.Status(ctx)
				if err != nil {
					return err
				}
				for _, name := range history {
					fmt.Fprintln(out, name)
				}
				return nil
			}),
		},
	}
}
