// Command migrate управляет схемой PostgreSQL заглушки OMS.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/vladislavdragonenkov/oms-console/internal/storage/postgres"
)

const defaultTimeout = 30 * time.Second

var errDSNRequired = errors.New("OMS_POSTGRES_DSN (or --dsn) is required")

type migrator interface {
	MigrateUp(ctx context.Context, steps int) error
	MigrateDown(ctx context.Context, steps int) error
	MigrationStatus(ctx context.Context) (uint, bool, error)
	Close() error
}

// openMigrator подменяется в тестах.
var openMigrator = func(ctx context.Context, dsn string) (migrator, error) {
	return postgres.Open(ctx, postgres.Config{DSN: dsn})
}

type options struct {
	dsn     string
	timeout time.Duration
	getenv  func(string) string
}

func newRootCmd(getenv func(string) string) *cobra.Command {
	opts := &options{getenv: getenv}

	root := &cobra.Command{
		Use:           "migrate",
		Short:         "Apply or roll back oms-stub PostgreSQL migrations",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.dsn, "dsn", "", "PostgreSQL DSN (fallback: OMS_POSTGRES_DSN)")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", defaultTimeout, "overall timeout")

	root.AddCommand(upCmd(opts), downCmd(opts), statusCmd(opts))
	return root
}

func upCmd(opts *options) *cobra.Command {
	var steps int
	cmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(cmd.Context(), opts, func(ctx context.Context, m migrator) error {
				if err := m.MigrateUp(ctx, steps); err != nil {
					return fmt.Errorf("migrate up: %w", err)
				}
				return printStatus(ctx, cmd.OutOrStdout(), "migrate up ok", m)
			})
		},
	}
	cmd.Flags().IntVar(&steps, "steps", 0, "number of migrations to apply (0 = all)")
	return cmd
}

func downCmd(opts *options) *cobra.Command {
	var steps int
	cmd := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if steps <= 0 {
				steps = 1
			}
			return withMigrator(cmd.Context(), opts, func(ctx context.Context, m migrator) error {
				if err := m.MigrateDown(ctx, steps); err != nil {
					return fmt.Errorf("migrate down: %w", err)
				}
				return printStatus(ctx, cmd.OutOrStdout(), "migrate down ok", m)
			})
		},
	}
	cmd.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back")
	return cmd
}

func statusCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print current schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(cmd.Context(), opts, func(ctx context.Context, m migrator) error {
				return printStatus(ctx, cmd.OutOrStdout(), "migration status", m)
			})
		},
	}
}

func (o *options) resolveDSN() (string, error) {
	dsn := strings.TrimSpace(o.dsn)
	if dsn == "" && o.getenv != nil {
		dsn = strings.TrimSpace(o.getenv("OMS_POSTGRES_DSN"))
	}
	if dsn == "" {
		return "", errDSNRequired
	}
	return dsn, nil
}

func withMigrator(parent context.Context, opts *options, fn func(context.Context, migrator) error) error {
	dsn, err := opts.resolveDSN()
	if err != nil {
		return err
	}
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithTimeout(parent, opts.timeout)
	defer cancel()

	m, err := openMigrator(ctx, dsn)
	if err != nil {
		return fmt.Errorf("open postgres store: %w", err)
	}
	defer func() { _ = m.Close() }()

	return fn(ctx, m)
}

func printStatus(ctx context.Context, w io.Writer, prefix string, m migrator) error {
	version, dirty, err := m.MigrationStatus(ctx)
	if err != nil {
		return fmt.Errorf("migration status: %w", err)
	}
	_, err = fmt.Fprintf(w, "%s: version=%d dirty=%t\n", prefix, version, dirty)
	return err
}

func main() {
	if err := newRootCmd(os.Getenv).Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "migrate:", err)
		os.Exit(1)
	}
}
