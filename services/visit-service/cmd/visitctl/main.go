// Command visitctl is the operator tool for the visit service database.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/md-rashed-zaman/visitbook/libs/config"
	"github.com/md-rashed-zaman/visitbook/libs/db"
	"github.com/md-rashed-zaman/visitbook/libs/runtime"
	"github.com/md-rashed-zaman/visitbook/services/visit-service/migrations"
)

func main() {
	ctx, stop := runtime.SignalContext()
	err := rootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "visitctl",
		Short:        "Operate the visit service database",
		SilenceUsage: true,
	}
	root.PersistentFlags().String("database-url", config.String("DATABASE_URL", ""), "Postgres connection string")
	root.PersistentFlags().Duration("timeout", 30*time.Second, "Overall command timeout")

	root.AddCommand(migrateCmd())
	root.AddCommand(slotsCmd())
	root.AddCommand(sweepCmd())
	root.AddCommand(historyCmd())
	root.AddCommand(healthCmd())
	root.AddCommand(eventsCmd())
	return root
}

func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	timeout, _ := cmd.Flags().GetDuration("timeout")
	if timeout <= 0 {
		return context.WithCancel(cmd.Context())
	}
	return context.WithTimeout(cmd.Context(), timeout)
}

func openPool(ctx context.Context, cmd *cobra.Command) (*db.Pool, error) {
	url, _ := cmd.Flags().GetString("database-url")
	if url == "" {
		return nil, fmt.Errorf("--database-url or DATABASE_URL is required")
	}
	return db.Open(ctx, url)
}

// quietLogger keeps service logging off the command output.
func quietLogger(cmd *cobra.Command) *slog.Logger {
	verbose, _ := cmd.Flags().GetBool("verbose")
	if verbose {
		return slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), nil))
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Database migration commands",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()
			pool, err := openPool(ctx, cmd)
			if err != nil {
				return err
			}
			defer pool.Close()

			applied, err := pool.Migrate(ctx, migrations.FS)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "applied %d migration(s)\n", applied)
			return nil
		},
	})
	return cmd
}
