package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/viralforge/mesh/services/financial-rails/M15-settlement-engine/internal/app/bootstrap"
	"github.com/viralforge/mesh/services/financial-rails/M15-settlement-engine/internal/application"
)

var Version = "dev"

var configPath string

// operator is the identity admin commands act as.
var operator = application.Actor{SubjectID: "settlementctl", Role: application.RoleAdmin}

func main() {
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:           "settlementctl",
		Short:         "Operate the settlement engine: migrations, sweeps, settings",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "configs/default.yaml", "path to the service config file")

	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(sweepCmd())
	rootCmd.AddCommand(webhooksCmd())
	rootCmd.AddCommand(settingsCmd())
	rootCmd.AddCommand(splitCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// withCore builds the shared runtime core for one command and closes it afterwards.
func withCore(cmd *cobra.Command, fn func(ctx context.Context, core *bootstrap.Core) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	core, err := bootstrap.NewCore(ctx, configPath)
	if err != nil {
		return err
	}
	defer core.Close()
	return fn(ctx, core)
}

func printJSON(cmd *cobra.Command, value any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(value)
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCore(cmd, func(ctx context.Context, core *bootstrap.Core) error {
				applied := core.Migrations
				if applied == nil {
					applied = []string{}
				}
				return printJSON(cmd, map[string]any{"applied": applied})
			})
		},
	}
}

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one settlement sweep and print its report",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCore(cmd, func(ctx context.Context, core *bootstrap.Core) error {
				report, err := core.Service.RunSweep(ctx)
				if printErr := printJSON(cmd, report); printErr != nil {
					return printErr
				}
				return err
			})
		},
	}
}

func webhooksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "webhooks",
		Short: "Inspect and replay recorded gateway webhooks",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "replay",
		Short: "Re-apply recorded deliveries that never finished processing",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCore(cmd, func(ctx context.Context, core *bootstrap.Core) error {
				replayed, err := core.Service.ReplayPendingWebhooks(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "replayed %d webhook deliveries\n", replayed)
				return nil
			})
		},
	})
	return cmd
}
