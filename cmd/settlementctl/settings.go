package main

import (
	"context"

	"github.com/spf13/cobra"
	"github.com/viralforge/mesh/services/financial-rails/M15-settlement-engine/internal/app/bootstrap"
)

func settingsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Read and change platform settings",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List every stored setting",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCore(cmd, func(ctx context.Context, core *bootstrap.Core) error {
				settings, err := core.Service.ListSettings(ctx, operator)
				if err != nil {
					return err
				}
				return printJSON(cmd, settings)
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "get [key]",
		Short: "Show one setting",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCore(cmd, func(ctx context.Context, core *bootstrap.Core) error {
				setting, err := core.Service.GetSetting(ctx, operator, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd, setting)
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "set [key] [value]",
		Short: "Update a setting and invalidate its cached value",
		Long: `Update a platform setting.

Examples:
  settlementctl settings set influencer_fee_percentage 12.5
  settlementctl settings set milestone_auto_charge_enabled false`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCore(cmd, func(ctx context.Context, core *bootstrap.Core) error {
				setting, err := core.Service.UpdateSetting(ctx, operator, args[0], args[1])
				if err != nil {
					return err
				}
				return printJSON(cmd, setting)
			})
		},
	})
	return cmd
}
