package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/viralforge/mesh/services/financial-rails/M15-settlement-engine/internal/domain"
)

var (
	splitTotal     int64
	splitCount     int
	splitRemainder string
	splitFeePct    string
)

type splitLine struct {
	MilestoneNumber int   `json:"milestone_number"`
	AmountInPence   int64 `json:"amount_in_pence"`
	FeeInPence      int64 `json:"platform_fee_in_pence"`
	NetInPence      int64 `json:"net_in_pence"`
}

func splitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "split",
		Short: "Preview how a campaign total splits into milestones and influencer net",
		Long: `Preview a milestone split without touching the database.

Examples:
  settlementctl split --total 100000 --count 3
  settlementctl split --total 100000 --count 3 --remainder last --fee-pct 12.5`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			amounts, err := domain.SplitAmount(splitTotal, splitCount, domain.SplitRemainder(splitRemainder))
			if err != nil {
				return err
			}
			pct, err := domain.ParsePercentage(splitFeePct)
			if err != nil {
				return fmt.Errorf("fee-pct: %w", err)
			}
			lines := make([]splitLine, 0, len(amounts))
			for i, amount := range amounts {
				fee := domain.ComputeFee(amount, pct)
				lines = append(lines, splitLine{
					MilestoneNumber: i + 1,
					AmountInPence:   amount,
					FeeInPence:      fee,
					NetInPence:      amount - fee,
				})
			}
			return printJSON(cmd, lines)
		},
	}
	cmd.Flags().Int64Var(&splitTotal, "total", 0, "campaign total in minor units")
	cmd.Flags().IntVar(&splitCount, "count", 1, "number of milestones")
	cmd.Flags().StringVar(&splitRemainder, "remainder", string(domain.SplitRemainderFirst), "milestone that absorbs the rounding remainder (first|last)")
	cmd.Flags().StringVar(&splitFeePct, "fee-pct", "10", "influencer platform fee percentage")
	_ = cmd.MarkFlagRequired("total")
	return cmd
}
