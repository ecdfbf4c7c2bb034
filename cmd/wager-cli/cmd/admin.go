package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gec682416/onchain-random-game/internal/bootstrap"
)

var adminCmd = &cobra.Command{
	Use:   "admin",
	Short: "合约 owner 操作",
}

var fundCmd = &cobra.Command{
	Use:   "fund",
	Short: "向资金池注资",
	RunE: func(cmd *cobra.Command, args []string) error {
		amountStr, _ := cmd.Flags().GetString("amount")
		amount, err := parseEther("amount", amountStr)
		if err != nil {
			return err
		}
		return withSession(func(ctx context.Context, c *bootstrap.Components) error {
			rec, err := c.Wagers.FundTreasury(ctx, amount)
			if err != nil {
				return err
			}
			fmt.Printf("已注资 %s %s  交易 %s\n", amountStr, c.Target.Currency.Symbol, txLine(c, rec.TxHash))
			return nil
		})
	},
}

var limitsCmd = &cobra.Command{
	Use:   "limits",
	Short: "设置默认代币的下注范围",
	RunE: func(cmd *cobra.Command, args []string) error {
		enabled, _ := cmd.Flags().GetBool("enabled")
		minStr, _ := cmd.Flags().GetString("min")
		maxStr, _ := cmd.Flags().GetString("max")
		minBet, err := parseEther("min", minStr)
		if err != nil {
			return err
		}
		maxBet, err := parseEther("max", maxStr)
		if err != nil {
			return err
		}
		return withSession(func(ctx context.Context, c *bootstrap.Components) error {
			rec, err := c.Wagers.SetTokenLimits(ctx, enabled, minBet, maxBet)
			if err != nil {
				return err
			}
			fmt.Printf("下注范围已更新 %s - %s (enabled=%t)  交易 %s\n", minStr, maxStr, enabled, txLine(c, rec.TxHash))
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(adminCmd)
	adminCmd.AddCommand(fundCmd, limitsCmd)
	fundCmd.Flags().String("amount", "1", "注资金额 (ether)")
	limitsCmd.Flags().Bool("enabled", true, "是否允许下注")
	limitsCmd.Flags().String("min", "0.0001", "最小下注 (ether)")
	limitsCmd.Flags().String("max", "0.1", "最大下注 (ether)")
}
