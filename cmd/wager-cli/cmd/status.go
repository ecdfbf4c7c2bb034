package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/gec682416/onchain-random-game/internal/bootstrap"
	"github.com/gec682416/onchain-random-game/pkg/units"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "读取合约状态面板",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(func(ctx context.Context, c *bootstrap.Components) error {
			snap, err := c.Wagers.RefreshStatus(ctx)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintf(w, "合约\t%s\n", snap.Contract)
			fmt.Fprintf(w, "资金池\t%s %s\n", snap.Balance, c.Target.Currency.Symbol)
			fmt.Fprintf(w, "锁定资金\t%s %s\n", snap.LockedFunds, c.Target.Currency.Symbol)
			fmt.Fprintf(w, "抽水\t%d bps\n", snap.HouseEdgeBps)
			fmt.Fprintf(w, "下注范围\t%s - %s (enabled=%t)\n", snap.MinBet, snap.MaxBet, snap.TokenEnabled)
			fmt.Fprintf(w, "下一个骰子 ID\t%d\n", snap.NextDiceID)
			fmt.Fprintf(w, "下一个彩票 ID\t%d\n", snap.NextLotteryID)
			fmt.Fprintf(w, "VRF\tkey=%s sub=%s gas=%d\n", snap.VRFKeyHash, snap.VRFSubID, snap.VRFCallbackGas)
			return w.Flush()
		})
	},
}

var quoteCmd = &cobra.Command{
	Use:   "quote",
	Short: "估算骰子赔付",
	RunE: func(cmd *cobra.Command, args []string) error {
		stakeStr, _ := cmd.Flags().GetString("stake")
		rollUnder, _ := cmd.Flags().GetUint8("roll-under")
		stake, err := parseEther("stake", stakeStr)
		if err != nil {
			return err
		}
		return withSession(func(ctx context.Context, c *bootstrap.Components) error {
			payout, err := c.Wagers.QuotePayout(ctx, stake, rollUnder)
			if err != nil {
				return err
			}
			fmt.Printf("下注 %s，掷出小于 %d 赢得 %s %s\n", stakeStr, rollUnder, units.FormatEther(payout), c.Target.Currency.Symbol)
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(quoteCmd)
	quoteCmd.Flags().String("stake", "0.001", "下注金额 (ether)")
	quoteCmd.Flags().Uint8("roll-under", 50, "阈值 (2-99)")
}
