package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/gec682416/onchain-random-game/internal/bootstrap"
	"github.com/gec682416/onchain-random-game/internal/ledger"
	"github.com/gec682416/onchain-random-game/internal/wager"
	"github.com/gec682416/onchain-random-game/pkg/units"
)

var diceCmd = &cobra.Command{
	Use:   "dice",
	Short: "掷骰子下注并等待结果",
	Example: `  wager-cli dice --stake 0.001 --roll-under 50
  wager-cli dice --stake 0.01 --roll-under 90 --wait 0`,
	RunE: func(cmd *cobra.Command, args []string) error {
		stakeStr, _ := cmd.Flags().GetString("stake")
		rollUnder, _ := cmd.Flags().GetUint8("roll-under")
		wait, _ := cmd.Flags().GetDuration("wait")
		stake, err := parseEther("stake", stakeStr)
		if err != nil {
			return err
		}

		return withSession(func(ctx context.Context, c *bootstrap.Components) error {
			w, err := c.Wagers.PlaceDice(ctx, stake, rollUnder)
			if err != nil {
				return err
			}
			fmt.Printf("已提交 %s  交易 %s\n", w.Key, txLine(c, w.TxHash))
			if wait <= 0 {
				return nil
			}
			return report(ctx, c, w.Key, wait)
		})
	},
}

// report 等待并打印最终状态
func report(ctx context.Context, c *bootstrap.Components, key wager.Key, wait time.Duration) error {
	w, err := waitFor(ctx, c, key, wait)
	if err != nil {
		fmt.Printf("%s 仍未结算 (%s)，稍后用 refund list 查看\n", key, w.State)
		return nil
	}
	switch {
	case w.Outcome == nil:
		fmt.Printf("%s: %s %s\n", key, w.State, w.Reason)
	case key.Game == ledger.Lottery:
		fmt.Printf("%s: 中奖者 %s\n", key, w.Outcome.Winner.Hex())
	case w.Outcome.Won:
		fmt.Printf("%s: 掷出 %d，赢得 %s %s\n", key, w.Outcome.Roll, units.FormatEther(w.Outcome.Payout), c.Target.Currency.Symbol)
	default:
		fmt.Printf("%s: 掷出 %d，未中\n", key, w.Outcome.Roll)
	}
	return nil
}

func init() {
	rootCmd.AddCommand(diceCmd)
	diceCmd.Flags().String("stake", "0.001", "下注金额 (ether)")
	diceCmd.Flags().Uint8("roll-under", 50, "阈值 (2-99)，掷出 1-100 小于该值为赢")
	diceCmd.Flags().Duration("wait", 200*time.Second, "等待结果的时长，0 表示提交后立即返回")
}
