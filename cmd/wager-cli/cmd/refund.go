package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/gec682416/onchain-random-game/internal/bootstrap"
	"github.com/gec682416/onchain-random-game/internal/ledger"
	"github.com/gec682416/onchain-random-game/internal/wager"
	"github.com/gec682416/onchain-random-game/pkg/errno"
)

var refundCmd = &cobra.Command{
	Use:   "refund",
	Short: "查看并领取卡住下注的退款",
}

var refundListCmd = &cobra.Command{
	Use:   "list",
	Short: "列出可退款的下注 (骰子 24h 未结算，彩票结束 7d 未开奖)",
	RunE: func(cmd *cobra.Command, args []string) error {
		gameStr, _ := cmd.Flags().GetString("game")
		games := []ledger.Game{ledger.Dice, ledger.Lottery}
		if gameStr != "" {
			g, err := ledger.ParseGame(gameStr)
			if err != nil {
				return errno.ErrBind.Wrap(err)
			}
			games = []ledger.Game{g}
		}
		return withSession(func(ctx context.Context, c *bootstrap.Components) error {
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "WAGER\tSTAKE\tELIGIBLE AT\tREASON")
			total := 0
			for _, g := range games {
				cands, err := c.Wagers.Refundable(ctx, g)
				if err != nil {
					return err
				}
				for _, cand := range cands {
					stake := cand.Stake
					if stake == "" {
						stake = "-"
					}
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", cand.Key, stake, cand.EligibleAt.Format("2006-01-02 15:04"), cand.Reason)
					total++
				}
			}
			if err := w.Flush(); err != nil {
				return err
			}
			if total == 0 {
				fmt.Println("没有可退款的下注")
			}
			return nil
		})
	},
}

var refundClaimCmd = &cobra.Command{
	Use:   "claim <dice|lottery> <id>",
	Short: "领取退款",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		g, err := ledger.ParseGame(args[0])
		if err != nil {
			return errno.ErrBind.Wrap(err)
		}
		id, err := parseID(args[1])
		if err != nil {
			return err
		}
		key := wager.Key{Game: g, ID: id}
		return withSession(func(ctx context.Context, c *bootstrap.Components) error {
			rec, err := c.Wagers.Refund(ctx, key)
			if err != nil {
				return err
			}
			fmt.Printf("%s 已退款  交易 %s\n", key, txLine(c, rec.TxHash))
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(refundCmd)
	refundCmd.AddCommand(refundListCmd, refundClaimCmd)
	refundListCmd.Flags().String("game", "", "dice 或 lottery，默认两者都查")
}
