package cmd

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/gec682416/onchain-random-game/internal/bootstrap"
	"github.com/gec682416/onchain-random-game/pkg/errno"
)

var lotteryCmd = &cobra.Command{
	Use:   "lottery",
	Short: "彩票轮次: 创建、买票、开奖",
}

var lotteryCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "创建彩票轮次",
	RunE: func(cmd *cobra.Command, args []string) error {
		priceStr, _ := cmd.Flags().GetString("price")
		startIn, _ := cmd.Flags().GetDuration("start-in")
		duration, _ := cmd.Flags().GetDuration("duration")
		price, err := parseEther("price", priceStr)
		if err != nil {
			return err
		}
		return withSession(func(ctx context.Context, c *bootstrap.Components) error {
			rec, err := c.Wagers.CreateLottery(ctx, price, startIn, duration)
			if err != nil {
				return err
			}
			fmt.Printf("彩票 #%d 已创建  交易 %s\n", rec.ID, txLine(c, rec.TxHash))
			return nil
		})
	},
}

var lotteryBuyCmd = &cobra.Command{
	Use:   "buy <id>",
	Short: "购买彩票",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		count, _ := cmd.Flags().GetUint32("count")
		return withSession(func(ctx context.Context, c *bootstrap.Components) error {
			rec, err := c.Wagers.BuyTickets(ctx, id, count)
			if err != nil {
				return err
			}
			fmt.Printf("已购买 %d 张 lottery#%d  交易 %s\n", count, id, txLine(c, rec.TxHash))
			return nil
		})
	},
}

var lotteryDrawCmd = &cobra.Command{
	Use:   "draw <id>",
	Short: "结束后请求开奖并等待结果",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		wait, _ := cmd.Flags().GetDuration("wait")
		return withSession(func(ctx context.Context, c *bootstrap.Components) error {
			w, err := c.Wagers.RequestDraw(ctx, id)
			if err != nil {
				return err
			}
			fmt.Printf("已请求开奖 %s  交易 %s\n", w.Key, txLine(c, w.TxHash))
			if wait <= 0 {
				return nil
			}
			return report(ctx, c, w.Key, wait)
		})
	},
}

func parseID(s string) (uint64, error) {
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, errno.ErrBind.WithMessage(fmt.Sprintf("invalid id %q", s))
	}
	return id, nil
}

func init() {
	rootCmd.AddCommand(lotteryCmd)
	lotteryCmd.AddCommand(lotteryCreateCmd, lotteryBuyCmd, lotteryDrawCmd)

	lotteryCreateCmd.Flags().String("price", "0.001", "票价 (ether)")
	lotteryCreateCmd.Flags().Duration("start-in", 0, "多久后开始售票")
	lotteryCreateCmd.Flags().Duration("duration", time.Hour, "售票时长")

	lotteryBuyCmd.Flags().Uint32("count", 1, "购买张数")

	lotteryDrawCmd.Flags().Duration("wait", 200*time.Second, "等待结果的时长，0 表示提交后立即返回")
}
