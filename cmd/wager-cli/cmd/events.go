package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/gec682416/onchain-random-game/internal/service"
	"github.com/gec682416/onchain-random-game/internal/service/mq"
	"github.com/gec682416/onchain-random-game/pkg/config"
	"github.com/gec682416/onchain-random-game/pkg/database"
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "持续输出 MQ 中的下注生命周期事件",
	RunE: func(cmd *cobra.Command, args []string) error {
		group, _ := cmd.Flags().GetString("group")
		config.Init(configFile)
		cfg := config.Global

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		var consumer mq.Consumer
		if cfg.Redis.MQType == "kafka" {
			consumer = mq.NewKafkaConsumer(cfg.Kafka.Brokers, group)
		} else {
			rdb, err := database.ConnectRedis(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
			if err != nil {
				return err
			}
			defer rdb.Close()
			host, _ := os.Hostname()
			consumer = mq.NewRedisConsumer(rdb, group, fmt.Sprintf("cli-%s-%d", host, os.Getpid()))
		}
		defer consumer.Close()

		fmt.Printf("订阅 %s (Ctrl+C 退出)\n", service.TopicWagerEvents)
		err := consumer.Subscribe(ctx, service.TopicWagerEvents, func(msg *mq.Message) error {
			var evt service.WagerEvent
			if err := json.Unmarshal(msg.Payload, &evt); err != nil {
				fmt.Printf("%s  无法解析: %s\n", msg.ID, msg.Payload)
				return nil
			}
			line := fmt.Sprintf("%s  %s#%d  %s -> %s  player=%s", evt.At.Format("15:04:05"), evt.Game, evt.WagerID, evt.From, evt.State, evt.Player)
			if evt.Payout != "" {
				line += fmt.Sprintf("  won=%t payout=%s", evt.Won, evt.Payout)
			}
			fmt.Println(line)
			return nil
		})
		if err != nil && ctx.Err() == nil {
			return err
		}
		return nil
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "查询本地记录的下注历史",
	RunE: func(cmd *cobra.Command, args []string) error {
		player, _ := cmd.Flags().GetString("player")
		limit, _ := cmd.Flags().GetInt("limit")
		config.Init(configFile)

		db, err := database.Connect(config.Global.DB)
		if err != nil {
			return err
		}
		rows, err := service.NewHistoryService(db).List(cmd.Context(), player, limit)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "WAGER\tPLAYER\tSTAKE\tSTATE\tRESULT\tSUBMITTED")
		for _, r := range rows {
			result := "-"
			if r.State == "resolved" {
				result = fmt.Sprintf("won=%t roll=%d payout=%s", r.Won, r.Roll, r.Payout.String())
			}
			fmt.Fprintf(w, "%s#%d\t%s\t%s\t%s\t%s\t%s\n", r.Game, r.WagerID, r.Player, r.Stake.String(), r.State, result, r.SubmittedAt.Format("2006-01-02 15:04:05"))
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(eventsCmd)
	rootCmd.AddCommand(historyCmd)
	eventsCmd.Flags().String("group", "wager_cli", "消费组")
	historyCmd.Flags().String("player", "", "玩家地址，默认全部")
	historyCmd.Flags().Int("limit", 50, "最多返回条数 (<=200)")
}
