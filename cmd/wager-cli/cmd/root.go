package cmd

import (
	"context"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/gec682416/onchain-random-game/internal/bootstrap"
	"github.com/gec682416/onchain-random-game/internal/service"
	"github.com/gec682416/onchain-random-game/internal/wager"
	"github.com/gec682416/onchain-random-game/pkg/config"
	"github.com/gec682416/onchain-random-game/pkg/errno"
	"github.com/gec682416/onchain-random-game/pkg/logger"
	"github.com/gec682416/onchain-random-game/pkg/units"
)

var (
	configFile string
	verbose    bool
)

// rootCmd 代表基础命令，没有子命令时直接调用
var rootCmd = &cobra.Command{
	Use:   "wager-cli",
	Short: "链上骰子与彩票命令行工具",
	Long: `通过本地钱包与 RandomGame 合约交互。
下注、开奖和退款前会自动把钱包切换到目标网络，并等待 VRF 回调给出结果。`,
	SilenceUsage: true,
}

// Execute 将所有子命令添加到根命令并设置标志
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		code, msg := errno.Decode(err)
		fmt.Fprintf(os.Stderr, "错误 (%d): %s\n", code, msg)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "配置文件路径 (默认 ./config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "输出调试日志")
}

// withSession 加载配置、组装依赖并开启会话，fn 返回后释放资源
func withSession(fn func(ctx context.Context, c *bootstrap.Components) error) error {
	config.Init(configFile)
	cfg := config.Global
	if verbose {
		logger.Init("development")
	}

	if cfg.Wallet.Mnemonic == "" && cfg.Wallet.Password == "" {
		pw, err := promptPassword("输入钱包密码: ")
		if err != nil {
			return err
		}
		cfg.Wallet.Password = pw
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c, err := bootstrap.Build(ctx, cfg)
	if err != nil {
		return err
	}
	defer c.Close()

	sess, err := c.Wagers.Connect(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("账户 %s  网络 %s\n", sess.Address.Hex(), sess.ChainID)
	return fn(ctx, c)
}

func promptPassword(prompt string) (string, error) {
	fmt.Print(prompt)
	b, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("读取密码失败: %w", err)
	}
	return string(b), nil
}

func parseEther(flag, v string) (*big.Int, error) {
	amount, err := units.ParseEther(v)
	if err != nil {
		return nil, errno.ErrInvalidAmount.WithMessage(fmt.Sprintf("--%s: %v", flag, err))
	}
	return amount, nil
}

func txLine(c *bootstrap.Components, hash common.Hash) string {
	if link := c.Target.ExplorerTxURL(hash); link != "" {
		return link
	}
	return hash.Hex()
}

// waitFor 打印提示直到下注进入终态或超时
func waitFor(ctx context.Context, c *bootstrap.Components, key wager.Key, limit time.Duration) (wager.Wager, error) {
	notices := make(chan service.Notice, 16)
	sub := c.Wagers.SubscribeNotices(notices)
	defer sub.Unsubscribe()

	ctx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case n := <-notices:
			printNotice(n)
		case <-ticker.C:
			w, err := c.Wagers.Wager(key)
			if err != nil {
				return wager.Wager{}, err
			}
			if w.State.Terminal() {
				drain(notices)
				return w, nil
			}
		case <-ctx.Done():
			w, _ := c.Wagers.Wager(key)
			return w, ctx.Err()
		}
	}
}

func drain(ch <-chan service.Notice) {
	for {
		select {
		case n := <-ch:
			printNotice(n)
		case <-time.After(50 * time.Millisecond):
			return
		}
	}
}

func printNotice(n service.Notice) {
	line := fmt.Sprintf("[%s] %s", n.Level, n.Message)
	if n.TxURL != "" {
		line += "  " + n.TxURL
	}
	fmt.Println(line)
}
