package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/gec682416/onchain-random-game/pkg/hdwallet"
	"github.com/gec682416/onchain-random-game/pkg/keystore"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "初始化一个新的钱包 (生成助记词并加密保存)",
	Long:  `生成新的 BIP-39 助记词，并使用输入的密码加密，保存为 keystore 文件。wager-server 与 wager-cli 通过 wallet.keystore_path 读取。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		outputFile, _ := cmd.Flags().GetString("output")
		words, _ := cmd.Flags().GetInt("words")
		if _, err := os.Stat(outputFile); err == nil {
			return fmt.Errorf("文件 %s 已存在，请先删除或指定其他文件名", outputFile)
		}

		bitSize := 128
		if words == 24 {
			bitSize = 256
		} else if words != 12 {
			return fmt.Errorf("--words 只支持 12 或 24")
		}

		fmt.Println("正在初始化新钱包...")
		fmt.Println("请设置一个强密码来保护您的助记词。")

		// 1. 输入密码
		password, err := promptPassword("输入密码: ")
		if err != nil {
			return err
		}
		confirm, err := promptPassword("确认密码: ")
		if err != nil {
			return err
		}
		if password != confirm {
			return fmt.Errorf("两次输入的密码不一致")
		}
		if len(password) < 6 {
			return fmt.Errorf("密码长度至少需要 6 位")
		}

		// 2. 生成助记词
		mnemonic, err := hdwallet.NewMnemonic(bitSize)
		if err != nil {
			return fmt.Errorf("生成助记词失败: %w", err)
		}

		// 3. 加密并保存
		encrypted, err := keystore.EncryptMnemonic(mnemonic, password)
		if err != nil {
			return fmt.Errorf("加密失败: %w", err)
		}
		if err := encrypted.SaveToFile(outputFile); err != nil {
			return fmt.Errorf("保存文件失败: %w", err)
		}

		w, err := hdwallet.FromMnemonic(mnemonic, "")
		if err != nil {
			return err
		}
		_, addr, err := w.Account(hdwallet.DefaultBasePath, 0)
		if err != nil {
			return err
		}

		fmt.Printf("\n钱包已初始化\n")
		fmt.Printf("文件位置: %s\n", outputFile)
		fmt.Printf("ID: %s\n", encrypted.Id)
		fmt.Printf("账户 #0: %s\n", addr.Hex())
		fmt.Println("\n警告: 请务必记住您的密码！如果丢失密码，您将无法恢复钱包。")

		fmt.Print("\n是否需要现在显示助记词以便备份? (y/N): ")
		input, _ := bufio.NewReader(os.Stdin).ReadString('\n')
		input = strings.TrimSpace(strings.ToLower(input))
		if input == "y" || input == "yes" {
			fmt.Println("\n---------------------------------------------------")
			fmt.Println("助记词 (请抄写在纸上并安全保管):")
			fmt.Println(mnemonic)
			fmt.Println("---------------------------------------------------")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().StringP("output", "o", "wallet.json", "输出的 Keystore 文件名")
	initCmd.Flags().Int("words", 12, "助记词长度 (12 或 24)")
}
