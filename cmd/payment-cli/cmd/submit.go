package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "提交一笔支付",
	Long:  `向支付服务提交一笔支付请求，金额为代币最小单位的整数字符串。`,
	Run: func(cmd *cobra.Command, args []string) {
		server, _ := cmd.Flags().GetString("server")
		from, _ := cmd.Flags().GetString("from")
		to, _ := cmd.Flags().GetString("to")
		amount, _ := cmd.Flags().GetString("amount")
		token, _ := cmd.Flags().GetString("token")
		priority, _ := cmd.Flags().GetString("priority")

		body := map[string]string{
			"from":     from,
			"to":       to,
			"amount":   amount,
			"token":    token,
			"priority": priority,
		}
		if err := postJSON(server+"/api/v1/payments", body); err != nil {
			fmt.Printf("❌ 提交失败: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(submitCmd)
	submitCmd.Flags().String("from", "", "付款地址")
	submitCmd.Flags().String("to", "", "收款地址")
	submitCmd.Flags().String("amount", "", "金额 (最小单位整数)")
	submitCmd.Flags().String("token", "ETH", "代币符号")
	submitCmd.Flags().String("priority", "normal", "优先级 (low/normal/high/critical)")
	submitCmd.MarkFlagRequired("from")
	submitCmd.MarkFlagRequired("to")
	submitCmd.MarkFlagRequired("amount")
}
