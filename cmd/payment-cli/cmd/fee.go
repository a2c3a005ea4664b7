package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var feeCmd = &cobra.Command{
	Use:   "fee",
	Short: "计算或预估费用",
}

var feeCalculateCmd = &cobra.Command{
	Use:   "calculate",
	Short: "计算单笔费用拆分",
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
		if err := postJSON(server+"/api/v1/fees/calculate", body); err != nil {
			fmt.Printf("❌ 计算失败: %v\n", err)
			os.Exit(1)
		}
	},
}

var feeEstimateCmd = &cobra.Command{
	Use:   "estimate",
	Short: "预估费用区间",
	Run: func(cmd *cobra.Command, args []string) {
		server, _ := cmd.Flags().GetString("server")
		amount, _ := cmd.Flags().GetString("amount")
		token, _ := cmd.Flags().GetString("token")
		priority, _ := cmd.Flags().GetString("priority")

		body := map[string]string{
			"amount":   amount,
			"token":    token,
			"priority": priority,
		}
		if err := postJSON(server+"/api/v1/fees/estimate", body); err != nil {
			fmt.Printf("❌ 预估失败: %v\n", err)
			os.Exit(1)
		}
	},
}

var feeAnalyticsCmd = &cobra.Command{
	Use:   "analytics",
	Short: "查看费用统计与趋势",
	Run: func(cmd *cobra.Command, args []string) {
		server, _ := cmd.Flags().GetString("server")
		if err := getJSON(server + "/api/v1/fees/analytics"); err != nil {
			fmt.Printf("❌ 查询失败: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(feeCmd)
	feeCmd.AddCommand(feeCalculateCmd, feeEstimateCmd, feeAnalyticsCmd)

	for _, c := range []*cobra.Command{feeCalculateCmd, feeEstimateCmd} {
		c.Flags().String("from", "", "付款地址")
		c.Flags().String("to", "", "收款地址")
		c.Flags().String("amount", "", "金额 (最小单位整数)")
		c.Flags().String("token", "ETH", "代币符号")
		c.Flags().String("priority", "normal", "优先级")
	}
}
