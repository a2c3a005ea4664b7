package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status [tx_id]",
	Short: "查询支付状态",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		server, _ := cmd.Flags().GetString("server")
		if err := getJSON(server + "/api/v1/payments/" + args[0]); err != nil {
			fmt.Printf("❌ 查询失败: %v\n", err)
			os.Exit(1)
		}
	},
}

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "查看处理指标",
	Run: func(cmd *cobra.Command, args []string) {
		server, _ := cmd.Flags().GetString("server")
		if err := getJSON(server + "/api/v1/payments/metrics"); err != nil {
			fmt.Printf("❌ 查询失败: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(metricsCmd)
}
