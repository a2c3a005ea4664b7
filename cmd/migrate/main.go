package main

import (
	"fmt"

	"payment-core/internal/model"
	"payment-core/pkg/config"
	"payment-core/pkg/database"
	"payment-core/pkg/logger"

	"go.uber.org/zap"
)

// 审计表结构迁移 (目前只有 distribution_receipts)
func main() {
	config.Init()
	logger.Init(config.Global.App.Env)
	defer logger.Sync()

	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable TimeZone=Asia/Shanghai",
		config.Global.DB.Host,
		config.Global.DB.User,
		config.Global.DB.Password,
		config.Global.DB.Name,
		config.Global.DB.Port,
	)

	db, err := database.ConnectPostgres(dsn)
	if err != nil {
		logger.Fatal("数据库连接失败", zap.Error(err))
	}

	if err := db.AutoMigrate(model.AllModels()...); err != nil {
		logger.Fatal("迁移失败", zap.Error(err))
	}
	logger.Info("✅ 迁移完成")
}
