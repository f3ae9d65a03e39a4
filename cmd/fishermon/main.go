package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"fishermon/internal/app"
	"fishermon/internal/config"
	"fishermon/internal/log"
	"fishermon/internal/store"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "配置文件路径，默认使用 configs/fishermon.yaml")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	logger, err := log.NewLogger(cfg.Logging, cfg.App.Environment)
	if err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		os.Exit(1)
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("系统运行异常", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}

	logger.Info("系统已安全退出")
	_ = logger.Sync()
}

func run(cfg *config.Config, logger *zap.Logger) error {
	var sqliteStore *store.Store
	if cfg.Monitor.Enabled {
		s, err := store.NewSQLite(cfg.Database)
		if err != nil {
			return fmt.Errorf("初始化数据库失败: %w", err)
		}
		defer func() {
			if closeErr := s.Close(); closeErr != nil {
				logger.Warn("关闭数据库失败", zap.Error(closeErr))
			}
		}()
		sqliteStore = s
	}

	fishermon, err := app.New(cfg, logger, sqliteStore)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return fishermon.Run(ctx)
}
