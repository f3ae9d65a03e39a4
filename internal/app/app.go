package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"fishermon/internal/config"
	"fishermon/internal/exchange"
	"fishermon/internal/execution"
	"fishermon/internal/monitor"
	"fishermon/internal/store"
)

// App 聚合核心依赖并驱动系统生命周期。
type App struct {
	cfg     *config.Config
	logger  *zap.Logger
	monitor *monitor.Service
	trader  *execution.Trader
}

// New 创建 App 实例。store 为空时不启用监控。
func New(cfg *config.Config, logger *zap.Logger, store *store.Store) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	client, err := newExchangeClient(cfg.Exchange, logger)
	if err != nil {
		return nil, fmt.Errorf("初始化交易所客户端失败: %w", err)
	}

	return newApp(cfg, logger, store, client)
}

func newApp(cfg *config.Config, logger *zap.Logger, store *store.Store, client exchange.Client) (*App, error) {
	a := &App{cfg: cfg, logger: logger}

	opts := execution.Options{
		SleepFor:      cfg.Trader.SleepFor,
		Cooldown:      cfg.Trader.Cooldown,
		MaxAttempts:   cfg.Trader.Retry.MaxAttempts,
		BackoffFactor: cfg.Trader.Retry.BackoffFactor,
		MaxCooldown:   cfg.Trader.Retry.MaxCooldown,
	}

	if cfg.Monitor.Enabled && store != nil {
		svc, err := monitor.NewService(store, logger)
		if err != nil {
			return nil, fmt.Errorf("初始化监控服务失败: %w", err)
		}
		a.monitor = svc
		opts.Recorder = svc
	}

	trader, err := execution.NewTrader(client, opts, cfg.Bids, cfg.Asks, logger)
	if err != nil {
		return nil, fmt.Errorf("初始化交易器失败: %w", err)
	}
	a.trader = trader

	return a, nil
}

// Run 运行交易循环与监控接口，返回首个致命错误。
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("做市系统已初始化",
		zap.String("environment", a.cfg.App.Environment),
		zap.String("exchange", a.cfg.Exchange.Name),
		zap.String("market", a.cfg.Exchange.Market),
		zap.Bool("production", a.cfg.Exchange.Production),
		zap.Bool("dry_run", a.cfg.Exchange.DryRun),
	)

	g, gctx := errgroup.WithContext(ctx)

	if a.monitor != nil {
		a.monitor.RecordStartup(gctx, monitor.StartupPayload{
			Environment: a.cfg.App.Environment,
			Exchange:    a.cfg.Exchange.Name,
			Market:      a.cfg.Exchange.Market,
			Production:  a.cfg.Exchange.Production,
			DryRun:      a.cfg.Exchange.DryRun,
		})
		if a.cfg.Monitor.Port > 0 {
			g.Go(func() error {
				return serveMonitor(gctx, a.monitor, a.cfg.Monitor.Port, a.logger)
			})
		}
	}

	g.Go(func() error {
		return a.trader.Run(gctx)
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("系统异常退出: %w", err)
	}

	a.logger.Info("系统收到退出信号，正在停止")
	return nil
}

func newExchangeClient(cfg config.ExchangeConfig, logger *zap.Logger) (exchange.Client, error) {
	live, err := exchange.NewClient(cfg, logger)
	if err != nil {
		return nil, err
	}
	if !cfg.DryRun {
		return live, nil
	}

	balances, err := paperBalances(cfg.PaperBalance)
	if err != nil {
		return nil, err
	}
	logger.Info("交易所客户端处于模拟模式", zap.String("market", cfg.Market))
	return exchange.NewPaperClient(live, balances, logger), nil
}

func paperBalances(raw map[string]string) (map[string]decimal.Decimal, error) {
	balances := make(map[string]decimal.Decimal, len(raw))
	for asset, value := range raw {
		amount, err := decimal.NewFromString(strings.TrimSpace(value))
		if err != nil {
			return nil, fmt.Errorf("模拟余额 %s 无效: %w", asset, err)
		}
		balances[strings.ToUpper(asset)] = amount
	}
	return balances, nil
}
