package execution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"fishermon/internal/exchange"
	"fishermon/internal/strategy"
)

// Trader 驱动 清理→拉取→计算→挂单→休眠 的交易循环。
type Trader struct {
	client   exchange.Client
	retrier  *Retrier
	recorder Recorder
	logger   *zap.Logger
	sleep    sleepFunc

	sleepFor time.Duration
	cooldown time.Duration
	bids     strategy.Strategy
	asks     strategy.Strategy
}

// NewTrader 创建交易器，买单策略需为负 delta，卖单策略需为正 delta。
func NewTrader(client exchange.Client, opts Options, bids, asks strategy.Strategy, logger *zap.Logger) (*Trader, error) {
	if client == nil {
		return nil, errors.New("execution: 交易所客户端不能为空")
	}
	if err := bids.Validate(); err != nil {
		return nil, fmt.Errorf("execution: 买单策略无效: %w", err)
	}
	if !bids.IsBid() {
		return nil, fmt.Errorf("execution: 买单策略需要负的 price_delta, 当前 %s", bids.PriceDelta)
	}
	if err := asks.Validate(); err != nil {
		return nil, fmt.Errorf("execution: 卖单策略无效: %w", err)
	}
	if !asks.IsAsk() {
		return nil, fmt.Errorf("execution: 卖单策略需要正的 price_delta, 当前 %s", asks.PriceDelta)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	recorder := opts.Recorder
	if recorder == nil {
		recorder = nopRecorder{}
	}

	retrier := NewRetrier(RetryPolicy{
		Cooldown:      opts.Cooldown,
		MaxAttempts:   opts.MaxAttempts,
		BackoffFactor: opts.BackoffFactor,
		MaxCooldown:   opts.MaxCooldown,
	}, logger)

	return &Trader{
		client:   client,
		retrier:  retrier,
		recorder: recorder,
		logger:   logger,
		sleep:    sleepContext,
		sleepFor: opts.SleepFor,
		cooldown: opts.Cooldown,
		bids:     bids,
		asks:     asks,
	}, nil
}

// Run 不断执行交易循环，直到出现不可重试的错误或 ctx 被取消。
func (t *Trader) Run(ctx context.Context) error {
	for {
		if _, err := t.Trade(ctx); err != nil {
			if ctx.Err() != nil {
				t.logger.Info("交易循环收到退出信号")
				return nil
			}
			return err
		}
	}
}

// Trade 执行一轮完整的交易循环。
func (t *Trader) Trade(ctx context.Context) (CycleReport, error) {
	report := CycleReport{
		ID:        uuid.NewString(),
		StartedAt: time.Now().UTC(),
	}
	logger := t.logger.With(zap.String("cycle", report.ID))

	cancelled, err := t.ClearAllOrders(ctx)
	report.Cancelled = cancelled
	if err != nil {
		return report, t.fail(ctx, report, "清理挂单失败", err)
	}

	logger.Info("开始交易")
	book, err := Do(ctx, t.retrier, "fetch_order_book", t.client.FetchOrderBook)
	if err != nil {
		return report, t.fail(ctx, report, "获取订单簿失败", err)
	}
	profile, err := Do(ctx, t.retrier, "fetch_profile", t.client.FetchProfile)
	if err != nil {
		return report, t.fail(ctx, report, "获取账户信息失败", err)
	}
	logger.Debug("账户信息",
		zap.Int("currencies", len(profile.Balances)),
		zap.Int("book_bids", len(book.Bids)),
		zap.Int("book_asks", len(book.Asks)),
	)

	// 每一档独立提交，单档被拒不影响其余档位与另一侧
	var placeErr error
	if bestBid, ok := book.BestBid(); ok {
		report.BestBid = bestBid
		specs, err := t.bids.BuildOrders(bestBid)
		if err != nil {
			return report, t.fail(ctx, report, "计算买单阶梯失败", err)
		}
		report.Bids, err = t.PlaceBids(ctx, specs)
		placeErr = multierr.Append(placeErr, err)
	} else {
		logger.Warn("订单簿无买盘，跳过买单")
	}

	if bestAsk, ok := book.BestAsk(); ok {
		report.BestAsk = bestAsk
		specs, err := t.asks.BuildOrders(bestAsk)
		if err != nil {
			return report, t.fail(ctx, report, "计算卖单阶梯失败", err)
		}
		report.Asks, err = t.PlaceAsks(ctx, specs)
		placeErr = multierr.Append(placeErr, err)
	} else {
		logger.Warn("订单簿无卖盘，跳过卖单")
	}

	if placeErr != nil {
		return report, t.fail(ctx, report, "挂单失败", placeErr)
	}

	report.FinishedAt = time.Now().UTC()
	t.recorder.RecordCycle(ctx, report)
	logger.Info("交易循环完成",
		zap.Int("cancelled", report.Cancelled),
		zap.Int("bids", len(report.Bids)),
		zap.Int("asks", len(report.Asks)),
		zap.Duration("elapsed", report.FinishedAt.Sub(report.StartedAt)),
	)

	if err := t.sleep(ctx, t.sleepFor); err != nil {
		return report, err
	}
	return report, nil
}

// ClearAllOrders 反复撤销全部挂单，直到交易所报告没有挂单，返回撤单数量。
func (t *Trader) ClearAllOrders(ctx context.Context) (int, error) {
	t.logger.Info("清理挂单")

	cancelled := 0
	for {
		orders, err := Do(ctx, t.retrier, "list_open_orders", t.client.ListOpenOrders)
		if err != nil {
			return cancelled, err
		}
		if len(orders) == 0 {
			return cancelled, nil
		}

		for _, order := range orders {
			if err := t.cancel(ctx, order); err != nil {
				return cancelled, err
			}
			cancelled++
		}

		if err := t.sleep(ctx, t.cooldown); err != nil {
			return cancelled, err
		}
	}
}

func (t *Trader) cancel(ctx context.Context, order exchange.OpenOrder) error {
	switch order.Side {
	case exchange.SideBid:
		return t.retrier.Run(ctx, "cancel_bid", func(ctx context.Context) error {
			return t.client.CancelBid(ctx, order.ID)
		})
	case exchange.SideAsk:
		return t.retrier.Run(ctx, "cancel_ask", func(ctx context.Context) error {
			return t.client.CancelAsk(ctx, order.ID)
		})
	default:
		return fmt.Errorf("execution: 挂单 %s 方向未知: %q", order.ID, order.Side)
	}
}

// PlaceBids 逐档提交买单。
func (t *Trader) PlaceBids(ctx context.Context, specs []strategy.OrderSpec) ([]exchange.Order, error) {
	return t.placeOrders(ctx, exchange.SideBid, specs)
}

// PlaceAsks 逐档提交卖单。
func (t *Trader) PlaceAsks(ctx context.Context, specs []strategy.OrderSpec) ([]exchange.Order, error) {
	return t.placeOrders(ctx, exchange.SideAsk, specs)
}

// placeOrders 顺序提交每一档，被拒的档位汇总返回，已提交的档位保留，不做回滚。
func (t *Trader) placeOrders(ctx context.Context, side exchange.Side, specs []strategy.OrderSpec) ([]exchange.Order, error) {
	create := t.client.CreateBid
	if side == exchange.SideAsk {
		create = t.client.CreateAsk
	}

	var errs error
	placed := make([]exchange.Order, 0, len(specs))
	for i, spec := range specs {
		// 同一档的重试沿用同一个客户端订单号
		rungCtx := exchange.WithClientOrderID(ctx, uuid.New())
		order, err := Do(rungCtx, t.retrier, "create_"+string(side), func(ctx context.Context) (exchange.Order, error) {
			return create(ctx, spec.Amount, spec.Price)
		})
		if err != nil {
			if ctx.Err() != nil {
				return placed, multierr.Append(errs, err)
			}
			t.logger.Warn("单档下单被拒",
				zap.String("side", string(side)),
				zap.Int("rung", i+1),
				zap.String("amount", spec.Amount.String()),
				zap.String("price", spec.Price.String()),
				zap.Error(err),
			)
			errs = multierr.Append(errs, fmt.Errorf("execution: 第 %d 档 %s 下单失败: %w", i+1, side, err))
			continue
		}

		t.logger.Info("已挂单",
			zap.String("side", string(side)),
			zap.String("amount", spec.Amount.String()),
			zap.String("price", spec.Price.String()),
			zap.String("order_id", order.ID),
		)
		placed = append(placed, order)
	}
	return placed, errs
}

func (t *Trader) fail(ctx context.Context, report CycleReport, msg string, err error) error {
	if ctx.Err() != nil {
		return err
	}
	t.recorder.RecordError(ctx, msg, err, map[string]interface{}{
		"cycle":     report.ID,
		"cancelled": report.Cancelled,
		"bids":      len(report.Bids),
		"asks":      len(report.Asks),
	})
	return fmt.Errorf("execution: %s: %w", msg, err)
}
