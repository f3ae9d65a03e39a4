package exchange

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	ccxt "github.com/ccxt/ccxt/go/v4"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"fishermon/internal/config"
)

// ccxtAPI 为本客户端用到的 ccxt 方法子集。
type ccxtAPI interface {
	FetchOpenOrders(options ...ccxt.FetchOpenOrdersOptions) ([]ccxt.Order, error)
	CancelOrder(id string, options ...ccxt.CancelOrderOptions) (ccxt.Order, error)
	CreateLimitOrder(symbol string, side string, amount float64, price float64, options ...ccxt.CreateLimitOrderOptions) (ccxt.Order, error)
	FetchOrderBook(symbol string, options ...ccxt.FetchOrderBookOptions) (ccxt.OrderBook, error)
	FetchBalance(params ...interface{}) (ccxt.Balances, error)
}

// CCXTClient 通过 ccxt 实现 Client。
type CCXTClient struct {
	cfg      config.ExchangeConfig
	logger   *zap.Logger
	exchange ccxtAPI
	symbol   string
	limiter  *rate.Limiter
}

var _ Client = (*CCXTClient)(nil)

// NewClient 根据配置构造 ccxt 客户端，production=false 时使用测试网。
func NewClient(cfg config.ExchangeConfig, logger *zap.Logger) (*CCXTClient, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	ex, err := newCCXTExchange(cfg)
	if err != nil {
		return nil, err
	}

	return newClient(cfg, ex, logger), nil
}

func newClient(cfg config.ExchangeConfig, ex ccxtAPI, logger *zap.Logger) *CCXTClient {
	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	return &CCXTClient{
		cfg:      cfg,
		logger:   logger,
		exchange: ex,
		symbol:   cfg.Market,
		limiter:  limiter,
	}
}

func newCCXTExchange(cfg config.ExchangeConfig) (ccxtAPI, error) {
	userConfig := map[string]interface{}{
		"enableRateLimit": true,
	}
	if cfg.APIKey != "" {
		userConfig["apiKey"] = cfg.APIKey
	}
	if cfg.APISecret != "" {
		userConfig["secret"] = cfg.APISecret
	}
	if cfg.APIPass != "" {
		userConfig["password"] = cfg.APIPass
	}
	if cfg.Wallet != "" {
		userConfig["walletAddress"] = cfg.Wallet
	}
	if cfg.PrivateKey != "" {
		userConfig["privateKey"] = cfg.PrivateKey
	}

	sandbox := !cfg.Production

	switch strings.ToLower(cfg.Name) {
	case "binance":
		ex := ccxt.NewBinance(userConfig)
		if sandbox {
			ex.SetSandboxMode(true)
		}
		return ex, nil
	case "binanceusdm":
		userConfig["options"] = map[string]interface{}{
			"adjustForTimeDifference": true,
			"defaultType":             "future",
		}
		ex := ccxt.NewBinanceusdm(userConfig)
		if sandbox {
			ex.SetSandboxMode(true)
		}
		return ex, nil
	case "hyperliquid":
		ex := ccxt.NewHyperliquid(userConfig)
		if sandbox {
			ex.SetSandboxMode(true)
		}
		return ex, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedExchange, cfg.Name)
	}
}

// ListOpenOrders 获取当前交易对的全部挂单。
func (c *CCXTClient) ListOpenOrders(ctx context.Context) ([]OpenOrder, error) {
	var raw []ccxt.Order
	err := c.call(ctx, "list_open_orders", func() error {
		orders, err := c.exchange.FetchOpenOrders(ccxt.WithFetchOpenOrdersSymbol(c.symbol))
		if err != nil {
			return err
		}
		raw = orders
		return nil
	})
	if err != nil {
		return nil, err
	}

	orders := make([]OpenOrder, 0, len(raw))
	for _, o := range raw {
		id := stringValue(o.Id)
		if id == "" {
			return nil, OtherError("list_open_orders", fmt.Errorf("挂单缺少订单号 (side=%q)", stringValue(o.Side)))
		}
		side, ok := sideFromCCXT(stringValue(o.Side))
		if !ok {
			// 原样交给上层，由清理阶段判定为无法撤销
			side = Side(stringValue(o.Side))
			c.logger.Warn("挂单方向无法识别", zap.String("id", id), zap.String("side", string(side)))
		}
		orders = append(orders, OpenOrder{
			ID:     id,
			Side:   side,
			Amount: decimalValue(o.Remaining, o.Amount),
			Price:  decimalValue(o.Price),
		})
	}
	return orders, nil
}

// CancelBid 撤销买单。
func (c *CCXTClient) CancelBid(ctx context.Context, id string) error {
	return c.cancel(ctx, "cancel_bid", id)
}

// CancelAsk 撤销卖单。
func (c *CCXTClient) CancelAsk(ctx context.Context, id string) error {
	return c.cancel(ctx, "cancel_ask", id)
}

func (c *CCXTClient) cancel(ctx context.Context, op, id string) error {
	err := c.call(ctx, op, func() error {
		_, err := c.exchange.CancelOrder(id, ccxt.WithCancelOrderSymbol(c.symbol))
		return err
	})
	if errors.Is(err, ErrOrderNotFound) {
		// 订单已成交或已撤销，清理阶段会再次轮询
		c.logger.Debug("撤单时订单已不存在", zap.String("id", id))
		return nil
	}
	return err
}

// CreateBid 提交限价买单。
func (c *CCXTClient) CreateBid(ctx context.Context, amount, price decimal.Decimal) (Order, error) {
	return c.create(ctx, SideBid, amount, price)
}

// CreateAsk 提交限价卖单。
func (c *CCXTClient) CreateAsk(ctx context.Context, amount, price decimal.Decimal) (Order, error) {
	return c.create(ctx, SideAsk, amount, price)
}

func (c *CCXTClient) create(ctx context.Context, side Side, amount, price decimal.Decimal) (Order, error) {
	id, ok := ClientOrderIDFromContext(ctx)
	if !ok {
		id = uuid.New()
	}
	clientID := c.clientOrderID(id)
	params := map[string]interface{}{
		"clientOrderId": clientID,
	}

	var raw ccxt.Order
	err := c.call(ctx, "create_"+string(side), func() error {
		order, err := c.exchange.CreateLimitOrder(
			c.symbol,
			ccxtSide(side),
			amount.InexactFloat64(),
			price.InexactFloat64(),
			ccxt.WithCreateLimitOrderParams(params),
		)
		if err != nil {
			return err
		}
		raw = order
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	return Order{
		ID:            stringValue(raw.Id),
		ClientOrderID: clientID,
		Side:          side,
		Amount:        amount,
		Price:         price,
		Status:        stringValue(raw.Status),
	}, nil
}

// FetchOrderBook 获取订单簿快照。
func (c *CCXTClient) FetchOrderBook(ctx context.Context) (OrderBook, error) {
	depth := int64(c.cfg.BookDepth)
	if depth <= 0 {
		depth = 20
	}

	var raw ccxt.OrderBook
	err := c.call(ctx, "fetch_order_book", func() error {
		book, err := c.exchange.FetchOrderBook(c.symbol, ccxt.WithFetchOrderBookLimit(depth))
		if err != nil {
			return err
		}
		raw = book
		return nil
	})
	if err != nil {
		return OrderBook{}, err
	}

	return convertOrderBook(c.symbol, raw), nil
}

// FetchProfile 获取账户余额。
func (c *CCXTClient) FetchProfile(ctx context.Context) (Profile, error) {
	var raw ccxt.Balances
	err := c.call(ctx, "fetch_profile", func() error {
		balances, err := c.exchange.FetchBalance()
		if err != nil {
			return err
		}
		raw = balances
		return nil
	})
	if err != nil {
		return Profile{}, err
	}

	return convertBalances(raw), nil
}

// call 执行单次交易所调用并归类错误，重试由上层负责。
func (c *CCXTClient) call(ctx context.Context, op string, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	start := time.Now()
	err := fn()
	if err != nil {
		classified := Classify(op, err)
		c.logger.Debug("交易所调用失败",
			zap.String("operation", op),
			zap.Duration("latency", time.Since(start)),
			zap.Error(classified),
		)
		return classified
	}
	return nil
}

func (c *CCXTClient) clientOrderID(id uuid.UUID) string {
	if strings.EqualFold(c.cfg.Name, "hyperliquid") {
		return "0x" + hex.EncodeToString(id[:])
	}
	return "fm" + hex.EncodeToString(id[:])
}

func convertOrderBook(symbol string, ob ccxt.OrderBook) OrderBook {
	var ts time.Time
	if ob.Timestamp != nil {
		ts = time.UnixMilli(*ob.Timestamp).UTC()
	} else {
		ts = time.Now().UTC()
	}

	return OrderBook{
		Symbol:    symbol,
		Bids:      convertLevels(ob.Bids),
		Asks:      convertLevels(ob.Asks),
		Timestamp: ts,
	}
}

func convertLevels(levels [][]float64) []PriceLevel {
	out := make([]PriceLevel, 0, len(levels))
	for _, level := range levels {
		if len(level) < 2 {
			continue
		}
		out = append(out, PriceLevel{
			Price: decimal.NewFromFloat(level[0]),
			Size:  decimal.NewFromFloat(level[1]),
		})
	}
	return out
}

func convertBalances(b ccxt.Balances) Profile {
	profile := Profile{
		Balances:  make(map[string]Balance),
		Timestamp: time.Now().UTC(),
	}
	for code, total := range b.Total {
		if total == nil {
			continue
		}
		balance := Balance{Total: decimal.NewFromFloat(*total)}
		if free, ok := b.Free[code]; ok {
			balance.Free = decimalValue(free)
		}
		if used, ok := b.Used[code]; ok {
			balance.Used = decimalValue(used)
		}
		profile.Balances[code] = balance
	}
	return profile
}

func sideFromCCXT(side string) (Side, bool) {
	switch strings.ToLower(side) {
	case "buy":
		return SideBid, true
	case "sell":
		return SideAsk, true
	default:
		return "", false
	}
}

func ccxtSide(side Side) string {
	if side == SideBid {
		return "buy"
	}
	return "sell"
}

func stringValue(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

// decimalValue 返回第一个非空值。
func decimalValue(values ...*float64) decimal.Decimal {
	for _, v := range values {
		if v != nil {
			return decimal.NewFromFloat(*v)
		}
	}
	return decimal.Zero
}
