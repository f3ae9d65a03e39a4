package exchange

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// MarketData 提供订单簿行情。
type MarketData interface {
	FetchOrderBook(ctx context.Context) (OrderBook, error)
}

// PaperClient 使用真实行情、在内存中模拟挂单，用于 dry-run。
type PaperClient struct {
	market MarketData
	logger *zap.Logger

	mu       sync.Mutex
	orders   map[string]paperOrder
	seq      int64
	balances map[string]Balance
}

type paperOrder struct {
	order OpenOrder
	seq   int64
}

var _ Client = (*PaperClient)(nil)

// NewPaperClient 创建模拟客户端，balances 为初始余额。
func NewPaperClient(market MarketData, balances map[string]decimal.Decimal, logger *zap.Logger) *PaperClient {
	if logger == nil {
		logger = zap.NewNop()
	}

	initial := make(map[string]Balance, len(balances))
	for code, amount := range balances {
		initial[code] = Balance{Total: amount, Free: amount, Used: decimal.Zero}
	}

	return &PaperClient{
		market:   market,
		logger:   logger,
		orders:   make(map[string]paperOrder),
		balances: initial,
	}
}

// ListOpenOrders 按下单顺序返回模拟挂单。
func (p *PaperClient) ListOpenOrders(ctx context.Context) ([]OpenOrder, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	resting := make([]paperOrder, 0, len(p.orders))
	for _, o := range p.orders {
		resting = append(resting, o)
	}
	sort.Slice(resting, func(i, j int) bool { return resting[i].seq < resting[j].seq })

	orders := make([]OpenOrder, len(resting))
	for i, o := range resting {
		orders[i] = o.order
	}
	return orders, nil
}

// CancelBid 撤销模拟买单。
func (p *PaperClient) CancelBid(ctx context.Context, id string) error {
	return p.cancel(ctx, SideBid, id)
}

// CancelAsk 撤销模拟卖单。
func (p *PaperClient) CancelAsk(ctx context.Context, id string) error {
	return p.cancel(ctx, SideAsk, id)
}

func (p *PaperClient) cancel(ctx context.Context, side Side, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	o, ok := p.orders[id]
	if !ok {
		return nil
	}
	if o.order.Side != side {
		return StatusError("cancel_"+string(side), http.StatusUnprocessableEntity,
			fmt.Errorf("订单 %s 方向为 %s", id, o.order.Side))
	}
	delete(p.orders, id)
	return nil
}

// CreateBid 记录模拟买单。
func (p *PaperClient) CreateBid(ctx context.Context, amount, price decimal.Decimal) (Order, error) {
	return p.create(ctx, SideBid, amount, price)
}

// CreateAsk 记录模拟卖单。
func (p *PaperClient) CreateAsk(ctx context.Context, amount, price decimal.Decimal) (Order, error) {
	return p.create(ctx, SideAsk, amount, price)
}

func (p *PaperClient) create(ctx context.Context, side Side, amount, price decimal.Decimal) (Order, error) {
	if err := ctx.Err(); err != nil {
		return Order{}, err
	}
	if !amount.IsPositive() || !price.IsPositive() {
		return Order{}, StatusError("create_"+string(side), http.StatusUnprocessableEntity,
			fmt.Errorf("无效委托 amount=%s price=%s", amount, price))
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	id := uuid.NewString()
	if clientID, ok := ClientOrderIDFromContext(ctx); ok {
		id = clientID.String()
		// 重试的请求已被受理时返回原订单
		if existing, found := p.orders[id]; found {
			o := existing.order
			return Order{ID: o.ID, ClientOrderID: id, Side: o.Side, Amount: o.Amount, Price: o.Price, Status: "open"}, nil
		}
	}

	p.seq++
	p.orders[id] = paperOrder{
		order: OpenOrder{ID: id, Side: side, Amount: amount, Price: price},
		seq:   p.seq,
	}

	p.logger.Debug("模拟挂单",
		zap.String("id", id),
		zap.String("side", string(side)),
		zap.String("amount", amount.String()),
		zap.String("price", price.String()),
	)

	return Order{ID: id, ClientOrderID: id, Side: side, Amount: amount, Price: price, Status: "open"}, nil
}

// FetchOrderBook 透传真实行情。
func (p *PaperClient) FetchOrderBook(ctx context.Context) (OrderBook, error) {
	return p.market.FetchOrderBook(ctx)
}

// FetchProfile 返回初始余额。
func (p *PaperClient) FetchProfile(ctx context.Context) (Profile, error) {
	if err := ctx.Err(); err != nil {
		return Profile{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	balances := make(map[string]Balance, len(p.balances))
	for code, b := range p.balances {
		balances[code] = b
	}
	return Profile{Balances: balances, Timestamp: time.Now().UTC()}, nil
}
