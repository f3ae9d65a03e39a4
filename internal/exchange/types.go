package exchange

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type clientOrderIDKey struct{}

// WithClientOrderID 为一次下单绑定客户端订单号，重试时复用同一个号。
func WithClientOrderID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, clientOrderIDKey{}, id)
}

// ClientOrderIDFromContext 读取 WithClientOrderID 绑定的订单号。
func ClientOrderIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(clientOrderIDKey{}).(uuid.UUID)
	return id, ok
}

// Client 是交易循环依赖的交易所能力。
type Client interface {
	ListOpenOrders(ctx context.Context) ([]OpenOrder, error)
	CancelBid(ctx context.Context, id string) error
	CancelAsk(ctx context.Context, id string) error
	CreateBid(ctx context.Context, amount, price decimal.Decimal) (Order, error)
	CreateAsk(ctx context.Context, amount, price decimal.Decimal) (Order, error)
	FetchOrderBook(ctx context.Context) (OrderBook, error)
	FetchProfile(ctx context.Context) (Profile, error)
}

// Side 区分买单与卖单。
type Side string

const (
	SideBid Side = "bid"
	SideAsk Side = "ask"
)

// OpenOrder 为挂单，仅用于撤单。
type OpenOrder struct {
	ID     string          `json:"id"`
	Side   Side            `json:"side"`
	Amount decimal.Decimal `json:"amount"`
	Price  decimal.Decimal `json:"price"`
}

// Order 为下单后交易所返回的订单。
type Order struct {
	ID            string          `json:"id"`
	ClientOrderID string          `json:"client_order_id,omitempty"`
	Side          Side            `json:"side"`
	Amount        decimal.Decimal `json:"amount"`
	Price         decimal.Decimal `json:"price"`
	Status        string          `json:"status,omitempty"`
}

// PriceLevel 表示盘口档位。
type PriceLevel struct {
	Price decimal.Decimal `json:"price"`
	Size  decimal.Decimal `json:"size"`
}

// OrderBook 为订单簿快照，两侧均按最优价在前排序。
type OrderBook struct {
	Symbol    string       `json:"symbol"`
	Bids      []PriceLevel `json:"bids"`
	Asks      []PriceLevel `json:"asks"`
	Timestamp time.Time    `json:"timestamp"`
}

// BestBid 返回最优买价。
func (b OrderBook) BestBid() (decimal.Decimal, bool) {
	if len(b.Bids) == 0 {
		return decimal.Zero, false
	}
	return b.Bids[0].Price, true
}

// BestAsk 返回最优卖价。
func (b OrderBook) BestAsk() (decimal.Decimal, bool) {
	if len(b.Asks) == 0 {
		return decimal.Zero, false
	}
	return b.Asks[0].Price, true
}

// Balance 为单个币种的余额。
type Balance struct {
	Total decimal.Decimal `json:"total"`
	Free  decimal.Decimal `json:"free"`
	Used  decimal.Decimal `json:"used"`
}

// Profile 为账户概况。
type Profile struct {
	Balances  map[string]Balance `json:"balances"`
	Timestamp time.Time          `json:"timestamp"`
}
