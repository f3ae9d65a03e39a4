package exchange

import (
	"context"
	"encoding/hex"
	"strings"
	"testing"

	ccxt "github.com/ccxt/ccxt/go/v4"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"fishermon/internal/config"
)

type fakeCCXT struct {
	openOrders []ccxt.Order
	book       ccxt.OrderBook
	balances   ccxt.Balances
	cancelErr  error
	createErr  error

	cancelled []string
	created   []createCall
}

type createCall struct {
	symbol   string
	side     string
	amount   float64
	price    float64
	clientID string
}

func (f *fakeCCXT) FetchOpenOrders(options ...ccxt.FetchOpenOrdersOptions) ([]ccxt.Order, error) {
	return f.openOrders, nil
}

func (f *fakeCCXT) CancelOrder(id string, options ...ccxt.CancelOrderOptions) (ccxt.Order, error) {
	f.cancelled = append(f.cancelled, id)
	return ccxt.Order{}, f.cancelErr
}

func (f *fakeCCXT) CreateLimitOrder(symbol string, side string, amount float64, price float64, options ...ccxt.CreateLimitOrderOptions) (ccxt.Order, error) {
	var opts ccxt.CreateLimitOrderOptionsStruct
	for _, o := range options {
		o(&opts)
	}
	call := createCall{symbol: symbol, side: side, amount: amount, price: price}
	if opts.Params != nil {
		call.clientID, _ = (*opts.Params)["clientOrderId"].(string)
	}
	f.created = append(f.created, call)
	if f.createErr != nil {
		return ccxt.Order{}, f.createErr
	}
	id := "ex-1"
	status := "open"
	return ccxt.Order{Id: &id, Status: &status}, nil
}

func (f *fakeCCXT) FetchOrderBook(symbol string, options ...ccxt.FetchOrderBookOptions) (ccxt.OrderBook, error) {
	return f.book, nil
}

func (f *fakeCCXT) FetchBalance(params ...interface{}) (ccxt.Balances, error) {
	return f.balances, nil
}

func strPtr(s string) *string     { return &s }
func floatPtr(f float64) *float64 { return &f }

func newTestClient(fake *fakeCCXT) *CCXTClient {
	return newClient(config.ExchangeConfig{Name: "binance", Market: "BTC/USDT", BookDepth: 5}, fake, zap.NewNop())
}

func TestCCXTClient_ListOpenOrders(t *testing.T) {
	fake := &fakeCCXT{openOrders: []ccxt.Order{
		{Id: strPtr("1"), Side: strPtr("buy"), Price: floatPtr(100), Amount: floatPtr(2), Remaining: floatPtr(1.5)},
		{Id: strPtr("2"), Side: strPtr("sell"), Price: floatPtr(110), Amount: floatPtr(3)},
		{Id: strPtr("3"), Side: strPtr("mystery")},
	}}

	orders, err := newTestClient(fake).ListOpenOrders(context.Background())
	require.NoError(t, err)
	require.Len(t, orders, 3)

	assert.Equal(t, "1", orders[0].ID)
	assert.Equal(t, "2", orders[1].ID)
	assert.Equal(t, SideBid, orders[0].Side)
	assert.True(t, orders[0].Amount.Equal(decimal.RequireFromString("1.5")))
	assert.Equal(t, SideAsk, orders[1].Side)
	assert.True(t, orders[1].Amount.Equal(decimal.NewFromInt(3)))
	assert.True(t, orders[1].Price.Equal(decimal.NewFromInt(110)))

	assert.Equal(t, "3", orders[2].ID)
	assert.Equal(t, Side("mystery"), orders[2].Side)
}

func TestCCXTClient_ListOpenOrdersRejectsMissingID(t *testing.T) {
	fake := &fakeCCXT{openOrders: []ccxt.Order{
		{Id: strPtr("1"), Side: strPtr("buy")},
		{Side: strPtr("sell")},
	}}

	_, err := newTestClient(fake).ListOpenOrders(context.Background())
	require.Error(t, err)

	var exErr *Error
	require.ErrorAs(t, err, &exErr)
	assert.Equal(t, KindOther, exErr.Kind)
	assert.False(t, IsRetryable(err))
}

func TestCCXTClient_CancelTreatsMissingOrderAsDone(t *testing.T) {
	fake := &fakeCCXT{cancelErr: &ccxt.Error{Type: ccxt.OrderNotFoundErrType, Message: "unknown order"}}
	client := newTestClient(fake)

	require.NoError(t, client.CancelBid(context.Background(), "42"))
	assert.Equal(t, []string{"42"}, fake.cancelled)
}

func TestCCXTClient_CancelClassifiesFailures(t *testing.T) {
	fake := &fakeCCXT{cancelErr: &ccxt.Error{Type: ccxt.NetworkErrorErrType, Message: "reset"}}

	err := newTestClient(fake).CancelAsk(context.Background(), "7")
	require.Error(t, err)
	assert.True(t, IsRetryable(err))
}

func TestCCXTClient_CreateOrders(t *testing.T) {
	fake := &fakeCCXT{}
	client := newTestClient(fake)

	bid, err := client.CreateBid(context.Background(), decimal.RequireFromString("0.25"), decimal.RequireFromString("99.5"))
	require.NoError(t, err)
	ask, err := client.CreateAsk(context.Background(), decimal.RequireFromString("0.5"), decimal.RequireFromString("101"))
	require.NoError(t, err)

	require.Len(t, fake.created, 2)
	assert.Equal(t, createCall{symbol: "BTC/USDT", side: "buy", amount: 0.25, price: 99.5, clientID: bid.ClientOrderID}, fake.created[0])
	assert.Equal(t, createCall{symbol: "BTC/USDT", side: "sell", amount: 0.5, price: 101, clientID: ask.ClientOrderID}, fake.created[1])

	assert.Equal(t, "ex-1", bid.ID)
	assert.Equal(t, SideBid, bid.Side)
	assert.True(t, strings.HasPrefix(bid.ClientOrderID, "fm"))
	assert.NotEqual(t, bid.ClientOrderID, ask.ClientOrderID)
	assert.Equal(t, SideAsk, ask.Side)
}

func TestCCXTClient_CreateReusesClientOrderIDFromContext(t *testing.T) {
	fake := &fakeCCXT{createErr: &ccxt.Error{Type: ccxt.RequestTimeoutErrType, Message: "timeout"}}
	client := newTestClient(fake)

	id := uuid.New()
	ctx := WithClientOrderID(context.Background(), id)
	for i := 0; i < 2; i++ {
		_, err := client.CreateBid(ctx, decimal.NewFromInt(1), decimal.NewFromInt(100))
		require.Error(t, err)
		assert.True(t, IsRetryable(err))
	}

	require.Len(t, fake.created, 2)
	want := "fm" + hex.EncodeToString(id[:])
	assert.Equal(t, want, fake.created[0].clientID)
	assert.Equal(t, want, fake.created[1].clientID)
}

func TestCCXTClient_CreateRejected(t *testing.T) {
	fake := &fakeCCXT{createErr: &ccxt.Error{Type: ccxt.InsufficientFundsErrType, Message: "no funds"}}

	_, err := newTestClient(fake).CreateBid(context.Background(), decimal.NewFromInt(1), decimal.NewFromInt(1))
	require.Error(t, err)
	assert.False(t, IsRetryable(err))
}

func TestCCXTClient_FetchOrderBook(t *testing.T) {
	ts := int64(1700000000000)
	fake := &fakeCCXT{book: ccxt.OrderBook{
		Bids:      [][]float64{{500, 1}, {490, 2}, {1}},
		Asks:      [][]float64{{510, 1}, {520, 2}},
		Timestamp: &ts,
	}}

	book, err := newTestClient(fake).FetchOrderBook(context.Background())
	require.NoError(t, err)
	require.Len(t, book.Bids, 2)
	require.Len(t, book.Asks, 2)

	bid, ok := book.BestBid()
	require.True(t, ok)
	assert.True(t, bid.Equal(decimal.NewFromInt(500)))
	ask, ok := book.BestAsk()
	require.True(t, ok)
	assert.True(t, ask.Equal(decimal.NewFromInt(510)))
	assert.Equal(t, ts, book.Timestamp.UnixMilli())
	assert.Equal(t, "BTC/USDT", book.Symbol)
}

func TestCCXTClient_FetchProfile(t *testing.T) {
	fake := &fakeCCXT{balances: ccxt.Balances{
		Total: map[string]*float64{"USDT": floatPtr(10000), "BTC": floatPtr(20), "ETH": nil},
		Free:  map[string]*float64{"USDT": floatPtr(8000), "BTC": floatPtr(15)},
		Used:  map[string]*float64{"USDT": floatPtr(2000), "BTC": floatPtr(5)},
	}}

	profile, err := newTestClient(fake).FetchProfile(context.Background())
	require.NoError(t, err)
	require.Len(t, profile.Balances, 2)
	assert.True(t, profile.Balances["USDT"].Free.Equal(decimal.NewFromInt(8000)))
	assert.True(t, profile.Balances["BTC"].Used.Equal(decimal.NewFromInt(5)))
}

func TestCCXTClient_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestClient(&fakeCCXT{}).FetchOrderBook(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewClient_UnsupportedExchange(t *testing.T) {
	_, err := NewClient(config.ExchangeConfig{Name: "nowhere"}, nil)
	assert.ErrorIs(t, err, ErrUnsupportedExchange)
}
