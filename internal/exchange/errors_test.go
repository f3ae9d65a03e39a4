package exchange

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"testing"

	ccxt "github.com/ccxt/ccxt/go/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

var _ net.Error = timeoutErr{}

func TestIsRetryable(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"network", NetworkError("op", errors.New("reset")), true},
		{"status 500", StatusError("op", http.StatusInternalServerError, errors.New("boom")), true},
		{"status 429", StatusError("op", http.StatusTooManyRequests, errors.New("slow down")), true},
		{"status 422", StatusError("op", http.StatusUnprocessableEntity, errors.New("bad order")), false},
		{"other", OtherError("op", errors.New("???")), false},
		{"wrapped network", fmt.Errorf("wrapped: %w", NetworkError("op", errors.New("reset"))), true},
		{"plain error", errors.New("plain"), false},
		{"canceled", context.Canceled, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsRetryable(tc.err))
		})
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name     string
		err      error
		wantKind Kind
		wantCode int
	}{
		{"ccxt network", &ccxt.Error{Type: ccxt.NetworkErrorErrType, Message: "down"}, KindNetwork, 0},
		{"ccxt timeout", &ccxt.Error{Type: ccxt.RequestTimeoutErrType, Message: "timeout"}, KindNetwork, 0},
		{"ccxt maintenance", &ccxt.Error{Type: ccxt.OnMaintenanceErrType, Message: "maint"}, KindStatus, http.StatusServiceUnavailable},
		{"ccxt rate limit", &ccxt.Error{Type: ccxt.RateLimitExceededErrType, Message: "429"}, KindStatus, http.StatusTooManyRequests},
		{"ccxt invalid order", &ccxt.Error{Type: ccxt.InvalidOrderErrType, Message: "bad"}, KindStatus, http.StatusUnprocessableEntity},
		{"ccxt insufficient funds", &ccxt.Error{Type: ccxt.InsufficientFundsErrType, Message: "broke"}, KindStatus, http.StatusUnprocessableEntity},
		{"ccxt auth", &ccxt.Error{Type: ccxt.AuthenticationErrorErrType, Message: "key"}, KindStatus, http.StatusUnauthorized},
		{"ccxt order not found", &ccxt.Error{Type: ccxt.OrderNotFoundErrType, Message: "gone"}, KindStatus, http.StatusNotFound},
		{"net error", timeoutErr{}, KindNetwork, 0},
		{"unknown", errors.New("weird"), KindOther, 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := Classify("fetch_order_book", tc.err)

			var exErr *Error
			require.ErrorAs(t, err, &exErr)
			assert.Equal(t, tc.wantKind, exErr.Kind)
			assert.Equal(t, tc.wantCode, exErr.StatusCode)
			assert.Equal(t, "fetch_order_book", exErr.Op)
		})
	}
}

func TestClassify_OrderNotFoundIsDetectable(t *testing.T) {
	err := Classify("cancel_bid", &ccxt.Error{Type: ccxt.OrderNotFoundErrType, Message: "gone"})
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestClassify_PassThrough(t *testing.T) {
	assert.NoError(t, Classify("op", nil))
	assert.Equal(t, context.Canceled, Classify("op", context.Canceled))

	original := StatusError("op", http.StatusBadGateway, errors.New("upstream"))
	assert.Same(t, original, Classify("other_op", original))
}

func TestErrorMessage(t *testing.T) {
	assert.Equal(t, "exchange create_bid: status 422: rejected",
		StatusError("create_bid", http.StatusUnprocessableEntity, errors.New("rejected")).Error())
	assert.Equal(t, "exchange list_open_orders: network: reset",
		NetworkError("list_open_orders", errors.New("reset")).Error())
}
