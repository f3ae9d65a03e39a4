package exchange

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	ccxt "github.com/ccxt/ccxt/go/v4"
)

// Kind 为交易所错误的分类。
type Kind int

const (
	// KindOther 表示无法识别的错误，不可重试。
	KindOther Kind = iota
	// KindNetwork 表示传输层错误，总是可重试。
	KindNetwork
	// KindStatus 表示交易所拒绝了请求，携带状态码。
	KindStatus
)

func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindStatus:
		return "status"
	default:
		return "other"
	}
}

var (
	// ErrOrderNotFound 表示交易所已不存在该订单。
	ErrOrderNotFound = errors.New("exchange: order not found")
	// ErrUnsupportedExchange 表示配置了未接入的交易所。
	ErrUnsupportedExchange = errors.New("exchange: unsupported exchange")
)

// Error 是交易所调用失败的统一表示。
type Error struct {
	Kind       Kind
	StatusCode int
	Op         string
	Err        error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindStatus:
		return fmt.Sprintf("exchange %s: status %d: %v", e.Op, e.StatusCode, e.Err)
	default:
		return fmt.Sprintf("exchange %s: %s: %v", e.Op, e.Kind, e.Err)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NetworkError 构造传输层错误。
func NetworkError(op string, err error) *Error {
	return &Error{Kind: KindNetwork, Op: op, Err: err}
}

// StatusError 构造带状态码的拒绝错误。
func StatusError(op string, code int, err error) *Error {
	return &Error{Kind: KindStatus, StatusCode: code, Op: op, Err: err}
}

// OtherError 构造未分类错误。
func OtherError(op string, err error) *Error {
	return &Error{Kind: KindOther, Op: op, Err: err}
}

// IsRetryable 判断错误是否应当重试：网络错误与非 422 的状态错误可重试。
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var exErr *Error
	if !errors.As(err, &exErr) {
		return false
	}

	switch exErr.Kind {
	case KindNetwork:
		return true
	case KindStatus:
		return exErr.StatusCode != http.StatusUnprocessableEntity
	default:
		return false
	}
}

// Classify 将底层错误归入 Network/Status/Other 三类。
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var exErr *Error
	if errors.As(err, &exErr) {
		return err
	}

	var ccxtErr *ccxt.Error
	if errors.As(err, &ccxtErr) {
		switch ccxtErr.Type {
		case ccxt.NetworkErrorErrType,
			ccxt.RequestTimeoutErrType:
			return NetworkError(op, err)
		case ccxt.ExchangeNotAvailableErrType,
			ccxt.OnMaintenanceErrType:
			return StatusError(op, http.StatusServiceUnavailable, err)
		case ccxt.RateLimitExceededErrType,
			ccxt.DDoSProtectionErrType:
			return StatusError(op, http.StatusTooManyRequests, err)
		case ccxt.BadResponseErrType,
			ccxt.NullResponseErrType:
			return StatusError(op, http.StatusBadGateway, err)
		case ccxt.AuthenticationErrorErrType:
			return StatusError(op, http.StatusUnauthorized, err)
		case ccxt.PermissionDeniedErrType,
			ccxt.AccountSuspendedErrType:
			return StatusError(op, http.StatusForbidden, err)
		case ccxt.OrderNotFoundErrType:
			return StatusError(op, http.StatusNotFound, fmt.Errorf("%w: %v", ErrOrderNotFound, err))
		case ccxt.InvalidOrderErrType,
			ccxt.InsufficientFundsErrType,
			ccxt.BadRequestErrType,
			ccxt.BadSymbolErrType,
			ccxt.ArgumentsRequiredErrType,
			ccxt.NotSupportedErrType:
			return StatusError(op, http.StatusUnprocessableEntity, err)
		default:
			return OtherError(op, err)
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return NetworkError(op, err)
	}

	return OtherError(op, err)
}
