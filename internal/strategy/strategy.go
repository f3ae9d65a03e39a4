package strategy

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
)

// weightPrecision 为负指数与非整数幂运算保留的小数位（定点，不是有效数字）。
// growth 为负时 count^growth 小于 1e-18 即舍入为零，例如 7^-40，
// 此时 Validate 返回 ErrDegenerateWeights。
const weightPrecision int32 = 18

var (
	// ErrDegenerateWeights 表示权重归一化因子为零，无法构建阶梯。
	ErrDegenerateWeights = errors.New("strategy: 权重归一化因子为零")
)

// Strategy 描述单边挂单阶梯的参数，构造后不再修改。
type Strategy struct {
	TotalAmount  decimal.Decimal `mapstructure:"total_amount"`
	MinSize      decimal.Decimal `mapstructure:"min_size"`
	PriceDelta   decimal.Decimal `mapstructure:"price_delta"`
	// PriceGrowth 可以为负，但幂次权重只保留 weightPrecision 位小数
	PriceGrowth  decimal.Decimal `mapstructure:"price_growth"`
	AmountGrowth decimal.Decimal `mapstructure:"amount_growth"`
	Count        int             `mapstructure:"count"`
}

// OrderSpec 为阶梯中的一档委托。
type OrderSpec struct {
	Amount decimal.Decimal `json:"amount"`
	Price  decimal.Decimal `json:"price"`
}

// Validate 校验参数是否满足阶梯构建的前提。
func (s Strategy) Validate() error {
	var err error

	if s.Count < 1 {
		err = multierr.Append(err, fmt.Errorf("strategy: count 必须大于0, 当前 %d", s.Count))
	}
	if !s.TotalAmount.IsPositive() {
		err = multierr.Append(err, fmt.Errorf("strategy: total_amount 必须大于0, 当前 %s", s.TotalAmount))
	}
	if s.MinSize.IsNegative() {
		err = multierr.Append(err, fmt.Errorf("strategy: min_size 不能为负, 当前 %s", s.MinSize))
	}
	if s.PriceDelta.IsZero() {
		err = multierr.Append(err, errors.New("strategy: price_delta 不能为0"))
	}
	if err != nil {
		return err
	}

	if _, e := s.amountWeights(); e != nil {
		err = multierr.Append(err, fmt.Errorf("amount_growth=%s: %w", s.AmountGrowth, e))
	}
	if _, e := s.priceWeights(); e != nil {
		err = multierr.Append(err, fmt.Errorf("price_growth=%s: %w", s.PriceGrowth, e))
	}
	return err
}

// IsBid 判断阶梯是否向下延伸。
func (s Strategy) IsBid() bool {
	return s.PriceDelta.IsNegative()
}

// IsAsk 判断阶梯是否向上延伸。
func (s Strategy) IsAsk() bool {
	return s.PriceDelta.IsPositive()
}

// BuildOrders 以参考价为锚点计算阶梯，剔除数量低于 MinSize 的档位。
func (s Strategy) BuildOrders(reference decimal.Decimal) ([]OrderSpec, error) {
	if s.Count <= 0 {
		return []OrderSpec{}, nil
	}

	amounts, err := s.OrderAmounts()
	if err != nil {
		return nil, err
	}
	prices, err := s.OrderPrices(reference)
	if err != nil {
		return nil, err
	}

	orders := make([]OrderSpec, 0, len(amounts))
	for i, amount := range amounts {
		if amount.LessThan(s.MinSize) {
			continue
		}
		orders = append(orders, OrderSpec{Amount: amount, Price: prices[i]})
	}
	return orders, nil
}

// OrderAmounts 返回未经过滤的数量序列，总和等于 TotalAmount。
func (s Strategy) OrderAmounts() ([]decimal.Decimal, error) {
	weights, err := s.amountWeights()
	if err != nil {
		return nil, err
	}

	sum := decimal.Sum(decimal.Zero, weights...)
	amounts := make([]decimal.Decimal, len(weights))
	for i, w := range weights {
		amounts[i] = w.Mul(s.TotalAmount).Div(sum)
	}
	return amounts, nil
}

// OrderPrices 返回每一档的价格，最后一档恰好为 reference + PriceDelta。
func (s Strategy) OrderPrices(reference decimal.Decimal) ([]decimal.Decimal, error) {
	weights, err := s.priceWeights()
	if err != nil {
		return nil, err
	}

	last := weights[len(weights)-1]
	prices := make([]decimal.Decimal, len(weights))
	for i, w := range weights {
		// 先求比例再乘以 delta，末档比例恰为 1
		prices[i] = reference.Add(w.Div(last).Mul(s.PriceDelta))
	}
	return prices, nil
}

func (s Strategy) amountWeights() ([]decimal.Decimal, error) {
	weights, err := powerWeights(s.Count, s.AmountGrowth)
	if err != nil {
		return nil, err
	}
	if decimal.Sum(decimal.Zero, weights...).IsZero() {
		return nil, ErrDegenerateWeights
	}
	return weights, nil
}

func (s Strategy) priceWeights() ([]decimal.Decimal, error) {
	weights, err := powerWeights(s.Count, s.PriceGrowth)
	if err != nil {
		return nil, err
	}
	if weights[len(weights)-1].IsZero() {
		return nil, ErrDegenerateWeights
	}
	return weights, nil
}

// powerWeights 计算 i^growth, i = 1..count。
func powerWeights(count int, growth decimal.Decimal) ([]decimal.Decimal, error) {
	if count <= 0 {
		return nil, ErrDegenerateWeights
	}

	weights := make([]decimal.Decimal, count)
	for i := 1; i <= count; i++ {
		w, err := decimal.NewFromInt(int64(i)).PowWithPrecision(growth, weightPrecision)
		if err != nil {
			return nil, fmt.Errorf("strategy: 计算第 %d 档权重失败: %w", i, err)
		}
		weights[i-1] = w
	}
	return weights, nil
}
