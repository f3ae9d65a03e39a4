package execution

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"fishermon/internal/exchange"
)

// CycleReport 为一次交易循环的摘要。
type CycleReport struct {
	ID         string           `json:"id"`
	Cancelled  int              `json:"cancelled"`
	BestBid    decimal.Decimal  `json:"best_bid"`
	BestAsk    decimal.Decimal  `json:"best_ask"`
	Bids       []exchange.Order `json:"bids"`
	Asks       []exchange.Order `json:"asks"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at"`
}

// Recorder 接收交易循环的运行事件。
type Recorder interface {
	RecordCycle(ctx context.Context, report CycleReport)
	RecordError(ctx context.Context, msg string, err error, fields map[string]interface{})
}

type nopRecorder struct{}

func (nopRecorder) RecordCycle(context.Context, CycleReport) {}

func (nopRecorder) RecordError(context.Context, string, error, map[string]interface{}) {}

// Options 控制交易循环节奏与重试。
type Options struct {
	SleepFor      time.Duration
	Cooldown      time.Duration
	MaxAttempts   int
	BackoffFactor float64
	MaxCooldown   time.Duration
	Recorder      Recorder
}
