package monitor

import (
	"time"

	"github.com/shopspring/decimal"

	"fishermon/internal/execution"
)

// EventType 表示监控事件类型。
type EventType string

const (
	EventStartup EventType = "startup"
	EventCycle   EventType = "cycle"
	EventError   EventType = "error"
)

// Event 封装通用监控事件。
type Event struct {
	Type      EventType   `json:"type"`
	CycleID   string      `json:"cycle_id,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// Query 为事件检索条件，零值返回最近的全部事件。
type Query struct {
	Type    EventType
	CycleID string
	Limit   int
}

// StartupPayload 记录进程启动参数。
type StartupPayload struct {
	Environment string `json:"environment"`
	Exchange    string `json:"exchange"`
	Market      string `json:"market"`
	Production  bool   `json:"production"`
	DryRun      bool   `json:"dry_run"`
}

// CycleSummary 为一轮交易循环的摘要，只记数量与盘口，不含订单明细。
type CycleSummary struct {
	ID         string          `json:"id"`
	Cancelled  int             `json:"cancelled"`
	BidsPlaced int             `json:"bids_placed"`
	AsksPlaced int             `json:"asks_placed"`
	BestBid    decimal.Decimal `json:"best_bid"`
	BestAsk    decimal.Decimal `json:"best_ask"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
}

func summarize(r execution.CycleReport) CycleSummary {
	return CycleSummary{
		ID:         r.ID,
		Cancelled:  r.Cancelled,
		BidsPlaced: len(r.Bids),
		AsksPlaced: len(r.Asks),
		BestBid:    r.BestBid,
		BestAsk:    r.BestAsk,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
	}
}

// ErrorPayload 记录异常。
type ErrorPayload struct {
	Message string                 `json:"message"`
	Error   string                 `json:"error"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// Health 为最近一次循环的概况。
type Health struct {
	LastCycleID    string    `json:"last_cycle_id,omitempty"`
	LastCycleAt    time.Time `json:"last_cycle_at,omitempty"`
	LastError      string    `json:"last_error,omitempty"`
	LastErrorAt    time.Time `json:"last_error_at,omitempty"`
	CyclesRecorded int       `json:"cycles_recorded"`
}
