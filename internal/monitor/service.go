package monitor

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"fishermon/internal/execution"
	"fishermon/internal/store"
)

const defaultQueryLimit = 100

// Service 记录做市循环的运行日志，不保存成交历史。
type Service struct {
	db  *sql.DB
	log *zap.Logger

	mu     sync.RWMutex
	health Health
}

var _ execution.Recorder = (*Service)(nil)

// NewService 建表并从已有日志恢复健康状态。
func NewService(st *store.Store, logger *zap.Logger) (*Service, error) {
	if st == nil {
		return nil, errors.New("monitor: store 不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	svc := &Service{db: st.DB(), log: logger}
	if err := svc.migrate(); err != nil {
		return nil, err
	}
	if err := svc.restoreHealth(context.Background()); err != nil {
		return nil, err
	}
	return svc, nil
}

func (s *Service) migrate() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS fishermon_events (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	kind        TEXT    NOT NULL,
	cycle_id    TEXT    NOT NULL DEFAULT '',
	payload     TEXT    NOT NULL,
	recorded_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_fishermon_events_kind ON fishermon_events(kind, id);
CREATE INDEX IF NOT EXISTS idx_fishermon_events_cycle ON fishermon_events(cycle_id);
`
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("monitor: 建表失败: %w", err)
	}
	return nil
}

// restoreHealth 进程重启后沿用日志中的最近循环。
func (s *Service) restoreHealth(ctx context.Context) error {
	var h Health

	row := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM fishermon_events WHERE kind = ?`, string(EventCycle))
	if err := row.Scan(&h.CyclesRecorded); err != nil {
		return fmt.Errorf("monitor: 统计循环失败: %w", err)
	}

	var (
		cycleID string
		at      int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT cycle_id, recorded_at FROM fishermon_events WHERE kind = ? ORDER BY id DESC LIMIT 1`,
		string(EventCycle),
	).Scan(&cycleID, &at)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return fmt.Errorf("monitor: 读取最近循环失败: %w", err)
	default:
		h.LastCycleID = cycleID
		h.LastCycleAt = time.UnixMilli(at).UTC()
	}

	s.mu.Lock()
	s.health = h
	s.mu.Unlock()
	return nil
}

// Record 追加一条事件。
func (s *Service) Record(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev.Payload)
	if err != nil {
		return fmt.Errorf("monitor: 编码 %s 事件失败: %w", ev.Type, err)
	}
	at := ev.Timestamp
	if at.IsZero() {
		at = time.Now()
	}

	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO fishermon_events (kind, cycle_id, payload, recorded_at) VALUES (?, ?, ?, ?)`,
		string(ev.Type), ev.CycleID, string(body), at.UTC().UnixMilli(),
	); err != nil {
		return fmt.Errorf("monitor: 写入 %s 事件失败: %w", ev.Type, err)
	}
	return nil
}

// RecordStartup 记录进程启动参数。
func (s *Service) RecordStartup(ctx context.Context, p StartupPayload) {
	s.record(ctx, Event{Type: EventStartup, Payload: p})
}

// RecordCycle 记录一轮完整循环的摘要并刷新健康状态。
func (s *Service) RecordCycle(ctx context.Context, report execution.CycleReport) {
	s.mu.Lock()
	s.health.LastCycleID = report.ID
	s.health.LastCycleAt = report.FinishedAt
	s.health.CyclesRecorded++
	s.mu.Unlock()

	s.record(ctx, Event{
		Type:      EventCycle,
		CycleID:   report.ID,
		Timestamp: report.FinishedAt,
		Payload:   summarize(report),
	})
}

// RecordError 记录中止循环的错误，fields 中的 cycle 作为关联循环。
func (s *Service) RecordError(ctx context.Context, msg string, err error, fields map[string]interface{}) {
	now := time.Now().UTC()
	detail := ""
	if err != nil {
		detail = err.Error()
	}

	s.mu.Lock()
	s.health.LastError = msg + ": " + detail
	s.health.LastErrorAt = now
	s.mu.Unlock()

	cycleID, _ := fields["cycle"].(string)
	s.record(ctx, Event{
		Type:      EventError,
		CycleID:   cycleID,
		Timestamp: now,
		Payload:   ErrorPayload{Message: msg, Error: detail, Context: fields},
	})
}

func (s *Service) record(ctx context.Context, ev Event) {
	if err := s.Record(ctx, ev); err != nil {
		s.log.Warn("写入运行日志失败", zap.String("type", string(ev.Type)), zap.Error(err))
	}
}

// Health 返回最近一次循环与异常。
func (s *Service) Health() Health {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.health
}

// ListEvents 按条件倒序返回事件，Payload 为原始 JSON。
func (s *Service) ListEvents(ctx context.Context, q Query) ([]Event, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = defaultQueryLimit
	}

	var (
		where []string
		args  []interface{}
	)
	if q.Type != "" {
		where = append(where, "kind = ?")
		args = append(args, string(q.Type))
	}
	if q.CycleID != "" {
		where = append(where, "cycle_id = ?")
		args = append(args, q.CycleID)
	}

	stmt := `SELECT kind, cycle_id, payload, recorded_at FROM fishermon_events`
	if len(where) > 0 {
		stmt += " WHERE " + strings.Join(where, " AND ")
	}
	stmt += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("monitor: 查询事件失败: %w", err)
	}
	defer rows.Close()

	events := []Event{}
	for rows.Next() {
		var (
			ev   Event
			kind string
			body string
			at   int64
		)
		if err := rows.Scan(&kind, &ev.CycleID, &body, &at); err != nil {
			return nil, fmt.Errorf("monitor: 读取事件失败: %w", err)
		}
		ev.Type = EventType(kind)
		ev.Timestamp = time.UnixMilli(at).UTC()
		ev.Payload = json.RawMessage(body)
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("monitor: 遍历事件失败: %w", err)
	}
	return events, nil
}
