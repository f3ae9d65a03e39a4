package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"fishermon/internal/monitor"
)

const (
	defaultEventLimit = 200
	maxEventLimit     = 1000
)

func newMonitorHandler(svc *monitor.Service, logger *zap.Logger) http.Handler {
	router := mux.NewRouter()

	router.HandleFunc("/events", func(w http.ResponseWriter, r *http.Request) {
		events, err := svc.ListEvents(r.Context(), parseEventQuery(r))
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, events, logger)
	}).Methods(http.MethodGet)

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, svc.Health(), logger)
	}).Methods(http.MethodGet)

	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
	})
	return c.Handler(router)
}

// parseEventQuery 解析 type/cycle/limit 参数，非法的 limit 使用默认值。
func parseEventQuery(r *http.Request) monitor.Query {
	params := r.URL.Query()
	q := monitor.Query{
		Type:    monitor.EventType(strings.ToLower(strings.TrimSpace(params.Get("type")))),
		CycleID: strings.TrimSpace(params.Get("cycle")),
		Limit:   defaultEventLimit,
	}
	if v, err := strconv.Atoi(params.Get("limit")); err == nil && v > 0 {
		q.Limit = min(v, maxEventLimit)
	}
	return q
}

func writeJSON(w http.ResponseWriter, v interface{}, logger *zap.Logger) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("写入监控响应失败", zap.Error(err))
	}
}

// serveMonitor 阻塞运行监控接口，ctx 结束后优雅关闭。
func serveMonitor(ctx context.Context, svc *monitor.Service, port int, logger *zap.Logger) error {
	addr := fmt.Sprintf(":%d", port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           newMonitorHandler(svc, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("关闭监控服务失败", zap.Error(err))
		}
	}()

	logger.Info("监控接口已启动", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("监控服务异常: %w", err)
	}
	return nil
}
