package httpapi

import (
	"context"
	"net/http"
	"strings"

	"vitalink-realtime/internal/models"

	"go.uber.org/zap"
)

// SchedulerControl 调度器控制接口（由 service.Scheduler 实现）
type SchedulerControl interface {
	Status() []models.JobStatus
	Trigger(name string) error
	StartJob(name string) error
	StopJob(name string) error
}

// QueueAdmin 通知分发运维接口（由 dispatcher.Dispatcher 实现）
type QueueAdmin interface {
	RequeueFailed(ctx context.Context, userID string) (int64, error)
	QueueCounts(ctx context.Context) (map[string]int, error)
	Stats() models.DispatcherStats
}

// ConnectionAdmin 连接注册表运维接口（由 registry.Registry 实现）
type ConnectionAdmin interface {
	ActiveCount() int
	StoredActiveCount(ctx context.Context) (int, error)
	Connection(ctx context.Context, connectionID string) (*models.Connection, error)
}

// AdminHandler 运维接口 Handler
type AdminHandler struct {
	scheduler SchedulerControl
	queue     QueueAdmin
	conns     ConnectionAdmin
	logger    *zap.Logger
}

// NewAdminHandler 创建运维 Handler
func NewAdminHandler(scheduler SchedulerControl, queue QueueAdmin, conns ConnectionAdmin, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{
		scheduler: scheduler,
		queue:     queue,
		conns:     conns,
		logger:    logger,
	}
}

// SchedulerStatus 查看全部定时任务状态
// GET /api/v1/admin/scheduler
func (h *AdminHandler) SchedulerStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, Ok(map[string]interface{}{
		"jobs": h.scheduler.Status(),
	}))
}

// ServeSchedulerAction 解析 /api/v1/admin/scheduler/{name}/{action}
func (h *AdminHandler) ServeSchedulerAction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/admin/scheduler/")
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	name, action := parts[0], parts[1]

	var err error
	switch action {
	case "start":
		err = h.scheduler.StartJob(name)
	case "stop":
		err = h.scheduler.StopJob(name)
	case "trigger":
		err = h.scheduler.Trigger(name)
	default:
		w.WriteHeader(http.StatusNotFound)
		return
	}

	if err != nil {
		writeError(w, err)
		return
	}

	h.logger.Info("Scheduler job action",
		zap.String("job", name),
		zap.String("action", action),
	)

	writeJSON(w, http.StatusOK, Ok(map[string]string{"job": name, "action": action}))
}

// RequeueFailed 把 failed 通知重新入队
// POST /api/v1/admin/notifications/requeue-failed?user_id=
func (h *AdminHandler) RequeueFailed(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	userID := r.URL.Query().Get("user_id")

	count, err := h.queue.RequeueFailed(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}

	h.logger.Info("Requeued failed notifications",
		zap.String("user_id", userID),
		zap.Int64("count", count),
	)

	writeJSON(w, http.StatusOK, Ok(map[string]int64{"requeued": count}))
}

// QueueCounts 通知队列各状态数量
// GET /api/v1/admin/notifications/queue
func (h *AdminHandler) QueueCounts(w http.ResponseWriter, r *http.Request) {
	counts, err := h.queue.QueueCounts(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, Ok(counts))
}

// DispatcherStatus 分发器运行统计
// GET /api/v1/admin/dispatcher
func (h *AdminHandler) DispatcherStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, Ok(h.queue.Stats()))
}

// ConnectionCounts 连接数概览：内存索引 vs 数据库 active 行
// GET /api/v1/admin/connections
func (h *AdminHandler) ConnectionCounts(w http.ResponseWriter, r *http.Request) {
	stored, err := h.conns.StoredActiveCount(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, Ok(map[string]int{
		"in_memory":     h.conns.ActiveCount(),
		"stored_active": stored,
	}))
}

// ServeConnectionLookup 解析 /api/v1/admin/connections/{id}
// 查单条连接记录排障用，历史记录也可查
func (h *AdminHandler) ServeConnectionLookup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	connectionID := strings.TrimPrefix(r.URL.Path, "/api/v1/admin/connections/")
	if connectionID == "" || strings.Contains(connectionID, "/") {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	conn, err := h.conns.Connection(r.Context(), connectionID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, Ok(conn))
}
