package alert

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"vitalink-realtime/internal/models"
	"vitalink-realtime/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Manager 报警管理器
// 负责报警的创建/去重/解除/已读，以及新报警的通知入队
type Manager struct {
	alerts *repository.AlertsRepository
	queue  *repository.NotificationQueueRepository
	cache  *Cache // 可为 nil（无 Redis 时降级为纯 DB 模式）
	logger *zap.Logger

	// 通知入队后唤醒分发器（避免等待下一次定时扫描）
	wake func()
}

// NewManager 创建报警管理器
func NewManager(
	alerts *repository.AlertsRepository,
	queue *repository.NotificationQueueRepository,
	cache *Cache,
	logger *zap.Logger,
) *Manager {
	return &Manager{
		alerts: alerts,
		queue:  queue,
		cache:  cache,
		logger: logger,
	}
}

// SetWakeFunc 注册通知入队后的唤醒回调
func (m *Manager) SetWakeFunc(fn func()) {
	m.wake = fn
}

// CreateOrUpdateAlert 创建或更新报警
// 同一 (user_id, alert_type, data_type) 存在活跃报警时只更新快照，
// 不产生新行也不重复入队通知，抑制抖动指标带来的报警风暴
func (m *Manager) CreateOrUpdateAlert(ctx context.Context, userID, alertType, dataType, severity string, snapshot models.AlertSnapshot) (*models.Alert, error) {
	if userID == "" {
		return nil, fmt.Errorf("user_id is required")
	}

	snapshotJSON, err := json.Marshal(snapshot)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	title := alertTitle(alertType, dataType)
	message := snapshot.Reason
	now := time.Now().UTC()

	existing, err := m.alerts.GetActiveAlert(ctx, userID, alertType, dataType)
	if err != nil {
		return nil, err
	}

	if existing != nil {
		if err := m.alerts.UpdateSnapshot(ctx, existing.ID, string(snapshotJSON), severity, message, now); err != nil {
			return nil, err
		}
		existing.DataSnapshot = string(snapshotJSON)
		existing.Severity = severity
		existing.Message = message
		existing.UpdatedAt = now

		m.logger.Debug("Updated existing active alert",
			zap.String("alert_id", existing.ID),
			zap.String("alert_type", alertType),
			zap.String("data_type", dataType),
		)

		m.refreshCache(ctx, userID)
		return existing, nil
	}

	newAlert := &models.Alert{
		ID:           uuid.New().String(),
		UserID:       userID,
		AlertType:    alertType,
		DataType:     dataType,
		Severity:     severity,
		Title:        title,
		Message:      message,
		DataSnapshot: string(snapshotJSON),
		Status:       models.AlertStatusActive,
		IsRead:       false,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := m.alerts.CreateAlert(ctx, newAlert); err != nil {
		return nil, err
	}

	// 报警行落库之后才入队通知（同一用户内保证顺序）
	if err := m.enqueueNotification(ctx, newAlert); err != nil {
		// 通知入队失败不回滚报警：报警列表始终是权威来源
		m.logger.Error("Failed to enqueue notification for new alert",
			zap.String("alert_id", newAlert.ID),
			zap.Error(err),
		)
	}

	m.logger.Info("Created alert",
		zap.String("alert_id", newAlert.ID),
		zap.String("user_id", userID),
		zap.String("alert_type", alertType),
		zap.String("data_type", dataType),
		zap.String("severity", severity),
	)

	m.refreshCache(ctx, userID)
	return newAlert, nil
}

// ResolveAlert 解除报警（归属校验）
// 幂等：重复解除返回当前记录，不报错
func (m *Manager) ResolveAlert(ctx context.Context, alertID, userID, resolution string) (*models.Alert, error) {
	existing, err := m.alerts.GetAlert(ctx, alertID)
	if err != nil {
		return nil, err
	}
	if existing.UserID != userID {
		return nil, fmt.Errorf("alert %s: %w", alertID, models.ErrNotFound)
	}

	if existing.Status == models.AlertStatusResolved {
		return existing, nil
	}

	now := time.Now().UTC()
	if err := m.alerts.MarkResolved(ctx, alertID, resolution, now); err != nil {
		return nil, err
	}

	existing.Status = models.AlertStatusResolved
	existing.ResolvedAt = &now
	existing.Resolution = &resolution
	existing.UpdatedAt = now

	m.logger.Info("Resolved alert",
		zap.String("alert_id", alertID),
		zap.String("resolution", resolution),
	)

	m.refreshCache(ctx, existing.UserID)
	return existing, nil
}

// ResolveActiveByType 解除某类型的活跃报警（存在时）
// 用于 missing_data / device_disconnected 的自动恢复
func (m *Manager) ResolveActiveByType(ctx context.Context, userID, alertType, dataType, resolution string) error {
	existing, err := m.alerts.GetActiveAlert(ctx, userID, alertType, dataType)
	if err != nil {
		return err
	}
	if existing == nil {
		return nil
	}

	_, err = m.ResolveAlert(ctx, existing.ID, existing.UserID, resolution)
	return err
}

// MarkRead 标记报警已读（归属校验）
func (m *Manager) MarkRead(ctx context.Context, alertID, userID string) error {
	if err := m.alerts.MarkRead(ctx, alertID, userID); err != nil {
		return err
	}

	m.refreshCache(ctx, userID)
	return nil
}

// ListActive 列出用户活跃报警，附带级别分布和未读计数
// 默认过滤条件（仪表盘轮询路径）优先读缓存，未命中回源数据库并回填；
// 缓存读取失败只记日志，降级为纯 DB 查询
func (m *Manager) ListActive(ctx context.Context, userID string, filters models.AlertFilters) (*models.AlertListResult, error) {
	useCache := m.cache != nil && cacheableFilters(filters)

	if useCache {
		cached, hit, err := m.cache.GetActiveAlerts(ctx, userID)
		if err != nil {
			m.logger.Warn("Failed to read alert cache",
				zap.String("user_id", userID),
				zap.Error(err),
			)
		} else if hit {
			return summarizeAlerts(cached), nil
		}
	}

	alerts, err := m.alerts.ListActive(ctx, userID, filters)
	if err != nil {
		return nil, err
	}

	bySeverity, err := m.alerts.CountActiveBySeverity(ctx, userID)
	if err != nil {
		return nil, err
	}

	unread, err := m.alerts.CountUnread(ctx, userID)
	if err != nil {
		return nil, err
	}

	if useCache {
		if err := m.cache.SetActiveAlerts(ctx, userID, alerts); err != nil {
			m.logger.Warn("Failed to backfill alert cache",
				zap.String("user_id", userID),
				zap.Error(err),
			)
		}
	}

	total := 0
	for _, c := range bySeverity {
		total += c
	}

	return &models.AlertListResult{
		Alerts:      alerts,
		Total:       total,
		BySeverity:  bySeverity,
		UnreadCount: unread,
	}, nil
}

// cacheableFilters 缓存只覆盖默认过滤条件下的列表查询
func cacheableFilters(f models.AlertFilters) bool {
	return f.Severity == nil && f.Limit <= 0 && f.Offset == 0
}

// summarizeAlerts 从缓存条目推导统计字段
func summarizeAlerts(alerts []models.Alert) *models.AlertListResult {
	bySeverity := make(map[string]int)
	unread := 0
	for _, a := range alerts {
		bySeverity[a.Severity]++
		if !a.IsRead {
			unread++
		}
	}

	return &models.AlertListResult{
		Alerts:      alerts,
		Total:       len(alerts),
		BySeverity:  bySeverity,
		UnreadCount: unread,
	}
}

// enqueueNotification 为新报警入队一条推送通知
func (m *Manager) enqueueNotification(ctx context.Context, a *models.Alert) error {
	payload, err := json.Marshal(map[string]interface{}{
		"alert_id":   a.ID,
		"alert_type": a.AlertType,
		"data_type":  a.DataType,
		"severity":   a.Severity,
		"title":      a.Title,
		"message":    a.Message,
		"created_at": a.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal notification payload: %w", err)
	}

	n := &models.QueuedNotification{
		ID:               uuid.New().String(),
		UserID:           a.UserID,
		NotificationType: a.AlertType,
		Title:            a.Title,
		Message:          a.Message,
		Payload:          string(payload),
		CreatedAt:        time.Now().UTC(),
	}

	if err := m.queue.Enqueue(ctx, n); err != nil {
		return err
	}

	if m.wake != nil {
		m.wake()
	}

	return nil
}

// refreshCache 刷新用户的活跃报警缓存（缓存失败只记日志）
func (m *Manager) refreshCache(ctx context.Context, userID string) {
	if m.cache == nil {
		return
	}

	alerts, err := m.alerts.ListActive(ctx, userID, models.AlertFilters{})
	if err != nil {
		m.logger.Warn("Failed to load active alerts for cache refresh",
			zap.String("user_id", userID),
			zap.Error(err),
		)
		return
	}

	if err := m.cache.SetActiveAlerts(ctx, userID, alerts); err != nil {
		m.logger.Warn("Failed to refresh alert cache",
			zap.String("user_id", userID),
			zap.Error(err),
		)
	}
}

// alertTitle 按报警类型生成标题
func alertTitle(alertType, dataType string) string {
	switch alertType {
	case models.AlertTypeThresholdExceeded:
		return fmt.Sprintf("Threshold exceeded: %s", dataType)
	case models.AlertTypeAnomalyDetected:
		return fmt.Sprintf("Unusual reading detected: %s", dataType)
	case models.AlertTypeMissingData:
		return fmt.Sprintf("No recent data: %s", dataType)
	case models.AlertTypeDeviceDisconnected:
		return fmt.Sprintf("Device disconnected: %s", dataType)
	default:
		return fmt.Sprintf("Health alert: %s", dataType)
	}
}
