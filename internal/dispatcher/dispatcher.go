package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"vitalink-realtime/internal/config"
	"vitalink-realtime/internal/models"
	"vitalink-realtime/internal/repository"

	"go.uber.org/zap"
)

// Fanout 用户级扇出接口（由 registry.Registry 实现）
type Fanout interface {
	SendToUser(userID string, data []byte) models.FanoutResult
}

// Dispatcher 通知分发器
// 周期性扫描 notification_queue 的 pending 行并向活跃连接扇出；
// 重入保护保证同一时刻只有一次扫描在执行，避免重复投递
type Dispatcher struct {
	config *config.Config
	queue  *repository.NotificationQueueRepository
	fanout Fanout
	logger *zap.Logger

	running atomic.Bool

	mu    sync.Mutex
	stats models.DispatcherStats
}

// NewDispatcher 创建通知分发器
func NewDispatcher(cfg *config.Config, queue *repository.NotificationQueueRepository, fanout Fanout, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		config: cfg,
		queue:  queue,
		fanout: fanout,
		logger: logger,
	}
}

// Sweep 执行一轮分发扫描
// 已有扫描在执行时直接返回；单条通知的处理错误被捕获记录，不中断整轮
func (d *Dispatcher) Sweep(ctx context.Context) error {
	if !d.running.CompareAndSwap(false, true) {
		d.logger.Debug("Sweep already running, skipping")
		return nil
	}
	defer d.running.Store(false)

	batch, err := d.queue.PendingBatch(ctx, d.config.Dispatcher.BatchSize)
	if err != nil {
		return fmt.Errorf("failed to load pending notifications: %w", err)
	}

	for _, n := range batch {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := d.processNotification(ctx, &n); err != nil {
			d.logger.Error("Failed to process notification",
				zap.String("notification_id", n.ID),
				zap.String("user_id", n.UserID),
				zap.Error(err),
			)
		}
	}

	d.mu.Lock()
	d.stats.LastSweepAt = time.Now().UTC()
	d.stats.LastBatchSize = len(batch)
	d.mu.Unlock()

	return nil
}

// processNotification 处理单条 pending 通知
func (d *Dispatcher) processNotification(ctx context.Context, n *models.QueuedNotification) error {
	data, err := encodePushMessage(n)
	if err != nil {
		// 无法序列化的通知永远不可能投递成功，直接置为终态
		return d.queue.MarkFailed(ctx, n.ID, fmt.Sprintf("encode failed: %v", err))
	}

	result := d.fanout.SendToUser(n.UserID, data)

	// 没有活跃连接不算失败尝试：连接出现后的下一轮扫描自然重试，
	// 超过最大保留时长才放弃
	if result.Total == 0 {
		if time.Since(n.CreatedAt) > d.config.Dispatcher.MaxPendingAge {
			d.addFailed()
			d.logger.Warn("Notification expired with no active connection",
				zap.String("notification_id", n.ID),
				zap.String("user_id", n.UserID),
			)
			return d.queue.MarkFailed(ctx, n.ID, models.FailureReasonNoActiveConnection)
		}
		return nil
	}

	// 至少一个连接收到即视为投递成功
	if result.Delivered > 0 {
		d.addSent()
		d.logger.Debug("Notification delivered",
			zap.String("notification_id", n.ID),
			zap.String("user_id", n.UserID),
			zap.Int("delivered", result.Delivered),
			zap.Int("total", result.Total),
		)
		return d.queue.MarkSent(ctx, n.ID, time.Now().UTC())
	}

	// 所有连接推送失败：计一次尝试，达到上限后置为终态
	errMsg := fmt.Sprintf("delivery failed to all %d connections", result.Total)
	attempts, err := d.queue.RecordAttempt(ctx, n.ID, errMsg)
	if err != nil {
		return err
	}

	if attempts >= d.config.Dispatcher.MaxAttempts {
		d.addFailed()
		d.logger.Warn("Notification exhausted delivery attempts",
			zap.String("notification_id", n.ID),
			zap.String("user_id", n.UserID),
			zap.Int("attempts", attempts),
		)
		return d.queue.MarkFailed(ctx, n.ID, models.FailureReasonMaxAttempts)
	}

	return nil
}

// RequeueFailed 将 failed 通知重新入队（运维操作）
func (d *Dispatcher) RequeueFailed(ctx context.Context, userID string) (int64, error) {
	return d.queue.RequeueFailed(ctx, userID)
}

// QueueCounts 通知队列各状态数量（诊断接口）
func (d *Dispatcher) QueueCounts(ctx context.Context) (map[string]int, error) {
	return d.queue.CountByStatus(ctx)
}

// Stats 当前运行统计快照（运维状态接口）
func (d *Dispatcher) Stats() models.DispatcherStats {
	d.mu.Lock()
	defer d.mu.Unlock()
	stats := d.stats
	stats.Running = d.running.Load()
	return stats
}

func (d *Dispatcher) addSent() {
	d.mu.Lock()
	d.stats.TotalSent++
	d.mu.Unlock()
}

func (d *Dispatcher) addFailed() {
	d.mu.Lock()
	d.stats.TotalFailed++
	d.mu.Unlock()
}

// encodePushMessage 将通知编码为推送信封
func encodePushMessage(n *models.QueuedNotification) ([]byte, error) {
	body := map[string]interface{}{
		"notification_id": n.ID,
		"type":            n.NotificationType,
		"title":           n.Title,
		"message":         n.Message,
	}
	if n.Payload != "" {
		if !json.Valid([]byte(n.Payload)) {
			return nil, fmt.Errorf("payload is not valid JSON")
		}
		body["payload"] = json.RawMessage(n.Payload)
	}
	env, err := models.NewEnvelope(models.MessageTypeAlert, body)
	if err != nil {
		return nil, err
	}
	return env.Encode()
}
