package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"vitalink-realtime/internal/config"
	"vitalink-realtime/internal/ingest"
	"vitalink-realtime/internal/models"

	"go.uber.org/zap"
)

// Subscriber MQTT订阅接口（由 Client 实现）
type Subscriber interface {
	Subscribe(topic string, qos byte, handler MessageHandler) error
	Unsubscribe(topics ...string) error
}

// DataSink 遥测数据落地接口（由 ingest.Ingestor 实现）
type DataSink interface {
	Store(ctx context.Context, userID string, input ingest.StoreInput) (string, error)
}

// AlertSink 设备报警接口（由 alert.Manager 实现）
type AlertSink interface {
	CreateOrUpdateAlert(ctx context.Context, userID, alertType, dataType, severity string, snapshot models.AlertSnapshot) (*models.Alert, error)
	ResolveActiveByType(ctx context.Context, userID, alertType, dataType, resolution string) error
}

// deviceState 单台设备的在线状态
type deviceState struct {
	userID   string
	deviceID string
	lastSeen time.Time
	offline  bool
}

// TelemetryConsumer 设备遥测消费者
// 订阅设备遥测主题，把读数交给摄入层（复用同一条校验+评估流水线），
// 并跟踪设备在线状态：超过离线阈值无遥测触发 device_disconnected 报警，
// 遥测恢复后自动解除
type TelemetryConsumer struct {
	config     *config.Config
	subscriber Subscriber
	sink       DataSink
	alerts     AlertSink
	logger     *zap.Logger

	mu      sync.Mutex
	devices map[string]*deviceState // key: userID + "/" + deviceID
}

// NewTelemetryConsumer 创建设备遥测消费者
func NewTelemetryConsumer(
	cfg *config.Config,
	subscriber Subscriber,
	sink DataSink,
	alerts AlertSink,
	logger *zap.Logger,
) *TelemetryConsumer {
	return &TelemetryConsumer{
		config:     cfg,
		subscriber: subscriber,
		sink:       sink,
		alerts:     alerts,
		logger:     logger,
		devices:    make(map[string]*deviceState),
	}
}

// Start 启动消费者
func (c *TelemetryConsumer) Start(ctx context.Context) error {
	topic := c.config.MQTT.TelemetryTopic
	if topic == "" {
		return fmt.Errorf("telemetry MQTT topic not configured")
	}

	if err := c.subscriber.Subscribe(topic, c.config.MQTT.QoS, c.handleMessage); err != nil {
		return fmt.Errorf("failed to subscribe to telemetry topic: %w", err)
	}

	c.logger.Info("Telemetry consumer started",
		zap.String("topic", topic),
	)

	return nil
}

// Stop 停止消费者
func (c *TelemetryConsumer) Stop(ctx context.Context) error {
	topic := c.config.MQTT.TelemetryTopic
	if topic != "" {
		if err := c.subscriber.Unsubscribe(topic); err != nil {
			c.logger.Error("Failed to unsubscribe", zap.Error(err))
		}
	}

	c.logger.Info("Telemetry consumer stopped")
	return nil
}

// handleMessage 处理MQTT消息
// payload 为 TelemetryMessage 数组；单条失败不中断后续处理
func (c *TelemetryConsumer) handleMessage(topic string, payload []byte) error {
	userID, err := userIDFromTopic(topic)
	if err != nil {
		return err
	}

	var messages []models.TelemetryMessage
	if err := json.Unmarshal(payload, &messages); err != nil {
		c.logger.Error("Failed to unmarshal telemetry message",
			zap.String("topic", topic),
			zap.Error(err),
		)
		return fmt.Errorf("failed to unmarshal telemetry payload: %w", err)
	}

	ctx := context.Background()
	for _, msg := range messages {
		if err := c.processMessage(ctx, userID, &msg); err != nil {
			c.logger.Error("Failed to process telemetry message",
				zap.String("user_id", userID),
				zap.String("device_id", msg.DeviceID),
				zap.String("data_type", msg.DataType),
				zap.Error(err),
			)
		}
	}

	return nil
}

// processMessage 处理单条遥测读数
func (c *TelemetryConsumer) processMessage(ctx context.Context, userID string, msg *models.TelemetryMessage) error {
	if msg.DeviceID == "" {
		return fmt.Errorf("telemetry message missing device_id")
	}

	c.markSeen(ctx, userID, msg.DeviceID)

	recordedAt := time.Now().UTC()
	if msg.Timestamp > 0 {
		recordedAt = time.UnixMilli(msg.Timestamp).UTC()
	}

	_, err := c.sink.Store(ctx, userID, ingest.StoreInput{
		DataType:   msg.DataType,
		Value:      msg.Value,
		Unit:       msg.Unit,
		Source:     "device:" + msg.DeviceID,
		RecordedAt: recordedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to store telemetry reading: %w", err)
	}

	return nil
}

// markSeen 刷新设备最近遥测时间；离线设备恢复时解除断连报警
func (c *TelemetryConsumer) markSeen(ctx context.Context, userID, deviceID string) {
	key := userID + "/" + deviceID

	c.mu.Lock()
	state, ok := c.devices[key]
	if !ok {
		state = &deviceState{userID: userID, deviceID: deviceID}
		c.devices[key] = state
	}
	wasOffline := state.offline
	state.lastSeen = time.Now()
	state.offline = false
	c.mu.Unlock()

	if wasOffline {
		c.logger.Info("Device telemetry resumed",
			zap.String("user_id", userID),
			zap.String("device_id", deviceID),
		)
		if err := c.alerts.ResolveActiveByType(ctx, userID, models.AlertTypeDeviceDisconnected, deviceID, "device telemetry resumed"); err != nil {
			c.logger.Error("Failed to resolve device disconnected alert",
				zap.String("user_id", userID),
				zap.String("device_id", deviceID),
				zap.Error(err),
			)
		}
	}
}

// CheckPresence 检测设备在线状态（由调度器周期调用）
// 去重键用 device_id 占据 data_type 维度，保证每台设备独立的活跃报警
func (c *TelemetryConsumer) CheckPresence(ctx context.Context) error {
	threshold := c.config.MQTT.OfflineThreshold
	if threshold <= 0 {
		return nil
	}

	c.mu.Lock()
	var wentOffline []*deviceState
	for _, state := range c.devices {
		if !state.offline && time.Since(state.lastSeen) > threshold {
			state.offline = true
			wentOffline = append(wentOffline, state)
		}
	}
	c.mu.Unlock()

	for _, state := range wentOffline {
		c.logger.Warn("Device went offline",
			zap.String("user_id", state.userID),
			zap.String("device_id", state.deviceID),
			zap.Time("last_seen", state.lastSeen),
		)

		snapshot := models.AlertSnapshot{
			DataType:   state.deviceID,
			RecordedAt: state.lastSeen.UTC(),
			Reason:     fmt.Sprintf("no telemetry from device %s for over %s", state.deviceID, threshold),
		}
		if _, err := c.alerts.CreateOrUpdateAlert(ctx, state.userID, models.AlertTypeDeviceDisconnected, state.deviceID, models.SeverityMedium, snapshot); err != nil {
			c.logger.Error("Failed to create device disconnected alert",
				zap.String("user_id", state.userID),
				zap.String("device_id", state.deviceID),
				zap.Error(err),
			)
		}
	}

	return nil
}

// TrackedDevices 当前跟踪的设备数量（诊断用）
func (c *TelemetryConsumer) TrackedDevices() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.devices)
}

// userIDFromTopic 从主题段提取用户ID（vitalink/{user_id}/telemetry）
func userIDFromTopic(topic string) (string, error) {
	parts := strings.Split(topic, "/")
	if len(parts) != 3 || parts[1] == "" {
		return "", fmt.Errorf("unexpected telemetry topic format: %s", topic)
	}
	return parts[1], nil
}
