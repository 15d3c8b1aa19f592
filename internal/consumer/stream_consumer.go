package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"vitalink-realtime/internal/config"
	"vitalink-realtime/internal/evaluator"
	"vitalink-realtime/internal/models"
	"vitalink-realtime/internal/redisx"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// AlertSink 报警写入接口（由 alert.Manager 实现）
type AlertSink interface {
	CreateOrUpdateAlert(ctx context.Context, userID, alertType, dataType, severity string, snapshot models.AlertSnapshot) (*models.Alert, error)
}

// TaskEvaluator 评估接口（由 evaluator.Evaluator 实现）
type TaskEvaluator interface {
	Evaluate(ctx context.Context, userID, dataType string, value float64, recordedAt time.Time) (evaluator.Outcome, error)
}

// StreamConsumer 评估任务消费者
// 消费摄入路径发布到 Redis Streams 的评估任务，驱动评估器和报警管理器
type StreamConsumer struct {
	config      *config.Config
	redisClient *redis.Client
	evaluator   TaskEvaluator
	alerts      AlertSink
	logger      *zap.Logger
}

// NewStreamConsumer 创建评估任务消费者
func NewStreamConsumer(
	cfg *config.Config,
	redisClient *redis.Client,
	taskEvaluator TaskEvaluator,
	alerts AlertSink,
	logger *zap.Logger,
) *StreamConsumer {
	return &StreamConsumer{
		config:      cfg,
		redisClient: redisClient,
		evaluator:   taskEvaluator,
		alerts:      alerts,
		logger:      logger,
	}
}

// Start 启动消费循环（阻塞直到 ctx 取消）
func (c *StreamConsumer) Start(ctx context.Context) error {
	stream := c.config.Evaluation.Stream
	group := c.config.Evaluation.ConsumerGroup

	if err := redisx.CreateConsumerGroup(ctx, c.redisClient, stream, group); err != nil {
		return fmt.Errorf("failed to create consumer group for %s: %w", stream, err)
	}

	c.logger.Info("Evaluation consumer started",
		zap.String("stream", stream),
		zap.String("consumer_group", group),
		zap.String("consumer_name", c.config.Evaluation.ConsumerName),
	)

	backoffDuration := time.Second
	maxBackoff := 30 * time.Second

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Evaluation consumer stopped")
			return nil
		default:
			if err := c.consumeOnce(ctx); err != nil {
				c.logger.Error("Failed to consume evaluation stream",
					zap.Error(err),
					zap.Duration("backoff", backoffDuration),
				)

				// 指数退避后重试，避免 Redis 故障时空转
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(backoffDuration):
					backoffDuration *= 2
					if backoffDuration > maxBackoff {
						backoffDuration = maxBackoff
					}
				}
				continue
			}
			backoffDuration = time.Second
		}
	}
}

// consumeOnce 读取并处理一批评估任务
func (c *StreamConsumer) consumeOnce(ctx context.Context) error {
	messages, err := redisx.ReadFromStream(
		ctx,
		c.redisClient,
		c.config.Evaluation.Stream,
		c.config.Evaluation.ConsumerGroup,
		c.config.Evaluation.ConsumerName,
		c.config.Evaluation.BatchSize,
	)
	if err != nil {
		return err
	}

	for _, msg := range messages {
		if err := c.processMessage(ctx, msg); err != nil {
			// 处理失败不 ack，消息留在 pending 列表，可通过 XPENDING 观测和重放
			c.logger.Error("Failed to process evaluation task",
				zap.String("message_id", msg.ID),
				zap.Error(err),
			)
			continue
		}

		if err := redisx.AckMessage(ctx, c.redisClient, c.config.Evaluation.Stream, c.config.Evaluation.ConsumerGroup, msg.ID); err != nil {
			c.logger.Error("Failed to ack evaluation task",
				zap.String("message_id", msg.ID),
				zap.Error(err),
			)
		}
	}

	return nil
}

// processMessage 处理单条评估任务
func (c *StreamConsumer) processMessage(ctx context.Context, msg redisx.StreamMessage) error {
	raw, ok := msg.Values["data"].(string)
	if !ok {
		return fmt.Errorf("message %s has no data field", msg.ID)
	}

	var task models.EvaluationTask
	if err := json.Unmarshal([]byte(raw), &task); err != nil {
		return fmt.Errorf("failed to unmarshal evaluation task: %w", err)
	}

	outcome, err := c.evaluator.Evaluate(ctx, task.UserID, task.DataType, task.Value, task.RecordedAt)
	if err != nil {
		return fmt.Errorf("failed to evaluate data point %s: %w", task.DataPointID, err)
	}

	if !outcome.Violated {
		return nil
	}

	snapshot := models.AlertSnapshot{
		DataPointID: task.DataPointID,
		DataType:    task.DataType,
		Value:       task.Value,
		Unit:        task.Unit,
		Source:      task.Source,
		RecordedAt:  task.RecordedAt,
		Reason:      outcome.Reason,
		Threshold:   outcome.Threshold,
	}

	if _, err := c.alerts.CreateOrUpdateAlert(ctx, task.UserID, outcome.AlertType, task.DataType, outcome.Severity, snapshot); err != nil {
		return fmt.Errorf("failed to record alert for data point %s: %w", task.DataPointID, err)
	}

	return nil
}
