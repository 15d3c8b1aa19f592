package ingest

import (
	"context"
	"fmt"

	"vitalink-realtime/internal/config"
	"vitalink-realtime/internal/models"
	"vitalink-realtime/internal/redisx"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// StreamPublisher 基于 Redis Streams 的评估任务发布器
type StreamPublisher struct {
	config      *config.Config
	redisClient *redis.Client
	logger      *zap.Logger
}

// NewStreamPublisher 创建评估任务发布器
func NewStreamPublisher(cfg *config.Config, redisClient *redis.Client, logger *zap.Logger) *StreamPublisher {
	return &StreamPublisher{
		config:      cfg,
		redisClient: redisClient,
		logger:      logger,
	}
}

// PublishEvaluationTask 发布评估任务到 Redis Streams
func (p *StreamPublisher) PublishEvaluationTask(ctx context.Context, task models.EvaluationTask) error {
	id, err := redisx.PublishJSONToStream(ctx, p.redisClient, p.config.Evaluation.Stream, task)
	if err != nil {
		return fmt.Errorf("failed to publish evaluation task: %w", err)
	}

	p.logger.Debug("Published evaluation task",
		zap.String("stream", p.config.Evaluation.Stream),
		zap.String("message_id", id),
		zap.String("data_point_id", task.DataPointID),
	)

	return nil
}
