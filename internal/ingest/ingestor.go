package ingest

import (
	"context"
	"fmt"
	"math"
	"time"

	"vitalink-realtime/internal/models"
	"vitalink-realtime/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// TaskPublisher 评估任务发布接口
// 摄入路径不直接调用评估器：任务进入显式队列，评估失败可观测、可重放
type TaskPublisher interface {
	PublishEvaluationTask(ctx context.Context, task models.EvaluationTask) error
}

// Ingestor 健康数据摄入器
type Ingestor struct {
	healthData *repository.HealthDataRepository
	publisher  TaskPublisher
	logger     *zap.Logger
}

// NewIngestor 创建摄入器
func NewIngestor(healthData *repository.HealthDataRepository, publisher TaskPublisher, logger *zap.Logger) *Ingestor {
	return &Ingestor{
		healthData: healthData,
		publisher:  publisher,
		logger:     logger,
	}
}

// StoreInput 单条摄入请求
type StoreInput struct {
	DataType   string    `json:"data_type"`
	Value      float64   `json:"value"`
	Unit       string    `json:"unit"`
	Source     string    `json:"source"`
	RecordedAt time.Time `json:"recorded_at"`
}

// BatchResult 批量摄入的单项结果
type BatchResult struct {
	Index   int    `json:"index"`
	Success bool   `json:"success"`
	ID      string `json:"id,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Store 摄入单条健康数据
// 校验通过后落库并发布评估任务；评估异步执行，摄入不等待报警结果
func (i *Ingestor) Store(ctx context.Context, userID string, input StoreInput) (string, error) {
	if userID == "" {
		return "", fmt.Errorf("%w: user_id is required", models.ErrValidation)
	}
	if err := validateInput(input); err != nil {
		return "", err
	}

	recordedAt := input.RecordedAt
	if recordedAt.IsZero() {
		recordedAt = time.Now().UTC()
	}

	point := &models.HealthDataPoint{
		ID:         uuid.New().String(),
		UserID:     userID,
		DataType:   input.DataType,
		Value:      input.Value,
		Unit:       input.Unit,
		Source:     input.Source,
		RecordedAt: recordedAt,
		CreatedAt:  time.Now().UTC(),
	}

	if err := i.healthData.InsertDataPoint(ctx, point); err != nil {
		return "", err
	}

	i.publishTask(ctx, point)

	return point.ID, nil
}

// StoreBatch 批量摄入（部分成功策略）
// 每项独立校验，坏数据不影响同批其他数据；返回逐项结果
func (i *Ingestor) StoreBatch(ctx context.Context, userID string, inputs []StoreInput) []BatchResult {
	results := make([]BatchResult, 0, len(inputs))

	for idx, input := range inputs {
		id, err := i.Store(ctx, userID, input)
		if err != nil {
			results = append(results, BatchResult{
				Index:   idx,
				Success: false,
				Error:   err.Error(),
			})
			continue
		}
		results = append(results, BatchResult{
			Index:   idx,
			Success: true,
			ID:      id,
		})
	}

	return results
}

// Query 查询用户健康数据
func (i *Ingestor) Query(ctx context.Context, userID string, filters models.HealthDataFilters) ([]models.HealthDataPoint, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user_id is required", models.ErrValidation)
	}
	if filters.DataType != nil && !models.IsValidDataType(*filters.DataType) {
		return nil, fmt.Errorf("%w: unknown data_type %q", models.ErrValidation, *filters.DataType)
	}

	return i.healthData.QueryDataPoints(ctx, userID, filters)
}

// publishTask 发布评估任务（失败只记日志，摄入已成功）
func (i *Ingestor) publishTask(ctx context.Context, point *models.HealthDataPoint) {
	task := models.EvaluationTask{
		DataPointID: point.ID,
		UserID:      point.UserID,
		DataType:    point.DataType,
		Value:       point.Value,
		Unit:        point.Unit,
		Source:      point.Source,
		RecordedAt:  point.RecordedAt,
	}

	if err := i.publisher.PublishEvaluationTask(ctx, task); err != nil {
		i.logger.Error("Failed to publish evaluation task",
			zap.String("data_point_id", point.ID),
			zap.String("user_id", point.UserID),
			zap.Error(err),
		)
	}
}

// validateInput 同步校验摄入请求
func validateInput(input StoreInput) error {
	if !models.IsValidDataType(input.DataType) {
		return fmt.Errorf("%w: unknown data_type %q", models.ErrValidation, input.DataType)
	}
	if math.IsNaN(input.Value) || math.IsInf(input.Value, 0) {
		return fmt.Errorf("%w: value must be finite", models.ErrValidation)
	}
	if input.Unit == "" {
		return fmt.Errorf("%w: unit is required", models.ErrValidation)
	}
	return nil
}
