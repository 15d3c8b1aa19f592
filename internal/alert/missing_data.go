package alert

import (
	"context"
	"fmt"
	"time"

	"vitalink-realtime/internal/config"
	"vitalink-realtime/internal/models"
	"vitalink-realtime/internal/repository"

	"go.uber.org/zap"
)

// MissingDataChecker 数据缺失检测
// 对每个启用阈值的 (user, data_type)，超过 cutoff 没有新读数时报 missing_data；
// 数据恢复后自动解除
type MissingDataChecker struct {
	config     *config.Config
	thresholds *repository.ThresholdRepository
	healthData *repository.HealthDataRepository
	manager    *Manager
	logger     *zap.Logger
}

// NewMissingDataChecker 创建数据缺失检测器
func NewMissingDataChecker(
	cfg *config.Config,
	thresholds *repository.ThresholdRepository,
	healthData *repository.HealthDataRepository,
	manager *Manager,
	logger *zap.Logger,
) *MissingDataChecker {
	return &MissingDataChecker{
		config:     cfg,
		thresholds: thresholds,
		healthData: healthData,
		manager:    manager,
		logger:     logger,
	}
}

// Check 执行一轮检测
// 单项失败记日志后继续，不中断整轮扫描
func (c *MissingDataChecker) Check(ctx context.Context) error {
	thresholds, err := c.thresholds.ListEnabledThresholds(ctx)
	if err != nil {
		return fmt.Errorf("failed to list enabled thresholds: %w", err)
	}

	cutoff := c.config.MissingData.Cutoff
	now := time.Now().UTC()

	for _, t := range thresholds {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		latest, err := c.healthData.LatestRecordedAt(ctx, t.UserID, t.DataType)
		if err != nil {
			c.logger.Error("Failed to check latest reading",
				zap.String("user_id", t.UserID),
				zap.String("data_type", t.DataType),
				zap.Error(err),
			)
			continue
		}

		// 从未有过读数的用户不报缺失（可能刚配置完阈值）
		if latest == nil {
			continue
		}

		age := now.Sub(*latest)
		if age > cutoff {
			snapshot := models.AlertSnapshot{
				DataType:   t.DataType,
				RecordedAt: *latest,
				Reason:     fmt.Sprintf("no %s readings for %s (last at %s)", t.DataType, age.Round(time.Minute), latest.Format(time.RFC3339)),
			}
			if _, err := c.manager.CreateOrUpdateAlert(ctx, t.UserID, models.AlertTypeMissingData, t.DataType, models.SeverityLow, snapshot); err != nil {
				c.logger.Error("Failed to raise missing_data alert",
					zap.String("user_id", t.UserID),
					zap.String("data_type", t.DataType),
					zap.Error(err),
				)
			}
			continue
		}

		// 数据已恢复，解除遗留的缺失报警
		if err := c.manager.ResolveActiveByType(ctx, t.UserID, models.AlertTypeMissingData, t.DataType, "data resumed"); err != nil {
			c.logger.Error("Failed to resolve missing_data alert",
				zap.String("user_id", t.UserID),
				zap.String("data_type", t.DataType),
				zap.Error(err),
			)
		}
	}

	return nil
}
