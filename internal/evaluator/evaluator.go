package evaluator

import (
	"context"
	"fmt"
	"math"
	"time"

	"vitalink-realtime/internal/config"
	"vitalink-realtime/internal/models"

	"go.uber.org/zap"
)

// ThresholdSource 阈值读取接口（由 repository.ThresholdRepository 实现）
type ThresholdSource interface {
	GetEnabledThresholds(ctx context.Context, userID, dataType string) ([]models.Threshold, error)
}

// HistorySource 历史读数接口（由 repository.HealthDataRepository 实现）
// 返回 recorded_at 倒序的读数，包含刚写入的当前读数
type HistorySource interface {
	RecentValues(ctx context.Context, userID, dataType string, limit int) ([]float64, error)
}

// Outcome 评估结果
type Outcome struct {
	Violated  bool
	AlertType string // threshold_exceeded 或 anomaly_detected
	Severity  string
	Reason    string
	Threshold *models.ThresholdSnapshot // 阈值违规时的阈值快照
}

// Evaluator 阈值/异常评估器
// 纯读取：评估本身不写任何状态，由调用方（AlertManager）根据结果落库
type Evaluator struct {
	config     *config.Config
	thresholds ThresholdSource
	history    HistorySource
	logger     *zap.Logger
}

// NewEvaluator 创建评估器
func NewEvaluator(cfg *config.Config, thresholds ThresholdSource, history HistorySource, logger *zap.Logger) *Evaluator {
	return &Evaluator{
		config:     cfg,
		thresholds: thresholds,
		history:    history,
		logger:     logger,
	}
}

// Evaluate 评估单条读数
// 1. 无启用阈值时不判违规（默认宽松策略，未配置阈值的用户不误报）
// 2. 阈值违规优先于异常检测，同一读数只报一种结果
func (e *Evaluator) Evaluate(ctx context.Context, userID, dataType string, value float64, recordedAt time.Time) (Outcome, error) {
	thresholds, err := e.thresholds.GetEnabledThresholds(ctx, userID, dataType)
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to load thresholds: %w", err)
	}

	if len(thresholds) > 0 {
		merged := mergeThresholds(thresholds)
		if outcome, violated := checkThreshold(merged, value); violated {
			return outcome, nil
		}
	}

	// 异常检测：阈值范围内但偏离近期趋势的读数
	if e.config.Anomaly.Enabled {
		outcome, err := e.checkAnomaly(ctx, userID, dataType, value)
		if err != nil {
			// 异常检测失败不影响阈值判定结果，记录后按未违规处理
			e.logger.Warn("Anomaly check failed",
				zap.String("user_id", userID),
				zap.String("data_type", dataType),
				zap.Error(err),
			)
			return Outcome{}, nil
		}
		if outcome.Violated {
			return outcome, nil
		}
	}

	return Outcome{}, nil
}

// mergeThresholds 归并重复阈值（历史数据可能存在重复行）
// 取最严格组合：最高的 min、最低的 max、最高的级别
func mergeThresholds(thresholds []models.Threshold) models.Threshold {
	merged := thresholds[0]
	for _, t := range thresholds[1:] {
		if t.MinValue != nil && (merged.MinValue == nil || *t.MinValue > *merged.MinValue) {
			merged.MinValue = t.MinValue
		}
		if t.MaxValue != nil && (merged.MaxValue == nil || *t.MaxValue < *merged.MaxValue) {
			merged.MaxValue = t.MaxValue
		}
		if models.SeverityRank(t.Severity) > models.SeverityRank(merged.Severity) {
			merged.Severity = t.Severity
		}
	}
	return merged
}

// checkThreshold 判断读数是否超出阈值边界
func checkThreshold(t models.Threshold, value float64) (Outcome, bool) {
	snapshot := &models.ThresholdSnapshot{Min: t.MinValue, Max: t.MaxValue}

	if t.MinValue != nil && value < *t.MinValue {
		return Outcome{
			Violated:  true,
			AlertType: models.AlertTypeThresholdExceeded,
			Severity:  t.Severity,
			Reason:    fmt.Sprintf("value %.2f below min %.2f", value, *t.MinValue),
			Threshold: snapshot,
		}, true
	}
	if t.MaxValue != nil && value > *t.MaxValue {
		return Outcome{
			Violated:  true,
			AlertType: models.AlertTypeThresholdExceeded,
			Severity:  t.Severity,
			Reason:    fmt.Sprintf("value %.2f above max %.2f", value, *t.MaxValue),
			Threshold: snapshot,
		}, true
	}

	return Outcome{}, false
}

// checkAnomaly 滑动窗口异常检测
// 读数偏离窗口均值超过配置的标准差倍数时报 anomaly_detected（低置信度，级别固定为 low）
func (e *Evaluator) checkAnomaly(ctx context.Context, userID, dataType string, value float64) (Outcome, error) {
	values, err := e.history.RecentValues(ctx, userID, dataType, e.config.Anomaly.WindowSize+1)
	if err != nil {
		return Outcome{}, err
	}

	// 窗口包含刚写入的当前读数（最新一条），去掉后剩下的才是趋势窗口
	if len(values) > 0 {
		values = values[1:]
	}
	if len(values) < e.config.Anomaly.MinSamples {
		return Outcome{}, nil
	}

	mean, stddev := meanStdDev(values)
	deviation := math.Abs(value - mean)

	violated := false
	if stddev == 0 {
		// 平直历史上的任何变动都值得关注
		violated = deviation > 0
	} else {
		violated = deviation > e.config.Anomaly.StdDevs*stddev
	}

	if !violated {
		return Outcome{}, nil
	}

	return Outcome{
		Violated:  true,
		AlertType: models.AlertTypeAnomalyDetected,
		Severity:  models.SeverityLow,
		Reason: fmt.Sprintf("value %.2f deviates from trailing mean %.2f (stddev %.2f, window %d)",
			value, mean, stddev, len(values)),
	}, nil
}

func meanStdDev(values []float64) (float64, float64) {
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))

	var variance float64
	for _, v := range values {
		d := v - mean
		variance += d * d
	}
	variance /= float64(len(values))

	return mean, math.Sqrt(variance)
}
