package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"vitalink-realtime/internal/models"

	"go.uber.org/zap"
)

// ThresholdRepository 阈值配置仓库
type ThresholdRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewThresholdRepository 创建阈值配置仓库
func NewThresholdRepository(db *sql.DB, logger *zap.Logger) *ThresholdRepository {
	return &ThresholdRepository{
		db:     db,
		logger: logger,
	}
}

// UpsertThreshold 写入或更新阈值配置
// 写入路径保证每个 (user_id, data_type) 只有一条记录
func (r *ThresholdRepository) UpsertThreshold(ctx context.Context, t *models.Threshold) error {
	if t.UserID == "" {
		return fmt.Errorf("user_id is required")
	}
	if !models.IsValidDataType(t.DataType) {
		return fmt.Errorf("%w: unknown data_type %q", models.ErrValidation, t.DataType)
	}
	if !models.ValidSeverities[t.Severity] {
		return fmt.Errorf("%w: unknown severity %q", models.ErrValidation, t.Severity)
	}

	now := time.Now().UTC()
	query := `
		INSERT INTO thresholds (
			id, user_id, data_type, min_value, max_value, severity, enabled, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		ON CONFLICT (user_id, data_type) DO UPDATE SET
			min_value = EXCLUDED.min_value,
			max_value = EXCLUDED.max_value,
			severity = EXCLUDED.severity,
			enabled = EXCLUDED.enabled,
			updated_at = EXCLUDED.updated_at
	`

	_, err := r.db.ExecContext(ctx, query,
		t.ID,
		t.UserID,
		t.DataType,
		t.MinValue,
		t.MaxValue,
		t.Severity,
		t.Enabled,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert threshold: %w", err)
	}

	return nil
}

// GetEnabledThresholds 获取用户某类型的启用阈值
// 正常情况下最多一条，评估器按"最严格者优先"容忍历史重复数据
func (r *ThresholdRepository) GetEnabledThresholds(ctx context.Context, userID, dataType string) ([]models.Threshold, error) {
	if userID == "" {
		return nil, fmt.Errorf("user_id is required")
	}

	query := `
		SELECT id, user_id, data_type, min_value, max_value, severity, enabled, created_at, updated_at
		FROM thresholds
		WHERE user_id = $1 AND data_type = $2 AND enabled = true
	`

	rows, err := r.db.QueryContext(ctx, query, userID, dataType)
	if err != nil {
		return nil, fmt.Errorf("failed to query thresholds: %w", err)
	}
	defer rows.Close()

	return scanThresholds(rows)
}

// ListThresholds 列出用户的全部阈值配置（含禁用项）
func (r *ThresholdRepository) ListThresholds(ctx context.Context, userID string) ([]models.Threshold, error) {
	if userID == "" {
		return nil, fmt.Errorf("user_id is required")
	}

	query := `
		SELECT id, user_id, data_type, min_value, max_value, severity, enabled, created_at, updated_at
		FROM thresholds
		WHERE user_id = $1
		ORDER BY data_type
	`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query thresholds: %w", err)
	}
	defer rows.Close()

	return scanThresholds(rows)
}

// ListEnabledThresholds 列出所有用户的启用阈值（数据缺失检测用）
func (r *ThresholdRepository) ListEnabledThresholds(ctx context.Context) ([]models.Threshold, error) {
	query := `
		SELECT id, user_id, data_type, min_value, max_value, severity, enabled, created_at, updated_at
		FROM thresholds
		WHERE enabled = true
		ORDER BY user_id, data_type
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query enabled thresholds: %w", err)
	}
	defer rows.Close()

	return scanThresholds(rows)
}

func scanThresholds(rows *sql.Rows) ([]models.Threshold, error) {
	var thresholds []models.Threshold
	for rows.Next() {
		var t models.Threshold
		if err := rows.Scan(
			&t.ID,
			&t.UserID,
			&t.DataType,
			&t.MinValue,
			&t.MaxValue,
			&t.Severity,
			&t.Enabled,
			&t.CreatedAt,
			&t.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan threshold: %w", err)
		}
		thresholds = append(thresholds, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate thresholds: %w", err)
	}
	return thresholds, nil
}
