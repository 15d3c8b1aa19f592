package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"vitalink-realtime/internal/models"

	"go.uber.org/zap"
)

// HealthDataRepository 健康数据仓库
type HealthDataRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewHealthDataRepository 创建健康数据仓库
func NewHealthDataRepository(db *sql.DB, logger *zap.Logger) *HealthDataRepository {
	return &HealthDataRepository{
		db:     db,
		logger: logger,
	}
}

// InsertDataPoint 写入单条健康数据点
func (r *HealthDataRepository) InsertDataPoint(ctx context.Context, point *models.HealthDataPoint) error {
	if point.ID == "" {
		return fmt.Errorf("data point id is required")
	}
	if point.UserID == "" {
		return fmt.Errorf("user_id is required")
	}

	query := `
		INSERT INTO health_data_points (
			id, user_id, data_type, value, unit, source, recorded_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.db.ExecContext(ctx, query,
		point.ID,
		point.UserID,
		point.DataType,
		point.Value,
		point.Unit,
		point.Source,
		point.RecordedAt,
		point.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert data point: %w", err)
	}

	return nil
}

// QueryDataPoints 按过滤条件查询用户的健康数据（recorded_at 倒序）
func (r *HealthDataRepository) QueryDataPoints(ctx context.Context, userID string, filters models.HealthDataFilters) ([]models.HealthDataPoint, error) {
	if userID == "" {
		return nil, fmt.Errorf("user_id is required")
	}

	var conditions []string
	var args []interface{}
	argIdx := 1

	conditions = append(conditions, fmt.Sprintf("user_id = $%d", argIdx))
	args = append(args, userID)
	argIdx++

	if filters.DataType != nil {
		conditions = append(conditions, fmt.Sprintf("data_type = $%d", argIdx))
		args = append(args, *filters.DataType)
		argIdx++
	}
	if filters.StartDate != nil {
		conditions = append(conditions, fmt.Sprintf("recorded_at >= $%d", argIdx))
		args = append(args, *filters.StartDate)
		argIdx++
	}
	if filters.EndDate != nil {
		conditions = append(conditions, fmt.Sprintf("recorded_at <= $%d", argIdx))
		args = append(args, *filters.EndDate)
		argIdx++
	}

	limit := filters.Limit
	if limit <= 0 {
		limit = 100
	}

	query := fmt.Sprintf(`
		SELECT id, user_id, data_type, value, unit, source, recorded_at, created_at
		FROM health_data_points
		WHERE %s
		ORDER BY recorded_at DESC
		LIMIT $%d
	`, strings.Join(conditions, " AND "), argIdx)
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query data points: %w", err)
	}
	defer rows.Close()

	var points []models.HealthDataPoint
	for rows.Next() {
		var p models.HealthDataPoint
		if err := rows.Scan(
			&p.ID,
			&p.UserID,
			&p.DataType,
			&p.Value,
			&p.Unit,
			&p.Source,
			&p.RecordedAt,
			&p.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan data point: %w", err)
		}
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate data points: %w", err)
	}

	return points, nil
}

// RecentValues 获取用户某类型最近 limit 条读数（recorded_at 倒序）
// 用于异常检测的滑动窗口
func (r *HealthDataRepository) RecentValues(ctx context.Context, userID, dataType string, limit int) ([]float64, error) {
	if userID == "" {
		return nil, fmt.Errorf("user_id is required")
	}
	if limit <= 0 {
		limit = 20
	}

	query := `
		SELECT value
		FROM health_data_points
		WHERE user_id = $1 AND data_type = $2
		ORDER BY recorded_at DESC
		LIMIT $3
	`

	rows, err := r.db.QueryContext(ctx, query, userID, dataType, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent values: %w", err)
	}
	defer rows.Close()

	var values []float64
	for rows.Next() {
		var v float64
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("failed to scan value: %w", err)
		}
		values = append(values, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate values: %w", err)
	}

	return values, nil
}

// LatestRecordedAt 获取用户某类型最新读数时间（无数据返回 nil）
// 用于数据缺失检测
func (r *HealthDataRepository) LatestRecordedAt(ctx context.Context, userID, dataType string) (*time.Time, error) {
	query := `
		SELECT recorded_at
		FROM health_data_points
		WHERE user_id = $1 AND data_type = $2
		ORDER BY recorded_at DESC
		LIMIT 1
	`

	var recordedAt time.Time
	err := r.db.QueryRowContext(ctx, query, userID, dataType).Scan(&recordedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query latest recorded_at: %w", err)
	}

	return &recordedAt, nil
}
