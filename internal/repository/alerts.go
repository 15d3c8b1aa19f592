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

// AlertsRepository 报警记录仓库
type AlertsRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewAlertsRepository 创建报警记录仓库
func NewAlertsRepository(db *sql.DB, logger *zap.Logger) *AlertsRepository {
	return &AlertsRepository{
		db:     db,
		logger: logger,
	}
}

const alertColumns = `
	id, user_id, alert_type, data_type, severity, title, message,
	data_snapshot, status, is_read, created_at, updated_at, resolved_at, resolution
`

// GetAlert 根据 id 获取单条报警
func (r *AlertsRepository) GetAlert(ctx context.Context, alertID string) (*models.Alert, error) {
	if alertID == "" {
		return nil, fmt.Errorf("alert_id is required")
	}

	query := fmt.Sprintf(`SELECT %s FROM alerts WHERE id = $1`, alertColumns)

	var a models.Alert
	err := r.db.QueryRowContext(ctx, query, alertID).Scan(alertScanDest(&a)...)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("alert %s: %w", alertID, models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get alert: %w", err)
	}

	return &a, nil
}

// GetActiveAlert 查找 (user_id, alert_type, data_type) 的活跃报警
// 不存在时返回 (nil, nil)，用于去重判断
func (r *AlertsRepository) GetActiveAlert(ctx context.Context, userID, alertType, dataType string) (*models.Alert, error) {
	if userID == "" {
		return nil, fmt.Errorf("user_id is required")
	}

	query := fmt.Sprintf(`
		SELECT %s FROM alerts
		WHERE user_id = $1 AND alert_type = $2 AND data_type = $3 AND status = 'active'
		ORDER BY created_at DESC
		LIMIT 1
	`, alertColumns)

	var a models.Alert
	err := r.db.QueryRowContext(ctx, query, userID, alertType, dataType).Scan(alertScanDest(&a)...)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get active alert: %w", err)
	}

	return &a, nil
}

// CreateAlert 写入新报警记录
func (r *AlertsRepository) CreateAlert(ctx context.Context, a *models.Alert) error {
	if a.ID == "" {
		return fmt.Errorf("alert id is required")
	}
	if a.UserID == "" {
		return fmt.Errorf("user_id is required")
	}

	query := `
		INSERT INTO alerts (
			id, user_id, alert_type, data_type, severity, title, message,
			data_snapshot, status, is_read, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)
	`

	_, err := r.db.ExecContext(ctx, query,
		a.ID,
		a.UserID,
		a.AlertType,
		a.DataType,
		a.Severity,
		a.Title,
		a.Message,
		a.DataSnapshot,
		a.Status,
		a.IsRead,
		a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create alert: %w", err)
	}

	return nil
}

// UpdateSnapshot 就地更新活跃报警的快照和时间戳（重复触发抑制）
func (r *AlertsRepository) UpdateSnapshot(ctx context.Context, alertID, snapshot, severity, message string, updatedAt time.Time) error {
	query := `
		UPDATE alerts
		SET data_snapshot = $2, severity = $3, message = $4, updated_at = $5
		WHERE id = $1 AND status = 'active'
	`

	result, err := r.db.ExecContext(ctx, query, alertID, snapshot, severity, message, updatedAt)
	if err != nil {
		return fmt.Errorf("failed to update alert snapshot: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("active alert %s: %w", alertID, models.ErrNotFound)
	}

	return nil
}

// MarkResolved 将报警置为 resolved
func (r *AlertsRepository) MarkResolved(ctx context.Context, alertID, resolution string, resolvedAt time.Time) error {
	query := `
		UPDATE alerts
		SET status = 'resolved', resolved_at = $2, resolution = $3, updated_at = $2
		WHERE id = $1 AND status = 'active'
	`

	_, err := r.db.ExecContext(ctx, query, alertID, resolvedAt, resolution)
	if err != nil {
		return fmt.Errorf("failed to resolve alert: %w", err)
	}

	return nil
}

// MarkRead 标记报警已读（校验归属，不泄露他人记录的存在性）
func (r *AlertsRepository) MarkRead(ctx context.Context, alertID, userID string) error {
	if alertID == "" {
		return fmt.Errorf("alert_id is required")
	}
	if userID == "" {
		return fmt.Errorf("user_id is required")
	}

	query := `
		UPDATE alerts
		SET is_read = true, updated_at = $3
		WHERE id = $1 AND user_id = $2
	`

	result, err := r.db.ExecContext(ctx, query, alertID, userID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to mark alert read: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("alert %s: %w", alertID, models.ErrNotFound)
	}

	return nil
}

// ListActive 列出用户的活跃报警（created_at 倒序）
func (r *AlertsRepository) ListActive(ctx context.Context, userID string, filters models.AlertFilters) ([]models.Alert, error) {
	if userID == "" {
		return nil, fmt.Errorf("user_id is required")
	}

	var conditions []string
	var args []interface{}
	argIdx := 1

	conditions = append(conditions, fmt.Sprintf("user_id = $%d", argIdx))
	args = append(args, userID)
	argIdx++

	conditions = append(conditions, "status = 'active'")

	if filters.Severity != nil {
		conditions = append(conditions, fmt.Sprintf("severity = $%d", argIdx))
		args = append(args, *filters.Severity)
		argIdx++
	}

	limit := filters.Limit
	if limit <= 0 {
		limit = 50
	}

	query := fmt.Sprintf(`
		SELECT %s FROM alerts
		WHERE %s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d
	`, alertColumns, strings.Join(conditions, " AND "), argIdx, argIdx+1)
	args = append(args, limit, filters.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list active alerts: %w", err)
	}
	defer rows.Close()

	var alerts []models.Alert
	for rows.Next() {
		var a models.Alert
		if err := rows.Scan(alertScanDest(&a)...); err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		alerts = append(alerts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate alerts: %w", err)
	}

	return alerts, nil
}

// CountActiveBySeverity 统计用户活跃报警的级别分布
func (r *AlertsRepository) CountActiveBySeverity(ctx context.Context, userID string) (map[string]int, error) {
	query := `
		SELECT severity, COUNT(*)
		FROM alerts
		WHERE user_id = $1 AND status = 'active'
		GROUP BY severity
	`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to count alerts by severity: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var severity string
		var count int
		if err := rows.Scan(&severity, &count); err != nil {
			return nil, fmt.Errorf("failed to scan severity count: %w", err)
		}
		counts[severity] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate severity counts: %w", err)
	}

	return counts, nil
}

// CountUnread 统计用户活跃未读报警数
func (r *AlertsRepository) CountUnread(ctx context.Context, userID string) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM alerts
		WHERE user_id = $1 AND status = 'active' AND is_read = false
	`

	var count int
	if err := r.db.QueryRowContext(ctx, query, userID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count unread alerts: %w", err)
	}

	return count, nil
}

func alertScanDest(a *models.Alert) []interface{} {
	return []interface{}{
		&a.ID,
		&a.UserID,
		&a.AlertType,
		&a.DataType,
		&a.Severity,
		&a.Title,
		&a.Message,
		&a.DataSnapshot,
		&a.Status,
		&a.IsRead,
		&a.CreatedAt,
		&a.UpdatedAt,
		&a.ResolvedAt,
		&a.Resolution,
	}
}
