package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"vitalink-realtime/internal/models"

	"go.uber.org/zap"
)

// NotificationQueueRepository 通知队列仓库
type NotificationQueueRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewNotificationQueueRepository 创建通知队列仓库
func NewNotificationQueueRepository(db *sql.DB, logger *zap.Logger) *NotificationQueueRepository {
	return &NotificationQueueRepository{
		db:     db,
		logger: logger,
	}
}

// Enqueue 写入一条 pending 通知
func (r *NotificationQueueRepository) Enqueue(ctx context.Context, n *models.QueuedNotification) error {
	if n.ID == "" {
		return fmt.Errorf("notification id is required")
	}
	if n.UserID == "" {
		return fmt.Errorf("user_id is required")
	}

	query := `
		INSERT INTO notification_queue (
			id, user_id, notification_type, title, message, payload, status, attempts, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := r.db.ExecContext(ctx, query,
		n.ID,
		n.UserID,
		n.NotificationType,
		n.Title,
		n.Message,
		n.Payload,
		models.NotificationStatusPending,
		0,
		n.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue notification: %w", err)
	}

	return nil
}

// PendingBatch 获取一批 pending 通知（created_at 正序，保证 FIFO 投递）
func (r *NotificationQueueRepository) PendingBatch(ctx context.Context, limit int) ([]models.QueuedNotification, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, user_id, notification_type, title, message, payload,
		       status, attempts, created_at, sent_at, error_message
		FROM notification_queue
		WHERE status = 'pending'
		ORDER BY created_at ASC
		LIMIT $1
	`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending notifications: %w", err)
	}
	defer rows.Close()

	var notifications []models.QueuedNotification
	for rows.Next() {
		var n models.QueuedNotification
		if err := rows.Scan(
			&n.ID,
			&n.UserID,
			&n.NotificationType,
			&n.Title,
			&n.Message,
			&n.Payload,
			&n.Status,
			&n.Attempts,
			&n.CreatedAt,
			&n.SentAt,
			&n.ErrorMessage,
		); err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		notifications = append(notifications, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate notifications: %w", err)
	}

	return notifications, nil
}

// MarkSent 标记通知投递成功
func (r *NotificationQueueRepository) MarkSent(ctx context.Context, notificationID string, sentAt time.Time) error {
	query := `
		UPDATE notification_queue
		SET status = 'sent', sent_at = $2, error_message = NULL
		WHERE id = $1
	`

	_, err := r.db.ExecContext(ctx, query, notificationID, sentAt)
	if err != nil {
		return fmt.Errorf("failed to mark notification sent: %w", err)
	}

	return nil
}

// MarkFailed 标记通知投递失败（终态）
func (r *NotificationQueueRepository) MarkFailed(ctx context.Context, notificationID, errorMessage string) error {
	query := `
		UPDATE notification_queue
		SET status = 'failed', error_message = $2
		WHERE id = $1
	`

	_, err := r.db.ExecContext(ctx, query, notificationID, errorMessage)
	if err != nil {
		return fmt.Errorf("failed to mark notification failed: %w", err)
	}

	return nil
}

// RecordAttempt 记录一次失败的投递尝试（状态保持 pending，等待下次扫描）
func (r *NotificationQueueRepository) RecordAttempt(ctx context.Context, notificationID, errorMessage string) (int, error) {
	query := `
		UPDATE notification_queue
		SET attempts = attempts + 1, error_message = $2
		WHERE id = $1
		RETURNING attempts
	`

	var attempts int
	err := r.db.QueryRowContext(ctx, query, notificationID, errorMessage).Scan(&attempts)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, fmt.Errorf("notification %s: %w", notificationID, models.ErrNotFound)
		}
		return 0, fmt.Errorf("failed to record delivery attempt: %w", err)
	}

	return attempts, nil
}

// RequeueFailed 将 failed 通知重新置为 pending（运维驱动的重新入队）
// 返回重新入队的条数
func (r *NotificationQueueRepository) RequeueFailed(ctx context.Context, userID string) (int64, error) {
	query := `
		UPDATE notification_queue
		SET status = 'pending', attempts = 0, error_message = NULL
		WHERE status = 'failed'
	`
	var args []interface{}
	if userID != "" {
		query += ` AND user_id = $1`
		args = append(args, userID)
	}

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to requeue failed notifications: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rows, nil
}

// CountByStatus 统计通知队列各状态数量（运维诊断用）
func (r *NotificationQueueRepository) CountByStatus(ctx context.Context) (map[string]int, error) {
	query := `
		SELECT status, COUNT(*)
		FROM notification_queue
		GROUP BY status
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to count notifications by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan status count: %w", err)
		}
		counts[status] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate status counts: %w", err)
	}

	return counts, nil
}
