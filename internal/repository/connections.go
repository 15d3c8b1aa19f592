package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"vitalink-realtime/internal/models"

	"go.uber.org/zap"
)

// ConnectionsRepository 连接记录仓库
// 数据库记录兼作连接历史日志，只更新不删除
type ConnectionsRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewConnectionsRepository 创建连接记录仓库
func NewConnectionsRepository(db *sql.DB, logger *zap.Logger) *ConnectionsRepository {
	return &ConnectionsRepository{
		db:     db,
		logger: logger,
	}
}

// InsertConnection 写入新连接记录（通道打开时）
func (r *ConnectionsRepository) InsertConnection(ctx context.Context, c *models.Connection) error {
	if c.ConnectionID == "" {
		return fmt.Errorf("connection_id is required")
	}
	if c.UserID == "" {
		return fmt.Errorf("user_id is required")
	}

	query := `
		INSERT INTO connections (
			connection_id, user_id, device_info, is_active, last_ping, connected_at
		) VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := r.db.ExecContext(ctx, query,
		c.ConnectionID,
		c.UserID,
		c.DeviceInfo,
		c.IsActive,
		c.LastPing,
		c.ConnectedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert connection: %w", err)
	}

	return nil
}

// TouchPing 更新连接的心跳时间
func (r *ConnectionsRepository) TouchPing(ctx context.Context, connectionID string, pingAt time.Time) error {
	query := `
		UPDATE connections
		SET last_ping = $2
		WHERE connection_id = $1 AND is_active = true
	`

	_, err := r.db.ExecContext(ctx, query, connectionID, pingAt)
	if err != nil {
		return fmt.Errorf("failed to touch ping: %w", err)
	}

	return nil
}

// MarkClosed 标记连接关闭
func (r *ConnectionsRepository) MarkClosed(ctx context.Context, connectionID string, disconnectedAt time.Time) error {
	query := `
		UPDATE connections
		SET is_active = false, disconnected_at = $2
		WHERE connection_id = $1 AND is_active = true
	`

	_, err := r.db.ExecContext(ctx, query, connectionID, disconnectedAt)
	if err != nil {
		return fmt.Errorf("failed to mark connection closed: %w", err)
	}

	return nil
}

// CloseAllActive 关闭所有 is_active 连接记录
// 进程启动时调用：上一个进程遗留的 active 记录不再对应真实 socket
func (r *ConnectionsRepository) CloseAllActive(ctx context.Context) (int64, error) {
	query := `
		UPDATE connections
		SET is_active = false, disconnected_at = $1
		WHERE is_active = true
	`

	result, err := r.db.ExecContext(ctx, query, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to close stale connections: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rows, nil
}

// GetConnection 根据 connection_id 获取连接记录
func (r *ConnectionsRepository) GetConnection(ctx context.Context, connectionID string) (*models.Connection, error) {
	query := `
		SELECT connection_id, user_id, device_info, is_active, last_ping, connected_at, disconnected_at
		FROM connections
		WHERE connection_id = $1
	`

	var c models.Connection
	err := r.db.QueryRowContext(ctx, query, connectionID).Scan(
		&c.ConnectionID,
		&c.UserID,
		&c.DeviceInfo,
		&c.IsActive,
		&c.LastPing,
		&c.ConnectedAt,
		&c.DisconnectedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("connection %s: %w", connectionID, models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get connection: %w", err)
	}

	return &c, nil
}

// CountActive 统计当前 active 连接数（运维诊断用）
func (r *ConnectionsRepository) CountActive(ctx context.Context) (int, error) {
	query := `SELECT COUNT(*) FROM connections WHERE is_active = true`

	var count int
	if err := r.db.QueryRowContext(ctx, query).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count active connections: %w", err)
	}

	return count, nil
}
