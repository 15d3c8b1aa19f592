package alert

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"vitalink-realtime/internal/config"
	"vitalink-realtime/internal/models"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// Cache 活跃报警的 Redis 缓存
// 仪表盘高频读取活跃报警列表，缓存避免每次都打到 PostgreSQL
type Cache struct {
	config      *config.Config
	redisClient *redis.Client
	logger      *zap.Logger
}

// NewCache 创建报警缓存
func NewCache(cfg *config.Config, redisClient *redis.Client, logger *zap.Logger) *Cache {
	return &Cache{
		config:      cfg,
		redisClient: redisClient,
		logger:      logger,
	}
}

// alertKey 构建缓存键，如 "vitalink:user:<user_id>:alerts"
func (c *Cache) alertKey(userID string) string {
	return c.config.Cache.AlertKeyPrefix + userID + c.config.Cache.AlertSuffix
}

// SetActiveAlerts 写入用户的活跃报警列表（带 TTL）
func (c *Cache) SetActiveAlerts(ctx context.Context, userID string, alerts []models.Alert) error {
	jsonData, err := json.Marshal(alerts)
	if err != nil {
		return fmt.Errorf("failed to marshal alerts: %w", err)
	}

	ttl := time.Duration(c.config.Cache.AlertTTL) * time.Second
	if err := c.redisClient.Set(ctx, c.alertKey(userID), jsonData, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set alert cache: %w", err)
	}

	return nil
}

// GetActiveAlerts 读取用户的活跃报警列表
// 缓存未命中返回 (nil, false, nil)，调用方回退到数据库
func (c *Cache) GetActiveAlerts(ctx context.Context, userID string) ([]models.Alert, bool, error) {
	val, err := c.redisClient.Get(ctx, c.alertKey(userID)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to get alert cache: %w", err)
	}

	var alerts []models.Alert
	if err := json.Unmarshal([]byte(val), &alerts); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal cached alerts: %w", err)
	}

	return alerts, true, nil
}
