package alert

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"vitalink-realtime/internal/config"
	"vitalink-realtime/internal/models"
)

func setupTestCache(t *testing.T) (*miniredis.Miniredis, *Cache) {
	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	cfg := &config.Config{}
	cfg.Cache.AlertKeyPrefix = "vitalink:user:"
	cfg.Cache.AlertSuffix = ":alerts"
	cfg.Cache.AlertTTL = 30

	logger := zap.NewNop()
	cache := NewCache(cfg, redisClient, logger)

	return mr, cache
}

func TestCache_SetAndGetActiveAlerts(t *testing.T) {
	_, cache := setupTestCache(t)

	ctx := context.Background()
	userID := "user-123"
	alerts := []models.Alert{
		{
			ID:        "alert-1",
			UserID:    userID,
			AlertType: models.AlertTypeThresholdExceeded,
			DataType:  models.DataTypeHeartRate,
			Severity:  models.SeverityHigh,
			Status:    models.AlertStatusActive,
			CreatedAt: time.Now().UTC().Truncate(time.Second),
		},
	}

	err := cache.SetActiveAlerts(ctx, userID, alerts)
	require.NoError(t, err)

	got, hit, err := cache.GetActiveAlerts(ctx, userID)
	require.NoError(t, err)
	assert.True(t, hit)
	require.Len(t, got, 1)
	assert.Equal(t, "alert-1", got[0].ID)
	assert.Equal(t, models.SeverityHigh, got[0].Severity)
}

func TestCache_MissReturnsNotHit(t *testing.T) {
	_, cache := setupTestCache(t)

	got, hit, err := cache.GetActiveAlerts(context.Background(), "nobody")
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Nil(t, got)
}

func TestCache_EntryExpires(t *testing.T) {
	mr, cache := setupTestCache(t)

	ctx := context.Background()
	userID := "user-123"
	err := cache.SetActiveAlerts(ctx, userID, []models.Alert{{ID: "alert-1"}})
	require.NoError(t, err)

	mr.FastForward(31 * time.Second)

	_, hit, err := cache.GetActiveAlerts(ctx, userID)
	require.NoError(t, err)
	assert.False(t, hit)
}
