package alert

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"vitalink-realtime/internal/models"
	"vitalink-realtime/internal/repository"
)

func setupMockManager(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *Manager) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	logger := zap.NewNop()
	alerts := repository.NewAlertsRepository(db, logger)
	queue := repository.NewNotificationQueueRepository(db, logger)
	manager := NewManager(alerts, queue, nil, logger)

	return db, mock, manager
}

func setupCachedManager(t *testing.T) (sqlmock.Sqlmock, *Cache, *Manager) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, cache := setupTestCache(t)

	logger := zap.NewNop()
	alerts := repository.NewAlertsRepository(db, logger)
	queue := repository.NewNotificationQueueRepository(db, logger)
	manager := NewManager(alerts, queue, cache, logger)

	return mock, cache, manager
}

func activeAlertRow(alertID, userID string) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{
		"id", "user_id", "alert_type", "data_type", "severity", "title", "message",
		"data_snapshot", "status", "is_read", "created_at", "updated_at", "resolved_at", "resolution",
	}).AddRow(
		alertID, userID, "threshold_exceeded", "heart_rate", "high",
		"Threshold exceeded: heart_rate", "value 180.00 above max 100.00",
		`{"value":180}`, "active", false, now, now, nil, nil,
	)
}

func TestCreateOrUpdateAlert_NewAlertEnqueuesOneNotification(t *testing.T) {
	db, mock, manager := setupMockManager(t)
	defer db.Close()

	ctx := context.Background()
	userID := uuid.New().String()

	// 无活跃报警 → 创建新行 + 恰好一条通知
	mock.ExpectQuery(`SELECT`).
		WithArgs(userID, "threshold_exceeded", "heart_rate").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec(`INSERT INTO alerts`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`INSERT INTO notification_queue`).
		WillReturnResult(sqlmock.NewResult(1, 1))

	woken := false
	manager.SetWakeFunc(func() { woken = true })

	snapshot := models.AlertSnapshot{
		DataType:   "heart_rate",
		Value:      180,
		RecordedAt: time.Now(),
		Reason:     "value 180.00 above max 100.00",
	}
	created, err := manager.CreateOrUpdateAlert(ctx, userID, "threshold_exceeded", "heart_rate", "high", snapshot)

	require.NoError(t, err)
	require.NotNil(t, created)
	assert.Equal(t, models.AlertStatusActive, created.Status)
	assert.False(t, created.IsRead)
	assert.Equal(t, "Threshold exceeded: heart_rate", created.Title)
	assert.True(t, woken)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateOrUpdateAlert_RepeatViolationUpdatesInPlace(t *testing.T) {
	db, mock, manager := setupMockManager(t)
	defer db.Close()

	ctx := context.Background()
	userID := uuid.New().String()
	alertID := uuid.New().String()

	// 已有活跃报警 → 只更新快照，不插入新行、不入队通知
	mock.ExpectQuery(`SELECT`).
		WithArgs(userID, "threshold_exceeded", "heart_rate").
		WillReturnRows(activeAlertRow(alertID, userID))
	mock.ExpectExec(`UPDATE alerts`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	snapshot := models.AlertSnapshot{
		DataType:   "heart_rate",
		Value:      185,
		RecordedAt: time.Now(),
		Reason:     "value 185.00 above max 100.00",
	}
	updated, err := manager.CreateOrUpdateAlert(ctx, userID, "threshold_exceeded", "heart_rate", "high", snapshot)

	require.NoError(t, err)
	require.NotNil(t, updated)
	assert.Equal(t, alertID, updated.ID)
	assert.Contains(t, updated.DataSnapshot, "185")

	// ExpectationsWereMet 同时验证没有发生通知入队
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestResolveAlert_Success(t *testing.T) {
	db, mock, manager := setupMockManager(t)
	defer db.Close()

	ctx := context.Background()
	userID := uuid.New().String()
	alertID := uuid.New().String()

	mock.ExpectQuery(`SELECT`).
		WithArgs(alertID).
		WillReturnRows(activeAlertRow(alertID, userID))
	mock.ExpectExec(`UPDATE alerts`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	resolved, err := manager.ResolveAlert(ctx, alertID, userID, "false positive")

	require.NoError(t, err)
	assert.Equal(t, models.AlertStatusResolved, resolved.Status)
	require.NotNil(t, resolved.ResolvedAt)
	require.NotNil(t, resolved.Resolution)
	assert.Equal(t, "false positive", *resolved.Resolution)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestResolveAlert_AlreadyResolvedIsNoOp(t *testing.T) {
	db, mock, manager := setupMockManager(t)
	defer db.Close()

	ctx := context.Background()
	userID := uuid.New().String()
	alertID := uuid.New().String()
	now := time.Now()
	resolution := "handled"

	rows := sqlmock.NewRows([]string{
		"id", "user_id", "alert_type", "data_type", "severity", "title", "message",
		"data_snapshot", "status", "is_read", "created_at", "updated_at", "resolved_at", "resolution",
	}).AddRow(
		alertID, userID, "threshold_exceeded", "heart_rate", "high",
		"Threshold exceeded: heart_rate", "msg",
		`{}`, "resolved", true, now, now, now, resolution,
	)

	// 已解除的报警：只读取，不再执行 UPDATE
	mock.ExpectQuery(`SELECT`).
		WithArgs(alertID).
		WillReturnRows(rows)

	resolved, err := manager.ResolveAlert(ctx, alertID, userID, "something else")

	require.NoError(t, err)
	assert.Equal(t, models.AlertStatusResolved, resolved.Status)
	assert.Equal(t, "handled", *resolved.Resolution)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestResolveAlert_NotFound(t *testing.T) {
	db, mock, manager := setupMockManager(t)
	defer db.Close()

	ctx := context.Background()
	alertID := uuid.New().String()

	mock.ExpectQuery(`SELECT`).
		WithArgs(alertID).
		WillReturnError(sql.ErrNoRows)

	resolved, err := manager.ResolveAlert(ctx, alertID, uuid.New().String(), "whatever")

	require.Error(t, err)
	assert.Nil(t, resolved)
	assert.ErrorIs(t, err, models.ErrNotFound)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestResolveAlert_OwnershipViolationReturnsNotFound(t *testing.T) {
	db, mock, manager := setupMockManager(t)
	defer db.Close()

	ctx := context.Background()
	alertID := uuid.New().String()
	ownerID := uuid.New().String()

	// 报警属于别的用户：只读取，不执行 UPDATE
	mock.ExpectQuery(`SELECT`).
		WithArgs(alertID).
		WillReturnRows(activeAlertRow(alertID, ownerID))

	resolved, err := manager.ResolveAlert(ctx, alertID, uuid.New().String(), "not mine")

	require.Error(t, err)
	assert.Nil(t, resolved)
	assert.ErrorIs(t, err, models.ErrNotFound)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkRead_OwnershipViolationReturnsNotFound(t *testing.T) {
	db, mock, manager := setupMockManager(t)
	defer db.Close()

	ctx := context.Background()
	alertID := uuid.New().String()
	otherUserID := uuid.New().String()

	mock.ExpectExec(`UPDATE alerts`).
		WithArgs(alertID, otherUserID, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := manager.MarkRead(ctx, alertID, otherUserID)

	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrNotFound)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListActive_ServesFromCacheWithoutDB(t *testing.T) {
	mock, cache, manager := setupCachedManager(t)

	ctx := context.Background()
	userID := uuid.New().String()
	cached := []models.Alert{
		{ID: "alert-1", UserID: userID, Severity: models.SeverityHigh, IsRead: false},
		{ID: "alert-2", UserID: userID, Severity: models.SeverityMedium, IsRead: true},
	}
	require.NoError(t, cache.SetActiveAlerts(ctx, userID, cached))

	// 缓存命中：没有任何数据库期望，打到 DB 会直接报错
	result, err := manager.ListActive(ctx, userID, models.AlertFilters{})

	require.NoError(t, err)
	require.Len(t, result.Alerts, 2)
	assert.Equal(t, 2, result.Total)
	assert.Equal(t, 1, result.BySeverity[models.SeverityHigh])
	assert.Equal(t, 1, result.BySeverity[models.SeverityMedium])
	assert.Equal(t, 1, result.UnreadCount)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListActive_MissFallsBackToDBAndBackfillsCache(t *testing.T) {
	mock, cache, manager := setupCachedManager(t)

	ctx := context.Background()
	userID := uuid.New().String()
	alertID := uuid.New().String()

	mock.ExpectQuery(`SELECT .* FROM alerts`).
		WillReturnRows(activeAlertRow(alertID, userID))
	mock.ExpectQuery(`SELECT severity, COUNT`).
		WithArgs(userID).
		WillReturnRows(sqlmock.NewRows([]string{"severity", "count"}).AddRow("high", 1))
	mock.ExpectQuery(`SELECT COUNT`).
		WithArgs(userID).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	result, err := manager.ListActive(ctx, userID, models.AlertFilters{})

	require.NoError(t, err)
	require.Len(t, result.Alerts, 1)
	assert.Equal(t, alertID, result.Alerts[0].ID)

	// 回源成功后缓存被回填，下一次默认查询命中
	got, hit, err := cache.GetActiveAlerts(ctx, userID)
	require.NoError(t, err)
	assert.True(t, hit)
	require.Len(t, got, 1)
	assert.Equal(t, alertID, got[0].ID)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListActive_SeverityFilterBypassesCache(t *testing.T) {
	mock, cache, manager := setupCachedManager(t)

	ctx := context.Background()
	userID := uuid.New().String()
	dbAlertID := uuid.New().String()
	require.NoError(t, cache.SetActiveAlerts(ctx, userID, []models.Alert{{ID: "stale-cached"}}))

	mock.ExpectQuery(`SELECT .* FROM alerts`).
		WillReturnRows(activeAlertRow(dbAlertID, userID))
	mock.ExpectQuery(`SELECT severity, COUNT`).
		WithArgs(userID).
		WillReturnRows(sqlmock.NewRows([]string{"severity", "count"}).AddRow("high", 1))
	mock.ExpectQuery(`SELECT COUNT`).
		WithArgs(userID).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	severity := models.SeverityHigh
	result, err := manager.ListActive(ctx, userID, models.AlertFilters{Severity: &severity})

	require.NoError(t, err)
	require.Len(t, result.Alerts, 1)
	assert.Equal(t, dbAlertID, result.Alerts[0].ID)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListActive_AggregatesCounts(t *testing.T) {
	db, mock, manager := setupMockManager(t)
	defer db.Close()

	ctx := context.Background()
	userID := uuid.New().String()

	mock.ExpectQuery(`SELECT .* FROM alerts`).
		WillReturnRows(activeAlertRow(uuid.New().String(), userID))
	mock.ExpectQuery(`SELECT severity, COUNT`).
		WithArgs(userID).
		WillReturnRows(sqlmock.NewRows([]string{"severity", "count"}).AddRow("high", 1))
	mock.ExpectQuery(`SELECT COUNT`).
		WithArgs(userID).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	result, err := manager.ListActive(ctx, userID, models.AlertFilters{})

	require.NoError(t, err)
	assert.Len(t, result.Alerts, 1)
	assert.Equal(t, 1, result.Total)
	assert.Equal(t, 1, result.BySeverity["high"])
	assert.Equal(t, 1, result.UnreadCount)

	require.NoError(t, mock.ExpectationsWereMet())
}
