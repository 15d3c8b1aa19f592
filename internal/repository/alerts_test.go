package repository

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
)

func setupMockAlertsDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *AlertsRepository) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	logger := zap.NewNop()
	repo := NewAlertsRepository(db, logger)

	return db, mock, repo
}

func alertRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "user_id", "alert_type", "data_type", "severity", "title", "message",
		"data_snapshot", "status", "is_read", "created_at", "updated_at", "resolved_at", "resolution",
	})
}

func TestGetActiveAlert_Found(t *testing.T) {
	db, mock, repo := setupMockAlertsDB(t)
	defer db.Close()

	ctx := context.Background()
	userID := uuid.New().String()
	alertID := uuid.New().String()
	now := time.Now()

	rows := alertRows().AddRow(
		alertID, userID, "threshold_exceeded", "heart_rate", "high",
		"Heart rate threshold exceeded", "heart_rate 180 above max 100",
		`{"value":180}`, "active", false, now, now, nil, nil,
	)

	mock.ExpectQuery(`SELECT`).
		WithArgs(userID, "threshold_exceeded", "heart_rate").
		WillReturnRows(rows)

	alert, err := repo.GetActiveAlert(ctx, userID, "threshold_exceeded", "heart_rate")

	require.NoError(t, err)
	require.NotNil(t, alert)
	assert.Equal(t, alertID, alert.ID)
	assert.Equal(t, "active", alert.Status)
	assert.False(t, alert.IsRead)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetActiveAlert_NoneReturnsNil(t *testing.T) {
	db, mock, repo := setupMockAlertsDB(t)
	defer db.Close()

	ctx := context.Background()
	userID := uuid.New().String()

	mock.ExpectQuery(`SELECT`).
		WithArgs(userID, "threshold_exceeded", "glucose").
		WillReturnError(sql.ErrNoRows)

	alert, err := repo.GetActiveAlert(ctx, userID, "threshold_exceeded", "glucose")

	require.NoError(t, err)
	assert.Nil(t, alert)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkRead_Success(t *testing.T) {
	db, mock, repo := setupMockAlertsDB(t)
	defer db.Close()

	ctx := context.Background()
	alertID := uuid.New().String()
	userID := uuid.New().String()

	mock.ExpectExec(`UPDATE alerts`).
		WithArgs(alertID, userID, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.MarkRead(ctx, alertID, userID)

	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkRead_WrongOwnerReturnsNotFound(t *testing.T) {
	db, mock, repo := setupMockAlertsDB(t)
	defer db.Close()

	ctx := context.Background()
	alertID := uuid.New().String()
	otherUserID := uuid.New().String()

	// 归属不匹配时没有行被更新，必须返回 NotFound 而不是泄露记录存在性
	mock.ExpectExec(`UPDATE alerts`).
		WithArgs(alertID, otherUserID, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.MarkRead(ctx, alertID, otherUserID)

	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrNotFound)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListActive_WithSeverityFilter(t *testing.T) {
	db, mock, repo := setupMockAlertsDB(t)
	defer db.Close()

	ctx := context.Background()
	userID := uuid.New().String()
	now := time.Now()

	rows := alertRows().AddRow(
		uuid.New().String(), userID, "threshold_exceeded", "heart_rate", "critical",
		"Heart rate threshold exceeded", "heart_rate 190 above max 100",
		`{"value":190}`, "active", false, now, now, nil, nil,
	)

	severity := "critical"
	mock.ExpectQuery(`SELECT`).
		WithArgs(userID, severity, 50, 0).
		WillReturnRows(rows)

	alerts, err := repo.ListActive(ctx, userID, models.AlertFilters{Severity: &severity})

	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, "critical", alerts[0].Severity)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCountActiveBySeverity(t *testing.T) {
	db, mock, repo := setupMockAlertsDB(t)
	defer db.Close()

	ctx := context.Background()
	userID := uuid.New().String()

	rows := sqlmock.NewRows([]string{"severity", "count"}).
		AddRow("high", 2).
		AddRow("low", 1)

	mock.ExpectQuery(`SELECT severity, COUNT`).
		WithArgs(userID).
		WillReturnRows(rows)

	counts, err := repo.CountActiveBySeverity(ctx, userID)

	require.NoError(t, err)
	assert.Equal(t, map[string]int{"high": 2, "low": 1}, counts)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateSnapshot_ResolvedAlertReturnsNotFound(t *testing.T) {
	db, mock, repo := setupMockAlertsDB(t)
	defer db.Close()

	ctx := context.Background()
	alertID := uuid.New().String()

	mock.ExpectExec(`UPDATE alerts`).
		WithArgs(alertID, `{"value":120}`, "high", "updated", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.UpdateSnapshot(ctx, alertID, `{"value":120}`, "high", "updated", time.Now())

	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrNotFound)

	require.NoError(t, mock.ExpectationsWereMet())
}
