package dispatcher

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"vitalink-realtime/internal/config"
	"vitalink-realtime/internal/models"
	"vitalink-realtime/internal/repository"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeFanout 测试用扇出实现
type fakeFanout struct {
	results map[string]models.FanoutResult
	sent    map[string][][]byte
}

func newFakeFanout() *fakeFanout {
	return &fakeFanout{
		results: make(map[string]models.FanoutResult),
		sent:    make(map[string][][]byte),
	}
}

func (f *fakeFanout) SendToUser(userID string, data []byte) models.FanoutResult {
	f.sent[userID] = append(f.sent[userID], data)
	return f.results[userID]
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Dispatcher.SweepInterval = 5 * time.Second
	cfg.Dispatcher.BatchSize = 100
	cfg.Dispatcher.MaxAttempts = 3
	cfg.Dispatcher.MaxPendingAge = 24 * time.Hour
	return cfg
}

func newTestDispatcher(t *testing.T, fanout Fanout) (*Dispatcher, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	queue := repository.NewNotificationQueueRepository(db, zap.NewNop())
	return NewDispatcher(testConfig(), queue, fanout, zap.NewNop()), mock
}

func pendingRows(notifications ...models.QueuedNotification) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{
		"id", "user_id", "notification_type", "title", "message", "payload",
		"status", "attempts", "created_at", "sent_at", "error_message",
	})
	for _, n := range notifications {
		rows.AddRow(n.ID, n.UserID, n.NotificationType, n.Title, n.Message, n.Payload,
			n.Status, n.Attempts, n.CreatedAt, nil, nil)
	}
	return rows
}

func pendingNotification(id, userID string, createdAt time.Time) models.QueuedNotification {
	return models.QueuedNotification{
		ID:               id,
		UserID:           userID,
		NotificationType: "threshold_violation",
		Title:            "Health Alert",
		Message:          "heart_rate reading out of range",
		Payload:          `{"alert_id":"alert-1","severity":"high"}`,
		Status:           models.NotificationStatusPending,
		CreatedAt:        createdAt,
	}
}

func TestSweepMarksSentWhenDelivered(t *testing.T) {
	fanout := newFakeFanout()
	fanout.results["user-1"] = models.FanoutResult{Delivered: 2, Total: 2}

	d, mock := newTestDispatcher(t, fanout)

	n := pendingNotification("notif-1", "user-1", time.Now().Add(-time.Minute))
	mock.ExpectQuery(`SELECT .+ FROM notification_queue`).
		WithArgs(100).
		WillReturnRows(pendingRows(n))
	mock.ExpectExec(`UPDATE notification_queue\s+SET status = 'sent'`).
		WithArgs("notif-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := d.Sweep(context.Background())
	require.NoError(t, err)

	require.Len(t, fanout.sent["user-1"], 1)
	assert.NoError(t, mock.ExpectationsWereMet())
	assert.Equal(t, int64(1), d.Stats().TotalSent)
}

func TestSweepWrapsNotificationInAlertEnvelope(t *testing.T) {
	fanout := newFakeFanout()
	fanout.results["user-1"] = models.FanoutResult{Delivered: 1, Total: 1}

	d, mock := newTestDispatcher(t, fanout)

	n := pendingNotification("notif-1", "user-1", time.Now().Add(-time.Minute))
	mock.ExpectQuery(`SELECT .+ FROM notification_queue`).
		WithArgs(100).
		WillReturnRows(pendingRows(n))
	mock.ExpectExec(`UPDATE notification_queue\s+SET status = 'sent'`).
		WithArgs("notif-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, d.Sweep(context.Background()))

	require.Len(t, fanout.sent["user-1"], 1)
	var env models.Envelope
	require.NoError(t, json.Unmarshal(fanout.sent["user-1"][0], &env))
	assert.Equal(t, models.MessageTypeAlert, env.Type)

	var body map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(env.Payload, &body))
	assert.JSONEq(t, `"notif-1"`, string(body["notification_id"]))
	assert.JSONEq(t, `{"alert_id":"alert-1","severity":"high"}`, string(body["payload"]))
}

func TestSweepLeavesPendingWhenNoConnections(t *testing.T) {
	fanout := newFakeFanout()
	fanout.results["user-1"] = models.FanoutResult{Delivered: 0, Total: 0}

	d, mock := newTestDispatcher(t, fanout)

	// 刚入队一分钟，没有活跃连接 → 保持 pending，不计入尝试次数
	n := pendingNotification("notif-1", "user-1", time.Now().Add(-time.Minute))
	mock.ExpectQuery(`SELECT .+ FROM notification_queue`).
		WithArgs(100).
		WillReturnRows(pendingRows(n))

	err := d.Sweep(context.Background())
	require.NoError(t, err)

	// 没有任何 UPDATE 发生
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSweepExpiresOldNotificationWithNoConnections(t *testing.T) {
	fanout := newFakeFanout()
	fanout.results["user-1"] = models.FanoutResult{Delivered: 0, Total: 0}

	d, mock := newTestDispatcher(t, fanout)

	n := pendingNotification("notif-1", "user-1", time.Now().Add(-25*time.Hour))
	mock.ExpectQuery(`SELECT .+ FROM notification_queue`).
		WithArgs(100).
		WillReturnRows(pendingRows(n))
	mock.ExpectExec(`UPDATE notification_queue\s+SET status = 'failed'`).
		WithArgs("notif-1", models.FailureReasonNoActiveConnection).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := d.Sweep(context.Background())
	require.NoError(t, err)

	assert.NoError(t, mock.ExpectationsWereMet())
	assert.Equal(t, int64(1), d.Stats().TotalFailed)
}

func TestSweepRecordsAttemptWhenAllDeliveriesFail(t *testing.T) {
	fanout := newFakeFanout()
	fanout.results["user-1"] = models.FanoutResult{Delivered: 0, Total: 2}

	d, mock := newTestDispatcher(t, fanout)

	n := pendingNotification("notif-1", "user-1", time.Now().Add(-time.Minute))
	mock.ExpectQuery(`SELECT .+ FROM notification_queue`).
		WithArgs(100).
		WillReturnRows(pendingRows(n))
	mock.ExpectQuery(`UPDATE notification_queue\s+SET attempts = attempts \+ 1`).
		WithArgs("notif-1", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"attempts"}).AddRow(1))

	err := d.Sweep(context.Background())
	require.NoError(t, err)

	// 尝试次数未达上限，通知保持 pending
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSweepFailsNotificationAfterMaxAttempts(t *testing.T) {
	fanout := newFakeFanout()
	fanout.results["user-1"] = models.FanoutResult{Delivered: 0, Total: 1}

	d, mock := newTestDispatcher(t, fanout)

	n := pendingNotification("notif-1", "user-1", time.Now().Add(-time.Minute))
	mock.ExpectQuery(`SELECT .+ FROM notification_queue`).
		WithArgs(100).
		WillReturnRows(pendingRows(n))
	mock.ExpectQuery(`UPDATE notification_queue\s+SET attempts = attempts \+ 1`).
		WithArgs("notif-1", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"attempts"}).AddRow(3))
	mock.ExpectExec(`UPDATE notification_queue\s+SET status = 'failed'`).
		WithArgs("notif-1", models.FailureReasonMaxAttempts).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := d.Sweep(context.Background())
	require.NoError(t, err)

	assert.NoError(t, mock.ExpectationsWereMet())
	assert.Equal(t, int64(1), d.Stats().TotalFailed)
}

func TestSweepProcessesBatchInOrderAndContinuesOnError(t *testing.T) {
	fanout := newFakeFanout()
	fanout.results["user-1"] = models.FanoutResult{Delivered: 1, Total: 1}
	fanout.results["user-2"] = models.FanoutResult{Delivered: 1, Total: 1}

	d, mock := newTestDispatcher(t, fanout)

	older := pendingNotification("notif-1", "user-1", time.Now().Add(-2*time.Minute))
	newer := pendingNotification("notif-2", "user-2", time.Now().Add(-time.Minute))
	mock.ExpectQuery(`SELECT .+ FROM notification_queue`).
		WithArgs(100).
		WillReturnRows(pendingRows(older, newer))
	// 第一条的 MarkSent 失败，第二条仍被处理
	mock.ExpectExec(`UPDATE notification_queue\s+SET status = 'sent'`).
		WithArgs("notif-1", sqlmock.AnyArg()).
		WillReturnError(assert.AnError)
	mock.ExpectExec(`UPDATE notification_queue\s+SET status = 'sent'`).
		WithArgs("notif-2", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := d.Sweep(context.Background())
	require.NoError(t, err)

	require.Len(t, fanout.sent["user-1"], 1)
	require.Len(t, fanout.sent["user-2"], 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSweepSkipsWhenAlreadyRunning(t *testing.T) {
	fanout := newFakeFanout()
	d, mock := newTestDispatcher(t, fanout)

	d.running.Store(true)
	err := d.Sweep(context.Background())
	require.NoError(t, err)

	// 重入直接返回，不触发任何查询
	assert.NoError(t, mock.ExpectationsWereMet())
	assert.Empty(t, fanout.sent)
}

func TestSweepRecordsStats(t *testing.T) {
	fanout := newFakeFanout()
	d, mock := newTestDispatcher(t, fanout)

	mock.ExpectQuery(`SELECT .+ FROM notification_queue`).
		WithArgs(100).
		WillReturnRows(pendingRows())

	require.NoError(t, d.Sweep(context.Background()))

	stats := d.Stats()
	assert.False(t, stats.LastSweepAt.IsZero())
	assert.Equal(t, 0, stats.LastBatchSize)
	assert.False(t, stats.Running)
}

func TestStatsReflectsRunningSweep(t *testing.T) {
	fanout := newFakeFanout()
	d, _ := newTestDispatcher(t, fanout)

	d.running.Store(true)
	assert.True(t, d.Stats().Running)

	d.running.Store(false)
	assert.False(t, d.Stats().Running)
}
