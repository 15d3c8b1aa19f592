package mqtt

import (
	"context"
	"errors"
	"testing"
	"time"

	"vitalink-realtime/internal/config"
	"vitalink-realtime/internal/ingest"
	"vitalink-realtime/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeSubscriber struct {
	subscribed   []string
	unsubscribed []string
	handler      MessageHandler
}

func (f *fakeSubscriber) Subscribe(topic string, qos byte, handler MessageHandler) error {
	f.subscribed = append(f.subscribed, topic)
	f.handler = handler
	return nil
}

func (f *fakeSubscriber) Unsubscribe(topics ...string) error {
	f.unsubscribed = append(f.unsubscribed, topics...)
	return nil
}

type storedReading struct {
	userID string
	input  ingest.StoreInput
}

type fakeSink struct {
	stored  []storedReading
	failFor map[string]error // data_type → error
}

func (f *fakeSink) Store(ctx context.Context, userID string, input ingest.StoreInput) (string, error) {
	if err, ok := f.failFor[input.DataType]; ok {
		return "", err
	}
	f.stored = append(f.stored, storedReading{userID: userID, input: input})
	return "dp-1", nil
}

type createdAlert struct {
	userID    string
	alertType string
	dataType  string
	severity  string
}

type resolvedAlert struct {
	userID    string
	alertType string
	dataType  string
}

type fakeAlertSink struct {
	created  []createdAlert
	resolved []resolvedAlert
}

func (f *fakeAlertSink) CreateOrUpdateAlert(ctx context.Context, userID, alertType, dataType, severity string, snapshot models.AlertSnapshot) (*models.Alert, error) {
	f.created = append(f.created, createdAlert{userID, alertType, dataType, severity})
	return &models.Alert{ID: "alert-1", UserID: userID, AlertType: alertType}, nil
}

func (f *fakeAlertSink) ResolveActiveByType(ctx context.Context, userID, alertType, dataType, resolution string) error {
	f.resolved = append(f.resolved, resolvedAlert{userID, alertType, dataType})
	return nil
}

func telemetryConfig() *config.Config {
	cfg := &config.Config{}
	cfg.MQTT.TelemetryTopic = "vitalink/+/telemetry"
	cfg.MQTT.QoS = 1
	cfg.MQTT.OfflineThreshold = 10 * time.Minute
	return cfg
}

func newTestConsumer() (*TelemetryConsumer, *fakeSubscriber, *fakeSink, *fakeAlertSink) {
	sub := &fakeSubscriber{}
	sink := &fakeSink{}
	alerts := &fakeAlertSink{}
	c := NewTelemetryConsumer(telemetryConfig(), sub, sink, alerts, zap.NewNop())
	return c, sub, sink, alerts
}

func TestStartSubscribesToTelemetryTopic(t *testing.T) {
	c, sub, _, _ := newTestConsumer()

	require.NoError(t, c.Start(context.Background()))
	assert.Equal(t, []string{"vitalink/+/telemetry"}, sub.subscribed)

	require.NoError(t, c.Stop(context.Background()))
	assert.Equal(t, []string{"vitalink/+/telemetry"}, sub.unsubscribed)
}

func TestHandleMessageStoresReadingsForTopicUser(t *testing.T) {
	c, sub, sink, _ := newTestConsumer()
	require.NoError(t, c.Start(context.Background()))

	payload := `[
		{"device_id":"dev-1","data_type":"heart_rate","value":72,"unit":"bpm","timestamp":1724960000000},
		{"device_id":"dev-1","data_type":"blood_oxygen","value":97,"unit":"%","timestamp":1724960001000}
	]`
	require.NoError(t, sub.handler("vitalink/user-1/telemetry", []byte(payload)))

	require.Len(t, sink.stored, 2)
	assert.Equal(t, "user-1", sink.stored[0].userID)
	assert.Equal(t, "heart_rate", sink.stored[0].input.DataType)
	assert.Equal(t, 72.0, sink.stored[0].input.Value)
	assert.Equal(t, "device:dev-1", sink.stored[0].input.Source)
	assert.Equal(t, time.UnixMilli(1724960000000).UTC(), sink.stored[0].input.RecordedAt)
	assert.Equal(t, "blood_oxygen", sink.stored[1].input.DataType)
	assert.Equal(t, 1, c.TrackedDevices())
}

func TestHandleMessageRejectsMalformedTopic(t *testing.T) {
	c, sub, sink, _ := newTestConsumer()
	require.NoError(t, c.Start(context.Background()))

	err := sub.handler("vitalink/telemetry", []byte(`[]`))
	require.Error(t, err)
	assert.Empty(t, sink.stored)
}

func TestHandleMessageRejectsInvalidPayload(t *testing.T) {
	c, sub, sink, _ := newTestConsumer()
	require.NoError(t, c.Start(context.Background()))

	err := sub.handler("vitalink/user-1/telemetry", []byte(`not-json`))
	require.Error(t, err)
	assert.Empty(t, sink.stored)
}

func TestHandleMessageContinuesAfterStoreFailure(t *testing.T) {
	c, sub, sink, _ := newTestConsumer()
	sink.failFor = map[string]error{"heart_rate": errors.New("db down")}
	require.NoError(t, c.Start(context.Background()))

	payload := `[
		{"device_id":"dev-1","data_type":"heart_rate","value":72,"unit":"bpm"},
		{"device_id":"dev-1","data_type":"blood_oxygen","value":97,"unit":"%"}
	]`
	require.NoError(t, sub.handler("vitalink/user-1/telemetry", []byte(payload)))

	require.Len(t, sink.stored, 1)
	assert.Equal(t, "blood_oxygen", sink.stored[0].input.DataType)
}

func TestCheckPresenceAlertsOfflineDevice(t *testing.T) {
	c, sub, _, alerts := newTestConsumer()
	require.NoError(t, c.Start(context.Background()))

	payload := `[{"device_id":"dev-1","data_type":"heart_rate","value":72,"unit":"bpm"}]`
	require.NoError(t, sub.handler("vitalink/user-1/telemetry", []byte(payload)))

	// 回溯 lastSeen 模拟设备长时间静默
	c.mu.Lock()
	c.devices["user-1/dev-1"].lastSeen = time.Now().Add(-11 * time.Minute)
	c.mu.Unlock()

	require.NoError(t, c.CheckPresence(context.Background()))

	require.Len(t, alerts.created, 1)
	assert.Equal(t, "user-1", alerts.created[0].userID)
	assert.Equal(t, models.AlertTypeDeviceDisconnected, alerts.created[0].alertType)
	assert.Equal(t, "dev-1", alerts.created[0].dataType)
	assert.Equal(t, models.SeverityMedium, alerts.created[0].severity)

	// 已离线的设备不重复报警
	require.NoError(t, c.CheckPresence(context.Background()))
	assert.Len(t, alerts.created, 1)
}

func TestCheckPresenceSkipsFreshDevice(t *testing.T) {
	c, sub, _, alerts := newTestConsumer()
	require.NoError(t, c.Start(context.Background()))

	payload := `[{"device_id":"dev-1","data_type":"heart_rate","value":72,"unit":"bpm"}]`
	require.NoError(t, sub.handler("vitalink/user-1/telemetry", []byte(payload)))

	require.NoError(t, c.CheckPresence(context.Background()))
	assert.Empty(t, alerts.created)
}

func TestResumedTelemetryResolvesDisconnectAlert(t *testing.T) {
	c, sub, _, alerts := newTestConsumer()
	require.NoError(t, c.Start(context.Background()))

	payload := `[{"device_id":"dev-1","data_type":"heart_rate","value":72,"unit":"bpm"}]`
	require.NoError(t, sub.handler("vitalink/user-1/telemetry", []byte(payload)))

	c.mu.Lock()
	c.devices["user-1/dev-1"].lastSeen = time.Now().Add(-11 * time.Minute)
	c.mu.Unlock()
	require.NoError(t, c.CheckPresence(context.Background()))
	require.Len(t, alerts.created, 1)

	// 设备恢复上报 → 断连报警解除
	require.NoError(t, sub.handler("vitalink/user-1/telemetry", []byte(payload)))

	require.Len(t, alerts.resolved, 1)
	assert.Equal(t, resolvedAlert{
		userID:    "user-1",
		alertType: models.AlertTypeDeviceDisconnected,
		dataType:  "dev-1",
	}, alerts.resolved[0])
}
