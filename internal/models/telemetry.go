package models

// TelemetryMessage 设备遥测消息（MQTT payload 的数组元素）
// 主题格式 vitalink/{user_id}/telemetry，用户归属取自主题段
type TelemetryMessage struct {
	DeviceID  string  `json:"device_id"`
	DataType  string  `json:"data_type"`
	Value     float64 `json:"value"`
	Unit      string  `json:"unit"`
	Timestamp int64   `json:"timestamp"` // Unix 毫秒
}
