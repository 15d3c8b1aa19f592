package models

import (
	"time"
)

// 健康数据类型（对应 health_data_points.data_type）
const (
	DataTypeHeartRate        = "heart_rate"
	DataTypeBloodPressure    = "blood_pressure"
	DataTypeTemperature      = "temperature"
	DataTypeOxygenSaturation = "oxygen_saturation"
	DataTypeSteps            = "steps"
	DataTypeSleep            = "sleep"
	DataTypeWeight           = "weight"
	DataTypeGlucose          = "glucose"
)

// ValidDataTypes 所有合法数据类型
var ValidDataTypes = map[string]bool{
	DataTypeHeartRate:        true,
	DataTypeBloodPressure:    true,
	DataTypeTemperature:      true,
	DataTypeOxygenSaturation: true,
	DataTypeSteps:            true,
	DataTypeSleep:            true,
	DataTypeWeight:           true,
	DataTypeGlucose:          true,
}

// IsValidDataType 判断数据类型是否合法
func IsValidDataType(dataType string) bool {
	return ValidDataTypes[dataType]
}

// HealthDataPoint 健康数据点（对应 health_data_points 表）
// 写入后不可变更
type HealthDataPoint struct {
	ID         string    `json:"id" db:"id"`
	UserID     string    `json:"user_id" db:"user_id"`
	DataType   string    `json:"data_type" db:"data_type"`
	Value      float64   `json:"value" db:"value"`
	Unit       string    `json:"unit" db:"unit"`
	Source     string    `json:"source" db:"source"` // 数据来源，如 "manual", "apple_health", 设备序列号
	RecordedAt time.Time `json:"recorded_at" db:"recorded_at"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// HealthDataFilters 健康数据查询过滤条件
type HealthDataFilters struct {
	DataType  *string    // 数据类型
	StartDate *time.Time // recorded_at >= StartDate
	EndDate   *time.Time // recorded_at <= EndDate
	Limit     int        // 返回条数上限（0 使用默认值）
}

// EvaluationTask 评估任务（发布到 Redis Streams 的消息体）
type EvaluationTask struct {
	DataPointID string    `json:"data_point_id"`
	UserID      string    `json:"user_id"`
	DataType    string    `json:"data_type"`
	Value       float64   `json:"value"`
	Unit        string    `json:"unit"`
	Source      string    `json:"source"`
	RecordedAt  time.Time `json:"recorded_at"`
}
