package models

import (
	"time"
)

// 报警类型
const (
	AlertTypeThresholdExceeded  = "threshold_exceeded"
	AlertTypeAnomalyDetected    = "anomaly_detected"
	AlertTypeMissingData        = "missing_data"
	AlertTypeDeviceDisconnected = "device_disconnected"
)

// 报警状态
const (
	AlertStatusActive   = "active"
	AlertStatusResolved = "resolved"
)

// Alert 报警记录（对应 alerts 表）
// 不变式：同一 (user_id, alert_type, data_type) 同时最多一条 active 记录，
// 重复触发只更新快照和时间戳，避免报警风暴
type Alert struct {
	ID           string     `json:"id" db:"id"`
	UserID       string     `json:"user_id" db:"user_id"`
	AlertType    string     `json:"alert_type" db:"alert_type"`
	DataType     string     `json:"data_type" db:"data_type"`
	Severity     string     `json:"severity" db:"severity"`
	Title        string     `json:"title" db:"title"`
	Message      string     `json:"message" db:"message"`
	DataSnapshot string     `json:"data_snapshot" db:"data_snapshot"` // JSONB，触发读数的快照
	Status       string     `json:"status" db:"status"`               // active, resolved
	IsRead       bool       `json:"is_read" db:"is_read"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at" db:"updated_at"`
	ResolvedAt   *time.Time `json:"resolved_at,omitempty" db:"resolved_at"`
	Resolution   *string    `json:"resolution,omitempty" db:"resolution"`
}

// AlertFilters 报警查询过滤条件
type AlertFilters struct {
	Severity *string // 报警级别
	Limit    int     // 返回条数上限
	Offset   int     // 分页偏移
}

// AlertSnapshot 触发数据快照（data_snapshot JSONB 结构）
type AlertSnapshot struct {
	DataPointID string    `json:"data_point_id,omitempty"`
	DataType    string    `json:"data_type"`
	Value       float64   `json:"value"`
	Unit        string    `json:"unit,omitempty"`
	Source      string    `json:"source,omitempty"`
	RecordedAt  time.Time `json:"recorded_at"`
	Reason      string    `json:"reason,omitempty"`
	Threshold   *ThresholdSnapshot `json:"threshold,omitempty"`
}

// ThresholdSnapshot 触发时刻的阈值快照
type ThresholdSnapshot struct {
	Min *float64 `json:"min,omitempty"`
	Max *float64 `json:"max,omitempty"`
}

// AlertListResult 活跃报警列表响应（含按级别统计和未读计数）
type AlertListResult struct {
	Alerts      []Alert        `json:"alerts"`
	Total       int            `json:"total"`
	BySeverity  map[string]int `json:"by_severity"`
	UnreadCount int            `json:"unread_count"`
}
