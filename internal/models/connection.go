package models

import (
	"time"
)

// Connection 推送通道连接记录（对应 connections 表）
// 内存中的连接表是派生缓存，数据库记录兼作连接历史日志，不删除
type Connection struct {
	ConnectionID   string     `json:"connection_id" db:"connection_id"`
	UserID         string     `json:"user_id" db:"user_id"`
	DeviceInfo     string     `json:"device_info" db:"device_info"` // 自由格式元数据（User-Agent 等）
	IsActive       bool       `json:"is_active" db:"is_active"`
	LastPing       time.Time  `json:"last_ping" db:"last_ping"`
	ConnectedAt    time.Time  `json:"connected_at" db:"connected_at"`
	DisconnectedAt *time.Time `json:"disconnected_at,omitempty" db:"disconnected_at"`
}

// FanoutResult 单次用户级推送的聚合结果
type FanoutResult struct {
	Delivered int `json:"delivered"` // 推送成功的连接数
	Total     int `json:"total"`     // 该用户当前注册的连接数
}
