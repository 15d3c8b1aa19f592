package models

import (
	"time"
)

// 报警级别
const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

// ValidSeverities 所有合法报警级别
var ValidSeverities = map[string]bool{
	SeverityLow:      true,
	SeverityMedium:   true,
	SeverityHigh:     true,
	SeverityCritical: true,
}

// SeverityRank 报警级别排序值（用于"最严格阈值优先"的归并）
func SeverityRank(severity string) int {
	switch severity {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// Threshold 阈值配置（对应 thresholds 表）
// 预期每个 (user_id, data_type) 只有一条启用记录，写入路径通过 UPSERT 保证
type Threshold struct {
	ID        string    `json:"id" db:"id"`
	UserID    string    `json:"user_id" db:"user_id"`
	DataType  string    `json:"data_type" db:"data_type"`
	MinValue  *float64  `json:"min_value,omitempty" db:"min_value"`
	MaxValue  *float64  `json:"max_value,omitempty" db:"max_value"`
	Severity  string    `json:"severity" db:"severity"`
	Enabled   bool      `json:"enabled" db:"enabled"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
