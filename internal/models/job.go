package models

import (
	"time"
)

// DispatcherStats 分发器运行统计（运维诊断接口）
type DispatcherStats struct {
	Running       bool      `json:"running"`
	LastSweepAt   time.Time `json:"last_sweep_at"`
	LastBatchSize int       `json:"last_batch_size"`
	TotalSent     int64     `json:"total_sent"`
	TotalFailed   int64     `json:"total_failed"`
}

// JobStatus 定时任务运行状态（调度器诊断接口）
type JobStatus struct {
	Name      string        `json:"name"`
	Enabled   bool          `json:"enabled"`
	Running   bool          `json:"running"`
	Interval  time.Duration `json:"interval"`
	Runs      int64         `json:"runs"`
	LastRunAt *time.Time    `json:"last_run_at,omitempty"`
	LastError string        `json:"last_error,omitempty"`
}
