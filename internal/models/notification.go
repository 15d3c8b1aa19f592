package models

import (
	"time"
)

// 通知投递状态
const (
	NotificationStatusPending = "pending"
	NotificationStatusSent    = "sent"
	NotificationStatusFailed  = "failed"
)

// 投递失败原因
const (
	FailureReasonNoActiveConnection = "no_active_connection"
	FailureReasonMaxAttempts        = "max_attempts_exceeded"
)

// QueuedNotification 通知队列记录（对应 notification_queue 表）
// 状态机：pending → sent | failed；failed → pending（人工/定时重新入队）
// 记录不删除，保留为投递审计日志
type QueuedNotification struct {
	ID               string     `json:"id" db:"id"`
	UserID           string     `json:"user_id" db:"user_id"`
	NotificationType string     `json:"notification_type" db:"notification_type"` // 同 alert_type
	Title            string     `json:"title" db:"title"`
	Message          string     `json:"message" db:"message"`
	Payload          string     `json:"payload" db:"payload"` // JSONB，推送给客户端的内容
	Status           string     `json:"status" db:"status"`
	Attempts         int        `json:"attempts" db:"attempts"`
	CreatedAt        time.Time  `json:"created_at" db:"created_at"`
	SentAt           *time.Time `json:"sent_at,omitempty" db:"sent_at"`
	ErrorMessage     *string    `json:"error_message,omitempty" db:"error_message"`
}
