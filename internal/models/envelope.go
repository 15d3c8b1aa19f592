package models

import (
	"encoding/json"
	"time"
)

// 推送通道消息类型（服务端 → 客户端 JSON envelope 的 type 字段）
const (
	MessageTypeConnectionEstablished = "connection_established"
	MessageTypeHeartbeat             = "heartbeat"
	MessageTypeAlert                 = "alert"
	MessageTypeNewMessage            = "new_message"
	MessageTypeError                 = "error"
	MessageTypePing                  = "ping"
	MessageTypePong                  = "pong"
)

// Envelope 推送通道消息信封
type Envelope struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Message   string          `json:"message,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewEnvelope 构造带当前时间戳的消息信封
func NewEnvelope(msgType string, payload interface{}) (*Envelope, error) {
	env := &Envelope{
		Type:      msgType,
		Timestamp: time.Now().UTC(),
	}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		env.Payload = raw
	}
	return env, nil
}

// Encode 序列化消息信封
func (e *Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}
