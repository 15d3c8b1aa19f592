package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"vitalink-realtime/internal/models"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// 写超时
	writeWait = 10 * time.Second
	// 协议层 pong 等待时间
	pongWait = 60 * time.Second
	// 协议层 ping 周期（必须小于 pongWait）
	pingPeriod = (pongWait * 9) / 10
	// 客户端消息大小上限
	maxMessageSize = 4096
)

// WSConn gorilla/websocket 连接的 Transport 实现
// 写通过带缓冲的 send channel 串行化：一个连接绝不并发写两条消息
type WSConn struct {
	conn *websocket.Conn
	send chan []byte

	// 协议层 ping / 应用层 heartbeat 的发送周期
	pingPeriod time.Duration

	closeOnce sync.Once
	closed    chan struct{}
}

// NewWSConn 包装已升级的 websocket 连接
func NewWSConn(conn *websocket.Conn, sendBuffer int) *WSConn {
	if sendBuffer <= 0 {
		sendBuffer = 64
	}
	return &WSConn{
		conn:       conn,
		send:       make(chan []byte, sendBuffer),
		pingPeriod: pingPeriod,
		closed:     make(chan struct{}),
	}
}

// Send 非阻塞投递一条消息
func (w *WSConn) Send(data []byte) error {
	select {
	case <-w.closed:
		return fmt.Errorf("connection closed")
	default:
	}

	select {
	case w.send <- data:
		return nil
	default:
		return fmt.Errorf("send buffer full")
	}
}

// Close 关闭连接
func (w *WSConn) Close() error {
	w.closeOnce.Do(func() {
		close(w.closed)
		w.conn.Close()
	})
	return nil
}

// Alive 连接是否仍打开
func (w *WSConn) Alive() bool {
	select {
	case <-w.closed:
		return false
	default:
		return true
	}
}

// WritePump 将 send channel 的消息写到 socket，并按周期发送协议层 ping
// 加一条应用层 heartbeat 信封（浏览器端看不到协议层控制帧）
// 每个连接一个 goroutine
func (w *WSConn) WritePump(logger *zap.Logger) {
	ticker := time.NewTicker(w.pingPeriod)
	defer func() {
		ticker.Stop()
		w.Close()
	}()

	for {
		select {
		case <-w.closed:
			return
		case message := <-w.send:
			w.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := w.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				logger.Debug("Websocket write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			w.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := w.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				logger.Debug("Websocket ping failed", zap.Error(err))
				return
			}
			heartbeat, err := heartbeatMessage()
			if err != nil {
				logger.Error("Failed to encode heartbeat", zap.Error(err))
				continue
			}
			if err := w.conn.WriteMessage(websocket.TextMessage, heartbeat); err != nil {
				logger.Debug("Websocket heartbeat failed", zap.Error(err))
				return
			}
		}
	}
}

// heartbeatMessage 构造应用层心跳信封
func heartbeatMessage() ([]byte, error) {
	env, err := models.NewEnvelope(models.MessageTypeHeartbeat, nil)
	if err != nil {
		return nil, err
	}
	return env.Encode()
}

// ReadPump 读取客户端消息直到连接关闭，退出时走注册表的统一注销路径
// 处理应用层 {type:"ping"} 心跳和订阅消息
func (w *WSConn) ReadPump(ctx context.Context, reg *Registry, connectionID string, logger *zap.Logger) {
	defer func() {
		reg.Unregister(ctx, connectionID)
	}()

	w.conn.SetReadLimit(maxMessageSize)
	w.conn.SetReadDeadline(time.Now().Add(pongWait))
	w.conn.SetPongHandler(func(string) error {
		w.conn.SetReadDeadline(time.Now().Add(pongWait))
		// 协议层 pong 同样算心跳：只靠传输层保活的客户端不该被清理扫描误杀
		reg.Heartbeat(ctx, connectionID)
		return nil
	})

	for {
		_, message, err := w.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				logger.Warn("Websocket read error",
					zap.String("connection_id", connectionID),
					zap.Error(err),
				)
			}
			return
		}

		w.handleClientMessage(ctx, reg, connectionID, message, logger)
	}
}

// handleClientMessage 处理客户端发来的应用层消息
func (w *WSConn) handleClientMessage(ctx context.Context, reg *Registry, connectionID string, message []byte, logger *zap.Logger) {
	var msg struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(message, &msg); err != nil {
		w.sendEnvelope(models.MessageTypeError, nil, "malformed message", logger)
		return
	}

	switch msg.Type {
	case models.MessageTypePing:
		reg.Heartbeat(ctx, connectionID)
		w.sendEnvelope(models.MessageTypePong, nil, "", logger)
	case "subscribe":
		// 目前每个连接都接收本用户的全部报警，订阅只回 ack
		w.sendEnvelope(models.MessageTypeNewMessage, map[string]string{"subscription": "ok"}, "", logger)
	default:
		logger.Debug("Ignoring unknown client message",
			zap.String("connection_id", connectionID),
			zap.String("type", msg.Type),
		)
	}
}

// sendEnvelope 通过本连接发送一条信封消息
func (w *WSConn) sendEnvelope(msgType string, payload interface{}, errMsg string, logger *zap.Logger) {
	env, err := models.NewEnvelope(msgType, payload)
	if err != nil {
		logger.Error("Failed to build envelope", zap.Error(err))
		return
	}
	if errMsg != "" {
		env.Message = errMsg
	}

	data, err := env.Encode()
	if err != nil {
		logger.Error("Failed to encode envelope", zap.Error(err))
		return
	}

	if err := w.Send(data); err != nil {
		logger.Debug("Failed to send envelope", zap.Error(err))
	}
}
