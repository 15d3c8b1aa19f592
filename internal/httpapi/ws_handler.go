package httpapi

import (
	"context"
	"net/http"

	"vitalink-realtime/internal/config"
	"vitalink-realtime/internal/models"
	"vitalink-realtime/internal/registry"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// WSHandler 报警推送通道 Handler
type WSHandler struct {
	config   *config.Config
	registry *registry.Registry
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

// NewWSHandler 创建推送通道 Handler
func NewWSHandler(cfg *config.Config, reg *registry.Registry, logger *zap.Logger) *WSHandler {
	return &WSHandler{
		config:   cfg,
		registry: reg,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// 跨域由网关层控制
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Serve 建立推送连接
// GET /api/v1/ws（Upgrade: websocket）
func (h *WSHandler) Serve(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromReq(w, r)
	if !ok {
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade 失败时 gorilla 已写出响应
		h.logger.Warn("Websocket upgrade failed",
			zap.String("user_id", userID),
			zap.Error(err),
		)
		return
	}

	wsConn := registry.NewWSConn(conn, h.config.Registry.SendBuffer)

	connectionID, err := h.registry.Register(r.Context(), userID, r.UserAgent(), wsConn)
	if err != nil {
		h.logger.Error("Failed to register connection",
			zap.String("user_id", userID),
			zap.Error(err),
		)
		wsConn.Close()
		return
	}

	h.sendEstablished(wsConn, connectionID)

	// 请求上下文随 handler 返回取消，连接生命周期用独立上下文
	go wsConn.WritePump(h.logger)
	go wsConn.ReadPump(context.Background(), h.registry, connectionID, h.logger)
}

// sendEstablished 推送连接建立确认
func (h *WSHandler) sendEstablished(wsConn *registry.WSConn, connectionID string) {
	env, err := models.NewEnvelope(models.MessageTypeConnectionEstablished, map[string]string{
		"connection_id": connectionID,
	})
	if err != nil {
		h.logger.Error("Failed to build connection envelope", zap.Error(err))
		return
	}

	data, err := env.Encode()
	if err != nil {
		h.logger.Error("Failed to encode connection envelope", zap.Error(err))
		return
	}

	if err := wsConn.Send(data); err != nil {
		h.logger.Debug("Failed to send connection envelope",
			zap.String("connection_id", connectionID),
			zap.Error(err),
		)
	}
}
