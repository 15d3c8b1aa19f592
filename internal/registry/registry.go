package registry

import (
	"context"
	"sync"
	"time"

	"vitalink-realtime/internal/config"
	"vitalink-realtime/internal/models"
	"vitalink-realtime/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Transport 推送通道的底层传输抽象
// WebSocket 连接实现此接口；测试使用内存实现
type Transport interface {
	// Send 非阻塞投递一条消息（缓冲满或通道已关闭时返回错误）
	Send(data []byte) error
	// Close 关闭底层传输
	Close() error
	// Alive 传输是否仍然打开
	Alive() bool
}

// entry 内存中的单个连接
type entry struct {
	connectionID string
	userID       string
	transport    Transport
	lastPing     time.Time
}

// Registry 连接注册表
// 内存连接表是派生缓存，数据库 connections 表是历史事实来源；
// 进程重启后内存连接全部视为死亡，由 Reconcile 对齐数据库
type Registry struct {
	config      *config.Config
	connections *repository.ConnectionsRepository
	logger      *zap.Logger

	mu     sync.RWMutex
	conns  map[string]*entry            // connection_id → entry
	byUser map[string]map[string]*entry // user_id → connection_id → entry
}

// NewRegistry 创建连接注册表
func NewRegistry(cfg *config.Config, connections *repository.ConnectionsRepository, logger *zap.Logger) *Registry {
	return &Registry{
		config:      cfg,
		connections: connections,
		logger:      logger,
		conns:       make(map[string]*entry),
		byUser:      make(map[string]map[string]*entry),
	}
}

// Reconcile 启动时对齐数据库：上个进程遗留的 active 行没有真实 socket，全部关闭
func (r *Registry) Reconcile(ctx context.Context) error {
	count, err := r.connections.CloseAllActive(ctx)
	if err != nil {
		return err
	}

	if count > 0 {
		r.logger.Info("Reconciled stale connection rows from previous process",
			zap.Int64("closed", count),
		)
	}

	return nil
}

// Register 注册新连接：落库 + 加入内存索引，返回 connection_id
func (r *Registry) Register(ctx context.Context, userID, deviceInfo string, t Transport) (string, error) {
	connectionID := uuid.New().String()
	now := time.Now().UTC()

	record := &models.Connection{
		ConnectionID: connectionID,
		UserID:       userID,
		DeviceInfo:   deviceInfo,
		IsActive:     true,
		LastPing:     now,
		ConnectedAt:  now,
	}
	if err := r.connections.InsertConnection(ctx, record); err != nil {
		return "", err
	}

	e := &entry{
		connectionID: connectionID,
		userID:       userID,
		transport:    t,
		lastPing:     now,
	}

	r.mu.Lock()
	r.conns[connectionID] = e
	if r.byUser[userID] == nil {
		r.byUser[userID] = make(map[string]*entry)
	}
	r.byUser[userID][connectionID] = e
	r.mu.Unlock()

	r.logger.Info("Connection registered",
		zap.String("connection_id", connectionID),
		zap.String("user_id", userID),
	)

	return connectionID, nil
}

// Heartbeat 更新连接心跳时间（内存 + 数据库）
func (r *Registry) Heartbeat(ctx context.Context, connectionID string) {
	now := time.Now().UTC()

	r.mu.Lock()
	if e, ok := r.conns[connectionID]; ok {
		e.lastPing = now
	}
	r.mu.Unlock()

	if err := r.connections.TouchPing(ctx, connectionID, now); err != nil {
		r.logger.Warn("Failed to persist heartbeat",
			zap.String("connection_id", connectionID),
			zap.Error(err),
		)
	}
}

// Unregister 注销连接：移出内存索引、关闭传输、标记数据库记录
// 幂等：重复注销是安全的空操作
func (r *Registry) Unregister(ctx context.Context, connectionID string) {
	r.mu.Lock()
	e, ok := r.conns[connectionID]
	if ok {
		delete(r.conns, connectionID)
		if userConns, exists := r.byUser[e.userID]; exists {
			delete(userConns, connectionID)
			if len(userConns) == 0 {
				delete(r.byUser, e.userID)
			}
		}
	}
	r.mu.Unlock()

	if !ok {
		return
	}

	if err := e.transport.Close(); err != nil {
		r.logger.Debug("Transport close returned error",
			zap.String("connection_id", connectionID),
			zap.Error(err),
		)
	}

	if err := r.connections.MarkClosed(ctx, connectionID, time.Now().UTC()); err != nil {
		r.logger.Error("Failed to mark connection closed",
			zap.String("connection_id", connectionID),
			zap.Error(err),
		)
	}

	r.logger.Info("Connection unregistered",
		zap.String("connection_id", connectionID),
		zap.String("user_id", e.userID),
	)
}

// SendToUser 向用户的所有连接扇出一条消息
// 单连接失败只计数不抛错，返回 {delivered, total} 聚合结果
func (r *Registry) SendToUser(userID string, data []byte) models.FanoutResult {
	r.mu.RLock()
	targets := make([]*entry, 0, len(r.byUser[userID]))
	for _, e := range r.byUser[userID] {
		targets = append(targets, e)
	}
	r.mu.RUnlock()

	result := models.FanoutResult{Total: len(targets)}
	for _, e := range targets {
		if err := e.transport.Send(data); err != nil {
			r.logger.Warn("Failed to push to connection",
				zap.String("connection_id", e.connectionID),
				zap.String("user_id", userID),
				zap.Error(err),
			)
			continue
		}
		result.Delivered++
	}

	return result
}

// SweepStale 扫描并强制关闭失活连接
// 传输已关闭或 lastPing 超时的连接走统一的注销路径，
// 保证漏掉 close 事件时注册表仍收敛到真实状态
func (r *Registry) SweepStale(ctx context.Context) error {
	threshold := r.config.Registry.StaleThreshold
	now := time.Now().UTC()

	r.mu.RLock()
	var stale []string
	for id, e := range r.conns {
		if !e.transport.Alive() || now.Sub(e.lastPing) > threshold {
			stale = append(stale, id)
		}
	}
	r.mu.RUnlock()

	for _, id := range stale {
		r.logger.Info("Closing stale connection",
			zap.String("connection_id", id),
		)
		r.Unregister(ctx, id)
	}

	return nil
}

// ActiveCount 当前内存中的连接总数
func (r *Registry) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// UserConnectionCount 用户当前的连接数
func (r *Registry) UserConnectionCount(userID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser[userID])
}

// StoredActiveCount 数据库中的 active 连接行数
// 与 ActiveCount 一起用于诊断内存索引和数据库是否漂移
func (r *Registry) StoredActiveCount(ctx context.Context) (int, error) {
	return r.connections.CountActive(ctx)
}

// Connection 查询单条连接记录（含已关闭的历史记录）
func (r *Registry) Connection(ctx context.Context, connectionID string) (*models.Connection, error) {
	return r.connections.GetConnection(ctx, connectionID)
}
