package service

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"vitalink-realtime/internal/alert"
	"vitalink-realtime/internal/config"
	"vitalink-realtime/internal/consumer"
	"vitalink-realtime/internal/database"
	"vitalink-realtime/internal/dispatcher"
	"vitalink-realtime/internal/evaluator"
	"vitalink-realtime/internal/httpapi"
	"vitalink-realtime/internal/ingest"
	"vitalink-realtime/internal/mqtt"
	"vitalink-realtime/internal/redisx"
	"vitalink-realtime/internal/registry"
	"vitalink-realtime/internal/repository"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// 调度器任务名
const (
	JobDispatcherSweep  = "dispatcher-sweep"
	JobRegistrySweep    = "registry-stale-sweep"
	JobMissingDataCheck = "missing-data-check"
	JobDevicePresence   = "device-presence-check"
)

// RealtimeService 实时健康监测服务（整合各层）
type RealtimeService struct {
	config      *config.Config
	db          *sql.DB
	redisClient *redis.Client
	logger      *zap.Logger

	// 各层组件
	healthDataRepo    *repository.HealthDataRepository
	thresholdRepo     *repository.ThresholdRepository
	alertsRepo        *repository.AlertsRepository
	notificationsRepo *repository.NotificationQueueRepository
	connectionsRepo   *repository.ConnectionsRepository

	ingestor       *ingest.Ingestor
	evaluator      *evaluator.Evaluator
	alertManager   *alert.Manager
	missingData    *alert.MissingDataChecker
	streamConsumer *consumer.StreamConsumer
	registry       *registry.Registry
	dispatcher     *dispatcher.Dispatcher
	scheduler      *Scheduler

	mqttClient        *mqtt.Client
	telemetryConsumer *mqtt.TelemetryConsumer

	httpServer *Server
}

// NewRealtimeService 创建实时监测服务
func NewRealtimeService(cfg *config.Config, logger *zap.Logger) (*RealtimeService, error) {
	// 1. 连接数据库
	db, err := database.NewPostgresDB(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// 2. 连接 Redis
	redisClient := redisx.NewRedisClient(&cfg.Redis)
	if err := redisx.Ping(context.Background(), redisClient); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	// 3. 创建 Repository 层
	healthDataRepo := repository.NewHealthDataRepository(db, logger)
	thresholdRepo := repository.NewThresholdRepository(db, logger)
	alertsRepo := repository.NewAlertsRepository(db, logger)
	notificationsRepo := repository.NewNotificationQueueRepository(db, logger)
	connectionsRepo := repository.NewConnectionsRepository(db, logger)

	// 4. 摄入层
	publisher := ingest.NewStreamPublisher(cfg, redisClient, logger)
	ingestor := ingest.NewIngestor(healthDataRepo, publisher, logger)

	// 5. 报警层
	alertCache := alert.NewCache(cfg, redisClient, logger)
	alertManager := alert.NewManager(alertsRepo, notificationsRepo, alertCache, logger)
	missingData := alert.NewMissingDataChecker(cfg, thresholdRepo, healthDataRepo, alertManager, logger)

	// 6. 评估层与队列消费者
	eval := evaluator.NewEvaluator(cfg, thresholdRepo, healthDataRepo, logger)
	streamConsumer := consumer.NewStreamConsumer(cfg, redisClient, eval, alertManager, logger)

	// 7. 连接注册表与通知分发
	reg := registry.NewRegistry(cfg, connectionsRepo, logger)
	disp := dispatcher.NewDispatcher(cfg, notificationsRepo, reg, logger)

	// 8. 调度器：分发扫描、失活连接清理、数据缺失检测
	scheduler := NewScheduler(logger)
	scheduler.Register(JobDispatcherSweep, cfg.Dispatcher.SweepInterval, disp.Sweep)
	scheduler.Register(JobRegistrySweep, cfg.Registry.StaleSweepInterval, reg.SweepStale)
	if cfg.MissingData.Enabled {
		scheduler.Register(JobMissingDataCheck, cfg.MissingData.CheckInterval, missingData.Check)
	}

	// 新通知入队后立刻唤醒分发器，不等下一次定时扫描
	alertManager.SetWakeFunc(func() {
		_ = scheduler.Trigger(JobDispatcherSweep)
	})

	svc := &RealtimeService{
		config:            cfg,
		db:                db,
		redisClient:       redisClient,
		logger:            logger,
		healthDataRepo:    healthDataRepo,
		thresholdRepo:     thresholdRepo,
		alertsRepo:        alertsRepo,
		notificationsRepo: notificationsRepo,
		connectionsRepo:   connectionsRepo,
		ingestor:          ingestor,
		evaluator:         eval,
		alertManager:      alertManager,
		missingData:       missingData,
		streamConsumer:    streamConsumer,
		registry:          reg,
		dispatcher:        disp,
		scheduler:         scheduler,
	}

	// 9. 设备遥测消费者（可选，未配置 broker 时跳过）
	if cfg.MQTT.Broker != "" {
		mqttClient, err := mqtt.NewClient(&cfg.MQTT, logger)
		if err != nil {
			svc.closeConnections()
			return nil, fmt.Errorf("failed to create MQTT client: %w", err)
		}
		svc.mqttClient = mqttClient
		svc.telemetryConsumer = mqtt.NewTelemetryConsumer(cfg, mqttClient, ingestor, alertManager, logger)
		scheduler.Register(JobDevicePresence, cfg.MQTT.PresenceCheckInterval, svc.telemetryConsumer.CheckPresence)
	}

	// 10. HTTP 层
	svc.httpServer = NewServer(cfg.HTTP.Addr, svc.buildRouter(), logger)

	return svc, nil
}

// buildRouter 组装HTTP路由
func (s *RealtimeService) buildRouter() http.Handler {
	router := httpapi.NewRouter(s.logger)
	router.RegisterHealthDataRoutes(httpapi.NewHealthDataHandler(s.ingestor, s.logger))
	router.RegisterAlertRoutes(httpapi.NewAlertsHandler(s.alertManager, s.logger))
	router.RegisterThresholdRoutes(httpapi.NewThresholdsHandler(s.thresholdRepo, s.logger))
	router.RegisterWSRoutes(httpapi.NewWSHandler(s.config, s.registry, s.logger))
	router.RegisterAdminRoutes(httpapi.NewAdminHandler(s.scheduler, s.dispatcher, s.registry, s.logger))
	router.RegisterHealthz()
	return router
}

// Start 启动服务
// 阻塞直到上下文取消或 HTTP 服务异常退出
func (s *RealtimeService) Start(ctx context.Context) error {
	s.logger.Info("Starting realtime service",
		zap.String("http_addr", s.config.HTTP.Addr),
		zap.String("evaluation_stream", s.config.Evaluation.Stream),
	)

	// 上一进程遗留的活跃连接行先关闭，注册表内存态从零开始
	if err := s.registry.Reconcile(ctx); err != nil {
		return fmt.Errorf("failed to reconcile connections: %w", err)
	}

	// 评估任务消费者（阻塞循环，独立 goroutine）
	consumerErr := make(chan error, 1)
	go func() {
		if err := s.streamConsumer.Start(ctx); err != nil && ctx.Err() == nil {
			consumerErr <- err
		}
	}()

	if s.telemetryConsumer != nil {
		if err := s.telemetryConsumer.Start(ctx); err != nil {
			return fmt.Errorf("failed to start telemetry consumer: %w", err)
		}
	}

	s.scheduler.Start(ctx)

	httpErr := make(chan error, 1)
	go func() {
		if err := s.httpServer.Start(); err != nil && err != http.ErrServerClosed {
			httpErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-consumerErr:
		return fmt.Errorf("stream consumer failed: %w", err)
	case err := <-httpErr:
		return fmt.Errorf("http server failed: %w", err)
	}
}

// Stop 停止服务
func (s *RealtimeService) Stop() error {
	s.logger.Info("Stopping realtime service")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.httpServer.Stop(shutdownCtx); err != nil {
		s.logger.Error("Failed to stop HTTP server", zap.Error(err))
	}

	s.scheduler.Stop()

	if s.telemetryConsumer != nil {
		if err := s.telemetryConsumer.Stop(shutdownCtx); err != nil {
			s.logger.Error("Failed to stop telemetry consumer", zap.Error(err))
		}
	}

	s.closeConnections()
	return nil
}

// closeConnections 关闭数据库/Redis/MQTT 连接
func (s *RealtimeService) closeConnections() {
	if s.mqttClient != nil {
		s.mqttClient.Disconnect()
	}

	if err := s.db.Close(); err != nil {
		s.logger.Error("Failed to close database", zap.Error(err))
	}

	if err := redisx.Close(s.redisClient); err != nil {
		s.logger.Error("Failed to close redis", zap.Error(err))
	}
}
