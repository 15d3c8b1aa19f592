package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int
	MaxIdle  int
}

// GetDSN 获取数据库连接字符串
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// RedisConfig Redis配置
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// MQTTConfig MQTT配置
type MQTTConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string
	QoS      byte
	// 设备遥测主题（通配符订阅，如 "vitalink/+/telemetry"）
	TelemetryTopic string
	// 设备离线判定：超过该时长无遥测视为断连
	OfflineThreshold time.Duration
	// 设备在线状态检测间隔
	PresenceCheckInterval time.Duration
}

// Config 实时监测服务配置
type Config struct {
	Database DatabaseConfig
	Redis    RedisConfig
	MQTT     MQTTConfig

	HTTP struct {
		Addr string
	}

	// 评估队列配置（Redis Streams）
	Evaluation struct {
		Stream        string // 评估任务流，如 "health:evaluation"
		ConsumerGroup string
		ConsumerName  string
		BatchSize     int64 // 每次 XREADGROUP 读取的消息数量
	}

	// 异常检测配置
	Anomaly struct {
		Enabled    bool
		WindowSize int     // 滑动窗口内同类型读数个数
		MinSamples int     // 低于该样本数不做异常判断
		StdDevs    float64 // 偏离滑动均值的标准差倍数
	}

	// 通知分发配置
	Dispatcher struct {
		SweepInterval time.Duration // 分发扫描间隔
		BatchSize     int           // 每次扫描处理的 pending 通知数量
		MaxAttempts   int           // 最大投递尝试次数
		MaxPendingAge time.Duration // 无活跃连接时 pending 通知的最大保留时长
	}

	// 连接注册表配置
	Registry struct {
		StaleSweepInterval time.Duration // 失活连接扫描间隔
		StaleThreshold     time.Duration // lastPing 超过该时长视为失活
		SendBuffer         int           // 每个连接的发送缓冲区大小
	}

	// 数据缺失检测配置
	MissingData struct {
		Enabled       bool
		CheckInterval time.Duration // 检测间隔
		Cutoff        time.Duration // 超过该时长无新读数视为数据缺失
	}

	// 活跃报警缓存配置
	Cache struct {
		AlertKeyPrefix string // 活跃报警缓存键前缀，如 "vitalink:user:"
		AlertSuffix    string // 活跃报警缓存键后缀，如 ":alerts"
		AlertTTL       int    // 报警缓存 TTL（秒）
	}

	Log struct {
		Level  string
		Format string
	}
}

// Load 加载配置（环境变量优先，内置默认值）
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.Database.Host = getEnv("DB_HOST", "localhost")
	cfg.Database.Port = getEnvInt("DB_PORT", 5432)
	cfg.Database.User = getEnv("DB_USER", "postgres")
	cfg.Database.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.Database.Database = getEnv("DB_NAME", "vitalink")
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", "disable")
	cfg.Database.MaxConns = getEnvInt("DB_MAX_CONNS", 20)
	cfg.Database.MaxIdle = getEnvInt("DB_MAX_IDLE", 5)

	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = getEnvInt("REDIS_DB", 0)

	cfg.MQTT.Broker = getEnv("MQTT_BROKER", "")
	cfg.MQTT.ClientID = getEnv("MQTT_CLIENT_ID", "vitalink-realtime")
	cfg.MQTT.Username = getEnv("MQTT_USERNAME", "")
	cfg.MQTT.Password = getEnv("MQTT_PASSWORD", "")
	cfg.MQTT.QoS = 1
	cfg.MQTT.TelemetryTopic = getEnv("MQTT_TELEMETRY_TOPIC", "vitalink/+/telemetry")
	cfg.MQTT.OfflineThreshold = getEnvDuration("MQTT_OFFLINE_THRESHOLD", 10*time.Minute)
	cfg.MQTT.PresenceCheckInterval = getEnvDuration("MQTT_PRESENCE_CHECK_INTERVAL", time.Minute)

	cfg.HTTP.Addr = getEnv("HTTP_ADDR", ":8080")

	cfg.Evaluation.Stream = getEnv("EVALUATION_STREAM", "health:evaluation")
	cfg.Evaluation.ConsumerGroup = getEnv("EVALUATION_CONSUMER_GROUP", "vitalink-evaluators")
	cfg.Evaluation.ConsumerName = getEnv("EVALUATION_CONSUMER_NAME", defaultConsumerName())
	cfg.Evaluation.BatchSize = int64(getEnvInt("EVALUATION_BATCH_SIZE", 10))

	cfg.Anomaly.Enabled = getEnvBool("ANOMALY_ENABLED", true)
	cfg.Anomaly.WindowSize = getEnvInt("ANOMALY_WINDOW_SIZE", 20)
	cfg.Anomaly.MinSamples = getEnvInt("ANOMALY_MIN_SAMPLES", 5)
	cfg.Anomaly.StdDevs = getEnvFloat("ANOMALY_STDDEVS", 3.0)

	cfg.Dispatcher.SweepInterval = getEnvDuration("DISPATCHER_SWEEP_INTERVAL", 5*time.Second)
	cfg.Dispatcher.BatchSize = getEnvInt("DISPATCHER_BATCH_SIZE", 100)
	cfg.Dispatcher.MaxAttempts = getEnvInt("DISPATCHER_MAX_ATTEMPTS", 5)
	cfg.Dispatcher.MaxPendingAge = getEnvDuration("DISPATCHER_MAX_PENDING_AGE", 24*time.Hour)

	cfg.Registry.StaleSweepInterval = getEnvDuration("REGISTRY_STALE_SWEEP_INTERVAL", 2*time.Minute)
	cfg.Registry.StaleThreshold = getEnvDuration("REGISTRY_STALE_THRESHOLD", 5*time.Minute)
	cfg.Registry.SendBuffer = getEnvInt("REGISTRY_SEND_BUFFER", 64)

	cfg.MissingData.Enabled = getEnvBool("MISSING_DATA_ENABLED", true)
	cfg.MissingData.CheckInterval = getEnvDuration("MISSING_DATA_CHECK_INTERVAL", 10*time.Minute)
	cfg.MissingData.Cutoff = getEnvDuration("MISSING_DATA_CUTOFF", 24*time.Hour)

	cfg.Cache.AlertKeyPrefix = getEnv("CACHE_ALERT_PREFIX", "vitalink:user:")
	cfg.Cache.AlertSuffix = ":alerts"
	cfg.Cache.AlertTTL = getEnvInt("CACHE_ALERT_TTL", 30)

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	return cfg, nil
}

func defaultConsumerName() string {
	if hostname, err := os.Hostname(); err == nil && hostname != "" {
		return hostname
	}
	return "vitalink-realtime-1"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
