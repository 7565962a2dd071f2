package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server    ServerConfig
	Log       LogConfig
	Store     StoreConfig
	Broker    BrokerConfig
	Push      PushConfig
	RateLimit RateLimitConfig
}

// Load 从环境变量加载服务端配置。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	logCfg, err := loadLogConfig()
	if err != nil {
		return nil, err
	}

	store, err := loadStoreConfig()
	if err != nil {
		return nil, err
	}

	broker, err := loadBrokerConfig()
	if err != nil {
		return nil, err
	}

	push, err := loadPushConfig()
	if err != nil {
		return nil, err
	}

	rate, err := loadRateLimitConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:    server,
		Log:       logCfg,
		Store:     store,
		Broker:    broker,
		Push:      push,
		RateLimit: rate,
	}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr string
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

// LogConfig 描述日志输出。
type LogConfig struct {
	Level  string
	Format string
	Caller bool
}

func loadLogConfig() (LogConfig, error) {
	caller, err := parseBoolEnv("LOG_CALLER", false)
	if err != nil {
		return LogConfig{}, err
	}
	return LogConfig{
		Level:  getEnvOrDefault("LOG_LEVEL", "info"),
		Format: getEnvOrDefault("LOG_FORMAT", "console"),
		Caller: caller,
	}, nil
}

// StoreConfig 选择消息存储后端。
type StoreConfig struct {
	Driver string // memory | sqlite
	DSN    string
}

func loadStoreConfig() (StoreConfig, error) {
	driver := strings.ToLower(getEnvOrDefault("STORE_DRIVER", "memory"))
	switch driver {
	case "memory":
		return StoreConfig{Driver: driver}, nil
	case "sqlite":
		return StoreConfig{Driver: driver, DSN: getEnvOrDefault("STORE_DSN", "file:z-chat.db?_foreign_keys=on")}, nil
	}
	return StoreConfig{}, fmt.Errorf("invalid STORE_DRIVER value %q: want memory or sqlite", driver)
}

// BrokerConfig 选择推送消息的 broker。
type BrokerConfig struct {
	Driver        string // memory | redis
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

func loadBrokerConfig() (BrokerConfig, error) {
	driver := strings.ToLower(getEnvOrDefault("BROKER_DRIVER", "memory"))
	if driver != "memory" && driver != "redis" {
		return BrokerConfig{}, fmt.Errorf("invalid BROKER_DRIVER value %q: want memory or redis", driver)
	}

	db := 0
	if override, err := parseOptionalIntEnv("REDIS_DB"); err != nil {
		return BrokerConfig{}, err
	} else if override != nil {
		db = *override
	}

	return BrokerConfig{
		Driver:        driver,
		RedisAddr:     getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
		RedisPassword: strings.TrimSpace(os.Getenv("REDIS_PASSWORD")),
		RedisDB:       db,
	}, nil
}

// PushConfig 描述服务端 WebSocket 推送参数。
type PushConfig struct {
	PingInterval   time.Duration
	PongWait       time.Duration
	WriteWait      time.Duration
	MaxMessageSize int64
}

func loadPushConfig() (PushConfig, error) {
	ping, err := parseDurationEnv("PUSH_PING_INTERVAL", 4*time.Second)
	if err != nil {
		return PushConfig{}, err
	}
	pong, err := parseDurationEnv("PUSH_PONG_WAIT", 10*time.Second)
	if err != nil {
		return PushConfig{}, err
	}
	write, err := parseDurationEnv("PUSH_WRITE_WAIT", 10*time.Second)
	if err != nil {
		return PushConfig{}, err
	}
	if ping >= pong {
		return PushConfig{}, fmt.Errorf("PUSH_PING_INTERVAL (%s) must be shorter than PUSH_PONG_WAIT (%s)", ping, pong)
	}

	size := int64(64 * 1024)
	if override, err := parseOptionalIntEnv("PUSH_MAX_MESSAGE_SIZE"); err != nil {
		return PushConfig{}, err
	} else if override != nil && *override > 0 {
		size = int64(*override)
	}

	return PushConfig{PingInterval: ping, PongWait: pong, WriteWait: write, MaxMessageSize: size}, nil
}

// RateLimitConfig 限制单个用户发消息的速度。Burst 为 0 时关闭。
type RateLimitConfig struct {
	Burst    int
	Interval time.Duration
}

func loadRateLimitConfig() (RateLimitConfig, error) {
	burst := 10
	if override, err := parseOptionalIntEnv("MESSAGE_RATE_BURST"); err != nil {
		return RateLimitConfig{}, err
	} else if override != nil {
		burst = *override
	}
	interval, err := parseDurationEnv("MESSAGE_RATE_INTERVAL", 200*time.Millisecond)
	if err != nil {
		return RateLimitConfig{}, err
	}
	return RateLimitConfig{Burst: burst, Interval: interval}, nil
}

// ClientConfig 是命令行客户端的配置。
type ClientConfig struct {
	APIURL            string
	PushURL           string
	ReconnectDelay    time.Duration
	ReconnectMaxDelay time.Duration
	ReconnectStrategy string
	HeartbeatOutgoing time.Duration
	HeartbeatIncoming time.Duration
	HistoryPageSize   int
	SessionFile       string
	LogLevel          string
}

// LoadClient 从环境变量加载客户端配置。
func LoadClient() (*ClientConfig, error) {
	apiURL := strings.TrimRight(getEnvOrDefault("CHAT_API_URL", "http://localhost:8080/api"), "/")

	pushURL := strings.TrimSpace(os.Getenv("CHAT_PUSH_URL"))
	if pushURL == "" {
		pushURL = DerivePushURL(apiURL)
	}

	delay, err := parseDurationEnv("CHAT_RECONNECT_DELAY", 5*time.Second)
	if err != nil {
		return nil, err
	}
	maxDelay, err := parseDurationEnv("CHAT_RECONNECT_MAX_DELAY", time.Minute)
	if err != nil {
		return nil, err
	}
	strategy := strings.ToLower(getEnvOrDefault("CHAT_RECONNECT_STRATEGY", "fixed"))
	if strategy != "fixed" && strategy != "exponential" {
		return nil, fmt.Errorf("invalid CHAT_RECONNECT_STRATEGY value %q: want fixed or exponential", strategy)
	}
	outgoing, err := parseDurationEnv("CHAT_HEARTBEAT_OUTGOING", 4*time.Second)
	if err != nil {
		return nil, err
	}
	incoming, err := parseDurationEnv("CHAT_HEARTBEAT_INCOMING", 10*time.Second)
	if err != nil {
		return nil, err
	}

	pageSize := 50
	if override, err := parseOptionalIntEnv("CHAT_HISTORY_PAGE_SIZE"); err != nil {
		return nil, err
	} else if override != nil && *override > 0 {
		pageSize = *override
	}

	sessionFile := strings.TrimSpace(os.Getenv("CHAT_SESSION_FILE"))
	if sessionFile == "" {
		if dir, err := os.UserConfigDir(); err == nil {
			sessionFile = filepath.Join(dir, "z-chat", "session.yaml")
		} else {
			sessionFile = ".z-chat-session.yaml"
		}
	}

	return &ClientConfig{
		APIURL:            apiURL,
		PushURL:           pushURL,
		ReconnectDelay:    delay,
		ReconnectMaxDelay: maxDelay,
		ReconnectStrategy: strategy,
		HeartbeatOutgoing: outgoing,
		HeartbeatIncoming: incoming,
		HistoryPageSize:   pageSize,
		SessionFile:       sessionFile,
		LogLevel:          getEnvOrDefault("LOG_LEVEL", "warn"),
	}, nil
}

// DerivePushURL 把 http(s)://host/api 转成 ws(s)://host/api/ws。
func DerivePushURL(apiURL string) string {
	u := strings.TrimRight(apiURL, "/")
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u + "/ws"
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

// parseDurationEnv 接受 Go duration（"5s"）或毫秒整数（"5000"）。
func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue, nil
	}

	if ms, err := strconv.Atoi(value); err == nil {
		if ms < 0 {
			return 0, fmt.Errorf("invalid %s value %q: must not be negative", key, value)
		}
		return time.Duration(ms) * time.Millisecond, nil
	}

	val, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	if val < 0 {
		return 0, fmt.Errorf("invalid %s value %q: must not be negative", key, value)
	}
	return val, nil
}
