package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config содержит всю конфигурацию приложения
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Monitor  MonitorConfig
	Venue    VenueConfig
	Logging  LoggingConfig
}

// ServerConfig - настройки HTTP сервера
type ServerConfig struct {
	Port     int
	Host     string
	UseHTTPS bool
	CertFile string
	KeyFile  string
}

// DatabaseConfig - настройки подключения к БД
type DatabaseConfig struct {
	Driver   string
	Host     string
	Port     int
	Name     string
	User     string
	Password string
	SSLMode  string
}

// RedisConfig - настройки Redis (кэш статусов + командный канал)
type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	// StatusTTL - время жизни закэшированного статуса сессии.
	// Ограниченный TTL гарантирует что сессии упавшего процесса
	// со временем исчезают из read path.
	StatusTTL time.Duration

	// CommandStream / ResultStream - имена Redis Streams
	CommandStream string
	ResultStream  string

	// ConsumerGroup - группа консьюмеров (шардирование между процессами)
	ConsumerGroup string

	// ConsumerName - имя консьюмера внутри группы (уникально на процесс)
	ConsumerName string
}

// MonitorConfig - настройки цикла мониторинга сессий
type MonitorConfig struct {
	// TickInterval - период тика. Это контур контроля капитала,
	// а не low-latency торговля: секунды, не миллисекунды.
	TickInterval time.Duration

	// CallTimeout - таймаут одного внешнего вызова (open/close/query)
	CallTimeout time.Duration

	// GracePeriod - сколько терминальная сессия остаётся в сторе,
	// чтобы опоздавшие подписчики успели прочитать финальный статус
	GracePeriod time.Duration

	// CloseRetries - количество попыток close-all при остановке
	// перед тем как force-stop пропустит graceful закрытие
	CloseRetries int

	// CloseRetryBackoff - пауза между попытками close-all
	CloseRetryBackoff time.Duration
}

// VenueConfig - настройки торговой площадки
type VenueConfig struct {
	// Mode: sim (paper trading, встроенный симулятор) или gateway (HTTP)
	Mode string

	// GatewayURL - адрес venue gateway для режима gateway
	GatewayURL string

	// RequestTimeout - HTTP таймаут запросов к gateway
	RequestTimeout time.Duration
}

// LoggingConfig - настройки логирования
type LoggingConfig struct {
	Level  string
	Format string
	Output string
}

// Load загружает конфигурацию из переменных окружения
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:     getEnvAsInt("SERVER_PORT", 8080),
			Host:     getEnv("SERVER_HOST", "0.0.0.0"),
			UseHTTPS: getEnvAsBool("USE_HTTPS", false),
			CertFile: getEnv("CERT_FILE", ""),
			KeyFile:  getEnv("KEY_FILE", ""),
		},
		Database: DatabaseConfig{
			Driver:   getEnv("DB_DRIVER", "postgres"),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			Name:     getEnv("DB_NAME", "tradepilot"),
			User:     getEnv("DB_USER", "user"),
			Password: getEnv("DB_PASSWORD", "password"),
			SSLMode:  getEnv("DB_SSL_MODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:          getEnv("REDIS_ADDR", "localhost:6379"),
			Password:      getEnv("REDIS_PASSWORD", ""),
			DB:            getEnvAsInt("REDIS_DB", 0),
			StatusTTL:     getEnvAsDuration("STATUS_CACHE_TTL", 5*time.Minute),
			CommandStream: getEnv("COMMAND_STREAM", "tradepilot:commands"),
			ResultStream:  getEnv("RESULT_STREAM", "tradepilot:results"),
			ConsumerGroup: getEnv("CONSUMER_GROUP", "orchestrator"),
			ConsumerName:  getEnv("CONSUMER_NAME", defaultConsumerName()),
		},
		Monitor: MonitorConfig{
			TickInterval:      getEnvAsDuration("MONITOR_TICK_INTERVAL", 5*time.Second),
			CallTimeout:       getEnvAsDuration("MONITOR_CALL_TIMEOUT", 10*time.Second),
			GracePeriod:       getEnvAsDuration("MONITOR_GRACE_PERIOD", 2*time.Minute),
			CloseRetries:      getEnvAsInt("MONITOR_CLOSE_RETRIES", 3),
			CloseRetryBackoff: getEnvAsDuration("MONITOR_CLOSE_BACKOFF", 2*time.Second),
		},
		Venue: VenueConfig{
			Mode:           getEnv("VENUE_MODE", "sim"),
			GatewayURL:     getEnv("VENUE_GATEWAY_URL", "http://localhost:9090"),
			RequestTimeout: getEnvAsDuration("VENUE_REQUEST_TIMEOUT", 10*time.Second),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
			Output: getEnv("LOG_OUTPUT", ""),
		},
	}

	if err := cfg.validateRanges(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validateRanges проверяет числовые диапазоны параметров
func (c *Config) validateRanges() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("SERVER_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Database.Port < 1 || c.Database.Port > 65535 {
		return fmt.Errorf("DB_PORT must be between 1 and 65535, got %d", c.Database.Port)
	}

	// Тик — секунды, не суб-секундный polling
	if c.Monitor.TickInterval < time.Second {
		return fmt.Errorf("MONITOR_TICK_INTERVAL must be at least 1s, got %v", c.Monitor.TickInterval)
	}

	if c.Monitor.CallTimeout <= 0 {
		return fmt.Errorf("MONITOR_CALL_TIMEOUT must be positive, got %v", c.Monitor.CallTimeout)
	}

	if c.Monitor.GracePeriod < 0 {
		return fmt.Errorf("MONITOR_GRACE_PERIOD cannot be negative, got %v", c.Monitor.GracePeriod)
	}

	if c.Monitor.CloseRetries < 0 {
		return fmt.Errorf("MONITOR_CLOSE_RETRIES cannot be negative, got %d", c.Monitor.CloseRetries)
	}

	if c.Monitor.CloseRetries > 10 {
		return fmt.Errorf("MONITOR_CLOSE_RETRIES should not exceed 10, got %d", c.Monitor.CloseRetries)
	}

	if c.Redis.StatusTTL <= 0 {
		return fmt.Errorf("STATUS_CACHE_TTL must be positive, got %v", c.Redis.StatusTTL)
	}

	if c.Venue.Mode != "sim" && c.Venue.Mode != "gateway" {
		return fmt.Errorf("VENUE_MODE must be sim or gateway, got %q", c.Venue.Mode)
	}

	if c.Venue.RequestTimeout <= 0 {
		return fmt.Errorf("VENUE_REQUEST_TIMEOUT must be positive, got %v", c.Venue.RequestTimeout)
	}

	return nil
}

// DSN возвращает строку подключения к базе данных
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

// DSNWithoutPassword возвращает строку подключения без пароля (для логирования)
func (d DatabaseConfig) DSNWithoutPassword() string {
	return fmt.Sprintf("host=%s port=%d user=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Name, d.SSLMode)
}

// defaultConsumerName возвращает имя консьюмера по hostname процесса
func defaultConsumerName() string {
	host, err := os.Hostname()
	if err != nil {
		return "orchestrator-1"
	}
	return host
}

// Вспомогательные функции для чтения переменных окружения

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
