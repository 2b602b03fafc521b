package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"execgateway/internal/telemetry"
	"execgateway/pkg/crypto"
)

// Config содержит всю конфигурацию приложения
type Config struct {
	Exchange  ExchangeConfig
	Database  DatabaseConfig
	Queues    QueueConfig
	Telemetry TelemetryConfig
	Logging   LoggingConfig
	Server    ServerConfig
	Events    EventsConfig
}

// ExchangeConfig - доступ к бирже и политика повторов
type ExchangeConfig struct {
	APIKey    string
	APISecret string
	RestURL   string

	MaxRetries   int
	RetryBackoff time.Duration
	HTTPTimeout  time.Duration

	RateLimitRPS   float64
	RateLimitBurst float64
}

// HasCredentials - заданы ли ключи API
func (e ExchangeConfig) HasCredentials() bool {
	return e.APIKey != "" && e.APISecret != ""
}

// DatabaseConfig - настройки хранилища ордеров
type DatabaseConfig struct {
	Driver string // sqlite, postgres, pebble
	Path   string // файл sqlite или каталог pebble

	Host     string
	Port     int
	Name     string
	User     string
	Password string
	SSLMode  string
}

// QueueConfig - емкости очередей фоновых обработчиков
type QueueConfig struct {
	PersistCapacity int
	LogCapacity     int
	EventCapacity   int
}

// TelemetryConfig - поток записей телеметрии
type TelemetryConfig struct {
	MinLevel   telemetry.Level
	File       string // пусто = консоль
	MaxSizeMB  int
	MaxBackups int
}

// LoggingConfig - настройки логирования процесса
type LoggingConfig struct {
	Level  string
	Format string
	Output string
}

// ServerConfig - настройки HTTP сервера
type ServerConfig struct {
	Host           string
	Port           int
	APITokenHash   string // bcrypt; пусто = без аутентификации
	AllowedOrigins []string
}

// Addr возвращает адрес для net/http
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// EventsConfig - публикация обновлений ордеров в Kafka
type EventsConfig struct {
	Brokers []string // пусто = публикация отключена
	Topic   string
}

// Enabled - задан ли хотя бы один брокер
func (e EventsConfig) Enabled() bool {
	return len(e.Brokers) > 0
}

// Load загружает конфигурацию из переменных окружения.
// Файл .env (если есть) читается до разбора; уже заданные переменные не перезаписываются.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env: %w", err)
	}
	return FromEnv()
}

// FromEnv строит конфигурацию только из окружения
func FromEnv() (*Config, error) {
	minLevel, err := telemetry.ParseLevel(getEnv("TELEMETRY_MIN_LEVEL", "INFO"))
	if err != nil {
		return nil, fmt.Errorf("TELEMETRY_MIN_LEVEL: %w", err)
	}

	cfg := &Config{
		Exchange: ExchangeConfig{
			APIKey:    getEnv("DERIBIT_KEY", ""),
			APISecret: getEnv("DERIBIT_SECRET", ""),
			RestURL:   getEnv("DERIBIT_REST_URL", "https://test.deribit.com"),

			MaxRetries:   getEnvAsInt("MAX_RETRIES", 3),
			RetryBackoff: getEnvAsDuration("RETRY_BACKOFF", 100*time.Millisecond),
			HTTPTimeout:  getEnvAsDuration("HTTP_TIMEOUT", 10*time.Second),

			RateLimitRPS:   getEnvAsFloat("RATE_LIMIT_RPS", 20),
			RateLimitBurst: getEnvAsFloat("RATE_LIMIT_BURST", 5),
		},
		Database: DatabaseConfig{
			Driver:   strings.ToLower(getEnv("DB_DRIVER", "sqlite")),
			Path:     getEnv("DB_PATH", "./execgateway.db"),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			Name:     getEnv("DB_NAME", "execgateway"),
			User:     getEnv("DB_USER", "execgateway"),
			Password: getEnv("DB_PASSWORD", ""),
			SSLMode:  getEnv("DB_SSL_MODE", "disable"),
		},
		Queues: QueueConfig{
			PersistCapacity: getEnvAsInt("PERSIST_QUEUE_CAPACITY", 10000),
			LogCapacity:     getEnvAsInt("LOG_QUEUE_CAPACITY", 10000),
			EventCapacity:   getEnvAsInt("EVENT_QUEUE_CAPACITY", 10000),
		},
		Telemetry: TelemetryConfig{
			MinLevel:   minLevel,
			File:       getEnvAllowEmpty("LOG_FILE", "./logs/execgateway.log"),
			MaxSizeMB:  getEnvAsInt("LOG_MAX_SIZE_MB", 100),
			MaxBackups: getEnvAsInt("LOG_MAX_BACKUPS", 5),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
			Output: getEnv("LOG_OUTPUT", "stderr"),
		},
		Server: ServerConfig{
			Host:           getEnv("SERVER_HOST", "0.0.0.0"),
			Port:           getEnvAsInt("SERVER_PORT", 8080),
			APITokenHash:   getEnv("API_TOKEN_HASH", ""),
			AllowedOrigins: getEnvAsSlice("ALLOWED_ORIGINS", nil),
		},
		Events: EventsConfig{
			Brokers: getEnvAsSlice("KAFKA_BROKERS", nil),
			Topic:   getEnv("KAFKA_TOPIC", "order-updates"),
		},
	}

	// Зашифрованный секрет имеет приоритет над открытым
	if enc := os.Getenv("DERIBIT_SECRET_ENC"); enc != "" {
		secret, err := crypto.DecryptSecret(enc, os.Getenv("ENCRYPTION_KEY"))
		if err != nil {
			return nil, fmt.Errorf("DERIBIT_SECRET_ENC: %w", err)
		}
		cfg.Exchange.APISecret = secret
	}

	if err := cfg.validateRanges(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validateRanges проверяет числовые диапазоны и перечисления
func (c *Config) validateRanges() error {
	// Валидация портов
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("SERVER_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Database.Driver == "postgres" && (c.Database.Port < 1 || c.Database.Port > 65535) {
		return fmt.Errorf("DB_PORT must be between 1 and 65535, got %d", c.Database.Port)
	}

	// Валидация retry параметров
	if c.Exchange.MaxRetries < 0 {
		return fmt.Errorf("MAX_RETRIES cannot be negative, got %d", c.Exchange.MaxRetries)
	}

	if c.Exchange.MaxRetries > 10 {
		return fmt.Errorf("MAX_RETRIES should not exceed 10, got %d", c.Exchange.MaxRetries)
	}

	if c.Exchange.RetryBackoff <= 0 {
		return fmt.Errorf("RETRY_BACKOFF must be positive, got %v", c.Exchange.RetryBackoff)
	}

	if c.Exchange.HTTPTimeout <= 0 {
		return fmt.Errorf("HTTP_TIMEOUT must be positive, got %v", c.Exchange.HTTPTimeout)
	}

	if c.Exchange.RateLimitRPS < 0 {
		return fmt.Errorf("RATE_LIMIT_RPS cannot be negative, got %v", c.Exchange.RateLimitRPS)
	}

	// Емкости очередей
	capacities := map[string]int{
		"PERSIST_QUEUE_CAPACITY": c.Queues.PersistCapacity,
		"LOG_QUEUE_CAPACITY":     c.Queues.LogCapacity,
		"EVENT_QUEUE_CAPACITY":   c.Queues.EventCapacity,
	}
	for name, v := range capacities {
		if v <= 0 {
			return fmt.Errorf("%s must be positive, got %d", name, v)
		}
	}

	switch c.Database.Driver {
	case "sqlite", "postgres", "pebble":
	default:
		return fmt.Errorf("DB_DRIVER must be one of sqlite, postgres, pebble, got %q", c.Database.Driver)
	}

	if c.Database.Driver != "postgres" && c.Database.Path == "" {
		return fmt.Errorf("DB_PATH is required for driver %s", c.Database.Driver)
	}

	if c.Server.APITokenHash != "" {
		if err := crypto.ValidateHash(c.Server.APITokenHash); err != nil {
			return fmt.Errorf("API_TOKEN_HASH: %w", err)
		}
	}

	return nil
}

// DSN возвращает строку подключения для выбранного драйвера
func (d DatabaseConfig) DSN() string {
	if d.Driver != "postgres" {
		return d.Path
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

// DSNWithoutPassword возвращает строку подключения без пароля (для логирования)
func (d DatabaseConfig) DSNWithoutPassword() string {
	if d.Driver != "postgres" {
		return d.Path
	}
	return fmt.Sprintf("host=%s port=%d user=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Name, d.SSLMode)
}

// Вспомогательные функции для чтения переменных окружения

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAllowEmpty различает "не задано" и "задано пустым"
func getEnvAllowEmpty(key, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok {
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

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
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

// getEnvAsSlice разбирает список через запятую, пустые элементы отбрасываются
func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var result []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			result = append(result, part)
		}
	}
	return result
}
