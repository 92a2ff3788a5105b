package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration
type Config struct {
	ServiceName string
	ServicePort int
	Database    DatabaseConfig
	Kafka       KafkaConfig
	InfluxDB    InfluxDBConfig
	RabbitMQ    RabbitMQConfig
	Monitor     MonitorConfig
	Retry       RetryConfig
	Validation  ValidationConfig
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	URL string
}

// KafkaConfig holds settings for the consumed usage stream
type KafkaConfig struct {
	Brokers       []string
	Topic         string
	GroupID       string
	ConsumerCount int
}

// InfluxDBConfig holds time-series store settings
type InfluxDBConfig struct {
	URL    string
	Org    string
	Token  string
	Bucket string
}

// RabbitMQConfig holds settings for the produced alert stream
type RabbitMQConfig struct {
	URL             string
	AlertExchange   string
	AlertRoutingKey string
}

// MonitorConfig holds threshold monitor settings
type MonitorConfig struct {
	Interval        time.Duration
	ProfileCacheTTL time.Duration
	DeviceCacheTTL  time.Duration
	RetentionHours  int
}

// RetryConfig bounds retries against the time-series store and the alert stream
type RetryConfig struct {
	StoreMaxAttempts   int
	StoreBackoff       time.Duration
	PublishMaxAttempts int
	PublishBackoff     time.Duration
}

// ValidationConfig holds reading validation settings
type ValidationConfig struct {
	MaxFutureSkewMinutes int
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		ServiceName: getEnv("SERVICE_NAME", "energy-usage-worker"),
		ServicePort: getEnvAsInt("SERVICE_PORT", 8081),
		Database: DatabaseConfig{
			URL: getEnv("DATABASE_URL", ""),
		},
		Kafka: KafkaConfig{
			Brokers:       getEnvAsSlice("KAFKA_BROKERS", []string{"localhost:9092"}),
			Topic:         getEnv("KAFKA_USAGE_TOPIC", "energy-usage"),
			GroupID:       getEnv("KAFKA_GROUP_ID", "energy-usage-worker"),
			ConsumerCount: getEnvAsInt("KAFKA_CONSUMER_COUNT", 3),
		},
		InfluxDB: InfluxDBConfig{
			URL:    getEnv("INFLUXDB_URL", "http://localhost:8086"),
			Org:    getEnv("INFLUXDB_ORG", "energy"),
			Token:  getEnv("INFLUXDB_TOKEN", ""),
			Bucket: getEnv("INFLUXDB_BUCKET", "energy_usage"),
		},
		RabbitMQ: RabbitMQConfig{
			URL:             getEnv("RABBITMQ_URL", ""),
			AlertExchange:   getEnv("RABBITMQ_ALERT_EXCHANGE", "energy.alerts.exchange"),
			AlertRoutingKey: getEnv("RABBITMQ_ALERT_ROUTING_KEY", "energy.alert.triggered"),
		},
		Monitor: MonitorConfig{
			Interval:        getEnvAsDuration("MONITOR_INTERVAL", 10*time.Second),
			ProfileCacheTTL: getEnvAsDuration("MONITOR_PROFILE_CACHE_TTL", 60*time.Second),
			DeviceCacheTTL:  getEnvAsDuration("MONITOR_DEVICE_CACHE_TTL", 5*time.Minute),
			RetentionHours:  getEnvAsInt("MONITOR_BUCKET_RETENTION_HOURS", 24),
		},
		Retry: RetryConfig{
			StoreMaxAttempts:   getEnvAsInt("RETRY_STORE_MAX_ATTEMPTS", 3),
			StoreBackoff:       getEnvAsDuration("RETRY_STORE_BACKOFF", 200*time.Millisecond),
			PublishMaxAttempts: getEnvAsInt("RETRY_PUBLISH_MAX_ATTEMPTS", 5),
			PublishBackoff:     getEnvAsDuration("RETRY_PUBLISH_BACKOFF", 250*time.Millisecond),
		},
		Validation: ValidationConfig{
			MaxFutureSkewMinutes: getEnvAsInt("VALIDATION_MAX_FUTURE_SKEW_MINUTES", 10),
		},
	}

	// Validate required fields
	if cfg.Database.URL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required but not set in environment variables")
	}
	if cfg.RabbitMQ.URL == "" {
		return nil, fmt.Errorf("RABBITMQ_URL is required but not set in environment variables")
	}
	if cfg.InfluxDB.Token == "" {
		return nil, fmt.Errorf("INFLUXDB_TOKEN is required but not set in environment variables")
	}

	return cfg, nil
}

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

func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	return strings.Split(valueStr, ",")
}
