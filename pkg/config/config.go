package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Database   DatabaseConfig
	Redis      RedisConfig
	Kafka      KafkaConfig
	HTTPServer HTTPServerConfig
	TCPServer  TCPServerConfig
	Engine     EngineConfig
	Broadcast  BroadcastConfig
	History    HistoryConfig
	SMTP       SMTPConfig
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int
}

// ConnectionString returns the lib/pq keyword/value DSN.
func (d DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode)
}

// URL returns the same database as a pgx pool URL.
func (d DatabaseConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s&pool_max_conns=%d",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode, d.MaxConns)
}

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

type KafkaConfig struct {
	Brokers          []string
	TopicAlerts      string
	TopicLocations   string
	PublishAlerts    bool
	ConsumeLocations bool
	ConsumerGroup    string
	ForwardQueueSize int
}

type HTTPServerConfig struct {
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type TCPServerConfig struct {
	Enabled           bool
	Port              int
	MaxConnections    int
	IdentifyTimeout   time.Duration
	InactivityTimeout time.Duration
}

type EngineConfig struct {
	GeofenceRefreshInterval time.Duration
	ExitOnDeactivate        bool
}

type BroadcastConfig struct {
	SubscriberBuffer int
	OverflowPolicy   string // drop_oldest | disconnect
	QueueSize        int
}

type HistoryConfig struct {
	Enabled       bool
	BatchSize     int
	FlushInterval time.Duration
	ChannelSize   int
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       string
}

func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	config := &Config{
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "admin"),
			DBName:   getEnv("DB_NAME", "geofencing"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
			MaxConns: getEnvAsInt("DB_MAX_CONNS", 10),
		},
		Redis: RedisConfig{
			Enabled:  getEnvAsBool("REDIS_ENABLED", true),
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Kafka: KafkaConfig{
			Brokers:          strings.Split(getEnv("KAFKA_BROKERS", "localhost:9092"), ","),
			TopicAlerts:      getEnv("KAFKA_TOPIC_ALERTS", "geofence.alerts"),
			TopicLocations:   getEnv("KAFKA_TOPIC_LOCATIONS", "vehicle.locations"),
			PublishAlerts:    getEnvAsBool("KAFKA_PUBLISH_ALERTS", false),
			ConsumeLocations: getEnvAsBool("KAFKA_CONSUME_LOCATIONS", false),
			ConsumerGroup:    getEnv("KAFKA_CONSUMER_GROUP", "geofence-engine"),
			ForwardQueueSize: getEnvAsInt("KAFKA_FORWARD_QUEUE_SIZE", 1000),
		},
		HTTPServer: HTTPServerConfig{
			Port:         getEnvAsInt("PORT", 8080),
			ReadTimeout:  getEnvAsDuration("HTTP_READ_TIMEOUT", 10*time.Second),
			WriteTimeout: getEnvAsDuration("HTTP_WRITE_TIMEOUT", 30*time.Second),
		},
		TCPServer: TCPServerConfig{
			Enabled:           getEnvAsBool("TCP_ENABLED", true),
			Port:              getEnvAsInt("TCP_PORT", 9090),
			MaxConnections:    getEnvAsInt("TCP_MAX_CONNECTIONS", 10000),
			IdentifyTimeout:   getEnvAsDuration("TCP_IDENTIFY_TIMEOUT", 10*time.Second),
			InactivityTimeout: getEnvAsDuration("TCP_INACTIVITY_TIMEOUT", 2*time.Minute),
		},
		Engine: EngineConfig{
			GeofenceRefreshInterval: getEnvAsDuration("ENGINE_GEOFENCE_REFRESH", time.Minute),
			ExitOnDeactivate:        getEnvAsBool("ENGINE_EXIT_ON_DEACTIVATE", false),
		},
		Broadcast: BroadcastConfig{
			SubscriberBuffer: getEnvAsInt("BROADCAST_SUBSCRIBER_BUFFER", 256),
			OverflowPolicy:   getEnv("BROADCAST_OVERFLOW_POLICY", "drop_oldest"),
			QueueSize:        getEnvAsInt("BROADCAST_QUEUE_SIZE", 1024),
		},
		History: HistoryConfig{
			Enabled:       getEnvAsBool("HISTORY_ENABLED", true),
			BatchSize:     getEnvAsInt("HISTORY_BATCH_SIZE", 500),
			FlushInterval: getEnvAsDuration("HISTORY_FLUSH_INTERVAL", 100*time.Millisecond),
			ChannelSize:   getEnvAsInt("HISTORY_CHANNEL_SIZE", 10000),
		},
		SMTP: SMTPConfig{
			Host:     getEnv("SMTP_HOST", "smtp.gmail.com"),
			Port:     getEnvAsInt("SMTP_PORT", 587),
			Username: getEnv("SMTP_USERNAME", ""),
			Password: getEnv("SMTP_PASSWORD", ""),
			From:     getEnv("SMTP_FROM", "geofence-server@example.com"),
			To:       getEnv("SMTP_TO", "dispatch@example.com"),
		},
	}

	if p := config.Broadcast.OverflowPolicy; p != "drop_oldest" && p != "disconnect" {
		return nil, fmt.Errorf("BROADCAST_OVERFLOW_POLICY: unknown policy %q", p)
	}
	if config.Engine.GeofenceRefreshInterval <= 0 {
		return nil, fmt.Errorf("ENGINE_GEOFENCE_REFRESH: must be positive, got %s", config.Engine.GeofenceRefreshInterval)
	}
	if config.History.FlushInterval <= 0 {
		return nil, fmt.Errorf("HISTORY_FLUSH_INTERVAL: must be positive, got %s", config.History.FlushInterval)
	}

	return config, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
