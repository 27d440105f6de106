package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Database    DatabaseConfig
	Redis       RedisConfig
	Kafka       KafkaConfig
	TCPServer   TCPServerConfig
	HTTP        HTTPConfig
	Grading     GradingConfig
	Aggregation AggregationConfig
	MongoDB     MongoDBConfig
	Sheets      SheetsConfig
	SMTP        SMTPConfig
	Push        PushConfig
	Log         LogConfig
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

func (d DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode)
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type KafkaConfig struct {
	Brokers            []string
	TopicReadings      string
	TopicNotifications string
	NumPartitions      int
}

type TCPServerConfig struct {
	Port              int
	MaxConnections    int
	IdentifyTimeout   time.Duration
	InactivityTimeout time.Duration
	WorkerCount       int
	JobQueueSize      int
}

type HTTPConfig struct {
	Port string
}

// GradingConfig describes the load-cell layout and alerting behaviour.
type GradingConfig struct {
	LoadCells            int
	SlotsPerRow          int
	NotificationCooldown time.Duration
	// DisplayTimezone is used for formatted dates in history listings.
	DisplayTimezone string
}

// Location resolves DisplayTimezone, falling back to UTC.
func (g GradingConfig) Location() *time.Location {
	if g.DisplayTimezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(g.DisplayTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

type AggregationConfig struct {
	DailyCron string
	Timeout   time.Duration
}

type MongoDBConfig struct {
	URI    string
	DBName string
}

// SheetsConfig is optional; the daily report export is skipped when
// CredentialsPath is empty.
type SheetsConfig struct {
	CredentialsPath string
	SpreadsheetID   string
	Range           string
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       string
}

// PushConfig configures delivery through the Expo push service.
type PushConfig struct {
	BaseURL     string
	AccessToken string
	Tokens      []string
	Timeout     time.Duration
}

type LogConfig struct {
	Level string
}

func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	config := &Config{
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "grader_user"),
			Password: getEnv("DB_PASSWORD", "grader_pass"),
			DBName:   getEnv("DB_NAME", "grader_db"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Kafka: KafkaConfig{
			Brokers:            getEnvAsList("KAFKA_BROKERS", "localhost:9092"),
			TopicReadings:      getEnv("KAFKA_TOPIC_READINGS", "eggs.readings.raw"),
			TopicNotifications: getEnv("KAFKA_TOPIC_NOTIFICATIONS", "eggs.notifications"),
			NumPartitions:      getEnvAsInt("KAFKA_NUM_PARTITIONS", 4),
		},
		TCPServer: TCPServerConfig{
			Port:              getEnvAsInt("TCP_PORT", 8080),
			MaxConnections:    getEnvAsInt("TCP_MAX_CONNECTIONS", 1000),
			IdentifyTimeout:   getEnvAsDuration("TCP_IDENTIFY_TIMEOUT", 10*time.Second),
			InactivityTimeout: getEnvAsDuration("TCP_INACTIVITY_TIMEOUT", 2*time.Minute),
			WorkerCount:       getEnvAsInt("TCP_WORKER_COUNT", 0),
			JobQueueSize:      getEnvAsInt("TCP_JOB_QUEUE_SIZE", 1000),
		},
		HTTP: HTTPConfig{
			Port: getEnv("HTTP_PORT", "8081"),
		},
		Grading: GradingConfig{
			LoadCells:            getEnvAsInt("GRADING_LOAD_CELLS", 16),
			SlotsPerRow:          getEnvAsInt("GRADING_SLOTS_PER_ROW", 8),
			NotificationCooldown: getEnvAsDuration("GRADING_NOTIFICATION_COOLDOWN", 5*time.Minute),
			DisplayTimezone:      getEnv("GRADING_DISPLAY_TIMEZONE", "UTC"),
		},
		Aggregation: AggregationConfig{
			DailyCron: getEnv("AGGREGATION_DAILY_CRON", "5 0 * * *"),
			Timeout:   getEnvAsDuration("AGGREGATION_TIMEOUT", 2*time.Minute),
		},
		MongoDB: MongoDBConfig{
			URI:    getEnv("MONGODB_URI", "mongodb://localhost:27017"),
			DBName: getEnv("MONGODB_DB_NAME", "grader"),
		},
		Sheets: SheetsConfig{
			CredentialsPath: getEnv("GOOGLE_SHEETS_CREDENTIALS_PATH", ""),
			SpreadsheetID:   getEnv("GOOGLE_SHEETS_SPREADSHEET_ID", ""),
			Range:           getEnv("GOOGLE_SHEETS_RANGE", "Daily!A:N"),
		},
		SMTP: SMTPConfig{
			Host:     getEnv("SMTP_HOST", "smtp.gmail.com"),
			Port:     getEnvAsInt("SMTP_PORT", 587),
			Username: getEnv("SMTP_USERNAME", ""),
			Password: getEnv("SMTP_PASSWORD", ""),
			From:     getEnv("SMTP_FROM", "egg-grader@example.com"),
			To:       getEnv("SMTP_TO", "admin@example.com"),
		},
		Push: PushConfig{
			BaseURL:     getEnv("PUSH_BASE_URL", "https://exp.host/--/api/v2"),
			AccessToken: getEnv("PUSH_ACCESS_TOKEN", ""),
			Tokens:      getEnvAsList("PUSH_TOKENS", ""),
			Timeout:     getEnvAsDuration("PUSH_TIMEOUT", 15*time.Second),
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate rejects settings no service can run with.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}

	switch {
	case c.Grading.LoadCells <= 0:
		return errors.New("GRADING_LOAD_CELLS must be positive")
	case c.Grading.SlotsPerRow <= 0:
		return errors.New("GRADING_SLOTS_PER_ROW must be positive")
	case c.Grading.NotificationCooldown < 0:
		return errors.New("GRADING_NOTIFICATION_COOLDOWN must not be negative")
	}

	if len(c.Kafka.Brokers) == 0 {
		return errors.New("KAFKA_BROKERS must be provided")
	}
	if c.TCPServer.Port <= 0 || c.Database.Port <= 0 {
		return errors.New("ports must be positive")
	}
	if c.HTTP.Port == "" {
		return errors.New("HTTP_PORT must be provided")
	}

	return nil
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

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsList(key, defaultValue string) []string {
	var out []string
	for _, part := range strings.Split(getEnv(key, defaultValue), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
