package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/smukkama/glucose-stats/internal/tracker"
)

type Config struct {
	Database  DatabaseConfig
	Redis     RedisConfig
	Kafka     KafkaConfig
	TCPServer TCPServerConfig
	Snapshot  SnapshotConfig
	Tracker   TrackerConfig
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
	StateTTL time.Duration
}

type KafkaConfig struct {
	Brokers           []string
	TopicMeasurements string
	TopicStats        string
	NumPartitions     int
	ReplicationFactor int
	ProcessorGroup    string
	LogWriterGroup    string
	// StartOffset is where a new consumer group starts: "first" or "last"
	StartOffset string
}

type TCPServerConfig struct {
	Port              int
	MaxConnections    int
	IdentifyTimeout   time.Duration
	InactivityTimeout time.Duration
}

type SnapshotConfig struct {
	DailyTime string
}

// TrackerConfig holds the settings every new tracker state is created with
type TrackerConfig struct {
	Thresholds    tracker.RangeThresholds
	WindowDays    []int
	DefaultWindow string
	CategoryMode  tracker.CategoryMode
}

// Options converts the tracker settings for tracker.NewState
func (t TrackerConfig) Options() tracker.Options {
	return tracker.Options{
		Thresholds:    t.Thresholds,
		WindowDays:    t.WindowDays,
		DefaultWindow: t.DefaultWindow,
		CategoryMode:  t.CategoryMode,
	}
}

func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	defaults := tracker.DefaultThresholds()

	config := &Config{
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "glucose_user"),
			Password: getEnv("DB_PASSWORD", "glucose_pass"),
			DBName:   getEnv("DB_NAME", "glucose_db"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			StateTTL: getEnvAsDuration("REDIS_STATE_TTL", 0),
		},
		Kafka: KafkaConfig{
			Brokers:           strings.Split(getEnv("KAFKA_BROKERS", "localhost:9092"), ","),
			TopicMeasurements: getEnv("KAFKA_TOPIC_MEASUREMENTS", "glucose.measurements"),
			TopicStats:        getEnv("KAFKA_TOPIC_STATS", "glucose.stats"),
			NumPartitions:     getEnvAsInt("KAFKA_NUM_PARTITIONS", 10),
			ReplicationFactor: getEnvAsInt("KAFKA_REPLICATION_FACTOR", 1),
			ProcessorGroup:    getEnv("KAFKA_PROCESSOR_GROUP", "processor-group"),
			LogWriterGroup:    getEnv("KAFKA_LOGWRITER_GROUP", "logwriter-group"),
			StartOffset:       getEnv("KAFKA_START_OFFSET", "first"),
		},
		TCPServer: TCPServerConfig{
			Port:              getEnvAsInt("TCP_PORT", 8080),
			MaxConnections:    getEnvAsInt("TCP_MAX_CONNECTIONS", 10000),
			IdentifyTimeout:   getEnvAsDuration("TCP_IDENTIFY_TIMEOUT", 10*time.Second),
			InactivityTimeout: getEnvAsDuration("TCP_INACTIVITY_TIMEOUT", 5*time.Minute),
		},
		Snapshot: SnapshotConfig{
			DailyTime: getEnv("SNAPSHOT_DAILY_TIME", "00:05"),
		},
		Tracker: TrackerConfig{
			Thresholds: tracker.RangeThresholds{
				VeryHigh: getEnvAsFloat("RANGE_VERY_HIGH", defaults.VeryHigh),
				High: tracker.Interval{
					Min: getEnvAsFloat("RANGE_HIGH_MIN", defaults.High.Min),
					Max: getEnvAsFloat("RANGE_HIGH_MAX", defaults.High.Max),
				},
				Normal: tracker.Interval{
					Min: getEnvAsFloat("RANGE_NORMAL_MIN", defaults.Normal.Min),
					Max: getEnvAsFloat("RANGE_NORMAL_MAX", defaults.Normal.Max),
				},
				Low: getEnvAsFloat("RANGE_LOW", defaults.Low),
			},
			WindowDays:    getEnvAsIntList("TRACKER_WINDOWS", tracker.DefaultWindows),
			DefaultWindow: getEnv("TRACKER_DEFAULT_WINDOW", ""),
			CategoryMode:  tracker.CategoryMode(getEnv("TRACKER_CATEGORY_MODE", string(tracker.CategoryShared))),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks the settings that cannot be defaulted away
func (c *Config) Validate() error {
	if err := c.Tracker.Thresholds.Validate(); err != nil {
		return fmt.Errorf("invalid tracker config: %w", err)
	}
	if _, err := tracker.ParseCategoryMode(string(c.Tracker.CategoryMode)); err != nil {
		return fmt.Errorf("invalid tracker config: %w", err)
	}
	days := c.Tracker.WindowDays
	if len(days) == 0 {
		days = tracker.DefaultWindows
	}
	knownDefault := c.Tracker.DefaultWindow == ""
	for _, d := range days {
		if d <= 0 {
			return fmt.Errorf("invalid tracker config: window length must be positive, got %d", d)
		}
		if tracker.WindowLabel(d) == c.Tracker.DefaultWindow {
			knownDefault = true
		}
	}
	if !knownDefault {
		return fmt.Errorf("invalid tracker config: default window %q is not one of %v", c.Tracker.DefaultWindow, days)
	}
	if len(c.Kafka.Brokers) == 0 || c.Kafka.Brokers[0] == "" {
		return fmt.Errorf("at least one Kafka broker is required")
	}
	if c.Kafka.StartOffset != "first" && c.Kafka.StartOffset != "last" {
		return fmt.Errorf("invalid KAFKA_START_OFFSET %q (expected first or last)", c.Kafka.StartOffset)
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

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
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

// getEnvAsIntList parses a comma separated list such as "7,14,30,90"
func getEnvAsIntList(key string, defaultValue []int) []int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	var values []int
	for _, part := range strings.Split(valueStr, ",") {
		v, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return defaultValue
		}
		values = append(values, v)
	}
	return values
}
