package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// APIServerConfig 保存 API 服务器特有的配置。
type APIServerConfig struct {
	Host string     `mapstructure:"HOST"`
	Port string     `mapstructure:"PORT"`
	CORS CORSConfig `mapstructure:"CORS"`
}

// CORSConfig holds configuration for CORS.
type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"ALLOWED_ORIGINS"`
	AllowedMethods   []string `mapstructure:"ALLOWED_METHODS"`
	AllowedHeaders   []string `mapstructure:"ALLOWED_HEADERS"`
	ExposedHeaders   []string `mapstructure:"EXPOSED_HEADERS"`
	AllowCredentials bool     `mapstructure:"ALLOW_CREDENTIALS"`
	MaxAge           int      `mapstructure:"MAX_AGE"`
}

// RedisConfig holds configuration for Redis.
type RedisConfig struct {
	Addr     string `mapstructure:"ADDR"`
	Password string `mapstructure:"PASSWORD"`
	DB       int    `mapstructure:"DB"`
}

// KafkaConfig holds configuration for Kafka.
type KafkaConfig struct {
	Brokers            []string `mapstructure:"BROKERS"`
	ClientID           string   `mapstructure:"CLIENT_ID"`
	NotificationsTopic string   `mapstructure:"NOTIFICATIONS_TOPIC"` // 关系事件通知
	NotifierGroup      string   `mapstructure:"NOTIFIER_GROUP"`      // notifier 消费者组
	Protocol           string   `mapstructure:"PROTOCOL"`
}

// DatabaseConfig holds configuration for the database.
type DatabaseConfig struct {
	Type     string `mapstructure:"TYPE"`
	Host     string `mapstructure:"HOST"`
	Port     int    `mapstructure:"PORT"`
	User     string `mapstructure:"USER"`
	Password string `mapstructure:"PASSWORD"`
	DBName   string `mapstructure:"DB_NAME"`
	SSLMode  string `mapstructure:"SSL_MODE"`
}

// AuthConfig holds configuration for authentication (e.g., JWT).
type AuthConfig struct {
	JWTSecretKey string        `mapstructure:"JWT_SECRET_KEY"`
	JWTExpiry    time.Duration `mapstructure:"JWT_EXPIRY"`
}

// EngineConfig tunes the relationship engine's dual-write protocol.
type EngineConfig struct {
	// StoreTimeout bounds every individual UserStore call.
	StoreTimeout time.Duration `mapstructure:"STORE_TIMEOUT"`
	// ConflictRetries is how many times an operation is re-run internally
	// after a stale first write before Conflict is surfaced to the caller.
	ConflictRetries int `mapstructure:"CONFLICT_RETRIES"`
	// MirrorRetries bounds the compensating retries of the second write
	// before the inconsistency is recorded and PartialFailure surfaced.
	MirrorRetries int           `mapstructure:"MIRROR_RETRIES"`
	RetryBackoff  time.Duration `mapstructure:"RETRY_BACKOFF"`
}

// SuggestionConfig tunes the suggested-users ranking.
type SuggestionConfig struct {
	PoolSize      int           `mapstructure:"POOL_SIZE"`
	MutualWeight  float64       `mapstructure:"MUTUAL_WEIGHT"`
	LocaleWeight  float64       `mapstructure:"LOCALE_WEIGHT"`
	RecencyWeight float64       `mapstructure:"RECENCY_WEIGHT"`
	RecencyWindow time.Duration `mapstructure:"RECENCY_WINDOW"`
	CacheTTL      time.Duration `mapstructure:"CACHE_TTL"`
	DefaultLimit  int           `mapstructure:"DEFAULT_LIMIT"`
}

// ReconcilerConfig tunes the mirror-repair daemon.
type ReconcilerConfig struct {
	ScanInterval time.Duration `mapstructure:"SCAN_INTERVAL"`
	BatchSize    int           `mapstructure:"BATCH_SIZE"`
}

// Config holds all configuration for the application.
// The values are read by viper from a config file or environment variables.
type Config struct {
	AppName    string           `mapstructure:"APP_NAME"`
	AppVersion string           `mapstructure:"APP_VERSION"`
	LogLevel   string           `mapstructure:"LOG_LEVEL"`
	APIServer  APIServerConfig  `mapstructure:"API_SERVER"`
	Kafka      KafkaConfig      `mapstructure:"KAFKA"`
	Database   DatabaseConfig   `mapstructure:"DATABASE"`
	Redis      RedisConfig      `mapstructure:"REDIS"`
	Auth       AuthConfig       `mapstructure:"AUTH"`
	Engine     EngineConfig     `mapstructure:"ENGINE"`
	Suggestion SuggestionConfig `mapstructure:"SUGGESTION"`
	Reconciler ReconcilerConfig `mapstructure:"RECONCILER"`
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(path string) (config Config, err error) {
	v := viper.New()

	v.SetDefault("APP_NAME", "SN-Go")
	v.SetDefault("APP_VERSION", "0.0.1")
	v.SetDefault("LOG_LEVEL", "info")

	// APIServer Defaults
	v.SetDefault("API_SERVER.HOST", "0.0.0.0")
	v.SetDefault("API_SERVER.PORT", "8081")
	v.SetDefault("API_SERVER.CORS.ALLOWED_ORIGINS", []string{"http://localhost:5173"})
	v.SetDefault("API_SERVER.CORS.ALLOWED_METHODS", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"})
	v.SetDefault("API_SERVER.CORS.ALLOWED_HEADERS", []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"})
	v.SetDefault("API_SERVER.CORS.EXPOSED_HEADERS", []string{"Content-Length"})
	v.SetDefault("API_SERVER.CORS.ALLOW_CREDENTIALS", true)
	v.SetDefault("API_SERVER.CORS.MAX_AGE", 300) // 5 minutes

	// Kafka Defaults
	v.SetDefault("KAFKA.BROKERS", []string{"localhost:9092"})
	v.SetDefault("KAFKA.CLIENT_ID", "sn-go-client")
	v.SetDefault("KAFKA.NOTIFICATIONS_TOPIC", "sn-relationship-events")
	v.SetDefault("KAFKA.NOTIFIER_GROUP", "sn-notifier-group")

	// Database Defaults (PostgreSQL)
	v.SetDefault("DATABASE.TYPE", "postgres")
	v.SetDefault("DATABASE.HOST", "localhost")
	v.SetDefault("DATABASE.PORT", 5432)
	v.SetDefault("DATABASE.USER", "postgres")
	v.SetDefault("DATABASE.PASSWORD", "password")
	v.SetDefault("DATABASE.DB_NAME", "sn_go_db")
	v.SetDefault("DATABASE.SSL_MODE", "disable")

	// Redis Defaults
	v.SetDefault("REDIS.ADDR", "localhost:6379")
	v.SetDefault("REDIS.PASSWORD", "")
	v.SetDefault("REDIS.DB", 0)

	// Auth Defaults
	v.SetDefault("AUTH.JWT_SECRET_KEY", "a_very_secret_key_that_should_be_changed")
	v.SetDefault("AUTH.JWT_EXPIRY", 15*time.Minute)

	// Engine Defaults
	v.SetDefault("ENGINE.STORE_TIMEOUT", 3*time.Second)
	v.SetDefault("ENGINE.CONFLICT_RETRIES", 2)
	v.SetDefault("ENGINE.MIRROR_RETRIES", 3)
	v.SetDefault("ENGINE.RETRY_BACKOFF", 50*time.Millisecond)

	// Suggestion Defaults
	v.SetDefault("SUGGESTION.POOL_SIZE", 200)
	v.SetDefault("SUGGESTION.MUTUAL_WEIGHT", 3.0)
	v.SetDefault("SUGGESTION.LOCALE_WEIGHT", 1.0)
	v.SetDefault("SUGGESTION.RECENCY_WEIGHT", 1.0)
	v.SetDefault("SUGGESTION.RECENCY_WINDOW", 7*24*time.Hour)
	v.SetDefault("SUGGESTION.CACHE_TTL", 5*time.Minute)
	v.SetDefault("SUGGESTION.DEFAULT_LIMIT", 20)

	// Reconciler Defaults
	v.SetDefault("RECONCILER.SCAN_INTERVAL", 30*time.Second)
	v.SetDefault("RECONCILER.BATCH_SIZE", 50)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.AutomaticEnv() // Read in environment variables that match
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err = v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			// Config file was found but another error was produced
			return
		}
		// Config file not found; defaults still apply
	}

	err = v.Unmarshal(&config)
	return
}
