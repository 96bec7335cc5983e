package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"riskstream/pkg/errors"
)

type Config struct {
	App           AppConfig
	Stream        StreamConfig
	Store         StoreConfig
	Persistence   PersistenceConfig
	Redis         RedisConfig
	API           APIConfig
	Kafka         KafkaConfig
	HTTP          HTTPConfig
	ErrorTracking ErrorTrackingConfig
}

type AppConfig struct {
	Name     string `envconfig:"APP_NAME" default:"riskstream"`
	Env      string `envconfig:"APP_ENV" default:"development"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
	Version  string `envconfig:"APP_VERSION" default:"dev"`
}

// Stream source values
const (
	SourceWebSocket = "websocket"
	SourceKafka     = "kafka"
)

// StreamConfig configures the live event connection
type StreamConfig struct {
	URL              string        `envconfig:"STREAM_URL" default:"ws://localhost:8000/ws"`
	Source           string        `envconfig:"STREAM_SOURCE" default:"websocket"` // websocket|kafka
	ReconnectDelay   time.Duration `envconfig:"STREAM_RECONNECT_DELAY" default:"3s"`
	HandshakeTimeout time.Duration `envconfig:"STREAM_HANDSHAKE_TIMEOUT" default:"10s"`
	WriteTimeout     time.Duration `envconfig:"STREAM_WRITE_TIMEOUT" default:"5s"`
	PortfolioID      string        `envconfig:"STREAM_PORTFOLIO_ID"`
}

// StoreConfig bounds the in-memory activity state
type StoreConfig struct {
	ActivityLimit       int           `envconfig:"STORE_ACTIVITY_LIMIT" default:"50"`
	ThoughtLimit        int           `envconfig:"STORE_THOUGHT_LIMIT" default:"5"`
	MerkleLimit         int           `envconfig:"STORE_MERKLE_LIMIT" default:"50"`
	ThinkingDedupWindow time.Duration `envconfig:"STORE_THINKING_DEDUP_WINDOW" default:"500ms"`
}

// Persistence backends
const (
	BackendFile  = "file"
	BackendRedis = "redis"
)

// PersistenceConfig selects where scenario approvals are cached
type PersistenceConfig struct {
	Backend string `envconfig:"APPROVALS_BACKEND" default:"file"` // file|redis
	Path    string `envconfig:"APPROVALS_PATH" default:".riskstream/storage.json"`
}

type RedisConfig struct {
	Host     string `envconfig:"REDIS_HOST" default:"localhost"`
	Port     int    `envconfig:"REDIS_PORT" default:"6379"`
	Password string `envconfig:"REDIS_PASSWORD"`
	DB       int    `envconfig:"REDIS_DB" default:"0"`
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// APIConfig points at the pipeline REST API
type APIConfig struct {
	BaseURL string        `envconfig:"API_BASE_URL" default:"http://localhost:8000/api"`
	Timeout time.Duration `envconfig:"API_TIMEOUT" default:"30s"`
}

type KafkaConfig struct {
	Enabled      bool     `envconfig:"KAFKA_ENABLED" default:"false"`
	Brokers      []string `envconfig:"KAFKA_BROKERS" default:"localhost:9092"`
	GroupID      string   `envconfig:"KAFKA_GROUP_ID" default:"riskstream"`
	JournalTopic string   `envconfig:"STREAM_JOURNAL_TOPIC" default:"riskstream.events"`
}

type HTTPConfig struct {
	Addr string `envconfig:"HTTP_ADDR" default:":9090"`
}

type ErrorTrackingConfig struct {
	Enabled     bool   `envconfig:"ERROR_TRACKING_ENABLED" default:"false"`
	SentryDSN   string `envconfig:"SENTRY_DSN"`
	Environment string `envconfig:"SENTRY_ENVIRONMENT" default:"production"`
}

// Load reads configuration from environment variables
// It first tries to load .env file (useful for local development)
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to process env config")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks cross-field constraints envconfig cannot express
func (c *Config) Validate() error {
	switch c.Stream.Source {
	case SourceWebSocket, SourceKafka:
	default:
		return errors.Wrapf(errors.ErrInvalidInput, "unknown STREAM_SOURCE %q", c.Stream.Source)
	}
	if c.Stream.Source == SourceKafka && !c.Kafka.Enabled {
		return errors.Wrap(errors.ErrInvalidInput, "STREAM_SOURCE=kafka requires KAFKA_ENABLED")
	}

	switch c.Persistence.Backend {
	case BackendFile, BackendRedis:
	default:
		return errors.Wrapf(errors.ErrInvalidInput, "unknown APPROVALS_BACKEND %q", c.Persistence.Backend)
	}

	if c.Store.ActivityLimit <= 0 || c.Store.ThoughtLimit <= 0 || c.Store.MerkleLimit <= 0 {
		return errors.Wrap(errors.ErrInvalidInput, "store limits must be positive")
	}
	if c.Stream.ReconnectDelay <= 0 {
		return errors.Wrap(errors.ErrInvalidInput, "STREAM_RECONNECT_DELAY must be positive")
	}

	return nil
}
