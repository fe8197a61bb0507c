package global

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

// DefaultRelayURL is the fallback endpoint the client adapter dials when no
// RELAY_URL is supplied.
const DefaultRelayURL = "ws://127.0.0.1:8080/board"

// AppConfig is the relayd process configuration, loaded from the environment.
type AppConfig struct {
	NodeID     string `envconfig:"NODE_ID" default:"relay-1"`
	HTTPAddr   string `envconfig:"HTTP_ADDR" default:":8080"`
	HealthAddr string `envconfig:"HEALTH_ADDR" default:":50052"`

	JWTSecret string        `envconfig:"JWT_SECRET" default:"dev-secret-change-me"`
	TokenTTL  time.Duration `envconfig:"TOKEN_TTL" default:"2h"`

	// Redis presence is optional; empty addr disables it.
	RedisAddr     string        `envconfig:"REDIS_ADDR" default:""`
	RedisPassword string        `envconfig:"REDIS_PASSWORD" default:""`
	RedisDB       int           `envconfig:"REDIS_DB" default:"0"`
	PresenceTTL   time.Duration `envconfig:"PRESENCE_TTL" default:"90s"`

	// Mongo board store is optional; empty URI disables snapshot serving and
	// board-level access checks (callers are then trusted to have checked).
	MongoURI string `envconfig:"MONGO_URI" default:""`
	MongoDB  string `envconfig:"MONGO_DB" default:"taskboard"`

	// NATS bridge is optional; empty servers keeps the relay single-node.
	NatsServers string `envconfig:"NATS_SERVERS" default:""`
	NatsName    string `envconfig:"NATS_NAME" default:"relayd"`

	SendQueueSize int           `envconfig:"SEND_QUEUE_SIZE" default:"256"`
	PingInterval  time.Duration `envconfig:"PING_INTERVAL" default:"30s"`
	ReadTimeout   time.Duration `envconfig:"READ_TIMEOUT" default:"60s"`
	WriteTimeout  time.Duration `envconfig:"WRITE_TIMEOUT" default:"5s"`
}

// LoadConfig reads AppConfig from the environment, falling back to the
// struct defaults.
func LoadConfig() (*AppConfig, error) {
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
