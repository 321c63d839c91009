// Package config defines configuration parsing and helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config holds all application configuration parsed from environment variables.
type Config struct {
	AppEnv string `env:"APP_ENV" envDefault:"dev"`

	// OLTP connects to the source transactional database.
	OLTPHost     string `env:"OLTP_HOST" envDefault:"localhost"`
	OLTPUser     string `env:"OLTP_USER" envDefault:"postgres"`
	OLTPPassword string `env:"OLTP_PASSWORD"`
	OLTPDBName   string `env:"OLTP_DBNAME" envDefault:"oltp"`
	OLTPPort     int    `env:"OLTP_PORT" envDefault:"5432"`

	// OLAP connects to the target analytical database.
	OLAPHost     string `env:"OLAP_HOST" envDefault:"localhost"`
	OLAPUser     string `env:"OLAP_USER" envDefault:"postgres"`
	OLAPPassword string `env:"OLAP_PASSWORD"`
	OLAPDBName   string `env:"OLAP_DBNAME" envDefault:"olap"`
	OLAPPort     int    `env:"OLAP_PORT" envDefault:"5432"`

	WorkerHeartbeatSeconds int    `env:"WORKER_HEARTBEAT_SECONDS" envDefault:"30"`
	SyncToken              string `env:"SYNC_TOKEN"`
	LogLevel               string `env:"LOG_LEVEL" envDefault:"INFO"`

	Host string `env:"HOST" envDefault:"0.0.0.0"`
	Port int    `env:"PORT" envDefault:"8080"`

	OTELServiceName string `env:"OTEL_SERVICE_NAME" envDefault:"oltp-olap-sync"`
	OTLPEndpoint    string `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:""`

	HTTPReadTimeout       time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"15s"`
	HTTPWriteTimeout      time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
	ServerShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" envDefault:"10s"`

	// DispatcherReadyTimeout is parsed from the environment but is not read
	// by the dispatcher, whose per-iteration readiness wait is a fixed 5s
	// (dispatcher.readyWait); setting it changes nothing.
	DispatcherReadyTimeout time.Duration `env:"DISPATCHER_READY_TIMEOUT" envDefault:"5s"`

	// LivenessArtifactPath is where the dispatcher writes its heartbeat JSON document.
	LivenessArtifactPath string `env:"LIVENESS_ARTIFACT_PATH" envDefault:"worker_status.json"`

	// OrdenProductoPKColumns is the ordered list of candidate primary-key
	// column names probed when resolving an orden_producto notification's
	// owning id_orden (spec §4.4, §9 open question).
	OrdenProductoPKColumns []string `env:"ORDEN_PRODUCTO_PK_COLUMNS" envSeparator:"," envDefault:"id_op,id_orden_producto,id"`

	// TriggerRateLimitPerMin caps requests per source IP against the /sync trigger.
	TriggerRateLimitPerMin int `env:"TRIGGER_RATE_LIMIT_PER_MIN" envDefault:"60"`
}

// Load parses environment variables into a Config.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("op=config.Load: %w", err)
	}
	return cfg, nil
}

// IsDev reports whether the app is running in development mode.
func (c Config) IsDev() bool { return strings.ToLower(c.AppEnv) == "dev" }

// IsProd reports whether the app is running in production mode.
func (c Config) IsProd() bool { return strings.ToLower(c.AppEnv) == "prod" }

// OLTPDSN assembles the libpq connection string for the source database.
func (c Config) OLTPDSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.OLTPUser, c.OLTPPassword, c.OLTPHost, c.OLTPPort, c.OLTPDBName)
}

// OLAPDSN assembles the libpq connection string for the target database.
func (c Config) OLAPDSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.OLAPUser, c.OLAPPassword, c.OLAPHost, c.OLAPPort, c.OLAPDBName)
}

// HeartbeatInterval returns WorkerHeartbeatSeconds as a time.Duration.
func (c Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.WorkerHeartbeatSeconds) * time.Second
}
