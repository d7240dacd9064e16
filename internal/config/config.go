package config

import (
	"time"

	"github.com/caarlos0/env"
)

type Config struct {
	PostgresqlHosts          string        `env:"POSTGRESQL_HOSTS" envSeparator:":" envDefault:"localhost"`
	PostgresqlDbName         string        `env:"POSTGRESQL_DB_NAME" envDefault:"postgres"`
	PostgresqlUsername       string        `env:"POSTGRESQL_USERNAME"`
	PostgresqlPassword       string        `env:"POSTGRESQL_PASSWORD"`
	PostgresqlSslEnabled     bool          `env:"POSTGRESQL_SSL_ENABLED" envDefault:"false"`
	PostgresqlPort           string        `env:"POSTGRESQL_PORT" envDefault:"5432"`
	PostgresqlReadTimeout    time.Duration `env:"POSTGRESQL_READ_TIME_OUT" envDefault:"2s"`
	PostgresqlWriteTimeout   time.Duration `env:"POSTGRESQL_WRITE_TIME_OUT" envDefault:"1s"`
	RedisHosts               string        `env:"REDIS_HOSTS" envSeparator:":" envDefault:"localhost"`
	RedisPort                string        `env:"REDIS_PORT" envDefault:"6379"`
	RedisPassword            string        `env:"REDIS_PASSWORD"`
	RedisReadTimeout         time.Duration `env:"REDIS_READ_TIME_OUT" envDefault:"1s"`
	RedisWriteTimeout        time.Duration `env:"REDIS_WRITE_TIME_OUT" envDefault:"500ms"`
	InMemoryDbUpdateInterval time.Duration `env:"IN_MEMORY_DB_UPDATE_INTERVAL" envDefault:"5s"`
	ProviderConfigPath       string        `env:"PROVIDER_CONFIG_PATH" envDefault:"providers.yaml"`
	ProxyPort                string        `env:"PROXY_PORT" envDefault:"8002"`
	AdmissionTimeout         time.Duration `env:"ADMISSION_TIME_OUT" envDefault:"2s"`
	ConnectTimeout           time.Duration `env:"CONNECT_TIME_OUT" envDefault:"10s"`
	RequestTimeout           time.Duration `env:"REQUEST_TIME_OUT" envDefault:"600s"`
	ReservationSweepInterval time.Duration `env:"RESERVATION_SWEEP_INTERVAL" envDefault:"30s"`
	DefaultCompletionTokens  int           `env:"DEFAULT_COMPLETION_TOKENS" envDefault:"1024"`
	LedgerBufferSize         int           `env:"LEDGER_BUFFER_SIZE" envDefault:"4096"`
	TelemetryProvider        string        `env:"TELEMETRY_PROVIDER" envDefault:"statsd"`
	StatsEnabled             bool          `env:"STATS_ENABLED" envDefault:"false"`
	StatsAddress             string        `env:"STATS_ADDRESS" envDefault:"127.0.0.1:8125"`
	PrometheusEnabled        bool          `env:"PROMETHEUS_ENABLED" envDefault:"false"`
	PrometheusPort           string        `env:"PROMETHEUS_PORT" envDefault:"2112"`
	OpenTelemetryEnabled     bool          `env:"OPENTELEMETRY_ENABLED" envDefault:"false"`
	OpenTelemetryEndpoint    string        `env:"OPENTELEMETRY_ENDPOINT"`
}

func ParseEnvVariables() (*Config, error) {
	cfg := &Config{}
	err := env.Parse(cfg)
	if err != nil {
		return nil, err
	}

	return cfg, nil
}
