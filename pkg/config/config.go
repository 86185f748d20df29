package config

import (
	"log"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type (
	Config struct {
		HTTP      HTTP      `envPrefix:"HTTP_"`
		Logger    Logger    `envPrefix:"LOGGER_"`
		Telemetry Telemetry `envPrefix:"TELEMETRY_"`
		Provider  Provider  `envPrefix:"PROVIDER_"`
		Fetch     Fetch     `envPrefix:"FETCH_"`
		Cache     Cache     `envPrefix:"CACHE_"`
		Redis     Redis     `envPrefix:"REDIS_"`
	}

	HTTP struct {
		Server  Server        `envPrefix:"SERVER_"`
		Timeout time.Duration `env:"TIMEOUT" envDefault:"10s"`
	}

	Server struct {
		Port         string        `env:"PORT" envDefault:"8080"`
		ReadTimeout  time.Duration `env:"READ_TIMEOUT" envDefault:"15s"`
		WriteTimeout time.Duration `env:"WRITE_TIMEOUT" envDefault:"15s"`
		IdleTimeout  time.Duration `env:"IDLE_TIMEOUT" envDefault:"60s"`
	}

	Logger struct {
		Level  string `env:"LEVEL" envDefault:"info"`
		Format string `env:"FORMAT" envDefault:"console"`
	}

	Telemetry struct {
		Enabled        bool   `env:"ENABLED" envDefault:"false"`
		ServiceName    string `env:"SERVICE_NAME" envDefault:"guide-helper-mapviewer"`
		ServiceVersion string `env:"SERVICE_VERSION" envDefault:"1.0.0"`
		Environment    string `env:"ENVIRONMENT" envDefault:"production"`
		OTLPEndpoint   string `env:"OTLP_ENDPOINT" envDefault:"otel-collector.observability.svc.cluster.local:4317"`
	}

	// Provider selects a built-in tile provider by name. The optional
	// overrides replace the built-in base url, suffix and coordinate layout;
	// Pattern uses {z}, {x} and {y} placeholders.
	Provider struct {
		Name      string `env:"NAME" envDefault:"openstreetmap"`
		BaseURL   string `env:"BASE_URL"`
		URLSuffix string `env:"URL_SUFFIX"`
		Pattern   string `env:"PATTERN"`
	}

	Fetch struct {
		UserAgent     string        `env:"USER_AGENT" envDefault:"GuideHelper/1.0 (https://github.com/jaennil/guide_helper)"`
		Timeout       time.Duration `env:"TIMEOUT" envDefault:"30s"`
		Attempts      int           `env:"ATTEMPTS" envDefault:"3"`
		Backoff       time.Duration `env:"BACKOFF" envDefault:"0s"`
		Workers       int           `env:"WORKERS" envDefault:"1"`
		QueueCapacity int           `env:"QUEUE_CAPACITY" envDefault:"1024"`
		// RetryAfter is how long a tile that exhausted its attempts stays
		// failed before an eager request may fetch it again. Zero means never.
		RetryAfter time.Duration `env:"RETRY_AFTER" envDefault:"0s"`
	}

	Cache struct {
		MemoryCapacity      int    `env:"MEMORY_CAPACITY" envDefault:"20"`
		Durable             string `env:"DURABLE" envDefault:"filesystem"`
		FilesystemDir       string `env:"FILESYSTEM_DIR" envDefault:"tile-cache"`
		SQLitePath          string `env:"SQLITE_PATH" envDefault:"tile-cache.db"`
		PromoteOnDurableHit bool   `env:"PROMOTE_ON_DURABLE_HIT" envDefault:"true"`
	}

	Redis struct {
		Addr     string        `env:"ADDR" envDefault:"localhost:6379"`
		Password string        `env:"PASSWORD" envDefault:""`
		DB       int           `env:"DB" envDefault:"0"`
		TTL      time.Duration `env:"TTL" envDefault:"24h"`
	}
)

func New() (*Config, error) {
	err := godotenv.Load()
	if err != nil {
		log.Printf("NOTICE: .env file not found or cannot be loaded: %v\n", err)
	}

	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, err
	}

	return &cfg, nil
}
