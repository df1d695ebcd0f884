// Package config reads process configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config is the full server configuration. Optional backends are enabled
// by setting their address.
type Config struct {
	HTTPPort      string        `validate:"required,numeric"`
	LogLevel      string        `validate:"oneof=debug info warn error"`
	EngineTimeout time.Duration `validate:"gt=0"`
	PatternsFile  string

	PostgresDSN   string
	ClickHouseDSN string
	BoltPath      string
	RedisAddr     string

	KafkaBrokers       []string
	KafkaIncidentTopic string

	MinIOEndpoint  string
	MinIOAccessKey string `validate:"required_with=MinIOEndpoint"`
	MinIOSecretKey string `validate:"required_with=MinIOEndpoint"`
	MinIOBucket    string `validate:"required_with=MinIOEndpoint"`
	MinIOUseSSL    bool

	OpenAIAPIKey  string
	OpenAIBaseURL string  `validate:"omitempty,url"`
	GenerationRPS float64 `validate:"gte=0"`

	RegistryCacheTTL time.Duration `validate:"gt=0"`
	PipelineTick     time.Duration `validate:"gt=0"`
	PipelineFeed     string        `validate:"oneof=postgres memory"`
	SampleMaxRows    int           `validate:"gt=0"`
}

// Lookup matches os.LookupEnv.
type Lookup func(key string) (string, bool)

// Load reads the configuration from the process environment.
func Load() (*Config, error) {
	return LoadFrom(os.LookupEnv)
}

// LoadFrom reads the configuration through lookup and validates it.
func LoadFrom(lookup Lookup) (*Config, error) {
	e := env{lookup: lookup}
	cfg := &Config{
		HTTPPort:      e.string("WARDEN_HTTP_PORT", "8080"),
		LogLevel:      e.string("WARDEN_LOG_LEVEL", "info"),
		EngineTimeout: e.millis("WARDEN_ENGINE_TIMEOUT_MS", 100),
		PatternsFile:  e.string("WARDEN_PATTERNS_FILE", ""),

		PostgresDSN:   e.string("POSTGRES_DSN", ""),
		ClickHouseDSN: e.string("CLICKHOUSE_DSN", ""),
		BoltPath:      e.string("WARDEN_BOLT_PATH", ""),
		RedisAddr:     e.string("REDIS_ADDR", ""),

		KafkaBrokers:       e.list("KAFKA_BROKERS"),
		KafkaIncidentTopic: e.string("KAFKA_INCIDENT_TOPIC", ""),

		MinIOEndpoint:  e.string("MINIO_ENDPOINT", ""),
		MinIOAccessKey: e.string("MINIO_ACCESS_KEY", ""),
		MinIOSecretKey: e.string("MINIO_SECRET_KEY", ""),
		MinIOBucket:    e.string("MINIO_BUCKET", ""),
		MinIOUseSSL:    e.bool("MINIO_USE_SSL", false),

		OpenAIAPIKey:  e.string("OPENAI_API_KEY", ""),
		OpenAIBaseURL: e.string("OPENAI_BASE_URL", ""),
		GenerationRPS: e.float("WARDEN_GENERATION_RPS", 0),

		RegistryCacheTTL: time.Duration(e.int("WARDEN_REGISTRY_CACHE_TTL_S", 30)) * time.Second,
		PipelineTick:     e.millis("WARDEN_PIPELINE_TICK_MS", 1000),
		PipelineFeed:     e.string("WARDEN_PIPELINE_FEED", "postgres"),
		SampleMaxRows:    e.int("WARDEN_SAMPLE_MAX_ROWS", 10_000),
	}
	if e.err != nil {
		return nil, e.err
	}
	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// env reads typed variables and keeps the first parse error.
type env struct {
	lookup Lookup
	err    error
}

func (e *env) raw(key string) (string, bool) {
	v, ok := e.lookup(key)
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return strings.TrimSpace(v), true
}

func (e *env) fail(key string, err error) {
	if e.err == nil {
		e.err = fmt.Errorf("parse %s: %w", key, err)
	}
}

func (e *env) string(key, def string) string {
	if v, ok := e.raw(key); ok {
		return v
	}
	return def
}

func (e *env) int(key string, def int) int {
	v, ok := e.raw(key)
	if !ok {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		e.fail(key, err)
		return def
	}
	return i
}

func (e *env) float(key string, def float64) float64 {
	v, ok := e.raw(key)
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		e.fail(key, err)
		return def
	}
	return f
}

func (e *env) bool(key string, def bool) bool {
	v, ok := e.raw(key)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.fail(key, err)
		return def
	}
	return b
}

func (e *env) millis(key string, def int) time.Duration {
	return time.Duration(e.int(key, def)) * time.Millisecond
}

func (e *env) list(key string) []string {
	v, ok := e.raw(key)
	if !ok {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
