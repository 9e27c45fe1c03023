package config

import (
	"log"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	API      API      `yaml:"api"`
	Realtime Realtime `yaml:"realtime"`
	Stub     Stub     `yaml:"stub"`
}

// API holds the marketplace REST API configuration
type API struct {
	BaseURL string        `yaml:"base_url" env:"API_BASE_URL" env-default:"http://localhost:8080"`
	Timeout time.Duration `yaml:"timeout" env:"API_TIMEOUT" env-default:"30s"`
	// TokenEnv names the environment variable holding the session
	// credential, so the external login flow can rotate it in place.
	TokenEnv string `yaml:"token_env" env:"API_TOKEN_ENV" env-default:"PRODESK_TOKEN"`
}

// Realtime holds the websocket channel configuration
type Realtime struct {
	// URL of the realtime endpoint. When empty it is derived from the API
	// origin (http->ws scheme swap plus the /ws path).
	URL string `yaml:"url" env:"REALTIME_URL"`

	ReconnectBase time.Duration `yaml:"reconnect_base" env:"REALTIME_RECONNECT_BASE" env-default:"1s"`
	ReconnectMax  time.Duration `yaml:"reconnect_max" env:"REALTIME_RECONNECT_MAX" env-default:"30s"`
	MaxReconnects int           `yaml:"max_reconnects" env:"REALTIME_MAX_RECONNECTS" env-default:"8"`
}

// Endpoint returns the websocket URL, deriving it from the API origin when no
// explicit realtime origin was configured.
func (r Realtime) Endpoint(apiBaseURL string) string {
	if r.URL != "" {
		return r.URL
	}
	u := strings.Replace(apiBaseURL, "https://", "wss://", 1)
	u = strings.Replace(u, "http://", "ws://", 1)
	return strings.TrimRight(u, "/") + "/ws"
}

// Stub holds the conformance backend configuration
type Stub struct {
	Host         string        `yaml:"host" env:"STUB_HOST" env-default:"0.0.0.0"`
	Port         string        `yaml:"port" env:"STUB_PORT" env-default:"8080"`
	ReadTimeout  time.Duration `yaml:"read_timeout" env:"STUB_READ_TIMEOUT" env-default:"15s"`
	WriteTimeout time.Duration `yaml:"write_timeout" env:"STUB_WRITE_TIMEOUT" env-default:"15s"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" env:"STUB_IDLE_TIMEOUT" env-default:"60s"`

	// PostgresDSN switches the room store from in-memory to PostgreSQL.
	PostgresDSN  string `yaml:"postgres_dsn" env:"DATABASE_URL"`
	MaxOpenConns int    `yaml:"max_open_conns" env:"DB_MAX_OPEN_CONNS" env-default:"25"`

	// Tokens is a comma-separated list of accepted credentials in the form
	// token:userId:name.
	Tokens string `yaml:"tokens" env:"STUB_TOKENS" env-default:"dev-provider:p1:Provider,dev-customer:c1:Customer"`

	// UploadDir receives attachment files when S3 is not configured.
	UploadDir string `yaml:"upload_dir" env:"STUB_UPLOAD_DIR" env-default:"./uploads"`

	S3 S3 `yaml:"s3"`
}

// Address returns the full stub server address
func (s Stub) Address() string {
	return s.Host + ":" + s.Port
}

// S3 holds S3/MinIO storage configuration for stub attachment uploads
type S3 struct {
	Endpoint        string `yaml:"endpoint" env:"S3_ENDPOINT"`
	AccessKeyID     string `yaml:"access_key_id" env:"S3_ACCESS_KEY_ID" env-default:"minioadmin"`
	SecretAccessKey string `yaml:"secret_access_key" env:"S3_SECRET_ACCESS_KEY" env-default:"minioadmin"`
	Bucket          string `yaml:"bucket" env:"S3_BUCKET" env-default:"attachments"`
	Region          string `yaml:"region" env:"S3_REGION" env-default:"us-east-1"`
	PublicURL       string `yaml:"public_url" env:"S3_PUBLIC_URL"`
}

// MustLoad loads configuration from the environment, or from the YAML file
// named by CONFIG_PATH when set, and panics on error
func MustLoad() Config {
	// Load .env file if exists (for development)
	_ = godotenv.Load()

	if path := os.Getenv("CONFIG_PATH"); path != "" {
		cfg, err := LoadFromFile(path)
		if err != nil {
			log.Fatalf("failed to load config from %s: %v", path, err)
		}
		return cfg
	}

	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	return cfg
}

// LoadFromFile loads configuration from a YAML file, with environment
// variables overriding file values.
func LoadFromFile(path string) (Config, error) {
	var cfg Config
	if err := cleanenv.ReadConfig(path, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}
