package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

const (
	TransportHTTP    = "http"
	TransportChannel = "channel"
)

type Config struct {
	Service string `yaml:"service" env:"SERVICE_NAME"`

	Backend struct {
		HTTPURL     string        `yaml:"http_url" env:"BACKEND_HTTP_URL"`
		WSURL       string        `yaml:"ws_url" env:"BACKEND_WS_URL"`
		HTTPTimeout time.Duration `yaml:"http_timeout" env:"BACKEND_HTTP_TIMEOUT"`
	} `yaml:"backend"`

	Realtime struct {
		ConnectTimeout       time.Duration `yaml:"connect_timeout" env:"REALTIME_CONNECT_TIMEOUT"`
		ReconnectDelay       time.Duration `yaml:"reconnect_delay" env:"REALTIME_RECONNECT_DELAY"`
		MaxReconnectDelay    time.Duration `yaml:"max_reconnect_delay" env:"REALTIME_MAX_RECONNECT_DELAY"`
		MaxReconnectAttempts int           `yaml:"max_reconnect_attempts" env:"REALTIME_MAX_RECONNECT_ATTEMPTS"`
		PongWait             time.Duration `yaml:"pong_wait" env:"REALTIME_PONG_WAIT"`
		WriteWait            time.Duration `yaml:"write_wait" env:"REALTIME_WRITE_WAIT"`
	} `yaml:"realtime"`

	Tracking struct {
		Interval  time.Duration `yaml:"interval" env:"TRACKING_INTERVAL"`
		Transport string        `yaml:"transport" env:"TRACKING_TRANSPORT"`
	} `yaml:"tracking"`

	Auth struct {
		Token     string        `yaml:"token" env:"AUTH_TOKEN"`
		JWTSecret string        `yaml:"jwt_secret" env:"JWT_SECRET"`
		TokenTTL  time.Duration `yaml:"token_ttl" env:"JWT_TOKEN_TTL"`
	} `yaml:"auth"`

	// RabbitMQ, Database and Redis are optional; an empty URL disables the
	// component.
	RabbitMQ struct {
		URL      string `yaml:"url" env:"RABBITMQ_URL"`
		Exchange string `yaml:"exchange" env:"RABBITMQ_EXCHANGE"`
	} `yaml:"rabbitmq"`

	Database struct {
		URL string `yaml:"url" env:"DATABASE_URL"`
	} `yaml:"database"`

	Redis struct {
		URL string `yaml:"url" env:"REDIS_URL"`
	} `yaml:"redis"`
}

// Load reads an optional .env file, then the YAML file at path (if any) with
// environment overrides, applies defaults and validates the result.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if strings.TrimSpace(path) != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("config file: %w", err)
		}
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// Default returns a config holding only defaults. Callers fill in the backend URLs.
func Default() *Config {
	var cfg Config
	applyDefaults(&cfg)
	return &cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Service == "" {
		cfg.Service = "canteen-sync"
	}

	// Backend
	if cfg.Backend.HTTPTimeout == 0 {
		cfg.Backend.HTTPTimeout = 15 * time.Second
	}
	if cfg.Backend.WSURL == "" && cfg.Backend.HTTPURL != "" {
		cfg.Backend.WSURL = deriveWSURL(cfg.Backend.HTTPURL)
	}

	// Realtime
	if cfg.Realtime.ConnectTimeout == 0 {
		cfg.Realtime.ConnectTimeout = 20 * time.Second
	}
	if cfg.Realtime.ReconnectDelay == 0 {
		cfg.Realtime.ReconnectDelay = time.Second
	}
	if cfg.Realtime.MaxReconnectDelay == 0 {
		cfg.Realtime.MaxReconnectDelay = 30 * time.Second
	}
	if cfg.Realtime.MaxReconnectAttempts == 0 {
		cfg.Realtime.MaxReconnectAttempts = 5
	}
	if cfg.Realtime.PongWait == 0 {
		cfg.Realtime.PongWait = 60 * time.Second
	}
	if cfg.Realtime.WriteWait == 0 {
		cfg.Realtime.WriteWait = 10 * time.Second
	}

	// Tracking
	if cfg.Tracking.Interval == 0 {
		cfg.Tracking.Interval = 10 * time.Second
	}
	if cfg.Tracking.Transport == "" {
		cfg.Tracking.Transport = TransportHTTP
	}
	cfg.Tracking.Transport = strings.ToLower(strings.TrimSpace(cfg.Tracking.Transport))

	// Auth
	if cfg.Auth.TokenTTL == 0 {
		cfg.Auth.TokenTTL = 24 * time.Hour
	}

	// RabbitMQ
	if cfg.RabbitMQ.Exchange == "" {
		cfg.RabbitMQ.Exchange = "canteen_events"
	}
}

// deriveWSURL maps http(s)://host/api to ws(s)://host, the socket endpoint the
// backend serves next to its REST API.
func deriveWSURL(httpURL string) string {
	u, err := url.Parse(httpURL)
	if err != nil {
		return ""
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(strings.TrimSuffix(u.Path, "/"), "/api")
	u.RawQuery = ""
	return u.String()
}

func (c *Config) validate() error {
	var problems []string

	// Backend
	if err := checkURL(c.Backend.HTTPURL, "http", "https"); err != nil {
		problems = append(problems, "backend.http_url "+err.Error())
	}
	if err := checkURL(c.Backend.WSURL, "ws", "wss"); err != nil {
		problems = append(problems, "backend.ws_url "+err.Error())
	}
	if c.Backend.HTTPTimeout < 0 {
		problems = append(problems, "backend.http_timeout must be positive")
	}

	// Realtime
	if c.Realtime.ConnectTimeout < 0 {
		problems = append(problems, "realtime.connect_timeout must be positive")
	}
	if c.Realtime.ReconnectDelay < 0 || c.Realtime.MaxReconnectDelay < c.Realtime.ReconnectDelay {
		problems = append(problems, "realtime.max_reconnect_delay must be >= realtime.reconnect_delay")
	}
	if c.Realtime.MaxReconnectAttempts < 1 {
		problems = append(problems, "realtime.max_reconnect_attempts must be >= 1")
	}
	if c.Realtime.PongWait < time.Second {
		problems = append(problems, "realtime.pong_wait must be at least 1s")
	}

	// Tracking
	if c.Tracking.Interval < time.Second {
		problems = append(problems, "tracking.interval must be at least 1s")
	}
	if c.Tracking.Transport != TransportHTTP && c.Tracking.Transport != TransportChannel {
		problems = append(problems, "tracking.transport must be http or channel")
	}

	// Optional components
	if c.RabbitMQ.URL != "" {
		if err := checkURL(c.RabbitMQ.URL, "amqp", "amqps"); err != nil {
			problems = append(problems, "rabbitmq.url "+err.Error())
		}
	}
	if c.Database.URL != "" {
		if err := checkURL(c.Database.URL, "postgres", "postgresql"); err != nil {
			problems = append(problems, "database.url "+err.Error())
		}
	}
	if c.Redis.URL != "" {
		if err := checkURL(c.Redis.URL, "redis", "rediss"); err != nil {
			problems = append(problems, "redis.url "+err.Error())
		}
	}

	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}

func checkURL(raw string, schemes ...string) error {
	if strings.TrimSpace(raw) == "" {
		return errors.New("is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return errors.New("is not a valid URL")
	}
	for _, s := range schemes {
		if u.Scheme == s {
			if u.Host == "" {
				return errors.New("has no host")
			}
			return nil
		}
	}
	return fmt.Errorf("must use one of %s", strings.Join(schemes, ", "))
}
