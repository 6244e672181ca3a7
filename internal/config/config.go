// config предоставляет структуру конфигурации сервиса и функции
// загрузки из файла/переменных окружения с предсказуемым приоритетом.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config — корневая конфигурация сервиса.
// Источники значений (по убыванию приоритета):
//  1. явный путь через флаг --config;
//  2. путь в переменной окружения CONFIG_PATH;
//  3. файл local.yaml из рабочей директории;
//  4. переменные окружения (cleanenv).
//
// Переменные окружения всегда накладываются поверх значений из YAML.
type Config struct {
	Env       string          `yaml:"env" env:"ENV" env-default:"local"`
	HTTP      HTTPConfig      `yaml:"http"`
	GRPC      GRPCConfig      `yaml:"grpc"`
	Auth      AuthConfig      `yaml:"auth"`
	DB        DBConfig        `yaml:"db"`
	Redis     RedisConfig     `yaml:"redis"`
	History   HistoryConfig   `yaml:"history"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Supabase  SupabaseConfig  `yaml:"supabase"`
	Google    GoogleConfig    `yaml:"google"`
	AI        AIConfig        `yaml:"ai"`
	S3        S3Config        `yaml:"s3"`
	Stripe    StripeConfig    `yaml:"stripe"`
	CORS      CORSConfig      `yaml:"cors"`
	Timeouts  TimeoutConfig   `yaml:"timeouts"`
}

// TimeoutConfig — таймауты сервиса.
type TimeoutConfig struct {
	// Service — общий дедлайн HTTP-запроса (и unary gRPC-вызова).
	Service time.Duration `yaml:"service" env:"SERVICE_TIMEOUT" env-default:"30s"`
	// Store — дедлайн одного обращения к Redis из лимитера.
	Store time.Duration `yaml:"store" env:"STORE_TIMEOUT" env-default:"200ms"`
}

// HTTPConfig — сетевые настройки HTTP-сервера.
type HTTPConfig struct {
	Host string `yaml:"host" env:"HTTP_HOST" env-default:"0.0.0.0"`
	Port string `yaml:"port" env:"HTTP_PORT" env-default:"8000"`
	// TrustProxy — доверять X-Forwarded-For при определении IP клиента.
	TrustProxy bool `yaml:"trust_proxy" env:"HTTP_TRUST_PROXY" env-default:"false"`
}

// GRPCConfig — порт gRPC health-сервиса для оркестратора.
type GRPCConfig struct {
	Host string `yaml:"host" env:"GRPC_HOST" env-default:"0.0.0.0"`
	Port string `yaml:"port" env:"GRPC_PORT" env-default:"50051"`
}

// Addr возвращает адрес в формате host:port.
func (c HTTPConfig) Addr() string {
	return net.JoinHostPort(c.Host, c.Port)
}

// Addr возвращает адрес в формате host:port.
func (c GRPCConfig) Addr() string {
	return net.JoinHostPort(c.Host, c.Port)
}

// AuthConfig содержит параметры выпуска и валидации собственных токенов.
type AuthConfig struct {
	JWTSecret       string        `yaml:"jwt_secret" env:"JWT_SECRET_KEY" env-required:"true"`
	AccessTokenTTL  time.Duration `yaml:"access_token_ttl" env:"ACCESS_TOKEN_TTL" env-default:"30m"`
	RefreshTokenTTL time.Duration `yaml:"refresh_token_ttl" env:"REFRESH_TOKEN_TTL" env-default:"168h"`
	Audience        string        `yaml:"audience" env:"JWT_AUDIENCE" env-default:"command-my-startup"`
	// Leeway — допуск на расхождение часов при проверке exp.
	Leeway time.Duration `yaml:"leeway" env:"JWT_LEEWAY" env-default:"0s"`
	// CookieSecure выставляет флаг Secure на cookie access_token/refresh_token.
	CookieSecure bool   `yaml:"cookie_secure" env:"AUTH_COOKIE_SECURE" env-default:"true"`
	CookieDomain string `yaml:"cookie_domain" env:"AUTH_COOKIE_DOMAIN"`
}

// DBConfig — настройки подключения к PostgreSQL.
type DBConfig struct {
	DatabaseURL string `yaml:"db_url" env:"DATABASE_URL" env-required:"true"`
	// Migrate — применять goose-миграции при старте.
	Migrate bool `yaml:"migrate" env:"DB_MIGRATE" env-default:"true"`
}

// RedisConfig — общий Redis (счётчики лимитера, denylist refresh-токенов).
// Пустой URL допустим: тогда лимитер работает только на in-process таблице.
type RedisConfig struct {
	RedisURL string `yaml:"redis_url" env:"REDIS_URL"`
	Prefix   string `yaml:"prefix" env:"REDIS_PREFIX" env-default:"cms:"`
}

// HistoryConfig выбирает хранилище истории команд.
type HistoryConfig struct {
	// Driver — "postgres" (по умолчанию) или "mongo".
	Driver   string `yaml:"driver" env:"HISTORY_DRIVER" env-default:"postgres"`
	MongoURL string `yaml:"mongo_url" env:"HISTORY_MONGO_URL"`
}

// RateLimitConfig — параметры фиксированного окна и классов маршрутов.
type RateLimitConfig struct {
	Enabled bool          `yaml:"enabled" env:"RATE_LIMIT_ENABLED" env-default:"true"`
	Window  time.Duration `yaml:"window" env:"RATE_LIMIT_WINDOW" env-default:"60s"`

	AuthLimit     int `yaml:"auth_limit" env:"RATE_LIMIT_AUTH" env-default:"20"`
	CommandsLimit int `yaml:"commands_limit" env:"RATE_LIMIT_COMMANDS" env-default:"30"`
	GeneralLimit  int `yaml:"general_limit" env:"RATE_LIMIT_GENERAL" env-default:"60"`

	AuthenticatedMultiplier int `yaml:"authenticated_multiplier" env:"RATE_LIMIT_AUTHENTICATED_MULTIPLIER" env-default:"2"`
	APIKeyMultiplier        int `yaml:"api_key_multiplier" env:"RATE_LIMIT_API_KEY_MULTIPLIER" env-default:"3"`

	// FallbackMaxEntries — верхняя граница in-process таблицы окон.
	FallbackMaxEntries int           `yaml:"fallback_max_entries" env:"RATE_LIMIT_FALLBACK_MAX_ENTRIES" env-default:"100000"`
	FallbackSweep      time.Duration `yaml:"fallback_sweep" env:"RATE_LIMIT_FALLBACK_SWEEP" env-default:"30s"`
	// RecordStats — писать allowed/denied счётчики в Redis.
	RecordStats bool `yaml:"record_stats" env:"RATE_LIMIT_RECORD_STATS" env-default:"false"`
}

// SupabaseConfig — внешний провайдер аутентификации.
// JWKSURL включает локальную проверку по ключам провайдера,
// URL+AnonKey — удалённый запрос /auth/v1/user.
type SupabaseConfig struct {
	URL         string        `yaml:"url" env:"SUPABASE_URL"`
	AnonKey     string        `yaml:"anon_key" env:"SUPABASE_KEY"`
	JWKSURL     string        `yaml:"jwks_url" env:"SUPABASE_JWKS_URL"`
	Issuer      string        `yaml:"issuer" env:"SUPABASE_ISSUER"`
	Audience    string        `yaml:"audience" env:"SUPABASE_AUDIENCE" env-default:"authenticated"`
	MinRefresh  time.Duration `yaml:"min_refresh" env:"SUPABASE_JWKS_MIN_REFRESH" env-default:"15m"`
	HTTPTimeout time.Duration `yaml:"http_timeout" env:"SUPABASE_HTTP_TIMEOUT" env-default:"5s"`
}

// GoogleConfig — приём Google ID-токенов; пустой ClientID выключает стратегию.
type GoogleConfig struct {
	ClientID string `yaml:"client_id" env:"GOOGLE_CLIENT_ID"`
}

// AIConfig — ключи и адреса AI-провайдеров.
// Пустой ключ переключает провайдера на mock-ответы.
type AIConfig struct {
	OpenAIKey        string        `yaml:"openai_api_key" env:"OPENAI_API_KEY"`
	OpenAIBaseURL    string        `yaml:"openai_base_url" env:"OPENAI_BASE_URL" env-default:"https://api.openai.com/v1"`
	AnthropicKey     string        `yaml:"anthropic_api_key" env:"ANTHROPIC_API_KEY"`
	AnthropicBaseURL string        `yaml:"anthropic_base_url" env:"ANTHROPIC_BASE_URL" env-default:"https://api.anthropic.com/v1"`
	Timeout          time.Duration `yaml:"timeout" env:"AI_TIMEOUT" env-default:"60s"`
	// RPS/Burst — исходящий лимит на одного провайдера.
	RPS   float64 `yaml:"rps" env:"AI_RPS" env-default:"5"`
	Burst int     `yaml:"burst" env:"AI_BURST" env-default:"10"`
}

// S3Config — MinIO/S3 для аватаров. Пустой Endpoint выключает аватары.
type S3Config struct {
	Endpoint     string        `yaml:"endpoint" env:"S3_ENDPOINT"`
	RootUser     string        `yaml:"root_user" env:"S3_ACCESS_KEY"`
	RootPassword string        `yaml:"root_password" env:"S3_SECRET_KEY"`
	Bucket       string        `yaml:"bucket" env:"S3_BUCKET" env-default:"avatars"`
	PresignTTL   time.Duration `yaml:"presign_ttl" env:"S3_PRESIGN_TTL" env-default:"15m"`
	MaxSize      int64         `yaml:"max_size" env:"S3_MAX_SIZE" env-default:"5242880"`
}

// StripeConfig — биллинг. Пустой APIKey выключает создание клиентов.
type StripeConfig struct {
	APIKey        string `yaml:"api_key" env:"STRIPE_API_KEY"`
	WebhookSecret string `yaml:"webhook_secret" env:"STRIPE_WEBHOOK_SECRET"`
}

// CORSConfig — разрешённые источники фронтенда.
type CORSConfig struct {
	Origins []string `yaml:"origins" env:"CORS_ORIGINS" env-default:"http://localhost:3000"`
}

// MustLoad — обёртка над Load с panic при ошибке.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}

	return cfg
}

// Load загружает конфигурацию по приоритету:
// 1) явный путь; 2) CONFIG_PATH; 3) ./local.yaml; 4) ENV.
func Load(path string) (*Config, error) {
	var cfg Config

	readFile := func(p string) (*Config, error) {
		if _, err := os.Stat(p); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("config file does not exist: %s", p)
			}

			return nil, fmt.Errorf("config file %q stat failed: %w", p, err)
		}

		// ReadConfig читает YAML и сразу накладывает ENV.
		if err := cleanenv.ReadConfig(p, &cfg); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}

		if err := cfg.validate(); err != nil {
			return nil, err
		}

		return &cfg, nil
	}

	if path != "" {
		return readFile(path)
	}

	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		return readFile(envPath)
	}

	if _, err := os.Stat("local.yaml"); err == nil {
		return readFile("local.yaml")
	}

	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("config not found: provide --config, CONFIG_PATH, local.yaml or env vars: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// validate проверяет инварианты, которые не выражаются тегами cleanenv.
func (c *Config) validate() error {
	switch c.History.Driver {
	case "postgres":
	case "mongo":
		if c.History.MongoURL == "" {
			return fmt.Errorf("history.mongo_url is required for driver %q", c.History.Driver)
		}
	default:
		return fmt.Errorf("unknown history driver %q", c.History.Driver)
	}

	if c.RateLimit.Window < time.Second {
		return fmt.Errorf("rate_limit.window must be at least 1s, got %s", c.RateLimit.Window)
	}

	if c.Auth.AccessTokenTTL < time.Second || c.Auth.RefreshTokenTTL < time.Second {
		return fmt.Errorf("auth token ttl must be at least 1s")
	}

	return nil
}
