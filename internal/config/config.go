// config предоставляет структуру конфигурации сервиса и функции
// загрузки из файла/переменных окружения с предсказуемым приоритетом.
package config

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

// Драйверы хранилища учётных записей и сессий.
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config - корневая конфигурация сервиса.
// Источники значений (по убыванию приоритета):
//  1. явный путь через флаг --config;
//  2. путь в переменной окружения CONFIG_PATH;
//  3. файл local.yaml из рабочей директории;
//  4. переменные окружения (cleanenv), в т.ч. из файла .env.
type Config struct {
	Env       string          `yaml:"env" env:"ENV" env-default:"local"`
	HTTP      HTTPConfig      `yaml:"http"`
	Auth      AuthConfig      `yaml:"auth"`
	DB        DBConfig        `yaml:"db"`
	Redis     RedisConfig     `yaml:"redis"`
	Codes     CodesConfig     `yaml:"codes"`
	Mail      MailConfig      `yaml:"mail"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	CORS      CORSConfig      `yaml:"cors"`
	Timeouts  TimeoutConfig   `yaml:"timeouts"`
	Janitor   JanitorConfig   `yaml:"janitor"`
}

// HTTPConfig - сетевые настройки HTTP-сервера.
type HTTPConfig struct {
	Host     string `yaml:"host" env:"HTTP_HOST" env-default:"0.0.0.0"`
	Port     string `yaml:"port" env:"HTTP_PORT" env-default:"8080"`
	BasePath string `yaml:"base_path" env:"HTTP_BASE_PATH" env-default:"/api"`

	// TrustedProxies - подсети (CIDR или отдельные адреса) обратных прокси.
	// Заголовки X-Forwarded-For/X-Real-IP учитываются только от них.
	TrustedProxies []string `yaml:"trusted_proxies" env:"HTTP_TRUSTED_PROXIES"`
}

// Addr возвращает адрес в формате host:port.
func (h HTTPConfig) Addr() string {
	return net.JoinHostPort(h.Host, h.Port)
}

// TrustedPrefixes разбирает TrustedProxies. Адрес без маски считается /32 (/128).
func (h HTTPConfig) TrustedPrefixes() ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(h.TrustedProxies))
	for _, raw := range h.TrustedProxies {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}

		if !strings.Contains(raw, "/") {
			addr, err := netip.ParseAddr(raw)
			if err != nil {
				return nil, fmt.Errorf("invalid http.trusted_proxies entry %q: %w", raw, err)
			}
			out = append(out, netip.PrefixFrom(addr.Unmap(), addr.Unmap().BitLen()))
			continue
		}

		p, err := netip.ParsePrefix(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid http.trusted_proxies entry %q: %w", raw, err)
		}
		out = append(out, p.Masked())
	}

	return out, nil
}

// AuthConfig содержит параметры выпуска/валидации токенов и политики сессий.
type AuthConfig struct {
	JWTSecret       string        `yaml:"jwt_secret" env:"JWT_SECRET" env-required:"true"`
	AccessTokenTTL  time.Duration `yaml:"access_token_ttl" env:"ACCESS_TOKEN_TTL" env-default:"15m"`
	RefreshTokenTTL time.Duration `yaml:"refresh_token_ttl" env:"REFRESH_TOKEN_TTL" env-default:"720h"`
	SessionTTL      time.Duration `yaml:"session_ttl" env:"SESSION_TTL" env-default:"720h"`
	Issuer          string        `yaml:"issuer" env:"ISSUER" env-default:"exam-auth"`
	Audience        []string      `yaml:"audience" env:"AUDIENCE" env-default:"exam-web"`
	BcryptCost      int           `yaml:"bcrypt_cost" env:"BCRYPT_COST" env-default:"10"`
	// ResetRequiresCode - сброс пароля разрешён только после подтверждённого OTP.
	ResetRequiresCode bool `yaml:"reset_requires_code" env:"RESET_REQUIRES_CODE" env-default:"true"`
	// ResetRevokesSessions - после сброса пароля удалить все сессии пользователя.
	ResetRevokesSessions bool `yaml:"reset_revokes_sessions" env:"RESET_REVOKES_SESSIONS" env-default:"false"`
}

// DBConfig - настройки подключения к базе данных.
type DBConfig struct {
	Driver      string `yaml:"driver" env:"DB_DRIVER" env-default:"postgres"`
	DatabaseURL string `yaml:"db_url" env:"DATABASE_URL"`
}

// RedisConfig - опциональный Redis для кодов и лимитера.
// Пустой URL означает хранение в памяти процесса (один инстанс).
type RedisConfig struct {
	RedisURL string `yaml:"redis_url" env:"REDIS_URL"`
	Prefix   string `yaml:"prefix" env:"REDIS_PREFIX" env-default:"exam:"`
}

// CodePurposeConfig - параметры одного вида одноразовых кодов.
type CodePurposeConfig struct {
	TTL      time.Duration `yaml:"ttl" env:"TTL"`
	Cooldown time.Duration `yaml:"cooldown" env:"COOLDOWN"`
}

// CodesConfig - параметры хранилища одноразовых кодов.
type CodesConfig struct {
	OTP          CodePurposeConfig `yaml:"otp" env-prefix:"CODES_OTP_"`
	Verification CodePurposeConfig `yaml:"verification" env-prefix:"CODES_VERIFICATION_"`
	MaxAttempts  int               `yaml:"max_attempts" env:"CODES_MAX_ATTEMPTS" env-default:"3"`
	Grace        time.Duration     `yaml:"grace" env:"CODES_GRACE" env-default:"60s"`
	HashCost     int               `yaml:"hash_cost" env:"CODES_HASH_COST" env-default:"10"`
}

// MailConfig - SMTP-параметры. Пустой Host - письма не отправляются, только логируются.
type MailConfig struct {
	Host               string `yaml:"host" env:"SMTP_HOST"`
	Port               string `yaml:"port" env:"SMTP_PORT" env-default:"587"`
	Username           string `yaml:"username" env:"SMTP_USERNAME"`
	Password           string `yaml:"password" env:"SMTP_PASSWORD"`
	From               string `yaml:"from" env:"SMTP_FROM" env-default:"DMLT Academy <no-reply@dmlt.academy>"`
	Connections        int    `yaml:"connections" env:"SMTP_CONNECTIONS" env-default:"2"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify" env:"SMTP_INSECURE_SKIP_VERIFY" env-default:"false"`
	Brand              string `yaml:"brand" env:"MAIL_BRAND" env-default:"DMLT Academy"`
}

// Addr возвращает адрес SMTP-сервера в формате host:port.
func (m MailConfig) Addr() string {
	return net.JoinHostPort(m.Host, m.Port)
}

// LimitConfig - скользящее окно: не более Limit запросов за Window.
type LimitConfig struct {
	Limit  int           `yaml:"limit" env:"LIMIT"`
	Window time.Duration `yaml:"window" env:"WINDOW"`
}

// RateLimitConfig - лимиты по клиенту для чувствительных эндпоинтов.
type RateLimitConfig struct {
	Auth  LimitConfig `yaml:"auth" env-prefix:"RATE_AUTH_"`
	Codes LimitConfig `yaml:"codes" env-prefix:"RATE_CODES_"`
}

// CORSConfig - разрешённые источники браузерного клиента.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins" env:"CORS_ALLOWED_ORIGINS" env-default:"http://localhost:5173"`
}

// TimeoutConfig - таймауты сервиса.
type TimeoutConfig struct {
	Request time.Duration `yaml:"request" env:"REQUEST_TIMEOUT" env-default:"10s"`
	Mail    time.Duration `yaml:"mail" env:"MAIL_TIMEOUT" env-default:"15s"`
}

// JanitorConfig - период фоновой очистки просроченных сессий (0 - выключено).
type JanitorConfig struct {
	Period time.Duration `yaml:"period" env:"JANITOR_PERIOD" env-default:"30m"`
}

// MustLoad - обёртка над Load с panic при ошибке.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}

	return cfg
}

// Load загружает конфигурацию по приоритету:
// 1) явный путь; 2) CONFIG_PATH; 3) ./local.yaml; 4) ENV.
// Перед чтением ENV подгружается .env из рабочей директории (если есть);
// уже выставленные переменные окружения им не перетираются.
// После чтения файла ENV-переменные накладываются поверх значений из YAML.
func Load(path string) (*Config, error) {
	var cfg Config

	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			return nil, fmt.Errorf("failed to load .env: %w", err)
		}
	}

	tryRead := func(p string) (*Config, error) {
		if p == "" {
			return nil, fmt.Errorf("empty config path")
		}

		if _, err := os.Stat(p); err != nil {
			return nil, fmt.Errorf("config file does not exist: %s", p)
		}

		if err := cleanenv.ReadConfig(p, &cfg); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}

		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return nil, fmt.Errorf("failed to overlay env: %w", err)
		}

		return finalize(&cfg)
	}

	// 1) Явный путь.
	if path != "" {
		return tryRead(path)
	}

	// 2) CONFIG_PATH.
	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		return tryRead(envPath)
	}

	// 3) ./local.yaml.
	if _, err := os.Stat("local.yaml"); err == nil {
		return tryRead("local.yaml")
	}

	// 4) Только ENV.
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("config not found: provide --config, CONFIG_PATH, local.yaml or env vars: %w", err)
	}

	return finalize(&cfg)
}

// finalize проставляет значения по умолчанию для вложенных секций без env-тегов
// и проверяет согласованность конфигурации.
func finalize(cfg *Config) (*Config, error) {
	setDuration(&cfg.Codes.OTP.TTL, 5*time.Minute)
	setDuration(&cfg.Codes.OTP.Cooldown, 30*time.Second)
	setDuration(&cfg.Codes.Verification.TTL, 10*time.Minute)
	setDuration(&cfg.Codes.Verification.Cooldown, 60*time.Second)

	setLimit(&cfg.RateLimit.Auth, 10, 15*time.Minute)
	setLimit(&cfg.RateLimit.Codes, 5, 15*time.Minute)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate проверяет комбинации параметров, которые нельзя выразить тегами.
func (c *Config) Validate() error {
	switch c.DB.Driver {
	case DriverPostgres:
		if c.DB.DatabaseURL == "" {
			return errors.New("invalid config: db.db_url is required for postgres driver")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("invalid config: unknown db.driver %q", c.DB.Driver)
	}

	if c.Auth.AccessTokenTTL <= 0 || c.Auth.RefreshTokenTTL <= 0 || c.Auth.SessionTTL <= 0 {
		return errors.New("invalid config: token and session TTLs must be positive")
	}

	if c.Codes.MaxAttempts <= 0 {
		return errors.New("invalid config: codes.max_attempts must be positive")
	}

	if _, err := c.HTTP.TrustedPrefixes(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	return nil
}

func setDuration(d *time.Duration, def time.Duration) {
	if *d <= 0 {
		*d = def
	}
}

func setLimit(l *LimitConfig, limit int, window time.Duration) {
	if l.Limit <= 0 {
		l.Limit = limit
	}

	if l.Window <= 0 {
		l.Window = window
	}
}
