package app

import (
	"fmt"
	"strings"
	"time"

	"orderdesk/cmd/internal/magiclink"
	"orderdesk/cmd/internal/storage/pgschema"

	"github.com/caarlos0/env/v11"
)

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr  string `env:"ORDERDESK_HTTP_ADDR" envDefault:"0.0.0.0:8080"`
	LogLevel  string `env:"ORDERDESK_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"ORDERDESK_LOG_FORMAT" envDefault:"json"`

	ReadHeaderTimeout time.Duration `env:"ORDERDESK_HTTP_READ_HEADER_TIMEOUT" envDefault:"5s"`
	ReadTimeout       time.Duration `env:"ORDERDESK_HTTP_READ_TIMEOUT" envDefault:"15s"`
	WriteTimeout      time.Duration `env:"ORDERDESK_HTTP_WRITE_TIMEOUT" envDefault:"15s"`
	IdleTimeout       time.Duration `env:"ORDERDESK_HTTP_IDLE_TIMEOUT" envDefault:"60s"`
	ShutdownTimeout   time.Duration `env:"ORDERDESK_HTTP_SHUTDOWN_TIMEOUT" envDefault:"10s"`
	MaxHeaderBytes    int           `env:"ORDERDESK_HTTP_MAX_HEADER_BYTES" envDefault:"1048576"`
	MaxBodyBytes      int64         `env:"ORDERDESK_MAX_BODY_BYTES" envDefault:"131072"`

	// MagicRateLimit caps /magic requests per client address per MagicRateWindow. Zero disables it.
	MagicRateLimit  int           `env:"ORDERDESK_MAGIC_RATE_LIMIT" envDefault:"60"`
	MagicRateWindow time.Duration `env:"ORDERDESK_MAGIC_RATE_WINDOW" envDefault:"1m"`

	// TrustProxyHeaders takes the client address from X-Forwarded-For / X-Real-IP.
	// Only enable behind a proxy that overwrites those headers.
	TrustProxyHeaders bool `env:"ORDERDESK_TRUST_PROXY_HEADERS" envDefault:"false"`

	// DatabaseURL selects Postgres. When empty the SQLite store at SQLitePath is used.
	DatabaseURL   string `env:"ORDERDESK_DATABASE_URL"`
	DBMaxConns    int32  `env:"ORDERDESK_DB_MAX_CONNS" envDefault:"10"`
	DBMinConns    int32  `env:"ORDERDESK_DB_MIN_CONNS" envDefault:"0"`
	DBSchema      string `env:"ORDERDESK_DB_SCHEMA" envDefault:"orderdesk"`
	DBAutoMigrate bool   `env:"ORDERDESK_DB_AUTO_MIGRATE" envDefault:"false"`
	SQLitePath    string `env:"ORDERDESK_SQLITE_PATH" envDefault:"data/orderdesk.db"`

	ReadinessTimeout time.Duration `env:"ORDERDESK_READINESS_TIMEOUT" envDefault:"2s"`

	PublicBaseURL string        `env:"ORDERDESK_PUBLIC_BASE_URL" envDefault:"http://localhost:8080"`
	LinkTTL       time.Duration `env:"ORDERDESK_LINK_TTL" envDefault:"168h"`

	// Security policy: if RequireTokenPepper is set, TokenPepper MUST be at least 32 bytes.
	TokenPepper        string `env:"ORDERDESK_TOKEN_PEPPER"`
	RequireTokenPepper bool   `env:"ORDERDESK_REQUIRE_TOKEN_PEPPER" envDefault:"false"`

	StaffJWTSecret   string `env:"ORDERDESK_STAFF_JWT_SECRET"`
	StaffJWTIssuer   string `env:"ORDERDESK_STAFF_JWT_ISSUER" envDefault:"orderdesk"`
	StaffJWTAudience string `env:"ORDERDESK_STAFF_JWT_AUDIENCE" envDefault:"orderdesk-staff"`

	AuditWriteTimeout time.Duration `env:"ORDERDESK_AUDIT_WRITE_TIMEOUT" envDefault:"5s"`

	FeedAllowedOrigins []string `env:"ORDERDESK_FEED_ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost,http://127.0.0.1"`
	FeedOriginRequired bool     `env:"ORDERDESK_FEED_ORIGIN_REQUIRED" envDefault:"false"`
}

// LoadConfig parses the environment and clamps values to sane ranges.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	c.HTTPAddr = strings.TrimSpace(c.HTTPAddr)
	c.LogFormat = strings.ToLower(strings.TrimSpace(c.LogFormat))
	c.DatabaseURL = strings.TrimSpace(c.DatabaseURL)
	c.SQLitePath = strings.TrimSpace(c.SQLitePath)
	c.DBSchema = strings.TrimSpace(c.DBSchema)
	if c.DBSchema == "" {
		c.DBSchema = pgschema.DefaultSchema
	}
	c.PublicBaseURL = strings.TrimRight(strings.TrimSpace(c.PublicBaseURL), "/")

	if c.LinkTTL <= 0 {
		c.LinkTTL = magiclink.DefaultTTL
	}
	if c.LinkTTL > magiclink.MaxTTL {
		c.LinkTTL = magiclink.MaxTTL
	}
	if c.DBMaxConns <= 0 {
		c.DBMaxConns = 10
	}
	if c.DBMinConns < 0 || c.DBMinConns > c.DBMaxConns {
		c.DBMinConns = 0
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = 128 << 10
	}
	if c.AuditWriteTimeout <= 0 {
		c.AuditWriteTimeout = 5 * time.Second
	}
	if c.MagicRateLimit < 0 {
		c.MagicRateLimit = 0
	}
	if c.MagicRateWindow <= 0 {
		c.MagicRateWindow = time.Minute
	}
	if c.ReadinessTimeout <= 0 {
		c.ReadinessTimeout = 2 * time.Second
	}
}

func (c Config) validate() error {
	if c.HTTPAddr == "" {
		return fmt.Errorf("ORDERDESK_HTTP_ADDR is required")
	}
	if c.DatabaseURL == "" && c.SQLitePath == "" {
		return fmt.Errorf("ORDERDESK_DATABASE_URL or ORDERDESK_SQLITE_PATH is required")
	}
	if !pgschema.ValidSchema(c.DBSchema) {
		return fmt.Errorf("ORDERDESK_DB_SCHEMA %q is not a valid identifier", c.DBSchema)
	}
	switch c.LogFormat {
	case "json", "pretty":
	default:
		return fmt.Errorf("ORDERDESK_LOG_FORMAT must be json or pretty, got %q", c.LogFormat)
	}
	return nil
}
