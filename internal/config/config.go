package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// Config holds the complete application configuration.
type Config struct {
	ListenAddr string          `yaml:"listen_addr" env:"LISTEN_ADDR"`
	LogLevel   string          `yaml:"log_level" env:"LOG_LEVEL"`
	Logging    LoggingConfig   `yaml:"logging"`
	Database   DatabaseConfig  `yaml:"database"`
	Security   SecurityConfig  `yaml:"security"`
	S3         S3Config        `yaml:"s3"`
	Mail       MailConfig      `yaml:"mail"`
	CORS       CORSConfig      `yaml:"cors"`
	Audit      AuditConfig     `yaml:"audit"`
	TLS        TLSConfig       `yaml:"tls"`
	Server     ServerConfig    `yaml:"server"`
	RateLimit  RateLimitConfig `yaml:"rate_limit"`
	Tracing    TracingConfig   `yaml:"tracing"`
}

// LoggingConfig holds access log settings.
type LoggingConfig struct {
	AccessLogFormat string   `yaml:"access_log_format" env:"LOG_ACCESS_FORMAT"` // default, json, clf
	RedactHeaders   []string `yaml:"redact_headers" env:"LOG_REDACT_HEADERS"`
}

// DatabaseConfig holds the user store connection settings.
type DatabaseConfig struct {
	// Driver is "postgres" or "memory". The memory store is meant for local runs and tests.
	Driver         string `yaml:"driver" env:"DATABASE_DRIVER"`
	DSN            string `yaml:"dsn" env:"DATABASE_DSN"`
	MigrateOnStart bool   `yaml:"migrate_on_start" env:"DATABASE_MIGRATE_ON_START"`
}

// SecurityConfig holds secrets for sessions and credential encryption.
type SecurityConfig struct {
	JWTSecret        string        `yaml:"jwt_secret" env:"JWT_SECRET"`
	EncryptionSecret string        `yaml:"encryption_secret" env:"ENCRYPTION_SECRET"`
	CipherAlgorithm  string        `yaml:"cipher_algorithm" env:"CIPHER_ALGORITHM"` // AES256-GCM or ChaCha20-Poly1305
	SessionTTL       time.Duration `yaml:"session_ttl" env:"SESSION_TTL"`
	SecureCookies    bool          `yaml:"secure_cookies" env:"SECURE_COOKIES"`
	BcryptCost       int           `yaml:"bcrypt_cost" env:"BCRYPT_COST"`
}

// S3Config holds settings applied to every per-user S3 client.
type S3Config struct {
	// Endpoint overrides the AWS endpoint, for S3-compatible stores.
	Endpoint     string `yaml:"endpoint" env:"S3_ENDPOINT"`
	UsePathStyle bool   `yaml:"use_path_style" env:"S3_USE_PATH_STYLE"`
	// ChecksumWhenRequired turns off default request checksums for stores that reject them.
	ChecksumWhenRequired bool  `yaml:"checksum_when_required" env:"S3_CHECKSUM_WHEN_REQUIRED"`
	PageSize             int32 `yaml:"page_size" env:"S3_PAGE_SIZE"`
	ListMaxKeys          int   `yaml:"list_max_keys" env:"S3_LIST_MAX_KEYS"`
}

// MailConfig holds outbound email settings.
type MailConfig struct {
	Enabled     bool   `yaml:"enabled" env:"MAIL_ENABLED"`
	Host        string `yaml:"host" env:"SMTP_HOST"`
	Port        int    `yaml:"port" env:"SMTP_PORT"`
	Username    string `yaml:"username" env:"SMTP_USERNAME"`
	Password    string `yaml:"password" env:"SMTP_PASSWORD"`
	From        string `yaml:"from" env:"MAIL_FROM"`
	FrontendURL string `yaml:"frontend_url" env:"FRONTEND_URL"`
}

// CORSConfig holds cross-origin settings for the browser frontend.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins" env:"CORS_ALLOWED_ORIGINS"`
}

// TLSConfig holds TLS configuration.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled" env:"TLS_ENABLED"`
	CertFile string `yaml:"cert_file" env:"TLS_CERT_FILE"`
	KeyFile  string `yaml:"key_file" env:"TLS_KEY_FILE"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	ReadTimeout       time.Duration `yaml:"read_timeout" env:"SERVER_READ_TIMEOUT"`
	WriteTimeout      time.Duration `yaml:"write_timeout" env:"SERVER_WRITE_TIMEOUT"`
	IdleTimeout       time.Duration `yaml:"idle_timeout" env:"SERVER_IDLE_TIMEOUT"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" env:"SERVER_READ_HEADER_TIMEOUT"`
	MaxHeaderBytes    int           `yaml:"max_header_bytes" env:"SERVER_MAX_HEADER_BYTES"`
	MaxBodyBytes      int64         `yaml:"max_body_bytes" env:"SERVER_MAX_BODY_BYTES"`
	// TrustProxyHeaders takes the client IP from X-Forwarded-For / X-Real-IP.
	TrustProxyHeaders bool `yaml:"trust_proxy_headers" env:"SERVER_TRUST_PROXY_HEADERS"`
}

// RateLimitConfig holds rate limiting configuration for the three limiter classes.
type RateLimitConfig struct {
	Enabled bool          `yaml:"enabled" env:"RATE_LIMIT_ENABLED"`
	Window  time.Duration `yaml:"window" env:"RATE_LIMIT_WINDOW"`
	General int           `yaml:"general" env:"RATE_LIMIT_GENERAL"`
	Auth    int           `yaml:"auth" env:"RATE_LIMIT_AUTH"`
	S3      int           `yaml:"s3" env:"RATE_LIMIT_S3"`
}

// AuditConfig holds audit logging configuration.
type AuditConfig struct {
	Enabled   bool `yaml:"enabled" env:"AUDIT_ENABLED"`
	MaxEvents int  `yaml:"max_events" env:"AUDIT_MAX_EVENTS"` // Max events to keep in memory
}

// TracingConfig holds OpenTelemetry tracing configuration.
type TracingConfig struct {
	Enabled         bool    `yaml:"enabled" env:"TRACING_ENABLED"`
	ServiceName     string  `yaml:"service_name" env:"TRACING_SERVICE_NAME"`
	ServiceVersion  string  `yaml:"service_version" env:"TRACING_SERVICE_VERSION"`
	Exporter        string  `yaml:"exporter" env:"TRACING_EXPORTER"` // stdout, jaeger, otlp
	JaegerEndpoint  string  `yaml:"jaeger_endpoint" env:"TRACING_JAEGER_ENDPOINT"`
	OtlpEndpoint    string  `yaml:"otlp_endpoint" env:"TRACING_OTLP_ENDPOINT"`
	SamplingRatio   float64 `yaml:"sampling_ratio" env:"TRACING_SAMPLING_RATIO"`
	RedactSensitive bool    `yaml:"redact_sensitive" env:"TRACING_REDACT_SENSITIVE"`
}

// Default returns a configuration populated with defaults only.
func Default() *Config {
	return &Config{
		ListenAddr: ":8080",
		LogLevel:   "info",
		Logging: LoggingConfig{
			AccessLogFormat: "default",
			RedactHeaders:   []string{"authorization", "cookie", "set-cookie"},
		},
		Database: DatabaseConfig{
			Driver:         "postgres",
			MigrateOnStart: true,
		},
		Security: SecurityConfig{
			CipherAlgorithm: "AES256-GCM",
			SessionTTL:      24 * time.Hour,
			SecureCookies:   true,
			BcryptCost:      10,
		},
		S3: S3Config{
			PageSize:    1000,
			ListMaxKeys: 10000,
		},
		Mail: MailConfig{
			Port: 587,
		},
		Server: ServerConfig{
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      60 * time.Second,
			IdleTimeout:       60 * time.Second,
			ReadHeaderTimeout: 10 * time.Second,
			MaxHeaderBytes:    1 << 20, // 1MB
			MaxBodyBytes:      1 << 20,
		},
		RateLimit: RateLimitConfig{
			Enabled: true,
			Window:  time.Minute,
			General: 1000,
			Auth:    10,
			S3:      20,
		},
		Audit: AuditConfig{
			Enabled:   true,
			MaxEvents: 10000,
		},
		Tracing: TracingConfig{
			Enabled:         false,
			ServiceName:     "s3-console",
			ServiceVersion:  "dev",
			Exporter:        "stdout",
			SamplingRatio:   1.0,
			RedactSensitive: true,
		},
	}
}

// LoadConfig loads configuration from a file and environment variables.
func LoadConfig(path string) (*Config, error) {
	config := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if len(data) > 0 {
			if err := yaml.Unmarshal(data, config); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	loadFromEnv(config)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

func envBool(v string) bool {
	return v == "true" || v == "1"
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func envDuration(name string, dst *time.Duration) {
	if v := os.Getenv(name); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

func envPositiveInt(name string, dst *int) {
	if v := os.Getenv(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			*dst = n
		}
	}
}

// loadFromEnv loads configuration values from environment variables.
func loadFromEnv(config *Config) {
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		config.ListenAddr = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		config.LogLevel = v
	}
	if v := os.Getenv("LOG_ACCESS_FORMAT"); v != "" {
		config.Logging.AccessLogFormat = v
	}
	if v := os.Getenv("LOG_REDACT_HEADERS"); v != "" {
		config.Logging.RedactHeaders = splitList(v)
	}

	// Database
	if v := os.Getenv("DATABASE_DRIVER"); v != "" {
		config.Database.Driver = v
	}
	if v := os.Getenv("DATABASE_DSN"); v != "" {
		config.Database.DSN = v
	}
	if v := os.Getenv("DATABASE_MIGRATE_ON_START"); v != "" {
		config.Database.MigrateOnStart = envBool(v)
	}

	// Security
	if v := os.Getenv("JWT_SECRET"); v != "" {
		config.Security.JWTSecret = v
	}
	if v := os.Getenv("ENCRYPTION_SECRET"); v != "" {
		config.Security.EncryptionSecret = v
	}
	if v := os.Getenv("CIPHER_ALGORITHM"); v != "" {
		config.Security.CipherAlgorithm = v
	}
	envDuration("SESSION_TTL", &config.Security.SessionTTL)
	if v := os.Getenv("SECURE_COOKIES"); v != "" {
		config.Security.SecureCookies = envBool(v)
	}
	envPositiveInt("BCRYPT_COST", &config.Security.BcryptCost)

	// S3
	if v := os.Getenv("S3_ENDPOINT"); v != "" {
		config.S3.Endpoint = v
	}
	if v := os.Getenv("S3_USE_PATH_STYLE"); v != "" {
		config.S3.UsePathStyle = envBool(v)
	}
	if v := os.Getenv("S3_CHECKSUM_WHEN_REQUIRED"); v != "" {
		config.S3.ChecksumWhenRequired = envBool(v)
	}
	if v := os.Getenv("S3_PAGE_SIZE"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil && n > 0 {
			config.S3.PageSize = int32(n)
		}
	}
	envPositiveInt("S3_LIST_MAX_KEYS", &config.S3.ListMaxKeys)

	// Mail
	if v := os.Getenv("MAIL_ENABLED"); v != "" {
		config.Mail.Enabled = envBool(v)
	}
	if v := os.Getenv("SMTP_HOST"); v != "" {
		config.Mail.Host = v
	}
	envPositiveInt("SMTP_PORT", &config.Mail.Port)
	if v := os.Getenv("SMTP_USERNAME"); v != "" {
		config.Mail.Username = v
	}
	if v := os.Getenv("SMTP_PASSWORD"); v != "" {
		config.Mail.Password = v
	}
	if v := os.Getenv("MAIL_FROM"); v != "" {
		config.Mail.From = v
	}
	if v := os.Getenv("FRONTEND_URL"); v != "" {
		config.Mail.FrontendURL = v
	}

	// CORS
	if v := os.Getenv("CORS_ALLOWED_ORIGINS"); v != "" {
		config.CORS.AllowedOrigins = splitList(v)
	}

	// TLS
	if v := os.Getenv("TLS_ENABLED"); v != "" {
		config.TLS.Enabled = envBool(v)
	}
	if v := os.Getenv("TLS_CERT_FILE"); v != "" {
		config.TLS.CertFile = v
	}
	if v := os.Getenv("TLS_KEY_FILE"); v != "" {
		config.TLS.KeyFile = v
	}

	// Server timeouts
	envDuration("SERVER_READ_TIMEOUT", &config.Server.ReadTimeout)
	envDuration("SERVER_WRITE_TIMEOUT", &config.Server.WriteTimeout)
	envDuration("SERVER_IDLE_TIMEOUT", &config.Server.IdleTimeout)
	envDuration("SERVER_READ_HEADER_TIMEOUT", &config.Server.ReadHeaderTimeout)
	envPositiveInt("SERVER_MAX_HEADER_BYTES", &config.Server.MaxHeaderBytes)
	if v := os.Getenv("SERVER_MAX_BODY_BYTES"); v != "" {
		// Accepts plain byte counts as well as sizes like "2MB" or "512KiB".
		if n, err := humanize.ParseBytes(v); err == nil && n > 0 {
			config.Server.MaxBodyBytes = int64(n)
		}
	}
	if v := os.Getenv("SERVER_TRUST_PROXY_HEADERS"); v != "" {
		config.Server.TrustProxyHeaders = envBool(v)
	}

	// Rate limiting
	if v := os.Getenv("RATE_LIMIT_ENABLED"); v != "" {
		config.RateLimit.Enabled = envBool(v)
	}
	envDuration("RATE_LIMIT_WINDOW", &config.RateLimit.Window)
	envPositiveInt("RATE_LIMIT_GENERAL", &config.RateLimit.General)
	envPositiveInt("RATE_LIMIT_AUTH", &config.RateLimit.Auth)
	envPositiveInt("RATE_LIMIT_S3", &config.RateLimit.S3)

	// Audit
	if v := os.Getenv("AUDIT_ENABLED"); v != "" {
		config.Audit.Enabled = envBool(v)
	}
	envPositiveInt("AUDIT_MAX_EVENTS", &config.Audit.MaxEvents)

	// Tracing
	if v := os.Getenv("TRACING_ENABLED"); v != "" {
		config.Tracing.Enabled = envBool(v)
	}
	if v := os.Getenv("TRACING_SERVICE_NAME"); v != "" {
		config.Tracing.ServiceName = v
	}
	if v := os.Getenv("TRACING_SERVICE_VERSION"); v != "" {
		config.Tracing.ServiceVersion = v
	}
	if v := os.Getenv("TRACING_EXPORTER"); v != "" {
		config.Tracing.Exporter = v
	}
	if v := os.Getenv("TRACING_JAEGER_ENDPOINT"); v != "" {
		config.Tracing.JaegerEndpoint = v
	}
	if v := os.Getenv("TRACING_OTLP_ENDPOINT"); v != "" {
		config.Tracing.OtlpEndpoint = v
	}
	if v := os.Getenv("TRACING_SAMPLING_RATIO"); v != "" {
		if ratio, err := strconv.ParseFloat(v, 64); err == nil && ratio >= 0.0 && ratio <= 1.0 {
			config.Tracing.SamplingRatio = ratio
		}
	}
	if v := os.Getenv("TRACING_REDACT_SENSITIVE"); v != "" {
		config.Tracing.RedactSensitive = envBool(v)
	}
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr is required")
	}

	if c.LogLevel != "" {
		validLevels := map[string]bool{
			"debug": true,
			"info":  true,
			"warn":  true,
			"error": true,
		}
		if !validLevels[c.LogLevel] {
			return fmt.Errorf("invalid log_level: %s (must be debug, info, warn, or error)", c.LogLevel)
		}
	}

	switch c.Logging.AccessLogFormat {
	case "", "default", "json", "clf":
	default:
		return fmt.Errorf("invalid logging.access_log_format: %s (must be default, json, or clf)", c.Logging.AccessLogFormat)
	}

	switch c.Database.Driver {
	case "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required when database.driver is postgres")
		}
	case "memory":
	default:
		return fmt.Errorf("invalid database.driver: %s (must be postgres or memory)", c.Database.Driver)
	}

	if c.Security.JWTSecret == "" {
		return fmt.Errorf("security.jwt_secret is required")
	}
	if c.Security.EncryptionSecret == "" {
		return fmt.Errorf("security.encryption_secret is required")
	}
	switch c.Security.CipherAlgorithm {
	case "AES256-GCM", "ChaCha20-Poly1305":
	default:
		return fmt.Errorf("invalid security.cipher_algorithm: %s", c.Security.CipherAlgorithm)
	}
	if c.Security.SessionTTL <= 0 {
		return fmt.Errorf("security.session_ttl must be positive")
	}
	if c.Security.BcryptCost < 4 || c.Security.BcryptCost > 31 {
		return fmt.Errorf("security.bcrypt_cost must be between 4 and 31")
	}

	if c.S3.PageSize <= 0 || c.S3.PageSize > 1000 {
		return fmt.Errorf("s3.page_size must be between 1 and 1000")
	}

	if c.Mail.Enabled {
		if c.Mail.Host == "" {
			return fmt.Errorf("mail.host is required when mail is enabled")
		}
		if c.Mail.From == "" {
			return fmt.Errorf("mail.from is required when mail is enabled")
		}
	}

	if c.RateLimit.Enabled {
		if c.RateLimit.Window <= 0 {
			return fmt.Errorf("rate_limit.window must be positive when rate limiting is enabled")
		}
		if c.RateLimit.General <= 0 || c.RateLimit.Auth <= 0 || c.RateLimit.S3 <= 0 {
			return fmt.Errorf("rate_limit limits must be positive when rate limiting is enabled")
		}
	}

	if c.TLS.Enabled {
		if c.TLS.CertFile == "" {
			return fmt.Errorf("tls.cert_file is required when TLS is enabled")
		}
		if c.TLS.KeyFile == "" {
			return fmt.Errorf("tls.key_file is required when TLS is enabled")
		}
	}

	if c.Tracing.Enabled {
		if c.Tracing.ServiceName == "" {
			return fmt.Errorf("tracing.service_name is required when tracing is enabled")
		}
		validExporters := map[string]bool{
			"stdout": true,
			"jaeger": true,
			"otlp":   true,
		}
		if !validExporters[c.Tracing.Exporter] {
			return fmt.Errorf("invalid tracing.exporter: %s (must be stdout, jaeger, or otlp)", c.Tracing.Exporter)
		}
		if c.Tracing.SamplingRatio < 0.0 || c.Tracing.SamplingRatio > 1.0 {
			return fmt.Errorf("tracing.sampling_ratio must be between 0.0 and 1.0")
		}
		if c.Tracing.Exporter == "jaeger" && c.Tracing.JaegerEndpoint == "" {
			return fmt.Errorf("tracing.jaeger_endpoint is required when exporter is jaeger")
		}
		if c.Tracing.Exporter == "otlp" && c.Tracing.OtlpEndpoint == "" {
			return fmt.Errorf("tracing.otlp_endpoint is required when exporter is otlp")
		}
	}

	return nil
}
