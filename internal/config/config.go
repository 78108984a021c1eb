// Package config provides configuration management for BunBase.
package config

import "time"

// Config is the root configuration structure for BunBase.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Realtime RealtimeConfig `mapstructure:"realtime"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Dev      DevConfig      `mapstructure:"dev"`
	Admin    AdminConfig    `mapstructure:"admin"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`

	CORS CORSConfig `mapstructure:"cors"`

	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`

	// MaxBodySize is the maximum request body size in bytes.
	MaxBodySize int64 `mapstructure:"max_body_size"`
}

// CORSConfig holds CORS settings.
type CORSConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	AllowedOrigins   []string      `mapstructure:"allowed_origins"`
	AllowedMethods   []string      `mapstructure:"allowed_methods"`
	AllowedHeaders   []string      `mapstructure:"allowed_headers"`
	ExposedHeaders   []string      `mapstructure:"exposed_headers"`
	AllowCredentials bool          `mapstructure:"allow_credentials"`
	MaxAge           time.Duration `mapstructure:"max_age"`
}

// DatabaseConfig holds database settings (spec §4.1, §6.4).
type DatabaseConfig struct {
	// Path to the SQLite database file.
	Path string `mapstructure:"path"`

	WALMode     bool          `mapstructure:"wal_mode"`
	CacheSize   int           `mapstructure:"cache_size"`
	BusyTimeout time.Duration `mapstructure:"busy_timeout"`
	ForeignKeys bool          `mapstructure:"foreign_keys"`

	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// AuthConfig holds authentication settings (spec §4.7).
type AuthConfig struct {
	JWT       JWTConfig           `mapstructure:"jwt"`
	Password  PasswordConfig      `mapstructure:"password"`
	RateLimit AuthRateLimitConfig `mapstructure:"rate_limit"`

	AllowRegistration   bool `mapstructure:"allow_registration"`
	RequireVerification bool `mapstructure:"require_verification"`
}

// JWTConfig holds JWT settings (spec §6.3).
type JWTConfig struct {
	// Secret key for signing tokens. Required, must be non-empty.
	Secret string `mapstructure:"secret"`

	AccessTTL  time.Duration `mapstructure:"access_ttl"`
	RefreshTTL time.Duration `mapstructure:"refresh_ttl"`

	Issuer   string   `mapstructure:"issuer"`
	Audience []string `mapstructure:"audience"`
}

// PasswordConfig holds password requirements.
type PasswordConfig struct {
	MinLength        int  `mapstructure:"min_length"`
	RequireUppercase bool `mapstructure:"require_uppercase"`
	RequireLowercase bool `mapstructure:"require_lowercase"`
	RequireNumber    bool `mapstructure:"require_number"`
	RequireSpecial   bool `mapstructure:"require_special"`
}

// AuthRateLimitConfig holds rate limiting settings for auth endpoints.
type AuthRateLimitConfig struct {
	Login         RateLimitRule `mapstructure:"login"`
	Register      RateLimitRule `mapstructure:"register"`
	PasswordReset RateLimitRule `mapstructure:"password_reset"`
}

// RateLimitRule defines a rate limit rule.
type RateLimitRule struct {
	Max    int           `mapstructure:"max"`
	Window time.Duration `mapstructure:"window"`
}

// StorageConfig holds file-storage settings (spec §4.8, §6.4).
type StorageConfig struct {
	// Root is the absolute filesystem path under which per-record file
	// directories are created. Must not point inside the executable's own
	// asset tree.
	Root string `mapstructure:"root"`

	// MaxFileSize is the default per-file byte cap applied when a field's
	// own options don't specify one.
	MaxFileSize int64 `mapstructure:"max_file_size"`
}

// RealtimeConfig holds SSE fan-out settings (spec §4.9).
type RealtimeConfig struct {
	Enabled bool `mapstructure:"enabled"`

	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	InactivityTimeout time.Duration `mapstructure:"inactivity_timeout"`

	// MaxClients is validated (at least 1) but is not passed to the
	// realtime registry; the number of connected clients is not capped.
	MaxClients int `mapstructure:"max_clients"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level     string `mapstructure:"level"`
	Format    string `mapstructure:"format"`
	Caller    bool   `mapstructure:"caller"`
	Timestamp bool   `mapstructure:"timestamp"`
	Output    string `mapstructure:"output"`
}

// DevConfig holds development-mode settings (spec §6.5).
type DevConfig struct {
	// Enabled, when true, causes 500 responses to reveal the underlying
	// error message instead of a generic one (spec §4.10).
	Enabled bool `mapstructure:"enabled"`
}

// AdminConfig holds bootstrap-admin settings (spec §6.5, §6.6).
type AdminConfig struct {
	Email    string `mapstructure:"email"`
	Password string `mapstructure:"password"`
}

// Address returns the server address in host:port format.
func (s *ServerConfig) Address() string {
	return s.Host + ":" + itoa(s.Port)
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	var b [20]byte
	n := len(b)
	negative := i < 0
	if negative {
		i = -i
	}
	for i > 0 {
		n--
		b[n] = byte('0' + i%10)
		i /= 10
	}
	if negative {
		n--
		b[n] = '-'
	}
	return string(b[n:])
}
