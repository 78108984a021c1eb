package config

import "time"

// Default configuration values.
const (
	// Server defaults.
	DefaultHost         = "localhost"
	DefaultPort         = 8090
	DefaultReadTimeout  = 30 * time.Second
	DefaultWriteTimeout = 30 * time.Second
	DefaultIdleTimeout  = 120 * time.Second
	DefaultMaxBodySize  = 10 * 1024 * 1024 // 10MB

	// Database defaults.
	DefaultDBPath       = "bunbase.db"
	DefaultCacheSize    = -64000 // 64MB
	DefaultBusyTimeout  = 5 * time.Second
	DefaultMaxOpenConns = 1 // SQLite works best with a single writer
	DefaultMaxIdleConns = 1

	// Auth defaults.
	DefaultAccessTTL  = 15 * time.Minute
	DefaultRefreshTTL = 7 * 24 * time.Hour
	DefaultMinPwdLen  = 8
	DefaultLoginMax   = 5
	DefaultLoginWindow = time.Minute

	// Storage defaults.
	DefaultStorageRoot    = "./storage"
	DefaultMaxFileSize    = 50 * 1024 * 1024 // 50MB

	// Realtime defaults.
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultInactivityTimeout = 2 * time.Minute
	DefaultMaxClients       = 1000

	// Logging defaults.
	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"
)

// Default returns a Config populated with sane defaults (spec §6.5).
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         DefaultHost,
			Port:         DefaultPort,
			ReadTimeout:  DefaultReadTimeout,
			WriteTimeout: DefaultWriteTimeout,
			IdleTimeout:  DefaultIdleTimeout,
			MaxBodySize:  DefaultMaxBodySize,
			CORS: CORSConfig{
				Enabled:          true,
				AllowedOrigins:   []string{"*"},
				AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
				AllowedHeaders:   []string{"Authorization", "Content-Type"},
				ExposedHeaders:   []string{},
				AllowCredentials: false,
				MaxAge:           10 * time.Minute,
			},
		},
		Database: DatabaseConfig{
			Path:            DefaultDBPath,
			WALMode:         true,
			CacheSize:       DefaultCacheSize,
			BusyTimeout:     DefaultBusyTimeout,
			ForeignKeys:     true,
			MaxOpenConns:    DefaultMaxOpenConns,
			MaxIdleConns:    DefaultMaxIdleConns,
			ConnMaxLifetime: 0,
		},
		Auth: AuthConfig{
			JWT: JWTConfig{
				Secret:     "",
				AccessTTL:  DefaultAccessTTL,
				RefreshTTL: DefaultRefreshTTL,
				Issuer:     "bunbase",
				Audience:   []string{"bunbase"},
			},
			Password: PasswordConfig{
				MinLength:        DefaultMinPwdLen,
				RequireUppercase: false,
				RequireLowercase: false,
				RequireNumber:    false,
				RequireSpecial:   false,
			},
			RateLimit: AuthRateLimitConfig{
				Login:         RateLimitRule{Max: DefaultLoginMax, Window: DefaultLoginWindow},
				Register:      RateLimitRule{Max: DefaultLoginMax, Window: DefaultLoginWindow},
				PasswordReset: RateLimitRule{Max: 3, Window: time.Hour},
			},
			AllowRegistration:   true,
			RequireVerification: false,
		},
		Storage: StorageConfig{
			Root:        DefaultStorageRoot,
			MaxFileSize: DefaultMaxFileSize,
		},
		Realtime: RealtimeConfig{
			Enabled:           true,
			HeartbeatInterval: DefaultHeartbeatInterval,
			InactivityTimeout: DefaultInactivityTimeout,
			MaxClients:        DefaultMaxClients,
		},
		Logging: LoggingConfig{
			Level:     DefaultLogLevel,
			Format:    DefaultLogFormat,
			Caller:    false,
			Timestamp: true,
			Output:    "stdout",
		},
		Dev: DevConfig{
			Enabled: false,
		},
		Admin: AdminConfig{
			Email:    "",
			Password: "",
		},
	}
}
