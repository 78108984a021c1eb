package config

import (
	"fmt"
	"strings"
	"time"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("configuration validation failed:\n")
	for _, err := range e {
		sb.WriteString("  - ")
		sb.WriteString(err.Error())
		sb.WriteString("\n")
	}
	return sb.String()
}

func Validate(cfg *Config) error {
	var errs ValidationErrors

	errs = append(errs, validateServer(&cfg.Server)...)
	errs = append(errs, validateDatabase(&cfg.Database)...)
	errs = append(errs, validateAuth(&cfg.Auth)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)
	errs = append(errs, validateRealtime(&cfg.Realtime)...)
	errs = append(errs, validateStorage(&cfg.Storage)...)

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateServer(cfg *ServerConfig) ValidationErrors {
	var errs ValidationErrors

	if cfg.Port < 1 || cfg.Port > 65535 {
		errs = append(errs, ValidationError{Field: "server.port", Message: "must be between 1 and 65535"})
	}
	if cfg.ReadTimeout < 0 {
		errs = append(errs, ValidationError{Field: "server.read_timeout", Message: "must be non-negative"})
	}
	if cfg.WriteTimeout < 0 {
		errs = append(errs, ValidationError{Field: "server.write_timeout", Message: "must be non-negative"})
	}
	if cfg.MaxBodySize < 0 {
		errs = append(errs, ValidationError{Field: "server.max_body_size", Message: "must be non-negative"})
	}
	if cfg.CORS.Enabled && cfg.CORS.AllowCredentials {
		for _, origin := range cfg.CORS.AllowedOrigins {
			if origin == "*" {
				errs = append(errs, ValidationError{
					Field:   "server.cors",
					Message: "allow_credentials=true with allowed_origins=[\"*\"] is insecure",
				})
				break
			}
		}
	}

	return errs
}

func validateDatabase(cfg *DatabaseConfig) ValidationErrors {
	var errs ValidationErrors

	if cfg.Path == "" {
		errs = append(errs, ValidationError{Field: "database.path", Message: "required"})
	}

	return errs
}

func validateAuth(cfg *AuthConfig) ValidationErrors {
	var errs ValidationErrors

	if cfg.JWT.AccessTTL < time.Second {
		errs = append(errs, ValidationError{Field: "auth.jwt.access_ttl", Message: "must be at least 1 second"})
	}
	if cfg.JWT.RefreshTTL < cfg.JWT.AccessTTL {
		errs = append(errs, ValidationError{Field: "auth.jwt.refresh_ttl", Message: "must be greater than or equal to access_ttl"})
	}
	if cfg.Password.MinLength < 8 {
		errs = append(errs, ValidationError{Field: "auth.password.min_length", Message: "must be at least 8 for security"})
	}
	if cfg.RateLimit.Login.Max < 1 {
		errs = append(errs, ValidationError{Field: "auth.rate_limit.login.max", Message: "must be at least 1"})
	}

	return errs
}

func validateLogging(cfg *LoggingConfig) ValidationErrors {
	var errs ValidationErrors

	validLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLevels[cfg.Level] {
		errs = append(errs, ValidationError{Field: "logging.level", Message: "must be one of: trace, debug, info, warn, error, fatal, panic"})
	}

	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[cfg.Format] {
		errs = append(errs, ValidationError{Field: "logging.format", Message: "must be 'json' or 'console'"})
	}

	return errs
}

func validateRealtime(cfg *RealtimeConfig) ValidationErrors {
	var errs ValidationErrors

	if !cfg.Enabled {
		return errs
	}

	if cfg.HeartbeatInterval < time.Second {
		errs = append(errs, ValidationError{Field: "realtime.heartbeat_interval", Message: "must be at least 1 second"})
	}
	if cfg.InactivityTimeout < cfg.HeartbeatInterval {
		errs = append(errs, ValidationError{Field: "realtime.inactivity_timeout", Message: "must be greater than or equal to heartbeat_interval"})
	}
	if cfg.MaxClients < 1 {
		errs = append(errs, ValidationError{Field: "realtime.max_clients", Message: "must be at least 1"})
	}

	return errs
}

func validateStorage(cfg *StorageConfig) ValidationErrors {
	var errs ValidationErrors

	if cfg.Root == "" {
		errs = append(errs, ValidationError{Field: "storage.root", Message: "required"})
	}
	if strings.Contains(cfg.Root, "..") {
		errs = append(errs, ValidationError{Field: "storage.root", Message: "must not contain path traversal (..)"})
	}
	if cfg.MaxFileSize < 0 {
		errs = append(errs, ValidationError{Field: "storage.max_file_size", Message: "must be non-negative"})
	}

	return errs
}

func ValidateJWTSecret(secret string) error {
	if secret == "" {
		return ValidationError{Field: "auth.jwt.secret", Message: "required"}
	}
	if len(secret) < 32 {
		return ValidationError{Field: "auth.jwt.secret", Message: "must be at least 32 characters"}
	}
	return nil
}
