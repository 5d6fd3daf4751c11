// Package config loads the server configuration from a YAML file, the
// environment and built-in defaults.
package config

import "time"

// Config is the root application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	Matching MatchingConfig `yaml:"matching"`
	Handoff  HandoffConfig  `yaml:"handoff"`
	Images   ImageConfig    `yaml:"images"`
	Log      LogConfig      `yaml:"log"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr              string        `yaml:"addr"                env:"SERVER_ADDR"                env-default:":8080"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" env:"SERVER_READ_HEADER_TIMEOUT" env-default:"10s"`
	ReadTimeout       time.Duration `yaml:"read_timeout"        env:"SERVER_READ_TIMEOUT"        env-default:"30s"`
	IdleTimeout       time.Duration `yaml:"idle_timeout"        env:"SERVER_IDLE_TIMEOUT"        env-default:"120s"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"    env:"SERVER_SHUTDOWN_TIMEOUT"    env-default:"5s"`
	// HeartbeatInterval spaces the keep-alive comments on idle event streams.
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"  env:"SERVER_HEARTBEAT_INTERVAL"  env-default:"25s"`
}

// DatabaseConfig holds SQLite settings.
type DatabaseConfig struct {
	Path string `yaml:"path" env:"DATABASE_PATH" env-default:"najdeno.sqlite3"`
}

// AuthConfig holds token and bootstrap settings.
type AuthConfig struct {
	// JWTSecret overrides the secret generated and stored in the database.
	JWTSecret     string        `yaml:"jwt_secret"     env:"AUTH_JWT_SECRET"`
	TokenTTL      time.Duration `yaml:"token_ttl"      env:"AUTH_TOKEN_TTL"      env-default:"168h"`
	AdminUsername string        `yaml:"admin_username" env:"AUTH_ADMIN_USERNAME" env-default:"Admin"`
}

// MatchingConfig holds the defaults of match queries.
type MatchingConfig struct {
	DefaultLimit   int     `yaml:"default_limit"   env:"MATCHING_DEFAULT_LIMIT"   env-default:"10"`
	MaxLimit       int     `yaml:"max_limit"       env:"MATCHING_MAX_LIMIT"       env-default:"50"`
	MinScore       float64 `yaml:"min_score"       env:"MATCHING_MIN_SCORE"       env-default:"20"`
	MaxConcurrency int     `yaml:"max_concurrency" env:"MATCHING_MAX_CONCURRENCY" env-default:"8"`
}

// HandoffConfig holds handoff session limits.
type HandoffConfig struct {
	TTL             time.Duration `yaml:"ttl"               env:"HANDOFF_TTL"               env-default:"10m"`
	MaxAttempts     int           `yaml:"max_attempts"      env:"HANDOFF_MAX_ATTEMPTS"      env-default:"5"`
	SubmitPerMinute int           `yaml:"submit_per_minute" env:"HANDOFF_SUBMIT_PER_MINUTE" env-default:"20"`
}

// ImageConfig holds photo upload limits.
type ImageConfig struct {
	MaxDimension int   `yaml:"max_dimension" env:"IMAGES_MAX_DIMENSION" env-default:"1024"`
	Quality      int   `yaml:"quality"       env:"IMAGES_QUALITY"       env-default:"85"`
	MaxBytes     int64 `yaml:"max_bytes"     env:"IMAGES_MAX_BYTES"     env-default:"10485760"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `yaml:"level"  env:"LOG_LEVEL"  env-default:"info"`
	Format string `yaml:"format" env:"LOG_FORMAT" env-default:"text"`
	// File additionally receives every record when set.
	File string `yaml:"file" env:"LOG_FILE"`
}
