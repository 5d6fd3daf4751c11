package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Validate checks the loaded configuration. Load calls it automatically.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	if c.Server.HeartbeatInterval <= 0 {
		errs = append(errs, fmt.Errorf("server.heartbeat_interval must be > 0 (got %v)", c.Server.HeartbeatInterval))
	}
	if c.Database.Path == "" {
		errs = append(errs, errors.New("database.path is required"))
	}
	if s := c.Auth.JWTSecret; s != "" && len(s) < 32 {
		errs = append(errs, fmt.Errorf("auth.jwt_secret must be at least 32 characters (got %d)", len(s)))
	}
	if c.Auth.TokenTTL <= 0 {
		errs = append(errs, fmt.Errorf("auth.token_ttl must be > 0 (got %v)", c.Auth.TokenTTL))
	}

	if err := c.Matching.validate(); err != nil {
		errs = append(errs, fmt.Errorf("matching: %w", err))
	}
	if err := c.Handoff.validate(); err != nil {
		errs = append(errs, fmt.Errorf("handoff: %w", err))
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		errs = append(errs, fmt.Errorf("log: %w", err))
	}
	if f := strings.ToLower(c.Log.Format); f != "text" && f != "json" {
		errs = append(errs, fmt.Errorf("log.format must be text or json (got %q)", c.Log.Format))
	}

	return errors.Join(errs...)
}

func (m *MatchingConfig) validate() error {
	if m.DefaultLimit <= 0 {
		return fmt.Errorf("default_limit must be > 0 (got %d)", m.DefaultLimit)
	}
	if m.MaxLimit < m.DefaultLimit {
		return fmt.Errorf("max_limit must be >= default_limit (got %d < %d)", m.MaxLimit, m.DefaultLimit)
	}
	if m.MinScore < 0 || m.MinScore > 100 {
		return fmt.Errorf("min_score must be within 0-100 (got %v)", m.MinScore)
	}
	if m.MaxConcurrency <= 0 {
		return fmt.Errorf("max_concurrency must be > 0 (got %d)", m.MaxConcurrency)
	}
	return nil
}

func (h *HandoffConfig) validate() error {
	if h.TTL <= 0 {
		return fmt.Errorf("ttl must be > 0 (got %v)", h.TTL)
	}
	if h.MaxAttempts <= 0 {
		return fmt.Errorf("max_attempts must be > 0 (got %d)", h.MaxAttempts)
	}
	if h.SubmitPerMinute <= 0 {
		return fmt.Errorf("submit_per_minute must be > 0 (got %d)", h.SubmitPerMinute)
	}
	return nil
}

// SlogLevel parses Level.
func (l LogConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("level %q: %w", l.Level, err)
	}
	return level, nil
}
