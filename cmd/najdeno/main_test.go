package main

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevelRouterSplitsStreams(t *testing.T) {
	var stdout, stderr bytes.Buffer
	lr := &levelRouter{
		stdout: slog.NewTextHandler(&stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		stderr: slog.NewTextHandler(&stderr, &slog.HandlerOptions{Level: slog.LevelDebug}),
		level:  slog.LevelInfo,
	}
	logger := slog.New(lr).With("component", "test")

	assert.False(t, lr.Enabled(context.Background(), slog.LevelDebug))
	logger.Info("hello")
	logger.Warn("careful")
	logger.Error("broken")

	assert.Contains(t, stdout.String(), "msg=hello")
	assert.Contains(t, stdout.String(), "msg=careful")
	assert.NotContains(t, stdout.String(), "broken")
	assert.Contains(t, stderr.String(), "msg=broken")
	assert.Contains(t, stderr.String(), "component=test")
}

func TestGeneratePassword(t *testing.T) {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789!@#$%&*"
	seen := make(map[string]bool)
	for range 50 {
		p, err := generatePassword(16)
		require.NoError(t, err)
		require.Len(t, p, 16)
		for _, c := range p {
			require.True(t, strings.ContainsRune(charset, c), "unexpected %q", c)
		}
		seen[p] = true
	}
	assert.Len(t, seen, 50)
}
