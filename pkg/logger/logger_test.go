package logger

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewLogger_InvalidLevel(t *testing.T) {
	_, err := newLogger(Config{Level: "loud"})
	assert.Error(t, err)
}

func TestNewLogger_WritesRunFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")

	l, err := newLogger(Config{Level: "info", Encoding: "json", File: path, MaxSizeMB: 1, MaxBackups: 1})
	require.NoError(t, err)

	l.Info("--Inserted 2 Incidents records.", zap.String("tenant", "Bayview"))
	l.Debug("hidden")
	_ = l.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "--Inserted 2 Incidents records.")
	assert.Contains(t, string(data), "Bayview")
	assert.NotContains(t, string(data), "hidden")
}

func TestWithContext(t *testing.T) {
	Set(zap.NewNop())

	ctx := context.WithValue(context.Background(), RunIDKey, "run-1")
	ctx = context.WithValue(ctx, TenantKey, "Bayview")

	assert.NotNil(t, WithContext(ctx))
}
