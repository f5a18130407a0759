package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailagent-go/internal/config"
)

func TestSetupLoggingWritesFile(t *testing.T) {
	defer logrus.SetOutput(os.Stderr)

	path := filepath.Join(t.TempDir(), "logs", "app.log")
	closeLog, err := SetupLogging(config.LogConfig{Level: "debug", Format: "json", File: path})
	require.NoError(t, err)

	logrus.Info("hello from test")
	require.NoError(t, closeLog())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello from test")
	assert.Equal(t, logrus.DebugLevel, logrus.GetLevel())
}

func TestSetupLoggingFallsBackToInfo(t *testing.T) {
	defer logrus.SetOutput(os.Stderr)

	closeLog, err := SetupLogging(config.LogConfig{Level: "loud", Format: "text"})
	require.NoError(t, err)
	assert.NoError(t, closeLog())
	assert.Equal(t, logrus.InfoLevel, logrus.GetLevel())
	assert.IsType(t, &logrus.TextFormatter{}, logrus.StandardLogger().Formatter)
}

func TestBuildWiresComponents(t *testing.T) {
	cfg := &config.Config{
		Database:  config.DatabaseConfig{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "emails.db")},
		Gmail:     config.GmailConfig{ClientID: "id", ClientSecret: "secret", RefreshToken: "refresh", UserEmail: "me"},
		LLM:       config.LLMConfig{URL: "http://127.0.0.1:1/v1/chat/completions", Model: "test", MaxAttempts: 1},
		Sync:      config.SyncConfig{MaxEmailsPerSync: 10},
		Scheduler: config.SchedulerConfig{IntervalMinutes: 15},
	}

	a, err := Build(context.Background(), cfg, prometheus.NewRegistry())
	require.NoError(t, err)

	assert.NotNil(t, a.Store)
	assert.NotNil(t, a.Provider)
	assert.NotNil(t, a.Syncer)
	assert.NotNil(t, a.Replies)
	assert.False(t, a.Scheduler.IsRunning())
	assert.NoError(t, a.Store.Ping(context.Background()))

	require.NoError(t, a.Close())
	assert.NoError(t, a.Close())
}
