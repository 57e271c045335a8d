package observability

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/georgeglarson/venice-caching-tests/internal/config"
)

func TestLogLevel(t *testing.T) {
	cases := []struct {
		name string
		cfg  config.Config
		want slog.Level
	}{
		{"explicit debug", config.Config{LogLevel: "debug", AppEnv: "prod"}, slog.LevelDebug},
		{"explicit warn", config.Config{LogLevel: "WARN", AppEnv: "dev"}, slog.LevelWarn},
		{"explicit error", config.Config{LogLevel: "error", AppEnv: "dev"}, slog.LevelError},
		{"dev defaults to debug", config.Config{AppEnv: "dev"}, slog.LevelDebug},
		{"prod defaults to info", config.Config{AppEnv: "prod"}, slog.LevelInfo},
		{"unknown value falls through", config.Config{LogLevel: "verbose", AppEnv: "prod"}, slog.LevelInfo},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, logLevel(tc.cfg))
		})
	}
}

func TestSetupLoggerAttachesServiceFields(t *testing.T) {
	logger := SetupLogger(config.Config{AppEnv: "test", OTELServiceName: "probe-svc"})
	assert.NotNil(t, logger)
	assert.True(t, logger.Enabled(context.Background(), slog.LevelInfo))
}
