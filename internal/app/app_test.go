package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rradofina/alonchat-ingest/internal/config"
)

func defaultConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	return cfg
}

func TestNewWiresMemoryBackedApp(t *testing.T) {
	cfg := defaultConfig(t)
	cfg.Database.Driver = "memory"
	cfg.Logging.Development = false

	a, err := New(context.Background(), cfg)
	require.NoError(t, err)
	defer a.Close()

	require.NotNil(t, a.Logger())
	require.NotNil(t, a.store)
	require.NotNil(t, a.queue)
	require.NotNil(t, a.hub)
	require.NotNil(t, a.dispatch)
	require.NotNil(t, a.server)
}

func TestNewRejectsUnknownDriver(t *testing.T) {
	cfg := defaultConfig(t)
	cfg.Database.Driver = "sqlite"

	_, err := New(context.Background(), cfg)
	require.ErrorContains(t, err, "unknown database driver")
}
