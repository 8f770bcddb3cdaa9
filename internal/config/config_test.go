package config

import (
	"os"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("", nil)
	require.NoError(t, err)

	assert.Equal(t, 5*time.Second, cfg.Poller.ScanInterval)
	assert.Equal(t, 50, cfg.Poller.BatchSize)
	assert.Equal(t, 3, cfg.Retry.MaxRetries)
	assert.Equal(t, 2*time.Minute, cfg.Email.BaseDelay)
	assert.Equal(t, 20*time.Second, cfg.LinkedIn.IntraSendDelay)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("OUTREACH_POLLER__BATCH_SIZE", "10")
	t.Setenv("OUTREACH_DATABASE__DSN", "postgres://test")

	cfg, err := Load("", nil)
	require.NoError(t, err)

	assert.Equal(t, 10, cfg.Poller.BatchSize)
	assert.Equal(t, "postgres://test", cfg.Database.DSN)
}

func TestLoadFlagOverrideWinsOverEnv(t *testing.T) {
	t.Setenv("OUTREACH_DATABASE__DSN", "postgres://env")

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.String("database.dsn", "", "")
	require.NoError(t, fs.Set("database.dsn", "postgres://flag"))

	cfg, err := Load("", fs)
	require.NoError(t, err)
	assert.Equal(t, "postgres://flag", cfg.Database.DSN)
}

func TestLoadFileOverride(t *testing.T) {
	f, err := os.CreateTemp("", "outreach-*.toml")
	require.NoError(t, err)
	defer os.Remove(f.Name())

	_, err = f.WriteString("[poller]\nbatch_size = 99\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	cfg, err := Load(f.Name(), nil)
	require.NoError(t, err)
	assert.Equal(t, 99, cfg.Poller.BatchSize)
}
