package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chdir(t *testing.T, dir string) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
}

func TestLoadConfig_DefaultsWithoutFile(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, 1000, cfg.Booking.ReviewCommentMaxLength)
	assert.Equal(t, 30*time.Second, cfg.Booking.SlotCacheTTL())
	assert.Equal(t, 20.0, cfg.RateLimit.RequestsPerSecond)
}

func TestLoadConfig_FileThenEnvironment(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9090
database:
  driver: memory
  max_open_conns: 7
booking:
  review_comment_max_length: 280
  min_lead_time_minutes: 60
`), 0o600))

	t.Setenv("CLINIC_SERVER_PORT", "9191")
	t.Setenv("CLINIC_DATABASE_MAX_OPEN_CONNS", "11")
	t.Setenv("CLINIC_JWT_SECRET", "s3cret")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 9191, cfg.Server.Port, "env wins over file")
	assert.Equal(t, "memory", cfg.Database.Driver)
	assert.Equal(t, 11, cfg.Database.MaxOpenConns)
	assert.Equal(t, 280, cfg.Booking.ReviewCommentMaxLength)
	assert.Equal(t, time.Hour, cfg.Booking.MinLeadTime())
	assert.Equal(t, "s3cret", cfg.JWT.Secret)
}

func TestLoadConfig_RejectsInvalid(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("CLINIC_DATABASE_DRIVER", "mysql")

	_, err := LoadConfig("")
	assert.ErrorContains(t, err, "database.driver")
}

func TestLoadConfig_ExplicitMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestConversions(t *testing.T) {
	chdir(t, t.TempDir())
	cfg, err := LoadConfig("")
	require.NoError(t, err)

	wc := cfg.Outbox.ToWorkerConfig()
	assert.Equal(t, 100, wc.BatchSize)
	assert.Equal(t, time.Second, wc.PollInterval)
	assert.Equal(t, 200*time.Millisecond, wc.RetryDelay)
	assert.Equal(t, 30*time.Second, wc.Lease)
	assert.Equal(t, 10, wc.MaxDeliveries)
	assert.Equal(t, 72*time.Hour, wc.Retention)

	bc := cfg.Redis.ToBrokerConfig()
	assert.Equal(t, "redis://localhost:6379/0", bc.URL)
	assert.Equal(t, 100*time.Millisecond, bc.RetryBackoff)
	assert.Equal(t, 5, bc.BreakerFailures)
	assert.Equal(t, 5*time.Second, bc.BreakerTimeout)

	assert.Equal(t, 24*time.Hour, cfg.JWT.Expiry())
	assert.Equal(t, 5*time.Second, cfg.Booking.LockTimeout())
	assert.Equal(t, 15*time.Second, cfg.Server.RequestTimeout())
	assert.Equal(t, int64(1<<20), cfg.Server.MaxBodyBytes)
}
