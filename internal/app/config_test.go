package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")

	cfg, err := loadConfig()
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.AppAddr)
	require.Equal(t, 3*time.Minute, cfg.ClosureLockWatchdog)
	require.Equal(t, 7, cfg.ClosureLookbackDays)
	require.Equal(t, "0 23 * * *", cfg.ClosureReminderCron)
	require.Equal(t, "22:00-24:00", cfg.ClosureReminderWindow)
	require.Equal(t, 30*time.Minute, cfg.ClosureReminderIdle)
	require.Equal(t, 256, cfg.ClosureReminderClients)
	require.Equal(t, "Africa/Abidjan", cfg.Location().String())
	require.False(t, cfg.IsProduction())
}

func TestLoadConfigRejectsInvalidValues(t *testing.T) {
	t.Run("store driver", func(t *testing.T) {
		t.Setenv("STORE_DRIVER", "sqlite")
		_, err := loadConfig()
		require.Error(t, err)
	})
	t.Run("timezone", func(t *testing.T) {
		t.Setenv("TIMEZONE", "Mars/Olympus")
		_, err := loadConfig()
		require.ErrorContains(t, err, "timezone")
	})
	t.Run("lookback", func(t *testing.T) {
		t.Setenv("CLOSURE_LOOKBACK_DAYS", "0")
		_, err := loadConfig()
		require.Error(t, err)
	})
	t.Run("postgres without dsn", func(t *testing.T) {
		t.Setenv("PG_DSN", " ")
		_, err := loadConfig()
		require.ErrorContains(t, err, "PG_DSN")
	})
}

func TestNilConfigLocation(t *testing.T) {
	var cfg *Config
	require.Equal(t, time.UTC, cfg.Location())
}
