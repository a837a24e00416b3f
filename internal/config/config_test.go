package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"balance-alerts/internal/config"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.Load(writeConfig(t, "app:\n  name: runpodwatch\n"))
	require.NoError(t, err)

	assert.Equal(t, "runpodwatch", cfg.App.Name)
	assert.Equal(t, "https://api.runpod.io/graphql", cfg.RunPod.BaseURL)
	assert.Equal(t, 15*time.Second, cfg.RunPod.RequestTimeout)
	assert.Equal(t, 30*time.Second, cfg.Telegram.PollTimeout)

	assert.Equal(t, 20.0, cfg.Alerting.LowBalanceUSD)
	assert.Equal(t, 2.0, cfg.Alerting.HysteresisUSD)
	assert.Equal(t, 2*time.Hour, cfg.Alerting.InitialInterval)
	assert.Equal(t, 0.5, cfg.Alerting.DecayFactor)
	assert.Equal(t, 15*time.Minute, cfg.Alerting.FloorInterval)

	assert.Equal(t, 5*time.Minute, cfg.Scheduler.PollInterval)
	assert.Equal(t, "12:00", cfg.Scheduler.DailyReportTime)
	assert.Equal(t, "data/alert_state.json", cfg.Storage.StatePath)
	assert.Equal(t, int64(0x72756e70), cfg.Database.AdvisoryLockKey)
}

func TestLoadOverridesFromFile(t *testing.T) {
	cfg, err := config.Load(writeConfig(t, `
alerting:
  low_balance_usd: 50
  initial_interval: 6h
  decay_factor: 0.25
scheduler:
  poll_interval: 1m
  daily_report_time: "09:30"
storage:
  state_path: /var/lib/runpodwatch/state.json
`))
	require.NoError(t, err)

	assert.Equal(t, 50.0, cfg.Alerting.LowBalanceUSD)
	assert.Equal(t, 6*time.Hour, cfg.Alerting.InitialInterval)
	assert.Equal(t, 0.25, cfg.Alerting.DecayFactor)
	assert.Equal(t, time.Minute, cfg.Scheduler.PollInterval)
	assert.Equal(t, "/var/lib/runpodwatch/state.json", cfg.Storage.StatePath)

	hour, minute, err := cfg.Scheduler.ParseDailyTime()
	require.NoError(t, err)
	assert.Equal(t, 9, hour)
	assert.Equal(t, 30, minute)
}

func TestLoadRejectsBadDecayFactor(t *testing.T) {
	for _, factor := range []string{"0", "-0.5", "1.5"} {
		_, err := config.Load(writeConfig(t, "alerting:\n  decay_factor: "+factor+"\n"))
		require.Error(t, err, "decay factor %s", factor)
		assert.Contains(t, err.Error(), "decay_factor")
	}
}

func TestLoadRejectsNonPositiveIntervals(t *testing.T) {
	_, err := config.Load(writeConfig(t, "alerting:\n  initial_interval: 0s\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "initial_interval")

	_, err = config.Load(writeConfig(t, "scheduler:\n  poll_interval: -1m\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "poll_interval")
}

func TestLoadRejectsNegativeHysteresis(t *testing.T) {
	_, err := config.Load(writeConfig(t, "alerting:\n  hysteresis_usd: -1\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hysteresis_usd")
}

func TestLoadRejectsBadDailyTime(t *testing.T) {
	for _, slot := range []string{"25:00", "12:75", "noon"} {
		_, err := config.Load(writeConfig(t, "scheduler:\n  daily_report_time: \""+slot+"\"\n"))
		require.Error(t, err, "slot %s", slot)
		assert.Contains(t, err.Error(), "daily_report_time")
	}
}

func TestLoadRejectsBadTimezone(t *testing.T) {
	_, err := config.Load(writeConfig(t, "scheduler:\n  daily_report_tz: Mars/Olympus\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "daily_report_tz")
}

func TestLoadRequiresSomeStateBackend(t *testing.T) {
	_, err := config.Load(writeConfig(t, "storage:\n  state_path: \"\"\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "state_path")
}

func TestValidateCredentials(t *testing.T) {
	cfg, err := config.Load(writeConfig(t, "app: {}\n"))
	require.NoError(t, err)
	require.Error(t, cfg.ValidateCredentials(), "secrets are not defaulted")

	cfg.RunPod.APIKey = "key"
	require.Error(t, cfg.ValidateCredentials())

	cfg.Telegram.BotToken = "token"
	require.Error(t, cfg.ValidateCredentials())

	cfg.Telegram.ChatID = "1234"
	require.NoError(t, cfg.ValidateCredentials())
}

func TestParseDailyTimeHourOnly(t *testing.T) {
	s := config.SchedulerConfig{DailyReportTime: "7"}
	hour, minute, err := s.ParseDailyTime()
	require.NoError(t, err)
	assert.Equal(t, 7, hour)
	assert.Equal(t, 0, minute)
}

func TestLocationDefaultsToUTC(t *testing.T) {
	loc, err := config.SchedulerConfig{}.Location()
	require.NoError(t, err)
	assert.Equal(t, time.UTC, loc)
}
