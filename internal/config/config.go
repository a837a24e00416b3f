package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"balance-alerts/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	RunPod    RunPodConfig    `mapstructure:"runpod"`
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Database  DatabaseConfig  `mapstructure:"database"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// RunPodConfig covers balance source access.
type RunPodConfig struct {
	APIKey         string        `mapstructure:"api_key"`
	BaseURL        string        `mapstructure:"base_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// TelegramConfig captures Bot API connectivity and the fixed destination chat.
type TelegramConfig struct {
	BotToken       string        `mapstructure:"bot_token"`
	ChatID         string        `mapstructure:"chat_id"`
	APIBase        string        `mapstructure:"api_base"`
	PollTimeout    time.Duration `mapstructure:"poll_timeout"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// AlertingConfig defines the low-balance threshold and repeat cadence.
type AlertingConfig struct {
	LowBalanceUSD     float64       `mapstructure:"low_balance_usd"`
	PodStopBalanceUSD float64       `mapstructure:"pod_stop_balance_usd"`
	HysteresisUSD     float64       `mapstructure:"hysteresis_usd"`
	InitialInterval   time.Duration `mapstructure:"initial_interval"`
	DecayFactor       float64       `mapstructure:"decay_factor"`
	FloorInterval     time.Duration `mapstructure:"floor_interval"`
}

// SchedulerConfig governs poll cadence and the daily report slot.
type SchedulerConfig struct {
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	AlignToBucket   bool          `mapstructure:"align_to_bucket"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
	DailyReportTime string        `mapstructure:"daily_report_time"`
	DailyReportTZ   string        `mapstructure:"daily_report_tz"`
}

// StorageConfig selects the durable alert-state record location.
type StorageConfig struct {
	StatePath  string `mapstructure:"state_path"`
	AccountKey string `mapstructure:"account_key"`
}

// DatabaseConfig encapsulates optional PostgreSQL connectivity for state storage.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("RUNPODWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "runpodwatch")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("runpod.base_url", "https://api.runpod.io/graphql")
	v.SetDefault("runpod.request_timeout", "15s")

	v.SetDefault("telegram.api_base", "https://api.telegram.org")
	v.SetDefault("telegram.poll_timeout", "30s")
	v.SetDefault("telegram.request_timeout", "10s")

	v.SetDefault("alerting.low_balance_usd", 20.0)
	v.SetDefault("alerting.pod_stop_balance_usd", 0.0)
	v.SetDefault("alerting.hysteresis_usd", 2.0)
	v.SetDefault("alerting.initial_interval", "2h")
	v.SetDefault("alerting.decay_factor", 0.5)
	v.SetDefault("alerting.floor_interval", "15m")

	v.SetDefault("scheduler.poll_interval", "5m")
	v.SetDefault("scheduler.align_to_bucket", false)
	v.SetDefault("scheduler.startup_delay", "0s")
	v.SetDefault("scheduler.daily_report_time", "12:00")
	v.SetDefault("scheduler.daily_report_tz", "UTC")

	v.SetDefault("storage.state_path", "data/alert_state.json")
	v.SetDefault("storage.account_key", "default")

	v.SetDefault("database.max_open_conns", 5)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.advisory_lock_key", int64(0x72756e70))
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs sanity checks on the configuration values.
// Violations here are fatal at startup.
func (c *Config) Validate() error {
	if c.Alerting.DecayFactor <= 0 || c.Alerting.DecayFactor > 1 {
		return fmt.Errorf("alerting.decay_factor must be in (0,1], got %v", c.Alerting.DecayFactor)
	}
	if c.Alerting.InitialInterval <= 0 {
		return fmt.Errorf("alerting.initial_interval must be greater than zero")
	}
	if c.Alerting.FloorInterval <= 0 {
		return fmt.Errorf("alerting.floor_interval must be greater than zero")
	}
	if c.Alerting.HysteresisUSD < 0 {
		return fmt.Errorf("alerting.hysteresis_usd cannot be negative")
	}
	if c.Scheduler.PollInterval <= 0 {
		return fmt.Errorf("scheduler.poll_interval must be greater than zero")
	}
	if _, _, err := c.Scheduler.ParseDailyTime(); err != nil {
		return err
	}
	if _, err := c.Scheduler.Location(); err != nil {
		return err
	}
	if c.Storage.StatePath == "" && c.Database.DSN == "" {
		return fmt.Errorf("storage.state_path or database.dsn must be configured")
	}
	return nil
}

// ValidateCredentials checks the secrets required by long-running commands.
// Kept apart from Validate so offline commands stay usable without them.
func (c *Config) ValidateCredentials() error {
	if c.RunPod.APIKey == "" {
		return fmt.Errorf("runpod.api_key is required")
	}
	if c.Telegram.BotToken == "" {
		return fmt.Errorf("telegram.bot_token is required")
	}
	if c.Telegram.ChatID == "" {
		return fmt.Errorf("telegram.chat_id is required")
	}
	return nil
}

// ParseDailyTime splits the daily report slot into hour and minute.
func (s SchedulerConfig) ParseDailyTime() (hour, minute int, err error) {
	parts := strings.SplitN(s.DailyReportTime, ":", 2)
	if _, scanErr := fmt.Sscanf(parts[0], "%d", &hour); scanErr != nil {
		return 0, 0, fmt.Errorf("scheduler.daily_report_time %q is not HH:MM", s.DailyReportTime)
	}
	if len(parts) == 2 {
		if _, scanErr := fmt.Sscanf(parts[1], "%d", &minute); scanErr != nil {
			return 0, 0, fmt.Errorf("scheduler.daily_report_time %q is not HH:MM", s.DailyReportTime)
		}
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("scheduler.daily_report_time %q out of range", s.DailyReportTime)
	}
	return hour, minute, nil
}

// Location resolves the daily report timezone.
func (s SchedulerConfig) Location() (*time.Location, error) {
	if s.DailyReportTZ == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(s.DailyReportTZ)
	if err != nil {
		return nil, fmt.Errorf("scheduler.daily_report_tz: %w", err)
	}
	return loc, nil
}
