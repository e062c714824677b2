package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/pulsecoach/pulse-coach-app/internal/link"
	"github.com/pulsecoach/pulse-coach-app/internal/scheduler"
)

// DefaultFileName is looked up in the working directory and in
// ~/.pulse-coach when no explicit config path is given.
const DefaultFileName = "pulse-coach"

// ScheduleEntry maps a cron spec to a plan name.
type ScheduleEntry struct {
	Cron string `mapstructure:"cron"`
	Plan string `mapstructure:"plan"`
}

// Config is the runtime configuration. Every knob has a default, so an
// absent config file yields a fully working setup.
type Config struct {
	LogFile       string `mapstructure:"log_file"`
	LogMaxSizeMB  int    `mapstructure:"log_max_size_mb"`
	LogMaxBackups int    `mapstructure:"log_max_backups"`
	LogMaxAgeDays int    `mapstructure:"log_max_age_days"`

	PlansDir       string `mapstructure:"plans_dir"`
	HistoryDir     string `mapstructure:"history_dir"`
	CheckpointPath string `mapstructure:"checkpoint_path"`

	TickInterval       time.Duration `mapstructure:"tick_interval"`
	CheckpointEvery    int           `mapstructure:"checkpoint_every"`
	StallTimeout       time.Duration `mapstructure:"stall_timeout"`
	BatteryPollEvery   int           `mapstructure:"battery_poll_every"`
	DeviationThreshold int           `mapstructure:"deviation_threshold"`
	RRWindowCapacity   int           `mapstructure:"rr_window_capacity"`

	BackoffInitial     time.Duration `mapstructure:"backoff_initial"`
	BackoffMultiplier  float64       `mapstructure:"backoff_multiplier"`
	BackoffMaxAttempts int           `mapstructure:"backoff_max_attempts"`

	GraceWindow time.Duration   `mapstructure:"grace_window"`
	Schedules   []ScheduleEntry `mapstructure:"schedules"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_file", "pulse-coach.log")
	v.SetDefault("log_max_size_mb", 10)
	v.SetDefault("log_max_backups", 3)
	v.SetDefault("log_max_age_days", 28)
	v.SetDefault("plans_dir", "plans")
	v.SetDefault("history_dir", "history")
	v.SetDefault("checkpoint_path", "checkpoint.json")
	v.SetDefault("tick_interval", time.Second)
	v.SetDefault("checkpoint_every", 10)
	v.SetDefault("stall_timeout", 30*time.Second)
	v.SetDefault("battery_poll_every", 60)
	v.SetDefault("deviation_threshold", 5)
	v.SetDefault("rr_window_capacity", 30)
	v.SetDefault("backoff_initial", 5*time.Second)
	v.SetDefault("backoff_multiplier", 2.0)
	v.SetDefault("backoff_max_attempts", 3)
	v.SetDefault("grace_window", scheduler.DefaultGraceWindow)
}

// Load reads the configuration. An explicit path must exist; with an
// empty path the default locations are searched and a missing file just
// means defaults.
func Load(logger *log.Logger, path string) (Config, error) {
	if logger == nil {
		panic("config.Load: logger cannot be nil")
	}

	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: reading %s: %w", path, err)
		}
	} else {
		v.SetConfigName(DefaultFileName)
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".pulse-coach"))
		}
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("config: %w", err)
			}
			logger.Printf("Config: no config file found, using defaults")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	if used := v.ConfigFileUsed(); used != "" {
		logger.Printf("Config: loaded %s", used)
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.TickInterval <= 0 {
		return fmt.Errorf("config: tick_interval must be positive")
	}
	if c.StallTimeout <= 0 {
		return fmt.Errorf("config: stall_timeout must be positive")
	}
	if c.BackoffMaxAttempts < 1 {
		return fmt.Errorf("config: backoff_max_attempts must be at least 1")
	}
	for i, s := range c.Schedules {
		if s.Cron == "" || s.Plan == "" {
			return fmt.Errorf("config: schedule %d needs both cron and plan", i)
		}
	}
	return nil
}

// BackoffPolicy builds the reconnect policy.
func (c Config) BackoffPolicy() link.BackoffPolicy {
	return link.BackoffPolicy{
		Initial:     c.BackoffInitial,
		Multiplier:  c.BackoffMultiplier,
		MaxAttempts: c.BackoffMaxAttempts,
	}
}

// ExecutorConfig maps the file knobs onto the executor.
func (c Config) ExecutorConfig() scheduler.Config {
	return scheduler.Config{
		TickInterval:       c.TickInterval,
		CheckpointEvery:    c.CheckpointEvery,
		StallTimeout:       c.StallTimeout,
		BatteryPollEvery:   c.BatteryPollEvery,
		RRWindowCapacity:   c.RRWindowCapacity,
		DeviationThreshold: c.DeviationThreshold,
		Backoff:            c.BackoffPolicy(),
	}
}
