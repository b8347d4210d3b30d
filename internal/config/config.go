package config

import (
	"fmt"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Load reads, defaults and validates one YAML config file.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config path cannot be empty")
	}
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config file failed (%s): %w", path, err)
	}
	var cfg Config
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "yaml"
		dc.WeaklyTypedInput = true
	}); err != nil {
		return nil, fmt.Errorf("parsing config failed: %w", err)
	}
	cfg.applyDefaults()
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Duration helpers keep the second/minute arithmetic in one place.

func (e ExchangeConfig) Timeout() time.Duration { return time.Duration(e.TimeoutSeconds) * time.Second }

func (s SchedulerConfig) PollInterval() time.Duration {
	return time.Duration(s.PollIntervalSeconds) * time.Second
}

func (s SchedulerConfig) LockTTL() time.Duration {
	return time.Duration(s.LockTTLSeconds) * time.Second
}

func (s SchedulerConfig) CleanupInterval() time.Duration {
	return time.Duration(s.CleanupIntervalSeconds) * time.Second
}

func (s SchedulerConfig) ScanInterval() time.Duration {
	return time.Duration(s.ScanIntervalMinutes) * time.Minute
}

func (r ReconcileConfig) Interval() time.Duration {
	return time.Duration(r.IntervalSeconds) * time.Second
}

func (r ReconcileConfig) BackoffBase() time.Duration {
	return time.Duration(r.BackoffBaseSeconds) * time.Second
}

func (r ReconcileConfig) BackoffCap() time.Duration {
	return time.Duration(r.BackoffCapSeconds) * time.Second
}

func (m MonitorConfig) Interval() time.Duration {
	return time.Duration(m.IntervalSeconds) * time.Second
}
