package config

import (
	"fmt"
	"strings"
)

func validate(c *Config) error {
	if err := c.Exchange.validate(); err != nil {
		return err
	}
	if err := c.Notify.validate(); err != nil {
		return err
	}
	switch strings.ToLower(strings.TrimSpace(c.App.LogLevel)) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("app.log_level must be one of debug/info/warn/error, got %s", c.App.LogLevel)
	}
	if c.Reconcile.BackoffCapSeconds < c.Reconcile.BackoffBaseSeconds {
		return fmt.Errorf("reconcile.backoff_cap_seconds must be >= backoff_base_seconds")
	}
	return nil
}

func (e *ExchangeConfig) validate() error {
	switch strings.ToLower(strings.TrimSpace(e.Mode)) {
	case "binance":
		if strings.TrimSpace(e.APIKey) == "" || strings.TrimSpace(e.APISecret) == "" {
			return fmt.Errorf("exchange.mode=binance requires api_key and api_secret")
		}
	case "mock":
	default:
		return fmt.Errorf("exchange.mode only supports 'binance' or 'mock', got %s", e.Mode)
	}
	return nil
}

func (n *NotifyConfig) validate() error {
	if n.Telegram.Enabled {
		if n.Telegram.BotToken == "" || n.Telegram.ChatID == "" {
			return fmt.Errorf("telegram notification enabled but missing bot_token or chat_id")
		}
	}
	return nil
}
