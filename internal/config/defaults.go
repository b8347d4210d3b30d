package config

// applyDefaults fills every unset knob so the rest of the program never
// re-checks for zero values.
func (c *Config) applyDefaults() {
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}
	if c.Store.Path == "" {
		c.Store.Path = "data/tiller.db"
	}
	if c.Exchange.Mode == "" {
		c.Exchange.Mode = "mock"
	}
	if c.Exchange.TimeoutSeconds <= 0 {
		c.Exchange.TimeoutSeconds = 30
	}
	if c.Scheduler.PollIntervalSeconds <= 0 {
		c.Scheduler.PollIntervalSeconds = 10
	}
	if c.Scheduler.LockTTLSeconds <= 0 {
		c.Scheduler.LockTTLSeconds = 120
	}
	if c.Scheduler.BatchSize <= 0 {
		c.Scheduler.BatchSize = 10
	}
	if c.Scheduler.CleanupIntervalSeconds <= 0 {
		c.Scheduler.CleanupIntervalSeconds = 60
	}
	if c.Scheduler.ScanIntervalMinutes <= 0 {
		c.Scheduler.ScanIntervalMinutes = 5
	}
	if c.Reconcile.IntervalSeconds <= 0 {
		c.Reconcile.IntervalSeconds = 15
	}
	if c.Reconcile.MaxAttempts <= 0 {
		c.Reconcile.MaxAttempts = 12
	}
	if c.Reconcile.BackoffBaseSeconds <= 0 {
		c.Reconcile.BackoffBaseSeconds = 5
	}
	if c.Reconcile.BackoffCapSeconds <= 0 {
		c.Reconcile.BackoffCapSeconds = 600
	}
	if c.Reconcile.SweepLimit <= 0 {
		c.Reconcile.SweepLimit = 50
	}
	if c.Monitor.IntervalSeconds <= 0 {
		c.Monitor.IntervalSeconds = 300
	}
	if c.Policy.File == "" {
		c.Policy.File = "configs/policies.yaml"
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":9980"
	}
}
