package config

// Config is the full tillerd configuration tree.
type Config struct {
	App       AppConfig       `yaml:"app"`
	Store     StoreConfig     `yaml:"store"`
	Exchange  ExchangeConfig  `yaml:"exchange"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Reconcile ReconcileConfig `yaml:"reconcile"`
	Monitor   MonitorConfig   `yaml:"monitor"`
	Policy    PolicyConfig    `yaml:"policy"`
	Notify    NotifyConfig    `yaml:"notify"`
	HTTP      HTTPConfig      `yaml:"http"`
}

type AppConfig struct {
	LogLevel string `yaml:"log_level"`
	LogFile  string `yaml:"log_file"`
}

type StoreConfig struct {
	Path string `yaml:"path"`
}

// ExchangeConfig selects and credentials the order venue. Mode "mock" wires a
// local in-memory venue for development; it never reaches the network.
type ExchangeConfig struct {
	Mode           string `yaml:"mode"`
	APIKey         string `yaml:"api_key"`
	APISecret      string `yaml:"api_secret"`
	Testnet        bool   `yaml:"testnet"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

type SchedulerConfig struct {
	Enabled                bool `yaml:"enabled"`
	PollIntervalSeconds    int  `yaml:"poll_interval_seconds"`
	LockTTLSeconds         int  `yaml:"lock_ttl_seconds"`
	BatchSize              int  `yaml:"batch_size"`
	CleanupIntervalSeconds int  `yaml:"cleanup_interval_seconds"`
	ScanIntervalMinutes    int  `yaml:"scan_interval_minutes"`
}

type ReconcileConfig struct {
	IntervalSeconds    int `yaml:"interval_seconds"`
	MaxAttempts        int `yaml:"max_attempts"`
	BackoffBaseSeconds int `yaml:"backoff_base_seconds"`
	BackoffCapSeconds  int `yaml:"backoff_cap_seconds"`
	SweepLimit         int `yaml:"sweep_limit"`
}

type MonitorConfig struct {
	Enabled         bool `yaml:"enabled"`
	IntervalSeconds int  `yaml:"interval_seconds"`
}

// PolicyConfig points at the user policy file; with hot reload on, edits are
// picked up without a restart.
type PolicyConfig struct {
	File      string `yaml:"file"`
	HotReload bool   `yaml:"hot_reload"`
}

type NotifyConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
}

type TelegramConfig struct {
	Enabled  bool   `yaml:"enabled"`
	BotToken string `yaml:"bot_token"`
	ChatID   string `yaml:"chat_id"`
}

type HTTPConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}
