package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Exchanges []ExchangeConfig `mapstructure:"exchanges"`
	Pairs     []PairConfig     `mapstructure:"pairs"`
	PairsFile string           `mapstructure:"pairs_file"`
	Engine    EngineConfig     `mapstructure:"engine"`
	Watchdog  WatchdogConfig   `mapstructure:"watchdog"`
	Runtime   RuntimeConfig    `mapstructure:"runtime"`
	Log       LogConfig        `mapstructure:"log"`
	Storage   StorageConfig    `mapstructure:"storage"`
	GCP       GCPConfig        `mapstructure:"gcp"`
}

type ExchangeConfig struct {
	Name           string        `mapstructure:"name"`
	Kind           string        `mapstructure:"kind"`
	BaseURL        string        `mapstructure:"base_url"`
	WSPublicURL    string        `mapstructure:"ws_public_url"`
	WSPrivateURL   string        `mapstructure:"ws_private_url"`
	Category       string        `mapstructure:"category"`
	AccountType    string        `mapstructure:"account_type"`
	SettleCoin     string        `mapstructure:"settle_coin"`
	APIKey         string        `mapstructure:"api_key"`
	Secret         string        `mapstructure:"secret"`
	APIKeySecret   string        `mapstructure:"api_key_secret"`
	SecretSecret   string        `mapstructure:"secret_secret"`
	RateLimit      float64       `mapstructure:"rate_limit"`
	RateBurst      int           `mapstructure:"rate_burst"`
	Timeout        time.Duration `mapstructure:"timeout"`
	ResyncInterval time.Duration `mapstructure:"resync_interval"`
	PaperBalance   float64       `mapstructure:"paper_balance"`
}

type PairConfig struct {
	Exchange  string         `mapstructure:"exchange" yaml:"exchange"`
	Symbol    string         `mapstructure:"symbol" yaml:"symbol"`
	Watchdogs []WatchdogSpec `mapstructure:"watchdogs" yaml:"watchdogs"`
}

const (
	WatchdogStopLoss      = "stoploss"
	WatchdogRiskReward    = "risk_reward_ratio"
	WatchdogStopLossWatch = "stoploss_watch"
	WatchdogTrailingStop  = "trailing_stop"
)

type WatchdogSpec struct {
	Type          string  `mapstructure:"type" yaml:"type"`
	Percent       float64 `mapstructure:"percent" yaml:"percent"`
	TargetPercent float64 `mapstructure:"target_percent" yaml:"target_percent"`
	StopPercent   float64 `mapstructure:"stop_percent" yaml:"stop_percent"`
	MaxLoss       float64 `mapstructure:"max_loss" yaml:"max_loss"`
}

type EngineConfig struct {
	MaxRetries       int           `mapstructure:"max_retries"`
	MaxIntentAge     time.Duration `mapstructure:"max_intent_age"`
	SweepTimeout     time.Duration `mapstructure:"sweep_timeout"`
	AdoptTolerance   float64       `mapstructure:"adopt_tolerance_percent"`
	RepriceTolerance float64       `mapstructure:"reprice_tolerance_percent"`
	CancelWorkers    int           `mapstructure:"cancel_workers"`
	RetryAttempts    int           `mapstructure:"retry_attempts"`
	RetryBackoff     time.Duration `mapstructure:"retry_backoff"`
}

func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		MaxRetries:       10,
		MaxIntentAge:     60 * time.Minute,
		SweepTimeout:     2 * time.Minute,
		AdoptTolerance:   0.45,
		RepriceTolerance: 0.45,
		CancelWorkers:    3,
		RetryAttempts:    3,
		RetryBackoff:     time.Second,
	}
}

type WatchdogConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

type RuntimeConfig struct {
	DryRun              bool          `mapstructure:"dry_run"`
	RestoreStateOnStart bool          `mapstructure:"restore_state_on_start"`
	SweepInterval       time.Duration `mapstructure:"sweep_interval"`
	TickerMaxAge        time.Duration `mapstructure:"ticker_max_age"`
	LedgerRetention     time.Duration `mapstructure:"ledger_retention"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

type StorageConfig struct {
	SQLitePath string `mapstructure:"sqlite_path"`
}

type GCPConfig struct {
	ProjectID  string `mapstructure:"project_id"`
	UseSecrets bool   `mapstructure:"use_secrets"`
}

// Load reads path, or configs/config.yaml when path is empty. A missing
// default file is fine, defaults and INTENTBOT_* variables still apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("configs")
	}

	v.SetEnvPrefix("INTENTBOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("Не удалось прочитать конфиг: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("Не удалось разобрать конфиг: %w", err)
	}

	for i := range cfg.Exchanges {
		ex := &cfg.Exchanges[i]
		ex.APIKey = envSub(ex.APIKey)
		ex.Secret = envSub(ex.Secret)
		applyExchangeDefaults(ex)
	}

	if cfg.PairsFile != "" {
		pairs, err := LoadPairs(cfg.PairsFile)
		if err != nil {
			return nil, err
		}
		cfg.Pairs = append(cfg.Pairs, pairs...)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	engine := DefaultEngineConfig()
	v.SetDefault("engine.max_retries", engine.MaxRetries)
	v.SetDefault("engine.max_intent_age", engine.MaxIntentAge)
	v.SetDefault("engine.sweep_timeout", engine.SweepTimeout)
	v.SetDefault("engine.adopt_tolerance_percent", engine.AdoptTolerance)
	v.SetDefault("engine.reprice_tolerance_percent", engine.RepriceTolerance)
	v.SetDefault("engine.cancel_workers", engine.CancelWorkers)
	v.SetDefault("engine.retry_attempts", engine.RetryAttempts)
	v.SetDefault("engine.retry_backoff", engine.RetryBackoff)

	v.SetDefault("watchdog.interval", 10*time.Second)

	v.SetDefault("runtime.dry_run", true)
	v.SetDefault("runtime.restore_state_on_start", true)
	v.SetDefault("runtime.sweep_interval", 5*time.Second)
	v.SetDefault("runtime.ticker_max_age", time.Minute)
	v.SetDefault("runtime.ledger_retention", 10*time.Minute)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file", "stdout")
	v.SetDefault("log.max_size", 50)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age", 14)
	v.SetDefault("log.compress", true)

	v.SetDefault("storage.sqlite_path", "")
	v.SetDefault("gcp.use_secrets", false)
}

func applyExchangeDefaults(ex *ExchangeConfig) {
	if ex.Kind == "" {
		ex.Kind = ex.Name
	}
	if ex.Kind != "bybit" {
		return
	}
	if ex.BaseURL == "" {
		ex.BaseURL = "https://api.bybit.com"
	}
	if ex.WSPublicURL == "" {
		ex.WSPublicURL = "wss://stream.bybit.com/v5/public/linear"
	}
	if ex.WSPrivateURL == "" {
		ex.WSPrivateURL = "wss://stream.bybit.com/v5/private"
	}
	if ex.Category == "" {
		ex.Category = "linear"
	}
	if ex.AccountType == "" {
		ex.AccountType = "UNIFIED"
	}
	if ex.SettleCoin == "" {
		ex.SettleCoin = "USDT"
	}
	if ex.RateLimit <= 0 {
		ex.RateLimit = 10
	}
	if ex.RateBurst <= 0 {
		ex.RateBurst = 5
	}
	if ex.Timeout <= 0 {
		ex.Timeout = 15 * time.Second
	}
	if ex.ResyncInterval <= 0 {
		ex.ResyncInterval = 30 * time.Second
	}
}

func (c *Config) Validate() error {
	names := make(map[string]bool, len(c.Exchanges))
	for _, ex := range c.Exchanges {
		if ex.Name == "" {
			return errors.New("У биржи не задано имя")
		}
		if names[ex.Name] {
			return fmt.Errorf("Биржа %s описана дважды", ex.Name)
		}
		names[ex.Name] = true
		switch ex.Kind {
		case "bybit", "paper":
		default:
			return fmt.Errorf("Неизвестный тип биржи %q у %s", ex.Kind, ex.Name)
		}
	}

	seen := make(map[string]bool, len(c.Pairs))
	for _, pair := range c.Pairs {
		if !names[pair.Exchange] {
			return fmt.Errorf("Пара %s ссылается на неизвестную биржу %q", pair.Symbol, pair.Exchange)
		}
		if pair.Symbol == "" {
			return fmt.Errorf("Пустая пара у биржи %s", pair.Exchange)
		}
		key := pair.Exchange + "/" + pair.Symbol
		if seen[key] {
			return fmt.Errorf("Пара %s описана дважды", key)
		}
		seen[key] = true
		for _, w := range pair.Watchdogs {
			if err := w.Validate(); err != nil {
				return fmt.Errorf("Пара %s: %w", key, err)
			}
		}
	}

	if c.Engine.MaxRetries <= 0 || c.Engine.MaxIntentAge <= 0 || c.Engine.SweepTimeout <= 0 {
		return errors.New("Некорректные лимиты движка")
	}
	return nil
}

func (w WatchdogSpec) Validate() error {
	switch w.Type {
	case WatchdogStopLoss:
		if w.Percent <= 0 {
			return fmt.Errorf("%s: percent должен быть больше нуля", w.Type)
		}
	case WatchdogRiskReward:
		if w.TargetPercent <= 0 && w.StopPercent <= 0 {
			return fmt.Errorf("%s: нужен target_percent или stop_percent", w.Type)
		}
	case WatchdogStopLossWatch:
		if w.MaxLoss <= 0 {
			return fmt.Errorf("%s: max_loss должен быть больше нуля", w.Type)
		}
	case WatchdogTrailingStop:
		if w.StopPercent <= 0 {
			return fmt.Errorf("%s: stop_percent должен быть больше нуля", w.Type)
		}
	default:
		return fmt.Errorf("Неизвестный тип вотчдога %q", w.Type)
	}
	return nil
}

func (c *Config) Exchange(name string) (ExchangeConfig, bool) {
	for _, ex := range c.Exchanges {
		if ex.Name == name {
			return ex, true
		}
	}
	return ExchangeConfig{}, false
}

// Symbols lists the configured pairs of one exchange.
func (c *Config) Symbols(exchange string) []string {
	var symbols []string
	for _, pair := range c.Pairs {
		if pair.Exchange == exchange {
			symbols = append(symbols, pair.Symbol)
		}
	}
	return symbols
}

type SecretSource interface {
	GetSecret(ctx context.Context, name string) (string, error)
}

// ResolveSecrets fills empty credentials from the secret source by the
// configured secret names.
func (c *Config) ResolveSecrets(ctx context.Context, source SecretSource) error {
	for i := range c.Exchanges {
		ex := &c.Exchanges[i]
		if ex.APIKey == "" && ex.APIKeySecret != "" {
			value, err := source.GetSecret(ctx, ex.APIKeySecret)
			if err != nil {
				return fmt.Errorf("Не удалось получить ключ биржи %s: %w", ex.Name, err)
			}
			ex.APIKey = strings.TrimSpace(value)
		}
		if ex.Secret == "" && ex.SecretSecret != "" {
			value, err := source.GetSecret(ctx, ex.SecretSecret)
			if err != nil {
				return fmt.Errorf("Не удалось получить секрет биржи %s: %w", ex.Name, err)
			}
			ex.Secret = strings.TrimSpace(value)
		}
	}
	return nil
}

var envPattern = regexp.MustCompile(`\$\{(\w+)\}`)

func envSub(val string) string {
	if val == "" {
		return ""
	}
	return envPattern.ReplaceAllStringFunc(val, func(match string) string {
		envKey := strings.TrimSuffix(strings.TrimPrefix(match, "${"), "}")
		return os.Getenv(envKey)
	})
}
