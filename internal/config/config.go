package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"

	"github.com/Veraticus/under-the-hammer/internal/common"
)

// Config holds the full application configuration.
type Config struct {
	Database  DatabaseConfig
	Logging   LoggingConfig
	Scheduler SchedulerConfig
	Scanner   ScannerConfig
	Sync      SyncConfig
	Providers ProvidersConfig
	LLM       LLMConfig
}

// DatabaseConfig controls SQLite storage.
type DatabaseConfig struct {
	Path string
}

// LoggingConfig controls slog output.
type LoggingConfig struct {
	Level  string
	Format string
}

// SchedulerConfig controls the periodic background jobs.
type SchedulerConfig struct {
	ScanInterval          time.Duration
	InitialScanDelay      time.Duration
	BriefingCheckInterval time.Duration
	SyncInterval          time.Duration
	Timezone              string
	BriefingHour          int
}

// ScannerConfig controls deadline and staleness thresholds.
type ScannerConfig struct {
	ConditionLeadDays  int
	SettlementLeadDays int
	StaleDealDays      int
}

// SyncConfig controls mailbox sync retry behavior.
type SyncConfig struct {
	RetryDelays   []time.Duration
	MaxRetries    int
	MaxConcurrent int
}

// OAuthClientConfig holds one provider's OAuth application credentials.
type OAuthClientConfig struct {
	ClientID     string
	ClientSecret string
}

// ProvidersConfig holds OAuth credentials per mail provider.
type ProvidersConfig struct {
	Google    OAuthClientConfig
	Microsoft OAuthClientConfig
	Yahoo     OAuthClientConfig
}

// LLMConfig controls the thread classifier.
type LLMConfig struct {
	APIKey            string
	Model             string
	RequestsPerMinute int
}

// Load hydrates a Config from Viper and environment variables.
// It follows this precedence:
// 1. Viper configuration (from config file or HAMMER_ env vars)
// 2. Direct environment variables (GOOGLE_CLIENT_ID, GEMINI_API_KEY, ...)
// 3. Default values
func Load() (*Config, error) {
	setDefaults()

	cfg := &Config{
		Database: DatabaseConfig{
			Path: ExpandPath(viper.GetString("database.path")),
		},
		Logging: LoggingConfig{
			Level:  viper.GetString("logging.level"),
			Format: viper.GetString("logging.format"),
		},
		Scheduler: SchedulerConfig{
			ScanInterval:          viper.GetDuration("scheduler.scan_interval"),
			InitialScanDelay:      viper.GetDuration("scheduler.initial_scan_delay"),
			BriefingCheckInterval: viper.GetDuration("scheduler.briefing_check_interval"),
			SyncInterval:          viper.GetDuration("scheduler.sync_interval"),
			Timezone:              viper.GetString("scheduler.timezone"),
			BriefingHour:          viper.GetInt("scheduler.briefing_hour"),
		},
		Scanner: ScannerConfig{
			ConditionLeadDays:  viper.GetInt("scanner.condition_lead_days"),
			SettlementLeadDays: viper.GetInt("scanner.settlement_lead_days"),
			StaleDealDays:      viper.GetInt("scanner.stale_deal_days"),
		},
		Sync: SyncConfig{
			MaxRetries:    viper.GetInt("sync.max_retries"),
			MaxConcurrent: viper.GetInt("sync.max_concurrent"),
		},
		Providers: ProvidersConfig{
			Google: OAuthClientConfig{
				ClientID:     viper.GetString("providers.google.client_id"),
				ClientSecret: viper.GetString("providers.google.client_secret"),
			},
			Microsoft: OAuthClientConfig{
				ClientID:     viper.GetString("providers.microsoft.client_id"),
				ClientSecret: viper.GetString("providers.microsoft.client_secret"),
			},
			Yahoo: OAuthClientConfig{
				ClientID:     viper.GetString("providers.yahoo.client_id"),
				ClientSecret: viper.GetString("providers.yahoo.client_secret"),
			},
		},
		LLM: LLMConfig{
			APIKey:            viper.GetString("llm.api_key"),
			Model:             viper.GetString("llm.model"),
			RequestsPerMinute: viper.GetInt("llm.requests_per_minute"),
		},
	}

	delays, err := parseDelays(viper.GetStringSlice("sync.retry_delays"))
	if err != nil {
		return nil, err
	}
	cfg.Sync.RetryDelays = delays

	applyEnvFallbacks(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func setDefaults() {
	viper.SetDefault("database.path", "~/.local/share/hammer/hammer.db")
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "console")
	viper.SetDefault("scheduler.scan_interval", "1h")
	viper.SetDefault("scheduler.initial_scan_delay", "1m")
	viper.SetDefault("scheduler.briefing_check_interval", "30m")
	viper.SetDefault("scheduler.sync_interval", "15m")
	viper.SetDefault("scheduler.timezone", "Pacific/Auckland")
	viper.SetDefault("scheduler.briefing_hour", 7)
	viper.SetDefault("scanner.condition_lead_days", 3)
	viper.SetDefault("scanner.settlement_lead_days", 7)
	viper.SetDefault("scanner.stale_deal_days", 14)
	viper.SetDefault("sync.max_retries", 3)
	viper.SetDefault("sync.retry_delays", []string{"1m", "5m", "15m"})
	viper.SetDefault("sync.max_concurrent", 4)
	viper.SetDefault("llm.model", "gemini-1.5-flash")
	viper.SetDefault("llm.requests_per_minute", 60)
}

func applyEnvFallbacks(cfg *Config) {
	if cfg.Providers.Google.ClientID == "" {
		cfg.Providers.Google.ClientID = os.Getenv("GOOGLE_CLIENT_ID")
	}
	if cfg.Providers.Google.ClientSecret == "" {
		cfg.Providers.Google.ClientSecret = os.Getenv("GOOGLE_CLIENT_SECRET")
	}
	if cfg.Providers.Microsoft.ClientID == "" {
		cfg.Providers.Microsoft.ClientID = os.Getenv("MICROSOFT_CLIENT_ID")
	}
	if cfg.Providers.Microsoft.ClientSecret == "" {
		cfg.Providers.Microsoft.ClientSecret = os.Getenv("MICROSOFT_CLIENT_SECRET")
	}
	if cfg.Providers.Yahoo.ClientID == "" {
		cfg.Providers.Yahoo.ClientID = os.Getenv("YAHOO_CLIENT_ID")
	}
	if cfg.Providers.Yahoo.ClientSecret == "" {
		cfg.Providers.Yahoo.ClientSecret = os.Getenv("YAHOO_CLIENT_SECRET")
	}
	if cfg.LLM.APIKey == "" {
		cfg.LLM.APIKey = os.Getenv("GEMINI_API_KEY")
	}
}

func parseDelays(raw []string) ([]time.Duration, error) {
	delays := make([]time.Duration, 0, len(raw))
	for _, s := range raw {
		d, err := time.ParseDuration(s)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid sync.retry_delays entry %q: %v", common.ErrInvalidConfig, s, err)
		}
		if d <= 0 {
			return nil, fmt.Errorf("%w: sync.retry_delays entries must be positive, got %q", common.ErrInvalidConfig, s)
		}
		delays = append(delays, d)
	}
	return delays, nil
}

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("%w: database.path is required", common.ErrInvalidConfig)
	}
	if c.Scheduler.BriefingHour < 0 || c.Scheduler.BriefingHour > 23 {
		return fmt.Errorf("%w: scheduler.briefing_hour must be between 0 and 23, got %d", common.ErrInvalidConfig, c.Scheduler.BriefingHour)
	}
	if _, err := time.LoadLocation(c.Scheduler.Timezone); err != nil {
		return fmt.Errorf("%w: unknown scheduler.timezone %q", common.ErrInvalidConfig, c.Scheduler.Timezone)
	}
	if c.Scheduler.ScanInterval <= 0 {
		return fmt.Errorf("%w: scheduler.scan_interval must be positive", common.ErrInvalidConfig)
	}
	if c.Scheduler.SyncInterval < 0 {
		return fmt.Errorf("%w: scheduler.sync_interval cannot be negative, use 0 to disable", common.ErrInvalidConfig)
	}
	if c.Sync.MaxRetries < 0 {
		return fmt.Errorf("%w: sync.max_retries cannot be negative", common.ErrInvalidConfig)
	}
	if c.Sync.MaxConcurrent < 1 {
		return fmt.Errorf("%w: sync.max_concurrent must be at least 1", common.ErrInvalidConfig)
	}
	if len(c.Sync.RetryDelays) == 0 {
		return fmt.Errorf("%w: sync.retry_delays cannot be empty", common.ErrInvalidConfig)
	}
	return nil
}

// Location returns the scheduler timezone. Validate has already checked
// it parses, so a failed lookup falls back to the system local zone.
func (c SchedulerConfig) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}
