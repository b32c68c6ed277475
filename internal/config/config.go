package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"payment-router/internal/analyzer"
	"payment-router/internal/dispatch"
	"payment-router/internal/logging"
	"payment-router/internal/payment"
	"payment-router/internal/registry"
	"payment-router/internal/risk"
	"payment-router/internal/synth"
)

// Config materialises application configuration.
type Config struct {
	App        AppConfig         `mapstructure:"app"`
	Logging    logging.Config    `mapstructure:"logging"`
	Database   DatabaseConfig    `mapstructure:"database"`
	Scheduler  SchedulerConfig   `mapstructure:"scheduler"`
	Metrics    MetricsConfig     `mapstructure:"metrics"`
	Risk       RiskConfig        `mapstructure:"risk"`
	Analyzer   AnalyzerConfig    `mapstructure:"analyzer"`
	Routing    RoutingConfig     `mapstructure:"routing"`
	Monitor    MonitorConfig     `mapstructure:"monitor"`
	Generator  GeneratorConfig   `mapstructure:"generator"`
	Processors []ProcessorConfig `mapstructure:"processors"`
	Dispatch   DispatchConfig    `mapstructure:"dispatch"`
	Alerting   AlertingConfig    `mapstructure:"alerting"`
	Export     ExportConfig      `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity. An empty DSN disables
// auditing.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ApplySchema     bool          `mapstructure:"apply_schema"`
}

// SchedulerConfig governs the health monitor cadence.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	AlignToBucket   bool          `mapstructure:"align_to_bucket"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
}

// MetricsConfig controls the Prometheus listener.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
	Path    string `mapstructure:"path"`
}

// RiskConfig holds classifier thresholds. Amounts are in major units.
type RiskConfig struct {
	HighValueAmount      float64 `mapstructure:"high_value_amount"`
	RefundFreezeRate     float64 `mapstructure:"refund_freeze_rate"`
	ChargebackFreezeRate float64 `mapstructure:"chargeback_freeze_rate"`
	FreezeBreachPoints   float64 `mapstructure:"freeze_breach_points"`
	HighTierScore        float64 `mapstructure:"high_tier_score"`
	MediumTierScore      float64 `mapstructure:"medium_tier_score"`
	MaxEffort            string  `mapstructure:"max_effort"`
}

// AnalyzerConfig tunes the freeze-risk analyzer.
type AnalyzerConfig struct {
	Window                time.Duration `mapstructure:"window"`
	ExpectedDailyVolume   float64       `mapstructure:"expected_daily_volume"`
	SpikeFreezeMultiplier float64       `mapstructure:"spike_freeze_multiplier"`
	SpikeReviewMultiplier float64       `mapstructure:"spike_review_multiplier"`
	HourlyPeakMultiplier  float64       `mapstructure:"hourly_peak_multiplier"`
	RapidInterval         time.Duration `mapstructure:"rapid_interval"`
	RapidShare            float64       `mapstructure:"rapid_share"`
	RapidRefundWindow     time.Duration `mapstructure:"rapid_refund_window"`
	RapidRefundMin        int           `mapstructure:"rapid_refund_min"`
	AnomalySpread         float64       `mapstructure:"anomaly_spread"`
	Strict                bool          `mapstructure:"strict"`
}

// RoutingConfig bounds the caller-side fallback loop.
type RoutingConfig struct {
	MaxAttempts int `mapstructure:"max_attempts"`
}

// MonitorConfig sets health derivation thresholds and probe behaviour.
type MonitorConfig struct {
	MinSuccessRate float64       `mapstructure:"min_success_rate"`
	MaxLatency     time.Duration `mapstructure:"max_latency"`
	ProbeTimeout   time.Duration `mapstructure:"probe_timeout"`
	Concurrency    int           `mapstructure:"concurrency"`
	UserAgent      string        `mapstructure:"user_agent"`
	EventRetention time.Duration `mapstructure:"event_retention"`
}

// GeneratorConfig supplies defaults for synthetic batches. Amounts are in
// major units.
type GeneratorConfig struct {
	Days            int           `mapstructure:"days"`
	DailyVolume     int           `mapstructure:"daily_volume"`
	MeanAmount      float64       `mapstructure:"mean_amount"`
	SpikeMultiplier int           `mapstructure:"spike_multiplier"`
	SpikeWindow     time.Duration `mapstructure:"spike_window"`
	RefundRate      float64       `mapstructure:"refund_rate"`
	ChargebackRate  float64       `mapstructure:"chargeback_rate"`
	ChargebackFee   float64       `mapstructure:"chargeback_fee"`
	Currency        string        `mapstructure:"currency"`
	Workers         int           `mapstructure:"workers"`
}

// ProcessorConfig describes one downstream processor. Amounts are in major
// units.
type ProcessorConfig struct {
	ID          string        `mapstructure:"id"`
	Name        string        `mapstructure:"name"`
	Kind        string        `mapstructure:"kind"`
	FeeRate     float64       `mapstructure:"fee_rate"`
	FeeFixed    float64       `mapstructure:"fee_fixed"`
	SuccessRate float64       `mapstructure:"success_rate"`
	Latency     time.Duration `mapstructure:"latency"`
	Priority    int           `mapstructure:"priority"`
	MaxAmount   float64       `mapstructure:"max_amount"`
	StatusURL   string        `mapstructure:"status_url"`
	Health      string        `mapstructure:"health"`
}

// DispatchConfig drives the simulated dispatcher.
type DispatchConfig struct {
	Seed     int64                            `mapstructure:"seed"`
	Sleep    bool                             `mapstructure:"sleep"`
	Profiles map[string]dispatch.Distribution `mapstructure:"profiles"`
}

// AlertingConfig defines alert routing.
type AlertingConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Cooldown time.Duration  `mapstructure:"cooldown"`
	Channels []string       `mapstructure:"channels"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig describes the Telegram channel.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int           `mapstructure:"max_data_points"`
	Bucket        time.Duration `mapstructure:"bucket"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PAYROUTER")
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
	v.SetDefault("app.name", "payrouter")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stderr")

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.apply_schema", true)

	v.SetDefault("scheduler.interval", "30s")
	v.SetDefault("scheduler.align_to_bucket", false)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x70617972))
	v.SetDefault("scheduler.startup_delay", "0s")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.listen", ":9464")
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("risk.high_value_amount", 10000.0)
	v.SetDefault("risk.refund_freeze_rate", 0.05)
	v.SetDefault("risk.chargeback_freeze_rate", 0.01)
	v.SetDefault("risk.freeze_breach_points", 40.0)
	v.SetDefault("risk.high_tier_score", 40.0)
	v.SetDefault("risk.medium_tier_score", 20.0)
	v.SetDefault("risk.max_effort", "high")

	v.SetDefault("analyzer.window", "24h")
	v.SetDefault("analyzer.expected_daily_volume", 50.0)
	v.SetDefault("analyzer.spike_freeze_multiplier", 10.0)
	v.SetDefault("analyzer.spike_review_multiplier", 5.0)
	v.SetDefault("analyzer.hourly_peak_multiplier", 5.0)
	v.SetDefault("analyzer.rapid_interval", "1m")
	v.SetDefault("analyzer.rapid_share", 0.3)
	v.SetDefault("analyzer.rapid_refund_window", "1h")
	v.SetDefault("analyzer.rapid_refund_min", 5)
	v.SetDefault("analyzer.anomaly_spread", 2.0)
	v.SetDefault("analyzer.strict", false)

	v.SetDefault("routing.max_attempts", 3)

	v.SetDefault("monitor.min_success_rate", 0.95)
	v.SetDefault("monitor.max_latency", "3s")
	v.SetDefault("monitor.probe_timeout", "5s")
	v.SetDefault("monitor.concurrency", 4)
	v.SetDefault("monitor.user_agent", "payrouter/1.0")
	v.SetDefault("monitor.event_retention", "720h")

	v.SetDefault("generator.days", 7)
	v.SetDefault("generator.daily_volume", 50)
	v.SetDefault("generator.mean_amount", 85.0)
	v.SetDefault("generator.spike_multiplier", 12)
	v.SetDefault("generator.spike_window", "3h")
	v.SetDefault("generator.refund_rate", 0.15)
	v.SetDefault("generator.chargeback_rate", 0.03)
	v.SetDefault("generator.chargeback_fee", 15.0)
	v.SetDefault("generator.currency", "USD")
	v.SetDefault("generator.workers", 4)

	v.SetDefault("dispatch.seed", int64(1))
	v.SetDefault("dispatch.sleep", false)

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.cooldown", "30m")
	v.SetDefault("alerting.channels", []string{"log"})
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("export.max_data_points", 10000)
	v.SetDefault("export.bucket", "1h")
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
func (c *Config) Validate() error {
	if err := c.Logging.Validate(); err != nil {
		return err
	}
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Metrics.Enabled && c.Metrics.Listen == "" {
		return fmt.Errorf("metrics.listen is required when metrics are enabled")
	}
	if c.Routing.MaxAttempts <= 0 {
		return fmt.Errorf("routing.max_attempts must be greater than zero")
	}
	if c.Analyzer.Window <= 0 {
		return fmt.Errorf("analyzer.window must be greater than zero")
	}
	if c.Monitor.MinSuccessRate < 0 || c.Monitor.MinSuccessRate > 1 {
		return fmt.Errorf("monitor.min_success_rate must be within [0,1]")
	}
	if c.Monitor.MaxLatency <= 0 {
		return fmt.Errorf("monitor.max_latency must be greater than zero")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Export.Bucket <= 0 {
		return fmt.Errorf("export.bucket must be greater than zero")
	}
	if _, err := risk.NewClassifier(c.Thresholds()); err != nil {
		return fmt.Errorf("risk: %w", err)
	}
	if _, err := analyzer.New(c.AnalyzerSettings()); err != nil {
		return err
	}
	if _, _, err := c.Catalog(); err != nil {
		return err
	}
	for id, dist := range c.Dispatch.Profiles {
		if err := dist.Validate(); err != nil {
			return fmt.Errorf("dispatch.profiles.%s: %w", id, err)
		}
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token is required")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id is required")
		}
	}
	return nil
}

// Thresholds converts the risk section into classifier thresholds.
func (c *Config) Thresholds() risk.Thresholds {
	return risk.Thresholds{
		HighValueAmount:      payment.ToMinor(decimal.NewFromFloat(c.Risk.HighValueAmount)),
		RefundFreezeRate:     c.Risk.RefundFreezeRate,
		ChargebackFreezeRate: c.Risk.ChargebackFreezeRate,
		FreezeBreachPoints:   c.Risk.FreezeBreachPoints,
		HighTierScore:        c.Risk.HighTierScore,
		MediumTierScore:      c.Risk.MediumTierScore,
		MaxEffort:            risk.Effort(strings.ToLower(c.Risk.MaxEffort)),
	}
}

// AnalyzerSettings converts the analyzer section. The high-value reference is
// shared with the classifier.
func (c *Config) AnalyzerSettings() analyzer.Config {
	return analyzer.Config{
		ExpectedDailyVolume:   c.Analyzer.ExpectedDailyVolume,
		SpikeFreezeMultiplier: c.Analyzer.SpikeFreezeMultiplier,
		SpikeReviewMultiplier: c.Analyzer.SpikeReviewMultiplier,
		HighValueAmount:       payment.ToMinor(decimal.NewFromFloat(c.Risk.HighValueAmount)),
		HourlyPeakMultiplier:  c.Analyzer.HourlyPeakMultiplier,
		RapidInterval:         c.Analyzer.RapidInterval,
		RapidShare:            c.Analyzer.RapidShare,
		RapidRefundWindow:     c.Analyzer.RapidRefundWindow,
		RapidRefundMin:        c.Analyzer.RapidRefundMin,
		AnomalySpread:         c.Analyzer.AnomalySpread,
		Strict:                c.Analyzer.Strict,
	}
}

// GeneratorParams fills synthetic batch parameters from the generator
// section.
func (c *Config) GeneratorParams(pattern synth.Pattern, seed int64, start time.Time) synth.Params {
	g := c.Generator
	return synth.Params{
		Pattern:         pattern,
		Seed:            seed,
		Start:           start,
		Days:            g.Days,
		DailyVolume:     g.DailyVolume,
		MeanAmount:      payment.ToMinor(decimal.NewFromFloat(g.MeanAmount)),
		SpikeMultiplier: g.SpikeMultiplier,
		SpikeWindow:     g.SpikeWindow,
		RefundRate:      g.RefundRate,
		ChargebackRate:  g.ChargebackRate,
		ChargebackFee:   payment.ToMinor(decimal.NewFromFloat(g.ChargebackFee)),
		Currency:        g.Currency,
	}
}

// Catalog returns the configured processors and their initial health,
// falling back to the reference catalog when none are configured.
func (c *Config) Catalog() ([]payment.Processor, map[string]payment.Health, error) {
	health := make(map[string]payment.Health)
	if len(c.Processors) == 0 {
		procs := registry.DefaultCatalog()
		for _, p := range procs {
			health[p.ID] = payment.HealthActive
		}
		return procs, health, nil
	}

	procs := make([]payment.Processor, 0, len(c.Processors))
	for i, pc := range c.Processors {
		if strings.TrimSpace(pc.ID) == "" {
			return nil, nil, fmt.Errorf("processors[%d].id is required", i)
		}
		if _, dup := health[pc.ID]; dup {
			return nil, nil, fmt.Errorf("processors[%d]: duplicate id %q", i, pc.ID)
		}
		h := payment.HealthActive
		if pc.Health != "" {
			parsed, err := payment.ParseHealth(pc.Health)
			if err != nil {
				return nil, nil, fmt.Errorf("processors[%d].health: %w", i, err)
			}
			h = parsed
		}
		health[pc.ID] = h

		name := pc.Name
		if name == "" {
			name = pc.ID
		}
		procs = append(procs, payment.Processor{
			ID:   pc.ID,
			Name: name,
			Kind: pc.Kind,
			Fee: payment.FeeModel{
				Rate:  decimal.NewFromFloat(pc.FeeRate),
				Fixed: payment.ToMinor(decimal.NewFromFloat(pc.FeeFixed)),
			},
			SuccessRate: pc.SuccessRate,
			Latency:     pc.Latency,
			Priority:    pc.Priority,
			MaxAmount:   payment.ToMinor(decimal.NewFromFloat(pc.MaxAmount)),
			StatusURL:   pc.StatusURL,
		})
	}
	return procs, health, nil
}

// DispatchProfiles builds simulation profiles for procs, applying configured
// overrides on top of each processor's published success rate.
func (c *Config) DispatchProfiles(procs []payment.Processor) map[string]dispatch.Profile {
	profiles := make(map[string]dispatch.Profile, len(procs))
	for _, p := range procs {
		profile := dispatch.ProfileFor(p)
		if dist, ok := c.Dispatch.Profiles[p.ID]; ok {
			profile.Outcomes = dist
		}
		profiles[p.ID] = profile
	}
	return profiles
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
