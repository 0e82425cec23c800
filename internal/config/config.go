// Package config loads the engine's configuration surface (§6) through a
// layered viper setup: built-in defaults, an optional config.yaml, then
// environment variables, in that precedence order.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// RiskConfig covers the risk-related options in §6.
type RiskConfig struct {
	MaxPositionSizePct     float64 `mapstructure:"max_position_size_pct"`
	MaxDailyLossPct        float64 `mapstructure:"max_daily_loss_pct"`
	MaxDrawdownPct         float64 `mapstructure:"max_drawdown_pct"`
	ConsecutiveLossLimit   int     `mapstructure:"consecutive_loss_limit"`
	MinProfitRatio         float64 `mapstructure:"min_profit_ratio"`
	ProfitTargetMultiplier float64 `mapstructure:"profit_target_multiplier"`
	RiskPerTradePct        float64 `mapstructure:"risk_per_trade_pct"`
	MaxSectorExposurePct   float64 `mapstructure:"max_sector_exposure_pct"`
	MaxCorrelation         float64 `mapstructure:"max_correlation"`
	PriceAnomalyMaxDevPct  float64 `mapstructure:"price_anomaly_max_deviation_pct"`
	PDTEquityThreshold     float64 `mapstructure:"pdt_equity_threshold"`
	PDTDayTradeLimit       int     `mapstructure:"pdt_day_trade_limit"`
}

// SizingConfig covers the Analyst's position-sizing surface (§4.5).
type SizingConfig struct {
	RiskPerTradePct       float64       `mapstructure:"risk_per_trade_pct"`
	ATRStopMultiplier     float64       `mapstructure:"atr_stop_multiplier"`
	ATRProfitMultiplier   float64       `mapstructure:"atr_profit_multiplier"`
	CooldownDuration      time.Duration `mapstructure:"cooldown_duration"`
	MinHoldDuration       time.Duration `mapstructure:"min_hold_duration"`
	QuantityStep          float64       `mapstructure:"quantity_step"`
	KellyFraction         float64       `mapstructure:"kelly_fraction"`
	UseRegimeSelection    bool          `mapstructure:"use_regime_selection"`
}

// StrategyConfig covers §6's strategy parameter surface.
type StrategyConfig struct {
	Mode                  string  `mapstructure:"strategy_mode"`
	FastSMAPeriod         int     `mapstructure:"fast_sma_period"`
	SlowSMAPeriod         int     `mapstructure:"slow_sma_period"`
	TrendSMAPeriod        int     `mapstructure:"trend_sma_period"`
	RSIPeriod             int     `mapstructure:"rsi_period"`
	MACDFast              int     `mapstructure:"macd_fast"`
	MACDSlow              int     `mapstructure:"macd_slow"`
	MACDSignal            int     `mapstructure:"macd_signal"`
	ATRPeriod             int     `mapstructure:"atr_period"`
	ADXPeriod             int     `mapstructure:"adx_period"`
	ADXThreshold          float64 `mapstructure:"adx_threshold"`
	BBPeriod              int     `mapstructure:"bb_period"`
	BBStdDev              float64 `mapstructure:"bb_std_dev"`
	BreakoutPeriod        int     `mapstructure:"breakout_period"`
	ZScorePeriod          int     `mapstructure:"zscore_period"`
	StatMomentumPeriod    int     `mapstructure:"stat_momentum_period"`
	VotingThreshold       float64 `mapstructure:"voting_threshold"`
	SignalConfirmBars     int     `mapstructure:"signal_confirmation_bars"`
	MLNeutralScore        float64 `mapstructure:"ml_neutral_score"`
	MLThreshold           float64 `mapstructure:"ml_threshold"`
	EnsembleWeights       map[string]float64 `mapstructure:"ensemble_weights"`
}

// CostsConfig covers §6's cost model surface.
type CostsConfig struct {
	CommissionPerShare float64 `mapstructure:"commission_per_share"`
	SlippagePct        float64 `mapstructure:"slippage_pct"`
	SpreadBps          float64 `mapstructure:"spread_bps"`
	FeeModel           string  `mapstructure:"fee_model"`
}

// MarketConfig covers §6's market/connectivity surface.
type MarketConfig struct {
	AssetClass string `mapstructure:"asset_class"`
	WSURL      string `mapstructure:"ws_url"`
	DataURL    string `mapstructure:"data_url"`
	APIKey     string `mapstructure:"api_key"`
	APISecret  string `mapstructure:"api_secret"`
}

// EngineConfig bundles the channel capacities from §5 so they are
// configurable rather than hardcoded magic numbers scattered across components.
type EngineConfig struct {
	GatewayBroadcastCapacity int           `mapstructure:"gateway_broadcast_capacity"`
	SentinelToAnalystCap     int           `mapstructure:"sentinel_to_analyst_capacity"`
	AnalystToRiskCap         int           `mapstructure:"analyst_to_risk_capacity"`
	RiskToThrottlerCap       int           `mapstructure:"risk_to_throttler_capacity"`
	ThrottlerToBrokerCap     int           `mapstructure:"throttler_to_broker_capacity"`
	BrokerToReconcilerCap    int           `mapstructure:"broker_to_reconciler_capacity"`
	HeartbeatInterval        time.Duration `mapstructure:"heartbeat_interval"`
	HeartbeatTimeout          time.Duration `mapstructure:"heartbeat_timeout"`
	ReconnectBaseBackoff      time.Duration `mapstructure:"reconnect_base_backoff"`
	ReconnectMaxBackoff       time.Duration `mapstructure:"reconnect_max_backoff"`
	SentinelTick              time.Duration `mapstructure:"sentinel_tick"`
	SentinelStaleThreshold    time.Duration `mapstructure:"sentinel_stale_threshold"`
	SentinelHealThreshold     time.Duration `mapstructure:"sentinel_heal_threshold"`
	ThrottlerWindow           time.Duration `mapstructure:"throttler_window"`
	ThrottlerMaxPerWindow     int           `mapstructure:"throttler_max_per_window"`
	ThrottlerDrainTick        time.Duration `mapstructure:"throttler_drain_tick"`
	OrderLimitTimeout         time.Duration `mapstructure:"order_limit_timeout"`
	ReconcilerTTL             time.Duration `mapstructure:"reconciler_ttl"`
	ReconcilerTick            time.Duration `mapstructure:"reconciler_tick"`
}

// Config is the top-level configuration surface (§6).
type Config struct {
	Risk     RiskConfig     `mapstructure:"risk"`
	Sizing   SizingConfig   `mapstructure:"sizing"`
	Strategy StrategyConfig `mapstructure:"strategy"`
	Costs    CostsConfig    `mapstructure:"costs"`
	Market   MarketConfig   `mapstructure:"market"`
	Engine   EngineConfig   `mapstructure:"engine"`
	DataDir  string         `mapstructure:"data_dir"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("risk.max_position_size_pct", 0.10)
	v.SetDefault("risk.max_daily_loss_pct", 0.05)
	v.SetDefault("risk.max_drawdown_pct", 0.20)
	v.SetDefault("risk.consecutive_loss_limit", 5)
	v.SetDefault("risk.min_profit_ratio", 1.5)
	v.SetDefault("risk.profit_target_multiplier", 2.0)
	v.SetDefault("risk.risk_per_trade_pct", 0.02)
	v.SetDefault("risk.max_sector_exposure_pct", 0.30)
	v.SetDefault("risk.max_correlation", 0.80)
	v.SetDefault("risk.price_anomaly_max_deviation_pct", 0.05)
	v.SetDefault("risk.pdt_equity_threshold", 25000.0)
	v.SetDefault("risk.pdt_day_trade_limit", 3)

	v.SetDefault("sizing.risk_per_trade_pct", 0.02)
	v.SetDefault("sizing.atr_stop_multiplier", 2.0)
	v.SetDefault("sizing.atr_profit_multiplier", 3.0)
	v.SetDefault("sizing.cooldown_duration", 30*time.Second)
	v.SetDefault("sizing.min_hold_duration", 1*time.Minute)
	v.SetDefault("sizing.quantity_step", 0.0001)
	v.SetDefault("sizing.kelly_fraction", 0.25)
	v.SetDefault("sizing.use_regime_selection", false)

	v.SetDefault("strategy.strategy_mode", "standard")
	v.SetDefault("strategy.fast_sma_period", 20)
	v.SetDefault("strategy.slow_sma_period", 50)
	v.SetDefault("strategy.trend_sma_period", 200)
	v.SetDefault("strategy.rsi_period", 14)
	v.SetDefault("strategy.macd_fast", 12)
	v.SetDefault("strategy.macd_slow", 26)
	v.SetDefault("strategy.macd_signal", 9)
	v.SetDefault("strategy.atr_period", 14)
	v.SetDefault("strategy.adx_period", 14)
	v.SetDefault("strategy.adx_threshold", 25.0)
	v.SetDefault("strategy.bb_period", 20)
	v.SetDefault("strategy.bb_std_dev", 2.0)
	v.SetDefault("strategy.breakout_period", 20)
	v.SetDefault("strategy.zscore_period", 20)
	v.SetDefault("strategy.stat_momentum_period", 20)
	v.SetDefault("strategy.voting_threshold", 0.6)
	v.SetDefault("strategy.signal_confirmation_bars", 2)
	v.SetDefault("strategy.ml_neutral_score", 0.5)
	v.SetDefault("strategy.ml_threshold", 0.6)

	v.SetDefault("costs.commission_per_share", 0.005)
	v.SetDefault("costs.slippage_pct", 0.001)
	v.SetDefault("costs.spread_bps", 5.0)
	v.SetDefault("costs.fee_model", "per_share")

	v.SetDefault("market.asset_class", "crypto")
	v.SetDefault("market.ws_url", "")
	v.SetDefault("market.data_url", "")

	v.SetDefault("engine.gateway_broadcast_capacity", 1000)
	v.SetDefault("engine.sentinel_to_analyst_capacity", 100)
	v.SetDefault("engine.analyst_to_risk_capacity", 32)
	v.SetDefault("engine.risk_to_throttler_capacity", 100)
	v.SetDefault("engine.throttler_to_broker_capacity", 100)
	v.SetDefault("engine.broker_to_reconciler_capacity", 100)
	v.SetDefault("engine.heartbeat_interval", 20*time.Second)
	v.SetDefault("engine.heartbeat_timeout", 5*time.Second)
	v.SetDefault("engine.reconnect_base_backoff", 1*time.Second)
	v.SetDefault("engine.reconnect_max_backoff", 30*time.Second)
	v.SetDefault("engine.sentinel_tick", 2*time.Second)
	v.SetDefault("engine.sentinel_stale_threshold", 30*time.Second)
	v.SetDefault("engine.sentinel_heal_threshold", 60*time.Second)
	v.SetDefault("engine.throttler_window", 1*time.Second)
	v.SetDefault("engine.throttler_max_per_window", 3)
	v.SetDefault("engine.throttler_drain_tick", 100*time.Millisecond)
	v.SetDefault("engine.order_limit_timeout", 30*time.Second)
	v.SetDefault("engine.reconciler_ttl", 5*time.Minute)
	v.SetDefault("engine.reconciler_tick", 10*time.Second)

	v.SetDefault("data_dir", "./data")
}

// Load builds a Config from defaults, an optional file at path, and
// environment variables (ALPACA_API_KEY, ALPACA_SECRET_KEY, ALPACA_WS_URL,
// ALPACA_DATA_URL, SLIPPAGE_PCT, COMMISSION_PER_SHARE, per §6).
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config: reading %s: %w", path, err)
			}
		}
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	bindEnv(v, "market.api_key", "ALPACA_API_KEY")
	bindEnv(v, "market.api_secret", "ALPACA_SECRET_KEY")
	bindEnv(v, "market.ws_url", "ALPACA_WS_URL")
	bindEnv(v, "market.data_url", "ALPACA_DATA_URL")
	bindEnv(v, "costs.slippage_pct", "SLIPPAGE_PCT")
	bindEnv(v, "costs.commission_per_share", "COMMISSION_PER_SHARE")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func bindEnv(v *viper.Viper, key, env string) {
	_ = v.BindEnv(key, env)
}

// Validate enforces the fatal-on-startup contract of §7: missing keys or
// invalid periods must fail before any trading begins.
func (c *Config) Validate() error {
	if c.Strategy.FastSMAPeriod <= 0 || c.Strategy.SlowSMAPeriod <= 0 {
		return fmt.Errorf("config: sma periods must be positive")
	}
	if c.Strategy.FastSMAPeriod >= c.Strategy.SlowSMAPeriod {
		return fmt.Errorf("config: fast_sma_period must be less than slow_sma_period")
	}
	if c.Risk.RiskPerTradePct <= 0 || c.Risk.RiskPerTradePct > 1 {
		return fmt.Errorf("config: risk_per_trade_pct out of range (0,1]")
	}
	if c.Risk.MaxPositionSizePct <= 0 || c.Risk.MaxPositionSizePct > 1 {
		return fmt.Errorf("config: max_position_size_pct out of range (0,1]")
	}
	return nil
}
