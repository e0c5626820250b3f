// Package config is the single configuration value object the rest of the
// engine depends on (spec §6), loaded with viper the way the teacher's
// command binaries load theirs.
package config

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// TradingMode selects which execution path the binary runs.
type TradingMode string

const (
	TradingModeLive         TradingMode = "live"
	TradingModePaperExchange TradingMode = "paper_exchange"
	TradingModeDryRun       TradingMode = "dry_run"
	TradingModeBacktest     TradingMode = "backtest"
)

// General holds environment-level settings.
type General struct {
	Environment   string
	TradingMode   TradingMode
	BotEquityUSDT decimal.Decimal
	Symbols       []string
}

// Strategy holds pricing/inventory/refresh-cadence settings.
type Strategy struct {
	BaseSpreadBps         decimal.Decimal
	MinSpreadBps          decimal.Decimal
	MaxSpreadBps          decimal.Decimal
	VolSpreadFactor       decimal.Decimal
	InventorySkewStrength decimal.Decimal
	OrderNotionalPct      decimal.Decimal
	MinOrderNotional      decimal.Decimal
	MaxOrderNotionalPct   decimal.Decimal
	DynamicSizeByVol      bool
	RefreshIntervalMs     int
	MaxQuoteAgeMs         int
	PriceChangeTriggerBps decimal.Decimal
	TargetInventory       decimal.Decimal
	InventorySoftBandPct  decimal.Decimal
	InventoryHardLimitPct decimal.Decimal
	FlattenOnShutdown     bool
}

// RiskScaling holds the ATR/drawdown risk-multiplier settings.
type RiskScaling struct {
	ATRLength       int
	DDLookbackHours int
	VolLow          decimal.Decimal
	VolHigh         decimal.Decimal
	DDSoft          decimal.Decimal
	DDHard          decimal.Decimal
	RiskMin         decimal.Decimal
	RiskMax         decimal.Decimal
}

// Risk holds pre-trade limit and guardian settings.
type Risk struct {
	MaxNetNotionalPctPerSymbol    decimal.Decimal
	MaxGrossNotionalPctPerSymbol  decimal.Decimal
	DailyLossLimitPct             decimal.Decimal
	MaxDrawdownSoftPct            decimal.Decimal
	MaxDrawdownHardPct            decimal.Decimal
	MaxOpenOrdersPerSymbol        int
	MaxNewOrdersPerSecond         int
	MaxCancelsPerSecond           int
	MaxCancelToTradeRatio         decimal.Decimal
	MaxPriceDistanceFromBestPct   decimal.Decimal
	EnableKillSwitch              bool
	KillSwitchOnAPIErrors         int
	Scaling                       RiskScaling
	RiskOffThreshold              decimal.Decimal
	BaseNotionalPerSide           decimal.Decimal
	ToxicitySoftThreshold         decimal.Decimal
	ToxicityHardThreshold         decimal.Decimal
}

// Config is the full configuration value object.
type Config struct {
	General  General
	Strategy Strategy
	Risk     Risk
}

func decimalOrDefault(v *viper.Viper, key string, def float64) decimal.Decimal {
	if !v.IsSet(key) {
		return decimal.NewFromFloat(def)
	}
	return decimal.NewFromFloat(v.GetFloat64(key))
}

// Load reads configuration from the named file (any format viper
// understands: yaml, json, toml) plus environment-variable overrides
// (prefixed MM_, nested keys joined by underscore), validates it, and
// returns the assembled Config.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetEnvPrefix("MM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: read %s: %w", configPath, err)
	}

	cfg := &Config{
		General: General{
			Environment:   v.GetString("general.environment"),
			TradingMode:   TradingMode(v.GetString("general.trading_mode")),
			BotEquityUSDT: decimalOrDefault(v, "general.bot_equity_usdt", 1000),
			Symbols:       v.GetStringSlice("general.symbols"),
		},
		Strategy: Strategy{
			BaseSpreadBps:         decimalOrDefault(v, "strategy.base_spread_bps", 10),
			MinSpreadBps:          decimalOrDefault(v, "strategy.min_spread_bps", 5),
			MaxSpreadBps:          decimalOrDefault(v, "strategy.max_spread_bps", 50),
			VolSpreadFactor:       decimalOrDefault(v, "strategy.vol_spread_factor", 1),
			InventorySkewStrength: decimalOrDefault(v, "strategy.inventory_skew_strength", 1),
			OrderNotionalPct:      decimalOrDefault(v, "strategy.order_notional_pct", 0.01),
			MinOrderNotional:      decimalOrDefault(v, "strategy.min_order_notional", 10),
			MaxOrderNotionalPct:   decimalOrDefault(v, "strategy.max_order_notional_pct", 0.05),
			DynamicSizeByVol:      v.GetBool("strategy.dynamic_size_by_vol"),
			RefreshIntervalMs:     v.GetInt("strategy.refresh_interval_ms"),
			MaxQuoteAgeMs:         v.GetInt("strategy.max_quote_age_ms"),
			PriceChangeTriggerBps: decimalOrDefault(v, "strategy.price_change_trigger_bps", 5),
			TargetInventory:       decimalOrDefault(v, "strategy.target_inventory", 0),
			InventorySoftBandPct:  decimalOrDefault(v, "strategy.inventory_soft_band_pct", 0.5),
			InventoryHardLimitPct: decimalOrDefault(v, "strategy.inventory_hard_limit_pct", 1.0),
			FlattenOnShutdown:     v.GetBool("strategy.flatten_on_shutdown"),
		},
		Risk: Risk{
			MaxNetNotionalPctPerSymbol:   decimalOrDefault(v, "risk.max_net_notional_pct_per_symbol", 0.2),
			MaxGrossNotionalPctPerSymbol: decimalOrDefault(v, "risk.max_gross_notional_pct_per_symbol", 0.3),
			DailyLossLimitPct:            decimalOrDefault(v, "risk.daily_loss_limit_pct", 0.02),
			MaxDrawdownSoftPct:           decimalOrDefault(v, "risk.max_drawdown_soft_pct", 0.05),
			MaxDrawdownHardPct:           decimalOrDefault(v, "risk.max_drawdown_hard_pct", 0.15),
			MaxOpenOrdersPerSymbol:       v.GetInt("risk.max_open_orders_per_symbol"),
			MaxNewOrdersPerSecond:        v.GetInt("risk.max_new_orders_per_second"),
			MaxCancelsPerSecond:          v.GetInt("risk.max_cancels_per_second"),
			MaxCancelToTradeRatio:        decimalOrDefault(v, "risk.max_cancel_to_trade_ratio", 50),
			MaxPriceDistanceFromBestPct:  decimalOrDefault(v, "risk.max_price_distance_from_best_pct", 0.01),
			EnableKillSwitch:             v.GetBool("risk.enable_kill_switch"),
			KillSwitchOnAPIErrors:        v.GetInt("risk.kill_switch_on_api_errors"),
			Scaling: RiskScaling{
				ATRLength:       v.GetInt("risk.risk_scaling_atr_length"),
				DDLookbackHours: v.GetInt("risk.risk_scaling_dd_lookback_hours"),
				VolLow:          decimalOrDefault(v, "risk.risk_scaling_vol_low", 0.5),
				VolHigh:         decimalOrDefault(v, "risk.risk_scaling_vol_high", 2.0),
				DDSoft:          decimalOrDefault(v, "risk.risk_scaling_dd_soft", 0.05),
				DDHard:          decimalOrDefault(v, "risk.risk_scaling_dd_hard", 0.15),
				RiskMin:         decimalOrDefault(v, "risk.risk_scaling_risk_min", 0.1),
				RiskMax:         decimalOrDefault(v, "risk.risk_scaling_risk_max", 2.0),
			},
			RiskOffThreshold:      decimalOrDefault(v, "risk.risk_off_threshold", 0.3),
			BaseNotionalPerSide:   decimalOrDefault(v, "risk.base_notional_per_side", 100),
			ToxicitySoftThreshold: decimalOrDefault(v, "risk.toxicity_soft_threshold", 0.70),
			ToxicityHardThreshold: decimalOrDefault(v, "risk.toxicity_hard_threshold", 0.90),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("strategy.refresh_interval_ms", 250)
	v.SetDefault("strategy.max_quote_age_ms", 5000)
	v.SetDefault("risk.max_open_orders_per_symbol", 4)
	v.SetDefault("risk.max_new_orders_per_second", 10)
	v.SetDefault("risk.max_cancels_per_second", 10)
	v.SetDefault("risk.enable_kill_switch", true)
	v.SetDefault("risk.kill_switch_on_api_errors", 5)
	v.SetDefault("risk.risk_scaling_atr_length", 14)
	v.SetDefault("risk.risk_scaling_dd_lookback_hours", 240)
}

// Validate rejects a malformed config at startup (spec §7's FatalConfig:
// exit non-zero before any orders are placed).
func (c *Config) Validate() error {
	switch c.General.TradingMode {
	case TradingModeLive, TradingModePaperExchange, TradingModeDryRun, TradingModeBacktest:
	default:
		return fmt.Errorf("invalid trading_mode %q", c.General.TradingMode)
	}
	if len(c.General.Symbols) == 0 {
		return fmt.Errorf("general.symbols must not be empty")
	}
	if c.General.BotEquityUSDT.IsZero() || c.General.BotEquityUSDT.IsNegative() {
		return fmt.Errorf("general.bot_equity_usdt must be positive")
	}
	if c.Strategy.MinSpreadBps.GreaterThan(c.Strategy.MaxSpreadBps) {
		return fmt.Errorf("strategy.min_spread_bps must not exceed max_spread_bps")
	}
	if c.Risk.MaxDrawdownSoftPct.GreaterThan(c.Risk.MaxDrawdownHardPct) {
		return fmt.Errorf("risk.max_drawdown_soft_pct must not exceed max_drawdown_hard_pct")
	}
	return nil
}
