package domain

import "time"

// TradingSettings are the externally mutable knobs read from the config
// store at the start of every cycle. Never cached across cycles.
type TradingSettings struct {
	ProfitTargets     []ProfitTarget `json:"profit_targets"`
	MinProfitPercent  float64        `json:"min_profit_percent"`
	DustThresholdUSD  float64        `json:"dust_threshold_usd"`
	AutoTradeEnabled  bool           `json:"auto_trade_enabled"`
	StrategyAutoRun   bool           `json:"strategy_auto_run"`
	MaxDailyTrades    int            `json:"max_daily_trades"`
	MaxPriceImpactPct float64        `json:"max_price_impact_pct"`
	SlippageBps       int            `json:"slippage_bps"`
	SettlementMint    string         `json:"settlement_mint"`
	CheckInterval     time.Duration  `json:"check_interval"`
	DryRun            bool           `json:"dry_run"`
}

// DefaultTradingSettings returns the safe defaults: dry-run on, auto-trade
// off, conservative limits.
func DefaultTradingSettings() *TradingSettings {
	return &TradingSettings{
		MinProfitPercent:  5,
		DustThresholdUSD:  1,
		AutoTradeEnabled:  false,
		StrategyAutoRun:   false,
		MaxDailyTrades:    10,
		MaxPriceImpactPct: 2,
		SlippageBps:       100,
		CheckInterval:     30 * time.Second,
		DryRun:            true,
	}
}
