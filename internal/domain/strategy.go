package domain

import "time"

// StrategyConfig holds the fields shared by all strategy kinds. It is owned
// by its strategy instance and only mutated after an execution attempt:
// counters increase monotonically, timestamps only move forward.
type StrategyConfig struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Enabled        bool      `json:"enabled"`
	DryRun         bool      `json:"dry_run"`
	CreatedAt      time.Time `json:"created_at"`
	LastExecutedAt time.Time `json:"last_executed_at"`
	ExecutionCount int64     `json:"execution_count"`
	TotalProfit    float64   `json:"total_profit"`
	MaxDrawdown    float64   `json:"max_drawdown"`
}

// AccumulationConfig configures a scheduled buy (DCA) strategy.
type AccumulationConfig struct {
	TargetMint         string        `json:"target_mint"`
	BaseMint           string        `json:"base_mint"`
	BuyAmount          float64       `json:"buy_amount"` // in base asset units
	Interval           time.Duration `json:"interval"`
	MaxTotalInvestment float64       `json:"max_total_investment"` // 0 = uncapped
	PriceFloor         float64       `json:"price_floor"`          // 0 = none
	PriceCeiling       float64       `json:"price_ceiling"`        // 0 = none
}

// GridConfig configures a price-laddered grid strategy.
type GridConfig struct {
	BaseMint        string  `json:"base_mint"`
	QuoteMint       string  `json:"quote_mint"`
	LowerPrice      float64 `json:"lower_price"`
	UpperPrice      float64 `json:"upper_price"`
	LevelCount      int     `json:"level_count"`
	TotalInvestment float64 `json:"total_investment"`
	RebalanceOnFill bool    `json:"rebalance_on_fill"`
	StopLossPct     float64 `json:"stop_loss_pct"`     // 0 = disabled
	TakeProfitPct   float64 `json:"take_profit_pct"`   // 0 = disabled
	MaxActiveLevels int     `json:"max_active_levels"` // 0 = 2x initial ladder
}

type GridSide string

const (
	GridSideBuy  GridSide = "BUY"
	GridSideSell GridSide = "SELL"
)

// GridLevel is one price point in the ladder. Filled flips to true exactly
// once; filled levels are kept for accounting, not reused.
type GridLevel struct {
	Price     float64   `json:"price"`
	Amount    float64   `json:"amount"` // quote value allocated to the level
	Side      GridSide  `json:"side"`
	Filled    bool      `json:"filled"`
	CreatedAt time.Time `json:"created_at"`
}

// AllocationTarget is one leg of a rebalance strategy.
type AllocationTarget struct {
	Mint         string  `json:"mint"`
	Symbol       string  `json:"symbol"`
	TargetPct    float64 `json:"target_pct"`
	ThresholdPct float64 `json:"threshold_pct"` // per-target deviation trigger
}

// RebalanceConfig configures a target-allocation rebalance strategy.
type RebalanceConfig struct {
	Targets               []AllocationTarget `json:"targets"`
	GlobalThresholdPct    float64            `json:"global_threshold_pct"`
	MinInterval           time.Duration      `json:"min_interval"`
	MaxSlippageBps        int                `json:"max_slippage_bps"`
	MinTradeValue         float64            `json:"min_trade_value"`
	EmergencyThresholdPct float64            `json:"emergency_threshold_pct"` // 0 = disabled
	StableMint            string             `json:"stable_mint"`             // sell proceeds route here
}

// StrategySnapshot is the persisted form of a strategy's config and counters,
// written to the store after every execution attempt.
type StrategySnapshot struct {
	StrategyID     string    `json:"strategy_id"`
	Kind           string    `json:"kind"` // "accumulation" | "grid" | "rebalance"
	Name           string    `json:"name"`
	ConfigJSON     string    `json:"config_json"`
	ExecutionCount int64     `json:"execution_count"`
	TotalProfit    float64   `json:"total_profit"`
	LastExecutedAt time.Time `json:"last_executed_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}
