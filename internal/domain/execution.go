package domain

import "time"

type TradeAction string

const (
	ActionBuy  TradeAction = "BUY"
	ActionSell TradeAction = "SELL"
)

// TradeExecution is an append-only record of one trade attempt. The core
// keeps a bounded in-memory tail; the store is the durable copy.
type TradeExecution struct {
	ID             string      `json:"id"`
	Timestamp      time.Time   `json:"timestamp"`
	Action         TradeAction `json:"action"`
	Mint           string      `json:"mint"`
	Symbol         string      `json:"symbol"`
	Amount         float64     `json:"amount"`
	Price          float64     `json:"price"`
	Proceeds       float64     `json:"proceeds"`
	PriceImpactPct float64     `json:"price_impact_pct"`
	Success        bool        `json:"success"`
	Error          string      `json:"error,omitempty"`
	DryRun         bool        `json:"dry_run"`
	Signature      string      `json:"signature,omitempty"`
	StrategyID     string      `json:"strategy_id,omitempty"`
}
