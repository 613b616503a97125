package domain

import "time"

// ProfitTarget defines when and how much of a profitable position to sell.
type ProfitTarget struct {
	ID             string  `json:"id"`
	TriggerPercent float64 `json:"trigger_percent"`
	SellPercent    float64 `json:"sell_percent"` // (0, 100]
	Enabled        bool    `json:"enabled"`
}

type Priority int

const (
	PriorityLow Priority = iota
	PriorityMedium
	PriorityHigh
	PriorityUrgent
)

func (p Priority) String() string {
	switch p {
	case PriorityUrgent:
		return "URGENT"
	case PriorityHigh:
		return "HIGH"
	case PriorityMedium:
		return "MEDIUM"
	default:
		return "LOW"
	}
}

// PriorityForProfit maps a profit percentage to an action priority.
func PriorityForProfit(profitPct float64) Priority {
	switch {
	case profitPct >= 200:
		return PriorityUrgent
	case profitPct >= 100:
		return PriorityHigh
	case profitPct >= 50:
		return PriorityMedium
	default:
		return PriorityLow
	}
}

// TradingOpportunity is a recommended partial sale derived from a position
// snapshot and its best-matching profit target. It lives for one scan cycle;
// the scanner replaces the full set on every run.
type TradingOpportunity struct {
	ID                string       `json:"id"`
	Position          *Position    `json:"position"`
	Target            ProfitTarget `json:"target"`
	Priority          Priority     `json:"priority"`
	ProfitPercent     float64      `json:"profit_percent"`
	SellPercent       float64      `json:"sell_percent"`
	EstimatedProceeds float64      `json:"estimated_proceeds"`
	CreatedAt         time.Time    `json:"created_at"`
}
