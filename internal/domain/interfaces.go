package domain

import "context"

// PortfolioService supplies the current position snapshot. Refresh may be
// slow and rate-limited; callers must not call it more than once per cycle.
type PortfolioService interface {
	GetPositions(ctx context.Context) ([]*Position, error)
	Refresh(ctx context.Context) ([]*Position, error)
}

// SwapQuote is the aggregator's answer for one prospective trade.
type SwapQuote struct {
	InputMint      string  `json:"input_mint"`
	OutputMint     string  `json:"output_mint"`
	InAmount       float64 `json:"in_amount"`
	OutAmount      float64 `json:"out_amount"`
	PriceImpactPct float64 `json:"price_impact_pct"`
}

// Price returns the effective input-per-output price of the quote.
func (q *SwapQuote) Price() float64 {
	if q.OutAmount <= 0 {
		return 0
	}
	return q.InAmount / q.OutAmount
}

// SwapResult is the outcome of a swap submission. In dry-run mode the swap
// is fully quoted and validated but never sent; Signature stays empty.
type SwapResult struct {
	Success        bool    `json:"success"`
	OutputAmount   float64 `json:"output_amount"`
	PriceImpactPct float64 `json:"price_impact_pct"`
	Signature      string  `json:"signature,omitempty"`
	Error          string  `json:"error,omitempty"`
}

// SwapService quotes and executes swaps through the aggregator.
type SwapService interface {
	Quote(ctx context.Context, inputMint, outputMint string, amount float64, slippageBps int) (*SwapQuote, error)
	Execute(ctx context.Context, inputMint, outputMint string, amount float64, signer string, slippageBps int, dryRun bool) (*SwapResult, error)
}

// WalletService exposes the signing identity. Custody and signing live
// outside the core.
type WalletService interface {
	PublicIdentity() string
	CanSign() bool
}

// SettingsRepository stores the externally mutable trading settings.
type SettingsRepository interface {
	GetSettings(ctx context.Context) (*TradingSettings, error)
	SaveSettings(ctx context.Context, settings *TradingSettings) error
}

// ExecutionRepository is the durable log of trade attempts.
type ExecutionRepository interface {
	SaveExecution(ctx context.Context, exec *TradeExecution) error
	ListExecutions(ctx context.Context, limit int) ([]*TradeExecution, error)
}

// StrategyRepository persists strategy config snapshots so schedules and
// counters survive a restart.
type StrategyRepository interface {
	SaveStrategySnapshot(ctx context.Context, snap *StrategySnapshot) error
	GetStrategySnapshot(ctx context.Context, strategyID string) (*StrategySnapshot, error)
	ListStrategySnapshots(ctx context.Context) ([]*StrategySnapshot, error)
}
