package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vitos/crypto_auto_trader/internal/domain"
	"go.uber.org/zap"
)

const (
	// Safety pause between consecutive trades within one batch.
	tradePacingDelay = 2 * time.Second
	// In-memory tail of recent executions; the store keeps the rest.
	executionHistoryCap = 1000

	dayLayout = "2006-01-02"
)

// AutoTrader turns the scanner's opportunity set into trade attempts under
// the global safety rails: a daily trade cap, pacing between submissions
// and dry-run by default.
type AutoTrader struct {
	swap     domain.SwapService
	wallet   domain.WalletService
	execRepo domain.ExecutionRepository
	logger   *zap.Logger
	now      func() time.Time

	mu            sync.Mutex
	enabled       bool
	currentDay    string // wall-clock date reference for the daily counter
	dailyCount    int
	totalTrades   int64
	totalProceeds float64
	recent        []*domain.TradeExecution
	pacing        time.Duration
}

// AutoTraderStatus is the executor's half of the status surface.
type AutoTraderStatus struct {
	Enabled       bool    `json:"enabled"`
	DailyCount    int     `json:"daily_count"`
	TotalTrades   int64   `json:"total_trades"`
	TotalProceeds float64 `json:"total_proceeds"`
}

func NewAutoTrader(swap domain.SwapService, wallet domain.WalletService, execRepo domain.ExecutionRepository, logger *zap.Logger) *AutoTrader {
	return &AutoTrader{
		swap:     swap,
		wallet:   wallet,
		execRepo: execRepo,
		logger:   logger,
		now:      time.Now,
		pacing:   tradePacingDelay,
	}
}

func (t *AutoTrader) Enable()  { t.mu.Lock(); t.enabled = true; t.mu.Unlock() }
func (t *AutoTrader) Disable() { t.mu.Lock(); t.enabled = false; t.mu.Unlock() }

// SetPacing overrides the inter-trade pause. Used by tests.
func (t *AutoTrader) SetPacing(d time.Duration) {
	t.mu.Lock()
	t.pacing = d
	t.mu.Unlock()
}

// SetClock overrides the wall-clock source. Used by tests.
func (t *AutoTrader) SetClock(now func() time.Time) {
	t.mu.Lock()
	t.now = now
	t.mu.Unlock()
}

func (t *AutoTrader) IsEnabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

func (t *AutoTrader) Status() AutoTraderStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return AutoTraderStatus{
		Enabled:       t.enabled,
		DailyCount:    t.dailyCount,
		TotalTrades:   t.totalTrades,
		TotalProceeds: t.totalProceeds,
	}
}

// maybeResetDaily zeroes the counter exactly once when the observed date
// changes, and never otherwise. Caller holds the lock.
func (t *AutoTrader) maybeResetDaily() {
	today := t.now().Format(dayLayout)
	if t.currentDay == "" {
		t.currentDay = today
		return
	}
	if today != t.currentDay {
		t.logger.Info("Daily trade counter reset",
			zap.String("previous_day", t.currentDay), zap.Int("previous_count", t.dailyCount))
		t.currentDay = today
		t.dailyCount = 0
	}
}

// reserveTradeSlot atomically checks the daily cap and claims one slot.
func (t *AutoTrader) reserveTradeSlot(maxDaily int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.maybeResetDaily()
	if !t.enabled || (maxDaily > 0 && t.dailyCount >= maxDaily) {
		return false
	}
	t.dailyCount++
	return true
}

// ProcessOpportunities walks the opportunity set in its given priority
// order and submits each selected sale to the swap service. The daily cap
// is re-checked before every trade; it may be exhausted mid-loop.
func (t *AutoTrader) ProcessOpportunities(ctx context.Context, opportunities []*domain.TradingOpportunity, settings *domain.TradingSettings) []*domain.TradeExecution {
	if !t.IsEnabled() {
		return nil
	}
	t.mu.Lock()
	pacing := t.pacing
	t.mu.Unlock()

	var executed []*domain.TradeExecution
	for i, opp := range opportunities {
		if ctx.Err() != nil {
			break
		}
		if !t.reserveTradeSlot(settings.MaxDailyTrades) {
			t.logger.Info("Daily trade limit reached, deferring remaining opportunities",
				zap.Int("remaining", len(opportunities)-i))
			break
		}

		exec := t.executeOpportunity(ctx, opp, settings)
		executed = append(executed, exec)
		t.record(ctx, exec)

		// Pace submissions so downstream services are not hammered.
		if i < len(opportunities)-1 {
			if err := sleepContext(ctx, pacing); err != nil {
				break
			}
		}
	}
	return executed
}

func (t *AutoTrader) executeOpportunity(ctx context.Context, opp *domain.TradingOpportunity, settings *domain.TradingSettings) *domain.TradeExecution {
	pos := opp.Position
	amount := pos.Amount * opp.SellPercent / 100

	exec := &domain.TradeExecution{
		ID:        uuid.NewString(),
		Timestamp: t.now(),
		Action:    domain.ActionSell,
		Mint:      pos.Mint,
		Symbol:    pos.Symbol,
		Amount:    amount,
		Price:     pos.CurrentPrice,
		DryRun:    settings.DryRun,
	}

	if !settings.DryRun && !t.wallet.CanSign() {
		exec.Error = "live execution requires a signing wallet"
		t.logger.Error("Refusing live trade without signing wallet", zap.String("symbol", pos.Symbol))
		return exec
	}

	// Impact ceiling: quote first so an illiquid market is declined before
	// any swap reaches the aggregator.
	if settings.MaxPriceImpactPct > 0 {
		quote, err := t.swap.Quote(ctx, pos.Mint, settings.SettlementMint, amount, settings.SlippageBps)
		if err != nil {
			exec.Error = err.Error()
			t.logger.Warn("Opportunity quote failed",
				zap.String("symbol", pos.Symbol), zap.Error(err))
			return exec
		}
		if quote.PriceImpactPct > settings.MaxPriceImpactPct {
			rejection := fmt.Errorf("price impact %.2f%% above limit %.2f%%: %w",
				quote.PriceImpactPct, settings.MaxPriceImpactPct, domain.ErrPolicyRejected)
			exec.Error = rejection.Error()
			exec.PriceImpactPct = quote.PriceImpactPct
			t.logger.Info("Opportunity declined by impact ceiling",
				zap.String("symbol", pos.Symbol),
				zap.Float64("impact_pct", quote.PriceImpactPct),
				zap.Float64("limit_pct", settings.MaxPriceImpactPct))
			return exec
		}
	}

	result, err := t.swap.Execute(ctx, pos.Mint, settings.SettlementMint, amount,
		t.wallet.PublicIdentity(), settings.SlippageBps, settings.DryRun)
	switch {
	case err != nil:
		exec.Error = err.Error()
	case !result.Success:
		exec.Error = result.Error
		exec.PriceImpactPct = result.PriceImpactPct
	default:
		exec.Success = true
		exec.Proceeds = result.OutputAmount
		exec.PriceImpactPct = result.PriceImpactPct
		exec.Signature = result.Signature
	}

	if exec.Success {
		t.mu.Lock()
		t.totalTrades++
		t.totalProceeds += exec.Proceeds
		t.mu.Unlock()
		t.logger.Info("Opportunity executed",
			zap.String("symbol", pos.Symbol),
			zap.String("priority", opp.Priority.String()),
			zap.Float64("amount", amount),
			zap.Float64("proceeds", exec.Proceeds),
			zap.Bool("dry_run", exec.DryRun))
	} else {
		t.logger.Warn("Opportunity execution failed",
			zap.String("symbol", pos.Symbol), zap.String("error", exec.Error))
	}
	return exec
}

// record keeps the bounded in-memory tail and appends to the store.
func (t *AutoTrader) record(ctx context.Context, exec *domain.TradeExecution) {
	t.mu.Lock()
	t.recent = append(t.recent, exec)
	if len(t.recent) > executionHistoryCap {
		t.recent = t.recent[len(t.recent)-executionHistoryCap:]
	}
	t.mu.Unlock()

	if err := t.execRepo.SaveExecution(ctx, exec); err != nil {
		t.logger.Error("Failed to persist execution", zap.String("id", exec.ID), zap.Error(err))
	}
}

// RecentExecutions returns up to n of the newest records, newest first.
func (t *AutoTrader) RecentExecutions(n int) []*domain.TradeExecution {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n <= 0 || n > len(t.recent) {
		n = len(t.recent)
	}
	out := make([]*domain.TradeExecution, 0, n)
	for i := len(t.recent) - 1; i >= len(t.recent)-n; i-- {
		out = append(out, t.recent[i])
	}
	return out
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
