package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/vitos/crypto_auto_trader/internal/domain"
	"go.uber.org/zap"
)

// AccumulationStrategy buys a fixed amount of the target asset on a fixed
// schedule. Price-impact and floor/ceiling rejections still advance the
// schedule by one interval so a bad market does not turn into a tight
// retry loop.
type AccumulationStrategy struct {
	baseStrategy
	params   domain.AccumulationConfig
	nextRun  time.Time
	invested float64 // cumulative base spent on successful buys
}

// accumulationState is the persisted runtime state.
type accumulationState struct {
	Params   domain.AccumulationConfig `json:"params"`
	NextRun  time.Time                 `json:"next_run"`
	Invested float64                   `json:"invested"`
}

func NewAccumulationStrategy(config domain.StrategyConfig, params domain.AccumulationConfig, deps StrategyDeps) *AccumulationStrategy {
	return &AccumulationStrategy{
		baseStrategy: newBaseStrategy(StrategyKindAccumulation, config, deps),
		params:       params,
		nextRun:      time.Now(),
	}
}

func (s *AccumulationStrategy) snapshotState() accumulationState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return accumulationState{Params: s.params, NextRun: s.nextRun, Invested: s.invested}
}

// RestoreSnapshot rehydrates the schedule and the invested total. Params
// stay as configured.
func (s *AccumulationStrategy) RestoreSnapshot(snap *domain.StrategySnapshot) error {
	if snap.Kind != StrategyKindAccumulation {
		return fmt.Errorf("snapshot kind %q, want %q", snap.Kind, StrategyKindAccumulation)
	}
	var st accumulationState
	if err := json.Unmarshal([]byte(snap.ConfigJSON), &st); err != nil {
		return err
	}
	s.mu.Lock()
	if !st.NextRun.IsZero() {
		s.nextRun = st.NextRun
	}
	s.invested = st.Invested
	s.mu.Unlock()
	s.restoreCounters(snap)
	return nil
}

func (s *AccumulationStrategy) Validate() error {
	if s.params.TargetMint == "" || s.params.BaseMint == "" {
		return domain.NewConfigError("mints", "target and base mint required")
	}
	if s.params.TargetMint == s.params.BaseMint {
		return domain.NewConfigError("mints", "target and base mint must differ")
	}
	if s.params.BuyAmount <= 0 {
		return domain.NewConfigError("buy_amount", "must be positive")
	}
	if s.params.Interval <= 0 {
		return domain.NewConfigError("interval", "must be positive")
	}
	if s.params.PriceFloor > 0 && s.params.PriceCeiling > 0 && s.params.PriceFloor >= s.params.PriceCeiling {
		return domain.NewConfigError("price_bounds", "floor must be below ceiling")
	}
	if s.params.MaxTotalInvestment < 0 {
		return domain.NewConfigError("max_total_investment", "must not be negative")
	}
	return nil
}

func (s *AccumulationStrategy) ShouldRun() bool {
	if !s.shouldRunBase() {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return !time.Now().Before(s.nextRun)
}

// advanceSchedule moves the next buy one interval forward, skipping ahead
// if the schedule has fallen behind wall-clock time.
func (s *AccumulationStrategy) advanceSchedule() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextRun = s.nextRun.Add(s.params.Interval)
	if s.nextRun.Before(time.Now()) {
		s.nextRun = time.Now().Add(s.params.Interval)
	}
}

// NextRun returns the next scheduled buy time.
func (s *AccumulationStrategy) NextRun() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextRun
}

// Invested returns the cumulative base amount spent.
func (s *AccumulationStrategy) Invested() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.invested
}

func (s *AccumulationStrategy) Execute(ctx context.Context) (bool, error) {
	if !s.beginExecution() {
		return false, nil
	}
	traded := false
	defer func() {
		s.finishExecution(0)
		s.snapshot(ctx, s.snapshotState())
	}()

	// Investment cap: once reached, no further buys are scheduled.
	s.mu.Lock()
	capReached := s.params.MaxTotalInvestment > 0 && s.invested >= s.params.MaxTotalInvestment
	s.mu.Unlock()
	if capReached {
		s.deps.Logger.Info("Accumulation cap reached, disabling strategy",
			zap.String("id", s.ID()), zap.Float64("invested", s.Invested()))
		s.SetEnabled(false)
		return false, nil
	}

	// The buy needs a funded base balance; without it we wait for the next
	// cycle instead of advancing the schedule.
	positions, err := s.deps.Portfolio.GetPositions(ctx)
	if err != nil {
		return false, fmt.Errorf("accumulation %s: %w", s.ID(), err)
	}
	if balance := mintAmount(positions, s.params.BaseMint); balance < s.params.BuyAmount {
		s.deps.Logger.Warn("Insufficient base balance for scheduled buy",
			zap.String("id", s.ID()),
			zap.Float64("balance", balance),
			zap.Float64("required", s.params.BuyAmount))
		return false, nil
	}

	quote, err := s.deps.Swap.Quote(ctx, s.params.BaseMint, s.params.TargetMint, s.params.BuyAmount, 0)
	if err != nil {
		return false, fmt.Errorf("accumulation %s: quote: %w", s.ID(), err)
	}

	if quote.PriceImpactPct > maxStrategyPriceImpactPct {
		s.deps.Logger.Info("Buy rejected: price impact too high",
			zap.String("id", s.ID()), zap.Float64("impact_pct", quote.PriceImpactPct))
		s.advanceSchedule()
		return false, nil
	}

	price := quote.Price()
	if s.params.PriceFloor > 0 && price < s.params.PriceFloor {
		s.deps.Logger.Info("Buy rejected: price below floor",
			zap.String("id", s.ID()), zap.Float64("price", price), zap.Float64("floor", s.params.PriceFloor))
		s.advanceSchedule()
		return false, nil
	}
	if s.params.PriceCeiling > 0 && price > s.params.PriceCeiling {
		s.deps.Logger.Info("Buy rejected: price above ceiling",
			zap.String("id", s.ID()), zap.Float64("price", price), zap.Float64("ceiling", s.params.PriceCeiling))
		s.advanceSchedule()
		return false, nil
	}

	result, err := s.submitSwap(ctx, s.params.BaseMint, s.params.TargetMint, s.params.BuyAmount, 100)
	exec := &domain.TradeExecution{
		ID:        uuid.NewString(),
		Timestamp: time.Now(),
		Action:    domain.ActionBuy,
		Mint:      s.params.TargetMint,
		Amount:    s.params.BuyAmount,
		Price:     price,
		DryRun:    s.dryRun(),
	}
	switch {
	case err != nil:
		exec.Error = err.Error()
	case !result.Success:
		exec.Error = result.Error
	default:
		exec.Success = true
		exec.Proceeds = result.OutputAmount
		exec.PriceImpactPct = result.PriceImpactPct
		exec.Signature = result.Signature
		traded = true
	}
	s.recordExecution(ctx, exec)

	if err != nil {
		return false, fmt.Errorf("accumulation %s: swap: %w", s.ID(), err)
	}
	if !exec.Success {
		return false, fmt.Errorf("accumulation %s: swap failed: %s", s.ID(), exec.Error)
	}

	s.mu.Lock()
	s.invested += s.params.BuyAmount
	s.mu.Unlock()
	s.advanceSchedule()

	s.deps.Logger.Info("Accumulation buy executed",
		zap.String("id", s.ID()),
		zap.Float64("amount", s.params.BuyAmount),
		zap.Float64("price", price),
		zap.Bool("dry_run", exec.DryRun))
	return traded, nil
}

// mintAmount sums the held amount of one mint in a position snapshot.
func mintAmount(positions []*domain.Position, mint string) float64 {
	for _, p := range positions {
		if p.Mint == mint {
			return p.Amount
		}
	}
	return 0
}
