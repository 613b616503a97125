package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/vitos/crypto_auto_trader/internal/domain"
	"go.uber.org/zap"
)

// Allocation targets must sum to 100% within this tolerance.
const allocationSumTolerance = 0.01

// RebalanceStrategy keeps the portfolio near its target allocation. A
// rebalance runs when the minimum interval has elapsed, or immediately when
// the worst deviation crosses the emergency threshold. Sales route to the
// stable quote asset; buys are funded from whichever other held asset has
// sufficient value.
type RebalanceStrategy struct {
	baseStrategy
	params        domain.RebalanceConfig
	lastRebalance time.Time
}

// rebalanceState is the persisted runtime state.
type rebalanceState struct {
	Params        domain.RebalanceConfig `json:"params"`
	LastRebalance time.Time              `json:"last_rebalance"`
}

func NewRebalanceStrategy(config domain.StrategyConfig, params domain.RebalanceConfig, deps StrategyDeps) *RebalanceStrategy {
	return &RebalanceStrategy{
		baseStrategy: newBaseStrategy(StrategyKindRebalance, config, deps),
		params:       params,
	}
}

func (s *RebalanceStrategy) snapshotState() rebalanceState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return rebalanceState{Params: s.params, LastRebalance: s.lastRebalance}
}

// RestoreSnapshot rehydrates the interval gate. Params stay as configured.
func (s *RebalanceStrategy) RestoreSnapshot(snap *domain.StrategySnapshot) error {
	if snap.Kind != StrategyKindRebalance {
		return fmt.Errorf("snapshot kind %q, want %q", snap.Kind, StrategyKindRebalance)
	}
	var st rebalanceState
	if err := json.Unmarshal([]byte(snap.ConfigJSON), &st); err != nil {
		return err
	}
	s.mu.Lock()
	s.lastRebalance = st.LastRebalance
	s.mu.Unlock()
	s.restoreCounters(snap)
	return nil
}

func (s *RebalanceStrategy) Validate() error {
	if len(s.params.Targets) == 0 {
		return domain.NewConfigError("targets", "at least one allocation target required")
	}
	sum := 0.0
	for _, t := range s.params.Targets {
		if t.Mint == "" {
			return domain.NewConfigError("targets", "target mint required")
		}
		if t.TargetPct <= 0 {
			return domain.NewConfigError("targets", fmt.Sprintf("%s: target percent must be positive", t.Symbol))
		}
		sum += t.TargetPct
	}
	if math.Abs(sum-100) > allocationSumTolerance {
		return domain.NewConfigError("targets", fmt.Sprintf("allocations sum to %.2f%%, want 100%%", sum))
	}
	if s.params.MinInterval <= 0 {
		return domain.NewConfigError("min_interval", "must be positive")
	}
	if s.params.StableMint == "" {
		return domain.NewConfigError("stable_mint", "required for sell routing")
	}
	if s.params.EmergencyThresholdPct > 0 && s.params.EmergencyThresholdPct <= s.params.GlobalThresholdPct {
		return domain.NewConfigError("emergency_threshold_pct", "must exceed the global threshold")
	}
	return nil
}

func (s *RebalanceStrategy) ShouldRun() bool {
	return s.shouldRunBase()
}

// deviation is one target's distance from its allocation, in portfolio
// percentage points. Positive means overweight.
type deviation struct {
	target     domain.AllocationTarget
	currentPct float64
	diff       float64
	position   *domain.Position // nil when nothing is held
}

func (s *RebalanceStrategy) Execute(ctx context.Context) (bool, error) {
	if !s.beginExecution() {
		return false, nil
	}
	traded := false
	defer func() {
		s.finishExecution(0)
		s.snapshot(ctx, s.snapshotState())
	}()

	positions, err := s.deps.Portfolio.GetPositions(ctx)
	if err != nil {
		return false, fmt.Errorf("rebalance %s: %w", s.ID(), err)
	}
	total := 0.0
	for _, p := range positions {
		total += p.Value()
	}
	if total <= 0 {
		return false, nil
	}

	deviations := s.computeDeviations(positions, total)
	worst := 0.0
	for _, d := range deviations {
		if math.Abs(d.diff) > worst {
			worst = math.Abs(d.diff)
		}
	}

	// Interval gate, bypassed only by the emergency threshold.
	s.mu.Lock()
	intervalOK := s.lastRebalance.IsZero() || time.Since(s.lastRebalance) >= s.params.MinInterval
	s.mu.Unlock()
	emergency := s.params.EmergencyThresholdPct > 0 && worst >= s.params.EmergencyThresholdPct
	if !intervalOK && !emergency {
		return false, nil
	}
	if emergency && !intervalOK {
		s.deps.Logger.Warn("Emergency rebalance: deviation exceeds override threshold",
			zap.String("id", s.ID()), zap.Float64("worst_deviation_pct", worst))
	}

	for _, d := range deviations {
		threshold := d.target.ThresholdPct
		if threshold <= 0 {
			threshold = s.params.GlobalThresholdPct
		}
		if math.Abs(d.diff) <= threshold {
			continue
		}
		tradeValue := math.Abs(d.diff) / 100 * total
		if tradeValue < s.params.MinTradeValue {
			s.deps.Logger.Debug("Rebalance leg below minimum trade value",
				zap.String("symbol", d.target.Symbol), zap.Float64("value", tradeValue))
			continue
		}

		var legTraded bool
		var legErr error
		if d.diff > 0 {
			legTraded, legErr = s.sellExcess(ctx, d, tradeValue)
		} else {
			legTraded, legErr = s.buyShortfall(ctx, d, tradeValue, positions)
		}
		if legErr != nil {
			s.deps.Logger.Error("Rebalance leg failed",
				zap.String("id", s.ID()), zap.String("symbol", d.target.Symbol), zap.Error(legErr))
			continue
		}
		if legTraded {
			traded = true
		}
	}

	if traded {
		s.mu.Lock()
		s.lastRebalance = time.Now()
		s.mu.Unlock()
	}
	return traded, nil
}

func (s *RebalanceStrategy) computeDeviations(positions []*domain.Position, total float64) []deviation {
	byMint := make(map[string]*domain.Position, len(positions))
	for _, p := range positions {
		byMint[p.Mint] = p
	}
	out := make([]deviation, 0, len(s.params.Targets))
	for _, t := range s.params.Targets {
		currentPct := 0.0
		pos := byMint[t.Mint]
		if pos != nil {
			currentPct = pos.Value() / total * 100
		}
		out = append(out, deviation{
			target:     t,
			currentPct: currentPct,
			diff:       currentPct - t.TargetPct,
			position:   pos,
		})
	}
	return out
}

// sellExcess trims an overweight asset into the stable quote.
func (s *RebalanceStrategy) sellExcess(ctx context.Context, d deviation, tradeValue float64) (bool, error) {
	if d.position == nil || d.position.CurrentPrice <= 0 {
		return false, nil
	}
	amount := tradeValue / d.position.CurrentPrice
	if amount > d.position.Amount {
		amount = d.position.Amount
	}
	result, err := s.submitSwap(ctx, d.target.Mint, s.params.StableMint, amount, s.params.MaxSlippageBps)
	s.recordLeg(ctx, domain.ActionSell, d, amount, result, err)
	if err != nil {
		return false, err
	}
	if !result.Success {
		return false, fmt.Errorf("swap failed: %s", result.Error)
	}
	return true, nil
}

// buyShortfall funds an underweight asset from the largest other holding
// that can cover the trade; when none qualifies the leg is skipped, not
// retried.
func (s *RebalanceStrategy) buyShortfall(ctx context.Context, d deviation, tradeValue float64, positions []*domain.Position) (bool, error) {
	source := s.pickFundingSource(d.target.Mint, tradeValue, positions)
	if source == nil {
		s.deps.Logger.Warn("No funding source for rebalance buy, skipping leg",
			zap.String("id", s.ID()),
			zap.String("symbol", d.target.Symbol),
			zap.Float64("needed_value", tradeValue))
		return false, nil
	}
	amount := tradeValue / source.CurrentPrice
	result, err := s.submitSwap(ctx, source.Mint, d.target.Mint, amount, s.params.MaxSlippageBps)
	s.recordLeg(ctx, domain.ActionBuy, d, amount, result, err)
	if err != nil {
		return false, err
	}
	if !result.Success {
		return false, fmt.Errorf("swap failed: %s", result.Error)
	}
	return true, nil
}

// pickFundingSource prefers the stable asset, then the most valuable other
// holding that covers the trade.
func (s *RebalanceStrategy) pickFundingSource(targetMint string, tradeValue float64, positions []*domain.Position) *domain.Position {
	var best *domain.Position
	for _, p := range positions {
		if p.Mint == targetMint || p.CurrentPrice <= 0 {
			continue
		}
		if p.Value() < tradeValue {
			continue
		}
		if p.Mint == s.params.StableMint {
			return p
		}
		if best == nil || p.Value() > best.Value() {
			best = p
		}
	}
	return best
}

func (s *RebalanceStrategy) recordLeg(ctx context.Context, action domain.TradeAction, d deviation, amount float64, result *domain.SwapResult, err error) {
	exec := &domain.TradeExecution{
		ID:        uuid.NewString(),
		Timestamp: time.Now(),
		Action:    action,
		Mint:      d.target.Mint,
		Symbol:    d.target.Symbol,
		Amount:    amount,
		DryRun:    s.dryRun(),
	}
	if d.position != nil {
		exec.Price = d.position.CurrentPrice
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
	}
	s.recordExecution(ctx, exec)
}
