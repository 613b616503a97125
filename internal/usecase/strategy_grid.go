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

const (
	// Only levels within this distance of the current price are eligible.
	gridPriceTolerancePct = 5.0
	// Buy levels sit below the nominal price, sell levels above.
	gridBuyOffset  = 0.99
	gridSellOffset = 1.01
	// A fill spawns the complementary level this far from the fill price.
	gridRespawnOffsetPct = 2.0
)

// GridStrategy trades a laddered buy/sell schedule across a price range.
// The ladder is generated once at construction; a fill flips the level and,
// with rebalance-on-fill, spawns the complementary level. The active-level
// count is capped: an uncapped fill->spawn cycle would grow the ladder
// without bound.
type GridStrategy struct {
	baseStrategy
	params   domain.GridConfig
	levels   []*domain.GridLevel
	realized float64 // cumulative realized quote profit from sell fills
}

// gridState is the persisted runtime state: the live ladder with its fill
// flags, and the realized profit the take-profit check accumulates.
type gridState struct {
	Params   domain.GridConfig   `json:"params"`
	Levels   []*domain.GridLevel `json:"levels"`
	Realized float64             `json:"realized"`
}

func NewGridStrategy(config domain.StrategyConfig, params domain.GridConfig, deps StrategyDeps) *GridStrategy {
	s := &GridStrategy{
		baseStrategy: newBaseStrategy(StrategyKindGrid, config, deps),
		params:       params,
	}
	if s.Validate() == nil {
		s.levels = buildGridLevels(params)
		if s.params.MaxActiveLevels <= 0 {
			s.params.MaxActiveLevels = 2 * len(s.levels)
		}
	}
	return s
}

// buildGridLevels derives the ladder: each nominal price point in the range
// yields one buy level slightly below and one sell level slightly above it,
// each allocated an equal share of the investment.
func buildGridLevels(params domain.GridConfig) []*domain.GridLevel {
	now := time.Now()
	count := params.LevelCount
	share := params.TotalInvestment / float64(2*count)

	step := 0.0
	if count > 1 {
		step = (params.UpperPrice - params.LowerPrice) / float64(count-1)
	}

	levels := make([]*domain.GridLevel, 0, 2*count)
	for i := 0; i < count; i++ {
		nominal := params.LowerPrice + step*float64(i)
		if count == 1 {
			nominal = (params.LowerPrice + params.UpperPrice) / 2
		}
		levels = append(levels,
			&domain.GridLevel{Price: nominal * gridBuyOffset, Amount: share, Side: domain.GridSideBuy, CreatedAt: now},
			&domain.GridLevel{Price: nominal * gridSellOffset, Amount: share, Side: domain.GridSideSell, CreatedAt: now},
		)
	}
	return levels
}

func (s *GridStrategy) Validate() error {
	if s.params.BaseMint == "" || s.params.QuoteMint == "" {
		return domain.NewConfigError("mints", "base and quote mint required")
	}
	if s.params.UpperPrice <= s.params.LowerPrice {
		return domain.NewConfigError("price_range", "upper must exceed lower")
	}
	if s.params.LowerPrice <= 0 {
		return domain.NewConfigError("price_range", "lower must be positive")
	}
	if s.params.LevelCount <= 0 {
		return domain.NewConfigError("level_count", "must be positive")
	}
	if s.params.TotalInvestment <= 0 {
		return domain.NewConfigError("total_investment", "must be positive")
	}
	return nil
}

func (s *GridStrategy) ShouldRun() bool {
	return s.shouldRunBase()
}

func (s *GridStrategy) snapshotState() gridState {
	s.mu.Lock()
	defer s.mu.Unlock()
	levels := make([]*domain.GridLevel, len(s.levels))
	for i, l := range s.levels {
		cp := *l
		levels[i] = &cp
	}
	return gridState{Params: s.params, Levels: levels, Realized: s.realized}
}

// RestoreSnapshot rehydrates the ladder, including respawned levels and
// fill flags, and the realized profit. Params stay as configured.
func (s *GridStrategy) RestoreSnapshot(snap *domain.StrategySnapshot) error {
	if snap.Kind != StrategyKindGrid {
		return fmt.Errorf("snapshot kind %q, want %q", snap.Kind, StrategyKindGrid)
	}
	var st gridState
	if err := json.Unmarshal([]byte(snap.ConfigJSON), &st); err != nil {
		return err
	}
	s.mu.Lock()
	if len(st.Levels) > 0 {
		s.levels = st.Levels
	}
	s.realized = st.Realized
	s.mu.Unlock()
	s.restoreCounters(snap)
	return nil
}

// Levels returns a copy of the current ladder.
func (s *GridStrategy) Levels() []domain.GridLevel {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.GridLevel, len(s.levels))
	for i, l := range s.levels {
		out[i] = *l
	}
	return out
}

func (s *GridStrategy) activeLevelCount() int {
	n := 0
	for _, l := range s.levels {
		if !l.Filled {
			n++
		}
	}
	return n
}

func (s *GridStrategy) Execute(ctx context.Context) (bool, error) {
	if !s.beginExecution() {
		return false, nil
	}
	profit := 0.0
	defer func() {
		s.finishExecution(profit)
		s.snapshot(ctx, s.snapshotState())
	}()

	// Current market price of base in quote units, via a unit quote.
	quote, err := s.deps.Swap.Quote(ctx, s.params.BaseMint, s.params.QuoteMint, 1, 0)
	if err != nil {
		return false, fmt.Errorf("grid %s: price refresh: %w", s.ID(), err)
	}
	price := quote.OutAmount
	if price <= 0 {
		return false, fmt.Errorf("grid %s: bad quote price", s.ID())
	}

	if s.checkExitConditions(price) {
		return false, nil
	}

	level := s.selectLevel(price)
	if level == nil {
		return false, nil
	}

	var result *domain.SwapResult
	var execErr error
	exec := &domain.TradeExecution{
		ID:        uuid.NewString(),
		Timestamp: time.Now(),
		Price:     price,
		DryRun:    s.dryRun(),
	}

	if level.Side == domain.GridSideBuy {
		exec.Action = domain.ActionBuy
		exec.Mint = s.params.BaseMint
		exec.Amount = level.Amount // quote spent
		result, execErr = s.submitSwap(ctx, s.params.QuoteMint, s.params.BaseMint, level.Amount, 100)
	} else {
		exec.Action = domain.ActionSell
		exec.Mint = s.params.BaseMint
		exec.Amount = level.Amount / level.Price // base sold
		result, execErr = s.submitSwap(ctx, s.params.BaseMint, s.params.QuoteMint, exec.Amount, 100)
	}

	switch {
	case execErr != nil:
		exec.Error = execErr.Error()
	case !result.Success:
		exec.Error = result.Error
	default:
		exec.Success = true
		exec.Proceeds = result.OutputAmount
		exec.PriceImpactPct = result.PriceImpactPct
		exec.Signature = result.Signature
	}
	s.recordExecution(ctx, exec)

	if execErr != nil {
		return false, fmt.Errorf("grid %s: swap: %w", s.ID(), execErr)
	}
	if !exec.Success {
		return false, fmt.Errorf("grid %s: swap failed: %s", s.ID(), exec.Error)
	}

	s.mu.Lock()
	level.Filled = true
	if level.Side == domain.GridSideSell {
		sellProfit := result.OutputAmount - level.Amount
		s.realized += sellProfit
		profit = sellProfit
	}
	if s.params.RebalanceOnFill {
		s.spawnComplement(level, price)
	}
	s.mu.Unlock()

	s.deps.Logger.Info("Grid level filled",
		zap.String("id", s.ID()),
		zap.String("side", string(level.Side)),
		zap.Float64("level_price", level.Price),
		zap.Float64("market_price", price),
		zap.Bool("dry_run", exec.DryRun))
	return true, nil
}

// checkExitConditions disables the strategy when the stop-loss or
// take-profit trips. Evaluated against the range midpoint and cumulative
// realized profit.
func (s *GridStrategy) checkExitConditions(price float64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	midpoint := (s.params.LowerPrice + s.params.UpperPrice) / 2
	if s.params.StopLossPct > 0 && price <= midpoint*(1-s.params.StopLossPct/100) {
		s.deps.Logger.Warn("Grid stop-loss tripped, disabling",
			zap.String("id", s.config.ID), zap.Float64("price", price), zap.Float64("midpoint", midpoint))
		s.config.Enabled = false
		return true
	}
	if s.params.TakeProfitPct > 0 && s.realized >= s.params.TotalInvestment*s.params.TakeProfitPct/100 {
		s.deps.Logger.Info("Grid take-profit reached, disabling",
			zap.String("id", s.config.ID), zap.Float64("realized", s.realized))
		s.config.Enabled = false
		return true
	}
	return false
}

// selectLevel picks the nearest unfilled level within tolerance whose side
// condition is met: buy levels trigger when price <= level price, sell
// levels when price >= level price. At most one level per call.
func (s *GridStrategy) selectLevel(price float64) *domain.GridLevel {
	s.mu.Lock()
	defer s.mu.Unlock()

	var best *domain.GridLevel
	bestDist := math.MaxFloat64
	for _, l := range s.levels {
		if l.Filled {
			continue
		}
		dist := math.Abs(price-l.Price) / l.Price * 100
		if dist > gridPriceTolerancePct {
			continue
		}
		triggered := (l.Side == domain.GridSideBuy && price <= l.Price) ||
			(l.Side == domain.GridSideSell && price >= l.Price)
		if !triggered {
			continue
		}
		if dist < bestDist {
			best = l
			bestDist = dist
		}
	}
	return best
}

// spawnComplement appends the opposite-side level near the fill price,
// evicting the oldest unfilled level of that side when the ladder is at
// its cap. Caller holds the lock.
func (s *GridStrategy) spawnComplement(filled *domain.GridLevel, fillPrice float64) {
	side := domain.GridSideSell
	offset := 1 + gridRespawnOffsetPct/100
	if filled.Side == domain.GridSideSell {
		side = domain.GridSideBuy
		offset = 1 - gridRespawnOffsetPct/100
	}

	if s.activeLevelCount() >= s.params.MaxActiveLevels {
		s.evictOldestUnfilled(side)
	}
	s.levels = append(s.levels, &domain.GridLevel{
		Price:     fillPrice * offset,
		Amount:    filled.Amount,
		Side:      side,
		CreatedAt: time.Now(),
	})
}

func (s *GridStrategy) evictOldestUnfilled(side domain.GridSide) {
	oldest := -1
	for i, l := range s.levels {
		if l.Filled || l.Side != side {
			continue
		}
		if oldest < 0 || l.CreatedAt.Before(s.levels[oldest].CreatedAt) {
			oldest = i
		}
	}
	if oldest < 0 {
		// No candidate on that side: evict the oldest unfilled overall.
		for i, l := range s.levels {
			if l.Filled {
				continue
			}
			if oldest < 0 || l.CreatedAt.Before(s.levels[oldest].CreatedAt) {
				oldest = i
			}
		}
	}
	if oldest >= 0 {
		s.levels = append(s.levels[:oldest], s.levels[oldest+1:]...)
	}
}
