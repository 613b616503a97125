package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/vitos/crypto_auto_trader/internal/domain"
	"go.uber.org/zap"
)

const (
	StrategyKindAccumulation = "accumulation"
	StrategyKindGrid         = "grid"
	StrategyKindRebalance    = "rebalance"

	// Every strategy enforces this floor between two executions of the
	// same instance, on top of its own schedule.
	strategyCooldown = 10 * time.Second

	// Ceiling on quoted price impact for strategy buys.
	maxStrategyPriceImpactPct = 2.0
)

// Strategy is the shared contract of all strategy kinds: a structural
// config check at creation, a side-effect-free gate, and one state
// transition per Execute call. Execute returns whether a trade was made;
// counters and timestamps advance on every attempt either way.
type Strategy interface {
	ID() string
	Name() string
	Kind() string
	Validate() error
	ShouldRun() bool
	Execute(ctx context.Context) (bool, error)
	Status() StrategyStatus
	SetEnabled(enabled bool)
	SetDryRun(dryRun bool)
}

// StrategyStatus is a read-only snapshot for the web/status surface.
type StrategyStatus struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Kind           string    `json:"kind"`
	Enabled        bool      `json:"enabled"`
	DryRun         bool      `json:"dry_run"`
	ExecutionCount int64     `json:"execution_count"`
	TotalProfit    float64   `json:"total_profit"`
	MaxDrawdown    float64   `json:"max_drawdown"`
	CreatedAt      time.Time `json:"created_at"`
	LastExecutedAt time.Time `json:"last_executed_at"`
}

// StrategyDeps are the collaborators every strategy executes through,
// injected at construction.
type StrategyDeps struct {
	Swap       domain.SwapService
	Portfolio  domain.PortfolioService
	Wallet     domain.WalletService
	Executions domain.ExecutionRepository
	Snapshots  domain.StrategyRepository
	Logger     *zap.Logger
}

// baseStrategy carries the shared config, the single-owner execution guard
// and the bookkeeping every variant shares.
type baseStrategy struct {
	mu     sync.Mutex
	busy   bool
	kind   string
	config domain.StrategyConfig
	deps   StrategyDeps
}

func newBaseStrategy(kind string, config domain.StrategyConfig, deps StrategyDeps) baseStrategy {
	if config.CreatedAt.IsZero() {
		config.CreatedAt = time.Now()
	}
	return baseStrategy{kind: kind, config: config, deps: deps}
}

func (b *baseStrategy) ID() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.config.ID
}

func (b *baseStrategy) Name() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.config.Name
}

func (b *baseStrategy) Kind() string { return b.kind }

func (b *baseStrategy) SetEnabled(enabled bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.config.Enabled = enabled
}

func (b *baseStrategy) SetDryRun(dryRun bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.config.DryRun = dryRun
}

func (b *baseStrategy) dryRun() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.config.DryRun
}

func (b *baseStrategy) Status() StrategyStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	return StrategyStatus{
		ID:             b.config.ID,
		Name:           b.config.Name,
		Kind:           b.kind,
		Enabled:        b.config.Enabled,
		DryRun:         b.config.DryRun,
		ExecutionCount: b.config.ExecutionCount,
		TotalProfit:    b.config.TotalProfit,
		MaxDrawdown:    b.config.MaxDrawdown,
		CreatedAt:      b.config.CreatedAt,
		LastExecutedAt: b.config.LastExecutedAt,
	}
}

// shouldRunBase gates on enablement and the inter-execution cooldown.
// No side effects.
func (b *baseStrategy) shouldRunBase() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.config.Enabled || b.busy {
		return false
	}
	if !b.config.LastExecutedAt.IsZero() && time.Since(b.config.LastExecutedAt) < strategyCooldown {
		return false
	}
	return true
}

// beginExecution claims the single in-flight execution slot.
func (b *baseStrategy) beginExecution() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.busy {
		return false
	}
	b.busy = true
	return true
}

// finishExecution releases the slot and advances counters and timestamps.
// Called on every attempt, success or failure.
func (b *baseStrategy) finishExecution(profit float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.busy = false
	b.config.ExecutionCount++
	b.config.LastExecutedAt = time.Now()
	b.config.TotalProfit += profit
	if b.config.TotalProfit < b.config.MaxDrawdown {
		b.config.MaxDrawdown = b.config.TotalProfit
	}
}

// recordExecution appends the attempt to the durable log. Store failures
// are logged, never propagated: the trade outcome is already decided.
func (b *baseStrategy) recordExecution(ctx context.Context, exec *domain.TradeExecution) {
	exec.StrategyID = b.ID()
	if err := b.deps.Executions.SaveExecution(ctx, exec); err != nil {
		b.deps.Logger.Error("Failed to persist execution",
			zap.String("strategy", exec.StrategyID), zap.Error(err))
	}
}

// snapshot persists config and counters so schedules survive a restart.
func (b *baseStrategy) snapshot(ctx context.Context, params any) {
	if b.deps.Snapshots == nil {
		return
	}
	raw, err := json.Marshal(params)
	if err != nil {
		b.deps.Logger.Error("Failed to marshal strategy params", zap.Error(err))
		return
	}
	b.mu.Lock()
	snap := &domain.StrategySnapshot{
		StrategyID:     b.config.ID,
		Kind:           b.kind,
		Name:           b.config.Name,
		ConfigJSON:     string(raw),
		ExecutionCount: b.config.ExecutionCount,
		TotalProfit:    b.config.TotalProfit,
		LastExecutedAt: b.config.LastExecutedAt,
		UpdatedAt:      time.Now(),
	}
	b.mu.Unlock()
	if err := b.deps.Snapshots.SaveStrategySnapshot(ctx, snap); err != nil {
		b.deps.Logger.Error("Failed to persist strategy snapshot",
			zap.String("strategy", snap.StrategyID), zap.Error(err))
	}
}

// restoreCounters applies persisted counters on top of a freshly built
// strategy. Meant to run before the first execution.
func (b *baseStrategy) restoreCounters(snap *domain.StrategySnapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.config.ExecutionCount = snap.ExecutionCount
	b.config.TotalProfit = snap.TotalProfit
	b.config.LastExecutedAt = snap.LastExecutedAt
	if b.config.TotalProfit < b.config.MaxDrawdown {
		b.config.MaxDrawdown = b.config.TotalProfit
	}
}

// submitSwap routes one leg through the swap service in the strategy's
// current mode. Live mode requires a signing wallet; inability to
// determine the mode safely is a config error, never a silent live trade.
func (b *baseStrategy) submitSwap(ctx context.Context, inputMint, outputMint string, amount float64, slippageBps int) (*domain.SwapResult, error) {
	dryRun := b.dryRun()
	if !dryRun && !b.deps.Wallet.CanSign() {
		return nil, domain.NewConfigError("wallet", "live execution requires a signing wallet")
	}
	return b.deps.Swap.Execute(ctx, inputMint, outputMint, amount, b.deps.Wallet.PublicIdentity(), slippageBps, dryRun)
}

// StrategyManager holds all strategy instances by identity. The auto-run
// flag is the scheduler-level master switch: the daemon clears it on stop
// so no cycle can run strategies past a shutdown, without touching the
// per-strategy enabled flags.
type StrategyManager struct {
	mu         sync.RWMutex
	strategies map[string]Strategy
	autoRun    bool
	logger     *zap.Logger
}

func NewStrategyManager(logger *zap.Logger) *StrategyManager {
	return &StrategyManager{
		strategies: make(map[string]Strategy),
		autoRun:    true,
		logger:     logger,
	}
}

func (m *StrategyManager) SetAutoRun(enabled bool) {
	m.mu.Lock()
	m.autoRun = enabled
	m.mu.Unlock()
}

func (m *StrategyManager) AutoRunEnabled() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.autoRun
}

// Add validates and registers a strategy. A validation failure is fatal to
// this strategy only; the registry keeps serving the others.
func (m *StrategyManager) Add(s Strategy) error {
	if err := s.Validate(); err != nil {
		return fmt.Errorf("strategy %s: %w", s.ID(), err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.strategies[s.ID()]; exists {
		return fmt.Errorf("strategy %s already registered", s.ID())
	}
	m.strategies[s.ID()] = s
	m.logger.Info("Strategy registered",
		zap.String("id", s.ID()), zap.String("kind", s.Kind()), zap.String("name", s.Name()))
	return nil
}

func (m *StrategyManager) Remove(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.strategies[id]; !ok {
		return false
	}
	delete(m.strategies, id)
	return true
}

func (m *StrategyManager) Get(id string) (Strategy, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.strategies[id]
	return s, ok
}

func (m *StrategyManager) List() []StrategyStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]StrategyStatus, 0, len(m.strategies))
	for _, s := range m.strategies {
		out = append(out, s.Status())
	}
	return out
}

func (m *StrategyManager) SetEnabled(id string, enabled bool) error {
	s, ok := m.Get(id)
	if !ok {
		return fmt.Errorf("strategy %s not found", id)
	}
	s.SetEnabled(enabled)
	m.logger.Info("Strategy toggled", zap.String("id", id), zap.Bool("enabled", enabled))
	return nil
}

func (m *StrategyManager) SetDryRun(id string, dryRun bool) error {
	s, ok := m.Get(id)
	if !ok {
		return fmt.Errorf("strategy %s not found", id)
	}
	s.SetDryRun(dryRun)
	m.logger.Info("Strategy dry-run toggled", zap.String("id", id), zap.Bool("dry_run", dryRun))
	return nil
}

// SnapshotRestorer is implemented by strategies whose runtime state
// (schedules, fill state, totals) can be rehydrated from a persisted
// snapshot. Config params always come from configuration, never from the
// snapshot.
type SnapshotRestorer interface {
	RestoreSnapshot(snap *domain.StrategySnapshot) error
}

// RestoreAll rehydrates every registered strategy from its persisted
// snapshot. A missing snapshot is normal; a corrupt or mismatched one is
// logged and skipped.
func (m *StrategyManager) RestoreAll(ctx context.Context, repo domain.StrategyRepository) {
	m.mu.RLock()
	strategies := make([]Strategy, 0, len(m.strategies))
	for _, s := range m.strategies {
		strategies = append(strategies, s)
	}
	m.mu.RUnlock()

	for _, s := range strategies {
		restorer, ok := s.(SnapshotRestorer)
		if !ok {
			continue
		}
		snap, err := repo.GetStrategySnapshot(ctx, s.ID())
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			m.logger.Error("Failed to load strategy snapshot",
				zap.String("id", s.ID()), zap.Error(err))
			continue
		}
		if err := restorer.RestoreSnapshot(snap); err != nil {
			m.logger.Error("Failed to restore strategy snapshot",
				zap.String("id", s.ID()), zap.Error(err))
			continue
		}
		m.logger.Info("Strategy state restored",
			zap.String("id", s.ID()),
			zap.Int64("execution_count", snap.ExecutionCount),
			zap.Time("last_executed_at", snap.LastExecutedAt))
	}
}

// ExecuteOne runs a single strategy if its gate allows it.
func (m *StrategyManager) ExecuteOne(ctx context.Context, id string) (bool, error) {
	s, ok := m.Get(id)
	if !ok {
		return false, fmt.Errorf("strategy %s not found", id)
	}
	if !s.ShouldRun() {
		return false, nil
	}
	return s.Execute(ctx)
}

// ExecuteAll runs every eligible strategy, continuing past individual
// failures, and returns how many executed a trade.
func (m *StrategyManager) ExecuteAll(ctx context.Context) int {
	m.mu.RLock()
	candidates := make([]Strategy, 0, len(m.strategies))
	for _, s := range m.strategies {
		candidates = append(candidates, s)
	}
	m.mu.RUnlock()

	executed := 0
	for _, s := range candidates {
		if ctx.Err() != nil {
			return executed
		}
		if !s.ShouldRun() {
			continue
		}
		traded, err := s.Execute(ctx)
		if err != nil {
			m.logger.Error("Strategy execution failed",
				zap.String("id", s.ID()), zap.String("kind", s.Kind()), zap.Error(err))
			continue
		}
		if traded {
			executed++
		}
	}
	return executed
}
