package usecase_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitos/crypto_auto_trader/internal/domain"
	"github.com/vitos/crypto_auto_trader/internal/usecase"
	"go.uber.org/zap"
)

func testDeps(swap *MockSwap, portfolio *MockPortfolio) (usecase.StrategyDeps, *MockExecutionRepo) {
	execRepo := &MockExecutionRepo{}
	return usecase.StrategyDeps{
		Swap:       swap,
		Portfolio:  portfolio,
		Wallet:     &MockWallet{Identity: "wallet-pub", Signing: true},
		Executions: execRepo,
		Snapshots:  &MockStrategyRepo{},
		Logger:     zap.NewNop(),
	}, execRepo
}

func dcaParams() domain.AccumulationConfig {
	return domain.AccumulationConfig{
		TargetMint: "TOKEN",
		BaseMint:   "USDC",
		BuyAmount:  50,
		Interval:   time.Hour,
	}
}

func dcaConfig() domain.StrategyConfig {
	return domain.StrategyConfig{ID: "dca-1", Name: "hourly buy", Enabled: true, DryRun: true}
}

func TestAccumulation_Validate(t *testing.T) {
	deps, _ := testDeps(&MockSwap{}, &MockPortfolio{})

	s := usecase.NewAccumulationStrategy(dcaConfig(), dcaParams(), deps)
	assert.NoError(t, s.Validate())

	bad := dcaParams()
	bad.Interval = 0
	s = usecase.NewAccumulationStrategy(dcaConfig(), bad, deps)
	err := s.Validate()
	require.Error(t, err)
	assert.True(t, domain.IsConfigError(err))

	bad = dcaParams()
	bad.PriceFloor = 10
	bad.PriceCeiling = 5
	s = usecase.NewAccumulationStrategy(dcaConfig(), bad, deps)
	assert.Error(t, s.Validate())
}

func TestAccumulation_BuysAndAdvancesSchedule(t *testing.T) {
	swap := &MockSwap{Rates: map[string]float64{"USDC->TOKEN": 25}} // $0.04/token
	portfolio := &MockPortfolio{Positions: []*domain.Position{
		{Mint: "USDC", Symbol: "USDC", Amount: 1000, EntryPrice: 1, CurrentPrice: 1},
	}}
	deps, execRepo := testDeps(swap, portfolio)

	s := usecase.NewAccumulationStrategy(dcaConfig(), dcaParams(), deps)
	require.True(t, s.ShouldRun())

	traded, err := s.Execute(context.Background())
	require.NoError(t, err)
	assert.True(t, traded)
	assert.InDelta(t, 50.0, s.Invested(), 1e-9)
	assert.True(t, s.NextRun().After(time.Now()), "schedule advanced past now")

	require.Len(t, execRepo.Saved, 1)
	exec := execRepo.Saved[0]
	assert.True(t, exec.Success)
	assert.True(t, exec.DryRun)
	assert.Equal(t, domain.ActionBuy, exec.Action)

	// Cooldown plus schedule keep it from firing again immediately.
	assert.False(t, s.ShouldRun())
}

func TestAccumulation_ImpactRejectStillAdvancesSchedule(t *testing.T) {
	swap := &MockSwap{Rates: map[string]float64{"USDC->TOKEN": 25}, ImpactPct: 4.5}
	portfolio := &MockPortfolio{Positions: []*domain.Position{
		{Mint: "USDC", Symbol: "USDC", Amount: 1000, EntryPrice: 1, CurrentPrice: 1},
	}}
	deps, execRepo := testDeps(swap, portfolio)

	s := usecase.NewAccumulationStrategy(dcaConfig(), dcaParams(), deps)
	traded, err := s.Execute(context.Background())
	require.NoError(t, err)
	assert.False(t, traded)
	assert.Empty(t, swap.ExecuteCalls, "rejected trade must not reach the swap service")
	assert.Empty(t, execRepo.Saved)
	assert.True(t, s.NextRun().After(time.Now()), "threshold reject still moves the schedule forward")

	// The attempt still counted.
	assert.Equal(t, int64(1), s.Status().ExecutionCount)
}

func TestAccumulation_PriceCeilingReject(t *testing.T) {
	// 1 token per USDC => effective price 1.0, above the 0.5 ceiling.
	swap := &MockSwap{Rates: map[string]float64{"USDC->TOKEN": 1}}
	portfolio := &MockPortfolio{Positions: []*domain.Position{
		{Mint: "USDC", Symbol: "USDC", Amount: 1000, EntryPrice: 1, CurrentPrice: 1},
	}}
	deps, _ := testDeps(swap, portfolio)

	params := dcaParams()
	params.PriceCeiling = 0.5
	s := usecase.NewAccumulationStrategy(dcaConfig(), params, deps)

	traded, err := s.Execute(context.Background())
	require.NoError(t, err)
	assert.False(t, traded)
	assert.Empty(t, swap.ExecuteCalls)
	assert.True(t, s.NextRun().After(time.Now()))
}

func TestAccumulation_InsufficientBalanceKeepsSchedule(t *testing.T) {
	swap := &MockSwap{}
	portfolio := &MockPortfolio{Positions: []*domain.Position{
		{Mint: "USDC", Symbol: "USDC", Amount: 10, EntryPrice: 1, CurrentPrice: 1},
	}}
	deps, _ := testDeps(swap, portfolio)

	s := usecase.NewAccumulationStrategy(dcaConfig(), dcaParams(), deps)
	before := s.NextRun()
	traded, err := s.Execute(context.Background())
	require.NoError(t, err)
	assert.False(t, traded)
	assert.Equal(t, before, s.NextRun(), "an unfunded buy waits for the next cycle")
}

func TestAccumulation_InvestmentCapDisables(t *testing.T) {
	swap := &MockSwap{Rates: map[string]float64{"USDC->TOKEN": 25}}
	portfolio := &MockPortfolio{Positions: []*domain.Position{
		{Mint: "USDC", Symbol: "USDC", Amount: 1000, EntryPrice: 1, CurrentPrice: 1},
	}}
	deps, _ := testDeps(swap, portfolio)

	params := dcaParams()
	params.MaxTotalInvestment = 50
	s := usecase.NewAccumulationStrategy(dcaConfig(), params, deps)

	traded, err := s.Execute(context.Background())
	require.NoError(t, err)
	require.True(t, traded)

	// Next run: cap reached, strategy disables itself.
	traded, err = s.Execute(context.Background())
	require.NoError(t, err)
	assert.False(t, traded)
	assert.False(t, s.Status().Enabled)
}
