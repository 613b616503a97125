package usecase_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitos/crypto_auto_trader/internal/domain"
	"github.com/vitos/crypto_auto_trader/internal/usecase"
	"go.uber.org/zap"
)

func pos(symbol string, amount, entry, current float64) *domain.Position {
	return &domain.Position{
		Mint:         symbol + "-mint",
		Symbol:       symbol,
		Amount:       amount,
		EntryPrice:   entry,
		CurrentPrice: current,
	}
}

func TestScanner_HighestQualifyingTargetWins(t *testing.T) {
	scanner := usecase.NewOpportunityScanner(&MockPortfolio{}, zap.NewNop())

	// Profit percents: 10%, 30%, 60%, 250%.
	positions := []*domain.Position{
		pos("AAA", 100, 1.0, 1.10),
		pos("BBB", 100, 1.0, 1.30),
		pos("CCC", 100, 1.0, 1.60),
		pos("DDD", 100, 1.0, 3.50),
	}
	targets := []domain.ProfitTarget{
		{ID: "t25", TriggerPercent: 25, SellPercent: 30, Enabled: true},
		{ID: "t50", TriggerPercent: 50, SellPercent: 40, Enabled: true},
		{ID: "t100", TriggerPercent: 100, SellPercent: 60, Enabled: true},
		{ID: "t200", TriggerPercent: 200, SellPercent: 80, Enabled: true},
	}

	opps := scanner.Scan(positions, targets, 5, 0)
	require.Len(t, opps, 3, "10%% position is under every trigger")

	// Sorted URGENT -> HIGH(none here) -> MEDIUM -> LOW.
	assert.Equal(t, "DDD", opps[0].Position.Symbol)
	assert.Equal(t, domain.PriorityUrgent, opps[0].Priority)
	assert.Equal(t, "t200", opps[0].Target.ID)

	assert.Equal(t, "CCC", opps[1].Position.Symbol)
	assert.Equal(t, domain.PriorityMedium, opps[1].Priority)
	assert.Equal(t, "t50", opps[1].Target.ID, "60%% profit matches the 50%% trigger, not 25%%")

	assert.Equal(t, "BBB", opps[2].Position.Symbol)
	assert.Equal(t, domain.PriorityLow, opps[2].Priority)
	assert.Equal(t, "t25", opps[2].Target.ID)
}

func TestScanner_EstimatedProceeds(t *testing.T) {
	scanner := usecase.NewOpportunityScanner(&MockPortfolio{}, zap.NewNop())

	positions := []*domain.Position{pos("AAA", 200, 1.0, 2.0)} // 100% profit
	targets := []domain.ProfitTarget{{ID: "t", TriggerPercent: 50, SellPercent: 25, Enabled: true}}

	opps := scanner.Scan(positions, targets, 5, 0)
	require.Len(t, opps, 1)
	// 200 tokens * 25% * $2.00
	assert.InDelta(t, 100.0, opps[0].EstimatedProceeds, 1e-9)
	assert.Equal(t, domain.PriorityHigh, opps[0].Priority)
}

func TestScanner_ExcludesDustAndPriceless(t *testing.T) {
	scanner := usecase.NewOpportunityScanner(&MockPortfolio{}, zap.NewNop())

	positions := []*domain.Position{
		pos("DUST", 1, 0.001, 0.002),      // value $0.002
		{Mint: "x", Symbol: "NOPX", Amount: 100, CurrentPrice: 5}, // no entry price
		pos("GOOD", 100, 1.0, 2.0),
	}
	targets := []domain.ProfitTarget{{ID: "t", TriggerPercent: 10, SellPercent: 50, Enabled: true}}

	opps := scanner.Scan(positions, targets, 5, 1.0)
	require.Len(t, opps, 1)
	assert.Equal(t, "GOOD", opps[0].Position.Symbol)
}

func TestScanner_DisabledTargetsIgnored(t *testing.T) {
	scanner := usecase.NewOpportunityScanner(&MockPortfolio{}, zap.NewNop())

	positions := []*domain.Position{pos("AAA", 100, 1.0, 2.0)}
	targets := []domain.ProfitTarget{
		{ID: "off", TriggerPercent: 90, SellPercent: 50, Enabled: false},
		{ID: "on", TriggerPercent: 25, SellPercent: 30, Enabled: true},
	}

	opps := scanner.Scan(positions, targets, 5, 0)
	require.Len(t, opps, 1)
	assert.Equal(t, "on", opps[0].Target.ID)
}

func TestScanner_RefreshReplacesSet(t *testing.T) {
	portfolio := &MockPortfolio{Positions: []*domain.Position{pos("AAA", 100, 1.0, 2.0)}}
	scanner := usecase.NewOpportunityScanner(portfolio, zap.NewNop())

	settings := domain.DefaultTradingSettings()
	settings.ProfitTargets = []domain.ProfitTarget{{ID: "t", TriggerPercent: 25, SellPercent: 30, Enabled: true}}

	_, err := scanner.Refresh(context.Background(), settings)
	require.NoError(t, err)
	require.Len(t, scanner.Current(), 1)

	// Position no longer profitable: the old set must be gone, not patched.
	portfolio.Positions = []*domain.Position{pos("AAA", 100, 1.0, 1.01)}
	_, err = scanner.Refresh(context.Background(), settings)
	require.NoError(t, err)
	assert.Empty(t, scanner.Current())
	assert.Equal(t, 2, portfolio.RefreshCalls())
}
