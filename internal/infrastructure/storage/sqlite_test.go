package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitos/crypto_auto_trader/internal/domain"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestExecutionLogOrderAndLimit(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"first", "second", "third"} {
		require.NoError(t, store.SaveExecution(ctx, &domain.TradeExecution{
			ID:        id,
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Action:    domain.ActionSell,
			Mint:      "BONKmint",
			Symbol:    "BONK",
			Amount:    100,
			Price:     0.5,
			Proceeds:  50,
			Success:   true,
			DryRun:    true,
		}))
	}

	execs, err := store.ListExecutions(ctx, 2)
	require.NoError(t, err)
	require.Len(t, execs, 2)
	assert.Equal(t, "third", execs[0].ID, "newest first")
	assert.Equal(t, "second", execs[1].ID)
}

func TestStrategySnapshotUpsert(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	snap := &domain.StrategySnapshot{
		StrategyID: "dca-sol",
		Kind:       "accumulation",
		Name:       "SOL daily buy",
		ConfigJSON: `{"buy_amount":25}`,
		UpdatedAt:  time.Now().UTC(),
	}
	require.NoError(t, store.SaveStrategySnapshot(ctx, snap))

	snap.ExecutionCount = 7
	snap.TotalProfit = 12.5
	snap.LastExecutedAt = time.Now().UTC()
	require.NoError(t, store.SaveStrategySnapshot(ctx, snap))

	got, err := store.GetStrategySnapshot(ctx, "dca-sol")
	require.NoError(t, err)
	assert.Equal(t, int64(7), got.ExecutionCount)
	assert.Equal(t, 12.5, got.TotalProfit)

	all, err := store.ListStrategySnapshots(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1, "upsert must not duplicate rows")
}

func TestSettingsRoundTripAndDefaults(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// Empty table yields the safe defaults.
	got, err := store.GetSettings(ctx)
	require.NoError(t, err)
	assert.True(t, got.DryRun)
	assert.False(t, got.AutoTradeEnabled)

	want := domain.DefaultTradingSettings()
	want.ProfitTargets = []domain.ProfitTarget{
		{ID: "t1", TriggerPercent: 50, SellPercent: 25, Enabled: true},
	}
	want.AutoTradeEnabled = true
	want.CheckInterval = 15 * time.Second
	require.NoError(t, store.SaveSettings(ctx, want))

	got, err = store.GetSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, want.ProfitTargets, got.ProfitTargets)
	assert.True(t, got.AutoTradeEnabled)
	assert.Equal(t, 15*time.Second, got.CheckInterval)
}
