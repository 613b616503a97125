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

func newTestDaemonParts(portfolio *MockPortfolio, settings *MockSettingsRepo) (*usecase.Daemon, *usecase.StrategyManager, *usecase.AutoTrader) {
	logger := zap.NewNop()
	scanner := usecase.NewOpportunityScanner(portfolio, logger)
	manager := usecase.NewStrategyManager(logger)
	trader := usecase.NewAutoTrader(&MockSwap{}, &MockWallet{Identity: "w"}, &MockExecutionRepo{}, logger)
	trader.SetPacing(0)
	return usecase.NewDaemon(scanner, manager, trader, settings, logger), manager, trader
}

func newTestDaemon(portfolio *MockPortfolio, settings *MockSettingsRepo) *usecase.Daemon {
	d, _, _ := newTestDaemonParts(portfolio, settings)
	return d
}

func fastSettings() *domain.TradingSettings {
	s := domain.DefaultTradingSettings()
	s.CheckInterval = 20 * time.Millisecond
	return s
}

func TestDaemon_StartRunsImmediateCycle(t *testing.T) {
	portfolio := &MockPortfolio{}
	d := newTestDaemon(portfolio, &MockSettingsRepo{Settings: fastSettings()})

	require.NoError(t, d.Start(context.Background()))
	defer d.Stop()

	// The first cycle runs on start, not on the first tick.
	deadline := time.Now().Add(time.Second)
	for d.CycleCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	assert.Greater(t, d.CycleCount(), int64(0))
	assert.True(t, d.IsRunning())
	assert.GreaterOrEqual(t, portfolio.RefreshCalls(), 1)
}

func TestDaemon_DoubleStartIsNoop(t *testing.T) {
	d := newTestDaemon(&MockPortfolio{}, &MockSettingsRepo{Settings: fastSettings()})

	require.NoError(t, d.Start(context.Background()))
	defer d.Stop()
	first := d.Status()

	require.NoError(t, d.Start(context.Background()), "second start must be a logged no-op")
	assert.True(t, d.IsRunning())
	assert.GreaterOrEqual(t, d.CycleCount(), first.CycleCount, "no counter reset from the second start")
}

func TestDaemon_StopIsIdempotentAndDisablesTrader(t *testing.T) {
	d := newTestDaemon(&MockPortfolio{}, &MockSettingsRepo{Settings: fastSettings()})
	require.NoError(t, d.Start(context.Background()))

	d.Stop()
	assert.False(t, d.IsRunning())
	d.Stop() // second stop must not panic or block
	assert.Equal(t, usecase.DaemonStopped, d.Status().State)
	assert.False(t, d.Status().AutoTrader.Enabled)
}

func TestDaemon_SelfStopsAfterErrorThreshold(t *testing.T) {
	// Every cycle fails at the portfolio refresh.
	portfolio := &MockPortfolio{Err: assert.AnError}
	d := newTestDaemon(portfolio, &MockSettingsRepo{Settings: fastSettings()})

	require.NoError(t, d.Start(context.Background()))
	defer d.Stop()

	deadline := time.Now().Add(3 * time.Second)
	for d.IsRunning() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	assert.False(t, d.IsRunning(), "daemon must stop itself after repeated cycle errors")
	assert.GreaterOrEqual(t, d.ErrorCount(), int64(10))
}

func TestDaemon_CycleErrorDoesNotStopDaemon(t *testing.T) {
	portfolio := &MockPortfolio{Err: assert.AnError}
	d := newTestDaemon(portfolio, &MockSettingsRepo{Settings: fastSettings()})

	require.NoError(t, d.Start(context.Background()))
	defer d.Stop()

	deadline := time.Now().Add(time.Second)
	for d.ErrorCount() < 3 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	assert.True(t, d.IsRunning(), "errors below the threshold only degrade, never stop")
	assert.GreaterOrEqual(t, d.ErrorCount(), int64(3))
}

func TestDaemon_StatusReflectsState(t *testing.T) {
	d := newTestDaemon(&MockPortfolio{}, &MockSettingsRepo{Settings: fastSettings()})

	status := d.Status()
	assert.Equal(t, usecase.DaemonStopped, status.State)
	assert.False(t, status.Running)

	require.NoError(t, d.Start(context.Background()))
	defer d.Stop()

	deadline := time.Now().Add(time.Second)
	for d.CycleCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	status = d.Status()
	assert.True(t, status.Running)
	assert.Greater(t, status.CycleCount, int64(0))
	assert.False(t, status.LastCycleAt.IsZero())
}

func TestDaemon_SettingsRereadEachCycle(t *testing.T) {
	settingsRepo := &MockSettingsRepo{Settings: fastSettings()}
	d := newTestDaemon(&MockPortfolio{}, settingsRepo)

	require.NoError(t, d.Start(context.Background()))
	defer d.Stop()

	deadline := time.Now().Add(time.Second)
	for d.CycleCount() < 3 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	// One read at start plus one per cycle.
	assert.GreaterOrEqual(t, settingsRepo.GetCalls(), 3)
}

func TestDaemon_ContextCancelStopsDaemon(t *testing.T) {
	d := newTestDaemon(&MockPortfolio{}, &MockSettingsRepo{Settings: fastSettings()})

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, d.Start(ctx))

	deadline := time.Now().Add(time.Second)
	for d.CycleCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	cancel()

	deadline = time.Now().Add(2 * time.Second)
	for d.Status().State != usecase.DaemonStopped && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	assert.Equal(t, usecase.DaemonStopped, d.Status().State,
		"cancelling the start context must bring the daemon back to stopped")

	// A fully stopped daemon accepts a fresh start.
	require.NoError(t, d.Start(context.Background()))
	assert.True(t, d.IsRunning())
	d.Stop()
}

func TestDaemon_StopAndRestartRearmSchedulers(t *testing.T) {
	settings := fastSettings()
	settings.AutoTradeEnabled = true
	d, manager, trader := newTestDaemonParts(&MockPortfolio{}, &MockSettingsRepo{Settings: settings})

	require.NoError(t, d.Start(context.Background()))
	assert.True(t, manager.AutoRunEnabled())
	assert.True(t, trader.IsEnabled(), "auto-trade in settings arms the executor on start")

	d.Stop()
	assert.False(t, manager.AutoRunEnabled(), "stop must disable strategy auto-run")
	assert.False(t, trader.IsEnabled(), "stop must disable the executor")

	require.NoError(t, d.Start(context.Background()))
	defer d.Stop()
	assert.True(t, manager.AutoRunEnabled(), "restart must re-arm strategy auto-run")
	assert.True(t, trader.IsEnabled())
}
