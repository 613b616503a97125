package usecase_test

import (
	"context"
	"sync"

	"github.com/vitos/crypto_auto_trader/internal/domain"
)

// MockPortfolio serves a fixed position set.
type MockPortfolio struct {
	mu        sync.Mutex
	Positions []*domain.Position
	Err       error
	refreshes int
}

func (m *MockPortfolio) GetPositions(ctx context.Context) ([]*domain.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Positions, m.Err
}

func (m *MockPortfolio) Refresh(ctx context.Context) ([]*domain.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refreshes++
	return m.Positions, m.Err
}

func (m *MockPortfolio) RefreshCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refreshes
}

// MockSwap records quote/execute calls and answers from a configurable
// price table (output units per input unit).
type MockSwap struct {
	mu           sync.Mutex
	Rates        map[string]float64 // key inputMint->outputMint
	ImpactPct    float64
	QuoteErr     error
	ExecErr      error
	FailExec     bool
	QuoteCalls   int
	ExecuteCalls []MockSwapCall
}

type MockSwapCall struct {
	InputMint  string
	OutputMint string
	Amount     float64
	DryRun     bool
}

func rateKey(in, out string) string { return in + "->" + out }

func (m *MockSwap) rate(in, out string) float64 {
	if m.Rates == nil {
		return 1
	}
	if r, ok := m.Rates[rateKey(in, out)]; ok {
		return r
	}
	return 1
}

func (m *MockSwap) Quote(ctx context.Context, inputMint, outputMint string, amount float64, slippageBps int) (*domain.SwapQuote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.QuoteCalls++
	if m.QuoteErr != nil {
		return nil, m.QuoteErr
	}
	return &domain.SwapQuote{
		InputMint:      inputMint,
		OutputMint:     outputMint,
		InAmount:       amount,
		OutAmount:      amount * m.rate(inputMint, outputMint),
		PriceImpactPct: m.ImpactPct,
	}, nil
}

func (m *MockSwap) Execute(ctx context.Context, inputMint, outputMint string, amount float64, signer string, slippageBps int, dryRun bool) (*domain.SwapResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ExecuteCalls = append(m.ExecuteCalls, MockSwapCall{
		InputMint:  inputMint,
		OutputMint: outputMint,
		Amount:     amount,
		DryRun:     dryRun,
	})
	if m.ExecErr != nil {
		return nil, m.ExecErr
	}
	if m.FailExec {
		return &domain.SwapResult{Success: false, Error: "swap failed"}, nil
	}
	res := &domain.SwapResult{
		Success:        true,
		OutputAmount:   amount * m.rate(inputMint, outputMint),
		PriceImpactPct: m.ImpactPct,
	}
	if !dryRun {
		res.Signature = "sig-mock"
	}
	return res, nil
}

type MockWallet struct {
	Identity string
	Signing  bool
}

func (m *MockWallet) PublicIdentity() string { return m.Identity }
func (m *MockWallet) CanSign() bool          { return m.Signing }

type MockExecutionRepo struct {
	mu    sync.Mutex
	Saved []*domain.TradeExecution
}

func (m *MockExecutionRepo) SaveExecution(ctx context.Context, exec *domain.TradeExecution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Saved = append(m.Saved, exec)
	return nil
}

func (m *MockExecutionRepo) ListExecutions(ctx context.Context, limit int) ([]*domain.TradeExecution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit > len(m.Saved) {
		limit = len(m.Saved)
	}
	return m.Saved[len(m.Saved)-limit:], nil
}

type MockStrategyRepo struct {
	mu        sync.Mutex
	Snapshots map[string]*domain.StrategySnapshot
}

func (m *MockStrategyRepo) SaveStrategySnapshot(ctx context.Context, snap *domain.StrategySnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Snapshots == nil {
		m.Snapshots = make(map[string]*domain.StrategySnapshot)
	}
	m.Snapshots[snap.StrategyID] = snap
	return nil
}

func (m *MockStrategyRepo) GetStrategySnapshot(ctx context.Context, strategyID string) (*domain.StrategySnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap, ok := m.Snapshots[strategyID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return snap, nil
}

func (m *MockStrategyRepo) ListStrategySnapshots(ctx context.Context) ([]*domain.StrategySnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.StrategySnapshot
	for _, s := range m.Snapshots {
		out = append(out, s)
	}
	return out, nil
}

type MockSettingsRepo struct {
	mu       sync.Mutex
	Settings *domain.TradingSettings
	gets     int
}

func (m *MockSettingsRepo) GetSettings(ctx context.Context) (*domain.TradingSettings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gets++
	if m.Settings == nil {
		return domain.DefaultTradingSettings(), nil
	}
	return m.Settings, nil
}

func (m *MockSettingsRepo) SaveSettings(ctx context.Context, settings *domain.TradingSettings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Settings = settings
	return nil
}

func (m *MockSettingsRepo) GetCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gets
}
