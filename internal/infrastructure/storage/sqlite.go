package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/vitos/crypto_auto_trader/internal/domain"
)

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS executions (
			id TEXT PRIMARY KEY,
			timestamp DATETIME NOT NULL,
			action TEXT NOT NULL,
			mint TEXT NOT NULL,
			symbol TEXT NOT NULL,
			amount REAL NOT NULL,
			price REAL NOT NULL,
			proceeds REAL NOT NULL,
			price_impact_pct REAL NOT NULL DEFAULT 0,
			success BOOLEAN NOT NULL,
			error TEXT NOT NULL DEFAULT '',
			dry_run BOOLEAN NOT NULL DEFAULT 0,
			signature TEXT NOT NULL DEFAULT '',
			strategy_id TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE INDEX IF NOT EXISTS idx_executions_timestamp ON executions(timestamp);`,
		`CREATE TABLE IF NOT EXISTS strategy_snapshots (
			strategy_id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			name TEXT NOT NULL,
			config_json TEXT NOT NULL,
			execution_count INTEGER NOT NULL DEFAULT 0,
			total_profit REAL NOT NULL DEFAULT 0,
			last_executed_at DATETIME,
			updated_at DATETIME NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS settings (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			profit_targets TEXT NOT NULL DEFAULT '[]',
			min_profit_percent REAL NOT NULL,
			dust_threshold_usd REAL NOT NULL,
			auto_trade_enabled BOOLEAN NOT NULL DEFAULT 0,
			strategy_auto_run BOOLEAN NOT NULL DEFAULT 0,
			max_daily_trades INTEGER NOT NULL,
			max_price_impact_pct REAL NOT NULL,
			slippage_bps INTEGER NOT NULL,
			settlement_mint TEXT NOT NULL DEFAULT '',
			check_interval_ms INTEGER NOT NULL,
			dry_run BOOLEAN NOT NULL DEFAULT 1
		);`,
	}

	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return fmt.Errorf("failed to exec query %s: %w", q, err)
		}
	}

	// Migration: older databases predate these columns.
	// We ignore the error if the column already exists
	_, _ = s.db.Exec(`ALTER TABLE executions ADD COLUMN strategy_id TEXT NOT NULL DEFAULT ''`)
	_, _ = s.db.Exec(`ALTER TABLE executions ADD COLUMN price_impact_pct REAL NOT NULL DEFAULT 0`)
	_, _ = s.db.Exec(`ALTER TABLE settings ADD COLUMN settlement_mint TEXT NOT NULL DEFAULT ''`)

	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ExecutionRepository Implementation

func (s *SQLiteStore) SaveExecution(ctx context.Context, exec *domain.TradeExecution) error {
	query := `INSERT INTO executions (id, timestamp, action, mint, symbol, amount, price, proceeds, price_impact_pct, success, error, dry_run, signature, strategy_id)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		exec.ID, exec.Timestamp, exec.Action, exec.Mint, exec.Symbol, exec.Amount,
		exec.Price, exec.Proceeds, exec.PriceImpactPct, exec.Success, exec.Error, exec.DryRun, exec.Signature, exec.StrategyID)
	return err
}

func (s *SQLiteStore) ListExecutions(ctx context.Context, limit int) ([]*domain.TradeExecution, error) {
	query := `SELECT id, timestamp, action, mint, symbol, amount, price, proceeds, price_impact_pct, success, error, dry_run, signature, strategy_id
			  FROM executions ORDER BY timestamp DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var executions []*domain.TradeExecution
	for rows.Next() {
		var e domain.TradeExecution
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.Action, &e.Mint, &e.Symbol, &e.Amount, &e.Price, &e.Proceeds, &e.PriceImpactPct, &e.Success, &e.Error, &e.DryRun, &e.Signature, &e.StrategyID); err != nil {
			return nil, err
		}
		executions = append(executions, &e)
	}
	return executions, rows.Err()
}

// StrategyRepository Implementation

func (s *SQLiteStore) SaveStrategySnapshot(ctx context.Context, snap *domain.StrategySnapshot) error {
	query := `INSERT INTO strategy_snapshots (strategy_id, kind, name, config_json, execution_count, total_profit, last_executed_at, updated_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			  ON CONFLICT(strategy_id) DO UPDATE SET
			  kind=excluded.kind,
			  name=excluded.name,
			  config_json=excluded.config_json,
			  execution_count=excluded.execution_count,
			  total_profit=excluded.total_profit,
			  last_executed_at=excluded.last_executed_at,
			  updated_at=excluded.updated_at`
	_, err := s.db.ExecContext(ctx, query,
		snap.StrategyID, snap.Kind, snap.Name, snap.ConfigJSON,
		snap.ExecutionCount, snap.TotalProfit, snap.LastExecutedAt, snap.UpdatedAt)
	return err
}

func (s *SQLiteStore) GetStrategySnapshot(ctx context.Context, strategyID string) (*domain.StrategySnapshot, error) {
	query := `SELECT strategy_id, kind, name, config_json, execution_count, total_profit, last_executed_at, updated_at
			  FROM strategy_snapshots WHERE strategy_id = ?`
	row := s.db.QueryRowContext(ctx, query, strategyID)

	var snap domain.StrategySnapshot
	err := row.Scan(&snap.StrategyID, &snap.Kind, &snap.Name, &snap.ConfigJSON, &snap.ExecutionCount, &snap.TotalProfit, &snap.LastExecutedAt, &snap.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

func (s *SQLiteStore) ListStrategySnapshots(ctx context.Context) ([]*domain.StrategySnapshot, error) {
	query := `SELECT strategy_id, kind, name, config_json, execution_count, total_profit, last_executed_at, updated_at
			  FROM strategy_snapshots`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snapshots []*domain.StrategySnapshot
	for rows.Next() {
		var snap domain.StrategySnapshot
		if err := rows.Scan(&snap.StrategyID, &snap.Kind, &snap.Name, &snap.ConfigJSON, &snap.ExecutionCount, &snap.TotalProfit, &snap.LastExecutedAt, &snap.UpdatedAt); err != nil {
			return nil, err
		}
		snapshots = append(snapshots, &snap)
	}
	return snapshots, rows.Err()
}

// SettingsRepository Implementation

// GetSettings returns the stored settings row, or the safe defaults when
// the table is empty.
func (s *SQLiteStore) GetSettings(ctx context.Context) (*domain.TradingSettings, error) {
	query := `SELECT profit_targets, min_profit_percent, dust_threshold_usd, auto_trade_enabled, strategy_auto_run,
			  max_daily_trades, max_price_impact_pct, slippage_bps, settlement_mint, check_interval_ms, dry_run
			  FROM settings WHERE id = 1`
	row := s.db.QueryRowContext(ctx, query)

	var (
		settings   domain.TradingSettings
		targetsRaw string
		intervalMs int64
	)
	err := row.Scan(&targetsRaw, &settings.MinProfitPercent, &settings.DustThresholdUSD,
		&settings.AutoTradeEnabled, &settings.StrategyAutoRun, &settings.MaxDailyTrades,
		&settings.MaxPriceImpactPct, &settings.SlippageBps, &settings.SettlementMint, &intervalMs, &settings.DryRun)
	if err == sql.ErrNoRows {
		return domain.DefaultTradingSettings(), nil
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(targetsRaw), &settings.ProfitTargets); err != nil {
		return nil, fmt.Errorf("failed to decode profit targets: %w", err)
	}
	settings.CheckInterval = time.Duration(intervalMs) * time.Millisecond
	return &settings, nil
}

func (s *SQLiteStore) SaveSettings(ctx context.Context, settings *domain.TradingSettings) error {
	targets := settings.ProfitTargets
	if targets == nil {
		targets = []domain.ProfitTarget{}
	}
	targetsRaw, err := json.Marshal(targets)
	if err != nil {
		return fmt.Errorf("failed to encode profit targets: %w", err)
	}

	query := `INSERT INTO settings (id, profit_targets, min_profit_percent, dust_threshold_usd, auto_trade_enabled, strategy_auto_run,
			  max_daily_trades, max_price_impact_pct, slippage_bps, settlement_mint, check_interval_ms, dry_run)
			  VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			  ON CONFLICT(id) DO UPDATE SET
			  profit_targets=excluded.profit_targets,
			  min_profit_percent=excluded.min_profit_percent,
			  dust_threshold_usd=excluded.dust_threshold_usd,
			  auto_trade_enabled=excluded.auto_trade_enabled,
			  strategy_auto_run=excluded.strategy_auto_run,
			  max_daily_trades=excluded.max_daily_trades,
			  max_price_impact_pct=excluded.max_price_impact_pct,
			  slippage_bps=excluded.slippage_bps,
			  settlement_mint=excluded.settlement_mint,
			  check_interval_ms=excluded.check_interval_ms,
			  dry_run=excluded.dry_run`
	_, err = s.db.ExecContext(ctx, query,
		string(targetsRaw), settings.MinProfitPercent, settings.DustThresholdUSD,
		settings.AutoTradeEnabled, settings.StrategyAutoRun, settings.MaxDailyTrades,
		settings.MaxPriceImpactPct, settings.SlippageBps, settings.SettlementMint,
		settings.CheckInterval.Milliseconds(), settings.DryRun)
	return err
}
