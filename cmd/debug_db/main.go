package main

import (
	"context"
	"fmt"
	"os"

	"github.com/vitos/crypto_auto_trader/internal/infrastructure/storage"
)

func main() {
	dbPath := "trader.db"
	if len(os.Args) >= 2 {
		dbPath = os.Args[1]
	}

	store, err := storage.NewSQLiteStore(dbPath)
	if err != nil {
		fmt.Printf("Failed to init sqlite: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	ctx := context.Background()

	settings, err := store.GetSettings(ctx)
	if err != nil {
		fmt.Printf("❌ Failed to load settings: %v\n", err)
	} else {
		fmt.Printf("Settings: auto_trade=%v strategy_auto_run=%v dry_run=%v max_daily=%d\n",
			settings.AutoTradeEnabled, settings.StrategyAutoRun, settings.DryRun, settings.MaxDailyTrades)
		fmt.Printf("Profit targets: %d\n", len(settings.ProfitTargets))
		for _, t := range settings.ProfitTargets {
			fmt.Printf("- %s: trigger=%.1f%% sell=%.1f%% enabled=%v\n", t.ID, t.TriggerPercent, t.SellPercent, t.Enabled)
		}
	}

	snapshots, err := store.ListStrategySnapshots(ctx)
	if err != nil {
		fmt.Printf("❌ Failed to list strategy snapshots: %v\n", err)
	} else {
		fmt.Printf("\nFound %d strategy snapshots:\n", len(snapshots))
		for _, s := range snapshots {
			fmt.Printf("- %s (%s): executions=%d profit=%.2f last=%s\n",
				s.StrategyID, s.Kind, s.ExecutionCount, s.TotalProfit, s.LastExecutedAt.Format("2006-01-02 15:04:05"))
		}
	}

	execs, err := store.ListExecutions(ctx, 20)
	if err != nil {
		fmt.Printf("❌ Failed to list executions: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("\nLast %d executions:\n", len(execs))
	for _, e := range execs {
		status := "✅"
		if !e.Success {
			status = "❌"
		}
		fmt.Printf("%s %s %s %s amount=%f proceeds=%f dry_run=%v %s\n",
			status, e.Timestamp.Format("2006-01-02 15:04:05"), e.Action, e.Symbol, e.Amount, e.Proceeds, e.DryRun, e.Error)
	}
}
