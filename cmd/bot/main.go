package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/vitos/crypto_auto_trader/internal/domain"
	"github.com/vitos/crypto_auto_trader/internal/infrastructure/logger"
	"github.com/vitos/crypto_auto_trader/internal/infrastructure/portfolio"
	"github.com/vitos/crypto_auto_trader/internal/infrastructure/pricefeed"
	"github.com/vitos/crypto_auto_trader/internal/infrastructure/ratelimit"
	"github.com/vitos/crypto_auto_trader/internal/infrastructure/storage"
	"github.com/vitos/crypto_auto_trader/internal/infrastructure/swap"
	"github.com/vitos/crypto_auto_trader/internal/infrastructure/wallet"
	"github.com/vitos/crypto_auto_trader/internal/usecase"
	"github.com/vitos/crypto_auto_trader/internal/web"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

type Config struct {
	API struct {
		SwapEndpoint      string `yaml:"swap_endpoint"`
		PortfolioEndpoint string `yaml:"portfolio_endpoint"`
		PriceFeedWS       string `yaml:"price_feed_ws"`
	} `yaml:"api"`
	Throttle struct {
		MinDelayMs        int  `yaml:"min_delay_ms"`
		WindowMs          int  `yaml:"window_ms"`
		MaxCallsPerWindow int  `yaml:"max_calls_per_window"`
		BaseCooldownMs    int  `yaml:"base_cooldown_ms"`
		RetryTransport    bool `yaml:"retry_transport_errors"`
	} `yaml:"throttle"`
	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`
	Logging struct {
		Level string `yaml:"level"`
		File  string `yaml:"file"`
	} `yaml:"logging"`
	Server struct {
		Port int `yaml:"port"`
	} `yaml:"server"`
	Strategies []StrategyConfig `yaml:"strategies"`
}

type StrategyConfig struct {
	ID      string `yaml:"id"`
	Kind    string `yaml:"kind"`
	Name    string `yaml:"name"`
	Enabled bool   `yaml:"enabled"`
	DryRun  bool   `yaml:"dry_run"`

	Accumulation *struct {
		TargetMint         string  `yaml:"target_mint"`
		BaseMint           string  `yaml:"base_mint"`
		BuyAmount          float64 `yaml:"buy_amount"`
		IntervalMinutes    int     `yaml:"interval_minutes"`
		MaxTotalInvestment float64 `yaml:"max_total_investment"`
		PriceFloor         float64 `yaml:"price_floor"`
		PriceCeiling       float64 `yaml:"price_ceiling"`
	} `yaml:"accumulation"`

	Grid *struct {
		BaseMint        string  `yaml:"base_mint"`
		QuoteMint       string  `yaml:"quote_mint"`
		LowerPrice      float64 `yaml:"lower_price"`
		UpperPrice      float64 `yaml:"upper_price"`
		LevelCount      int     `yaml:"level_count"`
		TotalInvestment float64 `yaml:"total_investment"`
		RebalanceOnFill bool    `yaml:"rebalance_on_fill"`
		StopLossPct     float64 `yaml:"stop_loss_pct"`
		TakeProfitPct   float64 `yaml:"take_profit_pct"`
		MaxActiveLevels int     `yaml:"max_active_levels"`
	} `yaml:"grid"`

	Rebalance *struct {
		Targets []struct {
			Mint         string  `yaml:"mint"`
			Symbol       string  `yaml:"symbol"`
			TargetPct    float64 `yaml:"target_pct"`
			ThresholdPct float64 `yaml:"threshold_pct"`
		} `yaml:"targets"`
		GlobalThresholdPct    float64 `yaml:"global_threshold_pct"`
		MinIntervalMinutes    int     `yaml:"min_interval_minutes"`
		MaxSlippageBps        int     `yaml:"max_slippage_bps"`
		MinTradeValue         float64 `yaml:"min_trade_value"`
		EmergencyThresholdPct float64 `yaml:"emergency_threshold_pct"`
		StableMint            string  `yaml:"stable_mint"`
	} `yaml:"rebalance"`
}

func loadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func throttleConfig(cfg *Config) ratelimit.Config {
	tc := ratelimit.DefaultConfig()
	if cfg.Throttle.MinDelayMs > 0 {
		tc.MinDelay = time.Duration(cfg.Throttle.MinDelayMs) * time.Millisecond
	}
	if cfg.Throttle.WindowMs > 0 {
		tc.Window = time.Duration(cfg.Throttle.WindowMs) * time.Millisecond
	}
	if cfg.Throttle.MaxCallsPerWindow > 0 {
		tc.MaxCallsPerWindow = cfg.Throttle.MaxCallsPerWindow
	}
	if cfg.Throttle.BaseCooldownMs > 0 {
		tc.BaseCooldown = time.Duration(cfg.Throttle.BaseCooldownMs) * time.Millisecond
	}
	tc.RetryTransportErrors = cfg.Throttle.RetryTransport
	return tc
}

func buildStrategy(sc StrategyConfig, deps usecase.StrategyDeps) (usecase.Strategy, error) {
	base := domain.StrategyConfig{
		ID:        sc.ID,
		Name:      sc.Name,
		Enabled:   sc.Enabled,
		DryRun:    sc.DryRun,
		CreatedAt: time.Now(),
	}

	switch sc.Kind {
	case usecase.StrategyKindAccumulation:
		if sc.Accumulation == nil {
			return nil, fmt.Errorf("strategy %s: missing accumulation block", sc.ID)
		}
		a := sc.Accumulation
		return usecase.NewAccumulationStrategy(base, domain.AccumulationConfig{
			TargetMint:         a.TargetMint,
			BaseMint:           a.BaseMint,
			BuyAmount:          a.BuyAmount,
			Interval:           time.Duration(a.IntervalMinutes) * time.Minute,
			MaxTotalInvestment: a.MaxTotalInvestment,
			PriceFloor:         a.PriceFloor,
			PriceCeiling:       a.PriceCeiling,
		}, deps), nil
	case usecase.StrategyKindGrid:
		if sc.Grid == nil {
			return nil, fmt.Errorf("strategy %s: missing grid block", sc.ID)
		}
		g := sc.Grid
		return usecase.NewGridStrategy(base, domain.GridConfig{
			BaseMint:        g.BaseMint,
			QuoteMint:       g.QuoteMint,
			LowerPrice:      g.LowerPrice,
			UpperPrice:      g.UpperPrice,
			LevelCount:      g.LevelCount,
			TotalInvestment: g.TotalInvestment,
			RebalanceOnFill: g.RebalanceOnFill,
			StopLossPct:     g.StopLossPct,
			TakeProfitPct:   g.TakeProfitPct,
			MaxActiveLevels: g.MaxActiveLevels,
		}, deps), nil
	case usecase.StrategyKindRebalance:
		if sc.Rebalance == nil {
			return nil, fmt.Errorf("strategy %s: missing rebalance block", sc.ID)
		}
		r := sc.Rebalance
		targets := make([]domain.AllocationTarget, 0, len(r.Targets))
		for _, t := range r.Targets {
			targets = append(targets, domain.AllocationTarget{
				Mint:         t.Mint,
				Symbol:       t.Symbol,
				TargetPct:    t.TargetPct,
				ThresholdPct: t.ThresholdPct,
			})
		}
		return usecase.NewRebalanceStrategy(base, domain.RebalanceConfig{
			Targets:               targets,
			GlobalThresholdPct:    r.GlobalThresholdPct,
			MinInterval:           time.Duration(r.MinIntervalMinutes) * time.Minute,
			MaxSlippageBps:        r.MaxSlippageBps,
			MinTradeValue:         r.MinTradeValue,
			EmergencyThresholdPct: r.EmergencyThresholdPct,
			StableMint:            r.StableMint,
		}, deps), nil
	default:
		return nil, fmt.Errorf("strategy %s: unknown kind %q", sc.ID, sc.Kind)
	}
}

func main() {
	// 1. Load env + config
	_ = godotenv.Load()

	cfg, err := loadConfig("config/config.yaml")
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 2. Init Logger
	var log *zap.Logger
	if cfg.Logging.File != "" {
		log, err = logger.NewFileLogger(cfg.Logging.File, cfg.Logging.Level)
	} else {
		log, err = logger.NewLogger(cfg.Logging.Level)
	}
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// 3. Init Storage
	dbPath := cfg.Database.Path
	if dbPath == "" {
		dbPath = "trader.db"
	}
	store, err := storage.NewSQLiteStore(dbPath)
	if err != nil {
		log.Fatal("Failed to init sqlite", zap.Error(err))
	}
	defer store.Close()

	// 4. Outbound clients behind one shared throttle
	throttle := ratelimit.New(throttleConfig(cfg), log)

	walletPubKey := os.Getenv("WALLET_PUBLIC_KEY")
	hasSigningKey := os.Getenv("WALLET_PRIVATE_KEY") != ""
	signer := wallet.NewEnvWallet(walletPubKey, hasSigningKey)
	if !signer.CanSign() {
		log.Warn("No signing key configured, live trades will be refused")
	}

	swapClient := swap.NewJupiterClient(cfg.API.SwapEndpoint, throttle, log)
	portfolioClient := portfolio.NewClient(cfg.API.PortfolioEndpoint, walletPubKey, throttle, log)

	// 5. Core services
	scanner := usecase.NewOpportunityScanner(portfolioClient, log)
	manager := usecase.NewStrategyManager(log)
	trader := usecase.NewAutoTrader(swapClient, signer, store, log)

	deps := usecase.StrategyDeps{
		Swap:       swapClient,
		Portfolio:  portfolioClient,
		Wallet:     signer,
		Executions: store,
		Snapshots:  store,
		Logger:     log,
	}
	for _, sc := range cfg.Strategies {
		s, err := buildStrategy(sc, deps)
		if err != nil {
			log.Fatal("Invalid strategy config", zap.Error(err))
		}
		if err := manager.Add(s); err != nil {
			log.Fatal("Failed to register strategy", zap.Error(err))
		}
	}
	// Resume schedules and fill state from the last run.
	manager.RestoreAll(context.Background(), store)

	daemonLogger, err := logger.NewFileLogger("daemon.log", cfg.Logging.Level)
	if err != nil {
		log.Error("Failed to init daemon logger, using default", zap.Error(err))
		daemonLogger = log
	}
	daemon := usecase.NewDaemon(scanner, manager, trader, store, daemonLogger)

	// 6. Live price overlay
	if cfg.API.PriceFeedWS != "" {
		feed := pricefeed.NewFeed(cfg.API.PriceFeedWS, log)
		feed.OnPriceUpdate(func(mint string, price float64) {
			portfolioClient.ApplyPrice(mint, price)
		})
		defer feed.Close()

		go func() {
			// Subscribe to whatever the wallet currently holds.
			positions, err := portfolioClient.GetPositions(context.Background())
			if err != nil {
				log.Error("Failed to load positions for price feed", zap.Error(err))
				return
			}
			mints := make([]string, 0, len(positions))
			for _, p := range positions {
				mints = append(mints, p.Mint)
			}
			if err := feed.Subscribe(mints); err != nil {
				log.Error("Failed to subscribe price feed", zap.Error(err))
			}
		}()
	}

	// 7. Start the daemon; it arms the executor from the stored settings
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := daemon.Start(ctx); err != nil {
		log.Fatal("Failed to start daemon", zap.Error(err))
	}

	// 8. Web control surface
	port := cfg.Server.Port
	if port == 0 {
		port = 8080 // Default
	}
	server := web.NewServer(port, daemon, scanner, manager, trader, store, store, log)

	go func() {
		if err := server.Start(); err != nil {
			log.Fatal("Server failed", zap.Error(err))
		}
	}()

	// 9. Wait for Shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Info("Shutting down...")
	daemon.Stop()
	server.Shutdown(context.Background())
}
