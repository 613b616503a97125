package main

import (
	"context"
	"fmt"
	"os"

	"github.com/vitos/crypto_auto_trader/internal/infrastructure/ratelimit"
	"github.com/vitos/crypto_auto_trader/internal/infrastructure/swap"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

type Config struct {
	API struct {
		SwapEndpoint string `yaml:"swap_endpoint"`
	} `yaml:"api"`
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

func main() {
	// 1. Load Config
	cfg, err := loadConfig("config/config.yaml")
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	inputMint := "So11111111111111111111111111111111111111112"   // SOL
	outputMint := "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v" // USDC
	if len(os.Args) >= 3 {
		inputMint = os.Args[1]
		outputMint = os.Args[2]
	}

	fmt.Printf("Testing Swap Aggregator...\n")
	fmt.Printf("Endpoint: %s\n", cfg.API.SwapEndpoint)

	log, _ := zap.NewDevelopment()
	throttle := ratelimit.New(ratelimit.DefaultConfig(), log)
	client := swap.NewJupiterClient(cfg.API.SwapEndpoint, throttle, log)
	ctx := context.Background()

	// 2. Check Quote
	quote, err := client.Quote(ctx, inputMint, outputMint, 1, 100)
	if err != nil {
		fmt.Printf("❌ Failed to get quote: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("✅ Quote: In=%f Out=%f Impact=%.4f%%\n", quote.InAmount, quote.OutAmount, quote.PriceImpactPct)
	fmt.Printf("   Price: %f\n", quote.Price())

	// 3. Check Dry-Run Execution (never submits)
	res, err := client.Execute(ctx, inputMint, outputMint, 1, "", 100, true)
	if err != nil {
		fmt.Printf("❌ Dry-run execute failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("✅ Dry-Run Execute: Success=%v Output=%f\n", res.Success, res.OutputAmount)
}
