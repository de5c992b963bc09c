package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/vitos/crypto_martingale/internal/domain"
	"github.com/vitos/crypto_martingale/internal/infrastructure/exchange"
	"github.com/vitos/crypto_martingale/internal/usecase"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Exchanges []struct {
		Name         string `yaml:"name"`
		WSEndpoint   string `yaml:"ws_endpoint"`
		RESTEndpoint string `yaml:"rest_endpoint"`
		TimeoutMs    int    `yaml:"timeout_ms"`
	} `yaml:"exchanges"`
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

// Verifies the API key and shows the level-1 order each strategy would place.
// Usage: check_exchange [SYMBOL ...]
func main() {
	_ = godotenv.Load()

	cfg, err := loadConfig("config/config.yaml")
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	var exCfg exchange.Config
	for _, ex := range cfg.Exchanges {
		if ex.Name == exchange.NameBybit {
			exCfg.BybitBaseURL = ex.RESTEndpoint
			exCfg.BybitWSURL = ex.WSEndpoint
			exCfg.Timeout = time.Duration(ex.TimeoutMs) * time.Millisecond
		}
	}

	creds := domain.Credentials{
		Exchange:  exchange.NameBybit,
		APIKey:    os.Getenv("BYBIT_API_KEY"),
		APISecret: os.Getenv("BYBIT_API_SECRET"),
		Testnet:   os.Getenv("BYBIT_TESTNET") == "true",
	}
	gateway, err := exchange.NewFactory(exCfg, nil).New(creds)
	if err != nil {
		fmt.Printf("Failed to build gateway: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	fmt.Printf("Testing Bybit credentials (testnet=%v)...\n", creds.Testnet)
	if err := gateway.Connect(ctx); err != nil {
		var authErr *domain.AuthError
		if errors.As(err, &authErr) {
			fmt.Printf("❌ Auth failed (%s): %v\n", authErr.Reason, err)
		} else {
			fmt.Printf("❌ Connect failed: %v\n", err)
		}
		os.Exit(1)
	}

	balance, err := gateway.GetBalance(ctx)
	if err != nil {
		fmt.Printf("❌ Failed to get balance: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("✅ Balance: %.2f USDT\n", balance)

	positions, err := gateway.GetOpenPositions(ctx)
	if err != nil {
		fmt.Printf("❌ Failed to get positions: %v\n", err)
	} else {
		fmt.Printf("✅ Open positions: %d\n", len(positions))
		for _, p := range positions {
			fmt.Printf("   %s %s size=%f entry=%f pnl=%f\n", p.Symbol, p.Side, p.Size, p.EntryPrice, p.UnrealizedPnL)
		}
	}

	symbols := os.Args[1:]
	if len(symbols) == 0 {
		symbols = []string{"BTC/USDT"}
	}
	catalog := usecase.NewStrategyCatalog()
	for _, symbol := range symbols {
		minSize, err := gateway.GetMinOrderSize(ctx, symbol)
		if err != nil {
			fmt.Printf("❌ %s: failed to get min order size: %v\n", symbol, err)
			continue
		}
		for _, def := range catalog.List() {
			size, err := usecase.PositionSize(balance, 1, def)
			if err != nil {
				fmt.Printf("❌ %s %s: %v\n", symbol, def.Name, err)
				continue
			}
			mark := "✅"
			if size < minSize {
				mark = "⚠️ below minimum"
			}
			fmt.Printf("%s %s %s: level 1 size=%f (min %f)\n", mark, symbol, def.Name, size, minSize)
		}
	}
}
