package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/vitos/crypto_martingale/internal/domain"
	"github.com/vitos/crypto_martingale/internal/infrastructure/exchange"
	"github.com/vitos/crypto_martingale/internal/usecase"
)

// Walks a full ladder on the paper exchange: every level loses 1%, until the
// ladder is exhausted.
// Usage: check_trading [STRATEGY] [BALANCE]
func main() {
	strategy := usecase.StrategySteadyClimb
	if len(os.Args) > 1 {
		strategy = os.Args[1]
	}
	balance := 10000.0
	if len(os.Args) > 2 {
		if _, err := fmt.Sscanf(os.Args[2], "%f", &balance); err != nil {
			fmt.Printf("Invalid balance %q: %v\n", os.Args[2], err)
			os.Exit(1)
		}
	}

	const symbol = "BTC/USDT"
	price := 60000.0

	paper := exchange.NewPaperExchange(balance, 0.001, nil)
	paper.SetPrice(symbol, price)
	engine := usecase.NewMartingaleEngine("dry-run", paper, nil, nil, usecase.EngineConfig{}, nil)
	ctx := context.Background()

	fmt.Printf("Dry run %s on %s, balance %.2f USDT\n", strategy, symbol, balance)
	order, err := engine.Start(ctx, symbol, strategy)
	if err != nil {
		fmt.Printf("❌ Failed to start: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("✅ Level %2d: size=%f\n", order.Level, order.Size)

	for {
		// close at a loss, then report it
		price *= 0.99
		paper.SetPrice(symbol, price)
		if _, err := paper.ClosePosition(ctx, symbol); err != nil {
			fmt.Printf("❌ Failed to close: %v\n", err)
			os.Exit(1)
		}

		order, err = engine.AdvanceOnLoss(ctx, symbol)
		if errors.Is(err, domain.ErrLadderExhausted) {
			fmt.Printf("⚠️ %v\n", err)
			break
		}
		if err != nil {
			fmt.Printf("❌ Level advance failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("✅ Level %2d: size=%f\n", order.Level, order.Size)
	}

	report, err := engine.StopAll(ctx)
	if err != nil {
		fmt.Printf("❌ Stop all failed: %v\n", err)
		os.Exit(1)
	}
	final, _ := paper.GetBalance(ctx)
	fmt.Printf("Closed %d, failures %d, final balance %.2f USDT\n", report.ClosedCount, len(report.Failures), final)
}
