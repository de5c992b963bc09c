package main

import (
	"context"
	"fmt"
	"os"

	"github.com/vitos/crypto_martingale/internal/infrastructure/storage"
)

// Usage: debug_db [DB_PATH] [ACCOUNT_ID]
func main() {
	dbPath := "martingale.db"
	if len(os.Args) > 1 {
		dbPath = os.Args[1]
	}
	store, err := storage.NewSQLiteStore(dbPath)
	if err != nil {
		fmt.Printf("Failed to init sqlite: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	ctx := context.Background()
	trades, err := store.ListTrades(ctx, 50)
	if err != nil {
		fmt.Printf("Failed to list trades: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Found %d trades:\n", len(trades))
	for _, t := range trades {
		kind := "open"
		if t.ReduceOnly {
			kind = "close"
		}
		fmt.Printf("- %s %s %s %s size=%f strategy=%s level=%d id=%s\n",
			t.CreatedAt.Format("2006-01-02 15:04:05"), kind, t.Symbol, t.Side, t.Size, t.StrategyName, t.Level, t.ID)
	}

	if len(os.Args) > 2 {
		sess, err := store.GetSession(ctx, os.Args[2])
		if err != nil {
			fmt.Printf("  ❌ Failed to get session: %v\n", err)
		} else if sess == nil {
			fmt.Printf("  ⚠️ No session found for %s\n", os.Args[2])
		} else {
			fmt.Printf("  ✅ Session: exchange=%s connected=%v symbol=%s strategy=%s updated=%s\n",
				sess.Exchange, sess.Connected, sess.Symbol, sess.Strategy, sess.UpdatedAt.Format("2006-01-02 15:04:05"))
		}
	}
}
