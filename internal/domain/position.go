package domain

import "time"

type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// Opposite returns the side that reduces a position of side s.
func (s Side) Opposite() Side {
	if s == SideShort {
		return SideLong
	}
	return SideShort
}

const (
	MarginIsolated = "isolated"
	MarginCross    = "cross"
)

// Position represents an open position on the exchange.
type Position struct {
	Exchange      string  `json:"exchange"`
	Symbol        string  `json:"symbol"`
	Side          Side    `json:"side"`
	Size          float64 `json:"size"`
	EntryPrice    float64 `json:"entry_price"`
	CurrentPrice  float64 `json:"current_price"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
	Leverage      int     `json:"leverage"`
	MarginType    string  `json:"margin_type"`
}

// OrderOptions carries the per-order execution parameters.
type OrderOptions struct {
	Leverage    int
	MarginMode  string // "isolated" or "cross"
	TimeInForce string
	ReduceOnly  bool
}

// Order represents an order executed by the bot.
type Order struct {
	ID           string    `json:"id"` // Exchange order ID
	Exchange     string    `json:"exchange"`
	Symbol       string    `json:"symbol"`
	Side         Side      `json:"side"`
	Size         float64   `json:"size"`
	FilledSize   float64   `json:"filled_size"`
	AvgPrice     float64   `json:"avg_price"`
	ReduceOnly   bool      `json:"reduce_only"`
	StrategyName string    `json:"strategy,omitempty"`
	Level        int       `json:"level,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}
