package domain

import "time"

// StrategyDefinition is an immutable martingale ladder.
type StrategyDefinition struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	// CapitalBaseFraction is a raw fraction of the balance (0.001 == 0.1%).
	CapitalBaseFraction float64   `json:"capital_base_fraction"`
	Leverage            int       `json:"leverage"`
	Multipliers         []float64 `json:"multipliers"` // index 0 is level 1
	MaxLevels           int       `json:"max_levels"`
}

type StrategyStatus string

const (
	StrategyActive    StrategyStatus = "active"
	StrategyExhausted StrategyStatus = "exhausted"
)

// StrategyState is the runtime ladder position of one symbol.
type StrategyState struct {
	Symbol       string         `json:"symbol"`
	StrategyName string         `json:"strategy"`
	CurrentLevel int            `json:"current_level"`
	LastOrderID  string         `json:"last_order_id"`
	LastSize     float64        `json:"last_size"`
	Status       StrategyStatus `json:"status"`
	Active       bool           `json:"active"`
	StartedAt    time.Time      `json:"started_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// Session is the persisted view of an account's gateway connection.
// It is only used to rehydrate display state, never to resume a ladder.
type Session struct {
	AccountID string    `json:"account_id"`
	Exchange  string    `json:"exchange"`
	Connected bool      `json:"connected"`
	Symbol    string    `json:"symbol,omitempty"`
	Strategy  string    `json:"strategy,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}
