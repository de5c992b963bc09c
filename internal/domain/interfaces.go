package domain

import "context"

// Exchange defines the gateway capabilities the strategy engine needs from a
// futures exchange. One instance is bound to exactly one account.
type Exchange interface {
	Name() string
	// Connect verifies the credentials. Failures are returned as *AuthError.
	Connect(ctx context.Context) error
	// GetBalance returns the quote currency (USDT) total equity.
	GetBalance(ctx context.Context) (float64, error)
	SetLeverage(ctx context.Context, symbol string, leverage int) error
	GetMinOrderSize(ctx context.Context, symbol string) (float64, error)
	PlaceMarketOrder(ctx context.Context, symbol string, side Side, size float64, opts OrderOptions) (*Order, error)
	// GetOpenPositions returns non-empty positions, optionally limited to symbols.
	GetOpenPositions(ctx context.Context, symbols ...string) ([]*Position, error)
	// ClosePosition submits a reduce-only market order against the current
	// position. It returns (nil, nil) when there is nothing to close.
	ClosePosition(ctx context.Context, symbol string) (*Order, error)
}

// TradeRepository defines storage operations for trades.
type TradeRepository interface {
	SaveTrade(ctx context.Context, order *Order) error
	ListTrades(ctx context.Context, limit int) ([]*Order, error)
}

// SessionRepository stores the last known connection state per account.
type SessionRepository interface {
	SaveSession(ctx context.Context, session *Session) error
	GetSession(ctx context.Context, accountID string) (*Session, error)
}

// PositionStreamer is implemented by gateways that push position updates.
// StreamPositions blocks until ctx is cancelled or the stream fails.
type PositionStreamer interface {
	StreamPositions(ctx context.Context, onUpdate func(*Position)) error
}

// Credentials identify one exchange account.
type Credentials struct {
	Exchange  string `json:"exchange"`
	APIKey    string `json:"api_key"`
	APISecret string `json:"api_secret"`
	Testnet   bool   `json:"testnet"`
}
