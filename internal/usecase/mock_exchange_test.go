package usecase_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/vitos/crypto_martingale/internal/domain"
)

type placedOrder struct {
	Symbol string
	Side   domain.Side
	Size   float64
	Opts   domain.OrderOptions
}

// MockExchange is an in-memory gateway safe for concurrent use.
type MockExchange struct {
	mu sync.Mutex

	Balance      float64
	BalanceErr   error
	MinSize      float64
	MinSizeErr   error
	LeverageErr  error
	PlaceErr     error
	PlaceDelay   time.Duration
	PositionsErr error
	ConnectErr   error
	// ConnectEntered and ConnectGate, when set, hold Connect open until the
	// gate is closed.
	ConnectEntered chan struct{}
	ConnectGate    chan struct{}
	CloseErrs    map[string]error
	Positions    map[string]*domain.Position

	Placed        []placedOrder
	Closed        []string
	LeverageCalls int
	BalanceCalls  int
	seq           int
}

func NewMockExchange(balance float64) *MockExchange {
	return &MockExchange{
		Balance:   balance,
		MinSize:   0.001,
		CloseErrs: make(map[string]error),
		Positions: make(map[string]*domain.Position),
	}
}

func (m *MockExchange) Name() string { return "mock" }

func (m *MockExchange) Connect(ctx context.Context) error {
	if m.ConnectEntered != nil {
		m.ConnectEntered <- struct{}{}
	}
	if m.ConnectGate != nil {
		<-m.ConnectGate
	}
	return m.ConnectErr
}

func (m *MockExchange) GetBalance(ctx context.Context) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.BalanceCalls++
	return m.Balance, m.BalanceErr
}

func (m *MockExchange) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LeverageCalls++
	return m.LeverageErr
}

func (m *MockExchange) GetMinOrderSize(ctx context.Context, symbol string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.MinSize, m.MinSizeErr
}

func (m *MockExchange) PlaceMarketOrder(ctx context.Context, symbol string, side domain.Side, size float64, opts domain.OrderOptions) (*domain.Order, error) {
	if m.PlaceDelay > 0 {
		time.Sleep(m.PlaceDelay)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.PlaceErr != nil {
		return nil, m.PlaceErr
	}
	m.seq++
	m.Placed = append(m.Placed, placedOrder{Symbol: symbol, Side: side, Size: size, Opts: opts})

	pos, ok := m.Positions[symbol]
	if !ok {
		pos = &domain.Position{Symbol: symbol, Side: side}
		m.Positions[symbol] = pos
	}
	pos.Size += size

	return &domain.Order{
		ID:         fmt.Sprintf("order-%d", m.seq),
		Exchange:   "mock",
		Symbol:     symbol,
		Side:       side,
		Size:       size,
		FilledSize: size,
	}, nil
}

func (m *MockExchange) GetOpenPositions(ctx context.Context, symbols ...string) ([]*domain.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.PositionsErr != nil {
		return nil, m.PositionsErr
	}
	var out []*domain.Position
	for _, p := range m.Positions {
		if p.Size > 0 {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MockExchange) ClosePosition(ctx context.Context, symbol string) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.CloseErrs[symbol]; err != nil {
		return nil, err
	}
	m.Closed = append(m.Closed, symbol)
	pos, ok := m.Positions[symbol]
	if !ok || pos.Size == 0 {
		return nil, nil
	}
	delete(m.Positions, symbol)
	return &domain.Order{ID: "close-" + symbol, Symbol: symbol, Side: pos.Side.Opposite(), Size: pos.Size, ReduceOnly: true}, nil
}

// SetPosition replaces the open position for symbol.
func (m *MockExchange) SetPosition(symbol string, size, pnl float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if size == 0 {
		delete(m.Positions, symbol)
		return
	}
	m.Positions[symbol] = &domain.Position{Symbol: symbol, Side: domain.SideLong, Size: size, UnrealizedPnL: pnl}
}

func (m *MockExchange) PlacedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Placed)
}

func (m *MockExchange) LastPlaced() placedOrder {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Placed[len(m.Placed)-1]
}

var errGateway = errors.New("gateway unavailable")

// MockTradeRepo collects saved trades.
type MockTradeRepo struct {
	mu     sync.Mutex
	Trades []*domain.Order
	Err    error
}

func (r *MockTradeRepo) SaveTrade(ctx context.Context, order *domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	cp := *order
	r.Trades = append(r.Trades, &cp)
	return nil
}

func (r *MockTradeRepo) ListTrades(ctx context.Context, limit int) ([]*domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Trades, nil
}
