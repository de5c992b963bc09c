package exchange

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/vitos/crypto_martingale/internal/domain"
	"go.uber.org/zap"
)

type paperPosition struct {
	side  domain.Side
	size  decimal.Decimal
	entry decimal.Decimal
}

// PaperExchange simulates a futures account in memory. Orders fill at the
// last price set with SetPrice.
type PaperExchange struct {
	mu        sync.Mutex
	balance   decimal.Decimal
	minSize   decimal.Decimal
	prices    map[string]decimal.Decimal
	positions map[string]*paperPosition
	leverage  map[string]int
	logger    *zap.Logger
}

func NewPaperExchange(initialBalance, minOrderSize float64, logger *zap.Logger) *PaperExchange {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PaperExchange{
		balance:   decimal.NewFromFloat(initialBalance),
		minSize:   decimal.NewFromFloat(minOrderSize),
		prices:    make(map[string]decimal.Decimal),
		positions: make(map[string]*paperPosition),
		leverage:  make(map[string]int),
		logger:    logger,
	}
}

func (p *PaperExchange) Name() string { return "paper" }

func (p *PaperExchange) Connect(ctx context.Context) error { return nil }

// SetPrice updates the mark price used for fills and PnL.
func (p *PaperExchange) SetPrice(symbol string, price float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prices[symbol] = decimal.NewFromFloat(price)
}

func (p *PaperExchange) GetBalance(ctx context.Context) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.balance.InexactFloat64(), nil
}

func (p *PaperExchange) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	if leverage <= 0 {
		return fmt.Errorf("invalid leverage %d", leverage)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.leverage[symbol] = leverage
	return nil
}

func (p *PaperExchange) GetMinOrderSize(ctx context.Context, symbol string) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.minSize.InexactFloat64(), nil
}

func (p *PaperExchange) PlaceMarketOrder(ctx context.Context, symbol string, side domain.Side, size float64, opts domain.OrderOptions) (*domain.Order, error) {
	qty := decimal.NewFromFloat(size)
	if !qty.IsPositive() {
		return nil, fmt.Errorf("invalid order size %g", size)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.fillLocked(symbol, side, qty, opts.ReduceOnly)
}

func (p *PaperExchange) fillLocked(symbol string, side domain.Side, qty decimal.Decimal, reduceOnly bool) (*domain.Order, error) {
	price := p.prices[symbol]
	pos, ok := p.positions[symbol]
	switch {
	case !ok:
		if reduceOnly {
			return nil, fmt.Errorf("reduce-only order without position for %s", symbol)
		}
		p.positions[symbol] = &paperPosition{side: side, size: qty, entry: price}
	case pos.side == side:
		if reduceOnly {
			return nil, fmt.Errorf("reduce-only order would increase %s position", symbol)
		}
		total := pos.size.Add(qty)
		pos.entry = pos.entry.Mul(pos.size).Add(price.Mul(qty)).Div(total)
		pos.size = total
	default:
		closed := decimal.Min(pos.size, qty)
		p.balance = p.balance.Add(pnl(pos.side, pos.entry, price, closed))
		pos.size = pos.size.Sub(closed)
		if !pos.size.IsPositive() {
			delete(p.positions, symbol)
		}
		// the remainder flips the position
		if rest := qty.Sub(closed); rest.IsPositive() && !reduceOnly {
			p.positions[symbol] = &paperPosition{side: side, size: rest, entry: price}
		}
	}

	size := qty.InexactFloat64()
	order := &domain.Order{
		ID:         uuid.New().String(),
		Exchange:   p.Name(),
		Symbol:     symbol,
		Side:       side,
		Size:       size,
		FilledSize: size,
		AvgPrice:   price.InexactFloat64(),
		ReduceOnly: reduceOnly,
		CreatedAt:  time.Now(),
	}
	p.logger.Info("PAPER EXECUTION: Order Filled",
		zap.String("id", order.ID),
		zap.String("symbol", symbol),
		zap.String("side", string(side)),
		zap.Float64("size", size),
		zap.Float64("price", order.AvgPrice))
	return order, nil
}

func (p *PaperExchange) GetOpenPositions(ctx context.Context, symbols ...string) ([]*domain.Position, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	wanted := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		wanted[s] = true
	}

	out := make([]*domain.Position, 0, len(p.positions))
	for symbol, pos := range p.positions {
		if len(wanted) > 0 && !wanted[symbol] {
			continue
		}
		mark := p.prices[symbol]
		out = append(out, &domain.Position{
			Exchange:      p.Name(),
			Symbol:        symbol,
			Side:          pos.side,
			Size:          pos.size.InexactFloat64(),
			EntryPrice:    pos.entry.InexactFloat64(),
			CurrentPrice:  mark.InexactFloat64(),
			UnrealizedPnL: pnl(pos.side, pos.entry, mark, pos.size).InexactFloat64(),
			Leverage:      p.leverage[symbol],
			MarginType:    domain.MarginIsolated,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

func (p *PaperExchange) ClosePosition(ctx context.Context, symbol string) (*domain.Order, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	pos, ok := p.positions[symbol]
	if !ok {
		return nil, nil
	}
	return p.fillLocked(symbol, pos.side.Opposite(), pos.size, true)
}

func pnl(side domain.Side, entry, mark, size decimal.Decimal) decimal.Decimal {
	diff := mark.Sub(entry)
	if side == domain.SideShort {
		diff = diff.Neg()
	}
	return diff.Mul(size)
}
