package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/vitos/crypto_martingale/internal/domain"
	"go.uber.org/zap"
)

// TradeExecutor submits orders through the exchange and records them.
type TradeExecutor struct {
	exchange    domain.Exchange
	trades      domain.TradeRepository
	marginMode  string
	timeInForce string
	logger      *zap.Logger
}

func NewTradeExecutor(exchange domain.Exchange, trades domain.TradeRepository, marginMode, timeInForce string, logger *zap.Logger) *TradeExecutor {
	if marginMode == "" {
		marginMode = domain.MarginIsolated
	}
	if timeInForce == "" {
		timeInForce = "IOC"
	}
	return &TradeExecutor{
		exchange:    exchange,
		trades:      trades,
		marginMode:  marginMode,
		timeInForce: timeInForce,
		logger:      logger,
	}
}

// Execute places a market order opening or adding to a position.
func (e *TradeExecutor) Execute(ctx context.Context, symbol string, side domain.Side, size float64, leverage int) (*domain.Order, error) {
	if side != domain.SideLong && side != domain.SideShort {
		return nil, fmt.Errorf("invalid side: %s", side)
	}
	order, err := e.exchange.PlaceMarketOrder(ctx, symbol, side, size, domain.OrderOptions{
		Leverage:    leverage,
		MarginMode:  e.marginMode,
		TimeInForce: e.timeInForce,
	})
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, fmt.Errorf("exchange returned no order for %s", symbol)
	}
	return order, nil
}

// Close flattens the symbol's position. A nil order means nothing was open.
func (e *TradeExecutor) Close(ctx context.Context, symbol string) (*domain.Order, error) {
	order, err := e.exchange.ClosePosition(ctx, symbol)
	if err != nil {
		return nil, err
	}
	if order != nil {
		e.Record(ctx, order)
	}
	return order, nil
}

// Record persists the order. Storage failures never fail the trade.
func (e *TradeExecutor) Record(ctx context.Context, order *domain.Order) {
	if e.trades == nil {
		return
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now()
	}
	if err := e.trades.SaveTrade(ctx, order); err != nil {
		e.logger.Warn("Failed to save trade",
			zap.String("symbol", order.Symbol),
			zap.String("order_id", order.ID),
			zap.Error(err))
	}
}
