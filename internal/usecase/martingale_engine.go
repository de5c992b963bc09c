package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vitos/crypto_martingale/internal/domain"
	"go.uber.org/zap"
)

// EngineConfig holds per-order execution settings shared by all ladders.
type EngineConfig struct {
	MarginMode  string `yaml:"margin_mode"`
	TimeInForce string `yaml:"time_in_force"`
}

// StrategyOrder describes an order placed for a ladder level.
type StrategyOrder struct {
	OrderID          string    `json:"order_id"`
	Symbol           string    `json:"symbol"`
	Size             float64   `json:"size"`
	Level            int       `json:"level"`
	StrategyName     string    `json:"strategy"`
	Timestamp        time.Time `json:"timestamp"`
	LeverageDegraded bool      `json:"leverage_degraded,omitempty"`
}

// StopFailure names a symbol whose close failed during a sweep.
type StopFailure struct {
	Symbol string `json:"symbol"`
	Reason string `json:"reason"`
}

// StopReport is the aggregate outcome of a stop-all sweep.
type StopReport struct {
	ClosedCount int           `json:"closed_count"`
	Failures    []StopFailure `json:"failures"`
	Emergency   bool          `json:"emergency,omitempty"`
}

// MartingaleEngine drives the per-symbol ladders of one account.
type MartingaleEngine struct {
	account  string
	exchange domain.Exchange
	catalog  *StrategyCatalog
	registry *StrategyRegistry
	executor *TradeExecutor
	logger   *zap.Logger
	now      func() time.Time

	trading atomic.Bool

	// lifecycle orders Start against Detach.
	lifecycle sync.RWMutex
	retired   bool
}

func NewMartingaleEngine(
	account string,
	exchange domain.Exchange,
	catalog *StrategyCatalog,
	trades domain.TradeRepository,
	cfg EngineConfig,
	logger *zap.Logger,
) *MartingaleEngine {
	if catalog == nil {
		catalog = NewStrategyCatalog()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MartingaleEngine{
		account:  account,
		exchange: exchange,
		catalog:  catalog,
		registry: NewStrategyRegistry(),
		executor: NewTradeExecutor(exchange, trades, cfg.MarginMode, cfg.TimeInForce, logger),
		logger:   logger.With(zap.String("account", account)),
		now:      time.Now,
	}
}

// Start opens a level-1 position for symbol.
func (e *MartingaleEngine) Start(ctx context.Context, symbol, strategyName string) (*StrategyOrder, error) {
	if e.exchange == nil {
		return nil, domain.ErrNotConnected
	}
	def, err := e.catalog.Get(strategyName)
	if err != nil {
		return nil, err
	}

	e.lifecycle.RLock()
	defer e.lifecycle.RUnlock()
	if e.retired {
		return nil, domain.ErrNotConnected
	}

	unlock := e.registry.Lock(symbol)
	defer unlock()

	if st, ok := e.registry.Get(symbol); ok {
		return nil, fmt.Errorf("%w: %s (%s, level %d)", domain.ErrAlreadyActive, symbol, st.StrategyName, st.CurrentLevel)
	}

	res, err := e.placeLevelOrder(ctx, symbol, def, 1)
	if err != nil {
		return nil, err
	}

	e.registry.Put(domain.StrategyState{
		Symbol:       symbol,
		StrategyName: def.Name,
		CurrentLevel: 1,
		LastOrderID:  res.OrderID,
		LastSize:     res.Size,
		Status:       domain.StrategyActive,
		Active:       true,
		StartedAt:    res.Timestamp,
		UpdatedAt:    res.Timestamp,
	})
	e.trading.Store(true)
	mtxLadderLevel.WithLabelValues(e.account, symbol).Set(1)

	e.logger.Info("Strategy started",
		zap.String("symbol", symbol),
		zap.String("strategy", def.Name),
		zap.String("order_id", res.OrderID),
		zap.Float64("size", res.Size))
	return res, nil
}

// AdvanceOnLoss moves the ladder one level up after a realized loss and
// places the next order. At the last level the symbol is exhausted: its
// position is closed and ErrLadderExhausted is returned.
func (e *MartingaleEngine) AdvanceOnLoss(ctx context.Context, symbol string) (*StrategyOrder, error) {
	if e.exchange == nil {
		return nil, domain.ErrNotConnected
	}
	unlock := e.registry.Lock(symbol)
	defer unlock()

	st, def, err := e.activeState(symbol)
	if err != nil {
		return nil, err
	}

	if st.CurrentLevel >= def.MaxLevels {
		return nil, e.exhaust(ctx, st)
	}

	next := st.CurrentLevel + 1
	res, err := e.placeLevelOrder(ctx, symbol, def, next)
	if err != nil {
		return nil, err
	}

	st.CurrentLevel = next
	st.LastOrderID = res.OrderID
	st.LastSize = res.Size
	st.UpdatedAt = res.Timestamp
	e.registry.Put(st)
	mtxLadderLevel.WithLabelValues(e.account, symbol).Set(float64(next))

	e.logger.Info("Ladder escalated after loss",
		zap.String("symbol", symbol),
		zap.String("strategy", def.Name),
		zap.Int("level", next),
		zap.Float64("size", res.Size))
	return res, nil
}

// ResetOnWin returns the ladder to level 1 after a profitable close and
// re-enters with a level-1 order.
func (e *MartingaleEngine) ResetOnWin(ctx context.Context, symbol string) (*StrategyOrder, error) {
	if e.exchange == nil {
		return nil, domain.ErrNotConnected
	}
	unlock := e.registry.Lock(symbol)
	defer unlock()

	st, def, err := e.activeState(symbol)
	if err != nil {
		return nil, err
	}

	res, err := e.placeLevelOrder(ctx, symbol, def, 1)
	if err != nil {
		return nil, err
	}

	prev := st.CurrentLevel
	st.CurrentLevel = 1
	st.LastOrderID = res.OrderID
	st.LastSize = res.Size
	st.UpdatedAt = res.Timestamp
	e.registry.Put(st)
	mtxLadderLevel.WithLabelValues(e.account, symbol).Set(1)

	e.logger.Info("Ladder reset after win",
		zap.String("symbol", symbol),
		zap.Int("previous_level", prev))
	return res, nil
}

// Stop closes the symbol's position and drops its state. Stopping a symbol
// without state is a no-op.
func (e *MartingaleEngine) Stop(ctx context.Context, symbol string) error {
	if e.exchange == nil {
		return domain.ErrNotConnected
	}
	unlock := e.registry.Lock(symbol)
	defer unlock()

	if _, ok := e.registry.Get(symbol); !ok {
		return nil
	}
	if err := e.closeLocked(ctx, symbol); err != nil {
		return err
	}
	if e.registry.Len() == 0 {
		e.trading.Store(false)
	}
	return nil
}

// StopAll closes every tracked symbol and every open position in parallel.
func (e *MartingaleEngine) StopAll(ctx context.Context) (*StopReport, error) {
	return e.sweep(ctx, false)
}

// EmergencyStop is StopAll, labelled for the audit trail.
func (e *MartingaleEngine) EmergencyStop(ctx context.Context) (*StopReport, error) {
	return e.sweep(ctx, true)
}

// Status returns a copy of the symbol's state, or nil when idle.
func (e *MartingaleEngine) Status(symbol string) *domain.StrategyState {
	st, ok := e.registry.Get(symbol)
	if !ok {
		return nil
	}
	return &st
}

// Statuses returns copies of every tracked state, sorted by symbol.
func (e *MartingaleEngine) Statuses() []domain.StrategyState {
	return e.registry.Snapshot()
}

// IsTrading reports whether the trading flag is set and any state is tracked.
func (e *MartingaleEngine) IsTrading() bool {
	return e.trading.Load() && e.registry.Len() > 0
}

// HasState reports whether any symbol still holds state, including
// exhausted ladders and symbols whose close failed.
func (e *MartingaleEngine) HasState() bool {
	return e.registry.Len() > 0
}

// Detach retires the engine so no new ladder can start on it. It fails with
// ErrAlreadyActive while any symbol still holds state.
func (e *MartingaleEngine) Detach() error {
	e.lifecycle.Lock()
	defer e.lifecycle.Unlock()

	if n := e.registry.Len(); n > 0 {
		return fmt.Errorf("%w: %d symbols still hold state", domain.ErrAlreadyActive, n)
	}
	e.retired = true
	return nil
}

// Balance returns the account's quote currency equity.
func (e *MartingaleEngine) Balance(ctx context.Context) (float64, error) {
	if e.exchange == nil {
		return 0, domain.ErrNotConnected
	}
	return e.exchange.GetBalance(ctx)
}

// Positions returns every open position on the account, tracked or not.
func (e *MartingaleEngine) Positions(ctx context.Context) ([]*domain.Position, error) {
	if e.exchange == nil {
		return nil, domain.ErrNotConnected
	}
	return e.exchange.GetOpenPositions(ctx)
}

// Strategies lists the catalog sorted by name.
func (e *MartingaleEngine) Strategies() []domain.StrategyDefinition {
	return e.catalog.List()
}

func (e *MartingaleEngine) activeState(symbol string) (domain.StrategyState, domain.StrategyDefinition, error) {
	st, ok := e.registry.Get(symbol)
	if !ok || !st.Active {
		return domain.StrategyState{}, domain.StrategyDefinition{}, fmt.Errorf("%w: %s", domain.ErrNotActive, symbol)
	}
	def, err := e.catalog.Get(st.StrategyName)
	if err != nil {
		return domain.StrategyState{}, domain.StrategyDefinition{}, err
	}
	return st, def, nil
}

// placeLevelOrder sizes and submits the order for level. Nothing is
// mutated here; callers update the registry on success.
func (e *MartingaleEngine) placeLevelOrder(ctx context.Context, symbol string, def domain.StrategyDefinition, level int) (*StrategyOrder, error) {
	if err := ValidateLevel(level, def); err != nil {
		return nil, err
	}

	balance, err := e.exchange.GetBalance(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch balance: %w", err)
	}
	size, err := PositionSize(balance, level, def)
	if err != nil {
		return nil, err
	}
	if size <= 0 {
		return nil, fmt.Errorf("%w: %w (balance=%g)", domain.ErrPositionTooSmall, domain.ErrInvalidBalance, balance)
	}

	degraded := false
	if err := e.exchange.SetLeverage(ctx, symbol, def.Leverage); err != nil {
		degraded = true
		mtxLeverageDegraded.Inc()
		e.logger.Warn("Set leverage failed, continuing with current leverage",
			zap.String("symbol", symbol),
			zap.Int("leverage", def.Leverage),
			zap.Error(err))
	}

	minSize, err := e.exchange.GetMinOrderSize(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("fetch min order size for %s: %w", symbol, err)
	}
	if size < minSize {
		return nil, fmt.Errorf("%w: %s size %g < min %g (level %d)", domain.ErrPositionTooSmall, symbol, size, minSize, level)
	}

	levelLabel := strconv.Itoa(level)
	order, err := e.executor.Execute(ctx, symbol, domain.SideLong, size, def.Leverage)
	if err != nil {
		mtxOrders.WithLabelValues(def.Name, levelLabel, "error").Inc()
		e.logger.Error("Ladder order failed",
			zap.String("symbol", symbol),
			zap.Int("level", level),
			zap.Float64("size", size),
			zap.Error(err))
		return nil, &domain.OrderError{Symbol: symbol, Size: size, Level: level, Err: err}
	}
	mtxOrders.WithLabelValues(def.Name, levelLabel, "ok").Inc()

	ts := e.now()
	order.StrategyName = def.Name
	order.Level = level
	if order.CreatedAt.IsZero() {
		order.CreatedAt = ts
	}
	e.executor.Record(ctx, order)

	return &StrategyOrder{
		OrderID:          order.ID,
		Symbol:           symbol,
		Size:             size,
		Level:            level,
		StrategyName:     def.Name,
		Timestamp:        ts,
		LeverageDegraded: degraded,
	}, nil
}

// exhaust stops a symbol whose ladder has no level left. Caller holds the
// symbol lock.
func (e *MartingaleEngine) exhaust(ctx context.Context, st domain.StrategyState) error {
	st.Active = false
	st.Status = domain.StrategyExhausted
	st.UpdatedAt = e.now()
	e.registry.Put(st)
	mtxExhausted.Inc()

	e.logger.Warn("Ladder exhausted, stopping symbol",
		zap.String("symbol", st.Symbol),
		zap.String("strategy", st.StrategyName),
		zap.Int("level", st.CurrentLevel))

	exhausted := fmt.Errorf("%w: %s at level %d", domain.ErrLadderExhausted, st.Symbol, st.CurrentLevel)
	if err := e.closeLocked(ctx, st.Symbol); err != nil {
		return errors.Join(exhausted, err)
	}
	return exhausted
}

// closeLocked closes the position and removes the state on success.
// Caller holds the symbol lock.
func (e *MartingaleEngine) closeLocked(ctx context.Context, symbol string) error {
	order, err := e.executor.Close(ctx, symbol)
	if err != nil {
		mtxCloses.WithLabelValues("error").Inc()
		e.logger.Error("Close position failed", zap.String("symbol", symbol), zap.Error(err))
		return &domain.CloseError{Symbol: symbol, Err: err}
	}
	mtxCloses.WithLabelValues("ok").Inc()

	e.registry.Delete(symbol)
	mtxLadderLevel.DeleteLabelValues(e.account, symbol)

	fields := []zap.Field{zap.String("symbol", symbol)}
	if order != nil {
		fields = append(fields, zap.String("order_id", order.ID), zap.Float64("size", order.Size))
	}
	e.logger.Info("Position closed", fields...)
	return nil
}

func (e *MartingaleEngine) sweep(ctx context.Context, emergency bool) (*StopReport, error) {
	if e.exchange == nil {
		return nil, domain.ErrNotConnected
	}
	kind := "stop_all"
	if emergency {
		kind = "emergency"
	}
	mtxSweeps.WithLabelValues(kind).Inc()

	targets := make(map[string]struct{})
	for _, s := range e.registry.Symbols() {
		targets[s] = struct{}{}
	}
	positions, err := e.exchange.GetOpenPositions(ctx)
	if err != nil {
		e.logger.Warn("Fetch positions failed, closing tracked symbols only",
			zap.String("kind", kind), zap.Error(err))
	}
	for _, p := range positions {
		if p != nil && p.Size > 0 {
			targets[p.Symbol] = struct{}{}
		}
	}

	e.logger.Info("Stop sweep started", zap.String("kind", kind), zap.Int("symbols", len(targets)))

	report := &StopReport{Failures: []StopFailure{}, Emergency: emergency}
	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for symbol := range targets {
		wg.Add(1)
		go func(symbol string) {
			defer wg.Done()

			unlock := e.registry.Lock(symbol)
			err := e.closeLocked(ctx, symbol)
			unlock()

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Failures = append(report.Failures, StopFailure{Symbol: symbol, Reason: err.Error()})
				return
			}
			report.ClosedCount++
		}(symbol)
	}
	wg.Wait()

	sort.Slice(report.Failures, func(i, j int) bool { return report.Failures[i].Symbol < report.Failures[j].Symbol })
	e.trading.Store(false)

	e.logger.Info("Stop sweep finished",
		zap.String("kind", kind),
		zap.Int("closed", report.ClosedCount),
		zap.Int("failed", len(report.Failures)))
	return report, nil
}
