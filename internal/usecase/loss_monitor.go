package usecase

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/vitos/crypto_martingale/internal/domain"
	"go.uber.org/zap"
)

// LossMonitor turns position closes into ladder signals. A tracked symbol
// whose position goes from open to flat escalates when its last observed
// unrealized PnL was negative and resets to level 1 otherwise.
type LossMonitor struct {
	engine   *MartingaleEngine
	interval time.Duration
	logger   *zap.Logger

	mu   sync.Mutex
	last map[string]domain.Position
}

func NewLossMonitor(engine *MartingaleEngine, interval time.Duration, logger *zap.Logger) *LossMonitor {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &LossMonitor{
		engine:   engine,
		interval: interval,
		logger:   logger,
		last:     make(map[string]domain.Position),
	}
}

// Run polls positions until ctx is cancelled.
func (m *LossMonitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.logger.Info("Loss monitor started", zap.Duration("interval", m.interval))
	for {
		select {
		case <-ticker.C:
			if err := m.Poll(ctx); err != nil {
				m.logger.Error("Loss monitor poll failed", zap.Error(err))
			}
		case <-ctx.Done():
			m.logger.Info("Loss monitor stopped")
			return
		}
	}
}

// Poll compares the exchange positions with the tracked ladders once.
func (m *LossMonitor) Poll(ctx context.Context) error {
	tracked := m.trackedSymbols()
	if len(tracked) == 0 {
		m.forgetUntracked(tracked)
		return nil
	}

	positions, err := m.engine.Positions(ctx)
	if err != nil {
		return err
	}
	open := make(map[string]*domain.Position, len(positions))
	for _, p := range positions {
		if p != nil && p.Size > 0 {
			open[p.Symbol] = p
		}
	}

	for symbol := range tracked {
		if p, ok := open[symbol]; ok {
			m.Observe(ctx, p)
			continue
		}
		m.Observe(ctx, &domain.Position{Symbol: symbol})
	}
	m.forgetUntracked(tracked)
	return nil
}

// Observe records one position update. It is safe to call from a stream
// callback concurrently with Poll.
func (m *LossMonitor) Observe(ctx context.Context, p *domain.Position) {
	if p == nil {
		return
	}
	st := m.engine.Status(p.Symbol)
	if st == nil || !st.Active {
		return
	}

	m.mu.Lock()
	if p.Size > 0 {
		m.last[p.Symbol] = *p
		m.mu.Unlock()
		return
	}
	prev, seen := m.last[p.Symbol]
	delete(m.last, p.Symbol)
	m.mu.Unlock()

	if !seen {
		// Nothing was open yet, e.g. the order has not shown up.
		return
	}
	m.handleClose(ctx, prev)
}

func (m *LossMonitor) handleClose(ctx context.Context, prev domain.Position) {
	if prev.UnrealizedPnL < 0 {
		m.logger.Info("Loss detected, escalating ladder",
			zap.String("symbol", prev.Symbol),
			zap.Float64("last_unrealized_pnl", prev.UnrealizedPnL))
		if _, err := m.engine.AdvanceOnLoss(ctx, prev.Symbol); err != nil {
			if errors.Is(err, domain.ErrLadderExhausted) {
				m.logger.Warn("Ladder exhausted", zap.String("symbol", prev.Symbol), zap.Error(err))
				return
			}
			m.logger.Error("Ladder escalation failed", zap.String("symbol", prev.Symbol), zap.Error(err))
		}
		return
	}

	m.logger.Info("Win detected, resetting ladder",
		zap.String("symbol", prev.Symbol),
		zap.Float64("last_unrealized_pnl", prev.UnrealizedPnL))
	if _, err := m.engine.ResetOnWin(ctx, prev.Symbol); err != nil {
		m.logger.Error("Ladder reset failed", zap.String("symbol", prev.Symbol), zap.Error(err))
	}
}

func (m *LossMonitor) trackedSymbols() map[string]struct{} {
	tracked := make(map[string]struct{})
	for _, st := range m.engine.Statuses() {
		if st.Active {
			tracked[st.Symbol] = struct{}{}
		}
	}
	return tracked
}

func (m *LossMonitor) forgetUntracked(tracked map[string]struct{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for symbol := range m.last {
		if _, ok := tracked[symbol]; !ok {
			delete(m.last, symbol)
		}
	}
}
