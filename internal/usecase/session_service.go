package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/vitos/crypto_martingale/internal/domain"
	"go.uber.org/zap"
)

// ExchangeFactory builds an unconnected gateway for one account.
type ExchangeFactory func(creds domain.Credentials) (domain.Exchange, error)

const maxStreamRetry = 30 * time.Second

type SessionConfig struct {
	Engine           EngineConfig
	LossPollInterval time.Duration
	PositionStream   bool
	// StreamRetry is the first delay before reopening a dropped position
	// stream. It doubles up to 30s.
	StreamRetry time.Duration
}

// SessionService owns one gateway and one engine per account. Gateways are
// never shared between accounts.
type SessionService struct {
	factory  ExchangeFactory
	catalog  *StrategyCatalog
	trades   domain.TradeRepository
	sessions domain.SessionRepository
	cfg      SessionConfig
	logger   *zap.Logger

	mu     sync.RWMutex
	active map[string]*accountSession
}

type accountSession struct {
	exchange string
	engine   *MartingaleEngine
	monitor  *LossMonitor
	cancel   context.CancelFunc
}

func NewSessionService(
	factory ExchangeFactory,
	catalog *StrategyCatalog,
	trades domain.TradeRepository,
	sessions domain.SessionRepository,
	cfg SessionConfig,
	logger *zap.Logger,
) *SessionService {
	if catalog == nil {
		catalog = NewStrategyCatalog()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.StreamRetry <= 0 {
		cfg.StreamRetry = time.Second
	}
	return &SessionService{
		factory:  factory,
		catalog:  catalog,
		trades:   trades,
		sessions: sessions,
		cfg:      cfg,
		logger:   logger,
		active:   make(map[string]*accountSession),
	}
}

// Connect verifies the credentials and binds a fresh engine to the account.
// An account whose engine still holds any state must be stopped before
// reconnecting.
func (s *SessionService) Connect(ctx context.Context, accountID string, creds domain.Credentials) (*domain.Session, error) {
	if accountID == "" {
		return nil, fmt.Errorf("account id is required")
	}

	s.mu.RLock()
	prev, exists := s.active[accountID]
	s.mu.RUnlock()
	if exists && prev.engine.HasState() {
		return nil, fmt.Errorf("%w: account %s has running strategies", domain.ErrAlreadyActive, accountID)
	}

	gateway, err := s.factory(creds)
	if err != nil {
		return nil, err
	}
	if err := gateway.Connect(ctx); err != nil {
		s.logger.Warn("Exchange connect failed",
			zap.String("account", accountID),
			zap.String("exchange", creds.Exchange),
			zap.Error(err))
		return nil, err
	}

	engine := NewMartingaleEngine(accountID, gateway, s.catalog, s.trades, s.cfg.Engine, s.logger)
	monitorCtx, cancel := context.WithCancel(context.Background())
	sess := &accountSession{
		exchange: gateway.Name(),
		engine:   engine,
		monitor:  NewLossMonitor(engine, s.cfg.LossPollInterval, s.logger.With(zap.String("account", accountID))),
		cancel:   cancel,
	}

	// the old engine may have started a ladder while the gateway connected
	s.mu.Lock()
	if old, ok := s.active[accountID]; ok {
		if err := old.engine.Detach(); err != nil {
			s.mu.Unlock()
			cancel()
			return nil, fmt.Errorf("account %s: %w", accountID, err)
		}
		old.cancel()
	}
	s.active[accountID] = sess
	s.mu.Unlock()

	s.startMonitoring(monitorCtx, accountID, gateway, sess)

	record := &domain.Session{
		AccountID: accountID,
		Exchange:  sess.exchange,
		Connected: true,
		UpdatedAt: time.Now(),
	}
	s.save(ctx, record)

	s.logger.Info("Account connected", zap.String("account", accountID), zap.String("exchange", sess.exchange))
	return record, nil
}

func (s *SessionService) startMonitoring(ctx context.Context, accountID string, gateway domain.Exchange, sess *accountSession) {
	if s.cfg.LossPollInterval > 0 {
		go sess.monitor.Run(ctx)
	}
	if !s.cfg.PositionStream {
		return
	}
	streamer, ok := gateway.(domain.PositionStreamer)
	if !ok {
		return
	}
	go s.streamPositions(ctx, accountID, streamer, sess.monitor)
}

// streamPositions keeps the position stream open until ctx is cancelled.
// Auth failures are permanent and end the loop.
func (s *SessionService) streamPositions(ctx context.Context, accountID string, streamer domain.PositionStreamer, monitor *LossMonitor) {
	backoff := s.cfg.StreamRetry
	for {
		started := time.Now()
		err := streamer.StreamPositions(ctx, func(p *domain.Position) {
			monitor.Observe(ctx, p)
		})
		if ctx.Err() != nil {
			return
		}

		var authErr *domain.AuthError
		if errors.As(err, &authErr) {
			s.logger.Error("Position stream rejected, not reconnecting", zap.String("account", accountID), zap.Error(err))
			return
		}
		if time.Since(started) > maxStreamRetry {
			backoff = s.cfg.StreamRetry
		}
		s.logger.Warn("Position stream ended, reconnecting",
			zap.String("account", accountID),
			zap.Duration("backoff", backoff),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxStreamRetry {
			backoff = maxStreamRetry
		}
	}
}

// Disconnect drops the account's gateway. Running ladders must be stopped first.
func (s *SessionService) Disconnect(ctx context.Context, accountID string) error {
	s.mu.Lock()
	sess, ok := s.active[accountID]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	if err := sess.engine.Detach(); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("account %s: %w", accountID, err)
	}
	sess.cancel()
	delete(s.active, accountID)
	s.mu.Unlock()

	s.save(ctx, &domain.Session{
		AccountID: accountID,
		Exchange:  sess.exchange,
		Connected: false,
		UpdatedAt: time.Now(),
	})
	s.logger.Info("Account disconnected", zap.String("account", accountID))
	return nil
}

// Engine returns the account's engine or ErrNotConnected.
func (s *SessionService) Engine(accountID string) (*MartingaleEngine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.active[accountID]
	if !ok {
		return nil, domain.ErrNotConnected
	}
	return sess.engine, nil
}

// RecordStrategy stores the account's most recent pair and strategy.
func (s *SessionService) RecordStrategy(ctx context.Context, accountID, symbol, strategy string) {
	s.mu.RLock()
	sess, ok := s.active[accountID]
	s.mu.RUnlock()
	if !ok {
		return
	}
	s.save(ctx, &domain.Session{
		AccountID: accountID,
		Exchange:  sess.exchange,
		Connected: true,
		Symbol:    symbol,
		Strategy:  strategy,
		UpdatedAt: time.Now(),
	})
}

// LastSession returns the persisted record, or nil when none exists.
func (s *SessionService) LastSession(ctx context.Context, accountID string) (*domain.Session, error) {
	if s.sessions == nil {
		return nil, nil
	}
	return s.sessions.GetSession(ctx, accountID)
}

func (s *SessionService) save(ctx context.Context, record *domain.Session) {
	if s.sessions == nil {
		return
	}
	if err := s.sessions.SaveSession(ctx, record); err != nil {
		s.logger.Warn("Failed to save session", zap.String("account", record.AccountID), zap.Error(err))
	}
}

// Close stops all background monitors.
func (s *SessionService) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.active {
		sess.cancel()
	}
}
