package usecase_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitos/crypto_martingale/internal/domain"
	"github.com/vitos/crypto_martingale/internal/usecase"
	"go.uber.org/zap"
)

type MockSessionRepo struct {
	mu       sync.Mutex
	sessions map[string]domain.Session
}

func (r *MockSessionRepo) SaveSession(ctx context.Context, s *domain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sessions == nil {
		r.sessions = make(map[string]domain.Session)
	}
	r.sessions[s.AccountID] = *s
	return nil
}

func (r *MockSessionRepo) GetSession(ctx context.Context, accountID string) (*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[accountID]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func newTestSessions(gateways map[string]*MockExchange, repo domain.SessionRepository) *usecase.SessionService {
	factory := func(creds domain.Credentials) (domain.Exchange, error) {
		ex, ok := gateways[creds.APIKey]
		if !ok {
			return nil, domain.ErrUnsupportedExchange
		}
		return ex, nil
	}
	return usecase.NewSessionService(factory, nil, nil, repo, usecase.SessionConfig{}, zap.NewNop())
}

func TestSessionService_ConnectAndTrade(t *testing.T) {
	alice := NewMockExchange(10000)
	repo := &MockSessionRepo{}
	sessions := newTestSessions(map[string]*MockExchange{"key-a": alice}, repo)
	ctx := context.Background()

	_, err := sessions.Engine("alice")
	assert.ErrorIs(t, err, domain.ErrNotConnected)

	rec, err := sessions.Connect(ctx, "alice", domain.Credentials{Exchange: "mock", APIKey: "key-a"})
	require.NoError(t, err)
	assert.True(t, rec.Connected)
	assert.Equal(t, "mock", rec.Exchange)

	engine, err := sessions.Engine("alice")
	require.NoError(t, err)
	_, err = engine.Start(ctx, btc, usecase.StrategySteadyClimb)
	require.NoError(t, err)

	sessions.RecordStrategy(ctx, "alice", btc, usecase.StrategySteadyClimb)
	last, err := sessions.LastSession(ctx, "alice")
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, btc, last.Symbol)
	assert.Equal(t, usecase.StrategySteadyClimb, last.Strategy)

	sessions.Close()
}

func TestSessionService_AccountsAreIsolated(t *testing.T) {
	alice := NewMockExchange(10000)
	bob := NewMockExchange(5000)
	sessions := newTestSessions(map[string]*MockExchange{"key-a": alice, "key-b": bob}, nil)
	ctx := context.Background()

	_, err := sessions.Connect(ctx, "alice", domain.Credentials{APIKey: "key-a"})
	require.NoError(t, err)
	_, err = sessions.Connect(ctx, "bob", domain.Credentials{APIKey: "key-b"})
	require.NoError(t, err)

	aliceEngine, err := sessions.Engine("alice")
	require.NoError(t, err)
	bobEngine, err := sessions.Engine("bob")
	require.NoError(t, err)

	_, err = aliceEngine.Start(ctx, btc, usecase.StrategySteadyClimb)
	require.NoError(t, err)
	_, err = bobEngine.Start(ctx, btc, usecase.StrategySteadyClimb)
	require.NoError(t, err, "same symbol on another account is independent")

	assert.Equal(t, 1, alice.PlacedCount())
	assert.Equal(t, 1, bob.PlacedCount())

	balance, err := bobEngine.Balance(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5000.0, balance)
}

func TestSessionService_ConnectAuthError(t *testing.T) {
	bad := NewMockExchange(0)
	bad.ConnectErr = &domain.AuthError{Exchange: "mock", Reason: domain.AuthIPRestricted, Err: errors.New("unmatched ip")}
	repo := &MockSessionRepo{}
	sessions := newTestSessions(map[string]*MockExchange{"key-x": bad}, repo)

	_, err := sessions.Connect(context.Background(), "carol", domain.Credentials{APIKey: "key-x"})
	var authErr *domain.AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, domain.AuthIPRestricted, authErr.Reason)

	_, err = sessions.Engine("carol")
	assert.ErrorIs(t, err, domain.ErrNotConnected)

	last, err := sessions.LastSession(context.Background(), "carol")
	require.NoError(t, err)
	assert.Nil(t, last)
}

func TestSessionService_DisconnectRequiresStop(t *testing.T) {
	ex := NewMockExchange(10000)
	repo := &MockSessionRepo{}
	sessions := newTestSessions(map[string]*MockExchange{"key-a": ex}, repo)
	ctx := context.Background()

	_, err := sessions.Connect(ctx, "alice", domain.Credentials{APIKey: "key-a"})
	require.NoError(t, err)
	engine, err := sessions.Engine("alice")
	require.NoError(t, err)
	_, err = engine.Start(ctx, btc, usecase.StrategySteadyClimb)
	require.NoError(t, err)

	assert.ErrorIs(t, sessions.Disconnect(ctx, "alice"), domain.ErrAlreadyActive)
	_, err = sessions.Connect(ctx, "alice", domain.Credentials{APIKey: "key-a"})
	assert.ErrorIs(t, err, domain.ErrAlreadyActive)

	_, err = engine.StopAll(ctx)
	require.NoError(t, err)
	require.NoError(t, sessions.Disconnect(ctx, "alice"))

	_, err = sessions.Engine("alice")
	assert.ErrorIs(t, err, domain.ErrNotConnected)
	last, err := sessions.LastSession(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, last.Connected)

	assert.NoError(t, sessions.Disconnect(ctx, "alice"))
}

func TestSessionService_FailedCloseKeepsAccountBound(t *testing.T) {
	ex := NewMockExchange(10000)
	other := NewMockExchange(10000)
	sessions := newTestSessions(map[string]*MockExchange{"key-a": ex, "key-b": other}, nil)
	ctx := context.Background()

	_, err := sessions.Connect(ctx, "alice", domain.Credentials{APIKey: "key-a"})
	require.NoError(t, err)
	engine, err := sessions.Engine("alice")
	require.NoError(t, err)
	_, err = engine.Start(ctx, btc, usecase.StrategySteadyClimb)
	require.NoError(t, err)
	_, err = engine.Start(ctx, eth, usecase.StrategySteadyClimb)
	require.NoError(t, err)

	ex.CloseErrs[eth] = errors.New("close rejected")
	report, err := engine.StopAll(ctx)
	require.NoError(t, err)
	require.Len(t, report.Failures, 1)
	require.False(t, engine.IsTrading())

	assert.ErrorIs(t, sessions.Disconnect(ctx, "alice"), domain.ErrAlreadyActive)
	_, err = sessions.Connect(ctx, "alice", domain.Credentials{APIKey: "key-b"})
	assert.ErrorIs(t, err, domain.ErrAlreadyActive)

	current, err := sessions.Engine("alice")
	require.NoError(t, err)
	assert.Same(t, engine, current)
	assert.NotNil(t, current.Status(eth))

	delete(ex.CloseErrs, eth)
	_, err = engine.StopAll(ctx)
	require.NoError(t, err)
	assert.NoError(t, sessions.Disconnect(ctx, "alice"))
}

func TestSessionService_StartDuringReconnectKeepsLadder(t *testing.T) {
	first := NewMockExchange(10000)
	second := NewMockExchange(10000)
	second.ConnectEntered = make(chan struct{}, 1)
	second.ConnectGate = make(chan struct{})
	sessions := newTestSessions(map[string]*MockExchange{"key-1": first, "key-2": second}, nil)
	ctx := context.Background()

	_, err := sessions.Connect(ctx, "alice", domain.Credentials{APIKey: "key-1"})
	require.NoError(t, err)
	engine, err := sessions.Engine("alice")
	require.NoError(t, err)

	reconnected := make(chan error, 1)
	go func() {
		_, err := sessions.Connect(ctx, "alice", domain.Credentials{APIKey: "key-2"})
		reconnected <- err
	}()

	<-second.ConnectEntered
	_, err = engine.Start(ctx, btc, usecase.StrategySteadyClimb)
	require.NoError(t, err)
	close(second.ConnectGate)

	assert.ErrorIs(t, <-reconnected, domain.ErrAlreadyActive)
	current, err := sessions.Engine("alice")
	require.NoError(t, err)
	assert.Same(t, engine, current)
	assert.NotNil(t, current.Status(btc))
	assert.Equal(t, 0, second.PlacedCount())
}

func TestSessionService_ReconnectRacingStart(t *testing.T) {
	first := NewMockExchange(10000)
	first.PlaceDelay = 20 * time.Millisecond
	second := NewMockExchange(10000)
	sessions := newTestSessions(map[string]*MockExchange{"key-1": first, "key-2": second}, nil)
	ctx := context.Background()

	_, err := sessions.Connect(ctx, "alice", domain.Credentials{APIKey: "key-1"})
	require.NoError(t, err)
	engine, err := sessions.Engine("alice")
	require.NoError(t, err)

	var wg sync.WaitGroup
	var startErr, connectErr error
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, startErr = engine.Start(ctx, btc, usecase.StrategySteadyClimb)
	}()
	go func() {
		defer wg.Done()
		_, connectErr = sessions.Connect(ctx, "alice", domain.Credentials{APIKey: "key-2"})
	}()
	wg.Wait()

	current, err := sessions.Engine("alice")
	require.NoError(t, err)
	if startErr == nil {
		// the ladder won, so the account stays on the first engine
		assert.ErrorIs(t, connectErr, domain.ErrAlreadyActive)
		assert.Same(t, engine, current)
		assert.NotNil(t, current.Status(btc))
	} else {
		assert.ErrorIs(t, startErr, domain.ErrNotConnected)
		assert.NoError(t, connectErr)
		assert.NotSame(t, engine, current)
		assert.Equal(t, 0, first.PlacedCount())
	}
}

// flakyStreamer drops the first failures streams, then stays open.
type flakyStreamer struct {
	*MockExchange
	failures int
	err      error

	mu    sync.Mutex
	calls int
}

func (f *flakyStreamer) StreamPositions(ctx context.Context, onUpdate func(*domain.Position)) error {
	f.mu.Lock()
	f.calls++
	n := f.calls
	f.mu.Unlock()
	if n <= f.failures {
		return f.err
	}
	<-ctx.Done()
	return ctx.Err()
}

func (f *flakyStreamer) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newStreamingSessions(streamer *flakyStreamer) *usecase.SessionService {
	factory := func(creds domain.Credentials) (domain.Exchange, error) {
		return streamer, nil
	}
	return usecase.NewSessionService(factory, nil, nil, nil, usecase.SessionConfig{
		PositionStream: true,
		StreamRetry:    time.Millisecond,
	}, zap.NewNop())
}

func TestSessionService_PositionStreamReconnects(t *testing.T) {
	streamer := &flakyStreamer{MockExchange: NewMockExchange(10000), failures: 3, err: errors.New("connection reset")}
	sessions := newStreamingSessions(streamer)
	defer sessions.Close()

	_, err := sessions.Connect(context.Background(), "alice", domain.Credentials{})
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return streamer.Calls() == 4 }, time.Second, 5*time.Millisecond)
	assert.Never(t, func() bool { return streamer.Calls() > 4 }, 50*time.Millisecond, 5*time.Millisecond)
}

func TestSessionService_PositionStreamAuthFailureStops(t *testing.T) {
	streamer := &flakyStreamer{
		MockExchange: NewMockExchange(10000),
		failures:     10,
		err:          &domain.AuthError{Exchange: "mock", Reason: domain.AuthInvalidCredentials, Err: errors.New("bad key")},
	}
	sessions := newStreamingSessions(streamer)
	defer sessions.Close()

	_, err := sessions.Connect(context.Background(), "alice", domain.Credentials{})
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return streamer.Calls() == 1 }, time.Second, 5*time.Millisecond)
	assert.Never(t, func() bool { return streamer.Calls() > 1 }, 50*time.Millisecond, 5*time.Millisecond)
}
