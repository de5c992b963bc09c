package web

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/vitos/crypto_martingale/internal/domain"
	"github.com/vitos/crypto_martingale/internal/usecase"
	"go.uber.org/zap"
)

// AccountHeader carries the caller's account id on every /api request.
const AccountHeader = "X-Account-ID"

type Server struct {
	router    *http.ServeMux
	server    *http.Server
	sessions  *usecase.SessionService
	catalog   *usecase.StrategyCatalog
	tradeRepo domain.TradeRepository
	logger    *zap.Logger
}

func NewServer(
	port int,
	sessions *usecase.SessionService,
	catalog *usecase.StrategyCatalog,
	tradeRepo domain.TradeRepository,
	logger *zap.Logger,
) *Server {
	if catalog == nil {
		catalog = usecase.NewStrategyCatalog()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		router:    http.NewServeMux(),
		sessions:  sessions,
		catalog:   catalog,
		tradeRepo: tradeRepo,
		logger:    logger,
	}
	s.routes()
	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: s.router,
	}
	return s
}

func (s *Server) routes() {
	// Session
	s.router.HandleFunc("POST /api/connect", s.handleConnect)
	s.router.HandleFunc("POST /api/disconnect", s.handleDisconnect)
	s.router.HandleFunc("GET /api/session", s.handleSession)

	// Strategy lifecycle
	s.router.HandleFunc("POST /api/strategy/start", s.handleStart)
	s.router.HandleFunc("POST /api/strategy/stop", s.handleStop)
	s.router.HandleFunc("POST /api/strategy/stop-all", s.handleStopAll)
	s.router.HandleFunc("POST /api/strategy/emergency-stop", s.handleEmergencyStop)

	// Manual outcome signals
	s.router.HandleFunc("POST /api/strategy/loss", s.handleLoss)
	s.router.HandleFunc("POST /api/strategy/win", s.handleWin)

	// Read-only
	s.router.HandleFunc("GET /api/strategy/status", s.handleStatus)
	s.router.HandleFunc("GET /api/strategies", s.handleStrategies)
	s.router.HandleFunc("GET /api/balance", s.handleBalance)
	s.router.HandleFunc("GET /api/positions", s.handlePositions)
	s.router.HandleFunc("GET /api/trades", s.handleTrades)

	// Metrics
	s.router.Handle("GET /metrics", promhttp.Handler())
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start() error {
	s.logger.Info("Starting web server", zap.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
