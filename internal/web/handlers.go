package web

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/vitos/crypto_martingale/internal/domain"
	"github.com/vitos/crypto_martingale/internal/usecase"
	"go.uber.org/zap"
)

type startRequest struct {
	Symbol   string `json:"symbol"`
	Strategy string `json:"strategy"`
}

type symbolRequest struct {
	Symbol string `json:"symbol"`
}

type statusResponse struct {
	Symbol    string                `json:"symbol"`
	Active    bool                  `json:"active"`
	State     *domain.StrategyState `json:"state"`
	IsTrading bool                  `json:"is_trading"`
}

func accountID(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(AccountHeader))
}

// requireAccount writes 400 and returns "" when the header is missing.
func (s *Server) requireAccount(w http.ResponseWriter, r *http.Request) string {
	id := accountID(r)
	if id == "" {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: AccountHeader + " header is required"})
	}
	return id
}

func (s *Server) engineFor(w http.ResponseWriter, r *http.Request) (*usecase.MartingaleEngine, string, bool) {
	id := s.requireAccount(w, r)
	if id == "" {
		return nil, "", false
	}
	engine, err := s.sessions.Engine(id)
	if err != nil {
		s.writeError(w, err)
		return nil, "", false
	}
	return engine, id, true
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	id := s.requireAccount(w, r)
	if id == "" {
		return
	}
	var creds domain.Credentials
	if !s.decodeJSON(w, r, &creds) {
		return
	}

	sess, err := s.sessions.Connect(r.Context(), id, creds)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	id := s.requireAccount(w, r)
	if id == "" {
		return
	}
	if err := s.sessions.Disconnect(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"disconnected": true})
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	id := s.requireAccount(w, r)
	if id == "" {
		return
	}
	sess, err := s.sessions.LastSession(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if sess == nil {
		s.writeJSON(w, http.StatusNotFound, errorResponse{Error: "no session for account"})
		return
	}
	s.writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	engine, id, ok := s.engineFor(w, r)
	if !ok {
		return
	}
	var req startRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if req.Symbol == "" || req.Strategy == "" {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "symbol and strategy are required"})
		return
	}

	order, err := engine.Start(r.Context(), req.Symbol, req.Strategy)
	if err != nil {
		s.logger.Warn("Strategy start failed",
			zap.String("account", id),
			zap.String("symbol", req.Symbol),
			zap.Error(err))
		s.writeError(w, err)
		return
	}
	s.sessions.RecordStrategy(r.Context(), id, req.Symbol, req.Strategy)
	s.writeJSON(w, http.StatusOK, order)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	engine, _, ok := s.engineFor(w, r)
	if !ok {
		return
	}
	var req symbolRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if req.Symbol == "" {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "symbol is required"})
		return
	}
	if err := engine.Stop(r.Context(), req.Symbol); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"stopped": req.Symbol})
}

func (s *Server) handleStopAll(w http.ResponseWriter, r *http.Request) {
	s.sweep(w, r, false)
}

func (s *Server) handleEmergencyStop(w http.ResponseWriter, r *http.Request) {
	s.sweep(w, r, true)
}

func (s *Server) sweep(w http.ResponseWriter, r *http.Request, emergency bool) {
	engine, id, ok := s.engineFor(w, r)
	if !ok {
		return
	}

	var (
		report *usecase.StopReport
		err    error
	)
	if emergency {
		report, err = engine.EmergencyStop(r.Context())
	} else {
		report, err = engine.StopAll(r.Context())
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	if len(report.Failures) > 0 {
		s.logger.Warn("Stop sweep left open positions",
			zap.String("account", id),
			zap.Int("failures", len(report.Failures)))
	}
	s.writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleLoss(w http.ResponseWriter, r *http.Request) {
	s.signal(w, r, true)
}

func (s *Server) handleWin(w http.ResponseWriter, r *http.Request) {
	s.signal(w, r, false)
}

// signal applies a manually reported trade outcome to a running ladder.
func (s *Server) signal(w http.ResponseWriter, r *http.Request, loss bool) {
	engine, _, ok := s.engineFor(w, r)
	if !ok {
		return
	}
	var req symbolRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if req.Symbol == "" {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "symbol is required"})
		return
	}

	var (
		order *usecase.StrategyOrder
		err   error
	)
	if loss {
		order, err = engine.AdvanceOnLoss(r.Context(), req.Symbol)
	} else {
		order, err = engine.ResetOnWin(r.Context(), req.Symbol)
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, order)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	engine, _, ok := s.engineFor(w, r)
	if !ok {
		return
	}

	symbol := r.URL.Query().Get("symbol")
	if symbol == "" {
		s.writeJSON(w, http.StatusOK, engine.Statuses())
		return
	}
	st := engine.Status(symbol)
	s.writeJSON(w, http.StatusOK, statusResponse{
		Symbol:    symbol,
		Active:    st != nil && st.Active,
		State:     st,
		IsTrading: engine.IsTrading(),
	})
}

func (s *Server) handleStrategies(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.catalog.List())
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	engine, _, ok := s.engineFor(w, r)
	if !ok {
		return
	}
	bal, err := engine.Balance(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]float64{"balance": bal})
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	engine, _, ok := s.engineFor(w, r)
	if !ok {
		return
	}
	positions, err := engine.Positions(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, positions)
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	if s.tradeRepo == nil {
		s.writeJSON(w, http.StatusOK, []*domain.Order{})
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	trades, err := s.tradeRepo.ListTrades(r.Context(), limit)
	if err != nil {
		s.logger.Error("Failed to list trades", zap.Error(err))
		http.Error(w, "Failed to list trades", http.StatusInternalServerError)
		return
	}
	if trades == nil {
		trades = []*domain.Order{}
	}
	s.writeJSON(w, http.StatusOK, trades)
}
