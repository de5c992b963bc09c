package web

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/vitos/crypto_martingale/internal/domain"
	"go.uber.org/zap"
)

type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}

func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return false
	}
	return true
}

// writeError maps domain errors to HTTP status codes.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	resp := errorResponse{Error: err.Error()}

	var authErr *domain.AuthError
	status := http.StatusInternalServerError
	switch {
	case errors.As(err, &authErr):
		status = http.StatusUnauthorized
		resp.Reason = string(authErr.Reason)
	case errors.Is(err, domain.ErrNotConnected):
		status = http.StatusPreconditionFailed
	case errors.Is(err, domain.ErrAlreadyActive),
		errors.Is(err, domain.ErrNotActive),
		errors.Is(err, domain.ErrLadderExhausted):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrStrategyNotFound),
		errors.Is(err, domain.ErrUnsupportedExchange),
		errors.Is(err, domain.ErrInvalidLevel):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrPositionTooSmall),
		errors.Is(err, domain.ErrInvalidBalance):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrOrderFailed),
		errors.Is(err, domain.ErrCloseFailed):
		status = http.StatusBadGateway
	}

	if status == http.StatusInternalServerError {
		s.logger.Error("Request failed", zap.Error(err))
	}
	s.writeJSON(w, status, resp)
}
