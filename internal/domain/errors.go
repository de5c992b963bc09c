package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotConnected        = errors.New("exchange not connected")
	ErrAlreadyActive       = errors.New("strategy already active for symbol")
	ErrNotActive           = errors.New("no active strategy for symbol")
	ErrInvalidLevel        = errors.New("invalid ladder level")
	ErrInvalidBalance      = errors.New("balance too low to size an order")
	ErrPositionTooSmall    = errors.New("position size below exchange minimum")
	ErrOrderFailed         = errors.New("order failed")
	ErrCloseFailed         = errors.New("close position failed")
	ErrLadderExhausted     = errors.New("martingale ladder exhausted")
	ErrStrategyNotFound    = errors.New("strategy not found")
	ErrUnsupportedExchange = errors.New("unsupported exchange")
)

type AuthReason string

const (
	AuthInvalidCredentials AuthReason = "invalid_credentials"
	AuthIPRestricted       AuthReason = "ip_restricted"
	AuthPermissionDenied   AuthReason = "permission_denied"
	AuthUnknown            AuthReason = "unknown"
)

// AuthError is returned when an exchange rejects the account credentials.
type AuthError struct {
	Exchange string
	Reason   AuthReason
	Err      error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s auth failed (%s): %v", e.Exchange, e.Reason, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// ClassifyAuthError maps an exchange error message to an AuthReason.
func ClassifyAuthError(msg string) AuthReason {
	m := strings.ToLower(msg)
	switch {
	case strings.Contains(m, "unmatched ip"), strings.Contains(m, "ip address"), strings.Contains(m, "ip not"),
		strings.Contains(m, "10010"), strings.Contains(m, "whitelist"):
		return AuthIPRestricted
	case strings.Contains(m, "permission"), strings.Contains(m, "10005"), strings.Contains(m, "not authorized"):
		return AuthPermissionDenied
	case strings.Contains(m, "api key"), strings.Contains(m, "apikey"), strings.Contains(m, "signature"),
		strings.Contains(m, "10003"), strings.Contains(m, "10004"), strings.Contains(m, "invalid key"):
		return AuthInvalidCredentials
	}
	return AuthUnknown
}

// OrderError wraps a gateway rejection of an order submission.
type OrderError struct {
	Symbol string
	Size   float64
	Level  int
	Err    error
}

func (e *OrderError) Error() string {
	return fmt.Sprintf("order failed for %s (size=%g, level=%d): %v", e.Symbol, e.Size, e.Level, e.Err)
}

func (e *OrderError) Unwrap() error { return e.Err }

func (e *OrderError) Is(target error) bool { return target == ErrOrderFailed }

// CloseError wraps a failure to close a position.
type CloseError struct {
	Symbol string
	Err    error
}

func (e *CloseError) Error() string {
	return fmt.Sprintf("close failed for %s: %v", e.Symbol, e.Err)
}

func (e *CloseError) Unwrap() error { return e.Err }

func (e *CloseError) Is(target error) bool { return target == ErrCloseFailed }
