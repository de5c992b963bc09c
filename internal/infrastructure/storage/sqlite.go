package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"github.com/vitos/crypto_martingale/internal/domain"
)

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS trades (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			order_id TEXT NOT NULL,
			exchange TEXT NOT NULL,
			symbol TEXT NOT NULL,
			side TEXT NOT NULL,
			size REAL NOT NULL,
			filled_size REAL NOT NULL DEFAULT 0,
			avg_price REAL NOT NULL DEFAULT 0,
			reduce_only BOOLEAN NOT NULL DEFAULT 0,
			strategy TEXT NOT NULL DEFAULT '',
			level INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_trades_symbol ON trades(symbol);`,
		`CREATE TABLE IF NOT EXISTS sessions (
			account_id TEXT PRIMARY KEY,
			exchange TEXT NOT NULL,
			connected BOOLEAN NOT NULL DEFAULT 0,
			symbol TEXT NOT NULL DEFAULT '',
			strategy TEXT NOT NULL DEFAULT '',
			updated_at DATETIME NOT NULL
		);`,
	}

	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return fmt.Errorf("failed to exec query %s: %w", q, err)
		}
	}
	return nil
}

// TradeRepository Implementation

func (s *SQLiteStore) SaveTrade(ctx context.Context, order *domain.Order) error {
	query := `INSERT INTO trades (order_id, exchange, symbol, side, size, filled_size, avg_price, reduce_only, strategy, level, created_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		order.ID, order.Exchange, order.Symbol, string(order.Side), order.Size, order.FilledSize, order.AvgPrice,
		order.ReduceOnly, order.StrategyName, order.Level, order.CreatedAt)
	return err
}

// ListTrades returns the newest trades first.
func (s *SQLiteStore) ListTrades(ctx context.Context, limit int) ([]*domain.Order, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT order_id, exchange, symbol, side, size, filled_size, avg_price, reduce_only, strategy, level, created_at
			  FROM trades ORDER BY id DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []*domain.Order
	for rows.Next() {
		var o domain.Order
		var side string
		if err := rows.Scan(&o.ID, &o.Exchange, &o.Symbol, &side, &o.Size, &o.FilledSize, &o.AvgPrice,
			&o.ReduceOnly, &o.StrategyName, &o.Level, &o.CreatedAt); err != nil {
			return nil, err
		}
		o.Side = domain.Side(side)
		trades = append(trades, &o)
	}
	return trades, rows.Err()
}

// SessionRepository Implementation

func (s *SQLiteStore) SaveSession(ctx context.Context, session *domain.Session) error {
	query := `INSERT INTO sessions (account_id, exchange, connected, symbol, strategy, updated_at)
			  VALUES (?, ?, ?, ?, ?, ?)
			  ON CONFLICT(account_id) DO UPDATE SET
			  exchange=excluded.exchange,
			  connected=excluded.connected,
			  symbol=excluded.symbol,
			  strategy=excluded.strategy,
			  updated_at=excluded.updated_at`
	_, err := s.db.ExecContext(ctx, query,
		session.AccountID, session.Exchange, session.Connected, session.Symbol, session.Strategy, session.UpdatedAt)
	return err
}

// GetSession returns nil when the account has no stored session.
func (s *SQLiteStore) GetSession(ctx context.Context, accountID string) (*domain.Session, error) {
	query := `SELECT account_id, exchange, connected, symbol, strategy, updated_at FROM sessions WHERE account_id = ?`
	row := s.db.QueryRowContext(ctx, query, accountID)

	var sess domain.Session
	err := row.Scan(&sess.AccountID, &sess.Exchange, &sess.Connected, &sess.Symbol, &sess.Strategy, &sess.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sess, nil
}
