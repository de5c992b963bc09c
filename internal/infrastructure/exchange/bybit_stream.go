package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vitos/crypto_martingale/internal/domain"
	"go.uber.org/zap"
)

const bybitPingInterval = 20 * time.Second

// StreamPositions subscribes to the private position topic and invokes
// onUpdate for every position change. It blocks until ctx is cancelled or
// the connection fails.
func (b *BybitAdapter) StreamPositions(ctx context.Context, onUpdate func(*domain.Position)) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, b.wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial bybit private stream: %w", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(b.authMessage(time.Now())); err != nil {
		return err
	}
	if err := conn.WriteJSON(map[string]interface{}{
		"op":   "subscribe",
		"args": []string{"position.linear"},
	}); err != nil {
		return err
	}

	done := make(chan struct{})
	defer close(done)
	go b.keepAlive(ctx, conn, done)

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("bybit stream read: %w", err)
		}

		var event struct {
			Op      string          `json:"op"`
			Success *bool           `json:"success"`
			RetMsg  string          `json:"ret_msg"`
			Topic   string          `json:"topic"`
			Data    json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(message, &event); err != nil {
			b.logger.Debug("WS unmarshal error", zap.Error(err))
			continue
		}

		if event.Op == "auth" && event.Success != nil && !*event.Success {
			return &domain.AuthError{Exchange: b.Name(), Reason: domain.ClassifyAuthError(event.RetMsg), Err: fmt.Errorf("stream auth: %s", event.RetMsg)}
		}
		if !strings.HasPrefix(event.Topic, "position") {
			continue
		}

		var items []bybitPosition
		if err := json.Unmarshal(event.Data, &items); err != nil {
			b.logger.Debug("WS position decode error", zap.Error(err))
			continue
		}
		for _, raw := range items {
			onUpdate(raw.toDomain())
		}
	}
}

func (b *BybitAdapter) authMessage(now time.Time) map[string]interface{} {
	expires := now.Add(10 * time.Second).UnixMilli()
	h := hmac.New(sha256.New, []byte(b.apiSecret))
	h.Write([]byte("GET/realtime" + strconv.FormatInt(expires, 10)))
	return map[string]interface{}{
		"op":   "auth",
		"args": []interface{}{b.apiKey, expires, hex.EncodeToString(h.Sum(nil))},
	}
}

// keepAlive pings until done, and unblocks the reader when ctx ends.
func (b *BybitAdapter) keepAlive(ctx context.Context, conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(bybitPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := conn.WriteJSON(map[string]string{"op": "ping"}); err != nil {
				return
			}
		case <-ctx.Done():
			conn.Close()
			return
		case <-done:
			return
		}
	}
}
