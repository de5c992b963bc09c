package exchange

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/vitos/crypto_martingale/internal/domain"
	"go.uber.org/zap"
)

const (
	BybitBaseURL        = "https://api.bybit.com"
	BybitWSURL          = "wss://stream.bybit.com/v5/private"
	BybitTestnetBaseURL = "https://api-testnet.bybit.com"
	BybitTestnetWSURL   = "wss://stream-testnet.bybit.com/v5/private"

	bybitRecvWindow = 5000

	// retCode for "leverage not modified"
	bybitLeverageNotModified = 110043
)

// APIError is a non-zero retCode returned by Bybit.
type APIError struct {
	Code int
	Msg  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("bybit retCode=%d: %s", e.Code, e.Msg)
}

// HTTPError is a 4xx/5xx response.
type HTTPError struct {
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("API error (%d): %s", e.Status, e.Body)
}

type lotSize struct {
	minQty  decimal.Decimal
	qtyStep decimal.Decimal
}

// BybitAdapter is a Bybit V5 linear (USDT perpetual) gateway for one account.
type BybitAdapter struct {
	apiKey    string
	apiSecret string
	baseURL   string
	wsURL     string
	client    *http.Client
	logger    *zap.Logger

	mu   sync.Mutex
	lots map[string]lotSize
}

func NewBybitAdapter(apiKey, apiSecret, baseURL, wsURL string, timeout time.Duration, logger *zap.Logger) *BybitAdapter {
	if baseURL == "" {
		baseURL = BybitBaseURL
	}
	if wsURL == "" {
		wsURL = BybitWSURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BybitAdapter{
		apiKey:    apiKey,
		apiSecret: apiSecret,
		baseURL:   strings.TrimRight(baseURL, "/"),
		wsURL:     wsURL,
		client:    &http.Client{Timeout: timeout},
		logger:    logger,
		lots:      make(map[string]lotSize),
	}
}

func (b *BybitAdapter) Name() string { return "bybit" }

// --- REST API ---

func (b *BybitAdapter) sign(params string, timestamp int64, recvWindow int) string {
	// timestamp + apiKey + recvWindow + params
	toSign := fmt.Sprintf("%d%s%d%s", timestamp, b.apiKey, recvWindow, params)
	h := hmac.New(sha256.New, []byte(b.apiSecret))
	h.Write([]byte(toSign))
	return hex.EncodeToString(h.Sum(nil))
}

func (b *BybitAdapter) sendRequest(ctx context.Context, method, path string, payload map[string]interface{}) ([]byte, error) {
	timestamp := time.Now().UnixMilli()

	var body []byte
	var paramsStr string

	if payload != nil {
		jsonBody, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = jsonBody
		paramsStr = string(jsonBody)
	} else if method == http.MethodGet {
		// GET params are signed as the raw query string
		if idx := strings.Index(path, "?"); idx != -1 {
			paramsStr = path[idx+1:]
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, b.baseURL+path, bytes.NewBuffer(body))
	if err != nil {
		return nil, err
	}

	req.Header.Set("X-BAPI-API-KEY", b.apiKey)
	req.Header.Set("X-BAPI-TIMESTAMP", strconv.FormatInt(timestamp, 10))
	req.Header.Set("X-BAPI-SIGN", b.sign(paramsStr, timestamp, bybitRecvWindow))
	req.Header.Set("X-BAPI-RECV-WINDOW", strconv.Itoa(bybitRecvWindow))
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		return nil, &HTTPError{Status: resp.StatusCode, Body: string(respBody)}
	}

	return respBody, nil
}

// call sends a request and decodes the V5 envelope's result into out.
func (b *BybitAdapter) call(ctx context.Context, method, path string, payload map[string]interface{}, out interface{}) error {
	resp, err := b.sendRequest(ctx, method, path, payload)
	if err != nil {
		return err
	}

	var envelope struct {
		RetCode int             `json:"retCode"`
		RetMsg  string          `json:"retMsg"`
		Result  json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(resp, &envelope); err != nil {
		return fmt.Errorf("decode bybit response: %w", err)
	}
	if envelope.RetCode != 0 {
		return &APIError{Code: envelope.RetCode, Msg: envelope.RetMsg}
	}
	if out == nil || len(envelope.Result) == 0 {
		return nil
	}
	return json.Unmarshal(envelope.Result, out)
}

// Connect verifies the API key by reading the wallet.
func (b *BybitAdapter) Connect(ctx context.Context) error {
	if b.apiKey == "" || b.apiSecret == "" {
		return &domain.AuthError{Exchange: b.Name(), Reason: domain.AuthInvalidCredentials, Err: errors.New("api key and secret are required")}
	}
	_, err := b.GetBalance(ctx)
	if err == nil {
		return nil
	}

	var apiErr *APIError
	var httpErr *HTTPError
	switch {
	case errors.As(err, &apiErr):
		return &domain.AuthError{Exchange: b.Name(), Reason: domain.ClassifyAuthError(apiErr.Error()), Err: err}
	case errors.As(err, &httpErr) && (httpErr.Status == http.StatusUnauthorized || httpErr.Status == http.StatusForbidden):
		return &domain.AuthError{Exchange: b.Name(), Reason: domain.ClassifyAuthError(httpErr.Body), Err: err}
	}
	return fmt.Errorf("bybit connect: %w", err)
}

func (b *BybitAdapter) GetBalance(ctx context.Context) (float64, error) {
	var result struct {
		List []struct {
			TotalEquity string `json:"totalEquity"`
			Coin        []struct {
				Coin          string `json:"coin"`
				WalletBalance string `json:"walletBalance"`
				Equity        string `json:"equity"`
			} `json:"coin"`
		} `json:"list"`
	}
	if err := b.call(ctx, http.MethodGet, "/v5/account/wallet-balance?accountType=UNIFIED&coin=USDT", nil, &result); err != nil {
		return 0, err
	}

	for _, acc := range result.List {
		for _, c := range acc.Coin {
			if c.Coin != "USDT" {
				continue
			}
			raw := c.Equity
			if raw == "" {
				raw = c.WalletBalance
			}
			return strconv.ParseFloat(raw, 64)
		}
	}
	return 0, nil
}

func (b *BybitAdapter) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	payload := map[string]interface{}{
		"category":     "linear",
		"symbol":       ToVenueSymbol(symbol),
		"buyLeverage":  strconv.Itoa(leverage),
		"sellLeverage": strconv.Itoa(leverage),
	}
	err := b.call(ctx, http.MethodPost, "/v5/position/set-leverage", payload, nil)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Code == bybitLeverageNotModified {
		return nil
	}
	return err
}

func (b *BybitAdapter) setMarginMode(ctx context.Context, symbol string, marginMode string, leverage int) {
	// Bybit V5: 0 = cross margin, 1 = isolated margin
	mode := 0
	if marginMode == domain.MarginIsolated {
		mode = 1
	}

	payload := map[string]interface{}{
		"category":     "linear",
		"symbol":       ToVenueSymbol(symbol),
		"tradeMode":    mode,
		"buyLeverage":  strconv.Itoa(leverage),
		"sellLeverage": strconv.Itoa(leverage),
	}

	// Fails when the mode is already set or a position exists; not fatal.
	if err := b.call(ctx, http.MethodPost, "/v5/position/switch-isolated", payload, nil); err != nil {
		b.logger.Debug("Margin mode not switched",
			zap.String("symbol", symbol),
			zap.String("margin_mode", marginMode),
			zap.Error(err))
	}
}

func (b *BybitAdapter) lotSize(ctx context.Context, symbol string) (lotSize, error) {
	venue := ToVenueSymbol(symbol)

	b.mu.Lock()
	lot, ok := b.lots[venue]
	b.mu.Unlock()
	if ok {
		return lot, nil
	}

	var result struct {
		List []struct {
			Symbol        string `json:"symbol"`
			LotSizeFilter struct {
				MinOrderQty string `json:"minOrderQty"`
				QtyStep     string `json:"qtyStep"`
			} `json:"lotSizeFilter"`
		} `json:"list"`
	}
	path := "/v5/market/instruments-info?category=linear&symbol=" + url.QueryEscape(venue)
	if err := b.call(ctx, http.MethodGet, path, nil, &result); err != nil {
		return lotSize{}, err
	}
	if len(result.List) == 0 {
		return lotSize{}, fmt.Errorf("symbol not found: %s", symbol)
	}

	filter := result.List[0].LotSizeFilter
	minQty, err := decimal.NewFromString(filter.MinOrderQty)
	if err != nil {
		return lotSize{}, fmt.Errorf("parse minOrderQty %q: %w", filter.MinOrderQty, err)
	}
	step, err := decimal.NewFromString(filter.QtyStep)
	if err != nil {
		step = decimal.Zero
	}
	lot = lotSize{minQty: minQty, qtyStep: step}

	b.mu.Lock()
	b.lots[venue] = lot
	b.mu.Unlock()
	return lot, nil
}

func (b *BybitAdapter) GetMinOrderSize(ctx context.Context, symbol string) (float64, error) {
	lot, err := b.lotSize(ctx, symbol)
	if err != nil {
		return 0, err
	}
	return lot.minQty.InexactFloat64(), nil
}

// formatQty rounds size down to the instrument's qty step.
func formatQty(size float64, step decimal.Decimal) string {
	qty := decimal.NewFromFloat(size)
	if step.IsPositive() {
		qty = qty.Div(step).Floor().Mul(step)
	}
	return qty.String()
}

func bybitSide(side domain.Side) string {
	if side == domain.SideShort {
		return "Sell"
	}
	return "Buy"
}

func (b *BybitAdapter) PlaceMarketOrder(ctx context.Context, symbol string, side domain.Side, size float64, opts domain.OrderOptions) (*domain.Order, error) {
	lot, err := b.lotSize(ctx, symbol)
	if err != nil {
		return nil, err
	}
	qty := formatQty(size, lot.qtyStep)
	if d, _ := decimal.NewFromString(qty); !d.IsPositive() {
		return nil, fmt.Errorf("order qty rounds to zero: %g (step %s)", size, lot.qtyStep)
	}

	if !opts.ReduceOnly && opts.MarginMode != "" {
		b.setMarginMode(ctx, symbol, opts.MarginMode, opts.Leverage)
	}

	return b.submitMarket(ctx, symbol, side, qty, opts)
}

func (b *BybitAdapter) submitMarket(ctx context.Context, symbol string, side domain.Side, qty string, opts domain.OrderOptions) (*domain.Order, error) {
	tif := opts.TimeInForce
	if tif == "" {
		tif = "IOC"
	}
	payload := map[string]interface{}{
		"category":    "linear",
		"symbol":      ToVenueSymbol(symbol),
		"side":        bybitSide(side),
		"orderType":   "Market",
		"qty":         qty,
		"timeInForce": tif,
		"orderLinkId": uuid.New().String(),
	}
	if opts.ReduceOnly {
		payload["reduceOnly"] = true
	}

	var result struct {
		OrderID     string `json:"orderId"`
		OrderLinkID string `json:"orderLinkId"`
	}
	if err := b.call(ctx, http.MethodPost, "/v5/order/create", payload, &result); err != nil {
		return nil, err
	}

	size, _ := strconv.ParseFloat(qty, 64)
	b.logger.Info("Bybit market order placed",
		zap.String("symbol", symbol),
		zap.String("side", string(side)),
		zap.String("qty", qty),
		zap.Bool("reduce_only", opts.ReduceOnly),
		zap.String("order_id", result.OrderID))

	return &domain.Order{
		ID:         result.OrderID,
		Exchange:   b.Name(),
		Symbol:     symbol,
		Side:       side,
		Size:       size,
		FilledSize: size,
		ReduceOnly: opts.ReduceOnly,
		CreatedAt:  time.Now(),
	}, nil
}

// bybitPosition is the position shape shared by REST and the private stream.
type bybitPosition struct {
	Symbol        string `json:"symbol"`
	Side          string `json:"side"`
	Size          string `json:"size"`
	AvgPrice      string `json:"avgPrice"`
	EntryPrice    string `json:"entryPrice"`
	MarkPrice     string `json:"markPrice"`
	UnrealisedPnl string `json:"unrealisedPnl"`
	Leverage      string `json:"leverage"`
	TradeMode     int    `json:"tradeMode"` // 0: cross margin, 1: isolated margin
}

func (raw bybitPosition) toDomain() *domain.Position {
	size, _ := strconv.ParseFloat(raw.Size, 64)
	entry, _ := strconv.ParseFloat(raw.AvgPrice, 64)
	if entry == 0 {
		entry, _ = strconv.ParseFloat(raw.EntryPrice, 64)
	}
	curr, _ := strconv.ParseFloat(raw.MarkPrice, 64)
	pnl, _ := strconv.ParseFloat(raw.UnrealisedPnl, 64)
	lev, _ := strconv.ParseFloat(raw.Leverage, 64)

	side := domain.SideLong
	if raw.Side == "Sell" {
		side = domain.SideShort
	}

	marginType := domain.MarginCross
	if raw.TradeMode == 1 {
		marginType = domain.MarginIsolated
	}

	return &domain.Position{
		Exchange:      "bybit",
		Symbol:        FromVenueSymbol(raw.Symbol),
		Side:          side,
		Size:          size,
		EntryPrice:    entry,
		CurrentPrice:  curr,
		UnrealizedPnL: pnl,
		Leverage:      int(lev),
		MarginType:    marginType,
	}
}

func (b *BybitAdapter) GetOpenPositions(ctx context.Context, symbols ...string) ([]*domain.Position, error) {
	var result struct {
		List []bybitPosition `json:"list"`
	}
	path := "/v5/position/list?category=linear&settleCoin=USDT"
	if len(symbols) == 1 {
		path = "/v5/position/list?category=linear&symbol=" + url.QueryEscape(ToVenueSymbol(symbols[0]))
	}
	if err := b.call(ctx, http.MethodGet, path, nil, &result); err != nil {
		return nil, err
	}

	wanted := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		wanted[FromVenueSymbol(ToVenueSymbol(s))] = true
	}

	positions := make([]*domain.Position, 0, len(result.List))
	for _, raw := range result.List {
		p := raw.toDomain()
		if p.Size <= 0 {
			continue
		}
		if len(wanted) > 0 && !wanted[p.Symbol] {
			continue
		}
		positions = append(positions, p)
	}
	return positions, nil
}

func (b *BybitAdapter) ClosePosition(ctx context.Context, symbol string) (*domain.Order, error) {
	// Get position to know size and side
	positions, err := b.GetOpenPositions(ctx, symbol)
	if err != nil {
		return nil, err
	}
	if len(positions) == 0 {
		return nil, nil
	}
	pos := positions[0]

	qty := decimal.NewFromFloat(pos.Size).String()
	return b.submitMarket(ctx, symbol, pos.Side.Opposite(), qty, domain.OrderOptions{
		TimeInForce: "IOC",
		ReduceOnly:  true,
	})
}
