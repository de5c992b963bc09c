package exchange

import (
	"fmt"
	"strings"
	"time"

	"github.com/vitos/crypto_martingale/internal/domain"
	"go.uber.org/zap"
)

const (
	NameBybit        = "bybit"
	NameBybitTestnet = "bybit-testnet"
	NamePaper        = "paper"
)

// Config holds gateway settings shared by every account.
type Config struct {
	Timeout      time.Duration `yaml:"timeout"`
	BybitBaseURL string        `yaml:"bybit_base_url"`
	BybitWSURL   string        `yaml:"bybit_ws_url"`
	PaperBalance float64       `yaml:"paper_balance"`
	PaperMinSize float64       `yaml:"paper_min_size"`
}

// Factory builds one gateway per set of credentials.
type Factory struct {
	cfg    Config
	logger *zap.Logger
}

func NewFactory(cfg Config, logger *zap.Logger) *Factory {
	if cfg.PaperBalance <= 0 {
		cfg.PaperBalance = 10000
	}
	if cfg.PaperMinSize <= 0 {
		cfg.PaperMinSize = 0.001
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Factory{cfg: cfg, logger: logger}
}

// New returns an unconnected gateway for creds.
func (f *Factory) New(creds domain.Credentials) (domain.Exchange, error) {
	name := strings.ToLower(strings.TrimSpace(creds.Exchange))
	if name == NameBybit && creds.Testnet {
		name = NameBybitTestnet
	}

	switch name {
	case NameBybit:
		return NewBybitAdapter(creds.APIKey, creds.APISecret, f.cfg.BybitBaseURL, f.cfg.BybitWSURL, f.cfg.Timeout,
			f.logger.With(zap.String("exchange", NameBybit))), nil
	case NameBybitTestnet:
		return NewBybitAdapter(creds.APIKey, creds.APISecret, BybitTestnetBaseURL, BybitTestnetWSURL, f.cfg.Timeout,
			f.logger.With(zap.String("exchange", NameBybitTestnet))), nil
	case NamePaper:
		return NewPaperExchange(f.cfg.PaperBalance, f.cfg.PaperMinSize,
			f.logger.With(zap.String("exchange", NamePaper))), nil
	default:
		return nil, fmt.Errorf("%w: %q", domain.ErrUnsupportedExchange, creds.Exchange)
	}
}
