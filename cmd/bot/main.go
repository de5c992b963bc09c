package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/vitos/crypto_martingale/internal/domain"
	"github.com/vitos/crypto_martingale/internal/infrastructure/exchange"
	"github.com/vitos/crypto_martingale/internal/infrastructure/logger"
	"github.com/vitos/crypto_martingale/internal/infrastructure/storage"
	"github.com/vitos/crypto_martingale/internal/usecase"
	"github.com/vitos/crypto_martingale/internal/web"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Exchanges []struct {
		Name         string `yaml:"name"`
		WSEndpoint   string `yaml:"ws_endpoint"`
		RESTEndpoint string `yaml:"rest_endpoint"`
		TimeoutMs    int    `yaml:"timeout_ms"`
	} `yaml:"exchanges"`
	Paper struct {
		Balance      float64 `yaml:"balance"`
		MinOrderSize float64 `yaml:"min_order_size"`
	} `yaml:"paper"`
	Engine struct {
		usecase.EngineConfig `yaml:",inline"`
		LossPollMs           int  `yaml:"loss_poll_ms"`
		PositionStream       bool `yaml:"position_stream"`
		StreamRetryMs        int  `yaml:"stream_retry_ms"`
	} `yaml:"engine"`
	Logging struct {
		Level     string `yaml:"level"`
		AuditFile string `yaml:"audit_file"`
	} `yaml:"logging"`
	Server struct {
		Port int `yaml:"port"`
	} `yaml:"server"`
	Storage struct {
		Path string `yaml:"path"`
	} `yaml:"storage"`
}

func loadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) exchangeConfig() exchange.Config {
	out := exchange.Config{
		PaperBalance: c.Paper.Balance,
		PaperMinSize: c.Paper.MinOrderSize,
	}
	for _, ex := range c.Exchanges {
		if ex.Name != exchange.NameBybit {
			continue
		}
		out.BybitBaseURL = ex.RESTEndpoint
		out.BybitWSURL = ex.WSEndpoint
		out.Timeout = time.Duration(ex.TimeoutMs) * time.Millisecond
	}
	return out
}

func main() {
	// 1. Load .env and config
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Printf("Failed to load .env: %v\n", err)
	}
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config/config.yaml"
	}
	cfg, err := loadConfig(cfgPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 2. Init Logger
	log, err := logger.NewFileLogger(cfg.Logging.AuditFile, cfg.Logging.Level)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// 3. Init Storage
	dbPath := cfg.Storage.Path
	if dbPath == "" {
		dbPath = "martingale.db"
	}
	store, err := storage.NewSQLiteStore(dbPath)
	if err != nil {
		log.Fatal("Failed to init sqlite", zap.Error(err))
	}
	defer store.Close()

	// 4. Init Services
	factory := exchange.NewFactory(cfg.exchangeConfig(), log)
	catalog := usecase.NewStrategyCatalog()
	sessions := usecase.NewSessionService(factory.New, catalog, store, store, usecase.SessionConfig{
		Engine:           cfg.Engine.EngineConfig,
		LossPollInterval: time.Duration(cfg.Engine.LossPollMs) * time.Millisecond,
		PositionStream:   cfg.Engine.PositionStream,
		StreamRetry:      time.Duration(cfg.Engine.StreamRetryMs) * time.Millisecond,
	}, log)
	defer sessions.Close()

	// 5. Optional account from environment
	if account := os.Getenv("MARTINGALE_ACCOUNT"); account != "" {
		creds := domain.Credentials{
			Exchange:  os.Getenv("MARTINGALE_EXCHANGE"),
			APIKey:    os.Getenv("BYBIT_API_KEY"),
			APISecret: os.Getenv("BYBIT_API_SECRET"),
			Testnet:   os.Getenv("BYBIT_TESTNET") == "true",
		}
		if creds.Exchange == "" {
			creds.Exchange = exchange.NameBybit
		}
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		if _, err := sessions.Connect(ctx, account, creds); err != nil {
			log.Error("Failed to connect account from environment", zap.String("account", account), zap.Error(err))
		}
		cancel()
	}

	// 6. Init Web Server
	port := cfg.Server.Port
	if port == 0 {
		port = 8080 // Default
	}
	server := web.NewServer(port, sessions, catalog, store, log)

	go func() {
		if err := server.Start(); err != nil {
			log.Fatal("Server failed", zap.Error(err))
		}
	}()

	// 7. Wait for Shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Info("Shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Error("Server shutdown failed", zap.Error(err))
	}
}
