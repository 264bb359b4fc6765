package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/betbot/unitrade/internal/api"
	"github.com/betbot/unitrade/internal/credstore"
	"github.com/betbot/unitrade/internal/dispatch"
	"github.com/betbot/unitrade/internal/domain"
	"github.com/betbot/unitrade/internal/exchange"
	"github.com/betbot/unitrade/internal/exchange/binance"
	"github.com/betbot/unitrade/internal/exchange/bitget"
	"github.com/betbot/unitrade/internal/exchange/blofin"
	"github.com/betbot/unitrade/internal/exchange/gateio"
	"github.com/betbot/unitrade/internal/exchange/mexc"
	"github.com/betbot/unitrade/internal/journal"
	"github.com/betbot/unitrade/internal/metrics"
	"github.com/betbot/unitrade/internal/risk"
	"github.com/betbot/unitrade/internal/sizing"
	"github.com/betbot/unitrade/internal/vault"
	"github.com/betbot/unitrade/pkg/config"
	"github.com/betbot/unitrade/pkg/logger"
	"github.com/betbot/unitrade/pkg/ratelimit"
	"github.com/betbot/unitrade/pkg/secretstore"
	"github.com/betbot/unitrade/pkg/shutdown"
)

// 加密凭证在内存中的缓存时间，轮换时主动失效
const credentialCacheTTL = 30 * time.Second

func main() {
	// Load .env (best-effort). If missing, fall back to real env vars.
	_ = godotenv.Load()

	configPath := flag.String("config", os.Getenv("UNITRADE_CONFIG"), "config file (.yaml/.yml/.json)")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := logger.Init(logger.Config{
		Level:      cfg.Log.Level,
		OutputFile: cfg.Log.File,
		MaxSize:    cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	}); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	v, err := vault.NewFromString(cfg.Vault.MasterKey)
	if err != nil {
		return fmt.Errorf("init vault: %w", err)
	}

	badgerKey, err := secretstore.ParseKey(cfg.Storage.BadgerKey)
	if err != nil {
		return fmt.Errorf("parse badger key: %w", err)
	}
	if badgerKey == nil {
		logger.Warn("storage.badger_key 未配置，凭证库只依赖 vault 加密")
	}
	kv, err := secretstore.Open(secretstore.OpenOptions{Path: cfg.Storage.BadgerPath, EncryptionKey: badgerKey})
	if err != nil {
		return fmt.Errorf("open credential store: %w", err)
	}
	creds := credstore.New(kv, credstore.WithCache(credentialCacheTTL))

	j, err := journal.Open(cfg.Storage.SQLitePath)
	if err != nil {
		_ = kv.Close()
		return fmt.Errorf("open journal: %w", err)
	}

	m := metrics.New()
	breakers := risk.NewBreakers(risk.CircuitBreakerConfig{
		MaxConsecutiveErrors: int64(cfg.Breaker.MaxConsecutiveErrors),
		Cooldown:             cfg.Breaker.Cooldown,
	})
	adapters, minSizes := buildAdapters(cfg)

	coord, err := dispatch.New(dispatch.Options{
		Registry:      exchange.NewRegistry(adapters...),
		Vault:         v,
		Sizer:         sizing.NewEngine(sizing.Policy{Version: cfg.Sizing.PolicyVersion, MacroMultipliers: cfg.Sizing.MacroMultipliers, DefaultRiskLiqMultiplier: cfg.Sizing.DefaultRiskLiqMultiplier}),
		Credentials:   creds,
		Capital:       j,
		Journal:       j,
		Breakers:      breakers,
		Metrics:       m,
		MinOrderSize:  minSizes,
		SubmitTimeout: cfg.SubmitTimeout,
	})
	if err != nil {
		return err
	}

	apiSrv, err := api.New(api.Config{
		Dispatcher:  coord,
		Vault:       v,
		Credentials: creds,
		Balances:    j,
		Breakers:    breakers,
		Metrics:     m.Handler(),
		Health:      []api.Pinger{j},
		AdminToken:  cfg.Server.AdminToken,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	if cfg.Server.DebugAddr != "" {
		if _, err := metrics.StartAsync(ctx, cfg.Server.DebugAddr, m); err != nil {
			logger.Warnf("debug server: %v", err)
		}
	}

	httpSrv := &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           apiSrv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	sm := shutdown.NewManager()
	sm.OnShutdown("journal", func(context.Context) error { return j.Close() })
	sm.OnShutdown("credstore", func(context.Context) error {
		creds.Close()
		return kv.Close()
	})
	sm.OnShutdown("http", httpSrv.Shutdown)

	serveErr := make(chan error, 1)
	go func() {
		logger.Infof("unitrade listening on %s (%d exchanges)", cfg.Server.Listen, len(adapters))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			logger.Errorf("http server error: %v", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	err = sm.Shutdown(shutdownCtx)
	logger.Info("server stopped")
	return err
}

// buildAdapters 按配置构造五个交易所适配器，共享一个限速管理器
func buildAdapters(cfg *config.Config) ([]exchange.Adapter, map[domain.Exchange]float64) {
	limiter := ratelimit.NewManager()
	adapters := make([]exchange.Adapter, 0, len(config.Exchanges))
	minSizes := make(map[domain.Exchange]float64, len(config.Exchanges))

	for _, name := range config.Exchanges {
		ec := cfg.Exchanges[name]
		if ec.OrdersPerSecond > 0 {
			limiter.Set(name+":order", ratelimit.NewTokenBucket(ec.OrdersPerSecond, ec.OrdersPerSecond, time.Second))
		}
		xc := exchange.Config{
			BaseURL:    ec.BaseURL,
			RecvWindow: ec.RecvWindow(),
			Timeout:    ec.Timeout(),
			Limiter:    limiter,
		}
		ex, _ := domain.ParseExchange(name)
		minSizes[ex] = ec.MinOrderSizeUSD

		switch ex {
		case domain.ExchangeBinance:
			adapters = append(adapters, binance.New(xc))
		case domain.ExchangeBitget:
			adapters = append(adapters, bitget.New(xc))
		case domain.ExchangeGateIO:
			adapters = append(adapters, gateio.New(xc))
		case domain.ExchangeMEXC:
			adapters = append(adapters, mexc.New(xc))
		case domain.ExchangeBlofin:
			adapters = append(adapters, blofin.New(xc))
		}
	}
	return adapters, minSizes
}
