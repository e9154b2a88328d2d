package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"gaslane/config"
	"gaslane/gateway"
	"gaslane/gateway/middleware"
	"gaslane/native/paymaster"
	"gaslane/observability"
	"gaslane/observability/logging"
	"gaslane/observability/otel"
	"gaslane/storage"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "./config.toml", "path to the gaslaned configuration file")
	flag.Parse()

	logger := logging.Setup("gaslaned", os.Getenv("GASLANE_ENV"))

	if err := run(configPath, logger); err != nil {
		logger.Error("gaslaned exited", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(configPath string, logger *slog.Logger) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Telemetry.Enabled {
		shutdown, err := otel.Init(ctx, otel.Config{
			ServiceName: "gaslaned",
			Environment: os.Getenv("GASLANE_ENV"),
			Endpoint:    cfg.Telemetry.Endpoint,
			Insecure:    cfg.Telemetry.Insecure,
			Headers:     otel.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS")),
			Metrics:     true,
			Traces:      true,
		})
		if err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				logger.Warn("telemetry shutdown failed", slog.Any("error", err))
			}
		}()
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return err
	}
	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "ledger"))
	if err != nil {
		return err
	}
	defer db.Close()

	journal, err := storage.NewSettlementJournal(cfg.JournalPath)
	if err != nil {
		return err
	}
	defer journal.Close()

	ledger := paymaster.NewLedger(storage.NewSponsorStore(db), storage.NewCustodyStore(db))
	engine := paymaster.NewEngine(ledger, cfg.ChainIDBig(), cfg.Paymaster(), cfg.Owner(), cfg.Authority())
	engine.SetJournal(journal)
	if cfg.PostOpGasUnits > 0 {
		engine.SetPostOpGasUnits(cfg.PostOpGasUnits)
	}

	emitter := observability.NewLogEmitter(logger)
	ledger.SetEmitter(emitter)
	engine.SetEmitter(emitter)

	if pending, err := journal.Pending(); err == nil && pending > 0 {
		logger.Warn("unsettled contexts carried over from previous run", slog.Int("pending", pending))
	}

	secret := os.Getenv(cfg.Gateway.JWTSecretEnv)
	authEnabled := secret != "" && !cfg.Gateway.AllowUnauthorized
	if !authEnabled {
		logger.Warn("gateway authentication disabled", slog.String("secretEnv", cfg.Gateway.JWTSecretEnv))
	}
	auth := middleware.NewAuthenticator(middleware.AuthConfig{
		Enabled:    authEnabled,
		HMACSecret: secret,
		Issuer:     cfg.Gateway.Issuer,
		Audience:   cfg.Gateway.Audience,
	}, logger)
	limiter := middleware.NewRateLimiter(middleware.RateLimit{
		RequestsPerMinute: cfg.Gateway.RequestsPerMinute,
		Burst:             cfg.Gateway.Burst,
	})
	obs := middleware.NewObservability(middleware.ObservabilityConfig{
		ServiceName: "gaslaned",
		LogRequests: true,
	}, logger)

	_, handler, err := gateway.NewServer(gateway.Config{
		Engine:        engine,
		Logger:        logger,
		Authenticator: auth,
		RateLimiter:   limiter,
		Observability: obs,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("gateway listening",
			slog.String("address", cfg.ListenAddress),
			slog.Uint64("chainId", cfg.ChainID),
			slog.String("paymaster", cfg.Paymaster().Hex()),
			slog.String("authority", cfg.Authority().Hex()),
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}
