package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/clawrouter/clawrouter-proxy/internal/balance"
	"github.com/clawrouter/clawrouter-proxy/internal/catalog"
	"github.com/clawrouter/clawrouter-proxy/internal/circuitbreaker"
	"github.com/clawrouter/clawrouter-proxy/internal/config"
	"github.com/clawrouter/clawrouter-proxy/internal/dedup"
	"github.com/clawrouter/clawrouter-proxy/internal/forwarder"
	"github.com/clawrouter/clawrouter-proxy/internal/httpserver"
	"github.com/clawrouter/clawrouter-proxy/internal/payment"
	"github.com/clawrouter/clawrouter-proxy/internal/payment/signer"
	"github.com/clawrouter/clawrouter-proxy/internal/router"
	"github.com/clawrouter/clawrouter-proxy/internal/telemetry"
	"github.com/clawrouter/clawrouter-proxy/internal/worker"
)

const (
	dedupMaxEntries   = 4096
	dedupReplayTTL    = 30 * time.Second
	shutdownTimeout   = 10 * time.Second
	tracingSampleRate = 0.1
)

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	disabled := config.Disabled(os.Getenv("CLAWROUTER_DISABLED"))
	port := httpserver.ResolvePort(os.Getenv("PROXY_PORT"))

	wallet, err := signer.NewWallet(os.Getenv("WALLET_KEY"))
	if err != nil {
		return fmt.Errorf("wallet key: %w", err)
	}
	slog.Info("wallet loaded", "address", wallet.Address())

	baseURL := os.Getenv("AGGREGATOR_BASE_URL")
	if baseURL == "" {
		return errors.New("AGGREGATOR_BASE_URL must be set")
	}

	ctx := context.Background()

	// Prometheus metrics.
	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	promRegistry.MustRegister(collectors.NewGoCollector())
	metrics := telemetry.NewMetrics(promRegistry)
	var metricsHandler http.Handler = promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{})

	// OpenTelemetry tracing, opt-in via OTEL_EXPORTER_OTLP_ENDPOINT.
	var tracer trace.Tracer
	var tracingShutdown func(context.Context) error
	if endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); endpoint != "" {
		shutdown, terr := telemetry.SetupTracing(ctx, endpoint, tracingSampleRate)
		if terr != nil {
			slog.Warn("tracing setup failed, continuing without tracing", "error", terr)
		} else {
			tracingShutdown = shutdown
			tracer = telemetry.Tracer("clawrouter-proxy")
			slog.Info("opentelemetry tracing enabled", "endpoint", endpoint)
		}
	}

	cat := catalog.New(catalog.DefaultModels(), catalog.DefaultAliases(), cfg.CatalogConfig())
	rt := router.New(cat, cfg.RouterConfig())

	paymentCfg := payment.DefaultConfig()
	paymentCfg.Tracer = tracer
	paymentEngine, err := payment.New(wallet, paymentCfg)
	if err != nil {
		return fmt.Errorf("payment engine: %w", err)
	}

	breakers := circuitbreaker.NewRegistry(circuitbreaker.DefaultConfig())

	forwarderCfg := forwarder.DefaultConfig()
	forwarderCfg.Tracer = tracer
	forwarderCfg.Metrics = metrics
	fwd, err := forwarder.New(baseURL, paymentEngine, breakers, forwarderCfg)
	if err != nil {
		return fmt.Errorf("forwarder: %w", err)
	}

	dedupCache := dedup.New(dedupMaxEntries, dedupReplayTTL)
	reaper := dedup.NewReaper(dedupCache, 0)

	workers := []worker.Worker{reaper}

	var walletChecker httpserver.WalletChecker
	if rpcURL := os.Getenv("WALLET_RPC_URL"); rpcURL != "" {
		assetAddr := os.Getenv("WALLET_ASSET_ADDRESS")
		if assetAddr == "" {
			return errors.New("WALLET_ASSET_ADDRESS must be set when WALLET_RPC_URL is set")
		}
		checker, cerr := balance.NewERC20Checker(rpcURL, common.HexToAddress(assetAddr), common.HexToAddress(wallet.Address()))
		if cerr != nil {
			return fmt.Errorf("balance checker: %w", cerr)
		}
		threshold := big.NewInt(0)
		if raw := os.Getenv("WALLET_MIN_BALANCE"); raw != "" {
			if parsed, ok := new(big.Int).SetString(raw, 10); ok {
				threshold = parsed
			}
		}
		monitor := balance.NewMonitor(checker, threshold, 0)
		walletChecker = monitor
		workers = append(workers, monitor)
		slog.Info("balance monitor enabled", "rpc_url", rpcURL, "asset", assetAddr)
	} else {
		slog.Info("balance monitor disabled (WALLET_RPC_URL unset)")
	}

	runner := worker.NewRunner(workers...)
	workerCtx, workerCancel := context.WithCancel(ctx)
	workerDone := make(chan error, 1)
	go func() { workerDone <- runner.Run(workerCtx) }()

	deps := httpserver.Deps{
		Router:         rt,
		Catalog:        cat,
		Forwarder:      fwd,
		Dedup:          dedupCache,
		Wallet:         walletChecker,
		WalletAddress:  wallet.Address(),
		Metrics:        metrics,
		MetricsHandler: metricsHandler,
	}

	if disabled {
		slog.Warn("clawrouter disabled via CLAWROUTER_DISABLED: registering but not intercepting")
		deps.Disabled = true
	}

	handle, err := httpserver.Start(port, deps)
	if err != nil {
		workerCancel()
		<-workerDone
		return fmt.Errorf("start proxy: %w", err)
	}

	slog.Info("clawrouter ready", "addr", handle.BaseURL, "wallet", handle.WalletAddress)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigCh
	slog.Info("shutting down", "signal", sig)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := handle.Close(); err != nil {
		slog.Error("proxy shutdown error", "error", err)
	}

	workerCancel()
	if err := <-workerDone; err != nil {
		slog.Error("worker shutdown error", "error", err)
	}

	if tracingShutdown != nil {
		if err := tracingShutdown(shutdownCtx); err != nil {
			slog.Error("tracing shutdown error", "error", err)
		}
	}

	slog.Info("clawrouter stopped")
	return nil
}
