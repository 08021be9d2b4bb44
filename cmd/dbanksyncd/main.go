package main

import (
	"DbankSync/internal/engine"
	"DbankSync/internal/gateway"
	"DbankSync/internal/observability"
	"DbankSync/internal/server"
	"context"
	"fmt"
	"log"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Config holds all application configuration, loaded from environment
// variables.
type Config struct {
	// Node
	NodeURL      string
	ChainID      int64
	BankAddress  string
	TokenAddress string

	// Signing key for the tracked account
	PrivateKey string

	// HTTP/Metrics
	HTTPAddr    string
	MetricsAddr string

	// Bring-up deadline for network check + snapshot
	StartTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		NodeURL:      envOrDefault("DBANK_NODE_URL", "ws://localhost:8545"),
		ChainID:      int64(envIntOrDefault("DBANK_CHAIN_ID", 1337)),
		BankAddress:  envOrDefault("DBANK_BANK_ADDRESS", ""),
		TokenAddress: envOrDefault("DBANK_TOKEN_ADDRESS", ""),
		PrivateKey:   envOrDefault("DBANK_PRIVATE_KEY", ""),
		HTTPAddr:     envOrDefault("DBANK_HTTP_ADDR", ":8080"),
		MetricsAddr:  envOrDefault("DBANK_METRICS_ADDR", ":9091"),
		StartTimeout: time.Duration(envIntOrDefault("DBANK_START_TIMEOUT_SEC", 30)) * time.Second,
	}
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("INFO: DbankSync starting...")

	cfg := DefaultConfig()
	if cfg.BankAddress == "" || cfg.TokenAddress == "" {
		log.Fatal("FATAL: DBANK_BANK_ADDRESS and DBANK_TOKEN_ADDRESS are required")
	}
	if cfg.PrivateKey == "" {
		log.Fatal("FATAL: DBANK_PRIVATE_KEY is required")
	}

	// --- Context with graceful shutdown ---
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// --- Observability ---
	logger := observability.NewLogger("main")
	metrics := observability.NewMetrics()
	healthChecker := observability.NewHealthChecker()

	// --- Node connection ---
	dialCtx, dialCancel := context.WithTimeout(ctx, cfg.StartTimeout)
	client, err := gateway.Dial(dialCtx, cfg.NodeURL)
	dialCancel()
	if err != nil {
		log.Fatalf("FATAL: node dial: %v", err)
	}
	log.Printf("INFO: node connected at %s", cfg.NodeURL)

	signer, err := gateway.NewKeySigner(cfg.PrivateKey)
	if err != nil {
		log.Fatalf("FATAL: load signing key: %v", err)
	}

	gw := gateway.New(
		client,
		signer,
		gateway.MustParseAddress(cfg.BankAddress),
		gateway.MustParseAddress(cfg.TokenAddress),
		big.NewInt(cfg.ChainID),
		logger,
		metrics,
	)

	// --- Engine: network check, snapshot, subscribe ---
	eng := engine.New(gw, logger, metrics, healthChecker)

	startCtx, startCancel := context.WithTimeout(ctx, cfg.StartTimeout)
	err = eng.Start(startCtx)
	startCancel()
	if err != nil {
		log.Fatalf("FATAL: engine start: %v", err)
	}
	defer eng.Close()
	log.Printf("INFO: tracking account %s from height %d",
		gw.Accounts()[0].Hex(), eng.LastProcessedHeight())

	errChan := make(chan error, 4)

	// --- HTTP API ---
	apiServer := server.New(eng, healthChecker, logger, metrics)
	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: apiServer.Router(),
	}
	go func() {
		log.Printf("INFO: HTTP API listening on %s", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("http server: %w", err)
		}
	}()

	// --- Prometheus metrics server ---
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: metricsMux,
	}
	go func() {
		log.Printf("INFO: Metrics server listening on %s/metrics", cfg.MetricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("metrics server: %w", err)
		}
	}()

	log.Printf("INFO: DbankSync ready (http=%s, metrics=%s)", cfg.HTTPAddr, cfg.MetricsAddr)

	// --- Wait for shutdown signal ---
	select {
	case sig := <-sigChan:
		log.Printf("INFO: received signal %s, shutting down...", sig)
	case err := <-errChan:
		log.Printf("ERROR: goroutine failed: %v, shutting down...", err)
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("WARN: http shutdown: %v", err)
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("WARN: metrics shutdown: %v", err)
	}

	eng.Close()
	client.Close()

	log.Println("INFO: DbankSync shutdown complete")
}

// --- Helpers ---

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envIntOrDefault(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var i int
	if _, err := fmt.Sscanf(v, "%d", &i); err != nil {
		return defaultVal
	}
	return i
}
