package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/oysterprotocol/x402-gateway/internal/config"
	"github.com/oysterprotocol/x402-gateway/internal/gateway"
	"github.com/oysterprotocol/x402-gateway/internal/logging"
	"github.com/oysterprotocol/x402-gateway/internal/network"
	"github.com/oysterprotocol/x402-gateway/internal/signingkey"
	"github.com/oysterprotocol/x402-gateway/internal/telemetry"
)

var (
	configPath string
	debug      bool
	addr       string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Load the configuration and start the gateway",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&configPath, "config", envOr("CONFIG_PATH", "config.json"), "path to the gateway config file")
	serveCmd.Flags().BoolVar(&debug, "debug", false, "enable development-profile logging")
	serveCmd.Flags().StringVar(&addr, "addr", "", "listen address, overriding gateway_port from the config file")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func runServe(cmd *cobra.Command, args []string) error {
	logger, err := logging.New(debug)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	for _, p := range cfg.OverlappingRoutes() {
		logger.Warn("route configured as both free and protected; free wins", zap.String("path", p))
	}

	identity, err := signingkey.Load()
	if err != nil {
		return fmt.Errorf("failed to acquire signing identity: %w", err)
	}
	logger.Info("acquired signing identity", zap.String("compressed_pubkey", fmt.Sprintf("%x", identity.CompressedPublicKey())))

	registry, err := network.New(cfg.Networks)
	if err != nil {
		return fmt.Errorf("failed to build network registry: %w", err)
	}
	for _, n := range cfg.Networks {
		logger.Info("configured network", zap.String("network", n.Network), zap.String("address", n.PaymentAddress), zap.String("chain_type", n.Type))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:     os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") != "",
		ExporterURL: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		ServiceName: "x402-gateway",
	})
	if err != nil {
		return fmt.Errorf("failed to init telemetry: %w", err)
	}
	defer shutdownTelemetry()

	gw := gateway.New(cfg, registry, identity, logger)

	listenAddr := addr
	if listenAddr == "" {
		listenAddr = fmt.Sprintf(":%d", cfg.GatewayPort)
	}

	srv := &http.Server{
		Addr:    listenAddr,
		Handler: gw.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("x402 gateway started", zap.String("addr", srv.Addr), zap.String("target_api", cfg.TargetAPIURL), zap.String("facilitator", cfg.FacilitatorURL))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	return srv.Shutdown(shutdownCtx)
}
