// Package serve runs a registry node behind the HTTP relay.
package serve

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/gezibash/arc-provenance/internal/config"
	"github.com/gezibash/arc-provenance/internal/node"
	"github.com/gezibash/arc-provenance/internal/observability"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Version is reported by /v1/status.
var Version = "dev"

const shutdownTimeout = 15 * time.Second

func Entrypoint(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a registry node and its HTTP relay",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, v)
		},
	}
	config.BindServeFlags(cmd, v)
	return cmd
}

func run(cmd *cobra.Command, v *viper.Viper) error {
	configFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(v, configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx := cmd.Context()
	obs, err := observability.New(ctx, observability.ObsConfig{
		LogLevel:       cfg.Observability.LogLevel,
		LogFormat:      cfg.Observability.LogFormat,
		OTLPEndpoint:   cfg.Observability.OTLPEndpoint,
		OTLPProtocol:   cfg.Observability.OTLPProtocol,
		ServiceName:    cfg.Observability.ServiceName,
		ServiceVersion: cfg.Observability.ServiceVersion,
	}, os.Stderr)
	if err != nil {
		return fmt.Errorf("init observability: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := obs.Close(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
	}()

	n, err := node.New(ctx, cfg, obs, Version)
	if err != nil {
		return err
	}

	if cfg.Observability.MetricsAddr != "" {
		obs.ServeMetrics(ctx, cfg.Observability.MetricsAddr, n.Ready)
	}

	ln, err := net.Listen("tcp", cfg.HTTP.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.HTTP.Addr, err)
	}
	srv := &http.Server{
		Handler:           n.Relay,
		ReadHeaderTimeout: cfg.HTTP.ReadTimeout,
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	obs.Shutdown.Register("http-server", srv.Shutdown)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("serving", "addr", ln.Addr().String(), "metrics", cfg.Observability.MetricsAddr, "backend", cfg.Storage.Backend)
		errCh <- srv.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received")
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
