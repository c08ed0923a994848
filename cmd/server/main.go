// Command server runs the proxified container proxy registry.
//
// Configuration is read from a YAML file (-config, PROXIFIED_CONFIG,
// ./config.yaml or /etc/proxified/config.yaml) and PROXIFIED_* environment
// variables. See pkg/config for the full list.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rhuss/proxified/pkg/auth"
	"github.com/rhuss/proxified/pkg/bootstrap"
	"github.com/rhuss/proxified/pkg/config"
	"github.com/rhuss/proxified/pkg/mcp"
	transporthttp "github.com/rhuss/proxified/pkg/transport/http"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	bootstrap.InitLogging(cfg.Logging)

	reg, backend, err := bootstrap.NewRegistry(context.Background(), cfg)
	if err != nil {
		return err
	}
	defer backend.Close()

	chain, err := bootstrap.NewAuthChain(cfg.Auth)
	if err != nil {
		return err
	}

	opts := []transporthttp.ServerOption{
		transporthttp.WithAddr(fmt.Sprintf(":%d", cfg.Server.Port)),
		transporthttp.WithMaxBodySize(cfg.Server.MaxBodySize),
		transporthttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout),
		transporthttp.WithShutdownTimeout(cfg.Server.ShutdownTimeout),
		transporthttp.WithLogger(slog.Default()),
		transporthttp.WithMiddleware(auth.Middleware(chain, bootstrap.NewRateLimiter(cfg.Auth.RateLimit), bootstrap.BypassEndpoints(cfg))),
	}

	if cfg.Observability.Metrics.Enabled {
		opts = append(opts, transporthttp.WithHandler("GET "+cfg.Observability.Metrics.Path, promhttp.Handler()))
		slog.Info("metrics enabled", "path", cfg.Observability.Metrics.Path)
	}
	if cfg.MCP.Enabled {
		opts = append(opts, transporthttp.WithHandler(cfg.MCP.Path, mcp.NewServer(reg, version).Handler()))
		slog.Info("mcp enabled", "path", cfg.MCP.Path)
	}

	slog.Info("registry ready",
		"version", version,
		"storage", cfg.Storage.Type,
		"key", reg.Key(),
		"auth", cfg.Auth.Type,
	)
	return transporthttp.NewServer(reg, opts...).ListenAndServe()
}
