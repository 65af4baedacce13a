// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 RealmGate Contributors

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/realmgate/realmgate/internal/auth"
	"github.com/realmgate/realmgate/internal/auth/postgres"
	"github.com/realmgate/realmgate/internal/config"
	"github.com/realmgate/realmgate/internal/front"
	"github.com/realmgate/realmgate/internal/gate"
	"github.com/realmgate/realmgate/internal/logging"
	"github.com/realmgate/realmgate/internal/observability"
	"github.com/realmgate/realmgate/internal/store"
	"github.com/realmgate/realmgate/internal/xdg"
)

// newServeCmd creates the serve subcommand. Flags mirror config keys so
// they merge over the config file; unchanged flags fall back to the same
// defaults the file layer uses.
func newServeCmd() *cobra.Command {
	def := config.Default()

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the authentication server",
		Long: `Start the authentication server: the client-facing auth listener,
the PostgreSQL-backed account store, and the metrics/health endpoints.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), cmd)
		},
	}

	flags := cmd.Flags()
	flags.String("server.listen_addr", def.Server.ListenAddr, "auth listen address")
	flags.String("server.metrics_addr", def.Server.MetricsAddr, "metrics/health HTTP address (empty = disabled)")
	flags.String("server.log_format", def.Server.LogFormat, "log format (json or text)")
	flags.String("server.log_level", def.Server.LogLevel, "log level (debug, info, warn, error)")
	flags.String("database.url", "", "PostgreSQL connection string")

	return cmd
}

func runServe(ctx context.Context, cmd *cobra.Command) error {
	cfg, err := config.Load(resolveConfigPath(), cmd.Flags())
	if err != nil {
		return err
	}

	logging.SetDefault("realmgate", version, cfg.Server.LogFormat, cfg.Server.LogLevel)
	logger := slog.Default()

	logger.Info("starting auth server",
		"listen_addr", cfg.Server.ListenAddr,
		"metrics_addr", cfg.Server.MetricsAddr,
		"gateways", len(cfg.Gateways),
	)

	selector, err := gate.NewSelector(cfg.GateEndpoints())
	if err != nil {
		return err
	}

	pool, err := store.Connect(ctx, cfg.Database.URL, cfg.Database.ConnectAttempts)
	if err != nil {
		return err
	}
	defer pool.Close()

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	service, err := auth.NewServiceWithLogger(
		postgres.NewAccountRepository(pool),
		auth.NewArgon2idHasher(),
		selector,
		auth.ServiceConfig{
			ExistenceTTL:      cfg.Auth.ExistenceTTL(),
			LoginTTL:          cfg.Auth.LoginTTL(),
			ReservedUsernames: cfg.Auth.ReservedUsernames,
		},
		logger,
	)
	if err != nil {
		return err
	}
	defer service.Close()

	// The readiness closure captures frontSrv; the observability server is
	// started only after the assignment below, so the probe goroutine never
	// observes a partially built server.
	var frontSrv *front.Server

	var obsServer *observability.Server
	var connMetrics *observability.Metrics
	if cfg.Server.MetricsAddr != "" {
		obsServer = observability.NewServer(cfg.Server.MetricsAddr, func() bool {
			return frontSrv.Addr() != ""
		})
		connMetrics = obsServer.Metrics()
		service.SetMetrics(auth.NewMetrics(obsServer.Registry()))
	}

	frontSrv, err = front.NewServer(front.ServerConfig{
		Addr:               cfg.Server.ListenAddr,
		MinRequestInterval: cfg.Auth.MinRequestInterval(),
		IdleTimeout:        cfg.Auth.IdleSessionTimeout(),
	}, service, logger, connMetrics)
	if err != nil {
		return err
	}

	if obsServer != nil {
		obsErrCh, obsErr := obsServer.Start()
		if obsErr != nil {
			return obsErr
		}
		go func() {
			if serveErr := <-obsErrCh; serveErr != nil {
				logger.Error("observability server failed", "error", serveErr)
			}
		}()
	}

	runErr := frontSrv.Run(ctx)

	if obsServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if stopErr := obsServer.Stop(shutdownCtx); stopErr != nil {
			logger.Warn("error stopping observability server", "error", stopErr)
		}
	}

	logger.Info("shutdown complete")
	return runErr
}

// resolveConfigPath returns the --config value, or the XDG default when the
// file exists, or "" for compiled-in defaults only.
func resolveConfigPath() string {
	if configFile != "" {
		return configFile
	}
	def := xdg.DefaultConfigFile()
	if _, err := os.Stat(def); err == nil {
		return def
	}
	return ""
}
