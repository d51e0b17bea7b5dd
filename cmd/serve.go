package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/hashjosh/meshauth/cmd/cmdutil"
	"github.com/hashjosh/meshauth/internal/auth"
	"github.com/hashjosh/meshauth/internal/middleware"
	"github.com/hashjosh/meshauth/internal/server"
	"github.com/hashjosh/meshauth/internal/telemetry"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start an identity service",
	Long: `Starts a service of the mesh with the request authenticator, in-band
session renewal and the auth API mounted under /api/v1/{service}/auth.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.ValidateSigning(); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		shutdownTelemetry, err := telemetry.Init(ctx, cfg.Observability, log)
		if err != nil {
			return fmt.Errorf("failed to initialize telemetry: %w", err)
		}
		defer flushTelemetry(shutdownTelemetry)

		authMetrics, serverMetrics, err := newMetrics()
		if err != nil {
			return err
		}

		bundle, err := cmdutil.NewIAMServiceBundle(cfg, log, cmdutil.IAMServiceOptions{
			EnrichOnRenewal: true,
			Metrics:         authMetrics,
		})
		if err != nil {
			return err
		}
		defer bundle.Close()
		svc := bundle.Service

		log.Info().
			Int("trusted_services", bundle.Trust.Len()).
			Str("service", cfg.ServiceName).
			Msg("identity service initialized")

		cookies := middleware.CookieConfigFrom(cfg.Auth)
		authn, err := middleware.NewAuthnMiddleware(middleware.AuthnDependencies{
			Authenticate: svc.AuthenticateRequest,
			Skipper:      auth.PublicPathSkipper(auth.NewPathSet(cfg.Auth.PublicPaths)),
			Cookies:      cookies,
			Metrics:      authMetrics,
			Logger:       log,
		})
		if err != nil {
			return fmt.Errorf("configure authentication middleware: %w", err)
		}

		enforcer, err := auth.NewAuthorityEnforcer(cfg.Authz.Policies)
		if err != nil {
			return fmt.Errorf("configure authority policies: %w", err)
		}
		authz, err := middleware.NewAuthzMiddleware(middleware.AuthzDependencies{Enforcer: enforcer, Logger: log})
		if err != nil {
			return fmt.Errorf("configure authorization middleware: %w", err)
		}

		r := server.NewRouter(server.RouterOptions{
			Logger:         log,
			AllowedOrigins: cfg.Gateway.AllowedOrigins,
			TrustedProxies: cfg.TrustedProxies,
			Metrics:        serverMetrics,
			Middleware:     []func(http.Handler) http.Handler{authn, authz},
			Routes:         server.AuthRoutes(cfg.ServiceName, svc, cookies),
		})

		go svc.RunSessionSweeper(ctx, cfg.Auth.SweepInterval)

		return listenAndServe(ctx, cfg.ServerAddr, server.NewH2CHandler(r), log)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func newMetrics() (*telemetry.AuthMetrics, *telemetry.ServerMetrics, error) {
	authMetrics, err := telemetry.NewAuthMetrics()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create auth metrics: %w", err)
	}
	serverMetrics, err := telemetry.NewServerMetrics()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create server metrics: %w", err)
	}
	return authMetrics, serverMetrics, nil
}

func flushTelemetry(shutdown func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("telemetry shutdown failed")
	}
}

// listenAndServe runs handler on addr until ctx is cancelled, then shuts down gracefully.
func listenAndServe(ctx context.Context, addr string, handler http.Handler, log zerolog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("starting server")
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)

	case <-ctx.Done():
		log.Info().Msg("shutting down gracefully")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			_ = srv.Close()
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}

		log.Info().Msg("server stopped")
		return nil
	}
}
