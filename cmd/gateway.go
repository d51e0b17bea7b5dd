package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/cobra"

	"github.com/hashjosh/meshauth/cmd/cmdutil"
	"github.com/hashjosh/meshauth/internal/gateway"
	"github.com/hashjosh/meshauth/internal/server"
	"github.com/hashjosh/meshauth/internal/telemetry"
)

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Start the edge gateway",
	Long: `Starts the edge router. It verifies access tokens, replaces client-supplied
identity headers with verified ones, and proxies to the service owning the
path prefix. Expired tokens sent with a refresh token are forwarded untouched
so the owning service can renew the session.`,
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

		codec, trust, err := cmdutil.NewCodecAndTrust(cfg)
		if err != nil {
			return err
		}

		gw, err := gateway.New(gateway.Options{
			Config:       cfg.Gateway,
			AccessCookie: cfg.Auth.AccessCookieName,
			Codec:        codec,
			Trust:        trust,
			Metrics:      authMetrics,
			Logger:       log,
		})
		if err != nil {
			return fmt.Errorf("configure gateway: %w", err)
		}
		for _, route := range cfg.Gateway.Routes {
			log.Info().Str("prefix", route.Prefix).Str("upstream", route.Upstream).Msg("route registered")
		}

		r := server.NewRouter(server.RouterOptions{
			Logger:         log,
			AllowedOrigins: cfg.Gateway.AllowedOrigins,
			TrustedProxies: cfg.TrustedProxies,
			Metrics:        serverMetrics,
			Routes: func(r chi.Router) {
				r.Handle("/*", gw)
			},
		})

		return listenAndServe(ctx, cfg.ServerAddr, server.NewH2CHandler(r), log)
	},
}

func init() {
	rootCmd.AddCommand(gatewayCmd)
}
