package cmd

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hashjosh/meshauth/cmd/cmdutil"
	"github.com/hashjosh/meshauth/internal/auth"
	"github.com/hashjosh/meshauth/internal/middleware"
	"github.com/hashjosh/meshauth/internal/realtime"
	"github.com/hashjosh/meshauth/internal/server"
	"github.com/hashjosh/meshauth/internal/services/iam"
	"github.com/hashjosh/meshauth/internal/telemetry"
)

var realtimeCmd = &cobra.Command{
	Use:   "realtime",
	Short: "Start the realtime push gateway",
	Long: `Starts the websocket push gateway. Connections authenticate during the
handshake with a token in the Authorization header or the token query
parameter; connections without a valid token stay anonymous. Internal
services push to user queues through POST /internal/notifications.`,
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

		hub, err := realtime.NewHub(realtime.HubOptions{
			OfflineUsers: cfg.Realtime.OfflineBufferUsers,
			OfflineDepth: cfg.Realtime.OfflineBufferDepth,
			Logger:       log,
		})
		if err != nil {
			return fmt.Errorf("create hub: %w", err)
		}
		handler, err := realtime.NewHandler(realtime.HandlerOptions{
			Hub:            hub,
			Handshake:      realtime.NewHandshakeAuthenticator(codec),
			AllowedOrigins: cfg.Realtime.AllowedOrigins,
			PingInterval:   cfg.Realtime.PingInterval,
			Logger:         log,
		})
		if err != nil {
			return fmt.Errorf("create realtime handler: %w", err)
		}

		prefix := cfg.Gateway.RealtimePrefix
		if prefix == "" {
			prefix = "/ws"
		}

		// The push gateway owns no sessions: expired tokens are rejected, never renewed.
		authenticator := iam.NewRequestAuthenticator(codec, trust, nil, iam.WithAccessCookie(cfg.Auth.AccessCookieName))
		authn, err := middleware.NewAuthnMiddleware(middleware.AuthnDependencies{
			Authenticate: authenticator.Authenticate,
			Skipper:      auth.PublicPathSkipper(auth.NewPathSet([]string{"/healthz", prefix, prefix + "/**"})),
			Cookies:      middleware.CookieConfigFrom(cfg.Auth),
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

		if len(cfg.Realtime.AllowedOrigins) == 0 {
			log.Warn().Msg("realtime.allowed_origins is empty: cross-origin requests are served without credentials")
		}
		r := server.NewRouter(server.RouterOptions{
			Logger:         log,
			AllowedOrigins: cfg.Realtime.AllowedOrigins,
			TrustedProxies: cfg.TrustedProxies,
			Metrics:        serverMetrics,
			Middleware:     []func(http.Handler) http.Handler{authn, authz},
			Routes:         handler.Routes(prefix),
		})

		return listenAndServe(ctx, cfg.ServerAddr, r, log)
	},
}

func init() {
	rootCmd.AddCommand(realtimeCmd)
}
