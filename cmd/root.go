package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hashjosh/meshauth/cmd/cmdutil"
	"github.com/hashjosh/meshauth/cmd/sessions"
	"github.com/hashjosh/meshauth/cmd/users"
	"github.com/hashjosh/meshauth/internal/config"
	"github.com/hashjosh/meshauth/internal/logger"
)

var (
	cfg        *config.Config
	log        zerolog.Logger
	configFile string
)

var rootCmd = &cobra.Command{
	Use:   "meshauth",
	Short: "Identity and trust propagation for a service mesh",
	Long: `meshauth runs the processes of a stateless identity mesh: an identity
service that issues and renews tokens, the edge gateway that verifies them,
and the realtime push gateway.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if configFile != "" {
			viper.SetConfigFile(configFile)
			if err := viper.ReadInConfig(); err != nil {
				return fmt.Errorf("failed to read config file %s: %w", configFile, err)
			}
		}

		var err error
		cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		level := cfg.LogLevel
		if cfg.Debug {
			level = "debug"
		}
		log = logger.New(level, cfg.LogFormat, cfg.ServiceName)
		cmd.SetContext(cmdutil.InjectRuntime(cmd.Context(), &cmdutil.Runtime{Config: cfg, Logger: log}))
		return nil
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configFile, "config", "", "Config file (yaml, json or toml)")
	flags.String("db-url", "", "Database connection URL (env: MESHAUTH_DATABASE_URL)")
	flags.String("server-addr", "", "Server bind address (env: MESHAUTH_SERVER_ADDR)")
	flags.String("service", "", "Service name used in logs and the auth route prefix (env: MESHAUTH_SERVICE_NAME)")
	flags.String("log-level", "", "Log level: debug, info, warn, error (env: MESHAUTH_LOG_LEVEL)")
	flags.Bool("debug", false, "Enable debug logging (env: MESHAUTH_DEBUG)")

	for key, flag := range map[string]string{
		"database_url": "db-url",
		"server_addr":  "server-addr",
		"service_name": "service",
		"log_level":    "log-level",
		"debug":        "debug",
	} {
		_ = viper.BindPFlag(key, flags.Lookup(flag))
	}

	rootCmd.AddCommand(users.UsersCmd)
	rootCmd.AddCommand(sessions.SessionsCmd)
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
