package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/hashjosh/meshauth/cmd/meshctl/cmd/auth"
	"github.com/hashjosh/meshauth/cmd/meshctl/cmd/notify"
)

var (
	serverURL string
	service   string
	stateDir  string
)

var rootCmd = &cobra.Command{
	Use:   "meshctl",
	Short: "meshctl - client for a meshauth deployment",
	Long: `meshctl logs in to a service of the mesh through the edge gateway, shows
the identity the mesh resolves for you, and sends notifications as a trusted
internal service.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if env := os.Getenv("MESHCTL_SERVER"); env != "" && !cmd.Flags().Changed("server") {
			serverURL = env
		}
		auth.Configure(serverURL, service, stateDir)
		notify.SetServerURL(serverURL)
	},
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "Gateway URL (also set via MESHCTL_SERVER)")
	rootCmd.PersistentFlags().StringVar(&service, "service", "farmer", "Service whose auth API is used")
	rootCmd.PersistentFlags().StringVar(&stateDir, "state-dir", "", "Directory holding stored credentials (default ~/.meshauth)")
	rootCmd.AddCommand(auth.AuthCmd)
	rootCmd.AddCommand(notify.NotifyCmd)
}
