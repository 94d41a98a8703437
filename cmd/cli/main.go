package main

import (
	"log"

	"github.com/absmach/fedids"
	"github.com/absmach/fedids/cli"
	"github.com/absmach/fedids/pkg/sdk"
	"github.com/spf13/cobra"
)

const (
	defCoordinatorURL = "http://localhost:7070"
	defConfigFile     = "config.toml"
)

func main() {
	var (
		coordinatorURL  string
		configFile      string
		tlsVerification bool
	)

	rootCmd := &cobra.Command{
		Use:   "fedids-cli",
		Short: "fedids CLI",
		Long:  `fedids CLI is a command line interface for the federated training coordinator.`,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			url := coordinatorURL
			if !cmd.Flags().Changed("coordinator-url") {
				if cfg, err := fedids.LoadConfig(configFile); err == nil && cfg.Coordinator.URL != "" {
					url = cfg.Coordinator.URL
				}
			}
			cli.SetSDK(sdk.NewSDK(sdk.Config{
				CoordinatorURL:  url,
				TLSVerification: tlsVerification,
			}))
		},
	}

	rootCmd.PersistentFlags().StringVarP(&coordinatorURL, "coordinator-url", "u", defCoordinatorURL, "Coordinator URL")
	rootCmd.PersistentFlags().StringVar(&configFile, "config-file", defConfigFile, "Config file the coordinator URL is read from")
	rootCmd.PersistentFlags().BoolVar(&tlsVerification, "tls-verification", false, "Verify the coordinator TLS certificate")

	rootCmd.AddCommand(
		cli.NewRunsCmd(),
		cli.NewStatusCmd(),
		cli.NewClientsCmd(),
		cli.NewRoundsCmd(),
		cli.NewCheckpointsCmd(),
		cli.NewConfigCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
