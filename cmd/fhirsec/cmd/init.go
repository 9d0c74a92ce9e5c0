package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nithinmohantk/fhir-security/pkg/clierror"
)

func init() {
	rootCmd.AddCommand(initCmd)

	initCmd.Flags().String("server", "", "FHIR base URL (required)")
	initCmd.Flags().String("token-url", "", "OAuth token endpoint (required)")
	initCmd.Flags().String("client-id", "", "OAuth client id (required)")
	initCmd.Flags().String("scope", "", "OAuth scope to request")
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the client configuration",
	Long: `Write ~/.fhirsec/config.json with the server and client settings.

Examples:
  fhirsec init --server https://fhir.example.org/r4 \
    --token-url https://auth.example.org/oauth/token \
    --client-id sepsis-pipeline --scope 'system/Observation.read'`,
	RunE: runInit,
}

func runInit(cmd *cobra.Command, args []string) error {
	server, _ := cmd.Flags().GetString("server")
	tokenURL, _ := cmd.Flags().GetString("token-url")
	clientID, _ := cmd.Flags().GetString("client-id")
	scope, _ := cmd.Flags().GetString("scope")

	if server == "" {
		return clierror.ConfigInvalid("--server is required")
	}
	if tokenURL == "" {
		return clierror.ConfigInvalid("--token-url is required")
	}
	if clientID == "" {
		return clierror.ConfigInvalid("--client-id is required")
	}

	cfg := &Config{
		ServerURL: server,
		TokenURL:  tokenURL,
		ClientID:  clientID,
		Scope:     scope,
	}
	if err := saveConfig(cfg); err != nil {
		return err
	}

	fmt.Printf("Configuration written to %s\n", getConfigPathFunc())
	return nil
}
