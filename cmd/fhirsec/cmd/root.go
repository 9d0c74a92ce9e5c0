// Package cmd implements the fhirsec CLI commands.
package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/nithinmohantk/fhir-security/internal/version"
	"github.com/nithinmohantk/fhir-security/pkg/clierror"
)

var (
	// Global flags
	outputFormat string
	configPath   string
)

var rootCmd = &cobra.Command{
	Use:   "fhirsec",
	Short: "DPoP-secured FHIR client",
	Long: `fhirsec is a command-line client for FHIR servers protected by
DPoP-bound OAuth tokens (RFC 9449).

Each invocation generates a fresh session key pair, binds an access
token to it at the token endpoint, and signs every request with a
one-time proof. Keys never touch disk.`,
	Version:      version.String(),
	SilenceUsage: true,
	// Errors are rendered by Execute with the CLI taxonomy.
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "table", "Output format: table, json, yaml")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file path (default: ~/.fhirsec/config.json)")
}

// Execute runs the root command and maps failures onto exit codes.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		var cliErr *clierror.CLIError
		if !errors.As(err, &cliErr) {
			cliErr = clierror.InternalError(err)
		}
		clierror.PrintError(cliErr, outputFormat)
		return cliErr.ExitCode
	}
	return clierror.ExitSuccess
}

// formatOutput handles output formatting based on the --output flag.
func formatOutput(data interface{}) error {
	switch outputFormat {
	case "json":
		return outputJSON(data)
	case "yaml":
		return outputYAML(data)
	default:
		// Table format is handled by each command
		return nil
	}
}

func outputJSON(data interface{}) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

func outputYAML(data interface{}) error {
	out, err := yaml.Marshal(data)
	if err != nil {
		return err
	}
	fmt.Print(string(out))
	return nil
}
