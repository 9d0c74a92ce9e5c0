package cmd

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/nithinmohantk/fhir-security/pkg/clierror"
	"github.com/nithinmohantk/fhir-security/pkg/timeutil"
)

func init() {
	rootCmd.AddCommand(authCmd)
	authCmd.AddCommand(authStatusCmd)
}

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Verify authentication against the token endpoint",
	Long: `Perform a full DPoP-bound token exchange and report the result.

A fresh session key pair is generated, a proof-bound client_credentials
grant is sent, and the resulting token state is displayed. On success
the server has accepted this client id and scope.`,
	RunE: runAuth,
}

// AuthResult is the auth command output for JSON/YAML formats.
type AuthResult struct {
	State      string    `json:"state" yaml:"state"`
	Thumbprint string    `json:"key_thumbprint" yaml:"key_thumbprint"`
	TokenURL   string    `json:"token_url" yaml:"token_url"`
	Scope      string    `json:"scope,omitempty" yaml:"scope,omitempty"`
	ExpiresAt  time.Time `json:"expires_at" yaml:"expires_at"`
}

func runAuth(cmd *cobra.Command, args []string) error {
	sess, err := newSession(cmd.Context())
	if err != nil {
		return err
	}
	defer sess.Close()

	result := AuthResult{
		State:      string(sess.lifecycle.State()),
		Thumbprint: sess.signer.Thumbprint(),
		TokenURL:   sess.cfg.TokenURL,
		Scope:      sess.cfg.Scope,
		ExpiresAt:  sess.lifecycle.ExpiresAt(),
	}

	if outputFormat != "table" {
		return formatOutput(result)
	}

	fmt.Printf("%s authenticated to %s\n", color.GreenString("OK"), result.TokenURL)
	fmt.Printf("  State:      %s\n", result.State)
	fmt.Printf("  Key:        %s\n", result.Thumbprint)
	if result.Scope != "" {
		fmt.Printf("  Scope:      %s\n", result.Scope)
	}
	fmt.Printf("  Expires:    %s\n", timeutil.Relative(result.ExpiresAt))
	return nil
}

var authStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show configuration and server reachability",
	Long: `Show the current client configuration including:
  - Config file path and whether it exists
  - FHIR server and token endpoint URLs
  - Server connectivity (reachable or unreachable)

No credentials are exchanged; use 'fhirsec auth' for a live check.`,
	RunE: runAuthStatus,
}

// AuthStatus represents the status for JSON/YAML output.
type AuthStatus struct {
	ConfigPath   string `json:"config_path" yaml:"config_path"`
	ConfigExists bool   `json:"config_exists" yaml:"config_exists"`
	ServerURL    string `json:"server_url,omitempty" yaml:"server_url,omitempty"`
	TokenURL     string `json:"token_url,omitempty" yaml:"token_url,omitempty"`
	ClientID     string `json:"client_id,omitempty" yaml:"client_id,omitempty"`
	ServerOK     bool   `json:"server_reachable" yaml:"server_reachable"`
	ServerError  string `json:"server_error,omitempty" yaml:"server_error,omitempty"`
}

func runAuthStatus(cmd *cobra.Command, args []string) error {
	status := AuthStatus{ConfigPath: getConfigPathFunc()}

	cfg, err := loadConfig()
	if err == nil {
		status.ConfigExists = true
		status.ServerURL = cfg.ServerURL
		status.TokenURL = cfg.TokenURL
		status.ClientID = cfg.ClientID
	} else {
		var cliErr *clierror.CLIError
		if errors.As(err, &cliErr) && cliErr.Code == clierror.CodeConfigInvalid {
			status.ConfigExists = true
		}
	}

	if status.ServerURL != "" {
		status.ServerOK, status.ServerError = checkServerConnectivity(status.ServerURL)
	}

	if outputFormat != "table" {
		return formatOutput(status)
	}

	fmt.Println("Client Status")
	fmt.Println()

	if status.ConfigExists {
		fmt.Printf("  Config:      %s\n", status.ConfigPath)
	} else {
		fmt.Printf("  Config:      %s (missing)\n", status.ConfigPath)
	}

	if status.ServerURL != "" {
		fmt.Printf("  FHIR server: %s\n", status.ServerURL)
		fmt.Printf("  Token URL:   %s\n", status.TokenURL)
		fmt.Printf("  Client ID:   %s\n", status.ClientID)
		if status.ServerOK {
			fmt.Printf("  Connectivity: %s\n", color.GreenString("reachable"))
		} else {
			fmt.Printf("  Connectivity: %s (%s)\n", color.RedString("unreachable"), status.ServerError)
		}
	} else {
		fmt.Println("  FHIR server: (not configured)")
	}

	fmt.Println()
	if !status.ConfigExists {
		fmt.Printf("Create %s with server_url, token_url, client_id and scope.\n", status.ConfigPath)
	}
	return nil
}

// checkServerConnectivity performs a basic reachability check.
func checkServerConnectivity(serverURL string) (bool, string) {
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(serverURL + "/metadata")
	if err != nil {
		resp, err = client.Get(serverURL + "/")
		if err != nil {
			if os.IsTimeout(err) {
				return false, "connection timed out"
			}
			return false, "connection failed"
		}
	}
	defer resp.Body.Close()

	// Any response means the server is reachable
	return true, ""
}
