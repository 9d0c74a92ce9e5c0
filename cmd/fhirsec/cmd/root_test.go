package cmd

import (
	"encoding/json"
	"os"
	"strings"
	"testing"

	"github.com/nithinmohantk/fhir-security/internal/testutil/cli"
	"github.com/nithinmohantk/fhir-security/pkg/clierror"
)

func TestRoot_Version(t *testing.T) {
	result := cli.Reset(rootCmd).Run("--version")
	result.AssertSuccess(t)
	result.AssertContains(t, "fhirsec")
}

func TestRoot_Help(t *testing.T) {
	result := cli.Reset(rootCmd).Run("--help")
	result.AssertSuccess(t)
	result.AssertContains(t, "DPoP")
	result.AssertContains(t, "auth")
	result.AssertContains(t, "get")
}

func TestInit_WritesConfig(t *testing.T) {
	path := withTempConfig(t, "")

	result := cli.Reset(rootCmd).Run("init",
		"--server", "https://fhir.example.org/r4",
		"--token-url", "https://auth.example.org/token",
		"--client-id", "client-1",
		"--scope", "system/*.read",
	)
	result.AssertSuccess(t)

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("config not written: %v", err)
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		t.Fatalf("config not JSON: %v", err)
	}
	if cfg.ServerURL != "https://fhir.example.org/r4" {
		t.Errorf("server_url = %q", cfg.ServerURL)
	}
	if cfg.Scope != "system/*.read" {
		t.Errorf("scope = %q", cfg.Scope)
	}
}

func TestInit_RequiredFlags(t *testing.T) {
	withTempConfig(t, "")

	tests := []struct {
		name string
		args []string
	}{
		{"missing server", []string{"init", "--token-url", "https://a", "--client-id", "c"}},
		{"missing token-url", []string{"init", "--server", "https://f", "--client-id", "c"}},
		{"missing client-id", []string{"init", "--server", "https://f", "--token-url", "https://a"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Flag values persist across Execute calls on the same command.
			for _, name := range []string{"server", "token-url", "client-id", "scope"} {
				initCmd.Flags().Set(name, "")
			}
			result := cli.Reset(rootCmd).Run(tt.args...)
			result.AssertError(t)
		})
	}
}

func TestAuth_MissingConfig(t *testing.T) {
	withTempConfig(t, "")

	result := cli.Reset(rootCmd).Run("auth")
	result.AssertError(t)

	cliErr := clierror.FromError(result.Err, "")
	if cliErr.Code != clierror.CodeConfigMissing {
		t.Errorf("Code = %q, want %q", cliErr.Code, clierror.CodeConfigMissing)
	}
}

func TestSearch_RejectsMalformedParam(t *testing.T) {
	withTempConfig(t, `{
		"server_url": "https://fhir.example.org",
		"token_url": "https://auth.example.org/token",
		"client_id": "c"
	}`)

	result := cli.Reset(rootCmd).Run("search", "Observation", "-p", "no-equals-sign")
	result.AssertError(t)
	if !strings.Contains(result.Err.Error(), "name=value") {
		t.Errorf("error should explain the expected form, got %v", result.Err)
	}
}
