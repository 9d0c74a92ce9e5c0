package cmd

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/nithinmohantk/fhir-security/pkg/clierror"
)

// Config is stored in ~/.fhirsec/config.json
type Config struct {
	ServerURL string `json:"server_url"` // FHIR base URL
	TokenURL  string `json:"token_url"`  // OAuth token endpoint
	ClientID  string `json:"client_id"`
	Scope     string `json:"scope,omitempty"`
}

// getConfigPathFunc is a variable to allow testing with a custom path.
var getConfigPathFunc = getConfigPath

func getConfigPath() string {
	if configPath != "" {
		return configPath
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".fhirsec", "config.json")
	}
	return filepath.Join(home, ".fhirsec", "config.json")
}

func loadConfig() (*Config, error) {
	path := getConfigPathFunc()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, clierror.ConfigMissing(path)
		}
		return nil, clierror.InternalError(err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, clierror.ConfigInvalid("not valid JSON: " + err.Error())
	}

	if cfg.ServerURL == "" {
		return nil, clierror.ConfigInvalid("server_url is required")
	}
	if cfg.TokenURL == "" {
		return nil, clierror.ConfigInvalid("token_url is required")
	}
	if cfg.ClientID == "" {
		return nil, clierror.ConfigInvalid("client_id is required")
	}

	return &cfg, nil
}

// saveConfig writes the config, creating the directory if needed.
func saveConfig(cfg *Config) error {
	path := getConfigPathFunc()
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return clierror.InternalError(err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return clierror.InternalError(err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o600); err != nil {
		return clierror.InternalError(err)
	}
	return nil
}
