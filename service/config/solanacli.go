package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Well-known cluster endpoints.
const (
	MainnetBetaURL = "https://api.mainnet-beta.solana.com"
	TestnetURL     = "https://api.testnet.solana.com"
	DevnetURL      = "https://api.devnet.solana.com"
	LocalhostURL   = "http://localhost:8899"
)

// SolanaCLIConfig is the subset of the Solana CLI's config.yml we read.
type SolanaCLIConfig struct {
	JSONRPCURL    string            `yaml:"json_rpc_url"`
	WebsocketURL  string            `yaml:"websocket_url"`
	KeypairPath   string            `yaml:"keypair_path"`
	AddressLabels map[string]string `yaml:"address_labels"`
	Commitment    string            `yaml:"commitment"`
}

// DefaultSolanaCLIConfigPath returns ~/.config/solana/cli/config.yml, or ""
// when the home directory is unknown.
func DefaultSolanaCLIConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "solana", "cli", "config.yml")
}

// DefaultSolanaCLIConfig mirrors the Solana CLI's built-in defaults.
func DefaultSolanaCLIConfig() *SolanaCLIConfig {
	cfg := &SolanaCLIConfig{
		JSONRPCURL: MainnetBetaURL,
		Commitment: "confirmed",
	}
	if home, err := os.UserHomeDir(); err == nil {
		cfg.KeypairPath = filepath.Join(home, ".config", "solana", "id.json")
	}
	return cfg
}

// LoadSolanaCLIConfig reads a Solana CLI config file. A missing file yields
// the defaults; a malformed one is an error. Fields absent from the file keep
// their default values.
func LoadSolanaCLIConfig(path string) (*SolanaCLIConfig, error) {
	cfg := DefaultSolanaCLIConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read solana config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse solana config %s: %w", path, err)
	}
	cfg.JSONRPCURL = NormalizeURLMoniker(cfg.JSONRPCURL)
	return cfg, nil
}

// NormalizeURLMoniker expands cluster monikers (mainnet-beta, testnet,
// devnet, localhost and their one-letter forms) to RPC URLs. Anything else is
// returned unchanged.
func NormalizeURLMoniker(urlOrMoniker string) string {
	switch urlOrMoniker {
	case "m", "mainnet-beta":
		return MainnetBetaURL
	case "t", "testnet":
		return TestnetURL
	case "d", "devnet":
		return DevnetURL
	case "l", "localhost":
		return LocalhostURL
	default:
		return urlOrMoniker
	}
}
