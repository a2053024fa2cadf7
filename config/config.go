// Package config loads the node configuration from the environment and
// materializes the signing key from its key file.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/nervosnetwork/ckb-sdk-go/v2/crypto/secp256k1"
	"github.com/nervosnetwork/ckb-sdk-go/v2/types"
	"github.com/spf13/viper"
)

// Config is the node configuration.
type Config struct {
	RPCURL   string
	Network  string
	KeyFile  string
	LogLevel string
}

// Environment variable names, prefixed with CFN_.
var (
	RPCURL   = "RPC_URL"
	Network  = "NETWORK"
	KeyFile  = "KEY_FILE"
	LogLevel = "LOG_LEVEL"

	defaultRPCURL   = "http://127.0.0.1:8114"
	defaultNetwork  = "testnet"
	defaultLogLevel = "info"
)

// Load reads the configuration from CFN_-prefixed environment variables.
func Load() (*Config, error) {
	viper.SetEnvPrefix("CFN")
	viper.AutomaticEnv()

	viper.SetDefault(RPCURL, defaultRPCURL)
	viper.SetDefault(Network, defaultNetwork)
	viper.SetDefault(LogLevel, defaultLogLevel)

	cfg := &Config{
		RPCURL:   viper.GetString(RPCURL),
		Network:  viper.GetString(Network),
		KeyFile:  viper.GetString(KeyFile),
		LogLevel: viper.GetString(LogLevel),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if len(c.RPCURL) <= 0 {
		return fmt.Errorf("missing rpc url")
	}
	if len(c.KeyFile) <= 0 {
		return fmt.Errorf("missing key file")
	}
	if c.Network != "mainnet" && c.Network != "testnet" {
		return fmt.Errorf("unknown network %q", c.Network)
	}
	return nil
}

// CKBNetwork maps the configured network name onto the chain SDK's network
// identifier.
func (c *Config) CKBNetwork() types.Network {
	if c.Network == "mainnet" {
		return types.NetworkMain
	}
	return types.NetworkTest
}

// ReadSecretKey loads the hex-encoded secp256k1 signing key from the key
// file. The file must not be accessible to group or others.
func (c *Config) ReadSecretKey() (*secp256k1.Secp256k1Key, error) {
	info, err := os.Stat(c.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("reading key file: %w", err)
	}
	if info.Mode().Perm()&0o077 != 0 {
		return nil, fmt.Errorf("key file %s is accessible by group or others", c.KeyFile)
	}
	data, err := os.ReadFile(c.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("reading key file: %w", err)
	}
	hexKey := strings.TrimPrefix(strings.TrimSpace(string(data)), "0x")
	key, err := secp256k1.HexToKey(hexKey)
	if err != nil {
		return nil, fmt.Errorf("parsing key file %s: %w", c.KeyFile, err)
	}
	return key, nil
}
