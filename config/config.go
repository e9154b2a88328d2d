package config

import (
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"
)

// Config is the gaslaned service configuration.
type Config struct {
	ListenAddress    string `toml:"ListenAddress"`
	DataDir          string `toml:"DataDir"`
	JournalPath      string `toml:"JournalPath"`
	ChainID          uint64 `toml:"ChainID"`
	PaymasterAddress string `toml:"PaymasterAddress"`
	OwnerAddress     string `toml:"OwnerAddress"`
	AuthorityAddress string `toml:"AuthorityAddress"`
	PostOpGasUnits   uint64 `toml:"PostOpGasUnits"`

	Gateway   GatewayConfig   `toml:"gateway"`
	Telemetry TelemetryConfig `toml:"telemetry"`
}

// GatewayConfig tunes the HTTP surface.
type GatewayConfig struct {
	JWTSecretEnv      string  `toml:"JWTSecretEnv"`
	Issuer            string  `toml:"Issuer"`
	Audience          string  `toml:"Audience"`
	RequestsPerMinute float64 `toml:"RequestsPerMinute"`
	Burst             int     `toml:"Burst"`
	AllowUnauthorized bool    `toml:"-"` // test hook, never read from disk
}

// TelemetryConfig tunes the OTLP exporters.
type TelemetryConfig struct {
	Enabled  bool   `toml:"Enabled"`
	Endpoint string `toml:"Endpoint"`
	Insecure bool   `toml:"Insecure"`
}

// Load loads the configuration from the given path, creating a default file
// when none exists yet.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.ListenAddress) == "" {
		c.ListenAddress = ":8547"
	}
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = "./gaslane-data"
	}
	if strings.TrimSpace(c.JournalPath) == "" {
		c.JournalPath = filepath.Join(c.DataDir, "journal.db")
	}
	if c.Gateway.JWTSecretEnv == "" {
		c.Gateway.JWTSecretEnv = "GASLANE_JWT_SECRET"
	}
	if c.Gateway.RequestsPerMinute <= 0 {
		c.Gateway.RequestsPerMinute = 600
	}
	if c.Gateway.Burst <= 0 {
		c.Gateway.Burst = 20
	}
}

// Validate rejects configurations that cannot possibly serve requests.
func (c *Config) Validate() error {
	if c.ChainID == 0 {
		return fmt.Errorf("config: ChainID must be set")
	}
	for field, value := range map[string]string{
		"PaymasterAddress": c.PaymasterAddress,
		"OwnerAddress":     c.OwnerAddress,
		"AuthorityAddress": c.AuthorityAddress,
	} {
		if !common.IsHexAddress(strings.TrimSpace(value)) {
			return fmt.Errorf("config: %s is not a valid address: %q", field, value)
		}
	}
	return nil
}

// ChainIDBig returns the chain identifier as a big integer for hashing.
func (c *Config) ChainIDBig() *big.Int {
	return new(big.Int).SetUint64(c.ChainID)
}

// Paymaster returns the parsed paymaster address.
func (c *Config) Paymaster() common.Address {
	return common.HexToAddress(strings.TrimSpace(c.PaymasterAddress))
}

// Owner returns the parsed paymaster owner address.
func (c *Config) Owner() common.Address {
	return common.HexToAddress(strings.TrimSpace(c.OwnerAddress))
}

// Authority returns the parsed off-chain signer address.
func (c *Config) Authority() common.Address {
	return common.HexToAddress(strings.TrimSpace(c.AuthorityAddress))
}

func createDefault(path string) (*Config, error) {
	cfg := &Config{
		ChainID: 1,
		// Placeholder addresses; operators must replace them before serving.
		PaymasterAddress: common.Address{}.Hex(),
		OwnerAddress:     common.Address{}.Hex(),
		AuthorityAddress: common.Address{}.Hex(),
	}
	cfg.applyDefaults()

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
