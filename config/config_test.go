package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

func TestLoadCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	cfg, err := Load(path)
	require.NoError(t, err)
	require.FileExists(t, path)

	require.Equal(t, ":8547", cfg.ListenAddress)
	require.Equal(t, "./gaslane-data", cfg.DataDir)
	require.Equal(t, filepath.Join("./gaslane-data", "journal.db"), cfg.JournalPath)
	require.Equal(t, uint64(1), cfg.ChainID)
	require.Equal(t, "GASLANE_JWT_SECRET", cfg.Gateway.JWTSecretEnv)
	require.Equal(t, float64(600), cfg.Gateway.RequestsPerMinute)
	require.Equal(t, 20, cfg.Gateway.Burst)
}

func TestLoadExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	body := `
ListenAddress = ":9000"
DataDir = "/var/lib/gaslane"
ChainID = 11155111
PaymasterAddress = "0x00000000000000000000000000000000000000aa"
OwnerAddress = "0x00000000000000000000000000000000000000bb"
AuthorityAddress = "0x00000000000000000000000000000000000000cc"
PostOpGasUnits = 42000

[gateway]
Issuer = "gaslane"
Audience = "sponsors"

[telemetry]
Enabled = true
Endpoint = "otel:4318"
Insecure = true
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":9000", cfg.ListenAddress)
	require.Equal(t, uint64(11155111), cfg.ChainID)
	require.Equal(t, uint64(42000), cfg.PostOpGasUnits)
	require.Equal(t, "gaslane", cfg.Gateway.Issuer)
	require.True(t, cfg.Telemetry.Enabled)
	require.Equal(t, "otel:4318", cfg.Telemetry.Endpoint)

	// Defaults still fill the gaps.
	require.Equal(t, filepath.Join("/var/lib/gaslane", "journal.db"), cfg.JournalPath)
	require.Equal(t, "GASLANE_JWT_SECRET", cfg.Gateway.JWTSecretEnv)

	require.Equal(t, common.HexToAddress("0x00000000000000000000000000000000000000aa"), cfg.Paymaster())
	require.Equal(t, "11155111", cfg.ChainIDBig().String())
}

func TestValidateRejectsBadAddresses(t *testing.T) {
	cfg := &Config{
		ChainID:          1,
		PaymasterAddress: "not-an-address",
		OwnerAddress:     "0x00000000000000000000000000000000000000bb",
		AuthorityAddress: "0x00000000000000000000000000000000000000cc",
	}
	require.Error(t, cfg.Validate())

	cfg.PaymasterAddress = "0x00000000000000000000000000000000000000aa"
	require.NoError(t, cfg.Validate())

	cfg.ChainID = 0
	require.Error(t, cfg.Validate())
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("ChainID = 0\n"), 0o600))
	_, err := Load(path)
	require.Error(t, err)
}
