package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"MarginMirror/internal/config"
)

const sampleYAML = `
chain:
  rpc_url: http://127.0.0.1:8899
  ws_url: ws://127.0.0.1:8900
  commitment: processed
  program_id: mv3ekLzLbnVPNxjSKvqBpU3ZeZXPQdEC3bp5MDEBG68
  group: 98pjRuQjK3qA6gXts96PqZT4Ze5QmnCmt3QYjhbUSPue
  rate_limit: 50
scan:
  interval: 3s
  workers: 4
liquidation:
  max_liab_transfer: "2500.5"
  insurance_reserve: 100000
logging:
  level: debug
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mirror.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultsValidate(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, cfg.Scan.Interval)
	assert.Equal(t, uint8(20), cfg.Liquidation.CancelLimit)
	_, err = cfg.GroupKey()
	assert.Error(t, err, "group is not defaulted")
}

func TestLoadYAML(t *testing.T) {
	cfg, err := config.Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, "http://127.0.0.1:8899", cfg.Chain.RPCURL)
	assert.Equal(t, 50.0, cfg.Chain.RateLimit)
	assert.Equal(t, 5, cfg.Chain.RateBurst, "unset fields keep defaults")
	assert.Equal(t, 3*time.Second, cfg.Scan.Interval)
	assert.Equal(t, 4, cfg.Scan.Workers)
	assert.True(t, decimal.RequireFromString("2500.5").Equal(cfg.Liquidation.MaxLiabTransfer))
	assert.True(t, decimal.NewFromInt(100000).Equal(cfg.Liquidation.InsuranceReserve))

	g, err := cfg.GroupKey()
	require.NoError(t, err)
	assert.Equal(t, "98pjRuQjK3qA6gXts96PqZT4Ze5QmnCmt3QYjhbUSPue", g.String())
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("MIRROR_SCAN_WORKERS", "16")
	t.Setenv("MIRROR_RPC_URL", "https://rpc.example.org")
	t.Setenv("MIRROR_MAX_LIAB_TRANSFER", "10")

	cfg, err := config.Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)
	assert.Equal(t, 16, cfg.Scan.Workers)
	assert.Equal(t, "https://rpc.example.org", cfg.Chain.RPCURL)
	assert.True(t, decimal.NewFromInt(10).Equal(cfg.Liquidation.MaxLiabTransfer))
}

func TestLoadErrors(t *testing.T) {
	t.Run("unknown field", func(t *testing.T) {
		_, err := config.Load(writeConfig(t, "scan:\n  bogus: 1\n"))
		assert.Error(t, err)
	})
	t.Run("bad env int", func(t *testing.T) {
		t.Setenv("MIRROR_SCAN_WORKERS", "many")
		_, err := config.Load("")
		assert.ErrorContains(t, err, "MIRROR_SCAN_WORKERS")
	})
	t.Run("bad commitment", func(t *testing.T) {
		_, err := config.Load(writeConfig(t, "chain:\n  commitment: eventually\n"))
		assert.ErrorContains(t, err, "commitment")
	})
	t.Run("bad group key", func(t *testing.T) {
		_, err := config.Load(writeConfig(t, "chain:\n  group: not-a-key\n"))
		assert.ErrorContains(t, err, "group")
	})
	t.Run("missing file", func(t *testing.T) {
		_, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"))
		assert.Error(t, err)
	})
}
