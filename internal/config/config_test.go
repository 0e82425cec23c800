package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaultsWithoutFileOrEnv(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "standard", cfg.Strategy.Mode)
	require.Equal(t, 20, cfg.Strategy.FastSMAPeriod)
	require.Equal(t, 50, cfg.Strategy.SlowSMAPeriod)
	require.Equal(t, 0.10, cfg.Risk.MaxPositionSizePct)
}

func TestLoadReadsFileOverridesOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("strategy:\n  fast_sma_period: 5\n  slow_sma_period: 15\nrisk:\n  max_position_size_pct: 0.25\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 5, cfg.Strategy.FastSMAPeriod)
	require.Equal(t, 15, cfg.Strategy.SlowSMAPeriod)
	require.Equal(t, 0.25, cfg.Risk.MaxPositionSizePct)
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	require.Equal(t, "standard", cfg.Strategy.Mode)
}

func TestLoadEnvironmentOverridesDefaults(t *testing.T) {
	t.Setenv("ALPACA_API_KEY", "test-key")
	t.Setenv("ALPACA_SECRET_KEY", "test-secret")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "test-key", cfg.Market.APIKey)
	require.Equal(t, "test-secret", cfg.Market.APISecret)
}

func TestValidateRejectsInvertedSMAPeriods(t *testing.T) {
	cfg := &Config{
		Strategy: StrategyConfig{FastSMAPeriod: 50, SlowSMAPeriod: 20},
		Risk:     RiskConfig{RiskPerTradePct: 0.02, MaxPositionSizePct: 0.1},
	}
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsOutOfRangeRiskPct(t *testing.T) {
	cfg := &Config{
		Strategy: StrategyConfig{FastSMAPeriod: 10, SlowSMAPeriod: 20},
		Risk:     RiskConfig{RiskPerTradePct: 1.5, MaxPositionSizePct: 0.1},
	}
	require.Error(t, cfg.Validate())
}

func TestValidateAcceptsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
}
