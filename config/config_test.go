package config

import (
	"os"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_DefaultsWithNoFlagsOrEnv(t *testing.T) {
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	BindFlags(flags)
	require.NoError(t, flags.Parse(nil))

	cfg, err := LoadConfig("", flags)
	require.NoError(t, err)

	assert.Equal(t, Defaults(), *cfg)
}

func TestLoadConfig_FlagOverridesDefault(t *testing.T) {
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	BindFlags(flags)
	require.NoError(t, flags.Parse([]string{"--orchestrator.pool_size=16", "--breaker.failure_threshold=9"}))

	cfg, err := LoadConfig("", flags)
	require.NoError(t, err)

	assert.Equal(t, 16, cfg.Orchestrator.PoolSize)
	assert.Equal(t, 9, cfg.Breaker.FailureThreshold)
}

func TestLoadConfig_EnvOverridesFlagDefault(t *testing.T) {
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	BindFlags(flags)
	require.NoError(t, flags.Parse(nil))

	t.Setenv("XSTATENET_ORCHESTRATOR_POOL_SIZE", "32")
	t.Setenv("XSTATENET_DASHBOARD_ENABLED", "true")

	cfg, err := LoadConfig("", flags)
	require.NoError(t, err)

	assert.Equal(t, 32, cfg.Orchestrator.PoolSize)
	assert.True(t, cfg.Dashboard.Enabled)
}

func TestLoadConfig_MissingConfigFileErrors(t *testing.T) {
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	BindFlags(flags)
	require.NoError(t, flags.Parse(nil))

	_, err := LoadConfig(os.DevNull+".does-not-exist.yaml", flags)
	assert.Error(t, err)
}

func TestDefaults_SaneDurations(t *testing.T) {
	d := Defaults()
	assert.Greater(t, d.Orchestrator.DefaultTimeout, time.Duration(0))
	assert.Greater(t, d.Breaker.OpenDuration, time.Duration(0))
	assert.Greater(t, d.Dashboard.BroadcastEvery, time.Duration(0))
}
