// Package config loads the orchestrator demo's configuration, rebuilt
// in the teacher's own idiom: viper bound to pflag flags plus an env
// prefix, since the teacher's cmd.serverCmd references a
// config.LoadConfig() that the retrieval pack does not ship.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "XSTATENET"

// OrchestratorConfig mirrors orchestrator.Config (§6), kept as a
// separate plain-data type so this package never imports
// internal/orchestrator — config stays a leaf dependency.
type OrchestratorConfig struct {
	PoolSize             int           `mapstructure:"pool_size"`
	MailboxCapacity      int           `mapstructure:"mailbox_capacity"`
	MaxMicroStepsPerTurn int           `mapstructure:"max_micro_steps_per_turn"`
	DefaultTimeout       time.Duration `mapstructure:"default_timeout"`
	EnableLogging        bool          `mapstructure:"enable_logging"`
	ShutdownDrainTimeout time.Duration `mapstructure:"shutdown_drain_timeout"`
}

// BreakerConfig mirrors breaker.Params (§4.8).
type BreakerConfig struct {
	FailureThreshold     int           `mapstructure:"failure_threshold"`
	OpenDuration         time.Duration `mapstructure:"open_duration"`
	HalfOpenProbeTimeout time.Duration `mapstructure:"half_open_probe_timeout"`
}

// DashboardConfig controls the optional observability HTTP+WS surface.
type DashboardConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Addr           string        `mapstructure:"addr"`
	BroadcastEvery time.Duration `mapstructure:"broadcast_every"`
}

// Config is the top-level demo process configuration, the analog of
// the teacher's *config.Config passed into cmd.NewApp.
type Config struct {
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Breaker      BreakerConfig      `mapstructure:"breaker"`
	Dashboard    DashboardConfig    `mapstructure:"dashboard"`
}

// Defaults returns the §6-documented defaults plus a sensible breaker
// and dashboard default, used both as LoadConfig's fallback and as the
// base viper binds flags/env over.
func Defaults() Config {
	return Config{
		Orchestrator: OrchestratorConfig{
			PoolSize:             4,
			MailboxCapacity:      1024,
			MaxMicroStepsPerTurn: 256,
			DefaultTimeout:       30 * time.Second,
			EnableLogging:        false,
			ShutdownDrainTimeout: 5 * time.Second,
		},
		Breaker: BreakerConfig{
			FailureThreshold:     5,
			OpenDuration:         10 * time.Second,
			HalfOpenProbeTimeout: 5 * time.Second,
		},
		Dashboard: DashboardConfig{
			Enabled:        false,
			Addr:           ":8088",
			BroadcastEvery: 500 * time.Millisecond,
		},
	}
}

// BindFlags declares the pflag flags LoadConfig binds into viper,
// matching cmd.serverCmd's "config_file"-flag-plus-env layering.
func BindFlags(flags *pflag.FlagSet) {
	defaults := Defaults()
	flags.Int("orchestrator.pool_size", defaults.Orchestrator.PoolSize, "number of worker goroutines")
	flags.Int("orchestrator.mailbox_capacity", defaults.Orchestrator.MailboxCapacity, "per-machine mailbox capacity")
	flags.Int("orchestrator.max_micro_steps_per_turn", defaults.Orchestrator.MaxMicroStepsPerTurn, "self-send cascade cap per turn")
	flags.Duration("orchestrator.default_timeout", defaults.Orchestrator.DefaultTimeout, "default SendEventAsync timeout")
	flags.Bool("orchestrator.enable_logging", defaults.Orchestrator.EnableLogging, "enable orchestrator lifecycle logging")
	flags.Duration("orchestrator.shutdown_drain_timeout", defaults.Orchestrator.ShutdownDrainTimeout, "shutdown drain timeout (Stop does not wait for in-flight turns)")

	flags.Int("breaker.failure_threshold", defaults.Breaker.FailureThreshold, "failures before opening (cumulative; successes do not reset the count)")
	flags.Duration("breaker.open_duration", defaults.Breaker.OpenDuration, "time spent open before probing")
	flags.Duration("breaker.half_open_probe_timeout", defaults.Breaker.HalfOpenProbeTimeout, "half-open probe timeout (not applied by the breaker)")

	flags.Bool("dashboard.enabled", defaults.Dashboard.Enabled, "serve the stats/ws dashboard")
	flags.String("dashboard.addr", defaults.Dashboard.Addr, "dashboard listen address")
	flags.Duration("dashboard.broadcast_every", defaults.Dashboard.BroadcastEvery, "websocket snapshot push interval")
}

// LoadConfig layers, in increasing priority: Defaults() (and the
// defaults of any bound flags), an optional configFile,
// XSTATENET_*-prefixed env vars, and flags explicitly set on the
// command line — viper's own precedence order. Env vars are only
// consulted for keys viper knows of, i.e. bound flags or keys present
// in configFile.
func LoadConfig(configFile string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.NewWithOptions(viper.EnvKeyReplacer(envReplacer{}))
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("config: bind flags: %w", err)
		}
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", configFile, err)
		}
	}

	cfg := Defaults()
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return &cfg, nil
}

// envReplacer turns the env var name viper derives from a dotted key
// ("XSTATENET_ORCHESTRATOR.POOL_SIZE" for "orchestrator.pool_size")
// into the underscore form that is actually set in the environment
// ("XSTATENET_ORCHESTRATOR_POOL_SIZE").
type envReplacer struct{}

func (envReplacer) Replace(s string) string {
	out := make([]byte, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '.' {
			out[i] = '_'
		} else {
			out[i] = s[i]
		}
	}
	return string(out)
}
