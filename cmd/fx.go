package cmd

import (
	"context"
	"log/slog"
	"os"
	"time"

	"go.uber.org/fx"

	appconfig "github.com/digitect38/xstatenet/config"
	"github.com/digitect38/xstatenet/internal/breaker"
	"github.com/digitect38/xstatenet/internal/dashboard"
	"github.com/digitect38/xstatenet/internal/orchestrator"
)

// NewApp wires the demo process the same way the teacher's NewApp wires
// its gRPC server: fx.Provide for the shared infrastructure (config,
// logger, the orchestrator and its hosted circuit breaker), fx.Module
// for anything with its own lifecycle hooks.
func NewApp(cfg *appconfig.Config) *fx.App {
	return fx.New(
		fx.Provide(
			func() *appconfig.Config { return cfg },
			ProvideLogger,
			ProvideOrchestratorConfig,
			ProvideBreaker,
		),
		orchestrator.Module,
		fx.Invoke(func(lc fx.Lifecycle, b *breaker.Breaker) {
			lc.Append(fx.Hook{
				OnStart: func(ctx context.Context) error { return b.StartAsync(ctx) },
			})
		}),
		dashboardModule(cfg),
	)
}

// ProvideLogger mirrors the teacher's ProvideLogger: a single
// process-wide *slog.Logger, text-handler to stderr, level driven by
// the orchestrator's enable_logging flag.
func ProvideLogger(cfg *appconfig.Config) *slog.Logger {
	level := slog.LevelWarn
	if cfg.Orchestrator.EnableLogging {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// ProvideOrchestratorConfig adapts the loaded config.OrchestratorConfig
// into the orchestrator package's own Config shape, keeping
// internal/orchestrator free of any dependency on the config package.
func ProvideOrchestratorConfig(cfg *appconfig.Config) orchestrator.Config {
	return orchestrator.Config{
		PoolSize:             cfg.Orchestrator.PoolSize,
		MailboxCapacity:      cfg.Orchestrator.MailboxCapacity,
		MaxMicroStepsPerTurn: cfg.Orchestrator.MaxMicroStepsPerTurn,
		DefaultTimeout:       cfg.Orchestrator.DefaultTimeout,
		EnableLogging:        cfg.Orchestrator.EnableLogging,
		ShutdownDrainTimeout: cfg.Orchestrator.ShutdownDrainTimeout,
	}
}

// ProvideBreaker hosts the demo's single OrchestratedCircuitBreaker
// instance on the orchestrator built above, registered under a fixed
// machine id so cmd's demo commands and the dashboard can both find it.
func ProvideBreaker(cfg *appconfig.Config, orch *orchestrator.Orchestrator) (*breaker.Breaker, error) {
	params := breaker.Params{
		FailureThreshold:     cfg.Breaker.FailureThreshold,
		OpenDuration:         cfg.Breaker.OpenDuration,
		HalfOpenProbeTimeout: cfg.Breaker.HalfOpenProbeTimeout,
	}
	return breaker.New(orch, "demo-breaker", params, cfg.Orchestrator.DefaultTimeout)
}

func dashboardModule(cfg *appconfig.Config) fx.Option {
	if !cfg.Dashboard.Enabled {
		return fx.Options()
	}
	tick := cfg.Dashboard.BroadcastEvery
	if tick <= 0 {
		tick = 500 * time.Millisecond
	}
	return fx.Options(
		dashboard.Module(cfg.Dashboard.Addr, tick),
		fx.Invoke(func(s *dashboard.Server, b *breaker.Breaker) {
			s.WithBreaker(b.MachineID(), func() any { return b.GetStats() })
		}),
	)
}
