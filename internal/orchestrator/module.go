package orchestrator

import (
	"context"
	"log/slog"

	"go.uber.org/fx"
)

// Module wires an *Orchestrator into an fx app, starting and stopping it
// alongside the app's own lifecycle — the same OnStart/OnStop hook shape
// the teacher uses for its watermill router (amqp.NewWatermillRouter).
var Module = fx.Module("orchestrator",
	fx.Provide(func(cfg Config, logger *slog.Logger) *Orchestrator {
		return New(cfg, logger)
	}),
	fx.Invoke(func(lc fx.Lifecycle, orch *Orchestrator) {
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				return orch.Start(ctx)
			},
			OnStop: func(ctx context.Context) error {
				return orch.Stop(ctx)
			},
		})
	}),
)
