package dashboard

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"go.uber.org/fx"

	"github.com/digitect38/xstatenet/internal/orchestrator"
)

// Module wires a *Server bound to the orchestrator's own lifecycle,
// listening on addr and broadcasting a snapshot to connected websocket
// observers once per tick.
func Module(addr string, tick time.Duration) fx.Option {
	return fx.Module("dashboard",
		fx.Provide(func(orch *orchestrator.Orchestrator, logger *slog.Logger) *Server {
			return New(logger, orch)
		}),
		fx.Invoke(func(lc fx.Lifecycle, s *Server, logger *slog.Logger) {
			httpServer := &http.Server{Addr: addr, Handler: s.Router()}
			stopTick := make(chan struct{})

			lc.Append(fx.Hook{
				OnStart: func(ctx context.Context) error {
					go func() {
						ticker := time.NewTicker(tick)
						defer ticker.Stop()
						for {
							select {
							case <-ticker.C:
								s.Broadcast()
							case <-stopTick:
								return
							}
						}
					}()
					go func() {
						if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
							logger.Error("dashboard server exited", "error", err)
						}
					}()
					return nil
				},
				OnStop: func(ctx context.Context) error {
					close(stopTick)
					return httpServer.Shutdown(ctx)
				},
			})
		}),
	)
}
