package cmd

import (
	"context"
	"fmt"
	"time"

	ui "github.com/gizak/termui/v3"
	"github.com/gizak/termui/v3/widgets"
	"github.com/urfave/cli/v2"
	"go.uber.org/fx"

	appconfig "github.com/digitect38/xstatenet/config"
	"github.com/digitect38/xstatenet/internal/breaker"
	"github.com/digitect38/xstatenet/internal/orchestrator"
)

// watchCmd renders a live termui terminal view of the orchestrator and
// its hosted circuit breaker, the terminal-local counterpart to the
// dashboard package's HTTP/WS surface — useful when running the demo
// over SSH with no browser handy.
func watchCmd() *cli.Command {
	return &cli.Command{
		Name:  "watch",
		Usage: "Render a live terminal dashboard of orchestrator and breaker stats",
		Flags: []cli.Flag{
			configFlag(),
			&cli.DurationFlag{Name: "interval", Value: time.Second, Usage: "refresh interval"},
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}

			var (
				orch *orchestrator.Orchestrator
				cb   *breaker.Breaker
			)
			app := fx.New(
				fx.Provide(
					func() *appconfig.Config { return cfg },
					ProvideLogger,
					ProvideOrchestratorConfig,
					ProvideBreaker,
				),
				orchestrator.Module,
				fx.Populate(&orch, &cb),
			)
			if err := app.Start(c.Context); err != nil {
				return err
			}
			defer app.Stop(context.Background())
			if err := cb.StartAsync(c.Context); err != nil {
				return err
			}

			return runWatch(orch, cb, cfg.Breaker.FailureThreshold, c.Duration("interval"))
		},
	}
}

func runWatch(orch *orchestrator.Orchestrator, cb *breaker.Breaker, failureThreshold int, interval time.Duration) error {
	if err := ui.Init(); err != nil {
		return fmt.Errorf("watch: termui init: %w", err)
	}
	defer ui.Close()

	stats := widgets.NewParagraph()
	stats.Title = "orchestrator"
	stats.SetRect(0, 0, 60, 9)

	gauge := widgets.NewGauge()
	gauge.Title = "breaker failures vs threshold"
	gauge.SetRect(0, 9, 60, 12)
	gauge.BarColor = ui.ColorRed

	render := func() {
		snap := orch.GetStats()
		bs := cb.GetStats()
		stats.Text = fmt.Sprintf(
			"registered machines: %d\nevents processed:     %d\nevents failed:        %d\nqueued now:           %d\n\nbreaker state:        %s\nbreaker successes:    %d",
			snap.RegisteredMachines, snap.PerBus.Processed, snap.PerBus.Failed, snap.PerBus.QueuedNow,
			bs.State, bs.SuccessCount,
		)

		pct := 0
		if failureThreshold > 0 {
			pct = bs.FailureCount * 100 / failureThreshold
		}
		gauge.Percent = minInt(pct, 100)
		gauge.Label = fmt.Sprintf("%d failures", bs.FailureCount)

		ui.Render(stats, gauge)
	}

	render()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	uiEvents := ui.PollEvents()
	for {
		select {
		case e := <-uiEvents:
			switch e.ID {
			case "q", "<C-c>":
				return nil
			}
		case <-ticker.C:
			render()
		}
	}
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
