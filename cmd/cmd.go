package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"github.com/urfave/cli/v2"
	"go.uber.org/fx"

	appconfig "github.com/digitect38/xstatenet/config"
	"github.com/digitect38/xstatenet/internal/breaker"
	"github.com/digitect38/xstatenet/internal/orchestrator"
	"github.com/digitect38/xstatenet/internal/statechart"
)

const (
	ServiceName      = "xstatenet"
	ServiceNamespace = "digitect38"
)

var (
	version        = "0.0.0"
	commit         = "hash"
	commitDate     = time.Now().String()
	branch         = "branch"
	buildTimestamp = ""
)

// Run mirrors the teacher's cmd.Run: a single urfave/cli App dispatching
// to named subcommands, each loading its own config via config_file.
func Run() error {
	app := &cli.App{
		Name:  ServiceName,
		Usage: "EventBusOrchestrator demo — statechart runtime coordinator",
		Commands: []*cli.Command{
			serverCmd(),
			pingPongCmd(),
			breakerDemoCmd(),
			watchCmd(),
		},
	}

	return app.Run(os.Args)
}

func configFlag() cli.Flag {
	return &cli.StringFlag{
		Name:  "config_file",
		Usage: "Path to the configuration file",
	}
}

// loadConfig defers all flag parsing to urfave/cli itself. The pflag set
// built here is never parsed: it only registers every config key, at
// its default, with viper, so env vars still layer on top via
// viper.AutomaticEnv.
func loadConfig(c *cli.Context) (*appconfig.Config, error) {
	keys := pflag.NewFlagSet("config", pflag.ContinueOnError)
	appconfig.BindFlags(keys)
	return appconfig.LoadConfig(c.String("config_file"), keys)
}

func serverCmd() *cli.Command {
	return &cli.Command{
		Name:    "server",
		Aliases: []string{"s"},
		Usage:   "Run the orchestrator with its hosted circuit breaker, optionally serving the dashboard",
		Flags: []cli.Flag{
			configFlag(),
			&cli.BoolFlag{Name: "dashboard", Usage: "serve the stats/ws dashboard"},
			&cli.StringFlag{Name: "dashboard_addr", Usage: "dashboard listen address", Value: ":8088"},
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			if c.Bool("dashboard") {
				cfg.Dashboard.Enabled = true
			}
			if c.String("dashboard_addr") != "" {
				cfg.Dashboard.Addr = c.String("dashboard_addr")
			}

			app := NewApp(cfg)
			if err := app.Start(c.Context); err != nil {
				return err
			}

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
			<-stop

			slog.Info("shutting down")
			return app.Stop(context.Background())
		},
	}
}

// pingPongCmd demonstrates the deadlock-free deferred-outbox design
// (§1, §9): two machines repeatedly send to each other through the
// deferred outbox without any synchronous cross-machine call.
func pingPongCmd() *cli.Command {
	return &cli.Command{
		Name:  "pingpong",
		Usage: "Drive a ping/pong pair of machines through the orchestrator",
		Flags: []cli.Flag{
			configFlag(),
			&cli.IntFlag{Name: "rounds", Value: 5, Usage: "number of NEXT events to send to ping"},
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}

			var (
				orch   *orchestrator.Orchestrator
				logger *slog.Logger
				cb     *breaker.Breaker
			)
			app := fx.New(
				fx.Provide(
					func() *appconfig.Config { return cfg },
					ProvideLogger,
					ProvideOrchestratorConfig,
					ProvideBreaker,
				),
				orchestrator.Module,
				fx.Populate(&orch, &logger, &cb),
			)
			if err := app.Start(c.Context); err != nil {
				return err
			}
			defer app.Stop(context.Background())

			pingDef, err := statechart.NewBuilder("ping", "idle").
				State("idle").On("idle", "NEXT", "waiting", nil, func(ctx *statechart.Context, _ statechart.Event) {
				ctx.Send("pong", "PING", nil)
			}).
				State("waiting").On("waiting", "PONG", "idle", nil, nil).
				Build()
			if err != nil {
				return err
			}
			pongDef, err := statechart.NewBuilder("pong", "idle").
				State("idle").On("idle", "PING", "idle", nil, func(ctx *statechart.Context, _ statechart.Event) {
				ctx.Send("ping", "PONG", nil)
			}).
				Build()
			if err != nil {
				return err
			}

			pingAdapter := statechart.NewAdapter(pingDef)
			pongAdapter := statechart.NewAdapter(pongDef)
			if _, err := orch.RegisterMachine("ping", pingAdapter, nil); err != nil {
				return err
			}
			if _, err := orch.RegisterMachine("pong", pongAdapter, nil); err != nil {
				return err
			}
			if err := orch.StartMachineAsync(c.Context, "ping"); err != nil {
				return err
			}
			if err := orch.StartMachineAsync(c.Context, "pong"); err != nil {
				return err
			}

			rounds := c.Int("rounds")
			for i := 0; i < rounds; i++ {
				result := orch.SendEventAsync(c.Context, "cli", "ping", "NEXT", nil, cfg.Orchestrator.DefaultTimeout)
				if !result.Success {
					return fmt.Errorf("round %d: %s", i, result.Error.Message)
				}
				fmt.Printf("round %d: ping=%s pong=%s\n", i, pingAdapter.CurrentState(), pongAdapter.CurrentState())
			}
			return nil
		},
	}
}

// breakerDemoCmd drives the OrchestratedCircuitBreaker (§4.8) through a
// scripted sequence of failures and successes, printing its state after
// each call so the closed -> open -> halfOpen -> closed cycle is visible.
func breakerDemoCmd() *cli.Command {
	return &cli.Command{
		Name:  "breaker-demo",
		Usage: "Trip and recover the OrchestratedCircuitBreaker",
		Flags: []cli.Flag{
			configFlag(),
			&cli.IntFlag{Name: "failures", Value: 6, Usage: "number of failing calls to execute before recovering"},
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

			boom := errors.New("downstream unavailable")
			failing := func(context.Context) error { return boom }
			ok := func(context.Context) error { return nil }

			for i := 0; i < c.Int("failures"); i++ {
				err := cb.ExecuteAsync(c.Context, failing)
				time.Sleep(10 * time.Millisecond) // let the fire-and-forget outcome event land before printing
				stats := cb.GetStats()
				fmt.Printf("call %d: err=%v state=%s failures=%d\n", i, err, stats.State, stats.FailureCount)
			}

			fmt.Println("waiting for the breaker to move to halfOpen...")
			time.Sleep(cfg.Breaker.OpenDuration + 50*time.Millisecond)

			err = cb.ExecuteAsync(c.Context, ok)
			stats := cb.GetStats()
			fmt.Printf("probe: err=%v state=%s\n", err, stats.State)
			return nil
		},
	}
}
