// Package breaker hosts the OrchestratedCircuitBreaker (§4.8, C8): a
// circuit breaker whose state lives in a statechart instance running
// inside the orchestrator, instead of behind an internal mutex. Every
// mutation — a recorded failure, a config change, a probe outcome —
// goes through SendEventAsync, so "configuration updates that don't
// take effect" (the defect sony/gobreaker and its construction-captured
// config are prone to) is structurally impossible: there is only ever
// one writer, the machine's own turn.
package breaker

import (
	"context"
	"fmt"
	"time"

	"github.com/digitect38/xstatenet/internal/orchestrator"
)

// Params are the breaker's tunable thresholds (§4.8).
type Params struct {
	FailureThreshold     int
	OpenDuration         time.Duration
	HalfOpenProbeTimeout time.Duration // stored but not read: an admitted halfOpen probe has no timeout
}

// DefaultParams mirrors commonly seen gobreaker defaults, scaled down
// for a demo-friendly default.
func DefaultParams() Params {
	return Params{
		FailureThreshold:     5,
		OpenDuration:         10 * time.Second,
		HalfOpenProbeTimeout: 5 * time.Second,
	}
}

const (
	StateClosed   = "closed"
	StateOpen     = "open"
	StateHalfOpen = "halfOpen"
)

// Stats is the read-only snapshot exposed by GetStats (§4.9's
// per-breaker fields).
type Stats struct {
	State           string
	FailureCount    int
	SuccessCount    int
	OpenedAt        time.Time
	RemainingOpenMs int64
}

// Breaker wraps a named, registered machine instance and exposes the
// high-level operations described in §4.8 on top of the orchestrator's
// generic SendEventAsync/GetStats.
type Breaker struct {
	orch      *orchestrator.Orchestrator
	machineID string
	adapter   *breakerAdapter
	timeout   time.Duration
}

// New builds and registers a breaker machine named id with orch. Call
// StartAsync before routing any ExecuteAsync calls through it.
func New(orch *orchestrator.Orchestrator, id string, params Params, defaultTimeout time.Duration) (*Breaker, error) {
	adapter := newBreakerAdapter(params)
	if _, err := orch.RegisterMachine(id, adapter, nil); err != nil {
		return nil, fmt.Errorf("breaker %q: register: %w", id, err)
	}
	return &Breaker{orch: orch, machineID: id, adapter: adapter, timeout: defaultTimeout}, nil
}

// StartAsync enters the closed state.
func (b *Breaker) StartAsync(ctx context.Context) error {
	return b.orch.StartMachineAsync(ctx, b.machineID)
}

// ExecuteAsync wraps fn: if the breaker is open it fails fast with
// BreakerOpen without calling fn; in halfOpen, at most one concurrent
// caller is admitted as the probe and every other caller is rejected
// with BreakerOpen, never calling fn (§4.8 "no thundering herd"). The
// hosted machine never calls fn: ExecuteAsync calls it on the caller's
// goroutine, outside any turn, and only records success or failure
// around it, since anything the machine's transition did had to stay
// non-blocking (§4.7).
func (b *Breaker) ExecuteAsync(ctx context.Context, fn func(ctx context.Context) error) error {
	admission := b.orch.SendEventAsync(ctx, b.machineID, b.machineID, "admit", nil, b.timeout)
	if !admission.Success {
		return admission.Error
	}

	err := fn(ctx)

	event := "success"
	if err != nil {
		event = "failure"
	}
	// Fire-and-forget the outcome: the caller already has fn's result:
	// waiting on the record round-trip would add pure overhead without
	// changing anything the caller can observe.
	go b.orch.SendEventAsync(context.Background(), b.machineID, b.machineID, event, nil, b.timeout)

	return err
}

// RecordSuccessAsync/RecordFailureAsync let a caller drive the breaker
// directly, for integrations that don't want ExecuteAsync's wrapping
// (e.g. a health check loop that already ran the probe itself).
func (b *Breaker) RecordSuccessAsync(ctx context.Context) orchestrator.Result {
	return b.orch.SendEventAsync(ctx, b.machineID, b.machineID, "success", nil, b.timeout)
}

func (b *Breaker) RecordFailureAsync(ctx context.Context) orchestrator.Result {
	return b.orch.SendEventAsync(ctx, b.machineID, b.machineID, "failure", nil, b.timeout)
}

// ResetAsync returns the breaker to closed with zeroed counters (§4.8
// "Reset").
func (b *Breaker) ResetAsync(ctx context.Context) orchestrator.Result {
	return b.orch.SendEventAsync(ctx, b.machineID, b.machineID, "reset", nil, b.timeout)
}

// UpdateThresholdAsync mutates FailureThreshold through the machine's
// own turn, the concrete case §4.8 calls out: "configuration updates …
// expressed as orchestrator events; because mutation goes through a
// single machine, no locking is needed".
func (b *Breaker) UpdateThresholdAsync(ctx context.Context, threshold int) orchestrator.Result {
	return b.orch.SendEventAsync(ctx, b.machineID, b.machineID, "configure.threshold", threshold, b.timeout)
}

// GetStats returns a lock-free snapshot of the breaker's counters.
func (b *Breaker) GetStats() Stats {
	return b.adapter.stats()
}

// MachineID is the id this breaker was registered under, for composing
// CurrentState lookups against orchestrator.Orchestrator.GetStats().
func (b *Breaker) MachineID() string { return b.machineID }
