package orchestrator

import "context"

// AdapterResult is what a hosted machine hands back to the worker after
// processing one event. The outbox is whatever the transition's actions
// accumulated on their OrchestratedContext; it is applied by the worker
// after the transition has fully committed (§4.6).
type AdapterResult struct {
	NewState string
	Outbox   []OutboxEntry
	Fault    error
}

// MachineAdapter is the contract a hosted statechart must satisfy so its
// transitions run strictly inside the orchestrator (§4.2).
//
// The orchestrator guarantees ProcessEventAsync is never invoked
// concurrently on the same adapter instance — mailbox ownership is the
// single-writer lock, so implementations need no internal mutex around
// their own state mutation.
type MachineAdapter interface {
	// StartAsync moves the machine into its initial configuration. Must
	// be idempotent: calling it twice after the first StartAsync
	// succeeded is a no-op that returns nil.
	StartAsync(ctx context.Context) error

	// ProcessEventAsync runs exactly one transition triggered by the
	// named event. ctx carries the envelope's deadline, if any; an
	// implementation that performs blocking work should select on
	// ctx.Done(). The returned outbox is collected via the
	// OrchestratedContext the orchestrator passes through ctx.
	ProcessEventAsync(ctx context.Context, eventName string, payload any) (AdapterResult, error)

	// CurrentState returns a snapshot of the machine's configuration.
	// For machines with parallel regions this is a dot/pipe delimited
	// path; the exact delimiter is adapter-defined.
	CurrentState() string

	// StopAsync finalizes machine state. Any ProcessEventAsync called
	// after StopAsync has returned must fail with an error whose
	// orchestrator-level surfacing is ErrorKind Shutdown.
	StopAsync(ctx context.Context) error
}
