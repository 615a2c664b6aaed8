package orchestrator

import (
	"context"
	"fmt"
	"sync/atomic"
)

// funcAdapter is a minimal MachineAdapter used across this package's
// tests. It treats the transition function as the black-box
// ProcessEventAsync primitive the spec says is out of scope — tests
// exercise orchestrator behavior, never statechart semantics.
type funcAdapter struct {
	state   atomic.Value // string
	onEvent func(ctx context.Context, octx *OrchestratedContext, eventName string, payload any) (string, error)

	reentrancyGuard atomic.Int32
	started         atomic.Bool
	stopped         atomic.Bool
}

func newFuncAdapter(initial string, onEvent func(ctx context.Context, octx *OrchestratedContext, eventName string, payload any) (string, error)) *funcAdapter {
	a := &funcAdapter{onEvent: onEvent}
	a.state.Store(initial)
	return a
}

func (a *funcAdapter) StartAsync(ctx context.Context) error {
	a.started.Store(true)
	return nil
}

func (a *funcAdapter) StopAsync(ctx context.Context) error {
	a.stopped.Store(true)
	return nil
}

func (a *funcAdapter) CurrentState() string {
	return a.state.Load().(string)
}

func (a *funcAdapter) ProcessEventAsync(ctx context.Context, eventName string, payload any) (AdapterResult, error) {
	if a.reentrancyGuard.Add(1) != 1 {
		a.reentrancyGuard.Add(-1)
		return AdapterResult{}, fmt.Errorf("concurrent invocation detected")
	}
	defer a.reentrancyGuard.Add(-1)

	if a.stopped.Load() {
		return AdapterResult{}, newError(Shutdown, "machine stopped")
	}

	octx, _ := FromContext(ctx)
	newState, err := a.onEvent(ctx, octx, eventName, payload)
	if err != nil {
		return AdapterResult{}, err
	}
	a.state.Store(newState)
	return AdapterResult{NewState: newState}, nil
}
