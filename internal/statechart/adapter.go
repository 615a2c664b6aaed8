package statechart

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/digitect38/xstatenet/internal/orchestrator"
)

// Adapter implements orchestrator.MachineAdapter over a Machine,
// satisfying §4.2's contract: single-threaded ProcessEventAsync (the
// orchestrator already guarantees this per mailbox), idempotent
// StartAsync, and Shutdown once stopped.
type Adapter struct {
	machine *Machine
	stopped atomic.Bool
}

// NewAdapter wraps def as a fresh, not-yet-started Adapter.
func NewAdapter(def *Definition) *Adapter {
	return &Adapter{machine: New(def)}
}

func (a *Adapter) StartAsync(ctx context.Context) error {
	a.machine.Start(noopRecorder{})
	return nil
}

func (a *Adapter) StopAsync(ctx context.Context) error {
	a.stopped.Store(true)
	return nil
}

func (a *Adapter) CurrentState() string {
	return a.machine.Current()
}

// ProcessEventAsync adapts an orchestrator turn into a Machine.Send
// call, recording the chart's outbox directly onto the
// OrchestratedContext the worker attached to ctx.
func (a *Adapter) ProcessEventAsync(ctx context.Context, eventName string, payload any) (orchestrator.AdapterResult, error) {
	if a.stopped.Load() {
		return orchestrator.AdapterResult{}, orchestratorShutdownErr()
	}

	octx, ok := orchestrator.FromContext(ctx)
	if !ok {
		return orchestrator.AdapterResult{}, errNoOrchestratedContext
	}

	recorder := &contextRecorder{octx: octx}
	if err := a.machine.Send(recorder, Event{Name: eventName, Payload: payload}, nil); err != nil {
		return orchestrator.AdapterResult{}, err
	}
	return orchestrator.AdapterResult{NewState: a.machine.Current()}, nil
}

// contextRecorder satisfies OutboxRecorder by forwarding to the
// orchestrator's own OrchestratedContext, and schedules delayed
// self-sends via RequestInvoke (a timer is exactly a goroutine that
// sleeps then completes once, which is what invokes model).
type contextRecorder struct {
	octx *orchestrator.OrchestratedContext
}

func (r *contextRecorder) RequestSend(target, eventName string, payload any) {
	r.octx.RequestSend(target, eventName, payload)
}

func (r *contextRecorder) RequestSelfSend(eventName string, payload any) {
	r.octx.RequestSelfSend(eventName, payload)
}

func (r *contextRecorder) RequestBroadcast(eventName string, payload any) {
	r.octx.RequestBroadcast(eventName, payload)
}

func (r *contextRecorder) RequestDelayedSelf(eventName string, delayMs int64) {
	delay := time.Duration(delayMs) * time.Millisecond
	r.octx.RequestInvoke(eventName, func() (any, error) {
		time.Sleep(delay)
		return eventName, nil
	})
}

// noopRecorder is used only for Start, which may arm "after" timers on
// the initial state path before any OrchestratedContext exists (Start
// runs outside a turn, per §4.2's "before the machine can receive
// events"). Machine.Send re-issues any such timers against the real
// recorder on the chart's first turn (see Machine's deferredArm field),
// so they still fire even if the initial state is never re-entered.
type noopRecorder struct{}

func (noopRecorder) RequestSend(string, string, any)      {}
func (noopRecorder) RequestSelfSend(string, any)          {}
func (noopRecorder) RequestBroadcast(string, any)         {}
func (noopRecorder) RequestDelayedSelf(string, int64)     {}
