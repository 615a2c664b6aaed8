package breaker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/digitect38/xstatenet/internal/orchestrator"
	"github.com/digitect38/xstatenet/internal/statechart"
)

// breakerAdapter hosts the closed/open/halfOpen chart described by
// §4.8. "admit" (ExecuteAsync's gate check) is handled ahead of the
// generic statechart dispatch because it needs to reject without
// mutating state — a statechart transition always commits to some
// target, which doesn't fit "reject, stay exactly where you are,
// admit nobody else" for the halfOpen-herd case.
type breakerAdapter struct {
	def    *statechart.Definition
	params Params

	mu           sync.Mutex
	machine      *statechart.Machine
	failureCount int
	successCount int
	openedAt     time.Time
	probeOut     bool

	stopped atomic.Bool
}

func newBreakerAdapter(params Params) *breakerAdapter {
	return &breakerAdapter{def: buildBreakerChart(params), params: params}
}

// buildBreakerChart wires the failure/success/probe/reset transitions
// of §4.8, including the open→halfOpen delayed transition armed by
// openDuration via Builder.After — the same delayed-self mechanism
// any other hosted chart uses, not a bespoke timer. It does not model
// "admit" — that is handled in ProcessEventAsync directly, see the
// breakerAdapter doc comment. A fresh Definition is built per breaker
// instance since openDuration is baked into the After() delay.
func buildBreakerChart(params Params) *statechart.Definition {
	b := statechart.NewBuilder("circuitBreaker", StateClosed)
	b.State(StateClosed).
		On(StateClosed, "failure", StateOpen, thresholdReached, nil).
		On(StateClosed, "failure", StateClosed, nil, nil).
		On(StateClosed, "success", StateClosed, nil, nil).
		On(StateClosed, "reset", StateClosed, nil, nil)

	b.State(StateOpen).
		After(StateOpen, params.OpenDuration.Milliseconds(), StateHalfOpen, nil).
		On(StateOpen, "reset", StateClosed, nil, nil)

	b.State(StateHalfOpen).
		On(StateHalfOpen, "probe.success", StateClosed, nil, nil).
		On(StateHalfOpen, "probe.failure", StateOpen, nil, nil).
		On(StateHalfOpen, "reset", StateClosed, nil, nil)

	return b.MustBuild()
}

// thresholdReached is a Guard; the counter itself lives on
// breakerAdapter rather than Ext(), since it needs to persist across
// calls while Ext() is handed to Send fresh from extState() each time.
func thresholdReached(ctx *statechart.Context, event statechart.Event) bool {
	check, _ := ctx.Ext()["__thresholdCheck"].(func() bool)
	return check != nil && check()
}

func (a *breakerAdapter) StartAsync(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.machine == nil {
		a.machine = statechart.New(a.def)
		a.machine.Start(noopRecorder{})
	}
	return nil
}

func (a *breakerAdapter) StopAsync(ctx context.Context) error {
	a.stopped.Store(true)
	return nil
}

func (a *breakerAdapter) CurrentState() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.machine == nil {
		return StateClosed
	}
	return a.machine.Current()
}

func (a *breakerAdapter) ProcessEventAsync(ctx context.Context, eventName string, payload any) (orchestrator.AdapterResult, error) {
	if a.stopped.Load() {
		return orchestrator.AdapterResult{}, &orchestrator.Error{Kind: orchestrator.Shutdown, Message: "breaker stopped"}
	}

	octx, ok := orchestrator.FromContext(ctx)
	if !ok {
		return orchestrator.AdapterResult{}, errNoOrchestratedContext
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.machine == nil {
		a.machine = statechart.New(a.def)
		a.machine.Start(noopRecorder{})
	}

	switch eventName {
	case "admit":
		return a.admitLocked()
	case "configure.threshold":
		if threshold, ok := payload.(int); ok && threshold > 0 {
			a.params.FailureThreshold = threshold
		}
		return orchestrator.AdapterResult{NewState: a.machine.Current()}, nil
	}

	// A plain "success"/"failure" outcome (from ExecuteAsync or
	// RecordSuccessAsync/RecordFailureAsync) means something different
	// depending on who's calling: in closed/open it's just a counter
	// update, but in halfOpen it's the outcome of the single admitted
	// probe, which the chart only models as "probe.success"/
	// "probe.failure" — closed's own "failure" transition would
	// otherwise never match halfOpen and the event would silently no-op,
	// leaving probeOut stuck true forever.
	dispatchName := eventName
	if a.machine.Current() == StateHalfOpen {
		switch eventName {
		case "success":
			dispatchName = "probe.success"
		case "failure":
			dispatchName = "probe.failure"
		}
	}

	recorder := &contextRecorder{octx: octx}
	if err := a.machine.Send(recorder, statechart.Event{Name: dispatchName, Payload: payload}, a.extState()); err != nil {
		return orchestrator.AdapterResult{}, err
	}
	a.recordOutcomeLocked(dispatchName)

	return orchestrator.AdapterResult{NewState: a.machine.Current()}, nil
}

// recordOutcomeLocked updates the counters/timestamps §4.9's Stats
// reports. Called with a.mu already held, after the chart transition
// for eventName has committed.
func (a *breakerAdapter) recordOutcomeLocked(eventName string) {
	switch eventName {
	case "failure":
		a.failureCount++
		if a.machine.Current() == StateOpen && a.openedAt.IsZero() {
			a.openedAt = time.Now()
		}
	case "success":
		a.successCount++
	case "probe.failure":
		a.failureCount++
		a.openedAt = time.Now()
	case "probe.success":
		a.failureCount = 0
		a.successCount = 0
		a.openedAt = time.Time{}
	case "reset":
		a.failureCount = 0
		a.successCount = 0
		a.openedAt = time.Time{}
	}
	if a.machine.Current() != StateHalfOpen {
		a.probeOut = false
	}
}

// admitLocked implements the admission rules of §4.8 without routing
// through the generic statechart dispatch: open always rejects, closed
// always admits, halfOpen admits exactly one outstanding probe.
func (a *breakerAdapter) admitLocked() (orchestrator.AdapterResult, error) {
	switch a.machine.Current() {
	case StateOpen:
		return orchestrator.AdapterResult{}, &orchestrator.Error{Kind: orchestrator.BreakerOpen, Message: "circuit open"}
	case StateHalfOpen:
		if a.probeOut {
			return orchestrator.AdapterResult{}, &orchestrator.Error{Kind: orchestrator.BreakerOpen, Message: "probe already in flight"}
		}
		a.probeOut = true
		return orchestrator.AdapterResult{NewState: StateHalfOpen}, nil
	default:
		return orchestrator.AdapterResult{NewState: StateClosed}, nil
	}
}

func (a *breakerAdapter) extState() map[string]any {
	return map[string]any{
		"__thresholdCheck": func() bool { return a.failureCount+1 >= a.params.FailureThreshold },
	}
}

func (a *breakerAdapter) stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	state := StateClosed
	if a.machine != nil {
		state = a.machine.Current()
	}
	stats := Stats{
		State:        state,
		FailureCount: a.failureCount,
		SuccessCount: a.successCount,
		OpenedAt:     a.openedAt,
	}
	if state == StateOpen && !a.openedAt.IsZero() {
		remaining := a.params.OpenDuration - time.Since(a.openedAt)
		if remaining > 0 {
			stats.RemainingOpenMs = remaining.Milliseconds()
		}
	}
	return stats
}

// contextRecorder bridges statechart's OutboxRecorder to the live
// OrchestratedContext for this turn; RequestDelayedSelf reaches the
// After()-armed open→halfOpen transition through the same invoke-based
// timer the statechart package's own Adapter uses.
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

// noopRecorder is used only for StartAsync, which runs outside any
// turn. The initial `closed` state arms no After() timer here, but even
// if it did, Machine.Send re-issues any initial-state timers against
// the real recorder on the chart's first turn.
type noopRecorder struct{}

func (noopRecorder) RequestSend(string, string, any)  {}
func (noopRecorder) RequestSelfSend(string, any)      {}
func (noopRecorder) RequestBroadcast(string, any)     {}
func (noopRecorder) RequestDelayedSelf(string, int64) {}

var errNoOrchestratedContext = fmt.Errorf("breaker: no OrchestratedContext on context; adapter must run inside an orchestrator turn")
