package orchestrator

import "context"

type octxKeyType struct{}

var octxKey octxKeyType

// WithOrchestratedContext attaches octx to ctx so adapter action code can
// retrieve it via FromContext. The worker does this once per turn before
// calling MachineAdapter.ProcessEventAsync.
func WithOrchestratedContext(ctx context.Context, octx *OrchestratedContext) context.Context {
	return context.WithValue(ctx, octxKey, octx)
}

// FromContext retrieves the OrchestratedContext the orchestrator attached
// for the transition currently in progress. Action code calls this
// instead of receiving the context as an explicit parameter, matching
// how the statechart adapter wires actions.
func FromContext(ctx context.Context) (*OrchestratedContext, bool) {
	octx, ok := ctx.Value(octxKey).(*OrchestratedContext)
	return octx, ok
}

// OutboxEntry is one deferred send accumulated by an OrchestratedContext
// during a transition. It is published by the worker only after the
// transition that produced it has committed (§4.3 Data Model).
type OutboxEntry struct {
	Target    string
	EventName string
	Payload   any
	SelfSend  bool
	Broadcast bool
}

// OrchestratedContext is the only surface exposed to user actions (§4.7).
// Every method here is non-blocking and purely appends to an in-memory
// outbox; nothing here takes mailbox ownership of another machine or
// waits on a reply. That single rule is what makes the runtime
// deadlock-free against bidirectional send patterns — an action can
// never become the second lock in a cycle.
type OrchestratedContext struct {
	machineID    string
	outbox       []OutboxEntry
	invokes      []pendingInvoke
	activity     *activityRequest
	activityStop []string
}

// NewOrchestratedContext constructs an empty context scoped to the
// machine whose transition is about to run. The worker creates one per
// turn and attaches it to the ctx passed to ProcessEventAsync.
func NewOrchestratedContext(machineID string) *OrchestratedContext {
	return &OrchestratedContext{machineID: machineID}
}

// RequestSend records a send to another machine, applied after the
// current transition commits.
func (c *OrchestratedContext) RequestSend(target, eventName string, payload any) {
	c.outbox = append(c.outbox, OutboxEntry{Target: target, EventName: eventName, Payload: payload})
}

// RequestSelfSend records a send back to the same machine. Self-sends
// are drained before any new external event is dispatched to this
// machine (§4.3 self-send priority).
func (c *OrchestratedContext) RequestSelfSend(eventName string, payload any) {
	c.outbox = append(c.outbox, OutboxEntry{Target: c.machineID, EventName: eventName, Payload: payload, SelfSend: true})
}

// RequestBroadcast records a fan-out to every other machine in the
// source machine's channel group (§4.6).
func (c *OrchestratedContext) RequestBroadcast(eventName string, payload any) {
	c.outbox = append(c.outbox, OutboxEntry{EventName: eventName, Payload: payload, Broadcast: true})
}

// Outbox returns the accumulated deferred sends. Called by the worker
// after ProcessEventAsync returns, never by user code.
func (c *OrchestratedContext) Outbox() []OutboxEntry {
	return c.outbox
}

// pendingInvoke and activityRequest back the §9 "invoke/services" and
// "activities" design notes; see invoke.go for how they are drained.
type pendingInvoke struct {
	name string
	fn   func() (any, error)
}

type activityRequest struct {
	name string
	fn   func(stop <-chan struct{})
}

// RequestInvoke schedules fn to run on a worker-pool-external goroutine.
// Its completion is translated into a done.invoke.<name>/error.invoke.<name>
// self-send once it finishes (§9 Invoke/services with onDone/onError).
func (c *OrchestratedContext) RequestInvoke(name string, fn func() (any, error)) {
	c.invokes = append(c.invokes, pendingInvoke{name: name, fn: fn})
}

// RequestActivity acquires a long-running background task bound to the
// state being entered. fn must observe stop and return promptly when it
// is closed. The orchestrator closes stop when StopActivity is requested
// for the same name in a later turn, or when the orchestrator stops;
// leaving the owning state does not close it by itself.
func (c *OrchestratedContext) RequestActivity(name string, fn func(stop <-chan struct{})) {
	c.activity = &activityRequest{name: name, fn: fn}
}

// StopActivity requests that the named activity, previously started with
// RequestActivity, be cancelled once this transition commits. Neither
// adapter in this module calls it; a caller that wants an activity
// stopped on state exit must request it from that transition.
func (c *OrchestratedContext) StopActivity(name string) {
	c.activityStop = append(c.activityStop, name)
}

func (c *OrchestratedContext) invokeRequests() []pendingInvoke {
	return c.invokes
}

func (c *OrchestratedContext) activityRequestOrNil() *activityRequest {
	return c.activity
}

func (c *OrchestratedContext) activityStopRequests() []string {
	return c.activityStop
}
