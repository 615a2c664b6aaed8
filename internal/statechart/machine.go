// Package statechart implements the minimal hierarchical state machine
// that the orchestrator hosts: states, guarded transitions, entry/exit
// actions, delayed (after) transitions, and shallow history. It knows
// nothing about mailboxes or workers — Adapter in adapter.go is the only
// piece that talks to the orchestrator package.
package statechart

import (
	"fmt"
	"strings"
)

// Event is one transition input. Payload is opaque to the machine itself
// and handed verbatim to guards/actions.
type Event struct {
	Name    string
	Payload any
}

// Action runs as part of a transition, after the guard has passed and
// before the target state is entered. It records deferred effects on
// octx instead of mutating anything outside ctx/extCtx.
type Action func(ctx *Context, event Event)

// Guard reports whether a transition may fire. Guards must be pure
// (no side effects) so retries/no-ops don't corrupt state.
type Guard func(ctx *Context, event Event) bool

// transition describes one edge out of a state.
type transition struct {
	target string
	guard  Guard
	action Action
}

// delayedTransition fires `after` has elapsed since the state was
// entered, by self-sending a synthetic "after.<state>.<index>" event.
type delayedTransition struct {
	eventName string
	target    string
	action    Action
}

// State is one node in the chart. A state with children is compound;
// one child must be marked initial. History, when set, remembers the
// last active child across a re-entry of the parent (shallow only).
type State struct {
	Name     string
	Parent   string
	Initial  string // only meaningful when len(Children) > 0
	Children []string
	History  bool

	OnEntry []Action
	OnExit  []Action

	on    map[string][]transition
	after []delayedTransitionSpec
}

type delayedTransitionSpec struct {
	delayMs int64
	target  string
	action  Action
}

// Definition is the immutable description of a chart: its states and
// the wiring between them. Built once via Builder, then shared by every
// Machine instance created From it.
type Definition struct {
	id      string
	initial string
	states  map[string]*State
}

// Machine is one running instance of a Definition. It is NOT safe for
// concurrent use — the orchestrator adapter guarantees single-threaded
// access per §4.2's contract, so Machine itself carries no locks.
type Machine struct {
	def *Definition

	active  []string          // ordered path from root to the current leaf (or leaves, parallel regions excluded: single-active for now)
	history map[string]string // parent state name -> last active child, for shallow history

	extCtx map[string]any // user-defined extended state ("context" in SCXML terms)

	// pendingAfter holds the delayed transitions armed by the states
	// currently active, keyed by the synthetic event name. Kept on the
	// Machine instance, never on the shared Definition's State, since
	// multiple Machine instances are built from the same Definition.
	pendingAfter map[string]transition

	// deferredArm lists after-timers recorded into pendingAfter while
	// Start ran the initial state's entry actions, before any real
	// OutboxRecorder existed — Start always runs with a noopRecorder
	// (§4.2: "before the machine can receive events"), so
	// RequestDelayedSelf had nothing to actually schedule against. Send
	// re-issues these against its real recorder on the first turn, then
	// clears the list; a chart whose initial state has no after() never
	// populates it.
	deferredArm []delayedArm
}

type delayedArm struct {
	eventName string
	delayMs   int64
}

// New constructs a Machine in its uninitialized configuration; call
// Start to enter the initial state path.
func New(def *Definition) *Machine {
	return &Machine{
		def:          def,
		history:      make(map[string]string),
		extCtx:       make(map[string]any),
		pendingAfter: make(map[string]transition),
	}
}

// Start resolves the initial state path and runs entry actions top-down.
// Idempotent: a second call is a no-op.
func (m *Machine) Start(octx OutboxRecorder) {
	if len(m.active) > 0 {
		return
	}
	path := m.resolveInitialPath(m.def.initial)
	m.active = path
	ctx := &Context{machine: m, outbox: octx}
	for _, name := range path {
		m.runEntry(ctx, name, true)
	}
}

// resolveInitialPath walks down from name through Initial children until
// it reaches a leaf, recording every ancestor along the way.
func (m *Machine) resolveInitialPath(name string) []string {
	path := []string{name}
	st := m.def.states[name]
	for st != nil && len(st.Children) > 0 {
		next := st.Initial
		if hist, ok := m.history[st.Name]; ok && st.History {
			next = hist
		}
		path = append(path, next)
		st = m.def.states[next]
	}
	return path
}

// Current returns the dotted-path snapshot required by §4.2 ("dotted
// path, possibly containing parallel regions separated by a delimiter").
// This machine has no parallel regions, so the delimiter never appears.
func (m *Machine) Current() string {
	return strings.Join(m.active, ".")
}

// leaf returns the innermost active state name.
func (m *Machine) leaf() string {
	if len(m.active) == 0 {
		return ""
	}
	return m.active[len(m.active)-1]
}

// Send looks for a transition handling event.Name starting from the
// leaf and walking up through ancestors (event bubbling), recording the
// OutboxEntry-producing side effects via octx. It returns an error only
// when called before Start. A machine that does not handle an event at
// any level simply stays put, which the adapter treats as a no-op, not
// a fault — matching xstate's "unhandled event" semantics.
func (m *Machine) Send(octx OutboxRecorder, event Event, extCtx map[string]any) error {
	if len(m.active) == 0 {
		return fmt.Errorf("statechart: Send called before Start")
	}
	if extCtx != nil {
		m.extCtx = extCtx
	}

	// Re-issue any after-timers that Start armed on the initial state
	// path through a noopRecorder (see deferredArm's doc comment): this
	// is the first turn with a real recorder available, so it's the
	// earliest point a dropped initial-state timer can be made live.
	// Skip any whose state has since been exited (runExit already
	// removed it from pendingAfter).
	if len(m.deferredArm) > 0 {
		for _, d := range m.deferredArm {
			if _, stillPending := m.pendingAfter[d.eventName]; stillPending {
				octx.RequestDelayedSelf(d.eventName, d.delayMs)
			}
		}
		m.deferredArm = nil
	}

	// Delayed transitions are armed as invoke completions by the
	// adapter (see adapter.go's RequestDelayedSelf), which arrive here
	// wrapped as "done.invoke.<name>" per the invoke-completion
	// translation rule; unwrap before matching pendingAfter.
	afterName := strings.TrimPrefix(event.Name, "done.invoke.")
	if tr, ok := m.pendingAfter[afterName]; ok {
		ctx := &Context{machine: m, outbox: octx}
		m.fire(ctx, len(m.active)-1, tr, event)
		return nil
	}

	for i := len(m.active) - 1; i >= 0; i-- {
		state := m.def.states[m.active[i]]
		trs, ok := state.on[event.Name]
		if !ok {
			continue
		}
		ctx := &Context{machine: m, outbox: octx}
		for _, tr := range trs {
			if tr.guard != nil && !tr.guard(ctx, event) {
				continue
			}
			m.fire(ctx, i, tr, event)
			return nil
		}
	}
	return nil // unhandled: no-op, not an error
}

// fire exits the states from the handling ancestor down to the current
// leaf, runs the transition action, then enters the target's path.
func (m *Machine) fire(ctx *Context, handlerDepth int, tr transition, event Event) {
	// Exit from the leaf up to (and including) the handling ancestor,
	// recording shallow history for any exited compound state.
	for i := len(m.active) - 1; i >= handlerDepth; i-- {
		name := m.active[i]
		st := m.def.states[name]
		if st.Parent != "" {
			parent := m.def.states[st.Parent]
			if parent != nil && parent.History {
				m.history[parent.Name] = name
			}
		}
		m.runExit(ctx, name)
	}

	if tr.action != nil {
		tr.action(ctx, event)
	}

	newPath := m.resolveInitialPath(tr.target)
	// Entries only run for the portion of newPath not already active as
	// a shared ancestor prefix with the handling level.
	m.active = m.active[:handlerDepth]
	for _, name := range newPath {
		m.active = append(m.active, name)
		m.runEntry(ctx, name, false)
	}
}

// runEntry runs name's OnEntry actions and arms its after() timers.
// duringStart is true only when called from Start, where ctx.outbox is
// a noopRecorder and the RequestDelayedSelf call below has nothing to
// schedule against — those timers are also recorded into deferredArm so
// Send can re-issue them once a real recorder exists.
func (m *Machine) runEntry(ctx *Context, name string, duringStart bool) {
	st := m.def.states[name]
	if st == nil {
		return
	}
	for _, action := range st.OnEntry {
		action(ctx, Event{Name: "entry." + name})
	}
	for i, spec := range st.after {
		eventName := fmt.Sprintf("after.%s.%d", name, i)
		ctx.outbox.RequestDelayedSelf(eventName, spec.delayMs)
		m.pendingAfter[eventName] = transition{target: spec.target, action: spec.action}
		if duringStart {
			m.deferredArm = append(m.deferredArm, delayedArm{eventName: eventName, delayMs: spec.delayMs})
		}
	}
}

func (m *Machine) runExit(ctx *Context, name string) {
	st := m.def.states[name]
	if st == nil {
		return
	}
	for _, action := range st.OnExit {
		action(ctx, Event{Name: "exit." + name})
	}
	for i := range st.after {
		delete(m.pendingAfter, fmt.Sprintf("after.%s.%d", name, i))
	}
}

// ExtState returns the machine's extended state map, the statechart
// analog of a hosted machine's scoped variables (counters, thresholds).
func (m *Machine) ExtState() map[string]any {
	return m.extCtx
}

// OutboxRecorder is the minimal surface Machine needs during a
// transition: recording deferred sends and scheduling delayed
// self-sends. *orchestrator.OrchestratedContext satisfies this via the
// adapter's wrapper in adapter.go.
type OutboxRecorder interface {
	RequestSend(target, eventName string, payload any)
	RequestSelfSend(eventName string, payload any)
	RequestBroadcast(eventName string, payload any)
	RequestDelayedSelf(eventName string, delayMs int64)
}

// Context is handed to guards and actions. It exposes the extended
// state and the outbox recorder, mirroring OrchestratedContext's
// "only surface exposed to user actions" rule (§4.7) one level down.
type Context struct {
	machine *Machine
	outbox  OutboxRecorder
}

func (c *Context) Ext() map[string]any       { return c.machine.extCtx }
func (c *Context) Send(target, name string, payload any) {
	c.outbox.RequestSend(target, name, payload)
}
func (c *Context) SelfSend(name string, payload any) { c.outbox.RequestSelfSend(name, payload) }
func (c *Context) Broadcast(name string, payload any) {
	c.outbox.RequestBroadcast(name, payload)
}
