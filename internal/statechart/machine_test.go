package statechart

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingRecorder struct {
	sent      []string
	selfSent  []string
	broadcast []string
	delayed   []string
}

func (r *recordingRecorder) RequestSend(target, eventName string, payload any) {
	r.sent = append(r.sent, target+":"+eventName)
}
func (r *recordingRecorder) RequestSelfSend(eventName string, payload any) {
	r.selfSent = append(r.selfSent, eventName)
}
func (r *recordingRecorder) RequestBroadcast(eventName string, payload any) {
	r.broadcast = append(r.broadcast, eventName)
}
func (r *recordingRecorder) RequestDelayedSelf(eventName string, delayMs int64) {
	r.delayed = append(r.delayed, eventName)
}

func TestMachine_SimpleTransition(t *testing.T) {
	def := NewBuilder("toggle", "off").
		State("off").On("off", "TOGGLE", "on", nil, nil).
		State("on").On("on", "TOGGLE", "off", nil, nil).
		MustBuild()

	m := New(def)
	rec := &recordingRecorder{}
	m.Start(rec)
	assert.Equal(t, "off", m.Current())

	require.NoError(t, m.Send(rec, Event{Name: "TOGGLE"}, nil))
	assert.Equal(t, "on", m.Current())

	require.NoError(t, m.Send(rec, Event{Name: "TOGGLE"}, nil))
	assert.Equal(t, "off", m.Current())
}

func TestMachine_UnhandledEventIsNoop(t *testing.T) {
	def := NewBuilder("toggle", "off").
		State("off").On("off", "TOGGLE", "on", nil, nil).
		State("on").
		MustBuild()

	m := New(def)
	rec := &recordingRecorder{}
	m.Start(rec)

	require.NoError(t, m.Send(rec, Event{Name: "UNKNOWN"}, nil))
	assert.Equal(t, "off", m.Current())
}

func TestMachine_GuardBlocksTransition(t *testing.T) {
	allow := false
	def := NewBuilder("gate", "closed").
		State("closed").On("closed", "OPEN", "open", func(*Context, Event) bool { return allow }, nil).
		State("open").
		MustBuild()

	m := New(def)
	rec := &recordingRecorder{}
	m.Start(rec)

	require.NoError(t, m.Send(rec, Event{Name: "OPEN"}, nil))
	assert.Equal(t, "closed", m.Current(), "guard returning false must block the transition")

	allow = true
	require.NoError(t, m.Send(rec, Event{Name: "OPEN"}, nil))
	assert.Equal(t, "open", m.Current())
}

func TestMachine_EntryExitActionsAndOutbox(t *testing.T) {
	var entered, exited []string
	def := NewBuilder("door", "closed").
		State("closed").
		OnExit("closed", func(ctx *Context, _ Event) {
			exited = append(exited, "closed")
			ctx.Send("peer", "DOOR_CLOSING", nil)
		}).
		On("closed", "OPEN", "open", nil, func(ctx *Context, _ Event) {
			ctx.Broadcast("DOOR_CHANGED", nil)
		}).
		State("open").
		OnEntry("open", func(ctx *Context, _ Event) {
			entered = append(entered, "open")
			ctx.SelfSend("SETTLE", nil)
		}).
		MustBuild()

	m := New(def)
	rec := &recordingRecorder{}
	m.Start(rec)

	require.NoError(t, m.Send(rec, Event{Name: "OPEN"}, nil))
	assert.Equal(t, "open", m.Current())
	assert.Contains(t, exited, "closed")
	assert.Contains(t, entered, "open")
	assert.Contains(t, rec.sent, "peer:DOOR_CLOSING")
	assert.Contains(t, rec.broadcast, "DOOR_CHANGED")
	assert.Contains(t, rec.selfSent, "SETTLE")
}

func TestMachine_CompoundStateInitialPath(t *testing.T) {
	def := NewBuilder("wizard", "steps").
		Compound("steps", "step1", "step1", "step2").
		State("step1").On("step1", "NEXT", "step2", nil, nil).
		State("step2").On("step2", "DONE", "finished", nil, nil).
		State("finished").
		MustBuild()

	m := New(def)
	rec := &recordingRecorder{}
	m.Start(rec)
	assert.Equal(t, "steps.step1", m.Current())

	require.NoError(t, m.Send(rec, Event{Name: "NEXT"}, nil))
	assert.Equal(t, "steps.step2", m.Current())
}

func TestMachine_AfterTransitionArmsDelayedSelfSend(t *testing.T) {
	def := NewBuilder("bulb", "on").
		State("on").After("on", 500, "off", nil).
		State("off").
		MustBuild()

	m := New(def)
	rec := &recordingRecorder{}
	m.Start(rec)

	require.Len(t, rec.delayed, 1)
	assert.Equal(t, "after.on.0", rec.delayed[0])

	require.NoError(t, m.Send(rec, Event{Name: "done.invoke.after.on.0"}, nil))
	assert.Equal(t, "off", m.Current())
}

// silentRecorder stands in for adapter.go's noopRecorder: it drops
// RequestDelayedSelf the way Start's caller does, since no real
// OrchestratedContext exists yet outside a turn.
type silentRecorder struct{}

func (silentRecorder) RequestSend(string, string, any)  {}
func (silentRecorder) RequestSelfSend(string, any)      {}
func (silentRecorder) RequestBroadcast(string, any)     {}
func (silentRecorder) RequestDelayedSelf(string, int64) {}

func TestMachine_InitialStateAfterTimerArmedOnFirstRealTurn(t *testing.T) {
	def := NewBuilder("bulb", "on").
		State("on").After("on", 500, "off", nil).
		State("off").
		MustBuild()

	m := New(def)
	m.Start(silentRecorder{}) // the timer is recorded into pendingAfter but not actually scheduled

	rec := &recordingRecorder{}
	require.NoError(t, m.Send(rec, Event{Name: "UNRELATED"}, nil))
	require.Len(t, rec.delayed, 1, "Send must re-arm the initial state's dropped after-timer on the first real turn")
	assert.Equal(t, "after.on.0", rec.delayed[0])

	require.NoError(t, m.Send(rec, Event{Name: "done.invoke.after.on.0"}, nil))
	assert.Equal(t, "off", m.Current())
}

func TestMachine_ExtStateVisibleToActions(t *testing.T) {
	def := NewBuilder("counter", "idle").
		State("idle").On("idle", "BUMP", "idle", nil, func(ctx *Context, _ Event) {
		n, _ := ctx.Ext()["n"].(int)
		ctx.Ext()["n"] = n + 1
	}).
		MustBuild()

	m := New(def)
	rec := &recordingRecorder{}
	m.Start(rec)

	ext := map[string]any{"n": 0}
	require.NoError(t, m.Send(rec, Event{Name: "BUMP"}, ext))
	require.NoError(t, m.Send(rec, Event{Name: "BUMP"}, ext))
	assert.Equal(t, 2, ext["n"])
}

func TestBuilder_RejectsUndeclaredTarget(t *testing.T) {
	_, err := NewBuilder("bad", "start").
		State("start").On("start", "GO", "ghost", nil, nil).
		Build()
	require.Error(t, err)
}

func TestBuilder_RejectsUnknownInitialState(t *testing.T) {
	_, err := NewBuilder("bad", "missing").State("start").Build()
	require.Error(t, err)
}
