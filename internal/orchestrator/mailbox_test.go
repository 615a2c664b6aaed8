package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMailbox_EnqueueExternalMarksRunnableOnce(t *testing.T) {
	mb := newMailbox("m", 2)

	env := newEnvelope("src", "m", "EVT", nil, External, PriorityNormal, 0)
	runnable, err := mb.enqueueExternal(env)
	require.Nil(t, err)
	assert.True(t, runnable)

	env2 := newEnvelope("src", "m", "EVT2", nil, External, PriorityNormal, 0)
	runnable2, err2 := mb.enqueueExternal(env2)
	require.Nil(t, err2)
	assert.False(t, runnable2, "mailbox already scheduled, second enqueue must not re-signal runnable")
}

func TestMailbox_BackpressureAtCapacity(t *testing.T) {
	mb := newMailbox("m", 1)
	_, err := mb.enqueueExternal(newEnvelope("src", "m", "A", nil, External, PriorityNormal, 0))
	require.Nil(t, err)

	_, err2 := mb.enqueueExternal(newEnvelope("src", "m", "B", nil, External, PriorityNormal, 0))
	require.NotNil(t, err2)
	assert.Equal(t, Backpressure, err2.Kind)
}

func TestMailbox_ClosedRejectsEnqueue(t *testing.T) {
	mb := newMailbox("m", 4)
	mb.close()
	_, err := mb.enqueueExternal(newEnvelope("src", "m", "A", nil, External, PriorityNormal, 0))
	require.NotNil(t, err)
	assert.Equal(t, Shutdown, err.Kind)

	assert.False(t, mb.enqueueSelf(newEnvelope("m", "m", "SELF", nil, SelfSend, PriorityNormal, 0)))
}

func TestMailbox_DequeueOrdersSelfThenPriorityThenExternal(t *testing.T) {
	mb := newMailbox("m", 8)

	_, err := mb.enqueueExternal(newEnvelope("src", "m", "EXT", nil, External, PriorityNormal, 0))
	require.Nil(t, err)
	_, err = mb.enqueueExternal(newEnvelope("src", "m", "PRIO", nil, External, PriorityHigh, 0))
	require.Nil(t, err)
	mb.enqueueSelf(newEnvelope("m", "m", "SELF", nil, SelfSend, PriorityNormal, 0))

	first, ok := mb.dequeue()
	require.True(t, ok)
	assert.Equal(t, "SELF", first.EventName)

	second, ok := mb.dequeue()
	require.True(t, ok)
	assert.Equal(t, "PRIO", second.EventName)

	third, ok := mb.dequeue()
	require.True(t, ok)
	assert.Equal(t, "EXT", third.EventName)

	_, ok = mb.dequeue()
	assert.False(t, ok)
}

func TestMailbox_AcquireExclusivity(t *testing.T) {
	mb := newMailbox("m", 4)
	assert.True(t, mb.acquire())
	assert.False(t, mb.acquire(), "a second acquire while Running must fail")

	runnable := mb.release()
	assert.False(t, runnable, "nothing queued, release should not reschedule")

	assert.True(t, mb.acquire())
}

func TestMailbox_ReleaseReschedulesWhenWorkArrivedMidTurn(t *testing.T) {
	mb := newMailbox("m", 4)
	require.True(t, mb.acquire())

	_, err := mb.enqueueExternal(newEnvelope("src", "m", "EXT", nil, External, PriorityNormal, 0))
	require.Nil(t, err)

	assert.True(t, mb.release())
}

func TestMailbox_CloseDrainsAllQueues(t *testing.T) {
	mb := newMailbox("m", 8)
	_, err := mb.enqueueExternal(newEnvelope("src", "m", "EXT", nil, External, PriorityNormal, 0))
	require.Nil(t, err)
	mb.enqueueSelf(newEnvelope("m", "m", "SELF", nil, SelfSend, PriorityNormal, 0))

	drained := mb.close()
	assert.Len(t, drained, 2)
	assert.Equal(t, 0, mb.depth())
}
