package statechart

import (
	"context"
	"testing"
	"time"

	"github.com/digitect38/xstatenet/internal/orchestrator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func trafficLightDef(t *testing.T) *Definition {
	t.Helper()
	def, err := NewBuilder("trafficLight", "red").
		State("red").On("red", "NEXT", "green", nil, nil).
		State("green").On("green", "NEXT", "yellow", nil, nil).
		State("yellow").On("yellow", "NEXT", "red", nil, func(ctx *Context, _ Event) {
		ctx.SelfSend("CYCLED", nil)
	}).
		Build()
	require.NoError(t, err)
	return def
}

func TestAdapter_DrivesMachineThroughOrchestrator(t *testing.T) {
	orch := orchestrator.New(orchestrator.DefaultConfig(), nil)
	require.NoError(t, orch.Start(context.Background()))
	t.Cleanup(func() { _ = orch.Stop(context.Background()) })

	adapter := NewAdapter(trafficLightDef(t))
	_, err := orch.RegisterMachine("light", adapter, nil)
	require.NoError(t, err)
	require.NoError(t, orch.StartMachineAsync(context.Background(), "light"))
	assert.Equal(t, "red", adapter.CurrentState())

	r1 := orch.SendEventAsync(context.Background(), "test", "light", "NEXT", nil, time.Second)
	require.True(t, r1.Success)
	assert.Equal(t, "green", r1.NewState)

	r2 := orch.SendEventAsync(context.Background(), "test", "light", "NEXT", nil, time.Second)
	require.True(t, r2.Success)
	assert.Equal(t, "yellow", r2.NewState)

	r3 := orch.SendEventAsync(context.Background(), "test", "light", "NEXT", nil, time.Second)
	require.True(t, r3.Success)
	// yellow's transition self-sends CYCLED on top of NEXT -> red; the
	// self-send cascades within the same turn, so CurrentState settles
	// at "red" even though nothing handles CYCLED explicitly.
	require.Eventually(t, func() bool {
		return adapter.CurrentState() == "red"
	}, time.Second, 5*time.Millisecond)
}

func TestAdapter_StopThenSendFailsWithShutdown(t *testing.T) {
	orch := orchestrator.New(orchestrator.DefaultConfig(), nil)
	require.NoError(t, orch.Start(context.Background()))
	t.Cleanup(func() { _ = orch.Stop(context.Background()) })

	adapter := NewAdapter(trafficLightDef(t))
	_, err := orch.RegisterMachine("light2", adapter, nil)
	require.NoError(t, err)
	require.NoError(t, orch.StartMachineAsync(context.Background(), "light2"))

	require.NoError(t, adapter.StopAsync(context.Background()))

	r := orch.SendEventAsync(context.Background(), "test", "light2", "NEXT", nil, time.Second)
	assert.False(t, r.Success)
	assert.Equal(t, orchestrator.Shutdown, r.Error.Kind)
}
