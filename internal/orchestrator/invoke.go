package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// invokeCompletion is the payload published on the invoke bus once a
// RequestInvoke'd function returns. It carries enough to translate back
// into a done.invoke.<name>/error.invoke.<name> self-send (§9).
type invokeCompletion struct {
	MachineID string `json:"machineId"`
	Name      string `json:"name"`
	Success   bool   `json:"success"`
	Value     any    `json:"value,omitempty"`
	Err       string `json:"err,omitempty"`
}

const invokeTopic = "orchestrator.invoke.completions"

// invokeBus models §9's "Invoke/services with onDone/onError": an
// invoked async operation completes on its own goroutine and publishes
// onto an in-process watermill GoChannel topic; a single drain goroutine
// turns each message into a self-send on the owning machine's mailbox.
// Using watermill's own GoChannel implementation (no broker) keeps this
// entirely in-process — distributed delivery is out of scope (§1).
type invokeBus struct {
	orch *Orchestrator

	pubsub *gochannel.GoChannel
	cancel context.CancelFunc
	wg     sync.WaitGroup

	activitiesMu sync.Mutex
	activities   map[string]map[string]chan struct{} // machineID -> activity name -> stop
}

func newInvokeBus(orch *Orchestrator) *invokeBus {
	return &invokeBus{
		orch:       orch,
		activities: make(map[string]map[string]chan struct{}),
	}
}

func (b *invokeBus) start(ctx context.Context) error {
	b.pubsub = gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})

	runCtx, cancel := context.WithCancel(ctx)
	b.cancel = cancel

	messages, err := b.pubsub.Subscribe(runCtx, invokeTopic)
	if err != nil {
		return fmt.Errorf("invoke bus: subscribe: %w", err)
	}

	b.wg.Add(1)
	go b.drain(messages)
	return nil
}

func (b *invokeBus) drain(messages <-chan *message.Message) {
	defer b.wg.Done()
	for msg := range messages {
		var completion invokeCompletion
		if err := json.Unmarshal(msg.Payload, &completion); err != nil {
			msg.Ack()
			continue
		}

		eventName := "done.invoke." + completion.Name
		payload := completion.Value
		if !completion.Success {
			eventName = "error.invoke." + completion.Name
			payload = completion.Err
		}
		b.orch.selfSendFromInvoke(completion.MachineID, eventName, payload)
		msg.Ack()
	}
}

func (b *invokeBus) stop() {
	if b.cancel != nil {
		b.cancel()
	}
	if b.pubsub != nil {
		_ = b.pubsub.Close()
	}
	b.wg.Wait()

	b.activitiesMu.Lock()
	for _, byName := range b.activities {
		for _, stop := range byName {
			close(stop)
		}
	}
	b.activities = make(map[string]map[string]chan struct{})
	b.activitiesMu.Unlock()
}

// scheduleInvokes runs each pending invoke on its own goroutine and
// publishes its outcome back through the invoke bus once it returns.
func (o *Orchestrator) scheduleInvokes(rec *MachineRecord, invokes []pendingInvoke) {
	for _, inv := range invokes {
		inv := inv
		go func() {
			value, err := inv.fn()
			completion := invokeCompletion{MachineID: rec.ID, Name: inv.name, Success: err == nil, Value: value}
			if err != nil {
				completion.Err = err.Error()
			}
			payload, marshalErr := json.Marshal(completion)
			if marshalErr != nil {
				return
			}
			msg := message.NewMessage(watermill.NewUUID(), payload)
			_ = o.invokes.pubsub.Publish(invokeTopic, msg)
		}()
	}
}

// scheduleActivity acquires a cancelable background task for the state
// being entered (§9 Activities). A second RequestActivity under the same
// name replaces the previous handle's stop channel registration but does
// not implicitly cancel the earlier goroutine — callers are expected to
// StopActivity explicitly on state exit.
func (o *Orchestrator) scheduleActivity(rec *MachineRecord, act *activityRequest) {
	stop := make(chan struct{})

	o.invokes.activitiesMu.Lock()
	byName, ok := o.invokes.activities[rec.ID]
	if !ok {
		byName = make(map[string]chan struct{})
		o.invokes.activities[rec.ID] = byName
	}
	byName[act.name] = stop
	o.invokes.activitiesMu.Unlock()

	go func() {
		defer func() {
			if r := recover(); r != nil {
				o.selfSendFromInvoke(rec.ID, "activity.error."+act.name, fmt.Sprintf("%v", r))
			}
		}()
		act.fn(stop)
	}()
}

// stopActivity cancels a previously acquired activity by closing its
// stop channel (§9: "guaranteed cancellation on state exit").
func (o *Orchestrator) stopActivity(rec *MachineRecord, name string) {
	o.invokes.activitiesMu.Lock()
	defer o.invokes.activitiesMu.Unlock()
	byName, ok := o.invokes.activities[rec.ID]
	if !ok {
		return
	}
	if stop, ok := byName[name]; ok {
		close(stop)
		delete(byName, name)
	}
}
