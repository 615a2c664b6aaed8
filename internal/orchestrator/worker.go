package orchestrator

import (
	"context"
	"fmt"
	"time"
)

// workerPool is the fixed set of P workers described in §4.4. Each
// worker repeatedly pops a runnable MachineRecord off the shared
// run-queue and executes its turn algorithm to completion before
// returning to the pool.
type workerPool struct {
	orch  *Orchestrator
	queue *runQueue
	done  chan struct{}
}

func newWorkerPool(orch *Orchestrator) *workerPool {
	return &workerPool{orch: orch, queue: newRunQueue()}
}

func (p *workerPool) start(n int) {
	p.done = make(chan struct{})
	for i := 0; i < n; i++ {
		go p.loop(i)
	}
}

func (p *workerPool) stop() {
	p.queue.shutdown()
}

func (p *workerPool) loop(workerID int) {
	for {
		rec, ok := p.queue.pop()
		if !ok {
			return
		}
		if !rec.mailbox.acquire() {
			// Lost the race (closed, or already picked up) — drop it,
			// whoever holds it now is responsible for rescheduling.
			continue
		}
		p.runTurn(rec)
	}
}

// runTurn implements the §4.4 turn algorithm: an atomic transition plus
// any cascaded self-sends, bounded by MaxMicroStepsPerTurn.
func (p *workerPool) runTurn(rec *MachineRecord) {
	steps := 0
	for {
		env, ok := rec.mailbox.dequeue()
		if !ok {
			break
		}

		if env.Expired(time.Now()) {
			p.orch.completeResponse(env, failureResult(Timeout, "deadline passed before dispatch"))
			p.orch.metrics.recordFailure(rec.ID)
			continue
		}

		result := p.process(rec, env)
		p.orch.applyOutbox(rec, result.outbox)
		p.orch.completeResponse(env, result.toResult())
		if result.err != nil {
			rec.stats.failed.Add(1)
			p.orch.metrics.recordFailure(rec.ID)
			if p.orch.config.EnableLogging {
				p.orch.logger.Warn("turn failed", "machine", rec.ID, "event", env.EventName, "envelope", env.ID, "err", result.err)
			}
		} else {
			rec.stats.processed.Add(1)
			p.orch.metrics.recordSuccess(rec.ID)
		}
		p.orch.metrics.recordProcessed()

		steps++
		if rec.mailbox.hasSelfWork() && steps < p.orch.config.MaxMicroStepsPerTurn {
			continue
		}
		break
	}

	if runnable := rec.mailbox.release(); runnable {
		p.queue.push(rec)
	}
}

type turnOutcome struct {
	newState string
	outbox   []OutboxEntry
	err      error
	errKind  ErrorKind
}

func (o turnOutcome) toResult() Result {
	if o.err != nil {
		kind := o.errKind
		if kind == NoError {
			kind = MachineFault
		}
		return failureResult(kind, o.err.Error())
	}
	return successResult(o.newState)
}

// process runs a single transition against the adapter, translating
// deadline expiry and adapter faults into the taxonomy from §7.
func (p *workerPool) process(rec *MachineRecord, env Envelope) turnOutcome {
	ctx := context.Background()
	var cancel context.CancelFunc
	if env.HasDeadline() {
		ctx, cancel = context.WithDeadline(ctx, env.Deadline)
		defer cancel()
	}

	octx := NewOrchestratedContext(rec.ID)
	ctx = WithOrchestratedContext(ctx, octx)

	adapterResult, err := safeProcessEvent(ctx, rec.Adapter, env.EventName, env.Payload)
	if err != nil {
		if ctx.Err() != nil {
			return turnOutcome{err: fmt.Errorf("%s: %w", env.EventName, err), errKind: Timeout}
		}
		if orchErr, ok := err.(*Error); ok {
			return turnOutcome{err: fmt.Errorf("%s: %w", env.EventName, err), errKind: orchErr.Kind}
		}
		return turnOutcome{err: fmt.Errorf("%s: %w", env.EventName, err), errKind: MachineFault}
	}
	if adapterResult.Fault != nil {
		if orchErr, ok := adapterResult.Fault.(*Error); ok {
			return turnOutcome{err: adapterResult.Fault, errKind: orchErr.Kind}
		}
		return turnOutcome{err: adapterResult.Fault, errKind: MachineFault}
	}

	outbox := adapterResult.Outbox
	outbox = append(outbox, octx.Outbox()...)

	p.orch.scheduleInvokes(rec, octx.invokeRequests())
	if act := octx.activityRequestOrNil(); act != nil {
		p.orch.scheduleActivity(rec, act)
	}
	for _, name := range octx.activityStopRequests() {
		p.orch.stopActivity(rec, name)
	}

	return turnOutcome{newState: adapterResult.NewState, outbox: outbox}
}

// safeProcessEvent isolates a panic inside adapter code to a single
// turn (§4.4 "Fatal faults in step 3" / §7 "Machine faults").
func safeProcessEvent(ctx context.Context, adapter MachineAdapter, eventName string, payload any) (result AdapterResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in ProcessEventAsync: %v", r)
		}
	}()
	result, err = adapter.ProcessEventAsync(ctx, eventName, payload)
	return result, err
}
