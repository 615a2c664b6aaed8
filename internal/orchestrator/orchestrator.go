package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Config mirrors the external CreateOrchestrator(config) shape from §6.
type Config struct {
	PoolSize             int
	MailboxCapacity      int
	MaxMicroStepsPerTurn int
	DefaultTimeout       time.Duration
	EnableLogging        bool
	ShutdownDrainTimeout time.Duration
}

// DefaultConfig returns the §6 documented defaults.
func DefaultConfig() Config {
	return Config{
		PoolSize:             4,
		MailboxCapacity:      1024,
		MaxMicroStepsPerTurn: 256,
		DefaultTimeout:       30 * time.Second,
		EnableLogging:        false,
		ShutdownDrainTimeout: 5 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	if c.PoolSize <= 0 {
		c.PoolSize = 4
	}
	if c.MailboxCapacity <= 0 {
		c.MailboxCapacity = 1024
	}
	if c.MaxMicroStepsPerTurn <= 0 {
		c.MaxMicroStepsPerTurn = 256
	}
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = 30 * time.Second
	}
	if c.ShutdownDrainTimeout <= 0 {
		c.ShutdownDrainTimeout = 5 * time.Second
	}
	return c
}

// Orchestrator is the runtime that owns the registry, mailboxes,
// workers, and routing (§2, §6 CreateOrchestrator).
type Orchestrator struct {
	config Config
	logger *slog.Logger

	registry *registry
	pool     *workerPool
	metrics  *metricsCollector
	invokes  *invokeBus

	pending sync.Map // uuid.UUID -> chan Result

	stopOnce  sync.Once
	stopped   atomic.Bool
	startedAt time.Time
}

// New constructs an Orchestrator; call Start to spin up the worker pool.
func New(cfg Config, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	orch := &Orchestrator{
		config:   cfg,
		logger:   logger,
		registry: newRegistry(),
		metrics:  newMetricsCollector(),
	}
	orch.pool = newWorkerPool(orch)
	orch.invokes = newInvokeBus(orch)
	return orch
}

// Start opens the run-queue and boots the worker pool (§4.10 Lifecycle).
func (o *Orchestrator) Start(ctx context.Context) error {
	o.startedAt = time.Now()
	o.pool.start(o.config.PoolSize)
	if err := o.invokes.start(ctx); err != nil {
		return fmt.Errorf("orchestrator: starting invoke bus: %w", err)
	}
	if o.config.EnableLogging {
		o.logger.Info("orchestrator started", "poolSize", o.config.PoolSize, "mailboxCapacity", o.config.MailboxCapacity)
	}
	return nil
}

// Stop marks the registry read-only, closes every mailbox, fails the
// events still queued in them with Shutdown, unregisters every machine,
// and signals the workers to exit (§4.10). It does not wait for the
// workers or for turns already in flight; ShutdownDrainTimeout bounds
// no wait here.
func (o *Orchestrator) Stop(ctx context.Context) error {
	var err error
	o.stopOnce.Do(func() {
		o.stopped.Store(true)

		drainCtx, cancel := context.WithTimeout(ctx, o.config.ShutdownDrainTimeout)
		defer cancel()
		_ = drainCtx // turns already in flight are left to finish naturally; we don't interrupt them (§4.4 "not interrupted mid-flight")

		for _, rec := range o.registry.all() {
			drained := rec.mailbox.close()
			for _, env := range drained {
				o.completeResponse(env, failureResult(Shutdown, "orchestrator shutting down"))
			}
			o.registry.unregister(rec.ID)
		}

		o.pool.stop()
		o.invokes.stop()

		if o.config.EnableLogging {
			o.logger.Info("orchestrator stopped")
		}
	})
	return err
}

// CreateChannelGroup allocates a monotonic groupId scoping namespace.
func (o *Orchestrator) CreateChannelGroup(name string) *ChannelGroupToken {
	return o.registry.createChannelGroup(o, name)
}

// ReleaseChannelGroup atomically unregisters every member, closes their
// mailboxes, and fails in-flight requests targeting them with Shutdown
// (§4.5). Safe to call more than once; subsequent calls are no-ops.
func (o *Orchestrator) ReleaseChannelGroup(token *ChannelGroupToken) {
	if token == nil || token.Released() {
		return
	}
	drainedByMachine := o.registry.release(token)
	for _, drained := range drainedByMachine {
		for _, env := range drained {
			o.completeResponse(env, failureResult(Shutdown, "channel group released"))
		}
	}
}

// ActiveChannelGroupCount is a read-only snapshot of live groups (§4.5).
func (o *Orchestrator) ActiveChannelGroupCount() int {
	return o.registry.activeGroupCount()
}

// RegisterMachine installs a mailbox for adapter under id (optionally
// scoped within group) and makes it routable immediately (§4.5).
func (o *Orchestrator) RegisterMachine(id string, adapter MachineAdapter, group *ChannelGroupToken) (*MachineRecord, error) {
	if o.stopped.Load() {
		return nil, newError(Shutdown, "orchestrator is stopped")
	}
	id = normalizeID(id)
	rec, regErr := o.registry.register(id, adapter, group, o.config.MailboxCapacity)
	if regErr != nil {
		return nil, regErr
	}
	return rec, nil
}

// StartMachineAsync calls the adapter's StartAsync, outside of any
// mailbox turn (it runs before the machine can receive events).
func (o *Orchestrator) StartMachineAsync(ctx context.Context, id string) error {
	rec, ok := o.registry.lookup(normalizeID(id))
	if !ok {
		return newError(TargetNotRegistered, "unknown machine: "+id)
	}
	if rec.started.Swap(true) {
		return nil // idempotent
	}
	return rec.Adapter.StartAsync(ctx)
}

// SendEventAsync resolves target, enqueues an envelope, and awaits its
// response slot or the supplied timeout (§4.6, §6).
func (o *Orchestrator) SendEventAsync(ctx context.Context, source, target, eventName string, payload any, timeout time.Duration) Result {
	if o.stopped.Load() {
		return failureResult(Shutdown, "orchestrator is stopped")
	}
	if timeout <= 0 {
		timeout = o.config.DefaultTimeout
	}
	target = normalizeID(target)

	rec, ok := o.registry.lookup(target)
	if !ok {
		return failureResult(TargetNotRegistered, "unknown machine: "+target)
	}

	env := newEnvelope(normalizeID(source), target, eventName, payload, Request, PriorityNormal, timeout)
	replyCh := make(chan Result, 1)
	o.pending.Store(env.ID, replyCh)
	defer o.pending.Delete(env.ID)

	runnable, enqueueErr := rec.mailbox.enqueueExternal(env)
	if enqueueErr != nil {
		return Result{Success: false, Error: enqueueErr}
	}
	if runnable {
		o.pool.queue.push(rec)
	}

	select {
	case result := <-replyCh:
		return result
	case <-ctx.Done():
		return failureResult(Cancelled, ctx.Err().Error())
	case <-time.After(timeout):
		return failureResult(Timeout, "no response within "+timeout.String())
	}
}

// completeResponse delivers result to the original caller's response
// slot, if one is still waiting. Response completion bypasses the
// mailbox entirely per §9 Open Question 3.
func (o *Orchestrator) completeResponse(env Envelope, result Result) {
	v, ok := o.pending.LoadAndDelete(env.ID)
	if !ok {
		return
	}
	ch := v.(chan Result)
	select {
	case ch <- result:
	default:
	}
}

// applyOutbox fans the outbox produced by one turn back into mailboxes
// (self-sends, direct sends, and channel-group broadcasts), after the
// transition that produced it has committed (§4.6).
func (o *Orchestrator) applyOutbox(rec *MachineRecord, entries []OutboxEntry) {
	for _, entry := range entries {
		switch {
		case entry.SelfSend:
			env := newEnvelope(rec.ID, rec.ID, entry.EventName, entry.Payload, SelfSend, PriorityNormal, 0)
			rec.mailbox.enqueueSelf(env)

		case entry.Broadcast:
			if rec.Group == nil {
				continue
			}
			for _, memberID := range rec.Group.memberIDs() {
				if memberID == rec.ID {
					continue
				}
				o.routeFireAndForget(rec.ID, memberID, entry.EventName, entry.Payload, Broadcast)
			}

		default:
			o.routeFireAndForget(rec.ID, entry.Target, entry.EventName, entry.Payload, External)
		}
	}
}

// routeFireAndForget enqueues a deferred send with no response slot;
// failures are swallowed with a log line the way a detached goroutine's
// error would be, since nothing inside an action is allowed to observe
// them synchronously (§4.7 forbids actions from awaiting anything).
func (o *Orchestrator) routeFireAndForget(source, target, eventName string, payload any, kind EnvelopeKind) {
	rec, ok := o.registry.lookup(target)
	if !ok {
		if o.config.EnableLogging {
			o.logger.Warn("dropping deferred send to unregistered machine", "source", source, "target", target, "event", eventName)
		}
		return
	}
	env := newEnvelope(source, target, eventName, payload, kind, PriorityNormal, 0)
	runnable, err := rec.mailbox.enqueueExternal(env)
	if err != nil {
		if o.config.EnableLogging {
			o.logger.Warn("dropping deferred send", "target", target, "event", eventName, "err", err)
		}
		return
	}
	if runnable {
		o.pool.queue.push(rec)
	}
}

// selfSendFromInvoke is used by invoke.go to deliver a done.invoke.*/
// error.invoke.* completion event, which is itself a self-send from the
// machine's own perspective (§9).
func (o *Orchestrator) selfSendFromInvoke(machineID, eventName string, payload any) {
	rec, ok := o.registry.lookup(machineID)
	if !ok {
		return
	}
	env := newEnvelope(machineID, machineID, eventName, payload, SelfSend, PriorityNormal, 0)
	if runnable := rec.mailbox.enqueueSelf(env); runnable {
		o.pool.queue.push(rec)
	}
}

// GetStats returns a lock-free, possibly-stale snapshot (§4.9).
func (o *Orchestrator) GetStats() Snapshot {
	return o.metrics.snapshot(o.registry, o.startedAt)
}

// newCorrelatedID is a small helper kept for adapters that need to mint
// their own correlation ids for invoke/service completions (§9).
func newCorrelatedID() uuid.UUID { return uuid.New() }
