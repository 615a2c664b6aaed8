package orchestrator

import (
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// PerBusStats are the §4.9 per-bus event counters.
type PerBusStats struct {
	Processed int64
	Failed    int64
	QueuedNow int64
}

// MachineStats are the per-machine counters exposed in a Snapshot.
type MachineStats struct {
	ID        string
	State     string
	Processed int64
	Failed    int64
	QueueDepth int
}

// Snapshot is the §4.9 read-only metrics snapshot. Reads are lock-free
// and may observe slightly stale values, same tradeoff as the teacher's
// atomic lastActivityUnix field on registry.Cell.
type Snapshot struct {
	RegisteredMachines      int
	ActiveChannelGroupCount int
	Uptime                  time.Duration
	PerBus                  PerBusStats
	Machines                []MachineStats
	RecentCompletions       []string // "<machineID>:ok" / "<machineID>:fail" outcome keys, oldest first, bounded by an LRU cache
}

// metricsCollector holds the atomic counters plus a bounded LRU of
// recent per-machine turn outcomes (one "<machineID>:ok" or
// "<machineID>:fail" key each, not envelope ids), mirroring service.PeerEnricher's
// identity cache but applied to diagnostics instead of enrichment
// lookups.
type metricsCollector struct {
	processed atomic.Int64
	failed    atomic.Int64

	recent *lru.Cache[string, struct{}]
}

func newMetricsCollector() *metricsCollector {
	cache, _ := lru.New[string, struct{}](256)
	return &metricsCollector{recent: cache}
}

func (m *metricsCollector) recordProcessed() { m.processed.Add(1) }

func (m *metricsCollector) recordSuccess(machineID string) {
	m.recent.Add(machineID+":ok", struct{}{})
}

func (m *metricsCollector) recordFailure(machineID string) {
	m.failed.Add(1)
	m.recent.Add(machineID+":fail", struct{}{})
}

func (m *metricsCollector) snapshot(r *registry, startedAt time.Time) Snapshot {
	recs := r.all()
	machines := make([]MachineStats, 0, len(recs))
	var queuedNow int64
	for _, rec := range recs {
		depth := rec.mailbox.depth()
		queuedNow += int64(depth)
		machines = append(machines, MachineStats{
			ID:         rec.ID,
			State:      rec.Adapter.CurrentState(),
			Processed:  rec.stats.processed.Load(),
			Failed:     rec.stats.failed.Load(),
			QueueDepth: depth,
		})
	}

	var uptime time.Duration
	if !startedAt.IsZero() {
		uptime = time.Since(startedAt)
	}

	return Snapshot{
		RegisteredMachines:      len(recs),
		ActiveChannelGroupCount: r.activeGroupCount(),
		Uptime:                  uptime,
		PerBus: PerBusStats{
			Processed: m.processed.Load(),
			Failed:    m.failed.Load(),
			// QueuedNow is derived live from each mailbox's current depth
			// rather than tracked as a running counter: a counter
			// incremented on enqueue needs a matching decrement on
			// dequeue/complete to stay a "now" value instead of a
			// monotonic total-ever-enqueued count.
			QueuedNow: queuedNow,
		},
		Machines:          machines,
		RecentCompletions: m.recent.Keys(),
	}
}
