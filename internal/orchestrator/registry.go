package orchestrator

import (
	"sync"
	"sync/atomic"
	"time"
)

// MachineRecord is the registry's exclusive-owned view of a hosted
// machine (§3 Data Model). The adapter itself is exclusively owned by
// the mailbox's current worker while the mailbox is Running.
type MachineRecord struct {
	ID        string
	Adapter   MachineAdapter
	Group     *ChannelGroupToken // nil for unscoped machines
	CreatedAt time.Time

	mailbox *mailbox
	stats   machineStats
	started atomic.Bool
}

type machineStats struct {
	processed atomic.Int64
	failed    atomic.Int64
}

// registry maps machineId -> *MachineRecord with lock-free reads, the
// same sharding-free shape as the teacher's sync.Map-backed Hub
// (registry.Hub.cells), generalized from "one cell per user" to "one
// record per hosted machine".
type registry struct {
	records sync.Map // string -> *MachineRecord

	groupMu    sync.Mutex
	groups     map[uint64]*ChannelGroupToken
	nextGroup  atomic.Uint64
	closedOnce atomic.Bool
}

func newRegistry() *registry {
	return &registry{groups: make(map[uint64]*ChannelGroupToken)}
}

func (r *registry) createChannelGroup(orch *Orchestrator, name string) *ChannelGroupToken {
	token := &ChannelGroupToken{
		groupID: r.nextGroup.Add(1),
		name:    name,
		members: make(map[string]struct{}),
		orch:    orch,
	}
	r.groupMu.Lock()
	r.groups[token.groupID] = token
	r.groupMu.Unlock()
	return token
}

func (r *registry) activeGroupCount() int {
	r.groupMu.Lock()
	defer r.groupMu.Unlock()
	return len(r.groups)
}

func (r *registry) register(id string, adapter MachineAdapter, group *ChannelGroupToken, mailboxCapacity int) (*MachineRecord, *Error) {
	if group != nil && group.Released() {
		return nil, newError(GroupReleased, "cannot register into a released channel group")
	}
	rec := &MachineRecord{
		ID:        id,
		Adapter:   adapter,
		Group:     group,
		CreatedAt: time.Now(),
		mailbox:   newMailbox(id, mailboxCapacity),
	}
	if _, loaded := r.records.LoadOrStore(id, rec); loaded {
		return nil, newError(DuplicateRegistration, "machine id already registered: "+id)
	}
	if group != nil {
		group.addMember(id)
	}
	return rec, nil
}

func (r *registry) lookup(id string) (*MachineRecord, bool) {
	v, ok := r.records.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*MachineRecord), true
}

func (r *registry) unregister(id string) {
	v, ok := r.records.LoadAndDelete(id)
	if !ok {
		return
	}
	rec := v.(*MachineRecord)
	if rec.Group != nil {
		rec.Group.removeMember(id)
	}
}

func (r *registry) count() int {
	n := 0
	r.records.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

func (r *registry) all() []*MachineRecord {
	var out []*MachineRecord
	r.records.Range(func(_, v any) bool {
		out = append(out, v.(*MachineRecord))
		return true
	})
	return out
}

// release unregisters every member of the group and closes their
// mailboxes, returning the drained envelopes so the orchestrator can
// fail any in-flight requests with Shutdown (§4.5).
func (r *registry) release(token *ChannelGroupToken) map[string][]Envelope {
	drained := make(map[string][]Envelope)
	for _, id := range token.memberIDs() {
		if rec, ok := r.lookup(id); ok {
			drained[id] = rec.mailbox.close()
			r.unregister(id)
		}
	}
	r.groupMu.Lock()
	delete(r.groups, token.groupID)
	r.groupMu.Unlock()
	token.released.Store(true)
	return drained
}
