package orchestrator

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// ChannelGroupToken is a scoping namespace for a set of machines that
// share a lifecycle (§3 Data Model: ChannelGroupToken). Once released,
// every member is unregistered and the token itself becomes unusable.
type ChannelGroupToken struct {
	groupID  uint64
	name     string
	released atomic.Bool

	mu      sync.Mutex
	members map[string]struct{}

	orch *Orchestrator
}

// GroupID returns the monotonic numeric id assigned at creation.
func (t *ChannelGroupToken) GroupID() uint64 { return t.groupID }

// Name returns the human-readable name passed to CreateChannelGroup.
func (t *ChannelGroupToken) Name() string { return t.name }

// Released reports whether ReleaseChannelGroup has already run for this
// token.
func (t *ChannelGroupToken) Released() bool { return t.released.Load() }

// CreateScopedMachineId derives `<base>_<groupIdHex>_<uuid>` per §6. It
// fails once the token has been released.
func (t *ChannelGroupToken) CreateScopedMachineId(base string) (string, error) {
	if t.Released() {
		return "", newError(GroupReleased, "channel group already released")
	}
	return fmt.Sprintf("%s_%x_%s", normalizeID(base), t.groupID, uuid.New().String()), nil
}

// Dispose releases the group; equivalent to orchestrator.ReleaseChannelGroup(token).
func (t *ChannelGroupToken) Dispose() {
	if t.orch != nil {
		t.orch.ReleaseChannelGroup(t)
	}
}

func (t *ChannelGroupToken) addMember(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.members[id] = struct{}{}
}

func (t *ChannelGroupToken) removeMember(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.members, id)
}

func (t *ChannelGroupToken) memberIDs() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	ids := make([]string, 0, len(t.members))
	for id := range t.members {
		ids = append(ids, id)
	}
	return ids
}

func (t *ChannelGroupToken) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.members)
}

// normalizeID implements §6's "normalize an optional leading #" rule.
func normalizeID(id string) string {
	if len(id) > 0 && id[0] == '#' {
		return id[1:]
	}
	return id
}
