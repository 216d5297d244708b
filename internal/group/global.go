package group

import (
	"sync"
	"sync/atomic"
)

// GlobalUpdate announces a group's creation or destruction to every
// connection, independent of whether that connection subscribes to it.
type GlobalUpdate struct {
	Created bool
	GID     uint32
	Name    string
}

// GlobalSubscription is one connection's handle to the global group
// lifecycle feed.
type GlobalSubscription struct {
	ch chan GlobalUpdate
}

// Updates returns the channel group lifecycle events arrive on.
func (s *GlobalSubscription) Updates() <-chan GlobalUpdate { return s.ch }

// Registry is the process-wide set of active groups, keyed by name for
// lookup on JoinGroup and by id for membership bookkeeping.
type Registry struct {
	mu       sync.RWMutex
	byName   map[string]*Group
	byID     map[uint32]*Group
	nextGID  atomic.Uint32
	globals  map[uint64]*GlobalSubscription
	globalMu sync.RWMutex
}

// NewRegistry constructs an empty group registry.
func NewRegistry() *Registry {
	return &Registry{
		byName:  make(map[string]*Group),
		byID:    make(map[uint32]*Group),
		globals: make(map[uint64]*GlobalSubscription),
	}
}

// SubscribeGlobal registers connID for group create/destroy notifications.
func (r *Registry) SubscribeGlobal(connID uint64, buffer int) *GlobalSubscription {
	sub := &GlobalSubscription{ch: make(chan GlobalUpdate, buffer)}
	r.globalMu.Lock()
	r.globals[connID] = sub
	r.globalMu.Unlock()
	return sub
}

// UnsubscribeGlobal removes connID's global subscription.
func (r *Registry) UnsubscribeGlobal(connID uint64) {
	r.globalMu.Lock()
	delete(r.globals, connID)
	r.globalMu.Unlock()
}

func (r *Registry) broadcastGlobal(u GlobalUpdate) {
	r.globalMu.RLock()
	targets := make([]chan GlobalUpdate, 0, len(r.globals))
	for _, sub := range r.globals {
		targets = append(targets, sub.ch)
	}
	r.globalMu.RUnlock()

	for _, ch := range targets {
		select {
		case ch <- u:
		default:
			// Global lifecycle events are advisory; a slow connection simply
			// misses one and learns of the group the next time it is used.
		}
	}
}

// JoinOrCreate looks up a group by name, lazily creating it (and
// broadcasting its creation globally) if it does not exist, then subscribes
// connID to it with the given buffer capacity. The returned snapshot lists
// every user already in the group at the instant of subscribing, captured
// atomically with the subscription itself so the caller can seed a new
// member without risking a duplicate or missed Join against the live
// broadcast feed (see Group.SubscribeAndSnapshot).
func (r *Registry) JoinOrCreate(connID uint64, name string, buffer int) (*Group, *Subscription, []Update, bool) {
	r.mu.Lock()
	g, existed := r.byName[name]
	if !existed {
		gid := r.nextGID.Add(1)
		g = newGroup(gid, name)
		r.byName[name] = g
		r.byID[gid] = g
	}
	r.mu.Unlock()

	if !existed {
		r.broadcastGlobal(GlobalUpdate{Created: true, GID: g.GID, Name: g.Name})
	}

	sub, snapshot := g.SubscribeAndSnapshot(connID, buffer)
	return g, sub, snapshot, !existed
}

// Lookup returns the group for gid, if any.
func (r *Registry) Lookup(gid uint32) (*Group, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.byID[gid]
	return g, ok
}

// Leave unsubscribes connID from gid and destroys the group (broadcasting
// its destruction globally) if it was the last subscriber.
func (r *Registry) Leave(connID uint64, gid uint32) {
	r.mu.RLock()
	g, ok := r.byID[gid]
	r.mu.RUnlock()
	if !ok {
		return
	}

	r.destroyIfEmpty(g, g.Unsubscribe(connID))
}

// LeaveAll unsubscribes connID from every group (called on disconnect),
// destroying any group left without subscribers.
func (r *Registry) LeaveAll(connID uint64, gids []uint32) {
	for _, gid := range gids {
		r.mu.RLock()
		g, ok := r.byID[gid]
		r.mu.RUnlock()
		if !ok {
			continue
		}
		r.destroyIfEmpty(g, g.CleanupOwner(connID))
	}
}

func (r *Registry) destroyIfEmpty(g *Group, remaining int) {
	if remaining > 0 {
		return
	}

	r.mu.Lock()
	// Re-check under the registry lock: another connection may have joined
	// between the subscriber count going to zero and acquiring this lock.
	if g.SubscriberCount() > 0 {
		r.mu.Unlock()
		return
	}
	delete(r.byName, g.Name)
	delete(r.byID, g.GID)
	r.mu.Unlock()

	r.broadcastGlobal(GlobalUpdate{Created: false, GID: g.GID, Name: g.Name})
}

// Snapshot returns every currently active group, for seeding a newly
// connected client's initial InitGroup sequence.
func (r *Registry) Snapshot() []*Group {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Group, 0, len(r.byID))
	for _, g := range r.byID {
		out = append(out, g)
	}
	return out
}

// GroupCount reports the number of active groups.
func (r *Registry) GroupCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}
