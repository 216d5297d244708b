// Package group implements the server-side group registry: lazy group
// lifecycle, a per-group virtual user slab, and bounded broadcast fan-out to
// every subscriber.
package group

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// SendTimeout bounds how long a broadcast will block trying to hand an
// update to one slow subscriber before giving up on it.
const SendTimeout = 50 * time.Millisecond

// Update is one event fanned out to every subscriber of a group.
type Update struct {
	Kind UpdateKind
	UID  uint32
	Name string
	Text string
	// Attachments carries the raw attachment payloads of a Message update.
	// Ownership is shared (read-only) across every subscriber that receives it.
	Attachments [][]byte
}

// UpdateKind discriminates the payload carried by an Update.
type UpdateKind int

const (
	Join UpdateKind = iota
	Leave
	Rename
	Msg
)

type user struct {
	id    uint32
	name  string
	owner uint64 // connection id
}

// Subscription is one connection's handle to a group's update stream.
type Subscription struct {
	ch      chan Update
	skipped atomic.Uint32
}

// Updates returns the channel new updates arrive on.
func (s *Subscription) Updates() <-chan Update { return s.ch }

// TakeSkipped returns and resets the number of updates this subscription has
// missed because its buffer was full. A nonzero result is fatal: the caller
// must close the connection (mirrors a lagged broadcast receiver).
func (s *Subscription) TakeSkipped() uint32 { return s.skipped.Swap(0) }

// Group is one named fan-out domain. It owns its virtual user slab and the
// set of connections currently subscribed to it.
type Group struct {
	GID  uint32
	Name string

	mu      sync.RWMutex
	users   map[uint32]*user
	nextUID atomic.Uint32
	subs    map[uint64]*Subscription
}

func newGroup(gid uint32, name string) *Group {
	return &Group{
		GID:   gid,
		Name:  name,
		users: make(map[uint32]*user),
		subs:  make(map[uint64]*Subscription),
	}
}

// Subscribe registers connID as a subscriber with the given buffer capacity
// and returns its handle. Callers must Unsubscribe on disconnect or leave.
func (g *Group) Subscribe(connID uint64, buffer int) *Subscription {
	sub := &Subscription{ch: make(chan Update, buffer)}
	g.mu.Lock()
	g.subs[connID] = sub
	g.mu.Unlock()
	return sub
}

// SubscribeAndSnapshot atomically registers connID as a subscriber and
// captures the group's current user list under the same lock. A broadcast
// racing with a plain Subscribe()+Snapshot() pair could land on either side
// of the two calls and be delivered twice (once live, once in the
// snapshot) or not at all; holding a single lock across both steps here
// means the two are strictly ordered against every mutator below, so each
// event is reflected exactly once, in the snapshot or live, never both.
func (g *Group) SubscribeAndSnapshot(connID uint64, buffer int) (*Subscription, []Update) {
	sub := &Subscription{ch: make(chan Update, buffer)}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.subs[connID] = sub

	out := make([]Update, 0, len(g.users))
	for _, u := range g.users {
		out = append(out, Update{Kind: Join, UID: u.id, Name: u.name})
	}
	return sub, out
}

// Unsubscribe removes connID's subscription and reports the number of
// remaining subscribers, so the caller can decide whether to destroy the
// group.
func (g *Group) Unsubscribe(connID uint64) int {
	g.mu.Lock()
	delete(g.subs, connID)
	n := len(g.subs)
	g.mu.Unlock()
	return n
}

// SubscriberCount reports how many connections currently subscribe to g.
func (g *Group) SubscriberCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.subs)
}

// InitUser allocates a new virtual user owned by connID and broadcasts its
// arrival. It returns the allocated uid.
func (g *Group) InitUser(connID uint64, name string) uint32 {
	uid := g.nextUID.Add(1)

	g.mu.Lock()
	g.users[uid] = &user{id: uid, name: name, owner: connID}
	targets := g.targetsLocked()
	g.mu.Unlock()

	g.sendToTargets(targets, Update{Kind: Join, UID: uid, Name: name})
	return uid
}

// DestroyUser removes a virtual user if owned by connID and broadcasts its
// departure. It reports whether the user existed and was owned by connID.
func (g *Group) DestroyUser(connID uint64, uid uint32) bool {
	g.mu.Lock()
	u, ok := g.users[uid]
	if !ok || u.owner != connID {
		g.mu.Unlock()
		return false
	}
	delete(g.users, uid)
	targets := g.targetsLocked()
	g.mu.Unlock()

	g.sendToTargets(targets, Update{Kind: Leave, UID: uid})
	return true
}

// Rename changes a virtual user's display name if owned by connID and
// broadcasts the change.
func (g *Group) Rename(connID uint64, uid uint32, name string) bool {
	g.mu.Lock()
	u, ok := g.users[uid]
	if !ok || u.owner != connID {
		g.mu.Unlock()
		return false
	}
	u.name = name
	targets := g.targetsLocked()
	g.mu.Unlock()

	g.sendToTargets(targets, Update{Kind: Rename, UID: uid, Name: name})
	return true
}

// SendMessage broadcasts text and attachments as uid if owned by connID.
func (g *Group) SendMessage(connID uint64, uid uint32, text string, attachments [][]byte) bool {
	g.mu.Lock()
	u, ok := g.users[uid]
	if !ok || u.owner != connID {
		g.mu.Unlock()
		return false
	}
	targets := g.targetsLocked()
	g.mu.Unlock()

	g.sendToTargets(targets, Update{Kind: Msg, UID: uid, Text: text, Attachments: attachments})
	return true
}

// CleanupOwner destroys every virtual user owned by connID (called on
// disconnect) and broadcasts their departure. It returns the remaining
// subscriber count after also unsubscribing connID.
func (g *Group) CleanupOwner(connID uint64) int {
	g.mu.Lock()
	var leaving []uint32
	for uid, u := range g.users {
		if u.owner == connID {
			leaving = append(leaving, uid)
			delete(g.users, uid)
		}
	}
	delete(g.subs, connID)
	remaining := len(g.subs)
	targets := g.targetsLocked()
	g.mu.Unlock()

	for _, uid := range leaving {
		g.sendToTargets(targets, Update{Kind: Leave, UID: uid})
	}
	return remaining
}

// Snapshot returns every currently live user, sorted by uid, for seeding a
// newly joined subscriber.
func (g *Group) Snapshot() []Update {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]Update, 0, len(g.users))
	for _, u := range g.users {
		out = append(out, Update{Kind: Join, UID: u.id, Name: u.name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UID < out[j].UID })
	return out
}

// targetsLocked snapshots the current subscriber set. Callers must already
// hold g.mu (read or write) so that the snapshot is taken atomically with
// whatever map mutation it accompanies.
func (g *Group) targetsLocked() []*Subscription {
	targets := make([]*Subscription, 0, len(g.subs))
	for _, sub := range g.subs {
		targets = append(targets, sub)
	}
	return targets
}

func (g *Group) sendToTargets(targets []*Subscription, u Update) {
	for _, sub := range targets {
		if !trySend(sub.ch, u) {
			sub.skipped.Add(1)
		}
	}
}

func trySend(ch chan<- Update, u Update) (sent bool) {
	defer func() {
		if recover() != nil {
			sent = false
		}
	}()

	select {
	case ch <- u:
		return true
	case <-time.After(SendTimeout):
		return false
	}
}
