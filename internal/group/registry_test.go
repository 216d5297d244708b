package group

import (
	"testing"
)

func TestJoinOrCreateLazyCreatesOnce(t *testing.T) {
	r := NewRegistry()

	g1, _, _, created1 := r.JoinOrCreate(1, "lobby", 8)
	if !created1 {
		t.Fatal("expected first join to create the group")
	}

	g2, _, _, created2 := r.JoinOrCreate(2, "lobby", 8)
	if created2 {
		t.Fatal("expected second join to reuse the existing group")
	}
	if g1.GID != g2.GID {
		t.Fatalf("expected same gid, got %d and %d", g1.GID, g2.GID)
	}
}

func TestGroupDestroyedWhenLastSubscriberLeaves(t *testing.T) {
	r := NewRegistry()

	g, _, _, _ := r.JoinOrCreate(1, "lobby", 8)
	gid := g.GID

	r.Leave(1, gid)

	if _, ok := r.Lookup(gid); ok {
		t.Fatal("expected group to be destroyed once its last subscriber left")
	}

	g2, _, _, created := r.JoinOrCreate(2, "lobby", 8)
	if !created {
		t.Fatal("expected a fresh JoinGroup to recreate the group")
	}
	if g2.GID == gid {
		t.Fatal("expected the recreated group to receive a new gid")
	}
}

func TestGroupSurvivesWhileAnySubscriberRemains(t *testing.T) {
	r := NewRegistry()

	g, _, _, _ := r.JoinOrCreate(1, "lobby", 8)
	r.JoinOrCreate(2, "lobby", 8)

	r.Leave(1, g.GID)

	if _, ok := r.Lookup(g.GID); !ok {
		t.Fatal("expected group to survive with one subscriber remaining")
	}
}

func TestInitUserOwnershipEnforced(t *testing.T) {
	g := newGroup(1, "lobby")
	g.Subscribe(1, 8)
	g.Subscribe(2, 8)

	uid := g.InitUser(1, "alice")

	if g.DestroyUser(2, uid) {
		t.Fatal("expected DestroyUser to fail for a non-owning connection")
	}
	if g.Rename(2, uid, "mallory") {
		t.Fatal("expected Rename to fail for a non-owning connection")
	}
	if g.SendMessage(2, uid, "hi", nil) {
		t.Fatal("expected SendMessage to fail for a non-owning connection")
	}

	if !g.DestroyUser(1, uid) {
		t.Fatal("expected DestroyUser to succeed for the owning connection")
	}
}

func TestCleanupOwnerDestroysOnlyOwnedUsers(t *testing.T) {
	g := newGroup(1, "lobby")
	g.Subscribe(1, 8)
	sub2 := g.Subscribe(2, 8)

	uidAlice := g.InitUser(1, "alice")
	uidBob := g.InitUser(2, "bob")
	drain(t, sub2, 2) // both Join broadcasts

	remaining := g.CleanupOwner(1)
	if remaining != 1 {
		t.Fatalf("expected 1 remaining subscriber, got %d", remaining)
	}

	snap := g.Snapshot()
	if len(snap) != 1 || snap[0].UID != uidBob {
		t.Fatalf("expected only bob (%d) to remain, got %+v", uidBob, snap)
	}

	u := mustRecv(t, sub2)
	if u.Kind != Leave || u.UID != uidAlice {
		t.Fatalf("expected Leave(%d), got %+v", uidAlice, u)
	}
}

func TestSnapshotReflectsLiveUsers(t *testing.T) {
	g := newGroup(1, "lobby")
	g.Subscribe(1, 8)

	uid1 := g.InitUser(1, "alice")
	uid2 := g.InitUser(1, "bob")
	g.DestroyUser(1, uid1)

	snap := g.Snapshot()
	if len(snap) != 1 || snap[0].UID != uid2 {
		t.Fatalf("expected snapshot to contain only uid %d, got %+v", uid2, snap)
	}
}

func TestLaggedSubscriberReportsSkippedCount(t *testing.T) {
	g := newGroup(1, "lobby")
	g.Subscribe(1, 8)
	sub := g.Subscribe(2, 1) // buffer of exactly one slot

	g.InitUser(1, "alice")
	g.InitUser(1, "bob")

	// The slow subscriber never drained its single buffered update, so the
	// second broadcast (and any beyond the first) must count as skipped
	// rather than block the sender forever.
	mustRecv(t, sub)
	if skipped := sub.TakeSkipped(); skipped != 1 {
		t.Fatalf("got skipped=%d, want 1", skipped)
	}
}

func drain(t *testing.T, sub *Subscription, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		mustRecv(t, sub)
	}
}

func mustRecv(t *testing.T, sub *Subscription) Update {
	t.Helper()
	select {
	case u := <-sub.Updates():
		return u
	default:
		t.Fatal("expected an update to be immediately available")
		return Update{}
	}
}
