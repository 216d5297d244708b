package group

import "testing"

func TestGlobalSubscriptionSeesCreateAndDestroy(t *testing.T) {
	r := NewRegistry()
	sub := r.SubscribeGlobal(1, 8)

	g, _, _, created := r.JoinOrCreate(2, "lobby", 8)
	if !created {
		t.Fatal("expected group to be created")
	}

	u := mustRecvGlobal(t, sub)
	if !u.Created || u.GID != g.GID || u.Name != "lobby" {
		t.Fatalf("got %+v, want Created InitGroup for %q", u, "lobby")
	}

	r.Leave(2, g.GID)

	u = mustRecvGlobal(t, sub)
	if u.Created || u.GID != g.GID {
		t.Fatalf("got %+v, want DestroyGroup for gid %d", u, g.GID)
	}
}

func TestUnsubscribeGlobalStopsDelivery(t *testing.T) {
	r := NewRegistry()
	sub := r.SubscribeGlobal(1, 8)
	r.UnsubscribeGlobal(1)

	r.JoinOrCreate(2, "lobby", 8)

	select {
	case u := <-sub.Updates():
		t.Fatalf("unexpected update after unsubscribe: %+v", u)
	default:
	}
}

func mustRecvGlobal(t *testing.T, sub *GlobalSubscription) GlobalUpdate {
	t.Helper()
	select {
	case u := <-sub.Updates():
		return u
	default:
		t.Fatal("expected a global update to be immediately available")
		return GlobalUpdate{}
	}
}
