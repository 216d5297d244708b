package client

import (
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/htrefil/multichat/internal/auth"
	"github.com/htrefil/multichat/internal/protocol"
	"github.com/htrefil/multichat/internal/wire"
)

// fakeServer speaks just enough of the server side of the handshake to let
// a real Client attach, then lets the test script arbitrary traffic by hand.
type fakeServer struct {
	conn  net.Conn
	codec wire.Codec
}

func newFakeServer(t *testing.T) (*Client, *fakeServer) {
	t.Helper()

	serverSide, clientSide := net.Pipe()
	fs := &fakeServer{conn: serverSide}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := wire.WriteVersion(fs.conn, wire.CurrentVersion); err != nil {
			t.Errorf("server WriteVersion: %v", err)
			return
		}
		if _, err := wire.ReadVersion(fs.conn); err != nil {
			t.Errorf("server ReadVersion: %v", err)
			return
		}

		reqFrame, err := fs.codec.ReadFrame(fs.conn)
		if err != nil {
			t.Errorf("server read auth request: %v", err)
			return
		}
		if _, err := protocol.DecodeAuthRequest(reqFrame); err != nil {
			t.Errorf("server decode auth request: %v", err)
			return
		}

		respFrame, err := protocol.EncodeAuthResponse(protocol.AuthResponse{
			Success: &protocol.AuthSuccess{PingInterval: 30 * time.Second, PingTimeout: 5 * time.Second},
		})
		if err != nil {
			t.Errorf("server encode auth response: %v", err)
			return
		}
		if err := fs.codec.WriteFrame(fs.conn, respFrame); err != nil {
			t.Errorf("server write auth response: %v", err)
			return
		}
	}()

	token, err := auth.ParseToken(strings.Repeat("a", 64))
	if err != nil {
		t.Fatalf("ParseToken: %v", err)
	}
	cl, err := Connect(clientSide, token, Config{IncomingBuffer: 8})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	<-done

	return cl, fs
}

func (fs *fakeServer) send(t *testing.T, msg protocol.ServerMessage) {
	t.Helper()
	frame, err := protocol.EncodeServerMessage(msg)
	if err != nil {
		t.Fatalf("EncodeServerMessage: %v", err)
	}
	if err := fs.codec.WriteFrame(fs.conn, frame); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
}

func (fs *fakeServer) recv(t *testing.T) protocol.ClientMessage {
	t.Helper()
	frame, err := fs.codec.ReadFrame(fs.conn)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	msg, err := protocol.DecodeClientMessage(frame)
	if err != nil {
		t.Fatalf("DecodeClientMessage: %v", err)
	}
	return msg
}

func TestClientRequestResponseMatchesConfirmation(t *testing.T) {
	cl, fs := newFakeServer(t)
	defer fs.conn.Close()

	resultCh := make(chan uint32, 1)
	errCh := make(chan error, 1)
	go func() {
		gid, err := cl.JoinGroup("lobby")
		if err != nil {
			errCh <- err
			return
		}
		resultCh <- gid
	}()

	msg := fs.recv(t)
	join, ok := msg.(protocol.JoinGroup)
	if !ok || join.Name != "lobby" {
		t.Fatalf("got %#v, want JoinGroup{Name: lobby}", msg)
	}
	fs.send(t, protocol.ConfirmGroup{GID: 42})

	select {
	case gid := <-resultCh:
		if gid != 42 {
			t.Fatalf("got gid %d, want 42", gid)
		}
	case err := <-errCh:
		t.Fatalf("JoinGroup: %v", err)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for JoinGroup to return")
	}
}

func TestClientQueuesUnrelatedUpdatesDuringRequest(t *testing.T) {
	cl, fs := newFakeServer(t)
	defer fs.conn.Close()

	resultCh := make(chan uint32, 1)
	go func() {
		gid, err := cl.JoinGroup("lobby")
		if err != nil {
			t.Errorf("JoinGroup: %v", err)
			return
		}
		resultCh <- gid
	}()

	if _, ok := fs.recv(t).(protocol.JoinGroup); !ok {
		t.Fatal("expected JoinGroup command")
	}

	// An unrelated InitGroup event for some other group arrives before the
	// confirmation this request is actually waiting for.
	fs.send(t, protocol.InitGroup{GID: 7, Name: "other"})
	fs.send(t, protocol.ConfirmGroup{GID: 42})

	select {
	case gid := <-resultCh:
		if gid != 42 {
			t.Fatalf("got gid %d, want 42", gid)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for JoinGroup to return")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	u, err := cl.ReadUpdate(ctx)
	if err != nil {
		t.Fatalf("ReadUpdate: %v", err)
	}
	if u.Kind != InitGroup || u.GID != 7 || u.Name != "other" {
		t.Fatalf("got %+v, want the queued InitGroup update", u)
	}
}

func TestClientReadUpdateCancelSafe(t *testing.T) {
	cl, fs := newFakeServer(t)
	defer fs.conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // already canceled: ReadUpdate must not consume anything
	if _, err := cl.ReadUpdate(ctx); err == nil {
		t.Fatal("expected canceled ReadUpdate to return an error")
	}

	fs.send(t, protocol.ServerInitUser{GID: 1, UID: 2, Name: "alice"})

	// Give the reader goroutine a chance to enqueue the update, then confirm
	// it is still there for a fresh, uncanceled call.
	time.Sleep(20 * time.Millisecond)

	ctx2, cancel2 := context.WithTimeout(context.Background(), time.Second)
	defer cancel2()
	u, err := cl.ReadUpdate(ctx2)
	if err != nil {
		t.Fatalf("ReadUpdate: %v", err)
	}
	if u.Kind != InitUser || u.GID != 1 || u.UID != 2 || u.Name != "alice" {
		t.Fatalf("got %+v, want InitUser{gid=1,uid=2,name=alice}", u)
	}
}

func TestClientAnswersPingInline(t *testing.T) {
	cl, fs := newFakeServer(t)
	defer fs.conn.Close()
	_ = cl

	fs.send(t, protocol.Ping{})

	msg := fs.recv(t)
	if _, ok := msg.(protocol.Pong); !ok {
		t.Fatalf("got %#v, want Pong", msg)
	}
}

func TestClientShutdownSendsShutdownAndCloses(t *testing.T) {
	cl, fs := newFakeServer(t)
	defer fs.conn.Close()

	// net.Pipe is unbuffered, so Shutdown's write only completes once the
	// fake server reads it; run it concurrently with the read below.
	shutdownErr := make(chan error, 1)
	go func() { shutdownErr <- cl.Shutdown() }()

	msg := fs.recv(t)
	if _, ok := msg.(protocol.Shutdown); !ok {
		t.Fatalf("got %#v, want Shutdown", msg)
	}
	if err := <-shutdownErr; err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	if _, err := fs.codec.ReadFrame(fs.conn); err == nil {
		t.Fatal("expected the client side to be closed after Shutdown")
	}
}
