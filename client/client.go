// Package client implements the multichat client driver: a blocking-style
// API backed by a background reader goroutine and a cancel-safe FIFO update
// queue, mirroring the design of the original Rust client (client.rs,
// builder.rs) and the network idioms of the teacher's client transport.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/htrefil/multichat/internal/auth"
	"github.com/htrefil/multichat/internal/protocol"
	"github.com/htrefil/multichat/internal/wire"
)

// UpdateKind discriminates the payload carried by an Update.
type UpdateKind int

const (
	InitGroup UpdateKind = iota
	DestroyGroup
	InitUser
	DestroyUser
	Rename
	Message
)

// Update is one server-originated event delivered to the application via
// ReadUpdate, in the order the server emitted it. Attachment payloads are not
// delivered this way: DownloadAttachment is a request/response call, like
// JoinGroup and InitUser.
type Update struct {
	Kind        UpdateKind
	GID         uint32
	UID         uint32
	Name        string
	Text        string
	Attachments []protocol.AttachmentInfo
}

// Config controls optional client behavior. The zero value is valid and
// matches the protocol's defaults.
type Config struct {
	// MaxSize bounds frame size in both directions. Zero uses wire.DefaultMaxSize.
	MaxSize uint32
	// IncomingBuffer sizes the update queue. Zero defaults to 1, emulating a
	// traditional blocking read: at most one update is ever buffered ahead
	// of the application actually asking for it.
	IncomingBuffer int
}

// ErrClosed is returned by client methods once the connection has ended,
// by either side.
var ErrClosed = errors.New("client: connection closed")

// Client is a connected, authenticated multichat session.
type Client struct {
	rwc   io.ReadWriteCloser
	codec wire.Codec

	writeMu sync.Mutex

	reqMu   sync.Mutex
	pending chan protocol.ServerMessage

	updates chan Update
	errCh   chan error
	closed  chan struct{}
	once    sync.Once
}

// Connect performs the version handshake and authenticates with token, then
// starts the background reader. The caller owns rwc's lifetime via Close.
func Connect(rwc io.ReadWriteCloser, token auth.Token, cfg Config) (*Client, error) {
	if cfg.IncomingBuffer <= 0 {
		cfg.IncomingBuffer = 1
	}
	codec := wire.Codec{MaxSize: cfg.MaxSize}

	peerVersion, err := wire.ReadVersion(rwc)
	if err != nil {
		return nil, err
	}
	if err := wire.WriteVersion(rwc, wire.CurrentVersion); err != nil {
		return nil, err
	}
	if peerVersion != wire.CurrentVersion {
		return nil, fmt.Errorf("client: incompatible server protocol version %d", peerVersion)
	}

	reqFrame, err := protocol.EncodeAuthRequest(protocol.AuthRequest{AccessToken: token})
	if err != nil {
		return nil, err
	}
	if err := codec.WriteFrame(rwc, reqFrame); err != nil {
		return nil, err
	}

	respFrame, err := codec.ReadFrame(rwc)
	if err != nil {
		return nil, err
	}
	resp, err := protocol.DecodeAuthResponse(respFrame)
	if err != nil {
		return nil, err
	}
	if resp.Success == nil {
		return nil, fmt.Errorf("client: access token rejected by server")
	}

	c := &Client{
		rwc:     rwc,
		codec:   codec,
		pending: make(chan protocol.ServerMessage, 1),
		updates: make(chan Update, cfg.IncomingBuffer),
		errCh:   make(chan error, 1),
		closed:  make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

func (c *Client) readLoop() {
	for {
		frame, err := c.codec.ReadFrame(c.rwc)
		if err != nil {
			c.fail(err)
			return
		}
		msg, err := protocol.DecodeServerMessage(frame)
		if err != nil {
			c.fail(err)
			return
		}

		switch m := msg.(type) {
		case protocol.Ping:
			if err := c.writeClient(protocol.Pong{}); err != nil {
				c.fail(err)
				return
			}
		case protocol.ConfirmGroup:
			c.pending <- m
		case protocol.ConfirmUser:
			c.pending <- m
		case protocol.Attachment:
			c.pending <- m
		default:
			u, ok := translate(msg)
			if !ok {
				c.fail(fmt.Errorf("client: unexpected message %T", msg))
				return
			}
			select {
			case c.updates <- u:
			case <-c.closed:
				return
			}
		}
	}
}

func translate(msg protocol.ServerMessage) (Update, bool) {
	switch m := msg.(type) {
	case protocol.InitGroup:
		return Update{Kind: InitGroup, GID: m.GID, Name: m.Name}, true
	case protocol.DestroyGroup:
		return Update{Kind: DestroyGroup, GID: m.GID}, true
	case protocol.ServerInitUser:
		return Update{Kind: InitUser, GID: m.GID, UID: m.UID, Name: m.Name}, true
	case protocol.ServerDestroyUser:
		return Update{Kind: DestroyUser, GID: m.GID, UID: m.UID}, true
	case protocol.ServerRename:
		return Update{Kind: Rename, GID: m.GID, UID: m.UID, Name: m.Name}, true
	case protocol.Message:
		return Update{Kind: Message, GID: m.GID, UID: m.UID, Text: m.Text, Attachments: m.Attachments}, true
	default:
		return Update{}, false
	}
}

func (c *Client) fail(err error) {
	c.once.Do(func() {
		c.errCh <- err
		close(c.closed)
	})
}

func (c *Client) writeClient(msg protocol.ClientMessage) error {
	frame, err := protocol.EncodeClientMessage(msg)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.codec.WriteFrame(c.rwc, frame)
}

// request serializes one JoinGroup/InitUser/DownloadAttachment request
// against its reply,
// since only one such exchange may be outstanding on a connection at a time.
func (c *Client) request(msg protocol.ClientMessage) (protocol.ServerMessage, error) {
	c.reqMu.Lock()
	defer c.reqMu.Unlock()

	if err := c.writeClient(msg); err != nil {
		return nil, err
	}

	select {
	case resp := <-c.pending:
		return resp, nil
	case err := <-c.errCh:
		c.errCh <- err // let other waiters observe it too
		return nil, err
	case <-c.closed:
		return nil, ErrClosed
	}
}

// JoinGroup subscribes to the named group, creating it server-side if
// necessary, and returns its allocated id.
func (c *Client) JoinGroup(name string) (uint32, error) {
	resp, err := c.request(protocol.JoinGroup{Name: name})
	if err != nil {
		return 0, err
	}
	confirm, ok := resp.(protocol.ConfirmGroup)
	if !ok {
		return 0, fmt.Errorf("client: expected ConfirmGroup, got %T", resp)
	}
	return confirm.GID, nil
}

// LeaveGroup ends the subscription to gid.
func (c *Client) LeaveGroup(gid uint32) error {
	return c.writeClient(protocol.LeaveGroup{GID: gid})
}

// InitUser creates a virtual user in gid and returns its allocated id.
func (c *Client) InitUser(gid uint32, name string) (uint32, error) {
	resp, err := c.request(protocol.InitUser{GID: gid, Name: name})
	if err != nil {
		return 0, err
	}
	confirm, ok := resp.(protocol.ConfirmUser)
	if !ok {
		return 0, fmt.Errorf("client: expected ConfirmUser, got %T", resp)
	}
	return confirm.UID, nil
}

// DestroyUser destroys a virtual user this connection owns in gid.
func (c *Client) DestroyUser(gid, uid uint32) error {
	return c.writeClient(protocol.DestroyUser{GID: gid, UID: uid})
}

// Rename changes the display name of a virtual user this connection owns in gid.
func (c *Client) Rename(gid, uid uint32, name string) error {
	return c.writeClient(protocol.Rename{GID: gid, UID: uid, Name: name})
}

// SendMessage emits text and attachments as uid in gid.
func (c *Client) SendMessage(gid, uid uint32, text string, attachments [][]byte) error {
	return c.writeClient(protocol.SendMessage{GID: gid, UID: uid, Text: text, Attachments: attachments})
}

// DownloadAttachment requests and returns the payload of a previously
// offered attachment. Like JoinGroup and InitUser, it is a request/response
// call: unrelated updates that arrive while it is outstanding are queued and
// surfaced normally through ReadUpdate.
func (c *Client) DownloadAttachment(id uint32) ([]byte, error) {
	resp, err := c.request(protocol.DownloadAttachment{ID: id})
	if err != nil {
		return nil, err
	}
	attachment, ok := resp.(protocol.Attachment)
	if !ok {
		return nil, fmt.Errorf("client: expected Attachment, got %T", resp)
	}
	return attachment.Data, nil
}

// IgnoreAttachment discards a previously offered attachment.
func (c *Client) IgnoreAttachment(id uint32) error {
	return c.writeClient(protocol.IgnoreAttachment{ID: id})
}

// Shutdown requests an orderly close and tears the connection down.
func (c *Client) Shutdown() error {
	_ = c.writeClient(protocol.Shutdown{})
	return c.rwc.Close()
}

// ReadUpdate returns the next queued update, blocking until one arrives, the
// connection fails, or ctx is canceled. It is cancel-safe: a canceled
// ReadUpdate never drops an update that was already queued.
func (c *Client) ReadUpdate(ctx context.Context) (Update, error) {
	select {
	case u := <-c.updates:
		return u, nil
	default:
	}

	select {
	case u := <-c.updates:
		return u, nil
	case err := <-c.errCh:
		c.errCh <- err
		return Update{}, err
	case <-c.closed:
		return Update{}, ErrClosed
	case <-ctx.Done():
		return Update{}, ctx.Err()
	}
}
