// Package conn implements the per-connection state machine: handshake,
// command dispatch, broadcast fan-out translation, liveness pings, and the
// connection-local attachment table.
package conn

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/htrefil/multichat/internal/auth"
	"github.com/htrefil/multichat/internal/group"
	"github.com/htrefil/multichat/internal/metrics"
	"github.com/htrefil/multichat/internal/protocol"
	"github.com/htrefil/multichat/internal/wire"
)

var nextConnID atomic.Uint64

// Config bundles the handshake-negotiated and server-wide parameters a
// connection needs to run.
type Config struct {
	MaxSize      uint32
	UpdateBuffer int
	PingInterval time.Duration
	PingTimeout  time.Duration
	RateLimit    float64 // commands per second; 0 disables limiting.
	AllowList    *auth.AllowList
	Counters     *metrics.Counters // optional; nil disables counting.
}

// ErrProtocolViolation marks a fatal connection failure: an out-of-order or
// malformed command, an invalid attachment reference, a rate-limit breach,
// a protocol version mismatch, a rejected access token, or a missing pong.
// These cases share this one sentinel and are told apart only by the
// wrapping message. The connection is always dropped after this error
// surfaces.
var ErrProtocolViolation = errors.New("conn: protocol violation")

// ErrLagged marks a connection dropped because it could not keep up with a
// group's broadcast rate.
var ErrLagged = errors.New("conn: lagged behind group broadcast")

// Conn drives one accepted connection end to end.
type Conn struct {
	id       uint64
	rwc      io.ReadWriteCloser
	registry *group.Registry
	cfg      Config
	codec    wire.Codec
	limiter  *rate.Limiter

	memberships map[uint32]*membership
	ownedUsers  map[userKey]struct{} // (gid,uid) pairs this connection created
	attachments map[uint32][]byte
	nextAttach  uint32

	globalSub  *group.GlobalSubscription
	pingTicker *time.Ticker
}

// userKey identifies a virtual user by the group it lives in plus its uid.
// Uids are only unique within a group (each Group has its own nextUID
// counter), so ownership bookkeeping across potentially many group
// memberships must key on the pair, not the uid alone.
type userKey struct {
	gid uint32
	uid uint32
}

type membership struct {
	sub  *group.Subscription
	done chan struct{}
}

type aggUpdate struct {
	gid     uint32
	upd     group.Update
	skipped uint32
}

// New constructs a Conn around an already-accepted transport stream.
func New(rwc io.ReadWriteCloser, registry *group.Registry, cfg Config) *Conn {
	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), int(cfg.RateLimit)+1)
	}

	return &Conn{
		id:          nextConnID.Add(1),
		rwc:         rwc,
		registry:    registry,
		cfg:         cfg,
		codec:       wire.Codec{MaxSize: cfg.MaxSize},
		limiter:     limiter,
		memberships: make(map[uint32]*membership),
		ownedUsers:  make(map[userKey]struct{}),
		attachments: make(map[uint32][]byte),
	}
}

// ID returns the connection's process-local identifier.
func (c *Conn) ID() uint64 { return c.id }

// Handshake performs the version exchange and access-token authentication.
// It returns the negotiated ping parameters, or an error if either side is
// incompatible or unauthenticated.
func (c *Conn) Handshake() (AuthParams, error) {
	if err := wire.WriteVersion(c.rwc, wire.CurrentVersion); err != nil {
		return AuthParams{}, err
	}
	peerVersion, err := wire.ReadVersion(c.rwc)
	if err != nil {
		return AuthParams{}, err
	}
	if peerVersion != wire.CurrentVersion {
		return AuthParams{}, fmt.Errorf("conn: incompatible protocol version %d: %w", peerVersion, ErrProtocolViolation)
	}

	reqFrame, err := c.codec.ReadFrame(c.rwc)
	if err != nil {
		return AuthParams{}, err
	}
	req, err := protocol.DecodeAuthRequest(reqFrame)
	if err != nil {
		return AuthParams{}, err
	}

	token, err := tokenFromBytes(req.AccessToken)
	if err != nil {
		return AuthParams{}, err
	}

	if !c.cfg.AllowList.Allowed(token) {
		respFrame, encErr := protocol.EncodeAuthResponse(protocol.AuthResponse{})
		if encErr == nil {
			_ = c.codec.WriteFrame(c.rwc, respFrame)
		}
		_ = c.rwc.Close()
		return AuthParams{}, fmt.Errorf("conn: access token rejected: %w", ErrProtocolViolation)
	}

	params := AuthParams{PingInterval: c.cfg.PingInterval, PingTimeout: c.cfg.PingTimeout}
	respFrame, err := protocol.EncodeAuthResponse(protocol.AuthResponse{
		Success: &protocol.AuthSuccess{PingInterval: params.PingInterval, PingTimeout: params.PingTimeout},
	})
	if err != nil {
		return AuthParams{}, err
	}
	if err := c.codec.WriteFrame(c.rwc, respFrame); err != nil {
		return AuthParams{}, err
	}

	return params, nil
}

// AuthParams carries the liveness parameters negotiated during handshake.
type AuthParams struct {
	PingInterval time.Duration
	PingTimeout  time.Duration
}

func tokenFromBytes(b [32]byte) (auth.Token, error) {
	return auth.Token(b), nil
}

// Run sends the initial group snapshot, then multiplexes inbound commands,
// broadcast updates, and liveness pings until ctx is canceled or a fatal
// error occurs. Run always leaves the registry with this connection's
// memberships and owned users fully cleaned up before returning.
func (c *Conn) Run(ctx context.Context) error {
	defer c.cleanup()

	c.globalSub = c.registry.SubscribeGlobal(c.id, c.cfg.UpdateBuffer)
	defer c.registry.UnsubscribeGlobal(c.id)

	for _, g := range c.registry.Snapshot() {
		if err := c.sendServer(protocol.InitGroup{GID: g.GID, Name: g.Name}); err != nil {
			return err
		}
	}

	frameCh := make(chan []byte, 1)
	readErrCh := make(chan error, 1)
	readerDone := make(chan struct{})
	go c.readLoop(frameCh, readErrCh, readerDone)
	defer close(readerDone)

	aggCh := make(chan aggUpdate, c.cfg.UpdateBuffer)

	c.pingTicker = time.NewTicker(c.cfg.PingInterval)
	defer c.pingTicker.Stop()
	var pongDeadline *time.Timer
	awaitingPong := false

	clearPongWait := func() {
		if pongDeadline != nil {
			pongDeadline.Stop()
			pongDeadline = nil
		}
		awaitingPong = false
	}

	for {
		var pongC <-chan time.Time
		if pongDeadline != nil {
			pongC = pongDeadline.C
		}

		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-readErrCh:
			return err

		case frame := <-frameCh:
			msg, err := protocol.DecodeClientMessage(frame)
			if err != nil {
				return err
			}
			if c.limiter != nil && !c.limiter.Allow() {
				return fmt.Errorf("conn: command rate limit exceeded: %w", ErrProtocolViolation)
			}

			// Any inbound traffic is liveness: clear a pending pong wait and
			// restart the ping interval from here, not just on an explicit Pong.
			clearPongWait()
			c.pingTicker.Reset(c.cfg.PingInterval)

			if _, ok := msg.(protocol.Pong); ok {
				continue
			}
			if err := c.handleCommand(msg, aggCh); err != nil {
				if errors.Is(err, errShutdown) {
					return nil
				}
				return err
			}

		case u := <-aggCh:
			if u.skipped > 0 {
				if c.cfg.Counters != nil {
					c.cfg.Counters.LaggedDisconnects.Add(1)
				}
				return fmt.Errorf("conn: skipped %d update(s): %w", u.skipped, ErrLagged)
			}
			if err := c.sendGroupUpdate(u.gid, u.upd); err != nil {
				return err
			}

		case gu := <-c.globalSub.Updates():
			var sendErr error
			if gu.Created {
				sendErr = c.sendServer(protocol.InitGroup{GID: gu.GID, Name: gu.Name})
			} else {
				sendErr = c.sendServer(protocol.DestroyGroup{GID: gu.GID})
			}
			if sendErr != nil {
				return sendErr
			}

		case <-c.pingTicker.C:
			if err := c.sendServer(protocol.Ping{}); err != nil {
				return err
			}
			if !awaitingPong {
				awaitingPong = true
				pongDeadline = time.NewTimer(c.cfg.PingTimeout)
			}

		case <-pongC:
			return fmt.Errorf("conn: no pong within timeout: %w", ErrProtocolViolation)
		}
	}
}

var errShutdown = errors.New("conn: shutdown requested")

func (c *Conn) readLoop(frameCh chan<- []byte, errCh chan<- error, done <-chan struct{}) {
	for {
		frame, err := c.codec.ReadFrame(c.rwc)
		if err != nil {
			select {
			case errCh <- err:
			case <-done:
			}
			return
		}
		select {
		case frameCh <- frame:
		case <-done:
			return
		}
	}
}

func (c *Conn) handleCommand(msg protocol.ClientMessage, aggCh chan aggUpdate) error {
	switch m := msg.(type) {
	case protocol.JoinGroup:
		g, sub, snapshot, _ := c.registry.JoinOrCreate(c.id, m.Name, c.cfg.UpdateBuffer)
		c.addMembership(g.GID, sub, aggCh)
		if err := c.sendServer(protocol.ConfirmGroup{GID: g.GID}); err != nil {
			return err
		}
		for _, u := range snapshot {
			if err := c.sendServer(protocol.ServerInitUser{GID: g.GID, UID: u.UID, Name: u.Name}); err != nil {
				return err
			}
		}
		return nil

	case protocol.LeaveGroup:
		if _, ok := c.memberships[m.GID]; !ok {
			return fmt.Errorf("conn: leave unknown group %d: %w", m.GID, ErrProtocolViolation)
		}
		c.removeMembership(m.GID)
		c.registry.Leave(c.id, m.GID)
		return nil

	case protocol.InitUser:
		g, ok := c.registry.Lookup(m.GID)
		if !ok {
			return fmt.Errorf("conn: init user in unknown group %d: %w", m.GID, ErrProtocolViolation)
		}
		if _, joined := c.memberships[m.GID]; !joined {
			return fmt.Errorf("conn: init user without membership in group %d: %w", m.GID, ErrProtocolViolation)
		}
		uid := g.InitUser(c.id, m.Name)
		c.ownedUsers[userKey{gid: m.GID, uid: uid}] = struct{}{}
		return c.sendServer(protocol.ConfirmUser{UID: uid})

	case protocol.DestroyUser:
		key := userKey{gid: m.GID, uid: m.UID}
		if _, ok := c.ownedUsers[key]; !ok {
			return fmt.Errorf("conn: destroy unowned user %d in group %d: %w", m.UID, m.GID, ErrProtocolViolation)
		}
		g, _ := c.registry.Lookup(m.GID)
		if g == nil || !g.DestroyUser(c.id, m.UID) {
			return fmt.Errorf("conn: destroy user %d failed: %w", m.UID, ErrProtocolViolation)
		}
		delete(c.ownedUsers, key)
		return nil

	case protocol.Rename:
		key := userKey{gid: m.GID, uid: m.UID}
		if _, ok := c.ownedUsers[key]; !ok {
			return fmt.Errorf("conn: rename unowned user %d in group %d: %w", m.UID, m.GID, ErrProtocolViolation)
		}
		g, _ := c.registry.Lookup(m.GID)
		if g == nil || !g.Rename(c.id, m.UID, m.Name) {
			return fmt.Errorf("conn: rename user %d failed: %w", m.UID, ErrProtocolViolation)
		}
		return nil

	case protocol.SendMessage:
		key := userKey{gid: m.GID, uid: m.UID}
		if _, ok := c.ownedUsers[key]; !ok {
			return fmt.Errorf("conn: send as unowned user %d in group %d: %w", m.UID, m.GID, ErrProtocolViolation)
		}
		g, _ := c.registry.Lookup(m.GID)
		if g == nil || !g.SendMessage(c.id, m.UID, m.Text, m.Attachments) {
			return fmt.Errorf("conn: send message as user %d failed: %w", m.UID, ErrProtocolViolation)
		}
		if c.cfg.Counters != nil {
			c.cfg.Counters.MessagesRelayed.Add(1)
			c.cfg.Counters.BytesRelayed.Add(uint64(len(m.Text)))
			for _, a := range m.Attachments {
				c.cfg.Counters.BytesRelayed.Add(uint64(len(a)))
			}
		}
		return nil

	case protocol.DownloadAttachment:
		data, ok := c.attachments[m.ID]
		if !ok {
			return fmt.Errorf("conn: download unknown attachment %d: %w", m.ID, ErrProtocolViolation)
		}
		delete(c.attachments, m.ID)
		return c.sendServer(protocol.Attachment{ID: m.ID, Data: data})

	case protocol.IgnoreAttachment:
		if _, ok := c.attachments[m.ID]; !ok {
			return fmt.Errorf("conn: ignore unknown attachment %d: %w", m.ID, ErrProtocolViolation)
		}
		delete(c.attachments, m.ID)
		return nil

	case protocol.Shutdown:
		return errShutdown

	default:
		return fmt.Errorf("conn: unexpected message %T: %w", msg, ErrProtocolViolation)
	}
}

func (c *Conn) addMembership(gid uint32, sub *group.Subscription, aggCh chan aggUpdate) {
	done := make(chan struct{})
	c.memberships[gid] = &membership{sub: sub, done: done}

	go func() {
		for {
			select {
			case u, ok := <-sub.Updates():
				if !ok {
					return
				}
				if skipped := sub.TakeSkipped(); skipped > 0 {
					select {
					case aggCh <- aggUpdate{gid: gid, skipped: skipped}:
					case <-done:
					}
					return
				}
				select {
				case aggCh <- aggUpdate{gid: gid, upd: u}:
				case <-done:
					return
				}
			case <-done:
				return
			}
		}
	}()
}

func (c *Conn) removeMembership(gid uint32) {
	if m, ok := c.memberships[gid]; ok {
		close(m.done)
		delete(c.memberships, gid)
	}
}

func (c *Conn) sendGroupUpdate(gid uint32, u group.Update) error {
	switch u.Kind {
	case group.Join:
		return c.sendServer(protocol.ServerInitUser{GID: gid, UID: u.UID, Name: u.Name})
	case group.Leave:
		return c.sendServer(protocol.ServerDestroyUser{GID: gid, UID: u.UID})
	case group.Rename:
		return c.sendServer(protocol.ServerRename{GID: gid, UID: u.UID, Name: u.Name})
	case group.Msg:
		infos := make([]protocol.AttachmentInfo, 0, len(u.Attachments))
		for _, blob := range u.Attachments {
			id := c.nextAttach
			c.nextAttach++
			c.attachments[id] = blob
			infos = append(infos, protocol.AttachmentInfo{ID: id, Size: uint64(len(blob))})
		}
		return c.sendServer(protocol.Message{GID: gid, UID: u.UID, Text: u.Text, Attachments: infos})
	default:
		return fmt.Errorf("conn: unknown group update kind %d", u.Kind)
	}
}

func (c *Conn) sendServer(msg protocol.ServerMessage) error {
	frame, err := protocol.EncodeServerMessage(msg)
	if err != nil {
		return err
	}
	if err := c.codec.WriteFrame(c.rwc, frame); err != nil {
		return err
	}

	// Outbound traffic is liveness too: a busy connection that the server
	// keeps pushing updates to shouldn't also be nagged with pings.
	if c.pingTicker != nil {
		c.pingTicker.Reset(c.cfg.PingInterval)
	}
	return nil
}

func (c *Conn) cleanup() {
	gids := make([]uint32, 0, len(c.memberships))
	for gid, m := range c.memberships {
		close(m.done)
		gids = append(gids, gid)
	}
	c.registry.LeaveAll(c.id, gids)
	c.attachments = nil

	if err := c.rwc.Close(); err != nil {
		slog.Debug("connection close", "conn_id", c.id, "err", err)
	}
}
