package protocol

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// ClientMessage is a command sent from a client to the server after the
// handshake completes.
type ClientMessage interface {
	clientTag() uint8
}

// Client message discriminants. Values are part of the wire contract and
// must never be renumbered.
const (
	tagJoinGroup uint8 = iota
	tagLeaveGroup
	tagInitUser
	tagDestroyUser
	tagRename
	tagSendMessage
	tagDownloadAttachment
	tagIgnoreAttachment
	tagPong
	tagShutdown
)

// JoinGroup subscribes the connection to the named group, creating it if it
// does not already exist.
type JoinGroup struct {
	Name string
}

// LeaveGroup ends the connection's subscription to gid.
type LeaveGroup struct {
	GID uint32
}

// InitUser creates a new virtual user owned by this connection within gid.
type InitUser struct {
	GID  uint32
	Name string
}

// DestroyUser destroys a virtual user owned by this connection.
type DestroyUser struct {
	GID uint32
	UID uint32
}

// Rename changes the display name of a virtual user owned by this connection.
type Rename struct {
	GID  uint32
	UID  uint32
	Name string
}

// SendMessage emits a text message as a virtual user owned by this
// connection, optionally carrying attachment blobs.
type SendMessage struct {
	GID         uint32
	UID         uint32
	Text        string
	Attachments [][]byte
}

// DownloadAttachment requests the data of a previously offered attachment.
type DownloadAttachment struct {
	ID uint32
}

// IgnoreAttachment discards a previously offered attachment without
// downloading it.
type IgnoreAttachment struct {
	ID uint32
}

// Pong answers a server Ping.
type Pong struct{}

// Shutdown requests an orderly connection close.
type Shutdown struct{}

func (JoinGroup) clientTag() uint8          { return tagJoinGroup }
func (LeaveGroup) clientTag() uint8         { return tagLeaveGroup }
func (InitUser) clientTag() uint8           { return tagInitUser }
func (DestroyUser) clientTag() uint8        { return tagDestroyUser }
func (Rename) clientTag() uint8             { return tagRename }
func (SendMessage) clientTag() uint8        { return tagSendMessage }
func (DownloadAttachment) clientTag() uint8 { return tagDownloadAttachment }
func (IgnoreAttachment) clientTag() uint8   { return tagIgnoreAttachment }
func (Pong) clientTag() uint8               { return tagPong }
func (Shutdown) clientTag() uint8           { return tagShutdown }

// EncodeClientMessage serializes msg into its tagged-array wire form.
func EncodeClientMessage(msg ClientMessage) ([]byte, error) {
	enc, buf := newEncoder()
	tag := msg.clientTag()

	switch m := msg.(type) {
	case JoinGroup:
		encodeArray(enc, tag, m.Name)
	case LeaveGroup:
		encodeArray(enc, tag, m.GID)
	case InitUser:
		encodeArray(enc, tag, m.GID, m.Name)
	case DestroyUser:
		encodeArray(enc, tag, m.GID, m.UID)
	case Rename:
		encodeArray(enc, tag, m.GID, m.UID, m.Name)
	case SendMessage:
		encodeArray(enc, tag, m.GID, m.UID, m.Text, m.Attachments)
	case DownloadAttachment:
		encodeArray(enc, tag, m.ID)
	case IgnoreAttachment:
		encodeArray(enc, tag, m.ID)
	case Pong:
		encodeArray(enc, tag)
	case Shutdown:
		encodeArray(enc, tag)
	default:
		return nil, fmt.Errorf("protocol: unknown client message type %T", msg)
	}

	if enc.err != nil {
		return nil, fmt.Errorf("protocol: encode client message: %w", enc.err)
	}
	return buf.Bytes(), nil
}

// DecodeClientMessage parses a tagged-array wire form into a ClientMessage.
func DecodeClientMessage(data []byte) (ClientMessage, error) {
	dec := msgpack.NewDecoder(newReader(data))
	n, err := dec.DecodeArrayLen()
	if err != nil {
		return nil, fmt.Errorf("protocol: decode client message header: %w", err)
	}
	if n < 1 {
		return nil, fmt.Errorf("protocol: decode client message: empty array")
	}
	tag, err := dec.DecodeUint8()
	if err != nil {
		return nil, fmt.Errorf("protocol: decode client message tag: %w", err)
	}

	switch tag {
	case tagJoinGroup:
		name, err := dec.DecodeString()
		return JoinGroup{Name: name}, wrapDecodeErr(err)
	case tagLeaveGroup:
		gid, err := dec.DecodeUint32()
		return LeaveGroup{GID: gid}, wrapDecodeErr(err)
	case tagInitUser:
		gid, err := dec.DecodeUint32()
		if err != nil {
			return nil, wrapDecodeErr(err)
		}
		name, err := dec.DecodeString()
		return InitUser{GID: gid, Name: name}, wrapDecodeErr(err)
	case tagDestroyUser:
		gid, err := dec.DecodeUint32()
		if err != nil {
			return nil, wrapDecodeErr(err)
		}
		uid, err := dec.DecodeUint32()
		return DestroyUser{GID: gid, UID: uid}, wrapDecodeErr(err)
	case tagRename:
		gid, err := dec.DecodeUint32()
		if err != nil {
			return nil, wrapDecodeErr(err)
		}
		uid, err := dec.DecodeUint32()
		if err != nil {
			return nil, wrapDecodeErr(err)
		}
		name, err := dec.DecodeString()
		return Rename{GID: gid, UID: uid, Name: name}, wrapDecodeErr(err)
	case tagSendMessage:
		gid, err := dec.DecodeUint32()
		if err != nil {
			return nil, wrapDecodeErr(err)
		}
		uid, err := dec.DecodeUint32()
		if err != nil {
			return nil, wrapDecodeErr(err)
		}
		text, err := dec.DecodeString()
		if err != nil {
			return nil, wrapDecodeErr(err)
		}
		var attachments [][]byte
		if err := dec.Decode(&attachments); err != nil {
			return nil, wrapDecodeErr(err)
		}
		return SendMessage{GID: gid, UID: uid, Text: text, Attachments: attachments}, nil
	case tagDownloadAttachment:
		id, err := dec.DecodeUint32()
		return DownloadAttachment{ID: id}, wrapDecodeErr(err)
	case tagIgnoreAttachment:
		id, err := dec.DecodeUint32()
		return IgnoreAttachment{ID: id}, wrapDecodeErr(err)
	case tagPong:
		return Pong{}, nil
	case tagShutdown:
		return Shutdown{}, nil
	default:
		return nil, fmt.Errorf("protocol: unknown client message tag %d", tag)
	}
}
