package protocol

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// ServerMessage is an event sent from the server to a client.
type ServerMessage interface {
	serverTag() uint8
}

const (
	tagInitGroup uint8 = iota
	tagDestroyGroup
	tagServerInitUser
	tagServerDestroyUser
	tagServerRename
	tagMessage
	tagAttachment
	tagConfirmGroup
	tagConfirmUser
	tagPing
)

// InitGroup announces a group's existence, either as part of the initial
// post-handshake snapshot or because some other connection just created it.
type InitGroup struct {
	GID  uint32
	Name string
}

// DestroyGroup announces that a group has no remaining subscribers and has
// been torn down.
type DestroyGroup struct {
	GID uint32
}

// ServerInitUser announces that a virtual user now exists within a group
// this connection subscribes to.
type ServerInitUser struct {
	GID  uint32
	UID  uint32
	Name string
}

// ServerDestroyUser announces that a virtual user has been destroyed.
type ServerDestroyUser struct {
	GID uint32
	UID uint32
}

// ServerRename announces a virtual user's new display name. The name is
// carried here (not just the uid) so a receiver that joined after the
// rename still ends up with a consistent view.
type ServerRename struct {
	GID  uint32
	UID  uint32
	Name string
}

// AttachmentInfo describes an attachment offered alongside a Message without
// transmitting its payload.
type AttachmentInfo struct {
	ID   uint32
	Size uint64
}

// Message delivers text emitted by a virtual user, plus metadata for any
// attachments the receiver may separately pull with DownloadAttachment.
type Message struct {
	GID         uint32
	UID         uint32
	Text        string
	Attachments []AttachmentInfo
}

// Attachment carries the payload previously described by an AttachmentInfo.
type Attachment struct {
	ID   uint32
	Data []byte
}

// ConfirmGroup answers a JoinGroup command with the group's allocated id.
type ConfirmGroup struct {
	GID uint32
}

// ConfirmUser answers an InitUser command with the user's allocated id.
type ConfirmUser struct {
	UID uint32
}

// Ping requests a Pong within the handshake-negotiated timeout.
type Ping struct{}

func (InitGroup) serverTag() uint8         { return tagInitGroup }
func (DestroyGroup) serverTag() uint8      { return tagDestroyGroup }
func (ServerInitUser) serverTag() uint8    { return tagServerInitUser }
func (ServerDestroyUser) serverTag() uint8 { return tagServerDestroyUser }
func (ServerRename) serverTag() uint8      { return tagServerRename }
func (Message) serverTag() uint8           { return tagMessage }
func (Attachment) serverTag() uint8        { return tagAttachment }
func (ConfirmGroup) serverTag() uint8      { return tagConfirmGroup }
func (ConfirmUser) serverTag() uint8       { return tagConfirmUser }
func (Ping) serverTag() uint8              { return tagPing }

// EncodeServerMessage serializes msg into its tagged-array wire form.
func EncodeServerMessage(msg ServerMessage) ([]byte, error) {
	enc, buf := newEncoder()
	tag := msg.serverTag()

	switch m := msg.(type) {
	case InitGroup:
		encodeArray(enc, tag, m.GID, m.Name)
	case DestroyGroup:
		encodeArray(enc, tag, m.GID)
	case ServerInitUser:
		encodeArray(enc, tag, m.GID, m.UID, m.Name)
	case ServerDestroyUser:
		encodeArray(enc, tag, m.GID, m.UID)
	case ServerRename:
		encodeArray(enc, tag, m.GID, m.UID, m.Name)
	case Message:
		encodeArray(enc, tag, m.GID, m.UID, m.Text, m.Attachments)
	case Attachment:
		encodeArray(enc, tag, m.ID, m.Data)
	case ConfirmGroup:
		encodeArray(enc, tag, m.GID)
	case ConfirmUser:
		encodeArray(enc, tag, m.UID)
	case Ping:
		encodeArray(enc, tag)
	default:
		return nil, fmt.Errorf("protocol: unknown server message type %T", msg)
	}

	if enc.err != nil {
		return nil, fmt.Errorf("protocol: encode server message: %w", enc.err)
	}
	return buf.Bytes(), nil
}

// DecodeServerMessage parses a tagged-array wire form into a ServerMessage.
func DecodeServerMessage(data []byte) (ServerMessage, error) {
	dec := msgpack.NewDecoder(newReader(data))
	n, err := dec.DecodeArrayLen()
	if err != nil {
		return nil, fmt.Errorf("protocol: decode server message header: %w", err)
	}
	if n < 1 {
		return nil, fmt.Errorf("protocol: decode server message: empty array")
	}
	tag, err := dec.DecodeUint8()
	if err != nil {
		return nil, fmt.Errorf("protocol: decode server message tag: %w", err)
	}

	switch tag {
	case tagInitGroup:
		gid, err := dec.DecodeUint32()
		if err != nil {
			return nil, wrapDecodeErr(err)
		}
		name, err := dec.DecodeString()
		return InitGroup{GID: gid, Name: name}, wrapDecodeErr(err)
	case tagDestroyGroup:
		gid, err := dec.DecodeUint32()
		return DestroyGroup{GID: gid}, wrapDecodeErr(err)
	case tagServerInitUser:
		gid, err := dec.DecodeUint32()
		if err != nil {
			return nil, wrapDecodeErr(err)
		}
		uid, err := dec.DecodeUint32()
		if err != nil {
			return nil, wrapDecodeErr(err)
		}
		name, err := dec.DecodeString()
		return ServerInitUser{GID: gid, UID: uid, Name: name}, wrapDecodeErr(err)
	case tagServerDestroyUser:
		gid, err := dec.DecodeUint32()
		if err != nil {
			return nil, wrapDecodeErr(err)
		}
		uid, err := dec.DecodeUint32()
		return ServerDestroyUser{GID: gid, UID: uid}, wrapDecodeErr(err)
	case tagServerRename:
		gid, err := dec.DecodeUint32()
		if err != nil {
			return nil, wrapDecodeErr(err)
		}
		uid, err := dec.DecodeUint32()
		if err != nil {
			return nil, wrapDecodeErr(err)
		}
		name, err := dec.DecodeString()
		return ServerRename{GID: gid, UID: uid, Name: name}, wrapDecodeErr(err)
	case tagMessage:
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
		var attachments []AttachmentInfo
		if err := dec.Decode(&attachments); err != nil {
			return nil, wrapDecodeErr(err)
		}
		return Message{GID: gid, UID: uid, Text: text, Attachments: attachments}, nil
	case tagAttachment:
		id, err := dec.DecodeUint32()
		if err != nil {
			return nil, wrapDecodeErr(err)
		}
		data, err := dec.DecodeBytes()
		return Attachment{ID: id, Data: data}, wrapDecodeErr(err)
	case tagConfirmGroup:
		gid, err := dec.DecodeUint32()
		return ConfirmGroup{GID: gid}, wrapDecodeErr(err)
	case tagConfirmUser:
		uid, err := dec.DecodeUint32()
		return ConfirmUser{UID: uid}, wrapDecodeErr(err)
	case tagPing:
		return Ping{}, nil
	default:
		return nil, fmt.Errorf("protocol: unknown server message tag %d", tag)
	}
}
