package protocol

import (
	"bytes"
	"testing"
	"time"
)

func TestAuthRequestRoundtrip(t *testing.T) {
	var token [32]byte
	for i := range token {
		token[i] = byte(i)
	}

	data, err := EncodeAuthRequest(AuthRequest{AccessToken: token})
	if err != nil {
		t.Fatalf("EncodeAuthRequest: %v", err)
	}
	got, err := DecodeAuthRequest(data)
	if err != nil {
		t.Fatalf("DecodeAuthRequest: %v", err)
	}
	if got.AccessToken != token {
		t.Fatalf("got %v, want %v", got.AccessToken, token)
	}
}

func TestAuthResponseRoundtripSuccess(t *testing.T) {
	resp := AuthResponse{Success: &AuthSuccess{
		PingInterval: 30 * time.Second,
		PingTimeout:  5 * time.Second,
	}}
	data, err := EncodeAuthResponse(resp)
	if err != nil {
		t.Fatalf("EncodeAuthResponse: %v", err)
	}
	got, err := DecodeAuthResponse(data)
	if err != nil {
		t.Fatalf("DecodeAuthResponse: %v", err)
	}
	if got.Success == nil {
		t.Fatal("expected Success to be set")
	}
	if got.Success.PingInterval != resp.Success.PingInterval {
		t.Errorf("PingInterval: got %v, want %v", got.Success.PingInterval, resp.Success.PingInterval)
	}
	if got.Success.PingTimeout != resp.Success.PingTimeout {
		t.Errorf("PingTimeout: got %v, want %v", got.Success.PingTimeout, resp.Success.PingTimeout)
	}
}

func TestAuthResponseRoundtripFailed(t *testing.T) {
	data, err := EncodeAuthResponse(AuthResponse{})
	if err != nil {
		t.Fatalf("EncodeAuthResponse: %v", err)
	}
	got, err := DecodeAuthResponse(data)
	if err != nil {
		t.Fatalf("DecodeAuthResponse: %v", err)
	}
	if got.Success != nil {
		t.Fatalf("expected Success to be nil, got %+v", got.Success)
	}
}

func TestClientMessageRoundtrip(t *testing.T) {
	cases := []ClientMessage{
		JoinGroup{Name: "lobby"},
		LeaveGroup{GID: 7},
		InitUser{GID: 7, Name: "alice"},
		DestroyUser{GID: 7, UID: 3},
		Rename{GID: 7, UID: 3, Name: "alicia"},
		SendMessage{GID: 7, UID: 3, Text: "hi", Attachments: nil},
		SendMessage{GID: 7, UID: 3, Text: "hi", Attachments: [][]byte{}},
		SendMessage{GID: 7, UID: 3, Text: "hi", Attachments: [][]byte{{0xDE, 0xAD}, {}}},
		DownloadAttachment{ID: 1},
		IgnoreAttachment{ID: 1},
		Pong{},
		Shutdown{},
	}

	for _, want := range cases {
		data, err := EncodeClientMessage(want)
		if err != nil {
			t.Fatalf("EncodeClientMessage(%#v): %v", want, err)
		}
		got, err := DecodeClientMessage(data)
		if err != nil {
			t.Fatalf("DecodeClientMessage(%#v): %v", want, err)
		}

		sm, isSend := want.(SendMessage)
		if isSend {
			gsm, ok := got.(SendMessage)
			if !ok {
				t.Fatalf("got %T, want SendMessage", got)
			}
			if gsm.GID != sm.GID || gsm.UID != sm.UID || gsm.Text != sm.Text || len(gsm.Attachments) != len(sm.Attachments) {
				t.Fatalf("got %+v, want %+v", gsm, sm)
			}
			for i := range sm.Attachments {
				if !bytes.Equal(gsm.Attachments[i], sm.Attachments[i]) {
					t.Fatalf("attachment %d: got %v, want %v", i, gsm.Attachments[i], sm.Attachments[i])
				}
			}
			continue
		}

		if got != want {
			t.Fatalf("got %#v, want %#v", got, want)
		}
	}
}

func TestServerMessageRoundtrip(t *testing.T) {
	cases := []ServerMessage{
		InitGroup{GID: 1, Name: "lobby"},
		DestroyGroup{GID: 1},
		ServerInitUser{GID: 1, UID: 2, Name: "alice"},
		ServerDestroyUser{GID: 1, UID: 2},
		ServerRename{GID: 1, UID: 2, Name: "alicia"},
		Message{GID: 1, UID: 2, Text: "hi", Attachments: nil},
		Message{GID: 1, UID: 2, Text: "hi", Attachments: []AttachmentInfo{}},
		Message{GID: 1, UID: 2, Text: "hi", Attachments: []AttachmentInfo{{ID: 0, Size: 2}}},
		Attachment{ID: 0, Data: []byte{0xDE, 0xAD}},
		Attachment{ID: 1, Data: []byte{}},
		ConfirmGroup{GID: 1},
		ConfirmUser{UID: 2},
		Ping{},
	}

	for _, want := range cases {
		data, err := EncodeServerMessage(want)
		if err != nil {
			t.Fatalf("EncodeServerMessage(%#v): %v", want, err)
		}
		got, err := DecodeServerMessage(data)
		if err != nil {
			t.Fatalf("DecodeServerMessage(%#v): %v", want, err)
		}

		switch wm := want.(type) {
		case Message:
			gm, ok := got.(Message)
			if !ok {
				t.Fatalf("got %T, want Message", got)
			}
			if gm.GID != wm.GID || gm.UID != wm.UID || gm.Text != wm.Text || len(gm.Attachments) != len(wm.Attachments) {
				t.Fatalf("got %+v, want %+v", gm, wm)
			}
		case Attachment:
			ga, ok := got.(Attachment)
			if !ok {
				t.Fatalf("got %T, want Attachment", got)
			}
			if ga.ID != wm.ID || !bytes.Equal(ga.Data, wm.Data) {
				t.Fatalf("got %+v, want %+v", ga, wm)
			}
		default:
			if got != want {
				t.Fatalf("got %#v, want %#v", got, want)
			}
		}
	}
}

func TestDecodeClientMessageRejectsUnknownTag(t *testing.T) {
	enc, buf := newEncoder()
	encodeArray(enc, 99)
	if enc.err != nil {
		t.Fatalf("encode: %v", enc.err)
	}

	if _, err := DecodeClientMessage(buf.Bytes()); err == nil {
		t.Fatal("expected error decoding unknown tag")
	}
}

func TestDecodeAuthRequestRejectsWrongTokenLength(t *testing.T) {
	enc, buf := newEncoder()
	encodeArray(enc, 0, []byte{1, 2, 3})
	if enc.err != nil {
		t.Fatalf("encode: %v", enc.err)
	}

	if _, err := DecodeAuthRequest(buf.Bytes()); err == nil {
		t.Fatal("expected error decoding short token")
	}
}
