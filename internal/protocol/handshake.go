package protocol

import (
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// AuthRequest is the first client→server message after the version exchange.
type AuthRequest struct {
	AccessToken [32]byte
}

// AuthOutcome tags which variant of AuthResponse was received.
type AuthOutcome uint8

const (
	authSuccess uint8 = iota
	authFailed
)

// AuthResponse answers an AuthRequest. A nil Success means the server
// rejected the access token.
type AuthResponse struct {
	Success *AuthSuccess
}

// AuthSuccess carries the liveness parameters the connection must honor.
type AuthSuccess struct {
	PingInterval time.Duration
	PingTimeout  time.Duration
}

// EncodeAuthRequest serializes an AuthRequest.
func EncodeAuthRequest(req AuthRequest) ([]byte, error) {
	enc, buf := newEncoder()
	encodeArray(enc, 0, req.AccessToken[:])
	if enc.err != nil {
		return nil, fmt.Errorf("protocol: encode auth request: %w", enc.err)
	}
	return buf.Bytes(), nil
}

// DecodeAuthRequest parses an AuthRequest.
func DecodeAuthRequest(data []byte) (AuthRequest, error) {
	var req AuthRequest
	dec := msgpack.NewDecoder(newReader(data))
	if _, err := dec.DecodeArrayLen(); err != nil {
		return req, fmt.Errorf("protocol: decode auth request header: %w", err)
	}
	if _, err := dec.DecodeUint8(); err != nil {
		return req, fmt.Errorf("protocol: decode auth request tag: %w", err)
	}
	token, err := dec.DecodeBytes()
	if err != nil {
		return req, wrapDecodeErr(err)
	}
	if len(token) != len(req.AccessToken) {
		return req, fmt.Errorf("protocol: auth request token has wrong length %d", len(token))
	}
	copy(req.AccessToken[:], token)
	return req, nil
}

// EncodeAuthResponse serializes an AuthResponse.
func EncodeAuthResponse(resp AuthResponse) ([]byte, error) {
	enc, buf := newEncoder()
	if resp.Success != nil {
		encodeArray(enc, authSuccess, resp.Success.PingInterval.Milliseconds(), resp.Success.PingTimeout.Milliseconds())
	} else {
		encodeArray(enc, authFailed)
	}
	if enc.err != nil {
		return nil, fmt.Errorf("protocol: encode auth response: %w", enc.err)
	}
	return buf.Bytes(), nil
}

// DecodeAuthResponse parses an AuthResponse.
func DecodeAuthResponse(data []byte) (AuthResponse, error) {
	dec := msgpack.NewDecoder(newReader(data))
	if _, err := dec.DecodeArrayLen(); err != nil {
		return AuthResponse{}, fmt.Errorf("protocol: decode auth response header: %w", err)
	}
	tag, err := dec.DecodeUint8()
	if err != nil {
		return AuthResponse{}, fmt.Errorf("protocol: decode auth response tag: %w", err)
	}

	switch tag {
	case authSuccess:
		intervalMs, err := dec.DecodeInt64()
		if err != nil {
			return AuthResponse{}, wrapDecodeErr(err)
		}
		timeoutMs, err := dec.DecodeInt64()
		if err != nil {
			return AuthResponse{}, wrapDecodeErr(err)
		}
		return AuthResponse{Success: &AuthSuccess{
			PingInterval: time.Duration(intervalMs) * time.Millisecond,
			PingTimeout:  time.Duration(timeoutMs) * time.Millisecond,
		}}, nil
	case authFailed:
		return AuthResponse{}, nil
	default:
		return AuthResponse{}, fmt.Errorf("protocol: unknown auth response tag %d", tag)
	}
}
