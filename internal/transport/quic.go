package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"

	"github.com/quic-go/quic-go/http3"
	"github.com/quic-go/webtransport-go"
)

// QUICListener exposes multichat over a WebTransport session per connection,
// each session's single bidirectional stream standing in for a TCP socket.
// This is an optional, enriched transport alongside the mandatory TCP/TLS
// listeners; the connection state machine is unaware which one it is fed by.
type QUICListener struct {
	server  *webtransport.Server
	udpConn *net.UDPConn
	streams chan Stream
	errs    chan error
}

// ListenQUIC binds addr for WebTransport-over-HTTP/3, serving sessions at
// the fixed path "/multichat". certFile/keyFile are PEM TLS material; QUIC
// requires TLS unconditionally.
func ListenQUIC(addr, certFile, keyFile string) (*QUICListener, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("transport: load tls keypair for quic: %w", err)
	}

	mux := http.NewServeMux()
	wt := &webtransport.Server{
		H3: http3.Server{
			Addr:      addr,
			TLSConfig: &tls.Config{Certificates: []tls.Certificate{cert}},
			Handler:   mux,
		},
	}

	ql := &QUICListener{
		server:  wt,
		streams: make(chan Stream, 16),
		errs:    make(chan error, 1),
	}

	mux.HandleFunc("/multichat", func(w http.ResponseWriter, r *http.Request) {
		session, err := wt.Upgrade(w, r)
		if err != nil {
			return
		}
		stream, err := session.AcceptStream(r.Context())
		if err != nil {
			return
		}
		ql.streams <- sessionStream{session: session, Stream: stream}
	})

	go func() {
		ql.errs <- wt.ListenAndServe()
	}()

	return ql, nil
}

// Accept returns the next WebTransport session's stream.
func (l *QUICListener) Accept() (Stream, error) {
	select {
	case s := <-l.streams:
		return s, nil
	case err := <-l.errs:
		return nil, err
	}
}

// Close shuts the HTTP/3 server down, which tears down every session.
func (l *QUICListener) Close() error {
	return l.server.Close()
}

// Addr is unavailable for a QUIC/UDP listener wrapped behind http3.Server;
// callers needing it should use the configured listen address directly.
func (l *QUICListener) Addr() net.Addr { return nil }

// sessionStream binds a WebTransport stream's lifetime to its parent
// session so that closing the stream tears down the whole session too.
type sessionStream struct {
	webtransport.Stream
	session *webtransport.Session
}

func (s sessionStream) Close() error {
	err := s.Stream.Close()
	_ = s.session.CloseWithError(0, "")
	return err
}
