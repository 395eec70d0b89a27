package cquic

import (
	"errors"
	"net"
	"time"

	"github.com/quic-go/quic-go"
)

// ALPN is the application protocol negotiated on every credmesh connection.
const ALPN = "credmesh/1"

// Application error codes used when closing connections.
const (
	CloseNormal ApplicationErrorCode = iota
	CARemoved
	HandshakeFailed
	IdentityMismatch
)

// Messages paired with the application error codes.
const (
	CloseNormalMessage      = "closing"
	CARemovedMessage        = "certificate removed from trusted set"
	HandshakeFailedMessage  = "handshake failed"
	IdentityMismatchMessage = "identity mismatch"
)

// ErrIdentityMismatch is matched by handshake errors caused by a peer
// announcing an identity other than the one its certificate proves.
var ErrIdentityMismatch = errors.New("identity mismatch")

// HandshakeCloseCode returns the application error code and message
// for closing a connection whose handshake failed with err.
func HandshakeCloseCode(err error) (ApplicationErrorCode, string) {
	if errors.Is(err, ErrIdentityMismatch) {
		return IdentityMismatch, IdentityMismatchMessage
	}
	return HandshakeFailed, HandshakeFailedMessage
}

// DefaultConfig is the default QUIC configuration for a [Host].
func DefaultConfig() *quic.Config {
	return &quic.Config{
		// Defaults to 5s otherwise,
		// far longer than a localhost or LAN peer needs.
		HandshakeIdleTimeout: 2 * time.Second,

		// Connections stay open while idle so that
		// the remote's connected state remains observable.
		KeepAlivePeriod: 10 * time.Second,

		InitialStreamReceiveWindow:     32 * 1024,
		MaxStreamReceiveWindow:         1024 * 1024,
		InitialConnectionReceiveWindow: 4 * 32 * 1024,
		MaxConnectionReceiveWindow:     4 * 1024 * 1024,

		// The handshake stream and state queries are short-lived
		// and opened one at a time.
		MaxIncomingStreams:    4,
		MaxIncomingUniStreams: -1,
	}
}

// MakeTransport returns a QUIC transport over conn.
//
// The caller retains ownership of conn.
// Closing the transport closes every connection and listener on it.
func MakeTransport(conn *net.UDPConn) *quic.Transport {
	return &quic.Transport{
		Conn: conn,

		// Skip: ConnectionIDLength: use default of 4 for now.
		// Skip: StatelessResetKey: endpoints are not expected to outlive a restart.
	}
}
