package cquic

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"

	"github.com/credmesh/credmesh/cca"
	"github.com/quic-go/quic-go"
)

// Dialer handles establishing QUIC connections with remote peers.
type Dialer struct {
	BaseTLSConf *tls.Config

	QUICTransport *quic.Transport
	QUICConfig    *quic.Config

	CAPool *cca.Pool
}

// DialResult is the return type for [Dialer.Dial].
type DialResult struct {
	Conn Conn

	// A channel that is closed when the peer's CA certificate
	// is removed from the trusted CA pool.
	NotifyCARemoved <-chan struct{}
}

// Dial opens a QUIC connection to the given address,
// using TLS configuration that respects the current d.CAPool.
//
// The returned connection is closed with [CARemoved]
// if the remote's CA is later removed from the pool.
func (d Dialer) Dial(ctx context.Context, addr net.Addr) (DialResult, error) {
	tlsConf := d.BaseTLSConf.Clone()
	tlsConf.RootCAs = d.CAPool.CertPool()

	rawQC, err := d.QUICTransport.Dial(ctx, addr, tlsConf, d.QUICConfig)
	if err != nil {
		return DialResult{}, fmt.Errorf("failed to dial %s: %w", addr, err)
	}

	qc := WrapConn(rawQC)

	notify, err := watchCA(qc, d.CAPool)
	if err != nil {
		_ = qc.CloseWithError(CARemoved, CARemovedMessage)
		return DialResult{}, fmt.Errorf("dialed %s: %w", addr, err)
	}

	return DialResult{
		Conn: qc,

		NotifyCARemoved: notify,
	}, nil
}

// watchCA arranges for conn to be closed
// once the CA that verified it leaves pool.
func watchCA(conn Conn, pool *cca.Pool) (<-chan struct{}, error) {
	ca, err := PeerCA(conn.TLSConnectionState())
	if err != nil {
		return nil, err
	}

	notify := pool.NotifyRemoval(ca)
	if notify == nil {
		// Removed between the handshake and now.
		return nil, cca.ErrCertRemoved
	}

	go func() {
		select {
		case <-conn.Context().Done():
		case <-notify:
			_ = conn.CloseWithError(CARemoved, CARemovedMessage)
		}
	}()

	return notify, nil
}

// IsCARemoved reports whether err is the result of a connection
// being closed due to its CA leaving the trusted pool.
func IsCARemoved(err error) bool {
	if errors.Is(err, cca.ErrCertRemoved) {
		return true
	}
	var appErr *quic.ApplicationError
	return errors.As(err, &appErr) && appErr.ErrorCode == quic.ApplicationErrorCode(CARemoved)
}
