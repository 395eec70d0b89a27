package ckeyed

import (
	"fmt"
	"net"

	"github.com/credmesh/credmesh/cpeer"
	"github.com/credmesh/credmesh/cquic"
	"github.com/credmesh/credmesh/internal/cproto"
)

var _ cpeer.KeyAddressed = (*PeerView)(nil)

// PeerView is a remote's own registrations, as reported by the remote
// over the live connection to it.
//
// Each HasRemote or HasPeerWithoutRemote call is a round trip.
// A failed query reports the key as not registered.
type PeerView struct {
	key  cpeer.Identity
	conn cquic.Conn
	e    *Endpoint
}

// PeerView returns a view of the remote with the given key.
// It fails if there is no live connection to key.
func (e *Endpoint) PeerView(key cpeer.Identity) (*PeerView, error) {
	e.mu.RLock()
	conn, ok := e.conns[key]
	e.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no live connection to %s", key)
	}
	return &PeerView{key: key, conn: conn, e: e}, nil
}

func (v *PeerView) Identity() cpeer.Identity  { return v.key }
func (v *PeerView) PublicKey() cpeer.Identity { return v.key }

// Addr is nil, as a view is reached through its connection.
func (v *PeerView) Addr() net.Addr { return nil }

func (v *PeerView) ConnectivityChecks(other cpeer.Endpoint) ([]cpeer.Check, error) {
	return cpeer.KeyAddressedChecks(v, other)
}

func (v *PeerView) HasRemote(key cpeer.Identity) bool {
	return v.query(key) == cproto.RegisteredRemote
}

func (v *PeerView) HasPeerWithoutRemote(key cpeer.Identity) bool {
	return v.query(key) == cproto.RegisteredWithoutRemote
}

func (v *PeerView) query(key cpeer.Identity) cproto.Registration {
	// Query bounds itself by the handshake timeout.
	reg, err := cproto.Query(v.conn.Context(), v.conn, string(key), v.e.handshakeTimeout)
	if err != nil {
		v.e.log.Debug("State query failed", "peer", string(v.key), "err", err)
		return cproto.NotRegistered
	}
	return reg
}
