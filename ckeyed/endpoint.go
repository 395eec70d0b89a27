// Package ckeyed provides a key-addressed endpoint:
// peers are identified by the ed25519 key in their TLS leaf certificate.
//
// A peer whose connection passed TLS verification but has not yet
// completed the hello exchange is a peer without a remote.
// Completing the exchange promotes it to a [Remote].
// A key is never in both collections at once.
package ckeyed

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net"
	"slices"
	"sync"
	"time"

	"github.com/credmesh/credmesh/cpeer"
	"github.com/credmesh/credmesh/cpubsub"
	"github.com/credmesh/credmesh/cquic"
	"github.com/credmesh/credmesh/internal/cproto"
	"github.com/mr-tron/base58"
)

var _ cpeer.KeyAddressed = (*Endpoint)(nil)

// Remote is an endpoint's record of a peer that completed the hello exchange.
type Remote struct {
	Key cpeer.Identity

	// The address the peer advertised in its hello.
	Addr string

	State cpeer.ConnectionState

	// When State last changed.
	Since time.Time
}

// Config is the configuration for an [Endpoint].
type Config struct {
	// The endpoint's identity is the key of Host.TLS.Certificates[0].
	Host cquic.HostConfig

	// The address sent to peers in the hello exchange.
	// Defaults to the listener's address.
	AdvertiseAddr string

	// Bounds each side of the hello exchange.
	// Defaults to [cproto.DefaultTimeout].
	HandshakeTimeout time.Duration
}

// Endpoint is a key-addressed endpoint backed by a [*cquic.Host].
type Endpoint struct {
	log *slog.Logger

	key cpeer.Identity

	host *cquic.Host

	advertiseAddr    string
	handshakeTimeout time.Duration

	// Connection watchers and state query servers.
	wg sync.WaitGroup

	mu      sync.RWMutex
	remotes map[cpeer.Identity]Remote
	pending map[cpeer.Identity]struct{}
	conns   map[cpeer.Identity]cquic.Conn

	// Where the next change is published.
	changes *cpubsub.Stream[cpeer.Change]
}

// KeyIdentity returns the identity of an endpoint presenting key.
func KeyIdentity(key ed25519.PublicKey) cpeer.Identity {
	return cpeer.Identity(base58.Encode(key))
}

// New starts an Endpoint.
// Cancel ctx to stop it, then call [*Endpoint.Wait].
func New(ctx context.Context, log *slog.Logger, cfg Config) (*Endpoint, error) {
	if cfg.Host.TLS == nil || len(cfg.Host.TLS.Certificates) == 0 || cfg.Host.TLS.Certificates[0].Leaf == nil {
		panic(errors.New("BUG: Config.Host.TLS.Certificates[0].Leaf must be set"))
	}
	pub, ok := cfg.Host.TLS.Certificates[0].Leaf.PublicKey.(ed25519.PublicKey)
	if !ok {
		panic(fmt.Errorf(
			"BUG: endpoint certificate must have an ed25519 key (got %T)",
			cfg.Host.TLS.Certificates[0].Leaf.PublicKey,
		))
	}

	e := &Endpoint{
		key: KeyIdentity(pub),

		handshakeTimeout: cfg.HandshakeTimeout,

		remotes: make(map[cpeer.Identity]Remote),
		pending: make(map[cpeer.Identity]struct{}),
		conns:   make(map[cpeer.Identity]cquic.Conn),

		changes: cpubsub.NewStream[cpeer.Change](),
	}
	e.log = log.With("key", string(e.key))

	// Set before the host starts accepting, as inbound handshakes read it.
	e.advertiseAddr = cfg.AdvertiseAddr
	if e.advertiseAddr == "" && cfg.Host.UDPConn != nil {
		e.advertiseAddr = cfg.Host.UDPConn.LocalAddr().String()
	}

	host, err := cquic.NewHost(ctx, e.log.With("sys", "host"), cfg.Host, e)
	if err != nil {
		return nil, err
	}
	e.host = host

	return e, nil
}

// Wait blocks until the endpoint has finished all background work.
func (e *Endpoint) Wait() {
	e.host.Wait()
	e.wg.Wait()
}

func (e *Endpoint) Identity() cpeer.Identity  { return e.key }
func (e *Endpoint) PublicKey() cpeer.Identity { return e.key }
func (e *Endpoint) Addr() net.Addr            { return e.host.Addr() }

func (e *Endpoint) ConnectivityChecks(other cpeer.Endpoint) ([]cpeer.Check, error) {
	return cpeer.KeyAddressedChecks(e, other)
}

func (e *Endpoint) HasRemote(key cpeer.Identity) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.remotes[key]
	return ok
}

func (e *Endpoint) HasPeerWithoutRemote(key cpeer.Identity) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.pending[key]
	return ok
}

// RemotesByKeys returns a snapshot of the endpoint's remotes.
func (e *Endpoint) RemotesByKeys() map[cpeer.Identity]Remote {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return maps.Clone(e.remotes)
}

// PeersWithoutRemotes returns a sorted snapshot of the keys
// that are connected but not yet promoted to remotes.
func (e *Endpoint) PeersWithoutRemotes() []cpeer.Identity {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return slices.Sorted(maps.Keys(e.pending))
}

// Changes returns the stream of remote state changes
// published after the call.
func (e *Endpoint) Changes() *cpubsub.Stream[cpeer.Change] {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.changes
}

// Connect dials other's address.
func (e *Endpoint) Connect(ctx context.Context, other cpeer.Endpoint) error {
	addr := other.Addr()
	if addr == nil {
		return fmt.Errorf("endpoint %s has no dialable address", other.Identity())
	}
	_, err := e.dial(ctx, addr)
	return err
}

// ConnectTo dials addr and completes the hello exchange,
// returning the key of the peer reached.
func (e *Endpoint) ConnectTo(ctx context.Context, addr string) (cpeer.Identity, error) {
	ua, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %q: %w", addr, err)
	}
	return e.dial(ctx, ua)
}

func (e *Endpoint) dial(ctx context.Context, addr net.Addr) (cpeer.Identity, error) {
	conn, err := e.host.Dial(ctx, addr)
	if err != nil {
		return "", err
	}

	peer, err := e.admit(conn)
	if err != nil {
		_ = conn.CloseWithError(cquic.HandshakeFailed, cquic.HandshakeFailedMessage)
		return "", err
	}

	ack, err := cproto.Initiate(ctx, conn, cproto.Hello{
		ID:   string(e.key),
		Addr: e.advertiseAddr,
	}, e.handshakeTimeout)
	if err == nil && cpeer.Identity(ack.ID) != peer {
		err = &IdentityMismatchError{Want: peer, Got: cpeer.Identity(ack.ID)}
	}
	if err != nil {
		e.abandon(peer)
		_ = conn.CloseWithError(cquic.HandshakeCloseCode(err))
		return "", fmt.Errorf("handshake with %s failed: %w", addr, err)
	}

	e.promote(peer, ack.Addr, conn)
	return peer, nil
}

// HandleInbound implements [cquic.InboundHandler].
func (e *Endpoint) HandleInbound(ctx context.Context, conn cquic.Conn) error {
	peer, err := e.admit(conn)
	if err != nil {
		return err
	}

	hello, err := cproto.Respond(ctx, conn, cproto.Hello{
		ID:   string(e.key),
		Addr: e.advertiseAddr,
	}, e.handshakeTimeout, func(h cproto.Hello) error {
		if cpeer.Identity(h.ID) != peer {
			return &IdentityMismatchError{Want: peer, Got: cpeer.Identity(h.ID)}
		}
		return nil
	})
	if err != nil {
		e.abandon(peer)
		return err
	}

	e.promote(peer, hello.Addr, conn)
	return nil
}

// Disconnect closes the live connection to key, if any.
func (e *Endpoint) Disconnect(key cpeer.Identity) error {
	e.mu.RLock()
	conn, ok := e.conns[key]
	e.mu.RUnlock()
	if !ok {
		return fmt.Errorf("no live connection to %s", key)
	}
	return conn.CloseWithError(cquic.CloseNormal, cquic.CloseNormalMessage)
}

// admit registers the verified key of conn's peer as a peer without a remote,
// unless it is already a remote.
func (e *Endpoint) admit(conn cquic.Conn) (cpeer.Identity, error) {
	pub, err := cquic.PeerKey(conn.TLSConnectionState())
	if err != nil {
		return "", err
	}
	peer := KeyIdentity(pub)

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.remotes[peer]; !ok {
		e.pending[peer] = struct{}{}
	}
	return peer, nil
}

// abandon forgets a peer whose handshake failed.
// Existing remotes are left alone.
func (e *Endpoint) abandon(peer cpeer.Identity) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.pending, peer)
}

// promote moves peer into the remotes as connected over conn,
// replacing any older connection to the same peer.
func (e *Endpoint) promote(peer cpeer.Identity, addr string, conn cquic.Conn) {
	e.mu.Lock()
	old, hadOld := e.conns[peer]

	delete(e.pending, peer)
	e.conns[peer] = conn
	now := time.Now()
	e.remotes[peer] = Remote{
		Key:   peer,
		Addr:  addr,
		State: cpeer.Connected,
		Since: now,
	}
	e.lockedPublish(peer, cpeer.Connected, now)
	e.mu.Unlock()

	if hadOld && old != conn {
		_ = old.CloseWithError(cquic.CloseNormal, "replaced by newer connection")
	}

	e.log.Info("Remote connected", "peer", string(peer), "addr", addr)

	e.wg.Add(2)
	go e.watch(peer, conn)
	go e.serveQueries(peer, conn)
}

// watch marks peer disconnected once conn closes,
// as long as conn is still the peer's current connection.
func (e *Endpoint) watch(peer cpeer.Identity, conn cquic.Conn) {
	defer e.wg.Done()

	<-conn.Context().Done()

	e.mu.Lock()
	defer e.mu.Unlock()

	if cur, ok := e.conns[peer]; !ok || cur != conn {
		return
	}
	delete(e.conns, peer)

	r := e.remotes[peer]
	r.State = cpeer.Disconnected
	r.Since = time.Now()
	e.remotes[peer] = r
	e.lockedPublish(peer, cpeer.Disconnected, r.Since)

	e.log.Info(
		"Remote disconnected",
		"peer", string(peer),
		"cause", context.Cause(conn.Context()),
	)
}

// serveQueries answers peer's state queries on conn until it closes.
func (e *Endpoint) serveQueries(peer cpeer.Identity, conn cquic.Conn) {
	defer e.wg.Done()

	err := cproto.ServeQueries(conn.Context(), conn, e.handshakeTimeout, e.registrationOf)
	e.log.Debug("Stopped serving state queries", "peer", string(peer), "err", err)
}

func (e *Endpoint) registrationOf(key string) cproto.Registration {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if _, ok := e.remotes[cpeer.Identity(key)]; ok {
		return cproto.RegisteredRemote
	}
	if _, ok := e.pending[cpeer.Identity(key)]; ok {
		return cproto.RegisteredWithoutRemote
	}
	return cproto.NotRegistered
}

func (e *Endpoint) lockedPublish(peer cpeer.Identity, s cpeer.ConnectionState, at time.Time) {
	e.changes.Publish(cpeer.Change{Peer: peer, State: s, At: at})
	e.changes = e.changes.Next
}
