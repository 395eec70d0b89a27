// Package cnamed provides a transport-addressed endpoint:
// peers are identified by the name they announce in the hello exchange,
// and the endpoint keeps a connection state per named remote.
package cnamed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net"
	"sync"
	"time"

	"github.com/credmesh/credmesh/cpeer"
	"github.com/credmesh/credmesh/cpubsub"
	"github.com/credmesh/credmesh/cquic"
	"github.com/credmesh/credmesh/internal/cproto"
)

var _ cpeer.TransportAddressed = (*Endpoint)(nil)

// Remote is an endpoint's record of a named peer.
type Remote struct {
	Name  cpeer.Identity
	Addr  string
	State cpeer.ConnectionState
	Since time.Time
}

// Config is the configuration for an [Endpoint].
type Config struct {
	// The name announced to peers. Required.
	Name cpeer.Identity

	Host cquic.HostConfig

	// The address sent to peers in the hello exchange.
	// Defaults to the listener's address.
	AdvertiseAddr string

	// Bounds each side of the hello exchange.
	// Defaults to [cproto.DefaultTimeout].
	HandshakeTimeout time.Duration
}

// Endpoint is a transport-addressed endpoint backed by a [*cquic.Host].
type Endpoint struct {
	log *slog.Logger

	name cpeer.Identity

	host *cquic.Host

	advertiseAddr    string
	handshakeTimeout time.Duration

	wg sync.WaitGroup

	mu      sync.RWMutex
	remotes map[cpeer.Identity]Remote
	conns   map[cpeer.Identity]cquic.Conn

	// Where the next change is published.
	changes *cpubsub.Stream[cpeer.Change]
}

// New starts an Endpoint.
// Cancel ctx to stop it, then call [*Endpoint.Wait].
func New(ctx context.Context, log *slog.Logger, cfg Config) (*Endpoint, error) {
	if cfg.Name == "" {
		panic(errors.New("BUG: Config.Name must not be empty"))
	}
	if len(cfg.Name) > cproto.MaxFieldLen {
		panic(fmt.Errorf("BUG: Config.Name must be <= %d bytes", cproto.MaxFieldLen))
	}

	e := &Endpoint{
		log:  log.With("name", string(cfg.Name)),
		name: cfg.Name,

		handshakeTimeout: cfg.HandshakeTimeout,

		remotes: make(map[cpeer.Identity]Remote),
		conns:   make(map[cpeer.Identity]cquic.Conn),

		changes: cpubsub.NewStream[cpeer.Change](),
	}

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

func (e *Endpoint) Identity() cpeer.Identity { return e.name }
func (e *Endpoint) Name() cpeer.Identity     { return e.name }
func (e *Endpoint) Addr() net.Addr           { return e.host.Addr() }

func (e *Endpoint) ConnectivityChecks(other cpeer.Endpoint) ([]cpeer.Check, error) {
	return cpeer.TransportAddressedChecks(e, other)
}

func (e *Endpoint) RemoteState(name cpeer.Identity) cpeer.ConnectionState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.remotes[name].State
}

// Remotes returns a snapshot of the endpoint's remote records.
func (e *Endpoint) Remotes() map[cpeer.Identity]Remote {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return maps.Clone(e.remotes)
}

// Changes returns the stream of remote state changes
// published after the call.
func (e *Endpoint) Changes() *cpubsub.Stream[cpeer.Change] {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.changes
}

// Connect dials other by its identity and address.
func (e *Endpoint) Connect(ctx context.Context, other cpeer.Endpoint) error {
	addr := other.Addr()
	if addr == nil {
		return fmt.Errorf("endpoint %s has no dialable address", other.Identity())
	}
	return e.connect(ctx, other.Identity(), addr)
}

// ConnectTo dials the peer called name at addr.
// The remote is recorded as connecting until the peer acknowledges the hello.
func (e *Endpoint) ConnectTo(ctx context.Context, name cpeer.Identity, addr string) error {
	ua, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to resolve %q: %w", addr, err)
	}
	return e.connect(ctx, name, ua)
}

func (e *Endpoint) connect(ctx context.Context, name cpeer.Identity, addr net.Addr) error {
	if name == e.name {
		return fmt.Errorf("refusing to connect %s to itself", name)
	}

	e.setState(name, addr.String(), cpeer.Connecting)

	conn, err := e.host.Dial(ctx, addr)
	if err != nil {
		e.settleFailed(name, addr.String())
		return err
	}

	ack, err := cproto.Initiate(ctx, conn, cproto.Hello{
		ID:   string(e.name),
		Addr: e.advertiseAddr,
	}, e.handshakeTimeout)
	if err == nil && cpeer.Identity(ack.ID) != name {
		err = &NameMismatchError{Want: name, Got: cpeer.Identity(ack.ID)}
	}
	if err != nil {
		_ = conn.CloseWithError(cquic.HandshakeCloseCode(err))
		e.settleFailed(name, addr.String())
		return fmt.Errorf("handshake with %s at %s failed: %w", name, addr, err)
	}

	e.attach(name, ack.Addr, conn)
	return nil
}

// HandleInbound implements [cquic.InboundHandler].
func (e *Endpoint) HandleInbound(ctx context.Context, conn cquic.Conn) error {
	hello, err := cproto.Respond(ctx, conn, cproto.Hello{
		ID:   string(e.name),
		Addr: e.advertiseAddr,
	}, e.handshakeTimeout, func(h cproto.Hello) error {
		if cpeer.Identity(h.ID) == e.name {
			return fmt.Errorf("peer announced this endpoint's own name %s", h.ID)
		}
		return nil
	})
	if err != nil {
		return err
	}

	e.attach(cpeer.Identity(hello.ID), hello.Addr, conn)
	return nil
}

// Disconnect closes the live connection to name, if any.
func (e *Endpoint) Disconnect(name cpeer.Identity) error {
	e.mu.RLock()
	conn, ok := e.conns[name]
	e.mu.RUnlock()
	if !ok {
		return fmt.Errorf("no live connection to %s", name)
	}
	return conn.CloseWithError(cquic.CloseNormal, cquic.CloseNormalMessage)
}

func (e *Endpoint) setState(name cpeer.Identity, addr string, s cpeer.ConnectionState) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lockedSetState(name, addr, s)
}

// settleFailed records a failed dial to name.
// An older connection that is still live keeps the remote connected.
func (e *Endpoint) settleFailed(name cpeer.Identity, addr string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, live := e.conns[name]; live {
		e.lockedSetState(name, "", cpeer.Connected)
		return
	}
	e.lockedSetState(name, addr, cpeer.Disconnected)
}

func (e *Endpoint) lockedSetState(name cpeer.Identity, addr string, s cpeer.ConnectionState) {
	now := time.Now()
	r := e.remotes[name]
	r.Name = name
	if addr != "" {
		r.Addr = addr
	}
	r.State = s
	r.Since = now
	e.remotes[name] = r

	e.changes.Publish(cpeer.Change{Peer: name, State: s, At: now})
	e.changes = e.changes.Next
}

// attach records name as connected over conn,
// replacing any older connection to the same name.
func (e *Endpoint) attach(name cpeer.Identity, addr string, conn cquic.Conn) {
	e.mu.Lock()
	old, hadOld := e.conns[name]
	e.conns[name] = conn
	e.lockedSetState(name, addr, cpeer.Connected)
	e.mu.Unlock()

	if hadOld && old != conn {
		_ = old.CloseWithError(cquic.CloseNormal, "replaced by newer connection")
	}

	e.log.Info("Remote connected", "peer", string(name), "addr", addr)

	e.wg.Add(1)
	go e.watch(name, conn)
}

func (e *Endpoint) watch(name cpeer.Identity, conn cquic.Conn) {
	defer e.wg.Done()

	<-conn.Context().Done()

	e.mu.Lock()
	defer e.mu.Unlock()

	if cur, ok := e.conns[name]; !ok || cur != conn {
		return
	}
	delete(e.conns, name)
	e.lockedSetState(name, "", cpeer.Disconnected)

	e.log.Info(
		"Remote disconnected",
		"peer", string(name),
		"cause", context.Cause(conn.Context()),
	)
}
