package ckeyed_test

import (
	"context"
	"testing"
	"time"

	"github.com/credmesh/credmesh/cca/ccatest"
	"github.com/credmesh/credmesh/ckeyed"
	"github.com/credmesh/credmesh/cpeer"
	"github.com/credmesh/credmesh/cpeer/cpeertest"
	"github.com/credmesh/credmesh/cpoll"
	"github.com/credmesh/credmesh/cpubsub"
	"github.com/credmesh/credmesh/cquic"
	"github.com/credmesh/credmesh/cquic/cquictest"
	"github.com/credmesh/credmesh/cverify"
	"github.com/credmesh/credmesh/internal/cproto"
	"github.com/credmesh/credmesh/internal/ctest"
	"github.com/quic-go/quic-go"
	"github.com/stretchr/testify/require"
)

func newEndpoint(t *testing.T, tp *ccatest.TrustPool, caIdx int) *ckeyed.Endpoint {
	t.Helper()

	ctx, cancel := context.WithCancel(t.Context())
	e, err := ckeyed.New(ctx, ctest.NewLogger(t), ckeyed.Config{
		Host: cquictest.HostConfig(t, tp, caIdx, nil),
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		cancel()
		e.Wait()
	})
	return e
}

func newVerifier(t *testing.T) *cverify.Verifier {
	t.Helper()
	return cverify.New(ctest.NewLogger(t), cpoll.Config{
		Timeout:  3 * time.Second,
		Interval: 20 * time.Millisecond,
	})
}

func waitForChange(t *testing.T, s *cpubsub.Stream[cpeer.Change], want cpeer.ConnectionState) (cpeer.Change, *cpubsub.Stream[cpeer.Change]) {
	t.Helper()

	ctx, cancel := context.WithTimeout(t.Context(), 3*time.Second)
	defer cancel()
	for {
		c, next, err := s.Wait(ctx)
		require.NoError(t, err, "waiting for %s change", want)
		s = next
		if c.State == want {
			return c, s
		}
	}
}

func TestEndpoint_ConnectTo(t *testing.T) {
	t.Parallel()

	tp, err := ccatest.NewTrustPool(2)
	require.NoError(t, err)

	a := newEndpoint(t, tp, 0)
	b := newEndpoint(t, tp, 1)
	require.NotEqual(t, a.PublicKey(), b.PublicKey())

	connected, err := cpeer.MutuallyConnected(t.Context(), a, b)
	require.NoError(t, err)
	require.False(t, connected)

	peer, err := a.ConnectTo(t.Context(), b.Addr().String())
	require.NoError(t, err)
	require.Equal(t, b.PublicKey(), peer)
	require.NoError(t, newVerifier(t).VerifyConnected(t.Context(), a, b))

	// The dialer promotes on ack, so its view is settled.
	ra := a.RemotesByKeys()
	require.Contains(t, ra, b.PublicKey())
	require.Equal(t, cpeer.Connected, ra[b.PublicKey()].State)
	require.Equal(t, b.Addr().String(), ra[b.PublicKey()].Addr)
	require.Empty(t, a.PeersWithoutRemotes())

	require.NoError(t, cpoll.Eventually(t.Context(), ctest.NewLogger(t), cpoll.Config{
		Timeout: 3 * time.Second, Interval: 20 * time.Millisecond,
	}, func(context.Context) cpoll.Result {
		if !b.HasRemote(a.PublicKey()) {
			return cpoll.Retry(nil)
		}
		return cpoll.Ok()
	}))
	require.False(t, b.HasPeerWithoutRemote(a.PublicKey()))
}

func TestEndpoint_Connect_usesOtherAddr(t *testing.T) {
	t.Parallel()

	tp, err := ccatest.NewTrustPool(1)
	require.NoError(t, err)

	a := newEndpoint(t, tp, 0)
	b := newEndpoint(t, tp, 0)

	require.NoError(t, b.Connect(t.Context(), a))
	require.NoError(t, newVerifier(t).VerifyConnected(t.Context(), b, a))
}

func TestEndpoint_Disconnect(t *testing.T) {
	t.Parallel()

	tp, err := ccatest.NewTrustPool(1)
	require.NoError(t, err)

	a := newEndpoint(t, tp, 0)
	b := newEndpoint(t, tp, 0)
	aChanges := a.Changes()
	bChanges := b.Changes()

	_, err = a.ConnectTo(t.Context(), b.Addr().String())
	require.NoError(t, err)

	c, aChanges := waitForChange(t, aChanges, cpeer.Connected)
	require.Equal(t, b.PublicKey(), c.Peer)
	_, bChanges = waitForChange(t, bChanges, cpeer.Connected)

	require.NoError(t, a.Disconnect(b.PublicKey()))

	c, _ = waitForChange(t, aChanges, cpeer.Disconnected)
	require.Equal(t, b.PublicKey(), c.Peer)
	c, _ = waitForChange(t, bChanges, cpeer.Disconnected)
	require.Equal(t, a.PublicKey(), c.Peer)

	// The record stays, so the key is still known.
	require.True(t, a.HasRemote(b.PublicKey()))
	require.Equal(t, cpeer.Disconnected, a.RemotesByKeys()[b.PublicKey()].State)

	require.Error(t, a.Disconnect(b.PublicKey()))

	// Reconnecting reuses the record.
	_, err = a.ConnectTo(t.Context(), b.Addr().String())
	require.NoError(t, err)
	require.Equal(t, cpeer.Connected, a.RemotesByKeys()[b.PublicKey()].State)
	require.Empty(t, a.PeersWithoutRemotes())
}

func TestEndpoint_Changes_startsAtCurrentTail(t *testing.T) {
	t.Parallel()

	tp, err := ccatest.NewTrustPool(1)
	require.NoError(t, err)

	a := newEndpoint(t, tp, 0)
	b := newEndpoint(t, tp, 0)
	early := a.Changes()

	_, err = a.ConnectTo(t.Context(), b.Addr().String())
	require.NoError(t, err)
	_, _ = waitForChange(t, early, cpeer.Connected)

	// Subscribed after the connect, so the connect is not replayed.
	late := a.Changes()
	require.NoError(t, a.Disconnect(b.PublicKey()))

	ctx, cancel := context.WithTimeout(t.Context(), 3*time.Second)
	defer cancel()
	c, _, err := late.Wait(ctx)
	require.NoError(t, err)
	require.Equal(t, cpeer.Disconnected, c.State)
	require.Equal(t, b.PublicKey(), c.Peer)
}

func TestEndpoint_PeerView(t *testing.T) {
	t.Parallel()

	tp, err := ccatest.NewTrustPool(2)
	require.NoError(t, err)

	a := newEndpoint(t, tp, 0)
	b := newEndpoint(t, tp, 1)

	_, err = a.PeerView(b.PublicKey())
	require.Error(t, err)

	peer, err := a.ConnectTo(t.Context(), b.Addr().String())
	require.NoError(t, err)

	view, err := a.PeerView(peer)
	require.NoError(t, err)
	require.Equal(t, b.PublicKey(), view.Identity())
	require.Nil(t, view.Addr())

	// b's registration of a is only observable through b itself.
	require.NoError(t, newVerifier(t).VerifyConnected(t.Context(), a, view))
	require.True(t, view.HasRemote(a.PublicKey()))
	require.False(t, view.HasPeerWithoutRemote(a.PublicKey()))

	c := newEndpoint(t, tp, 0)
	require.False(t, view.HasRemote(c.PublicKey()))
	require.False(t, view.HasPeerWithoutRemote(c.PublicKey()))

	require.NoError(t, a.Disconnect(peer))
	require.NoError(t, cpoll.Eventually(t.Context(), ctest.NewLogger(t), cpoll.Config{
		Timeout: 3 * time.Second, Interval: 20 * time.Millisecond,
	}, func(context.Context) cpoll.Result {
		if _, err := a.PeerView(peer); err == nil {
			return cpoll.Retry(nil)
		}
		return cpoll.Ok()
	}))

	// A view of a closed connection reports nothing registered.
	require.False(t, view.HasRemote(a.PublicKey()))
}

func TestEndpoint_mismatchedHelloClosesWithIdentityMismatch(t *testing.T) {
	t.Parallel()

	tp, err := ccatest.NewTrustPool(1)
	require.NoError(t, err)

	b := newEndpoint(t, tp, 0)

	ctx, cancel := context.WithCancel(t.Context())
	raw, err := cquic.NewHost(ctx, ctest.NewLogger(t), cquictest.HostConfig(t, tp, 0, nil),
		cquic.InboundHandlerFunc(func(context.Context, cquic.Conn) error { return nil }),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		cancel()
		raw.Wait()
	})

	conn, err := raw.Dial(t.Context(), b.Addr())
	require.NoError(t, err)

	_, err = cproto.Initiate(t.Context(), conn, cproto.Hello{ID: "not-my-key", Addr: "127.0.0.1:1"}, time.Second)
	require.Error(t, err)

	select {
	case <-conn.Context().Done():
	case <-time.After(ctest.ReceiveTimeout):
		t.Fatal("connection stayed open after mismatched hello")
	}

	_, err = conn.OpenStreamSync(t.Context())
	var appErr *quic.ApplicationError
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, quic.ApplicationErrorCode(cquic.IdentityMismatch), appErr.ErrorCode)

	require.Empty(t, b.PeersWithoutRemotes())
	require.Empty(t, b.RemotesByKeys())
}

func TestEndpoint_untrustedPeer(t *testing.T) {
	t.Parallel()

	tpA, err := ccatest.NewTrustPool(1)
	require.NoError(t, err)
	tpB, err := ccatest.NewTrustPool(1)
	require.NoError(t, err)

	a := newEndpoint(t, tpA, 0)
	b := newEndpoint(t, tpB, 0)

	ctx, cancel := context.WithTimeout(t.Context(), 3*time.Second)
	defer cancel()
	_, err = a.ConnectTo(ctx, b.Addr().String())
	require.Error(t, err)

	require.False(t, a.HasRemote(b.PublicKey()))
	require.False(t, a.HasPeerWithoutRemote(b.PublicKey()))
	require.False(t, b.HasRemote(a.PublicKey()))
}

func TestEndpoint_removedCADisconnects(t *testing.T) {
	t.Parallel()

	tp, err := ccatest.NewTrustPool(2)
	require.NoError(t, err)

	a := newEndpoint(t, tp, 0)
	b := newEndpoint(t, tp, 1)
	aChanges := a.Changes()

	_, err = a.ConnectTo(t.Context(), b.Addr().String())
	require.NoError(t, err)
	_, aChanges = waitForChange(t, aChanges, cpeer.Connected)

	tp.Pool.RemoveCA(tp.CAs[1].Cert)

	c, _ := waitForChange(t, aChanges, cpeer.Disconnected)
	require.Equal(t, b.PublicKey(), c.Peer)
}

func TestEndpoint_pairingWithNamedEndpointFails(t *testing.T) {
	t.Parallel()

	tp, err := ccatest.NewTrustPool(1)
	require.NoError(t, err)

	a := newEndpoint(t, tp, 0)
	_, err = a.ConnectivityChecks(cpeertest.NewNamedStub("acme"))
	var pairErr *cpeer.UnsupportedPairingError
	require.ErrorAs(t, err, &pairErr)
}
