// Package credmeshtest contains utilities for tests
// that run several agent endpoints over real localhost QUIC.
package credmeshtest

import (
	"context"
	"fmt"
	"log/slog"
	"testing"

	"github.com/credmesh/credmesh/cca/ccatest"
	"github.com/credmesh/credmesh/ckeyed"
	"github.com/credmesh/credmesh/cnamed"
	"github.com/credmesh/credmesh/cpeer"
	"github.com/credmesh/credmesh/cpoll"
	"github.com/credmesh/credmesh/cquic/cquictest"
	"github.com/credmesh/credmesh/cverify"
	"github.com/credmesh/credmesh/cwallet"
	"github.com/credmesh/credmesh/internal/ctest"
	"github.com/stretchr/testify/require"
)

// Network contains a collection of key-addressed endpoints
// whose certificates are issued by a shared trust pool.
type Network struct {
	Log *slog.Logger

	Pool *ccatest.TrustPool

	Endpoints []NetworkEndpoint
}

// NetworkEndpoint pairs an endpoint with the wallet whose key it presents.
type NetworkEndpoint struct {
	Endpoint *ckeyed.Endpoint
	Wallet   *cwallet.Wallet
}

// NewNetwork starts one key-addressed endpoint per wallet.
// Endpoint i presents a leaf for wallet i's key, issued by its own CA.
//
// If any error occurs while creating the network,
// t.Fatal is called.
//
// The endpoints stop when ctx is cancelled or the test finishes.
func NewNetwork(t *testing.T, ctx context.Context, wallets ...*cwallet.Wallet) *Network {
	t.Helper()

	log := ctest.NewLogger(t)

	tp, err := ccatest.NewTrustPool(len(wallets))
	require.NoError(t, err)

	eps := make([]NetworkEndpoint, len(wallets))
	for i, w := range wallets {
		ctx, cancel := context.WithCancel(ctx)

		e, err := ckeyed.New(ctx, log.With("agent", w.Name()), ckeyed.Config{
			Host: cquictest.HostConfig(t, tp, i, w.PrivateKey()),
		})
		if err != nil {
			cancel()
			require.NoError(t, err)
		}
		t.Cleanup(func() {
			cancel()
			e.Wait()
		})

		eps[i] = NetworkEndpoint{Endpoint: e, Wallet: w}
	}

	return &Network{
		Log:       log,
		Pool:      tp,
		Endpoints: eps,
	}
}

// NamedNetwork contains a collection of transport-addressed endpoints.
type NamedNetwork struct {
	Log *slog.Logger

	Pool *ccatest.TrustPool

	Endpoints []*cnamed.Endpoint
}

// NewNamedNetwork starts one transport-addressed endpoint per name.
// Cleanup follows the same rules as [NewNetwork].
func NewNamedNetwork(t *testing.T, ctx context.Context, names ...string) *NamedNetwork {
	t.Helper()

	log := ctest.NewLogger(t)

	tp, err := ccatest.NewTrustPool(len(names))
	require.NoError(t, err)

	eps := make([]*cnamed.Endpoint, len(names))
	for i, name := range names {
		ctx, cancel := context.WithCancel(ctx)

		e, err := cnamed.New(ctx, log.With("agent", name), cnamed.Config{
			Name: cpeer.Identity(name),
			Host: cquictest.HostConfig(t, tp, i, nil),
		})
		if err != nil {
			cancel()
			require.NoError(t, err)
		}
		t.Cleanup(func() {
			cancel()
			e.Wait()
		})

		eps[i] = e
	}

	return &NamedNetwork{
		Log:       log,
		Pool:      tp,
		Endpoints: eps,
	}
}

// Connector is an endpoint that can initiate a connection to another endpoint.
// Both [*ckeyed.Endpoint] and [*cnamed.Endpoint] satisfy it.
type Connector interface {
	cpeer.Endpoint
	Connect(ctx context.Context, other cpeer.Endpoint) error
}

// ConnectAgents has a connect to b and then waits until
// both sides see each other as connected.
func ConnectAgents(t *testing.T, ctx context.Context, a Connector, b cpeer.Endpoint) {
	t.Helper()

	require.NoError(t, a.Connect(ctx, b), "connecting %s to %s", a.Identity(), b.Identity())
	EnsureAgentsConnected(t, ctx, a, b)
}

// EnsureAgentsConnected waits, with the default ten second budget,
// until a and b are mutually connected.
func EnsureAgentsConnected(t *testing.T, ctx context.Context, a, b cpeer.Endpoint) {
	t.Helper()

	v := cverify.New(ctest.NewLogger(t), cpoll.Config{})
	require.NoError(t, v.VerifyConnected(ctx, a, b))
}

// MustVerifyMesh waits until every pair in eps is mutually connected.
func MustVerifyMesh(t *testing.T, ctx context.Context, eps ...cpeer.Endpoint) {
	t.Helper()

	v := cverify.New(ctest.NewLogger(t), cpoll.Config{})
	require.NoError(t, v.VerifyMesh(ctx, eps...))
}

// PeerEndpoints returns the network's endpoints as [cpeer.Endpoint] values.
func (n *Network) PeerEndpoints() []cpeer.Endpoint {
	out := make([]cpeer.Endpoint, len(n.Endpoints))
	for i, ne := range n.Endpoints {
		out[i] = ne.Endpoint
	}
	return out
}

// ByName returns the endpoint whose wallet is named name.
func (n *Network) ByName(name string) NetworkEndpoint {
	for _, ne := range n.Endpoints {
		if ne.Wallet.Name() == name {
			return ne
		}
	}
	panic(fmt.Errorf("BUG: no endpoint for wallet %q", name))
}
