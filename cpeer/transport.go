package cpeer

import (
	"context"
	"fmt"

	"github.com/credmesh/credmesh/cpoll"
)

// TransportAddressed is the capability set of an endpoint
// that refers to peers by name and keeps a connection state per remote.
type TransportAddressed interface {
	Endpoint

	Name() Identity

	// RemoteState returns the endpoint's current view of the named peer.
	// It returns [UnknownState] if there is no record for that name.
	RemoteState(name Identity) ConnectionState
}

// TransportAddressedChecks returns the checks for a pair of
// transport-addressed endpoints: a sees b as connected,
// and then b sees a as connected.
func TransportAddressedChecks(a Endpoint, other Endpoint) ([]Check, error) {
	ta, okA := a.(TransportAddressed)
	tb, okB := other.(TransportAddressed)
	if !okA || !okB {
		return nil, &UnsupportedPairingError{A: a, B: other}
	}

	return []Check{
		{
			Name:      fmt.Sprintf("%s sees %s connected", ta.Name(), tb.Name()),
			Predicate: SeesConnected(ta, tb.Name()),
		},
		{
			Name:      fmt.Sprintf("%s sees %s connected", tb.Name(), ta.Name()),
			Predicate: SeesConnected(tb, ta.Name()),
		},
	}, nil
}

// SeesConnected returns a predicate that holds
// once e records the named peer as [Connected].
func SeesConnected(e TransportAddressed, name Identity) cpoll.Predicate {
	return func(context.Context) cpoll.Result {
		if s := e.RemoteState(name); s != Connected {
			return cpoll.Retry(fmt.Errorf(
				"%s sees %s as %s", e.Name(), name, s,
			))
		}
		return cpoll.Ok()
	}
}
