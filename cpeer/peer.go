package cpeer

import (
	"fmt"
	"net"

	"github.com/credmesh/credmesh/cpoll"
)

// Identity identifies an endpoint to its peers.
// For key-addressed endpoints it is the base58 verification key;
// for transport-addressed endpoints it is the endpoint name.
type Identity string

// ConnectionState is an endpoint's view of a single remote.
type ConnectionState uint8

const (
	// The endpoint holds no record for the remote.
	UnknownState ConnectionState = iota

	Disconnected
	Connecting
	Connected
)

func (s ConnectionState) String() string {
	switch s {
	case UnknownState:
		return "unknown"
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return fmt.Sprintf("ConnectionState(%d)", uint8(s))
	}
}

// Endpoint is the network-reachable identity of an agent,
// together with its view of peer connection state.
type Endpoint interface {
	// Identity returns the value peers use to refer to this endpoint.
	Identity() Identity

	// Addr returns the address other endpoints dial to reach this one.
	// It may be nil for endpoints that cannot be dialed.
	Addr() net.Addr

	// ConnectivityChecks returns the conditions that must all hold
	// for this endpoint and other to be mutually connected.
	// Each check is polled independently, in order, with its own time budget.
	//
	// If other is not the same endpoint variant,
	// ConnectivityChecks returns an [*UnsupportedPairingError].
	ConnectivityChecks(other Endpoint) ([]Check, error)
}

// Check is a single named condition over a pair of endpoints.
type Check struct {
	// Human-readable description, used as an error prefix.
	Name string

	Predicate cpoll.Predicate
}
