package cpeer

import "time"

// Change records an endpoint's updated view of a single peer.
type Change struct {
	Peer  Identity
	State ConnectionState
	At    time.Time
}
