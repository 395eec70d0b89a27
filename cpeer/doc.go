// Package cpeer declares the capability sets that agent endpoints expose
// for observing peer connection state,
// and the connectivity checks built on top of them.
//
// Every endpoint implements [Endpoint].
// Key-addressed endpoints additionally implement [KeyAddressed],
// and transport-addressed endpoints implement [TransportAddressed].
// The two variants keep different bookkeeping,
// so each variant supplies its own [Check] values through
// [Endpoint.ConnectivityChecks];
// callers such as the cverify package never inspect the variant themselves.
package cpeer
