// Package credmesh contains the shared error values
// for bringing up credential-issuing agents.
//
// The interesting work lives in the subpackages.
// [github.com/credmesh/credmesh/cverify] confirms that two agent endpoints
// have registered each other as connected peers,
// eventually, using the retry loop in [github.com/credmesh/credmesh/cpoll].
// [github.com/credmesh/credmesh/cboot] publishes a credential schema
// and then the issuer keys bound to that schema's identifier.
//
// Endpoints come in two variants.
// Key-addressed endpoints ([github.com/credmesh/credmesh/ckeyed])
// identify peers by their verification key,
// and track peers seen before their connection record exists.
// Transport-addressed endpoints ([github.com/credmesh/credmesh/cnamed])
// identify peers by name and track a connection state per remote.
package credmesh
