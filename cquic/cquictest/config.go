// Package cquictest contains utilities for running QUIC hosts in tests.
package cquictest

import (
	"crypto/ed25519"
	"crypto/tls"
	"net"
	"testing"

	"github.com/credmesh/credmesh/cca/ccatest"
	"github.com/credmesh/credmesh/cquic"
	"github.com/stretchr/testify/require"
)

// HostConfig returns a [cquic.HostConfig] listening on an ephemeral
// localhost UDP port, presenting a leaf for key issued by tp's CA at caIdx
// and trusting every CA in tp.
//
// If key is nil, a fresh key is generated.
// The UDP connection is closed as part of [*testing.T.Cleanup].
func HostConfig(t *testing.T, tp *ccatest.TrustPool, caIdx int, key ed25519.PrivateKey) cquic.HostConfig {
	t.Helper()

	if key == nil {
		var err error
		_, key, err = ed25519.GenerateKey(nil)
		require.NoError(t, err)
	}

	leaf, err := tp.Leaf(caIdx, key)
	require.NoError(t, err)

	uc, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { _ = uc.Close() })

	return cquic.HostConfig{
		UDPConn: uc,
		TLS: &tls.Config{
			Certificates: []tls.Certificate{leaf.TLSCertificate()},
			ClientAuth:   tls.RequireAndVerifyClientCert,
		},
		TrustedCAs: tp.Pool,
	}
}
