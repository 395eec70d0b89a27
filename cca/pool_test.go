package cca_test

import (
	"crypto/x509"
	"testing"

	"github.com/credmesh/credmesh/cca"
	"github.com/credmesh/credmesh/cca/ccatest"
	"github.com/stretchr/testify/require"
)

func TestPool_NotifyRemoval(t *testing.T) {
	t.Parallel()

	ca1, err := cca.GenerateCA(ccatest.FastConfig())
	require.NoError(t, err)

	ca2, err := cca.GenerateCA(ccatest.FastConfig())
	require.NoError(t, err)

	t.Run("returns nil for unrecognized certificate", func(t *testing.T) {
		t.Parallel()

		p := cca.NewPoolFromCerts([]*x509.Certificate{ca1.Cert})
		require.Nil(t, p.NotifyRemoval(ca2.Cert))
	})

	t.Run("notifies channel only when missing from updated set", func(t *testing.T) {
		t.Parallel()

		p := cca.NewPoolFromCerts([]*x509.Certificate{ca1.Cert})
		ch := p.NotifyRemoval(ca1.Cert)
		require.NotNil(t, ch)

		p.UpdateCAs([]*x509.Certificate{ca1.Cert, ca2.Cert})
		select {
		case <-ch:
			t.Fatal("channel should not have been closed")
		default:
			// Okay.
		}

		p.UpdateCAs([]*x509.Certificate{ca2.Cert})
		select {
		case <-ch:
			// Okay.
		default:
			t.Fatal("channel should have been closed after certificate removal")
		}
		require.False(t, p.Contains(ca1.Cert))
		require.True(t, p.Contains(ca2.Cert))
	})

	t.Run("RemoveCA notifies", func(t *testing.T) {
		t.Parallel()

		p := cca.NewPoolFromCerts([]*x509.Certificate{ca1.Cert, ca2.Cert})
		ch := p.NotifyRemoval(ca2.Cert)

		p.RemoveCA(ca2.Cert)
		select {
		case <-ch:
		default:
			t.Fatal("channel should have been closed after RemoveCA")
		}
		require.Equal(t, 1, p.Len())
	})

	t.Run("multiple notifications are the same underlying channel", func(t *testing.T) {
		t.Parallel()

		p := cca.NewPoolFromCerts([]*x509.Certificate{ca1.Cert, ca2.Cert})
		ch1a := p.NotifyRemoval(ca1.Cert)
		ch1b := p.NotifyRemoval(ca1.Cert)

		ch2 := p.NotifyRemoval(ca2.Cert)
		require.NotNil(t, ch2)

		require.Equal(t, ch1a, ch1b)
		require.NotEqual(t, ch1a, ch2)
	})
}

func TestPool_CertPoolTracksUpdates(t *testing.T) {
	t.Parallel()

	ca, err := cca.GenerateCA(ccatest.FastConfig())
	require.NoError(t, err)

	p := cca.NewPool()
	_, priv := newKey(t)
	leaf, err := ca.CreateLeafCert(cca.LeafConfig{Key: priv})
	require.NoError(t, err)

	_, err = leaf.Cert.Verify(x509.VerifyOptions{Roots: p.CertPool()})
	require.Error(t, err)

	p.AddCA(ca.Cert)
	_, err = leaf.Cert.Verify(x509.VerifyOptions{Roots: p.CertPool()})
	require.NoError(t, err)
}
