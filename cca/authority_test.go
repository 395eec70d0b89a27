package cca_test

import (
	"crypto/ed25519"
	"crypto/x509"
	"os"
	"path/filepath"
	"testing"

	"github.com/credmesh/credmesh/cca"
	"github.com/credmesh/credmesh/cca/ccatest"
	"github.com/stretchr/testify/require"
)

func newKey(t *testing.T) (ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	return pub, priv
}

func TestCA_CreateLeafCert(t *testing.T) {
	t.Parallel()

	ca, err := cca.GenerateCA(ccatest.FastConfig())
	require.NoError(t, err)

	pub, priv := newKey(t)
	leaf, err := ca.CreateLeafCert(cca.LeafConfig{Key: priv})
	require.NoError(t, err)

	// The leaf carries the caller's key.
	require.True(t, pub.Equal(leaf.Cert.PublicKey))

	roots := x509.NewCertPool()
	roots.AddCert(ca.Cert)
	chains, err := leaf.Cert.Verify(x509.VerifyOptions{
		DNSName:   "localhost",
		Roots:     roots,
		KeyUsages: []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
	})
	require.NoError(t, err)
	require.Len(t, chains[0], 2, "should have had one leaf and one CA")
	require.True(t, chains[0][1].Equal(ca.Cert))

	tc := leaf.TLSCertificate()
	require.Equal(t, leaf.Cert, tc.Leaf)
}

func TestLoadOrCreateCA(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "ca")

	ca1, err := cca.LoadOrCreateCA(dir, ccatest.FastConfig())
	require.NoError(t, err)

	// Only the final files remain.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name()
	}
	require.ElementsMatch(t, []string{"ca.pem", "ca-key.pem"}, names)

	keyInfo, err := os.Stat(filepath.Join(dir, "ca-key.pem"))
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), keyInfo.Mode().Perm())

	ca2, err := cca.LoadOrCreateCA(dir, ccatest.FastConfig())
	require.NoError(t, err)
	require.True(t, ca1.Cert.Equal(ca2.Cert))

	// The reloaded CA can still issue leaves trusted by the original.
	_, priv := newKey(t)
	leaf, err := ca2.CreateLeafCert(cca.LeafConfig{Key: priv})
	require.NoError(t, err)
	_, err = leaf.Cert.Verify(x509.VerifyOptions{
		Roots: cca.NewPoolFromCerts([]*x509.Certificate{ca1.Cert}).CertPool(),
	})
	require.NoError(t, err)
}

func TestLoadOrCreateCA_partialDirectory(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ca.pem"), []byte("junk"), 0o600))

	_, err := cca.LoadOrCreateCA(dir, ccatest.FastConfig())
	require.Error(t, err)
}

func TestParseCA_mismatchedKey(t *testing.T) {
	t.Parallel()

	ca1, err := cca.GenerateCA(ccatest.FastConfig())
	require.NoError(t, err)
	ca2, err := cca.GenerateCA(ccatest.FastConfig())
	require.NoError(t, err)

	_, err = cca.ParseCA(ca1.CertPEM, ca2.KeyPEM)
	require.ErrorContains(t, err, "does not match")
}
