package credmeshtest

import (
	"testing"

	"github.com/credmesh/credmesh/cwallet"
	"github.com/stretchr/testify/require"
)

// Well-known agents with fixed seeds,
// so their identifiers are stable across runs.
const (
	FaberName  = "Faber College"
	AcmeName   = "Acme Corp"
	ThriftName = "Thrift Bank"

	FaberSeed  = "Faber000000000000000000000000000"
	AcmeSeed   = "Acme0000000000000000000000000000"
	ThriftSeed = "Thrift00000000000000000000000000"
)

func mustWallet(t *testing.T, name, seed string) *cwallet.Wallet {
	t.Helper()

	s, err := cwallet.SeedFromString(seed)
	require.NoError(t, err)

	w, err := cwallet.New(name, s)
	require.NoError(t, err)
	return w
}

func FaberWallet(t *testing.T) *cwallet.Wallet  { return mustWallet(t, FaberName, FaberSeed) }
func AcmeWallet(t *testing.T) *cwallet.Wallet   { return mustWallet(t, AcmeName, AcmeSeed) }
func ThriftWallet(t *testing.T) *cwallet.Wallet { return mustWallet(t, ThriftName, ThriftSeed) }
