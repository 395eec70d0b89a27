package cwallet_test

import (
	"testing"

	"github.com/credmesh/credmesh/cledger"
	"github.com/credmesh/credmesh/cwallet"
	"github.com/credmesh/credmesh/internal/ctest"
	"github.com/stretchr/testify/require"
)

func TestNew_deterministic(t *testing.T) {
	t.Parallel()

	seed := ctest.SeedForTest(t, 0)
	w1, err := cwallet.New("a", seed[:])
	require.NoError(t, err)
	w2, err := cwallet.New("b", seed[:])
	require.NoError(t, err)

	require.Equal(t, w1.Identifier(), w2.Identifier())

	other := ctest.SeedForTest(t, 1)
	w3, err := cwallet.New("c", other[:])
	require.NoError(t, err)
	require.NotEqual(t, w1.Identifier(), w3.Identifier())

	_, err = cwallet.New("short", []byte("too short"))
	require.Error(t, err)
}

func TestSeedFromString(t *testing.T) {
	t.Parallel()

	seed, err := cwallet.SeedFromString("Faber000000000000000000000000000")
	require.NoError(t, err)
	require.Len(t, seed, cwallet.SeedSize)

	_, err = cwallet.SeedFromString("Faber")
	require.Error(t, err)
}

func TestNewRequest_verifies(t *testing.T) {
	t.Parallel()

	seed := ctest.SeedForTest(t, 0)
	w, err := cwallet.New("issuer", seed[:])
	require.NoError(t, err)

	req, err := w.NewRequest(cledger.PublishSchema{
		Name: "Transcript", Version: "1.2", AttrNames: []string{"name"},
	})
	require.NoError(t, err)
	require.Equal(t, w.Identifier(), req.Identifier)
	require.NoError(t, req.Verify())

	// Tampering with the operation breaks the signature.
	req.Operation = cledger.PublishSchema{
		Name: "Transcript", Version: "1.3", AttrNames: []string{"name"},
	}
	var sigErr *cledger.InvalidSignatureError
	require.ErrorAs(t, req.Verify(), &sigErr)
}

func TestPreparePending(t *testing.T) {
	t.Parallel()

	seed := ctest.SeedForTest(t, 0)
	w, err := cwallet.New("agent", seed[:])
	require.NoError(t, err)

	w.PendSyncRequests()
	w.Pend(cledger.GetNym{Dest: "someone"})
	require.Equal(t, 2, w.PendingCount())

	reqs, err := w.PreparePending()
	require.NoError(t, err)
	require.Len(t, reqs, 2)
	require.Zero(t, w.PendingCount())

	require.Equal(t, cledger.GetNym{Dest: w.Identifier()}, reqs[0].Operation)
	require.NotEqual(t, reqs[0].ReqID, reqs[1].ReqID)
	for _, r := range reqs {
		require.NoError(t, r.Verify())
	}

	reqs, err = w.PreparePending()
	require.NoError(t, err)
	require.Empty(t, reqs)
}
