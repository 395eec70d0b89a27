package cledger_test

import (
	"context"
	"crypto/rand"
	"math/big"
	"path/filepath"
	"testing"

	"github.com/credmesh/credmesh/cissuer"
	"github.com/credmesh/credmesh/cledger"
	"github.com/credmesh/credmesh/cwallet"
	"github.com/credmesh/credmesh/internal/ctest"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type storeFactory func(t *testing.T) cledger.Store

var storeFactories = map[string]storeFactory{
	"memory": func(*testing.T) cledger.Store {
		return cledger.NewMemoryStore()
	},
	"sqlite": func(t *testing.T) cledger.Store {
		s, err := cledger.OpenSQLiteStore(t.Context(), filepath.Join(t.TempDir(), "ledger.db"))
		require.NoError(t, err)
		return s
	},
}

func forEachStore(t *testing.T, fn func(t *testing.T, l *cledger.Ledger)) {
	t.Helper()
	for name, f := range storeFactories {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			l := cledger.New(ctest.NewLogger(t), f(t))
			t.Cleanup(func() { require.NoError(t, l.Close()) })
			fn(t, l)
		})
	}
}

func newWallet(t *testing.T, idx int) *cwallet.Wallet {
	t.Helper()
	seed := ctest.SeedForTest(t, idx)
	w, err := cwallet.New("w", seed[:])
	require.NoError(t, err)
	return w
}

func submit(t *testing.T, ctx context.Context, l *cledger.Ledger, w *cwallet.Wallet, op cledger.Operation) (cledger.Reply, error) {
	t.Helper()
	req, err := w.NewRequest(op)
	require.NoError(t, err)
	return l.Submit(ctx, req)
}

func keySet(t *testing.T, attrs ...string) cissuer.PublicKey {
	t.Helper()
	p, err := rand.Prime(rand.Reader, 80)
	require.NoError(t, err)
	q, err := rand.Prime(rand.Reader, 80)
	require.NoError(t, err)
	pk, _, err := cissuer.NewKeySet(p, q, attrs, rand.Reader)
	require.NoError(t, err)
	return pk
}

func TestLedger_schemaThenKeys(t *testing.T) {
	t.Parallel()

	forEachStore(t, func(t *testing.T, l *cledger.Ledger) {
		ctx := t.Context()
		w := newWallet(t, 0)

		reply, err := submit(t, ctx, l, w, cledger.PublishSchema{
			Name: "Transcript", Version: "1.2",
			AttrNames: []string{"student_name", "degree", "status"},
		})
		require.NoError(t, err)
		require.Equal(t, cledger.MakeSchemaID(w.Identifier(), "Transcript", "1.2"), reply.SchemaID)
		require.Equal(t, uint64(1), reply.SeqNo)

		rec, err := l.Schema(ctx, reply.SchemaID)
		require.NoError(t, err)
		require.Equal(t, []string{"student_name", "degree", "status"}, rec.AttrNames)
		require.Equal(t, w.Identifier(), rec.IssuerID)

		pk := keySet(t, "status", "degree", "student_name")
		kreply, err := submit(t, ctx, l, w, cledger.PublishIssuerKeys{
			SchemaID: reply.SchemaID, PublicKey: pk,
		})
		require.NoError(t, err)
		require.Equal(t, uint64(2), kreply.SeqNo)

		krec, err := l.IssuerKeys(ctx, reply.SchemaID, w.Identifier())
		require.NoError(t, err)
		require.Zero(t, pk.N.Cmp(krec.PublicKey.N))
		require.Zero(t, pk.R["degree"].Cmp(krec.PublicKey.R["degree"]))

		list, err := l.Schemas(ctx, w.Identifier())
		require.NoError(t, err)
		require.Len(t, list, 1)
	})
}

func TestLedger_duplicates(t *testing.T) {
	t.Parallel()

	forEachStore(t, func(t *testing.T, l *cledger.Ledger) {
		ctx := t.Context()
		w := newWallet(t, 0)
		op := cledger.PublishSchema{Name: "Job", Version: "0.1", AttrNames: []string{"title"}}

		reply, err := submit(t, ctx, l, w, op)
		require.NoError(t, err)

		_, err = submit(t, ctx, l, w, op)
		var existsErr *cledger.SchemaExistsError
		require.ErrorAs(t, err, &existsErr)
		require.Equal(t, reply.SchemaID, existsErr.ID)

		// A different issuer may use the same name and version.
		other, err := submit(t, ctx, l, newWallet(t, 1), op)
		require.NoError(t, err)
		require.NotEqual(t, reply.SchemaID, other.SchemaID)

		pk := keySet(t, "title")
		_, err = submit(t, ctx, l, w, cledger.PublishIssuerKeys{SchemaID: reply.SchemaID, PublicKey: pk})
		require.NoError(t, err)

		_, err = submit(t, ctx, l, w, cledger.PublishIssuerKeys{SchemaID: reply.SchemaID, PublicKey: pk})
		var keysErr *cledger.IssuerKeysExistError
		require.ErrorAs(t, err, &keysErr)
	})
}

func TestLedger_replayedRequest(t *testing.T) {
	t.Parallel()

	forEachStore(t, func(t *testing.T, l *cledger.Ledger) {
		ctx := t.Context()
		w := newWallet(t, 0)

		req, err := w.NewRequest(cledger.PublishSchema{Name: "A", Version: "1", AttrNames: []string{"x"}})
		require.NoError(t, err)
		_, err = l.Submit(ctx, req)
		require.NoError(t, err)

		// Same request ID, different schema.
		req.Operation = cledger.PublishSchema{Name: "B", Version: "1", AttrNames: []string{"x"}}
		require.NoError(t, w.Sign(&req))
		_, err = l.Submit(ctx, req)
		var dupErr *cledger.DuplicateRequestError
		require.ErrorAs(t, err, &dupErr)
	})
}

func TestLedger_keysRequireSchema(t *testing.T) {
	t.Parallel()

	forEachStore(t, func(t *testing.T, l *cledger.Ledger) {
		ctx := t.Context()
		w := newWallet(t, 0)

		missing := cledger.MakeSchemaID(w.Identifier(), "Nope", "1.0")
		_, err := submit(t, ctx, l, w, cledger.PublishIssuerKeys{
			SchemaID: missing, PublicKey: keySet(t, "a"),
		})
		require.True(t, cledger.IsNotFound(err))

		_, err = l.Schema(ctx, missing)
		require.True(t, cledger.IsNotFound(err))
		_, err = l.IssuerKeys(ctx, missing, w.Identifier())
		require.True(t, cledger.IsNotFound(err))
	})
}

func TestLedger_keyAttributesMustMatch(t *testing.T) {
	t.Parallel()

	forEachStore(t, func(t *testing.T, l *cledger.Ledger) {
		ctx := t.Context()
		w := newWallet(t, 0)

		reply, err := submit(t, ctx, l, w, cledger.PublishSchema{
			Name: "S", Version: "1", AttrNames: []string{"a", "b"},
		})
		require.NoError(t, err)

		_, err = submit(t, ctx, l, w, cledger.PublishIssuerKeys{
			SchemaID: reply.SchemaID, PublicKey: keySet(t, "a"),
		})
		require.ErrorContains(t, err, "do not match")
	})
}

func TestLedger_rejectsBadRequests(t *testing.T) {
	t.Parallel()

	forEachStore(t, func(t *testing.T, l *cledger.Ledger) {
		ctx := t.Context()
		w := newWallet(t, 0)

		for _, op := range []cledger.PublishSchema{
			{Name: "", Version: "1", AttrNames: []string{"a"}},
			{Name: "n", Version: "", AttrNames: []string{"a"}},
			{Name: "n:x", Version: "1", AttrNames: []string{"a"}},
			{Name: "n", Version: "1"},
			{Name: "n", Version: "1", AttrNames: []string{"a", "a"}},
		} {
			_, err := submit(t, ctx, l, w, op)
			require.ErrorContains(t, err, "invalid schema")
		}

		req, err := w.NewRequest(cledger.GetNym{Dest: w.Identifier()})
		require.NoError(t, err)
		req.Signature[0] ^= 0xff
		_, err = l.Submit(ctx, req)
		var sigErr *cledger.InvalidSignatureError
		require.ErrorAs(t, err, &sigErr)

		_, err = l.Submit(ctx, cledger.Request{
			ReqID:      uuid.New(),
			Identifier: "not-base58-0OIl",
			Operation:  cledger.GetNym{Dest: "x"},
		})
		require.Error(t, err)
	})
}

func TestLedger_getNym(t *testing.T) {
	t.Parallel()

	forEachStore(t, func(t *testing.T, l *cledger.Ledger) {
		ctx := t.Context()
		w := newWallet(t, 0)

		reply, err := submit(t, ctx, l, w, cledger.GetNym{Dest: w.Identifier()})
		require.NoError(t, err)
		require.Equal(t, w.Identifier(), reply.VerKey)
		require.Zero(t, reply.SeqNo)

		_, err = submit(t, ctx, l, w, cledger.GetNym{Dest: "unknown"})
		require.True(t, cledger.IsNotFound(err))
	})
}

func TestSQLiteStore_persists(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	path := filepath.Join(t.TempDir(), "ledger.db")
	w := newWallet(t, 0)

	s, err := cledger.OpenSQLiteStore(ctx, path)
	require.NoError(t, err)
	l := cledger.New(ctest.NewLogger(t), s)
	reply, err := submit(t, ctx, l, w, cledger.PublishSchema{
		Name: "Persist", Version: "1", AttrNames: []string{"a"},
	})
	require.NoError(t, err)
	require.NoError(t, l.Close())

	s, err = cledger.OpenSQLiteStore(ctx, path)
	require.NoError(t, err)
	defer s.Close()

	rec, err := s.Schema(ctx, reply.SchemaID)
	require.NoError(t, err)
	require.Equal(t, "Persist", rec.Name)
	require.Equal(t, reply.SeqNo, rec.SeqNo)
}

func TestSchemaID_Parse(t *testing.T) {
	t.Parallel()

	id := cledger.MakeSchemaID("issuer", "name", "1.0")
	require.Equal(t, cledger.SchemaID("issuer:2:name:1.0"), id)

	issuer, name, version, err := id.Parse()
	require.NoError(t, err)
	require.Equal(t, "issuer", issuer)
	require.Equal(t, "name", name)
	require.Equal(t, "1.0", version)

	_, _, _, err = cledger.SchemaID("bad").Parse()
	require.Error(t, err)
}

func TestPublicKeyRoundTripThroughSQLite(t *testing.T) {
	t.Parallel()

	// Big integers must survive JSON encoding in the database exactly.
	pk := cissuer.PublicKey{
		N: new(big.Int).Lsh(big.NewInt(1), 300),
		S: big.NewInt(4),
		Z: big.NewInt(16),
		R: map[string]*big.Int{"a": big.NewInt(64)},
	}

	ctx := t.Context()
	s, err := cledger.OpenSQLiteStore(ctx, filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	defer s.Close()

	_, err = s.InsertSchema(ctx, uuid.New(), cledger.SchemaRecord{
		ID: "i:2:n:1", IssuerID: "i", Name: "n", Version: "1", AttrNames: []string{"a"},
	})
	require.NoError(t, err)
	_, err = s.InsertIssuerKeys(ctx, uuid.New(), cledger.IssuerKeyRecord{
		SchemaID: "i:2:n:1", IssuerID: "i", PublicKey: pk,
	})
	require.NoError(t, err)

	rec, err := s.IssuerKeys(ctx, "i:2:n:1", "i")
	require.NoError(t, err)
	require.Zero(t, pk.N.Cmp(rec.PublicKey.N))
}
