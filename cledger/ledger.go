// Package cledger is a minimal identity ledger:
// it accepts signed requests that publish credential schemas
// and the issuer keys bound to them,
// and answers reads of what was published.
//
// Persistence is delegated to a [Store];
// this package provides an in-memory store and a SQLite store.
package cledger

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/google/uuid"
)

// Store persists ledger transactions.
//
// Writes assign a sequence number that increases across all record kinds.
// Implementations must reject a request ID that was already written
// with a [*DuplicateRequestError].
type Store interface {
	// InsertSchema writes rec, returning a [*SchemaExistsError]
	// if rec.ID is already present.
	InsertSchema(ctx context.Context, reqID uuid.UUID, rec SchemaRecord) (uint64, error)

	// InsertIssuerKeys writes rec, returning an [*IssuerKeysExistError]
	// if the issuer already has keys for rec.SchemaID.
	// The caller has already checked that the schema exists.
	InsertIssuerKeys(ctx context.Context, reqID uuid.UUID, rec IssuerKeyRecord) (uint64, error)

	// Schema returns a [NotFoundError] if id is unknown.
	Schema(ctx context.Context, id SchemaID) (SchemaRecord, error)

	// IssuerKeys returns a [NotFoundError] if no keys exist.
	IssuerKeys(ctx context.Context, id SchemaID, issuer string) (IssuerKeyRecord, error)

	// Schemas returns every schema published by issuer, in sequence order.
	Schemas(ctx context.Context, issuer string) ([]SchemaRecord, error)

	Close() error
}

// Ledger validates and applies requests against a [Store].
// It is safe for concurrent use if the store is.
type Ledger struct {
	log   *slog.Logger
	store Store
}

// New returns a Ledger backed by store.
func New(log *slog.Logger, store Store) *Ledger {
	return &Ledger{
		log:   log,
		store: store,
	}
}

// Close closes the underlying store.
func (l *Ledger) Close() error {
	return l.store.Close()
}

// Submit verifies req's signature and applies its operation.
func (l *Ledger) Submit(ctx context.Context, req Request) (Reply, error) {
	if err := req.Verify(); err != nil {
		return Reply{}, err
	}

	reply := Reply{
		ReqID: req.ReqID,
		Type:  req.Operation.Type(),
	}

	switch op := req.Operation.(type) {
	case GetNym:
		if _, err := VerKey(op.Dest); err != nil {
			return Reply{}, NotFoundError{Entity: "nym", Key: op.Dest}
		}
		reply.Dest = op.Dest
		reply.VerKey = op.Dest
		return reply, nil

	case PublishSchema:
		if err := validateSchemaOp(op); err != nil {
			return Reply{}, fmt.Errorf("invalid schema: %w", err)
		}

		rec := SchemaRecord{
			ID:        MakeSchemaID(req.Identifier, op.Name, op.Version),
			IssuerID:  req.Identifier,
			Name:      op.Name,
			Version:   op.Version,
			AttrNames: slices.Clone(op.AttrNames),
		}
		seq, err := l.store.InsertSchema(ctx, req.ReqID, rec)
		if err != nil {
			return Reply{}, fmt.Errorf("failed to write schema: %w", err)
		}

		l.log.Info(
			"Published schema",
			"schema_id", rec.ID,
			"seq_no", seq,
		)
		reply.SeqNo = seq
		reply.SchemaID = rec.ID
		return reply, nil

	case PublishIssuerKeys:
		schema, err := l.store.Schema(ctx, op.SchemaID)
		if err != nil {
			return Reply{}, fmt.Errorf("cannot publish issuer keys: %w", err)
		}
		if err := op.PublicKey.Validate(); err != nil {
			return Reply{}, fmt.Errorf("invalid issuer public key: %w", err)
		}

		want := slices.Sorted(slices.Values(schema.AttrNames))
		if got := op.PublicKey.Attrs(); !slices.Equal(got, want) {
			return Reply{}, fmt.Errorf(
				"issuer key attributes %v do not match schema %s attributes %v",
				got, schema.ID, want,
			)
		}

		seq, err := l.store.InsertIssuerKeys(ctx, req.ReqID, IssuerKeyRecord{
			SchemaID:  op.SchemaID,
			IssuerID:  req.Identifier,
			PublicKey: op.PublicKey,
		})
		if err != nil {
			return Reply{}, fmt.Errorf("failed to write issuer keys: %w", err)
		}

		l.log.Info(
			"Published issuer keys",
			"schema_id", op.SchemaID,
			"issuer", req.Identifier,
			"seq_no", seq,
		)
		reply.SeqNo = seq
		reply.SchemaID = op.SchemaID
		return reply, nil

	default:
		return Reply{}, fmt.Errorf("unsupported operation type %T", op)
	}
}

// Schema returns the published schema with the given ID.
func (l *Ledger) Schema(ctx context.Context, id SchemaID) (SchemaRecord, error) {
	return l.store.Schema(ctx, id)
}

// IssuerKeys returns the keys issuer published for the schema id.
func (l *Ledger) IssuerKeys(ctx context.Context, id SchemaID, issuer string) (IssuerKeyRecord, error) {
	return l.store.IssuerKeys(ctx, id, issuer)
}

// Schemas returns every schema published by issuer.
func (l *Ledger) Schemas(ctx context.Context, issuer string) ([]SchemaRecord, error) {
	return l.store.Schemas(ctx, issuer)
}
