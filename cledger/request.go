package cledger

import (
	"crypto/ed25519"
	"encoding/json"
	"fmt"

	"github.com/credmesh/credmesh/cissuer"
	"github.com/google/uuid"
	"github.com/mr-tron/base58"
)

// OpType names the kind of operation carried by a [Request].
// The values are stable and stored by persistent ledgers.
type OpType string

const (
	GetNymType            OpType = "GET_NYM"
	PublishSchemaType     OpType = "SCHEMA"
	PublishIssuerKeysType OpType = "ISSUER_KEY"
)

// Operation is the body of a [Request].
// The set of operations is closed; see the types in this package.
type Operation interface {
	Type() OpType
}

// GetNym looks up the verification key of an identifier.
// Wallets queue it to sync their own identity before first use.
type GetNym struct {
	Dest string `json:"dest"`
}

func (GetNym) Type() OpType { return GetNymType }

// PublishSchema writes a new credential schema.
type PublishSchema struct {
	Name      string   `json:"name"`
	Version   string   `json:"version"`
	AttrNames []string `json:"attr_names"`
}

func (PublishSchema) Type() OpType { return PublishSchemaType }

// PublishIssuerKeys writes the public issuer keys bound to an existing schema.
type PublishIssuerKeys struct {
	SchemaID  SchemaID          `json:"schema_id"`
	PublicKey cissuer.PublicKey `json:"public_key"`
}

func (PublishIssuerKeys) Type() OpType { return PublishIssuerKeysType }

// Request is a signed operation submitted by an identifier.
type Request struct {
	ReqID uuid.UUID

	// Base58 encoding of the submitter's ed25519 verification key.
	// Identifiers are self-certifying: the key is the identifier.
	Identifier string

	Operation Operation

	Signature []byte
}

// SigningBytes returns the content covered by r's signature.
func (r Request) SigningBytes() ([]byte, error) {
	if r.Operation == nil {
		return nil, fmt.Errorf("request %s has no operation", r.ReqID)
	}

	b, err := json.Marshal(struct {
		ReqID      string    `json:"req_id"`
		Identifier string    `json:"identifier"`
		Type       OpType    `json:"type"`
		Operation  Operation `json:"operation"`
	}{
		ReqID:      r.ReqID.String(),
		Identifier: r.Identifier,
		Type:       r.Operation.Type(),
		Operation:  r.Operation,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode request %s for signing: %w", r.ReqID, err)
	}
	return b, nil
}

// Verify checks r's signature against the key in its identifier.
func (r Request) Verify() error {
	key, err := VerKey(r.Identifier)
	if err != nil {
		return err
	}

	msg, err := r.SigningBytes()
	if err != nil {
		return err
	}

	if !ed25519.Verify(key, msg, r.Signature) {
		return &InvalidSignatureError{ReqID: r.ReqID, Identifier: r.Identifier}
	}
	return nil
}

// VerKey decodes the ed25519 verification key held in identifier.
func VerKey(identifier string) (ed25519.PublicKey, error) {
	raw, err := base58.Decode(identifier)
	if err != nil {
		return nil, fmt.Errorf("identifier %q is not base58: %w", identifier, err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf(
			"identifier %q decodes to %d bytes, want %d",
			identifier, len(raw), ed25519.PublicKeySize,
		)
	}
	return ed25519.PublicKey(raw), nil
}

// Identifier returns the identifier for the verification key pub.
func Identifier(pub ed25519.PublicKey) string {
	return base58.Encode(pub)
}

// Reply is the ledger's answer to a successful [Request].
type Reply struct {
	ReqID uuid.UUID
	Type  OpType

	// Sequence number of the written transaction.
	// Zero for reads.
	SeqNo uint64

	// Set for PublishSchema and PublishIssuerKeys.
	SchemaID SchemaID

	// Set for GetNym.
	Dest   string
	VerKey string
}
