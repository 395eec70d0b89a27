package cledger

import (
	"errors"
	"fmt"
	"strings"

	"github.com/credmesh/credmesh/cissuer"
)

// SchemaID is the identifier a ledger assigns to a published schema.
// It has the form <issuer>:2:<name>:<version>.
type SchemaID string

// schemaMarker is the fixed second component of a SchemaID.
const schemaMarker = "2"

// MakeSchemaID returns the ID a schema published by issuer receives.
func MakeSchemaID(issuer, name, version string) SchemaID {
	return SchemaID(strings.Join([]string{issuer, schemaMarker, name, version}, ":"))
}

// Parse splits id into its components.
func (id SchemaID) Parse() (issuer, name, version string, err error) {
	parts := strings.Split(string(id), ":")
	if len(parts) != 4 || parts[1] != schemaMarker {
		return "", "", "", fmt.Errorf("malformed schema ID %q", id)
	}
	return parts[0], parts[2], parts[3], nil
}

// SchemaRecord is a published schema. It is immutable once written.
type SchemaRecord struct {
	ID        SchemaID
	IssuerID  string
	Name      string
	Version   string
	AttrNames []string
	SeqNo     uint64
}

// IssuerKeyRecord is a published issuer public key, bound to a schema.
type IssuerKeyRecord struct {
	SchemaID  SchemaID
	IssuerID  string
	PublicKey cissuer.PublicKey
	SeqNo     uint64
}

func validateSchemaOp(op PublishSchema) error {
	var err error
	if op.Name == "" {
		err = errors.Join(err, errors.New("schema name must not be empty"))
	}
	if op.Version == "" {
		err = errors.Join(err, errors.New("schema version must not be empty"))
	}
	if strings.Contains(op.Name, ":") || strings.Contains(op.Version, ":") {
		err = errors.Join(err, errors.New("schema name and version must not contain ':'"))
	}
	if len(op.AttrNames) == 0 {
		err = errors.Join(err, errors.New("schema must have at least one attribute"))
	}
	seen := make(map[string]struct{}, len(op.AttrNames))
	for _, a := range op.AttrNames {
		if a == "" {
			err = errors.Join(err, errors.New("schema attribute names must not be empty"))
			continue
		}
		if _, ok := seen[a]; ok {
			err = errors.Join(err, fmt.Errorf("duplicate schema attribute %q", a))
		}
		seen[a] = struct{}{}
	}
	return err
}
