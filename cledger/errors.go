package cledger

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// NotFoundError indicates a requested record does not exist.
type NotFoundError struct {
	Entity string
	Key    string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.Key)
}

// IsNotFound returns true when err is (or wraps) a NotFoundError.
func IsNotFound(err error) bool {
	var target NotFoundError
	return errors.As(err, &target)
}

// SchemaExistsError is returned when publishing a schema
// whose ID is already on the ledger.
// Re-publishing an identical name and version is always rejected.
type SchemaExistsError struct {
	ID SchemaID
}

func (e *SchemaExistsError) Error() string {
	return fmt.Sprintf("schema %s already exists", e.ID)
}

// IssuerKeysExistError is returned when an issuer publishes keys
// for a schema it already published keys for.
type IssuerKeysExistError struct {
	SchemaID SchemaID
	IssuerID string
}

func (e *IssuerKeysExistError) Error() string {
	return fmt.Sprintf("issuer %s already published keys for schema %s", e.IssuerID, e.SchemaID)
}

// DuplicateRequestError is returned when a request ID was already written.
type DuplicateRequestError struct {
	ReqID uuid.UUID
}

func (e *DuplicateRequestError) Error() string {
	return fmt.Sprintf("request %s was already processed", e.ReqID)
}

// InvalidSignatureError is returned when a request's signature
// does not verify against its identifier.
type InvalidSignatureError struct {
	ReqID      uuid.UUID
	Identifier string
}

func (e *InvalidSignatureError) Error() string {
	return fmt.Sprintf("invalid signature on request %s from %s", e.ReqID, e.Identifier)
}
