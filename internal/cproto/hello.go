package cproto

import (
	"errors"
	"fmt"
	"io"
)

// MaxFieldLen is the longest ID or address that fits in a [Hello].
const MaxFieldLen = 255

// Hello introduces one side of a connection to the other.
//
// On the wire it is:
//
//	version(1) | type(1) | idLen(1) | addrLen(1) | id | addr
type Hello struct {
	Type MessageType

	// The sender's identity.
	// Must not be empty.
	ID string

	// The address the sender can be dialed at.
	// May be empty if the sender does not accept connections.
	Addr string
}

// Encode writes h to w.
// It panics if h's fields cannot be represented.
func (h Hello) Encode(w io.Writer) error {
	if h.Type != HelloType && h.Type != HelloAckType {
		panic(fmt.Errorf("BUG: cannot encode hello with type %d", h.Type))
	}
	if h.ID == "" {
		panic(errors.New("BUG: hello ID must not be empty"))
	}
	if len(h.ID) > MaxFieldLen || len(h.Addr) > MaxFieldLen {
		panic(fmt.Errorf(
			"BUG: hello ID and address must be <= %d bytes (got %d and %d)",
			MaxFieldLen, len(h.ID), len(h.Addr),
		))
	}

	out := make([]byte, 0, 4+len(h.ID)+len(h.Addr))
	out = append(out, Version, byte(h.Type), byte(len(h.ID)), byte(len(h.Addr)))
	out = append(out, h.ID...)
	out = append(out, h.Addr...)

	_, err := w.Write(out)
	return err
}

// Decode reads a hello of type want from r into h.
func (h *Hello) Decode(r io.Reader, want MessageType) error {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return fmt.Errorf("failed to read hello header: %w", err)
	}

	if hdr[0] != Version {
		return fmt.Errorf("unsupported handshake version %d", hdr[0])
	}
	if got := MessageType(hdr[1]); got != want {
		return fmt.Errorf("expected %s message, got type %d", want, hdr[1])
	}

	idLen, addrLen := int(hdr[2]), int(hdr[3])
	if idLen == 0 {
		return errors.New("hello ID must not be empty")
	}

	body := make([]byte, idLen+addrLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return fmt.Errorf("failed to read hello body: %w", err)
	}

	h.Type = want
	h.ID = string(body[:idLen])
	h.Addr = string(body[idLen:])
	return nil
}
