package cproto

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/credmesh/credmesh/cquic"
)

// Registration is how an endpoint has registered a peer key.
type Registration byte

const (
	NotRegistered           Registration = 0
	RegisteredWithoutRemote Registration = 1
	RegisteredRemote        Registration = 2
)

func (r Registration) String() string {
	switch r {
	case NotRegistered:
		return "not registered"
	case RegisteredWithoutRemote:
		return "registered without remote"
	case RegisteredRemote:
		return "registered remote"
	default:
		return fmt.Sprintf("Registration(%d)", byte(r))
	}
}

// StateQuery asks the remote how it has registered Key.
//
// On the wire it is:
//
//	version(1) | type(1) | keyLen(1) | key
//
// The reply is:
//
//	version(1) | type(1) | registration(1)
type StateQuery struct {
	Key string
}

// Encode writes q to w.
// It panics if Key is empty or too long.
func (q StateQuery) Encode(w io.Writer) error {
	if q.Key == "" || len(q.Key) > MaxFieldLen {
		panic(fmt.Errorf("BUG: state query key must be 1-%d bytes (got %d)", MaxFieldLen, len(q.Key)))
	}

	out := make([]byte, 0, 3+len(q.Key))
	out = append(out, Version, byte(StateQueryType), byte(len(q.Key)))
	out = append(out, q.Key...)

	_, err := w.Write(out)
	return err
}

// Decode reads a state query from r into q.
func (q *StateQuery) Decode(r io.Reader) error {
	var hdr [3]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return fmt.Errorf("failed to read state query header: %w", err)
	}
	if err := checkHeader(hdr[0], hdr[1], StateQueryType); err != nil {
		return err
	}
	if hdr[2] == 0 {
		return errors.New("state query key must not be empty")
	}

	key := make([]byte, hdr[2])
	if _, err := io.ReadFull(r, key); err != nil {
		return fmt.Errorf("failed to read state query key: %w", err)
	}
	q.Key = string(key)
	return nil
}

func encodeReply(w io.Writer, reg Registration) error {
	_, err := w.Write([]byte{Version, byte(StateReplyType), byte(reg)})
	return err
}

func decodeReply(r io.Reader) (Registration, error) {
	var msg [3]byte
	if _, err := io.ReadFull(r, msg[:]); err != nil {
		return 0, fmt.Errorf("failed to read state reply: %w", err)
	}
	if err := checkHeader(msg[0], msg[1], StateReplyType); err != nil {
		return 0, err
	}
	reg := Registration(msg[2])
	if reg > RegisteredRemote {
		return 0, fmt.Errorf("invalid registration value %d", msg[2])
	}
	return reg, nil
}

func checkHeader(version, typ byte, want MessageType) error {
	if version != Version {
		return fmt.Errorf("unsupported protocol version %d", version)
	}
	if got := MessageType(typ); got != want {
		return fmt.Errorf("expected %s message, got type %d", want, typ)
	}
	return nil
}

// Query opens a stream on conn and asks the remote how it has registered key.
// The stream is released as in [Initiate].
func Query(ctx context.Context, conn cquic.Conn, key string, timeout time.Duration) (Registration, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	deadline := time.Now().Add(timeout)

	openCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	s, err := conn.OpenStreamSync(openCtx)
	if err != nil {
		return 0, fmt.Errorf("failed to open state query stream: %w", err)
	}
	defer s.Close()

	if err := s.SetWriteDeadline(deadline); err != nil {
		return 0, fmt.Errorf("failed to set state query write deadline: %w", err)
	}
	if err := (StateQuery{Key: key}).Encode(s); err != nil {
		return 0, fmt.Errorf("failed to send state query: %w", err)
	}
	if err := s.Close(); err != nil {
		return 0, fmt.Errorf("failed to close state query stream: %w", err)
	}

	if err := s.SetReadDeadline(deadline); err != nil {
		return 0, fmt.Errorf("failed to set state query read deadline: %w", err)
	}
	reg, err := decodeReply(s)
	if err != nil {
		return 0, err
	}
	if err := expectEOF(s); err != nil {
		return 0, fmt.Errorf("after state reply: %w", err)
	}
	return reg, nil
}

// ServeQueries answers state queries arriving on conn using answer,
// one stream at a time, until ctx is cancelled or conn closes.
// A malformed query only ends its own stream.
//
// The returned error is the one that stopped accepting streams.
func ServeQueries(
	ctx context.Context,
	conn cquic.Conn,
	timeout time.Duration,
	answer func(key string) Registration,
) error {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	for {
		s, err := conn.AcceptStream(ctx)
		if err != nil {
			return err
		}

		deadline := time.Now().Add(timeout)
		if err := serveQuery(s, deadline, answer); err != nil {
			s.CancelRead(0)
			s.CancelWrite(0)
			continue
		}
		_ = s.Close()
	}
}

func serveQuery(s cquic.Stream, deadline time.Time, answer func(string) Registration) error {
	if err := s.SetReadDeadline(deadline); err != nil {
		return err
	}
	var q StateQuery
	if err := q.Decode(s); err != nil {
		return err
	}
	if err := expectEOF(s); err != nil {
		return err
	}

	if err := s.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return encodeReply(s, answer(q.Key))
}
