package cproto

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/credmesh/credmesh/cquic"
)

// Initiate runs the dialing side of the handshake on conn:
// it opens a stream, sends local as a Hello,
// and returns the remote's HelloAck.
//
// Each side closes its write direction after its message
// and reads the other's to EOF, which releases the stream.
func Initiate(ctx context.Context, conn cquic.Conn, local Hello, timeout time.Duration) (Hello, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	deadline := time.Now().Add(timeout)

	openCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	s, err := conn.OpenStreamSync(openCtx)
	if err != nil {
		return Hello{}, fmt.Errorf("failed to open handshake stream: %w", err)
	}
	defer s.Close()

	if err := s.SetWriteDeadline(deadline); err != nil {
		return Hello{}, fmt.Errorf("failed to set handshake write deadline: %w", err)
	}
	local.Type = HelloType
	if err := local.Encode(s); err != nil {
		return Hello{}, fmt.Errorf("failed to send hello: %w", err)
	}
	if err := s.Close(); err != nil {
		return Hello{}, fmt.Errorf("failed to close handshake stream: %w", err)
	}

	if err := s.SetReadDeadline(deadline); err != nil {
		return Hello{}, fmt.Errorf("failed to set handshake read deadline: %w", err)
	}
	var ack Hello
	if err := ack.Decode(s, HelloAckType); err != nil {
		return Hello{}, fmt.Errorf("failed to receive hello ack: %w", err)
	}
	if err := expectEOF(s); err != nil {
		return Hello{}, fmt.Errorf("after hello ack: %w", err)
	}

	return ack, nil
}

// Respond runs the accepting side of the handshake on conn:
// it accepts the handshake stream, reads the remote's Hello,
// passes it to check, and replies with local as a HelloAck.
//
// If check returns an error, no ack is sent and the error is returned.
// The stream is closed before returning.
func Respond(
	ctx context.Context,
	conn cquic.Conn,
	local Hello,
	timeout time.Duration,
	check func(Hello) error,
) (Hello, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	deadline := time.Now().Add(timeout)

	acceptCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	s, err := conn.AcceptStream(acceptCtx)
	if err != nil {
		return Hello{}, fmt.Errorf("failed to accept handshake stream: %w", err)
	}
	defer s.Close()

	if err := s.SetReadDeadline(deadline); err != nil {
		return Hello{}, fmt.Errorf("failed to set handshake read deadline: %w", err)
	}
	var hello Hello
	if err := hello.Decode(s, HelloType); err != nil {
		return Hello{}, fmt.Errorf("failed to receive hello: %w", err)
	}
	if err := expectEOF(s); err != nil {
		return Hello{}, fmt.Errorf("after hello: %w", err)
	}

	if check != nil {
		if err := check(hello); err != nil {
			return Hello{}, err
		}
	}

	if err := s.SetWriteDeadline(deadline); err != nil {
		return Hello{}, fmt.Errorf("failed to set handshake write deadline: %w", err)
	}
	local.Type = HelloAckType
	if err := local.Encode(s); err != nil {
		return Hello{}, fmt.Errorf("failed to send hello ack: %w", err)
	}

	return hello, nil
}

// expectEOF reads r to its end,
// failing if anything follows the message already read.
func expectEOF(r io.Reader) error {
	var b [1]byte
	_, err := io.ReadFull(r, b[:])
	switch err {
	case io.EOF:
		return nil
	case nil:
		return errors.New("unexpected data after message")
	default:
		return err
	}
}
