// Package cproto contains the messages exchanged on credmesh connections.
//
// The dialing side opens the first bidirectional stream and writes a
// [HelloType] message; the accepting side replies with [HelloAckType].
// Both messages share the [Hello] layout.
//
// After the handshake, either side may open further streams
// carrying a single [StateQuery] answered by a [StateReplyType] message.
package cproto

import "time"

// Version is the only handshake version understood.
const Version byte = 1

// MessageType is a single byte header indicating the type of message.
type MessageType byte

const (
	// Keep zero reserved.
	// Not using iota here, to avoid possibility of values changing across the wire.

	HelloType      MessageType = 1
	HelloAckType   MessageType = 2
	StateQueryType MessageType = 3
	StateReplyType MessageType = 4
)

func (t MessageType) String() string {
	switch t {
	case HelloType:
		return "Hello"
	case HelloAckType:
		return "HelloAck"
	case StateQueryType:
		return "StateQuery"
	case StateReplyType:
		return "StateReply"
	default:
		return "Unknown"
	}
}

// DefaultTimeout bounds each side's part of the handshake.
const DefaultTimeout = 2 * time.Second
