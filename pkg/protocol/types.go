package protocol

import (
	"errors"
	"strings"
	"time"
)

// Protocol constants
const (
	// SchemeVersion identifies the pinned envelope primitives
	SchemeVersion = 1

	// Delimiter separates packet fields
	Delimiter = "__"
)

// Kind tags
const (
	PrefixMessage        = "::MESSAGE::"
	PrefixHandshake      = "::HANDSHAKE::"
	PrefixAcknowledgment = "::ACKNOWLEDGMENT::"
)

var (
	ErrUnknownKind      = errors.New("unknown packet kind")
	ErrMalformedPacket  = errors.New("malformed packet")
	ErrInvalidPeerID    = errors.New("invalid peer id")
	ErrInvalidTimestamp = errors.New("invalid timestamp")
)

// Kind identifies a packet variant
type Kind uint8

const (
	KindUnknown Kind = iota
	KindMessage
	KindHandshake
	KindAcknowledgment
)

// String returns the wire tag without colons, or "unknown"
func (k Kind) String() string {
	switch k {
	case KindMessage:
		return "message"
	case KindHandshake:
		return "handshake"
	case KindAcknowledgment:
		return "acknowledgment"
	default:
		return "unknown"
	}
}

// Prefix returns the wire tag for k
func (k Kind) Prefix() string {
	switch k {
	case KindMessage:
		return PrefixMessage
	case KindHandshake:
		return PrefixHandshake
	case KindAcknowledgment:
		return PrefixAcknowledgment
	default:
		return ""
	}
}

// ===== HELPER FUNCTIONS =====

// NowUnixMilli returns current time in Unix milliseconds
func NowUnixMilli() int64 {
	return time.Now().UnixMilli()
}

// ValidatePeerID checks that id can be embedded in a packet field
func ValidatePeerID(id string) error {
	if id == "" || strings.Contains(id, Delimiter) {
		return ErrInvalidPeerID
	}
	return nil
}
