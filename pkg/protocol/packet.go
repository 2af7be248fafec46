package protocol

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// Packet is one of *Message, *Handshake or *Acknowledgment
type Packet interface {
	Kind() Kind
	Encode() (string, error)
	sealed()
}

// Message is a dual-recipient encrypted packet
type Message struct {
	SenderEnvelope    []byte // session key under the sender's public key
	RecipientEnvelope []byte // session key under the recipient's public key
	Ciphertext        []byte // nonce || AES-256-GCM sealed plaintext
}

// Handshake announces a peer id and its public key
type Handshake struct {
	Timestamp    int64 // Unix milliseconds at creation
	PeerID       string
	PublicKeyPEM string
}

// Acknowledgment confirms acceptance of a handshake from PeerID
type Acknowledgment struct {
	PeerID string
}

func (*Message) Kind() Kind        { return KindMessage }
func (*Handshake) Kind() Kind      { return KindHandshake }
func (*Acknowledgment) Kind() Kind { return KindAcknowledgment }

func (*Message) sealed()        {}
func (*Handshake) sealed()      {}
func (*Acknowledgment) sealed() {}

// Encode frames the message as ::MESSAGE::__<hex>__<hex>__<base64>
func (m *Message) Encode() (string, error) {
	if len(m.SenderEnvelope) == 0 || len(m.RecipientEnvelope) == 0 || len(m.Ciphertext) == 0 {
		return "", fmt.Errorf("%w: empty message field", ErrMalformedPacket)
	}
	return join(PrefixMessage,
		hex.EncodeToString(m.SenderEnvelope),
		hex.EncodeToString(m.RecipientEnvelope),
		base64.StdEncoding.EncodeToString(m.Ciphertext),
	), nil
}

// Encode frames the handshake as ::HANDSHAKE::__<ts>__<peer>__<pem>
func (h *Handshake) Encode() (string, error) {
	if err := ValidatePeerID(h.PeerID); err != nil {
		return "", err
	}
	if h.PublicKeyPEM == "" || strings.Contains(h.PublicKeyPEM, Delimiter) {
		return "", fmt.Errorf("%w: bad public key field", ErrMalformedPacket)
	}
	return join(PrefixHandshake, strconv.FormatInt(h.Timestamp, 10), h.PeerID, h.PublicKeyPEM), nil
}

// Encode frames the acknowledgment as ::ACKNOWLEDGMENT::__<peer>
func (a *Acknowledgment) Encode() (string, error) {
	if err := ValidatePeerID(a.PeerID); err != nil {
		return "", err
	}
	return join(PrefixAcknowledgment, a.PeerID), nil
}

// KindOf reports the packet kind named by the leading tag of text
func KindOf(text string) Kind {
	tag, _, _ := strings.Cut(text, Delimiter)
	switch tag {
	case PrefixMessage:
		return KindMessage
	case PrefixHandshake:
		return KindHandshake
	case PrefixAcknowledgment:
		return KindAcknowledgment
	default:
		return KindUnknown
	}
}

// IsPacket reports whether text starts with a known kind tag
func IsPacket(text string) bool {
	return KindOf(text) != KindUnknown
}

// Parse decodes a framed packet into its typed variant
func Parse(text string) (Packet, error) {
	switch KindOf(text) {
	case KindMessage:
		return parseMessage(text)
	case KindHandshake:
		return parseHandshake(text)
	case KindAcknowledgment:
		return parseAcknowledgment(text)
	default:
		return nil, ErrUnknownKind
	}
}

func parseMessage(text string) (*Message, error) {
	fields := strings.Split(text, Delimiter)
	if len(fields) != 4 {
		return nil, fmt.Errorf("%w: message has %d fields, want 4", ErrMalformedPacket, len(fields))
	}

	sender, err := decodeHexField(fields[1])
	if err != nil {
		return nil, fmt.Errorf("%w: sender envelope: %v", ErrMalformedPacket, err)
	}
	recipient, err := decodeHexField(fields[2])
	if err != nil {
		return nil, fmt.Errorf("%w: recipient envelope: %v", ErrMalformedPacket, err)
	}
	if fields[3] == "" {
		return nil, fmt.Errorf("%w: empty ciphertext", ErrMalformedPacket)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(fields[3])
	if err != nil {
		return nil, fmt.Errorf("%w: ciphertext: %v", ErrMalformedPacket, err)
	}

	return &Message{
		SenderEnvelope:    sender,
		RecipientEnvelope: recipient,
		Ciphertext:        ciphertext,
	}, nil
}

func parseHandshake(text string) (*Handshake, error) {
	fields := strings.SplitN(text, Delimiter, 4)
	if len(fields) != 4 {
		return nil, fmt.Errorf("%w: handshake has %d fields, want 4", ErrMalformedPacket, len(fields))
	}

	ts, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTimestamp, fields[1])
	}
	if err := ValidatePeerID(fields[2]); err != nil {
		return nil, err
	}
	if fields[3] == "" {
		return nil, fmt.Errorf("%w: empty public key", ErrMalformedPacket)
	}

	return &Handshake{
		Timestamp:    ts,
		PeerID:       fields[2],
		PublicKeyPEM: fields[3],
	}, nil
}

func parseAcknowledgment(text string) (*Acknowledgment, error) {
	fields := strings.Split(text, Delimiter)
	if len(fields) != 2 {
		return nil, fmt.Errorf("%w: acknowledgment has %d fields, want 2", ErrMalformedPacket, len(fields))
	}
	if err := ValidatePeerID(fields[1]); err != nil {
		return nil, err
	}
	return &Acknowledgment{PeerID: fields[1]}, nil
}

func decodeHexField(s string) ([]byte, error) {
	if s == "" {
		return nil, fmt.Errorf("empty field")
	}
	return hex.DecodeString(s)
}

func join(prefix string, fields ...string) string {
	var sb strings.Builder
	sb.WriteString(prefix)
	for _, f := range fields {
		sb.WriteString(Delimiter)
		sb.WriteString(f)
	}
	return sb.String()
}
