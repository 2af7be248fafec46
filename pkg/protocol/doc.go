// Package protocol implements the ChatGuard packet framing.
//
// ChatGuard packets travel inside the text channel of a third-party
// messaging page, so every packet is a single UTF-8 string built from
// double-underscore delimited fields behind a kind tag.
//
// # Packet Kinds
//
//	::MESSAGE::__<senderEnvelopeHex>__<recipientEnvelopeHex>__<ciphertext>
//	::HANDSHAKE::__<timestampMillis>__<peerId>__<publicKeyPem>
//	::ACKNOWLEDGMENT::__<peerId>
//
// Message carries a dual-recipient hybrid envelope: the session key is
// wrapped once for the sender and once for the recipient. Handshake
// announces a peer id and its RSA public key. Acknowledgment confirms that
// a handshake was accepted.
//
// # Parsing
//
// Parse inspects the leading tag exactly once and returns one of the closed
// set of packet variants (*Message, *Handshake, *Acknowledgment). Callers
// switch on the concrete type instead of re-reading string prefixes:
//
//	pkt, err := protocol.Parse(text)
//	if err != nil {
//	    return err
//	}
//	switch p := pkt.(type) {
//	case *protocol.Message:
//	    // decode
//	case *protocol.Handshake:
//	    // update contact directory
//	case *protocol.Acknowledgment:
//	    // mark acknowledged
//	}
//
// # Scheme Version
//
// The wire shape carries no version field. SchemeVersion names the pinned
// combination of primitives (RSA-OAEP/SHA-256, AES-256-GCM, hex envelopes,
// base64 ciphertext) used by the envelope codec. Changing any of them
// requires bumping SchemeVersion and a new prefix.
package protocol
