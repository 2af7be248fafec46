// Package contacts keeps the per-peer records learned through handshakes.
//
// A Directory wraps a durable Store and enforces the freshness rule: an
// update for a known peer is accepted only when its LastSeen timestamp is
// newer than the stored one. Read-compare-write for one peer id runs under
// a per-peer lock, so two concurrent handshakes for the same peer cannot
// both pass the check against the same stale value. Different peers never
// contend.
package contacts
