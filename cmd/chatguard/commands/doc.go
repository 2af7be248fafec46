// Package commands implements the chatguard command line: identity setup,
// handshakes, encrypting outbound text and processing inbound packets
// against the same SQLite store the node uses.
package commands
