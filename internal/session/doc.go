// Package session implements the wallet session manager: the provider
// handshake, network verification and contract handle lifecycle behind the
// "Connect Wallet" button. One Manager owns the single Session of a process
// and publishes immutable snapshots of it.
package session
