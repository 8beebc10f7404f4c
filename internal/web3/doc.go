// Package web3 describes the wallet side of the blood-bank dApp: the
// EIP-1193 style provider the session layer talks to, the descriptor of the
// single accepted network, and the signer handed to contract bindings.
// Concrete providers live in sub-packages such as web3/ethereum.
package web3
