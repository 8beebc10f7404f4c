package session

import (
	"encoding/json"
	"math/big"

	"BloodBank-Chain/internal/bloodbank"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// State is the connection state of the session.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateChecking      State = "checking"
	StateDisconnected  State = "disconnected"
	StateWrongNetwork  State = "wrong_network"
	StateConnected     State = "connected"
)

// Session is an immutable snapshot of the wallet session. Contract is non-nil
// only while connected to the expected chain with an account.
type Session struct {
	Account             *common.Address
	Contract            *bloodbank.Contract
	NetworkError        string
	IsMetaMaskInstalled bool
	State               State
	ChainID             *big.Int
	Version             uint64
}

// Connected reports whether the snapshot carries a usable contract handle.
func (s Session) Connected() bool {
	return s.State == StateConnected && s.Contract != nil && s.Contract.Valid()
}

// clone deep-copies the pointer fields except the contract handle, which is
// shared and never mutated beyond invalidation.
func (s Session) clone() Session {
	if s.Account != nil {
		account := *s.Account
		s.Account = &account
	}
	if s.ChainID != nil {
		s.ChainID = new(big.Int).Set(s.ChainID)
	}
	return s
}

type sessionJSON struct {
	Account             *common.Address `json:"account"`
	Contract            *common.Address `json:"contract"`
	NetworkError        *string         `json:"networkError"`
	IsMetaMaskInstalled bool            `json:"isMetaMaskInstalled"`
	State               State           `json:"state"`
	ChainID             *hexutil.Big    `json:"chainId"`
	Version             uint64          `json:"version"`
}

// MarshalJSON renders absent values as null and the contract as its address.
func (s Session) MarshalJSON() ([]byte, error) {
	out := sessionJSON{
		Account:             s.Account,
		IsMetaMaskInstalled: s.IsMetaMaskInstalled,
		State:               s.State,
		ChainID:             (*hexutil.Big)(s.ChainID),
		Version:             s.Version,
	}
	if s.Contract != nil {
		address := s.Contract.Address()
		out.Contract = &address
	}
	if s.NetworkError != "" {
		msg := s.NetworkError
		out.NetworkError = &msg
	}
	return json.Marshal(out)
}
