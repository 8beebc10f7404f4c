package web3

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	gethevent "github.com/ethereum/go-ethereum/event"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
)

// EIP-1193 provider error codes.
const (
	CodeUserRejected      = 4001
	CodeUnauthorized      = 4100
	CodeUnsupportedMethod = 4200
	CodeDisconnected      = 4900
	CodeUnrecognizedChain = 4902
)

// Provider is the capability a wallet exposes to the session layer. It
// mirrors the injected browser provider: account access, network identity,
// network switching, signing and change notifications.
type Provider interface {
	// RequestAccounts may prompt the user for access.
	RequestAccounts(ctx context.Context) ([]common.Address, error)
	// Accounts returns the already authorised accounts without prompting.
	Accounts(ctx context.Context) ([]common.Address, error)
	ChainID(ctx context.Context) (*big.Int, error)
	SwitchChain(ctx context.Context, chainID *big.Int) error
	AddChain(ctx context.Context, network NetworkDescriptor) error
	Signer(ctx context.Context, account common.Address) (*Signer, error)
	CodeAt(ctx context.Context, address common.Address) ([]byte, error)
	SubscribeAccountsChanged(ch chan<- []common.Address) gethevent.Subscription
	SubscribeChainChanged(ch chan<- *big.Int) gethevent.Subscription
}

// Backend is the chain access a signer carries for contract calls and
// receipt polling.
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
}

// Signer is an authenticated handle able to send transactions for one account.
type Signer struct {
	Account    common.Address
	ChainID    *big.Int
	Transactor *bind.TransactOpts
	Backend    Backend
}

// ProviderError is a coded wallet failure, compatible with go-ethereum's
// rpc.Error so codes survive a JSON-RPC round trip.
type ProviderError struct {
	Code    int
	Message string
}

func (e *ProviderError) Error() string { return e.Message }

// ErrorCode implements rpc.Error.
func (e *ProviderError) ErrorCode() int { return e.Code }

var _ gethrpc.Error = (*ProviderError)(nil)

// ErrorCodeOf extracts a JSON-RPC / EIP-1193 error code from err.
func ErrorCodeOf(err error) (int, bool) {
	var coded gethrpc.Error
	if errors.As(err, &coded) {
		return coded.ErrorCode(), true
	}
	return 0, false
}

// IsUserRejected reports whether the user declined a wallet prompt.
func IsUserRejected(err error) bool {
	code, ok := ErrorCodeOf(err)
	return ok && code == CodeUserRejected
}

// IsUnrecognizedChain reports whether the wallet does not know the requested
// chain and it has to be added first.
func IsUnrecognizedChain(err error) bool {
	code, ok := ErrorCodeOf(err)
	return ok && code == CodeUnrecognizedChain
}

// EventSubscription wraps a log subscription so callers can manage lifecycle
// without depending on the go-ethereum event package.
type EventSubscription struct {
	logs <-chan types.Log
	sub  gethevent.Subscription
}

// NewEventSubscription constructs a managed subscription wrapper.
func NewEventSubscription(logs <-chan types.Log, sub gethevent.Subscription) *EventSubscription {
	return &EventSubscription{logs: logs, sub: sub}
}

// Logs returns the channel that receives blockchain logs.
func (e *EventSubscription) Logs() <-chan types.Log {
	return e.logs
}

// Err forwards the subscription error channel.
func (e *EventSubscription) Err() <-chan error {
	if e == nil || e.sub == nil {
		return nil
	}
	return e.sub.Err()
}

// Close terminates the subscription.
func (e *EventSubscription) Close() {
	if e == nil || e.sub == nil {
		return
	}
	e.sub.Unsubscribe()
}
