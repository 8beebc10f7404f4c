// Package bloodbanktest provides an in-memory BloodDonation chain for tests:
// a bind backend that executes donate and requestBlood, serves the view
// functions and emits the contract's events.
package bloodbanktest

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"BloodBank-Chain/internal/bloodbank"
	"BloodBank-Chain/internal/web3"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/event"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
)

// ContractAddress is where the fake contract is deployed by default.
var ContractAddress = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")

// Backend implements web3.Backend for a single fake BloodDonation contract.
type Backend struct {
	// NoSubscriptions makes SubscribeFilterLogs fail like an HTTP endpoint.
	NoSubscriptions bool

	chainID *big.Int
	abi     abi.ABI
	feed    event.FeedOf[types.Log]

	mu         sync.Mutex
	code       map[common.Address][]byte
	block      uint64
	nonces     map[common.Address]uint64
	quantities map[string]*big.Int
	donors     map[common.Address]bool
	donations  int64
	requests   int64
	receipts   map[common.Hash]*types.Receipt
	logs       []types.Log
	failCalls  map[string]error
}

var _ web3.Backend = (*Backend)(nil)

// NewBackend returns a backend with the contract deployed at ContractAddress.
func NewBackend(chainID *big.Int) *Backend {
	return &Backend{
		chainID:    new(big.Int).Set(chainID),
		abi:        bloodbank.DefaultABI(),
		code:       map[common.Address][]byte{ContractAddress: {0x60, 0x80, 0x60, 0x40}},
		block:      1,
		nonces:     map[common.Address]uint64{},
		quantities: map[string]*big.Int{},
		donors:     map[common.Address]bool{},
		receipts:   map[common.Hash]*types.Receipt{},
		failCalls:  map[string]error{},
	}
}

// SetCode overrides the bytecode at address; empty code means not deployed.
func (b *Backend) SetCode(address common.Address, code []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(code) == 0 {
		delete(b.code, address)
		return
	}
	b.code[address] = append([]byte(nil), code...)
}

// FailCall makes the named view function fail with err.
func (b *Backend) FailCall(method string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failCalls[method] = err
}

// Code returns the bytecode at address.
func (b *Backend) Code(address common.Address) []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.code[address]...)
}

// NewSigner creates a keyed signer for a fresh account on this backend's chain.
func (b *Backend) NewSigner() (*web3.Signer, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, err
	}
	return b.SignerFor(key)
}

// SignerFor creates a keyed signer for key on this backend's chain.
func (b *Backend) SignerFor(key *ecdsa.PrivateKey) (*web3.Signer, error) {
	opts, err := bind.NewKeyedTransactorWithChainID(key, b.chainID)
	if err != nil {
		return nil, err
	}
	return &web3.Signer{
		Account:    opts.From,
		ChainID:    new(big.Int).Set(b.chainID),
		Transactor: opts,
		Backend:    b,
	}, nil
}

// CodeAt implements bind.ContractCaller.
func (b *Backend) CodeAt(_ context.Context, contract common.Address, _ *big.Int) ([]byte, error) {
	return b.Code(contract), nil
}

// PendingCodeAt implements bind.ContractTransactor.
func (b *Backend) PendingCodeAt(ctx context.Context, account common.Address) ([]byte, error) {
	return b.CodeAt(ctx, account, nil)
}

// CallContract executes the contract's view functions.
func (b *Backend) CallContract(_ context.Context, call gethcore.CallMsg, _ *big.Int) ([]byte, error) {
	if call.To == nil || len(call.Data) < 4 {
		return nil, errors.New("invalid call")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.code[*call.To]) == 0 {
		return nil, nil
	}
	method, err := b.abi.MethodById(call.Data[:4])
	if err != nil {
		return nil, err
	}
	if err := b.failCalls[method.Name]; err != nil {
		return nil, err
	}
	args, err := method.Inputs.Unpack(call.Data[4:])
	if err != nil {
		return nil, err
	}

	var result *big.Int
	switch method.Name {
	case "getBloodTypeQuantity":
		result = new(big.Int)
		if q := b.quantities[args[0].(string)]; q != nil {
			result.Set(q)
		}
	case "getTotalDonors":
		result = big.NewInt(int64(len(b.donors)))
	case "getTotalDonations":
		result = big.NewInt(b.donations)
	case "getTotalRequests":
		result = big.NewInt(b.requests)
	default:
		return nil, fmt.Errorf("method %s is not a view", method.Name)
	}
	return method.Outputs.Pack(result)
}

// HeaderByNumber returns a synthetic head with a base fee.
func (b *Backend) HeaderByNumber(_ context.Context, _ *big.Int) (*types.Header, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return &types.Header{Number: new(big.Int).SetUint64(b.block), BaseFee: big.NewInt(1_000_000_000)}, nil
}

// PendingNonceAt implements bind.ContractTransactor.
func (b *Backend) PendingNonceAt(_ context.Context, account common.Address) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.nonces[account], nil
}

// SuggestGasPrice implements bind.ContractTransactor.
func (b *Backend) SuggestGasPrice(context.Context) (*big.Int, error) {
	return big.NewInt(2_000_000_000), nil
}

// SuggestGasTipCap implements bind.ContractTransactor.
func (b *Backend) SuggestGasTipCap(context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

// EstimateGas implements bind.ContractTransactor.
func (b *Backend) EstimateGas(context.Context, gethcore.CallMsg) (uint64, error) {
	return 200_000, nil
}

// SendTransaction mines tx immediately, applying donate or requestBlood.
func (b *Backend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	from, err := types.Sender(types.LatestSignerForChainID(b.chainID), tx)
	if err != nil {
		return fmt.Errorf("invalid signature: %w", err)
	}
	if tx.To() == nil || len(tx.Data()) < 4 {
		return errors.New("unsupported transaction")
	}

	b.mu.Lock()
	if len(b.code[*tx.To()]) == 0 {
		b.mu.Unlock()
		return errors.New("no contract code at destination")
	}
	method, err := b.abi.MethodById(tx.Data()[:4])
	if err != nil {
		b.mu.Unlock()
		return err
	}
	args, err := method.Inputs.Unpack(tx.Data()[4:])
	if err != nil {
		b.mu.Unlock()
		return err
	}

	b.block++
	b.nonces[from]++
	now := big.NewInt(int64(1_700_000_000 + b.block))
	var logs []types.Log
	switch method.Name {
	case "donate":
		bloodType, amount, name := args[0].(string), args[1].(*big.Int), args[2].(string)
		if !b.donors[from] {
			b.donors[from] = true
			logs = append(logs, b.newLog(tx, from, bloodbank.EventDonorRegistered, name))
		}
		b.donations++
		b.add(bloodType, amount)
		logs = append(logs, b.newLog(tx, from, bloodbank.EventBloodDonated, bloodType, amount, now))
	case "requestBlood":
		bloodType, amount := args[0].(string), args[1].(*big.Int)
		b.requests++
		b.add(bloodType, new(big.Int).Neg(amount))
		logs = append(logs, b.newLog(tx, from, bloodbank.EventBloodRequested, bloodType, amount, now))
	default:
		b.mu.Unlock()
		return fmt.Errorf("method %s is not a transaction", method.Name)
	}
	for i := range logs {
		logs[i].Index = uint(len(b.logs) + i)
	}
	b.logs = append(b.logs, logs...)
	receiptLogs := make([]*types.Log, len(logs))
	for i := range logs {
		receiptLogs[i] = &logs[i]
	}
	b.receipts[tx.Hash()] = &types.Receipt{
		Status:      types.ReceiptStatusSuccessful,
		TxHash:      tx.Hash(),
		BlockNumber: new(big.Int).SetUint64(b.block),
		Logs:        receiptLogs,
	}
	b.mu.Unlock()

	for _, log := range logs {
		b.feed.Send(log)
	}
	return nil
}

func (b *Backend) add(bloodType string, delta *big.Int) {
	q := b.quantities[bloodType]
	if q == nil {
		q = new(big.Int)
		b.quantities[bloodType] = q
	}
	q.Add(q, delta)
	if q.Sign() < 0 {
		q.SetInt64(0)
	}
}

func (b *Backend) newLog(tx *types.Transaction, actor common.Address, kind bloodbank.EventKind, values ...any) types.Log {
	ev := b.abi.Events[string(kind)]
	data, err := ev.Inputs.NonIndexed().Pack(values...)
	if err != nil {
		panic(fmt.Sprintf("pack %s: %v", kind, err))
	}
	return types.Log{
		Address:     *tx.To(),
		Topics:      []common.Hash{ev.ID, common.BytesToHash(actor.Bytes())},
		Data:        data,
		BlockNumber: b.block,
		TxHash:      tx.Hash(),
	}
}

// TransactionReceipt implements bind.DeployBackend.
func (b *Backend) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	receipt, ok := b.receipts[hash]
	if !ok {
		return nil, gethcore.NotFound
	}
	return receipt, nil
}

// FilterLogs returns the emitted logs matching q.
func (b *Backend) FilterLogs(_ context.Context, q gethcore.FilterQuery) ([]types.Log, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []types.Log
	for _, log := range b.logs {
		if matches(q, log) {
			out = append(out, log)
		}
	}
	return out, nil
}

// SubscribeFilterLogs streams future logs matching q.
func (b *Backend) SubscribeFilterLogs(_ context.Context, q gethcore.FilterQuery, ch chan<- types.Log) (gethcore.Subscription, error) {
	if b.NoSubscriptions {
		return nil, gethrpc.ErrNotificationsUnsupported
	}
	internal := make(chan types.Log, 16)
	sub := b.feed.Subscribe(internal)
	return event.NewSubscription(func(quit <-chan struct{}) error {
		defer sub.Unsubscribe()
		for {
			select {
			case log := <-internal:
				if !matches(q, log) {
					continue
				}
				select {
				case ch <- log:
				case <-quit:
					return nil
				}
			case err := <-sub.Err():
				return err
			case <-quit:
				return nil
			}
		}
	}), nil
}

// Block returns the current block number.
func (b *Backend) Block() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.block
}

func matches(q gethcore.FilterQuery, log types.Log) bool {
	if q.FromBlock != nil && log.BlockNumber < q.FromBlock.Uint64() {
		return false
	}
	if q.ToBlock != nil && q.ToBlock.Sign() >= 0 && log.BlockNumber > q.ToBlock.Uint64() {
		return false
	}
	if len(q.Addresses) > 0 {
		found := false
		for _, addr := range q.Addresses {
			if addr == log.Address {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	for i, options := range q.Topics {
		if len(options) == 0 {
			continue
		}
		if i >= len(log.Topics) {
			return false
		}
		found := false
		for _, topic := range options {
			if topic == log.Topics[i] {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
