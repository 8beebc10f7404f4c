package bloodbank

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"math/big"
	"os"
	"strings"
	"sync/atomic"

	"BloodBank-Chain/internal/web3"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

//go:embed BloodDonation.abi.json
var defaultABI []byte

// ErrContractInvalidated is returned by every method of a handle whose
// account or chain is no longer current.
var ErrContractInvalidated = errors.New("contract handle invalidated")

// ErrTransactionReverted reports a mined transaction with a failed status.
var ErrTransactionReverted = errors.New("transaction reverted")

// LoadABI parses the ABI at path, or the embedded BloodDonation ABI when path
// is empty.
func LoadABI(path string) (abi.ABI, error) {
	content := defaultABI
	if strings.TrimSpace(path) != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return abi.ABI{}, fmt.Errorf("读取 ABI 失败: %w", err)
		}
		content = raw
	}
	parsed, err := abi.JSON(bytes.NewReader(content))
	if err != nil {
		return abi.ABI{}, fmt.Errorf("解析 ABI 失败: %w", err)
	}
	return parsed, nil
}

// DefaultABI returns the embedded BloodDonation ABI.
func DefaultABI() abi.ABI {
	parsed, err := LoadABI("")
	if err != nil {
		panic(err)
	}
	return parsed
}

// Contract is a handle on the BloodDonation contract bound to one address,
// ABI and signer. A handle is never rebound: when the account or chain
// changes it is invalidated and a new one is built.
type Contract struct {
	address common.Address
	abi     abi.ABI
	signer  *web3.Signer
	bound   *bind.BoundContract
	valid   atomic.Bool
}

// NewContract binds the contract at address for signer.
func NewContract(address common.Address, parsed abi.ABI, signer *web3.Signer) (*Contract, error) {
	if signer == nil || signer.Backend == nil || signer.Transactor == nil {
		return nil, errors.New("合约绑定需要有效的签名器")
	}
	c := &Contract{
		address: address,
		abi:     parsed,
		signer:  signer,
		bound:   bind.NewBoundContract(address, parsed, signer.Backend, signer.Backend, signer.Backend),
	}
	c.valid.Store(true)
	return c, nil
}

// Address returns the bound contract address.
func (c *Contract) Address() common.Address { return c.address }

// Account returns the account the handle signs for.
func (c *Contract) Account() common.Address { return c.signer.Account }

// ChainID returns the chain the signer was created on.
func (c *Contract) ChainID() *big.Int { return new(big.Int).Set(c.signer.ChainID) }

// ABI returns the bound ABI.
func (c *Contract) ABI() abi.ABI { return c.abi }

// Valid reports whether the handle may still be used.
func (c *Contract) Valid() bool { return c != nil && c.valid.Load() }

// Invalidate permanently disables the handle.
func (c *Contract) Invalidate() {
	if c != nil {
		c.valid.Store(false)
	}
}

func (c *Contract) check() error {
	if !c.Valid() {
		return ErrContractInvalidated
	}
	return nil
}

// Donate submits a validated donation form.
func (c *Contract) Donate(ctx context.Context, form DonationForm) (*types.Transaction, error) {
	if err := form.Validate(); err != nil {
		return nil, err
	}
	return c.transact(ctx, "donate", form.BloodType, form.Amount(), form.DonorName, big.NewInt(int64(form.Age)), form.Contact)
}

// RequestBlood submits a validated blood request form.
func (c *Contract) RequestBlood(ctx context.Context, form RequestForm) (*types.Transaction, error) {
	if err := form.Validate(); err != nil {
		return nil, err
	}
	return c.transact(ctx, "requestBlood", form.BloodType, form.Amount(), form.RecipientName,
		big.NewInt(int64(*form.Age)), form.Contact, form.Hospital, form.Reason)
}

// WaitMined blocks until tx is mined and fails if it reverted.
func (c *Contract) WaitMined(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	receipt, err := bind.WaitMined(ctx, c.signer.Backend, tx)
	if err != nil {
		return nil, fmt.Errorf("等待交易上链失败: %w", err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return receipt, fmt.Errorf("%w: %s", ErrTransactionReverted, tx.Hash().Hex())
	}
	return receipt, nil
}

// BloodTypeQuantity returns the on-chain volume held for bloodType.
func (c *Contract) BloodTypeQuantity(ctx context.Context, bloodType string) (*big.Int, error) {
	return c.callUint(ctx, "getBloodTypeQuantity", bloodType)
}

// InventoryLevel is the on-chain stock of one blood type.
type InventoryLevel struct {
	BloodType string   `json:"type"`
	Quantity  *big.Int `json:"quantity"`
	Units     int64    `json:"units"`
	Error     string   `json:"error,omitempty"`
}

// Inventory reads the quantity of every blood type. A failing type is
// reported as zero with its error rather than failing the whole read.
func (c *Contract) Inventory(ctx context.Context) ([]InventoryLevel, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	levels := make([]InventoryLevel, 0, len(BloodTypes))
	for _, bloodType := range BloodTypes {
		level := InventoryLevel{BloodType: bloodType, Quantity: new(big.Int)}
		quantity, err := c.BloodTypeQuantity(ctx, bloodType)
		switch {
		case errors.Is(err, ErrContractInvalidated), ctx.Err() != nil:
			if err == nil {
				err = ctx.Err()
			}
			return nil, err
		case err != nil:
			level.Error = err.Error()
		default:
			level.Quantity = quantity
			level.Units = new(big.Int).Div(quantity, big.NewInt(UnitVolume)).Int64()
		}
		levels = append(levels, level)
	}
	return levels, nil
}

// Stats are the contract's running totals.
type Stats struct {
	TotalDonors    *big.Int `json:"totalDonors"`
	TotalDonations *big.Int `json:"totalDonations"`
	TotalRequests  *big.Int `json:"totalRequests"`
}

// Stats reads the contract's running totals.
func (c *Contract) Stats(ctx context.Context) (Stats, error) {
	var (
		stats Stats
		err   error
	)
	if stats.TotalDonors, err = c.callUint(ctx, "getTotalDonors"); err != nil {
		return Stats{}, err
	}
	if stats.TotalDonations, err = c.callUint(ctx, "getTotalDonations"); err != nil {
		return Stats{}, err
	}
	if stats.TotalRequests, err = c.callUint(ctx, "getTotalRequests"); err != nil {
		return Stats{}, err
	}
	return stats, nil
}

func (c *Contract) callUint(ctx context.Context, method string, params ...any) (*big.Int, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	var out []any
	opts := &bind.CallOpts{Context: ctx, From: c.signer.Account}
	if err := c.bound.Call(opts, &out, method, params...); err != nil {
		return nil, fmt.Errorf("调用 %s 失败: %w", method, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("调用 %s 未返回结果", method)
	}
	value, ok := abi.ConvertType(out[0], new(big.Int)).(*big.Int)
	if !ok {
		return nil, fmt.Errorf("调用 %s 返回了非整数结果", method)
	}
	return value, nil
}

func (c *Contract) transact(ctx context.Context, method string, params ...any) (*types.Transaction, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	opts := *c.signer.Transactor
	opts.Context = ctx
	tx, err := c.bound.Transact(&opts, method, params...)
	if err != nil {
		return nil, fmt.Errorf("发送 %s 交易失败: %w", method, err)
	}
	return tx, nil
}
