package ethereum

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"BloodBank-Chain/internal/web3"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	coretypes "github.com/ethereum/go-ethereum/core/types"
)

// Signer returns a transaction signer for account. Accounts held in the local
// keystore are signed locally; any other account is signed by the wallet
// through eth_signTransaction.
func (w *Wallet) Signer(ctx context.Context, account common.Address) (*web3.Signer, error) {
	chainID, err := w.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("获取链 ID 失败: %w", err)
	}

	var opts *bind.TransactOpts
	if w.keystore != nil && w.keystore.HasAddress(account) {
		opts, err = w.keystoreTransactor(account, chainID)
		if err != nil {
			return nil, err
		}
	} else {
		opts = &bind.TransactOpts{
			From:    account,
			Signer:  w.remoteSignerFn(chainID),
			Context: w.ctx,
		}
	}

	return &web3.Signer{
		Account:    account,
		ChainID:    chainID,
		Transactor: opts,
		Backend:    w.eth,
	}, nil
}

func (w *Wallet) keystoreTransactor(account common.Address, chainID *big.Int) (*bind.TransactOpts, error) {
	acc, err := w.keystore.Find(accounts.Account{Address: account})
	if err != nil {
		return nil, fmt.Errorf("查找本地账户失败: %w", err)
	}
	if err := w.keystore.Unlock(acc, w.passphrase); err != nil {
		return nil, fmt.Errorf("解锁本地账户失败: %w", err)
	}
	opts, err := bind.NewKeyStoreTransactorWithChainID(w.keystore, acc, chainID)
	if err != nil {
		return nil, fmt.Errorf("创建交易签名器失败: %w", err)
	}
	return opts, nil
}

// signTransactionArgs is the eth_signTransaction request object.
type signTransactionArgs struct {
	From                 common.Address  `json:"from"`
	To                   *common.Address `json:"to,omitempty"`
	Gas                  hexutil.Uint64  `json:"gas"`
	GasPrice             *hexutil.Big    `json:"gasPrice,omitempty"`
	MaxFeePerGas         *hexutil.Big    `json:"maxFeePerGas,omitempty"`
	MaxPriorityFeePerGas *hexutil.Big    `json:"maxPriorityFeePerGas,omitempty"`
	Value                *hexutil.Big    `json:"value"`
	Nonce                hexutil.Uint64  `json:"nonce"`
	Data                 hexutil.Bytes   `json:"data"`
	ChainID              *hexutil.Big    `json:"chainId"`
}

func newSignTransactionArgs(from common.Address, tx *coretypes.Transaction, chainID *big.Int) signTransactionArgs {
	args := signTransactionArgs{
		From:    from,
		To:      tx.To(),
		Gas:     hexutil.Uint64(tx.Gas()),
		Value:   (*hexutil.Big)(tx.Value()),
		Nonce:   hexutil.Uint64(tx.Nonce()),
		Data:    tx.Data(),
		ChainID: (*hexutil.Big)(chainID),
	}
	if tx.Type() == coretypes.LegacyTxType {
		args.GasPrice = (*hexutil.Big)(tx.GasPrice())
	} else {
		args.MaxFeePerGas = (*hexutil.Big)(tx.GasFeeCap())
		args.MaxPriorityFeePerGas = (*hexutil.Big)(tx.GasTipCap())
	}
	return args
}

func (w *Wallet) remoteSignerFn(chainID *big.Int) bind.SignerFn {
	return func(from common.Address, tx *coretypes.Transaction) (*coretypes.Transaction, error) {
		var result json.RawMessage
		args := newSignTransactionArgs(from, tx, chainID)
		if err := w.rpc.CallContext(w.ctx, &result, "eth_signTransaction", args); err != nil {
			return nil, err
		}
		signed, err := decodeSignedTransaction(result)
		if err != nil {
			return nil, err
		}
		sender, err := coretypes.Sender(coretypes.LatestSignerForChainID(chainID), signed)
		if err != nil {
			return nil, fmt.Errorf("恢复签名地址失败: %w", err)
		}
		if sender != from {
			return nil, fmt.Errorf("钱包返回的签名地址 %s 与请求账户 %s 不一致", sender.Hex(), from.Hex())
		}
		return signed, nil
	}
}

// decodeSignedTransaction accepts both the raw hex string returned by most
// wallets and the {raw, tx} object returned by geth.
func decodeSignedTransaction(result json.RawMessage) (*coretypes.Transaction, error) {
	result = bytes.TrimSpace(result)
	if len(result) == 0 || bytes.Equal(result, []byte("null")) {
		return nil, errors.New("钱包未返回签名交易")
	}

	var raw hexutil.Bytes
	if result[0] == '"' {
		if err := json.Unmarshal(result, &raw); err != nil {
			return nil, fmt.Errorf("解析签名交易失败: %w", err)
		}
	} else {
		var envelope struct {
			Raw hexutil.Bytes `json:"raw"`
		}
		if err := json.Unmarshal(result, &envelope); err != nil {
			return nil, fmt.Errorf("解析签名交易失败: %w", err)
		}
		raw = envelope.Raw
	}

	tx := new(coretypes.Transaction)
	if err := tx.UnmarshalBinary(raw); err != nil {
		return nil, fmt.Errorf("解码签名交易失败: %w", err)
	}
	return tx, nil
}
