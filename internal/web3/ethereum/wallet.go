package ethereum

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"BloodBank-Chain/internal/web3"
	"BloodBank-Chain/pkg/logger"

	"github.com/avast/retry-go/v4"
	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/ethclient"
	gethevent "github.com/ethereum/go-ethereum/event"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
)

// codeMethodNotFound is the JSON-RPC code for an unknown method.
const codeMethodNotFound = -32601

// Config describes how to reach an EIP-1193 capable wallet endpoint, such as
// a desktop wallet's local JSON-RPC bridge or a development node.
type Config struct {
	RPCURL       string
	KeystoreDir  string
	Passphrase   string
	PollInterval time.Duration
	DialAttempts uint
	Logger       *slog.Logger
}

// Wallet implements web3.Provider over go-ethereum's JSON-RPC client.
type Wallet struct {
	rpc          *gethrpc.Client
	eth          *ethclient.Client
	keystore     *keystore.KeyStore
	passphrase   string
	pollInterval time.Duration
	logger       *slog.Logger

	accountsFeed gethevent.FeedOf[[]common.Address]
	chainFeed    gethevent.FeedOf[*big.Int]

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu       sync.Mutex
	watching bool
	closed   bool
}

var _ web3.Provider = (*Wallet)(nil)

// Dial connects to the wallet endpoint and probes it with eth_chainId. The
// dial is retried because local wallets are often started after the daemon.
func Dial(ctx context.Context, cfg Config) (*Wallet, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, errors.New("未配置钱包 RPC 地址")
	}
	attempts := cfg.DialAttempts
	if attempts == 0 {
		attempts = 1
	}

	var client *gethrpc.Client
	err := retry.Do(
		func() error {
			c, err := gethrpc.DialContext(ctx, rpcURL)
			if err != nil {
				return err
			}
			var id hexutil.Big
			if err := c.CallContext(ctx, &id, "eth_chainId"); err != nil {
				c.Close()
				return err
			}
			client = c
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(250*time.Millisecond),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return nil, fmt.Errorf("连接钱包节点失败: %w", err)
	}
	return NewWallet(client, cfg), nil
}

// NewWallet wraps an established RPC client.
func NewWallet(client *gethrpc.Client, cfg Config) *Wallet {
	log := cfg.Logger
	if log == nil {
		log = logger.Named("wallet")
	}
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	w := &Wallet{
		rpc:          client,
		eth:          ethclient.NewClient(client),
		passphrase:   cfg.Passphrase,
		pollInterval: interval,
		logger:       log,
		ctx:          ctx,
		cancel:       cancel,
		done:         make(chan struct{}),
	}
	if dir := strings.TrimSpace(cfg.KeystoreDir); dir != "" {
		w.keystore = keystore.NewKeyStore(dir, keystore.StandardScryptN, keystore.StandardScryptP)
	}
	return w
}

// WithKeystore replaces the local keystore used for signing.
func (w *Wallet) WithKeystore(ks *keystore.KeyStore, passphrase string) *Wallet {
	w.keystore = ks
	w.passphrase = passphrase
	return w
}

// Close stops the change watcher and releases the connection.
func (w *Wallet) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	watching := w.watching
	w.mu.Unlock()

	w.cancel()
	if watching {
		<-w.done
	}
	w.rpc.Close()
}

// RequestAccounts asks the wallet for account access, which may prompt the
// user. Endpoints that do not implement eth_requestAccounts fall back to
// eth_accounts.
func (w *Wallet) RequestAccounts(ctx context.Context) ([]common.Address, error) {
	var accounts []common.Address
	err := w.rpc.CallContext(ctx, &accounts, "eth_requestAccounts")
	if code, ok := web3.ErrorCodeOf(err); ok && code == codeMethodNotFound {
		return w.Accounts(ctx)
	}
	if err != nil {
		return nil, err
	}
	return accounts, nil
}

// Accounts returns the accounts already exposed to this dApp.
func (w *Wallet) Accounts(ctx context.Context) ([]common.Address, error) {
	var accounts []common.Address
	if err := w.rpc.CallContext(ctx, &accounts, "eth_accounts"); err != nil {
		return nil, err
	}
	if accounts == nil {
		accounts = []common.Address{}
	}
	return accounts, nil
}

// ChainID returns the chain the wallet is currently connected to.
func (w *Wallet) ChainID(ctx context.Context) (*big.Int, error) {
	var id hexutil.Big
	if err := w.rpc.CallContext(ctx, &id, "eth_chainId"); err != nil {
		return nil, err
	}
	return id.ToInt(), nil
}

// SwitchChain issues wallet_switchEthereumChain.
func (w *Wallet) SwitchChain(ctx context.Context, chainID *big.Int) error {
	if chainID == nil {
		return errors.New("chain id is required")
	}
	params := web3.SwitchChainParams{ChainID: (*hexutil.Big)(chainID)}
	return w.rpc.CallContext(ctx, nil, "wallet_switchEthereumChain", params)
}

// AddChain issues wallet_addEthereumChain with the descriptor's parameters.
func (w *Wallet) AddChain(ctx context.Context, network web3.NetworkDescriptor) error {
	return w.rpc.CallContext(ctx, nil, "wallet_addEthereumChain", network.AddChainParams())
}

// CodeAt returns the deployed bytecode at address on the latest block.
func (w *Wallet) CodeAt(ctx context.Context, address common.Address) ([]byte, error) {
	return w.eth.CodeAt(ctx, address, nil)
}

// SubscribeAccountsChanged delivers the new account list whenever it changes.
func (w *Wallet) SubscribeAccountsChanged(ch chan<- []common.Address) gethevent.Subscription {
	w.startWatching()
	return w.accountsFeed.Subscribe(ch)
}

// SubscribeChainChanged delivers the new chain ID whenever it changes.
func (w *Wallet) SubscribeChainChanged(ch chan<- *big.Int) gethevent.Subscription {
	w.startWatching()
	return w.chainFeed.Subscribe(ch)
}
