package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"

	"BloodBank-Chain/internal/bloodbank"
	xerrors "BloodBank-Chain/internal/errors"
	"BloodBank-Chain/internal/observability/metrics"
	"BloodBank-Chain/internal/web3"
	"BloodBank-Chain/pkg/logger"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/event"
)

// ErrAlreadyStarted is returned by Start on a running manager.
var ErrAlreadyStarted = errors.New("session manager already started")

// ErrNotStarted is returned by Connect before Start or after Close.
var ErrNotStarted = xerrors.New(xerrors.CodeUnavailable, "session manager not started")

// Options configures a Manager.
type Options struct {
	// Network is the only chain the session accepts.
	Network web3.NetworkDescriptor
	// ContractAddress is the deployment-time contract address; empty is
	// reported as CONTRACT_ADDRESS_MISSING on connect.
	ContractAddress string
	// ABI defaults to the embedded BloodDonation ABI.
	ABI *abi.ABI
	// AutoConnect reconnects silently on start when the wallet already
	// exposes an authorised account.
	AutoConnect bool
	// OnReload runs after a chain change has reset the session and before it
	// is initialised again.
	OnReload func()
	Logger   *slog.Logger
}

// attempt is one interactive connect shared by all concurrent callers.
type attempt struct {
	done    chan struct{}
	err     error
	started bool
}

func (a *attempt) finish(err error) {
	a.err = err
	close(a.done)
}

// Manager owns the wallet session. All transitions run on a single loop
// goroutine; Disconnect is the only operation applied directly by callers.
type Manager struct {
	provider    web3.Provider
	network     web3.NetworkDescriptor
	address     string
	abi         abi.ABI
	autoConnect bool
	onReload    func()
	logger      *slog.Logger

	feed  event.FeedOf[Session]
	pubMu sync.Mutex

	mu       sync.Mutex
	session  Session
	gen      uint64
	version  uint64
	inflight *attempt
	running  bool

	cancel    context.CancelFunc
	connectCh chan struct{}
	done      chan struct{}
}

// NewManager builds a manager for provider. A nil provider models a browser
// without an injected wallet.
func NewManager(provider web3.Provider, opts Options) *Manager {
	log := opts.Logger
	if log == nil {
		log = logger.Named("session")
	}
	parsed := bloodbank.DefaultABI()
	if opts.ABI != nil {
		parsed = *opts.ABI
	}
	return &Manager{
		provider:    provider,
		network:     opts.Network,
		address:     strings.TrimSpace(opts.ContractAddress),
		abi:         parsed,
		autoConnect: opts.AutoConnect,
		onReload:    opts.OnReload,
		logger:      log,
		session:     Session{State: StateUninitialized},
	}
}

// Network returns the accepted network.
func (m *Manager) Network() web3.NetworkDescriptor { return m.network }

// Session returns the current snapshot.
func (m *Manager) Session() Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session.clone()
}

// Contract returns the live contract handle or a NOT_CONNECTED error.
func (m *Manager) Contract() (*bloodbank.Contract, error) {
	s := m.Session()
	if !s.Connected() {
		return nil, xerrors.New(CodeNotConnected, "")
	}
	return s.Contract, nil
}

// Subscribe delivers every published snapshot to ch. Subscribers must keep
// draining ch; publication waits for them.
func (m *Manager) Subscribe(ch chan<- Session) event.Subscription {
	return m.feed.Subscribe(ch)
}

// Start mounts the session: it registers exactly one accountsChanged and one
// chainChanged listener on the provider, then runs the initial probe. The
// listeners are released by Close.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return ErrAlreadyStarted
	}
	m.running = true
	loopCtx, cancel := context.WithCancel(ctx)
	connectCh := make(chan struct{}, 1)
	done := make(chan struct{})
	m.cancel, m.connectCh, m.done = cancel, connectCh, done
	m.mu.Unlock()

	var (
		accountsCh  chan []common.Address
		chainCh     chan *big.Int
		accountsSub event.Subscription
		chainSub    event.Subscription
	)
	if m.provider != nil {
		accountsCh = make(chan []common.Address, 8)
		chainCh = make(chan *big.Int, 8)
		accountsSub = m.provider.SubscribeAccountsChanged(accountsCh)
		chainSub = m.provider.SubscribeChainChanged(chainCh)
	}

	go m.loop(loopCtx, connectCh, done, accountsCh, chainCh, accountsSub, chainSub)
	return nil
}

// Close unmounts the session: both provider listeners are released, any
// pending connect fails and the contract handle is invalidated.
func (m *Manager) Close() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	cancel, done := m.cancel, m.done
	m.mu.Unlock()

	cancel()
	<-done

	m.abandonPending(ErrNotStarted)
	m.reset(StateDisconnected, nil)
}

// Connect drives the session to Connected. It returns nil immediately when
// already connected; concurrent callers share one attempt so the user is
// prompted at most once. ctx bounds only the caller's wait. Failures are
// also published as the session's NetworkError.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return ErrNotStarted
	}
	if m.session.State == StateConnected {
		m.mu.Unlock()
		return nil
	}
	a := m.inflight
	if a == nil {
		a = &attempt{done: make(chan struct{})}
		m.inflight = a
		select {
		case m.connectCh <- struct{}{}:
		default:
		}
	}
	m.mu.Unlock()

	select {
	case <-a.done:
		return a.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Disconnect clears the session unconditionally. A connect attempt still in
// flight is superseded: its result is discarded and its handle invalidated.
func (m *Manager) Disconnect() {
	m.abandonPending(xerrors.New(CodeSuperseded, ""))
	m.reset(StateDisconnected, nil)
	m.logger.Info("钱包已断开")
	logger.Audit().Info("wallet disconnected")
}

// abandonPending detaches the in-flight attempt so later callers start a new
// one. An attempt the loop has not picked up yet is failed with err; a running
// one settles on its own.
func (m *Manager) abandonPending(err error) {
	m.mu.Lock()
	pending := m.inflight
	m.inflight = nil
	waiting := pending != nil && !pending.started
	if waiting {
		pending.started = true
	}
	m.mu.Unlock()
	if waiting {
		pending.finish(err)
	}
}

func (m *Manager) loop(ctx context.Context, connectCh <-chan struct{}, done chan<- struct{},
	accountsCh <-chan []common.Address, chainCh <-chan *big.Int, accountsSub, chainSub event.Subscription) {
	defer close(done)

	var accountsErr, chainErr <-chan error
	if accountsSub != nil {
		defer accountsSub.Unsubscribe()
		accountsErr = accountsSub.Err()
	}
	if chainSub != nil {
		defer chainSub.Unsubscribe()
		chainErr = chainSub.Err()
	}

	m.initialize(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-connectCh:
			m.runAttempt(ctx)
		case accounts := <-accountsCh:
			m.handleAccountsChanged(ctx, accounts)
		case id := <-chainCh:
			m.handleChainChanged(ctx, id)
		case err := <-accountsErr:
			if err != nil {
				m.logger.Warn("accountsChanged 订阅中断", "error", err)
			}
			accountsErr = nil
		case err := <-chainErr:
			if err != nil {
				m.logger.Warn("chainChanged 订阅中断", "error", err)
			}
			chainErr = nil
		}
	}
}

// initialize is the mount-time probe: detect the wallet, check the chain and
// reconnect silently when an account is already authorised.
func (m *Manager) initialize(ctx context.Context) {
	gen := m.generation()
	if m.provider == nil {
		m.update(gen, func(s *Session) {
			s.State = StateDisconnected
			s.IsMetaMaskInstalled = false
		})
		return
	}
	m.update(gen, func(s *Session) {
		s.State = StateChecking
		s.IsMetaMaskInstalled = true
	})

	chainID, err := m.provider.ChainID(ctx)
	if err != nil {
		m.logger.Warn("检查网络失败", "error", err)
		m.update(gen, func(s *Session) { s.State = StateDisconnected })
		return
	}
	m.update(gen, func(s *Session) { s.ChainID = chainID })

	if m.autoConnect {
		accounts, err := m.provider.Accounts(ctx)
		if err != nil {
			m.logger.Warn("检查已授权账户失败", "error", err)
		}
		if len(accounts) > 0 {
			if err := m.connect(ctx, gen, false); err != nil {
				m.logger.Info("自动连接失败", "error", err)
			}
			return
		}
	}

	if !m.network.Matches(chainID) {
		m.update(gen, func(s *Session) {
			s.State = StateWrongNetwork
			s.NetworkError = m.wrongNetworkMessage(chainID)
		})
		return
	}
	m.update(gen, func(s *Session) { s.State = StateDisconnected })
}

func (m *Manager) runAttempt(ctx context.Context) {
	m.mu.Lock()
	a := m.inflight
	if a == nil || a.started {
		m.mu.Unlock()
		return
	}
	a.started = true
	connected := m.session.State == StateConnected
	gen := m.gen
	m.mu.Unlock()

	var err error
	if !connected {
		err = m.connect(ctx, gen, true)
	}

	m.mu.Lock()
	if m.inflight == a {
		m.inflight = nil
	}
	m.mu.Unlock()
	a.finish(err)
}

func (m *Manager) handleAccountsChanged(ctx context.Context, accounts []common.Address) {
	if len(accounts) == 0 {
		m.logger.Info("钱包账户已清空")
		m.reset(StateDisconnected, nil)
		logger.Audit().Info("wallet disconnected", "reason", "accountsChanged")
		return
	}

	current := m.Session()
	if current.Connected() && current.Account != nil && *current.Account == accounts[0] {
		return
	}
	m.logger.Info("钱包账户切换", "account", accounts[0].Hex())
	gen := m.reset(StateChecking, current.ChainID)
	if err := m.connect(ctx, gen, false); err != nil {
		m.logger.Info("账户切换后重新连接失败", "error", err)
	}
}

// handleChainChanged reloads the session: the handle is invalidated at once,
// the session is reset to what a fresh mount sees and the mount-time probe
// runs again.
func (m *Manager) handleChainChanged(ctx context.Context, chainID *big.Int) {
	m.logger.Info("检测到链切换，重新加载会话", "chain_id", chainID.String())
	m.reset(StateUninitialized, nil)
	if m.onReload != nil {
		m.onReload()
	}
	m.initialize(ctx)
}

// connect runs Checking → {WrongNetwork, Disconnected, Connected} for the
// given generation. interactive selects eth_requestAccounts over eth_accounts.
func (m *Manager) connect(ctx context.Context, gen uint64, interactive bool) error {
	err := m.connectFlow(ctx, gen, interactive)
	if err == nil {
		return nil
	}
	if xerrors.CodeOf(err) == CodeSuperseded {
		return err
	}
	m.logger.Warn("钱包连接失败", "code", xerrors.CodeOf(err), "error", err)
	state := StateDisconnected
	switch xerrors.CodeOf(err) {
	case CodeWrongNetwork, CodeNetworkSwitchFailed:
		state = StateWrongNetwork
	}
	if !m.update(gen, func(s *Session) {
		s.State = state
		s.Account = nil
		s.Contract = nil
		s.NetworkError = xerrors.MessageOf(err)
	}) {
		return xerrors.New(CodeSuperseded, "")
	}
	return err
}

func (m *Manager) connectFlow(ctx context.Context, gen uint64, interactive bool) error {
	if m.provider == nil {
		m.update(gen, func(s *Session) { s.IsMetaMaskInstalled = false })
		return xerrors.New(CodeNoWalletInstalled, "")
	}
	if !m.update(gen, func(s *Session) {
		s.State = StateChecking
		s.IsMetaMaskInstalled = true
		s.NetworkError = ""
	}) {
		return xerrors.New(CodeSuperseded, "")
	}

	chainID, err := m.provider.ChainID(ctx)
	if err != nil {
		return connectFailure(err)
	}
	if !m.network.Matches(chainID) {
		m.update(gen, func(s *Session) {
			s.State = StateWrongNetwork
			s.ChainID = chainID
			s.NetworkError = m.wrongNetworkMessage(chainID)
		})
		if err := m.switchNetwork(ctx); err != nil {
			return err
		}
		chainID, err = m.provider.ChainID(ctx)
		if err != nil {
			return connectFailure(err)
		}
		if !m.network.Matches(chainID) {
			return xerrors.New(CodeNetworkSwitchFailed, "",
				xerrors.WithMetadata("chain_id", chainID.String()))
		}
	}
	if !m.update(gen, func(s *Session) {
		s.State = StateChecking
		s.ChainID = chainID
		s.NetworkError = ""
	}) {
		return xerrors.New(CodeSuperseded, "")
	}

	var accounts []common.Address
	if interactive {
		accounts, err = m.provider.RequestAccounts(ctx)
	} else {
		accounts, err = m.provider.Accounts(ctx)
	}
	switch {
	case web3.IsUserRejected(err):
		return xerrors.Wrap(CodeUserRejected, err, "")
	case err != nil:
		return connectFailure(err)
	case len(accounts) == 0:
		return xerrors.New(CodeConnectFailure, "Failed to connect: No accounts found")
	}
	account := accounts[0]

	if m.address == "" {
		return xerrors.New(CodeContractAddressMissing, "")
	}
	if !common.IsHexAddress(m.address) {
		return xerrors.New(CodeContractAddressMissing, fmt.Sprintf("Contract address %q is invalid", m.address))
	}
	address := common.HexToAddress(m.address)

	signer, err := m.provider.Signer(ctx, account)
	if err != nil {
		if web3.IsUserRejected(err) {
			return xerrors.Wrap(CodeUserRejected, err, "")
		}
		return connectFailure(err)
	}
	code, err := m.provider.CodeAt(ctx, address)
	if err != nil {
		return connectFailure(err)
	}
	if len(code) == 0 {
		return xerrors.New(CodeContractNotDeployed, "", xerrors.WithMetadata("address", address.Hex()))
	}
	contract, err := bloodbank.NewContract(address, m.abi, signer)
	if err != nil {
		return connectFailure(err)
	}

	if !m.update(gen, func(s *Session) {
		s.State = StateConnected
		s.Account = &account
		s.Contract = contract
		s.ChainID = chainID
		s.NetworkError = ""
	}) {
		contract.Invalidate()
		return xerrors.New(CodeSuperseded, "")
	}
	m.logger.Info("钱包已连接", "account", account.Hex(), "chain_id", chainID.String())
	logger.Audit().Info("wallet connected", "account", account.Hex(), "contract", address.Hex())
	return nil
}

// switchNetwork asks the wallet to switch, adding the network first when the
// wallet does not know it. Every failure, a rejected prompt included, leaves
// the session on WrongNetwork.
func (m *Manager) switchNetwork(ctx context.Context) error {
	err := m.provider.SwitchChain(ctx, m.network.ChainID())
	if err == nil {
		return nil
	}
	if !web3.IsUnrecognizedChain(err) {
		return xerrors.Wrap(CodeNetworkSwitchFailed, err, walletMessage(err))
	}
	m.logger.Info("钱包未配置目标网络，尝试添加", "chain", m.network.ChainName)
	if err := m.provider.AddChain(ctx, m.network); err != nil {
		if web3.IsUserRejected(err) {
			return xerrors.Wrap(CodeNetworkSwitchFailed, err, walletMessage(err))
		}
		return xerrors.Wrap(CodeNetworkSwitchFailed, err, "Failed to add local network. Please try again.")
	}
	return nil
}

// walletMessage 返回钱包给出的错误文案，没有时使用错误码的默认文案。
func walletMessage(err error) string {
	if _, ok := web3.ErrorCodeOf(err); ok {
		return strings.TrimSpace(err.Error())
	}
	return ""
}

func (m *Manager) wrongNetworkMessage(chainID *big.Int) string {
	current := "unknown"
	if chainID != nil {
		current = "0x" + chainID.Text(16)
	}
	return fmt.Sprintf("Wrong network (%s). Please switch to %s (%s)", current, m.network.ChainName, m.network.ChainIDHex())
}

func (m *Manager) generation() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gen
}

// update applies mutate when gen is still current and publishes the result.
// It reports false when the generation was superseded.
func (m *Manager) update(gen uint64, mutate func(*Session)) bool {
	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		return false
	}
	next := m.session.clone()
	mutate(&next)
	m.commitLocked(next)
	return true
}

// reset clears account and contract, starts a new generation and publishes.
// It returns the new generation.
func (m *Manager) reset(state State, chainID *big.Int) uint64 {
	m.mu.Lock()
	m.gen++
	gen := m.gen
	next := Session{
		State:               state,
		IsMetaMaskInstalled: m.session.IsMetaMaskInstalled,
		ChainID:             chainID,
	}
	m.commitLocked(next)
	return gen
}

// commitLocked installs next as the session, enforcing the invariant that a
// contract implies an account on the expected chain, then publishes it. It
// must be called with mu held and releases it.
func (m *Manager) commitLocked(next Session) {
	if next.Contract != nil && (next.Account == nil || !m.network.Matches(next.ChainID) || !next.Contract.Valid()) {
		m.logger.Error("会话不变量被破坏，重置会话")
		next.Contract.Invalidate()
		next.Account = nil
		next.Contract = nil
		next.State = StateDisconnected
	}
	if prev := m.session.Contract; prev != nil && prev != next.Contract {
		prev.Invalidate()
	}
	m.version++
	next.Version = m.version
	m.session = next
	snapshot := next.clone()

	m.pubMu.Lock()
	m.mu.Unlock()
	defer m.pubMu.Unlock()

	metrics.ObserveSessionState(string(snapshot.State))
	m.feed.Send(snapshot)
}
