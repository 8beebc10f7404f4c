package session

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"math/big"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"BloodBank-Chain/internal/bloodbank/bloodbanktest"
	xerrors "BloodBank-Chain/internal/errors"
	"BloodBank-Chain/internal/web3"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/event"
)

var expectedChain = big.NewInt(31337)

// fakeProvider is a scripted wallet backed by the in-memory contract chain.
type fakeProvider struct {
	backend *bloodbanktest.Backend

	mu            sync.Mutex
	keys          map[common.Address]*ecdsa.PrivateKey
	accounts      []common.Address
	authorized    bool
	chainID       *big.Int
	known         map[string]bool
	switchErr     error
	switchLands   *big.Int
	rejectRequest bool
	requestGate   chan struct{}
	calls         []string
	prompts       int

	accountsFeed event.FeedOf[[]common.Address]
	chainFeed    event.FeedOf[*big.Int]
	accountSubs  atomic.Int32
	chainSubs    atomic.Int32
}

func newFakeProvider(t *testing.T, accounts int) *fakeProvider {
	t.Helper()
	p := &fakeProvider{
		backend: bloodbanktest.NewBackend(expectedChain),
		keys:    map[common.Address]*ecdsa.PrivateKey{},
		chainID: new(big.Int).Set(expectedChain),
		known:   map[string]bool{expectedChain.String(): true, "1": true},
	}
	for i := 0; i < accounts; i++ {
		key, err := crypto.GenerateKey()
		if err != nil {
			t.Fatalf("generate key: %v", err)
		}
		addr := crypto.PubkeyToAddress(key.PublicKey)
		p.keys[addr] = key
		p.accounts = append(p.accounts, addr)
	}
	return p
}

func (p *fakeProvider) record(call string) {
	p.calls = append(p.calls, call)
}

func (p *fakeProvider) RequestAccounts(context.Context) ([]common.Address, error) {
	p.mu.Lock()
	p.record("requestAccounts")
	p.prompts++
	gate := p.requestGate
	p.mu.Unlock()

	if gate != nil {
		<-gate
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.rejectRequest {
		return nil, &web3.ProviderError{Code: web3.CodeUserRejected, Message: "User rejected the request."}
	}
	p.authorized = true
	return append([]common.Address(nil), p.accounts...), nil
}

func (p *fakeProvider) Accounts(context.Context) ([]common.Address, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("accounts")
	if !p.authorized {
		return []common.Address{}, nil
	}
	return append([]common.Address(nil), p.accounts...), nil
}

func (p *fakeProvider) ChainID(context.Context) (*big.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("chainId")
	return new(big.Int).Set(p.chainID), nil
}

func (p *fakeProvider) SwitchChain(_ context.Context, id *big.Int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("switchChain")
	if p.switchErr != nil {
		return p.switchErr
	}
	if !p.known[id.String()] {
		return &web3.ProviderError{Code: web3.CodeUnrecognizedChain, Message: "Unrecognized chain ID"}
	}
	p.chainID = new(big.Int).Set(id)
	if p.switchLands != nil {
		p.chainID = new(big.Int).Set(p.switchLands)
	}
	return nil
}

func (p *fakeProvider) AddChain(_ context.Context, network web3.NetworkDescriptor) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("addChain")
	p.known[network.ChainID().String()] = true
	p.chainID = network.ChainID()
	return nil
}

func (p *fakeProvider) Signer(_ context.Context, account common.Address) (*web3.Signer, error) {
	p.mu.Lock()
	key := p.keys[account]
	p.record("signer")
	p.mu.Unlock()
	return p.backend.SignerFor(key)
}

func (p *fakeProvider) CodeAt(ctx context.Context, address common.Address) ([]byte, error) {
	p.mu.Lock()
	p.record("getCode")
	p.mu.Unlock()
	return p.backend.CodeAt(ctx, address, nil)
}

type countingSub struct {
	event.Subscription
	counter *atomic.Int32
	once    sync.Once
}

func (s *countingSub) Unsubscribe() {
	s.once.Do(func() { s.counter.Add(-1) })
	s.Subscription.Unsubscribe()
}

func (p *fakeProvider) SubscribeAccountsChanged(ch chan<- []common.Address) event.Subscription {
	p.accountSubs.Add(1)
	return &countingSub{Subscription: p.accountsFeed.Subscribe(ch), counter: &p.accountSubs}
}

func (p *fakeProvider) SubscribeChainChanged(ch chan<- *big.Int) event.Subscription {
	p.chainSubs.Add(1)
	return &countingSub{Subscription: p.chainFeed.Subscribe(ch), counter: &p.chainSubs}
}

func (p *fakeProvider) set(fn func(p *fakeProvider)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn(p)
}

func (p *fakeProvider) promptCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.prompts
}

func (p *fakeProvider) callIndex(call string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, c := range p.calls {
		if c == call {
			return i
		}
	}
	return -1
}

func (p *fakeProvider) emitAccounts(accounts ...common.Address) {
	p.set(func(p *fakeProvider) { p.accounts = accounts })
	p.accountsFeed.Send(append([]common.Address{}, accounts...))
}

func (p *fakeProvider) emitChain(id int64) {
	p.set(func(p *fakeProvider) { p.chainID = big.NewInt(id) })
	p.chainFeed.Send(big.NewInt(id))
}

func newTestManager(t *testing.T, provider web3.Provider, mutate func(*Options)) *Manager {
	t.Helper()
	opts := Options{
		Network:         web3.DefaultNetwork(),
		ContractAddress: bloodbanktest.ContractAddress.Hex(),
	}
	if mutate != nil {
		mutate(&opts)
	}
	m := NewManager(provider, opts)
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(m.Close)
	return m
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", what)
}

func waitState(t *testing.T, m *Manager, state State) Session {
	t.Helper()
	waitFor(t, "state "+string(state), func() bool { return m.Session().State == state })
	return m.Session()
}

func assertInvariant(t *testing.T, s Session) {
	t.Helper()
	if s.Contract == nil {
		return
	}
	if s.Account == nil {
		t.Fatalf("contract without account in snapshot %d", s.Version)
	}
	if s.ChainID == nil || s.ChainID.Cmp(expectedChain) != 0 {
		t.Fatalf("contract on chain %v in snapshot %d", s.ChainID, s.Version)
	}
}

func connectCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestConnectHappyPath(t *testing.T) {
	t.Parallel()

	provider := newFakeProvider(t, 1)
	m := newTestManager(t, provider, nil)
	initial := waitState(t, m, StateDisconnected)
	if initial.Account != nil || initial.Contract != nil || !initial.IsMetaMaskInstalled {
		t.Fatalf("unexpected initial session %+v", initial)
	}

	if err := m.Connect(connectCtx(t)); err != nil {
		t.Fatalf("connect: %v", err)
	}
	s := m.Session()
	if s.State != StateConnected || s.Account == nil || *s.Account != provider.accounts[0] {
		t.Fatalf("unexpected session %+v", s)
	}
	if s.Contract == nil || s.Contract.Account() != provider.accounts[0] {
		t.Fatalf("expected contract bound to the connected account")
	}
	if s.NetworkError != "" {
		t.Fatalf("unexpected network error %q", s.NetworkError)
	}
	assertInvariant(t, s)

	contract, err := m.Contract()
	if err != nil || contract != s.Contract {
		t.Fatalf("Contract() = %v, %v", contract, err)
	}
}

func TestConnectIsIdempotent(t *testing.T) {
	t.Parallel()

	provider := newFakeProvider(t, 1)
	m := newTestManager(t, provider, nil)
	waitState(t, m, StateDisconnected)

	for i := 0; i < 3; i++ {
		if err := m.Connect(connectCtx(t)); err != nil {
			t.Fatalf("connect %d: %v", i, err)
		}
	}
	if provider.promptCount() != 1 {
		t.Fatalf("expected a single account prompt, got %d", provider.promptCount())
	}
}

func TestConnectSwitchesNetworkBeforeRequestingAccounts(t *testing.T) {
	t.Parallel()

	provider := newFakeProvider(t, 1)
	provider.set(func(p *fakeProvider) { p.chainID = big.NewInt(1) })
	m := newTestManager(t, provider, nil)
	s := waitState(t, m, StateWrongNetwork)
	if !strings.Contains(s.NetworkError, "0x7a69") {
		t.Fatalf("expected recoverable network error, got %q", s.NetworkError)
	}

	if err := m.Connect(connectCtx(t)); err != nil {
		t.Fatalf("connect: %v", err)
	}
	switchAt, requestAt := provider.callIndex("switchChain"), provider.callIndex("requestAccounts")
	if switchAt < 0 || requestAt < 0 || switchAt > requestAt {
		t.Fatalf("expected switchChain before requestAccounts, calls: %v", provider.calls)
	}
	s = m.Session()
	if s.State != StateConnected || s.ChainID.Cmp(expectedChain) != 0 {
		t.Fatalf("unexpected session %+v", s)
	}
	assertInvariant(t, s)
}

func TestConnectAddsUnrecognizedNetwork(t *testing.T) {
	t.Parallel()

	provider := newFakeProvider(t, 1)
	provider.set(func(p *fakeProvider) {
		p.chainID = big.NewInt(1)
		delete(p.known, expectedChain.String())
	})
	m := newTestManager(t, provider, nil)
	waitState(t, m, StateWrongNetwork)

	if err := m.Connect(connectCtx(t)); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if provider.callIndex("addChain") < 0 {
		t.Fatalf("expected addChain after 4902, calls: %v", provider.calls)
	}
	if m.Session().State != StateConnected {
		t.Fatalf("expected connected, got %s", m.Session().State)
	}
}

func TestSwitchFailureStaysOnWrongNetwork(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		script  func(p *fakeProvider)
		message string
	}{
		{
			name: "switch error",
			script: func(p *fakeProvider) {
				p.switchErr = &web3.ProviderError{Code: -32603, Message: "internal error"}
			},
			message: "internal error",
		},
		{
			name: "user rejected switch",
			script: func(p *fakeProvider) {
				p.switchErr = &web3.ProviderError{Code: web3.CodeUserRejected, Message: "User rejected the request."}
			},
			message: "User rejected the request.",
		},
		{
			name:    "switch does not land",
			script:  func(p *fakeProvider) { p.switchLands = big.NewInt(1) },
			message: "Failed to switch network",
		},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			provider := newFakeProvider(t, 1)
			provider.set(func(p *fakeProvider) { p.chainID = big.NewInt(1) })
			provider.set(tc.script)
			m := newTestManager(t, provider, nil)
			waitState(t, m, StateWrongNetwork)

			err := m.Connect(connectCtx(t))
			if xerrors.CodeOf(err) != CodeNetworkSwitchFailed {
				t.Fatalf("expected NETWORK_SWITCH_FAILED, got %v", err)
			}
			s := m.Session()
			if s.State != StateWrongNetwork || s.Contract != nil || s.Account != nil {
				t.Fatalf("unexpected session %+v", s)
			}
			if s.ChainID == nil || s.ChainID.Cmp(big.NewInt(1)) != 0 {
				t.Fatalf("expected chain 1 to be kept, got %v", s.ChainID)
			}
			if !strings.Contains(s.NetworkError, tc.message) {
				t.Fatalf("expected network error containing %q, got %q", tc.message, s.NetworkError)
			}
			if provider.promptCount() != 0 {
				t.Fatalf("accounts must not be requested on the wrong network")
			}
		})
	}
}

func TestConnectFailures(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		script  func(p *fakeProvider)
		opts    func(o *Options)
		code    xerrors.Code
		message string
	}{
		{
			name:    "user rejected",
			script:  func(p *fakeProvider) { p.rejectRequest = true },
			code:    CodeUserRejected,
			message: "Connection rejected. Please try again.",
		},
		{
			name:    "contract not deployed",
			script:  func(p *fakeProvider) { p.backend.SetCode(bloodbanktest.ContractAddress, nil) },
			code:    CodeContractNotDeployed,
			message: "Contract not deployed",
		},
		{
			name:    "contract address missing",
			opts:    func(o *Options) { o.ContractAddress = "" },
			code:    CodeContractAddressMissing,
			message: "Contract address not found",
		},
		{
			name:    "no accounts",
			script:  func(p *fakeProvider) { p.accounts = nil },
			code:    CodeConnectFailure,
			message: "Failed to connect: No accounts found",
		},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			provider := newFakeProvider(t, 1)
			if tc.script != nil {
				provider.set(tc.script)
			}
			m := newTestManager(t, provider, tc.opts)
			waitState(t, m, StateDisconnected)

			err := m.Connect(connectCtx(t))
			if xerrors.CodeOf(err) != tc.code {
				t.Fatalf("expected %s, got %v", tc.code, err)
			}
			s := m.Session()
			if s.State != StateDisconnected || s.Contract != nil || s.Account != nil {
				t.Fatalf("unexpected session %+v", s)
			}
			if s.NetworkError != tc.message {
				t.Fatalf("expected network error %q, got %q", tc.message, s.NetworkError)
			}
		})
	}
}

func TestNoWalletInstalled(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, nil, nil)
	s := waitState(t, m, StateDisconnected)
	if s.IsMetaMaskInstalled {
		t.Fatalf("expected isMetaMaskInstalled=false")
	}
	err := m.Connect(connectCtx(t))
	if xerrors.CodeOf(err) != CodeNoWalletInstalled {
		t.Fatalf("expected NO_WALLET_INSTALLED, got %v", err)
	}
	if m.Session().NetworkError != "Please install MetaMask to use this application" {
		t.Fatalf("unexpected network error %q", m.Session().NetworkError)
	}
}

func TestAccountsChangedEmptyDisconnects(t *testing.T) {
	t.Parallel()

	prior := map[string]func(t *testing.T, p *fakeProvider, m *Manager){
		"connected": func(t *testing.T, _ *fakeProvider, m *Manager) {
			if err := m.Connect(connectCtx(t)); err != nil {
				t.Fatalf("connect: %v", err)
			}
		},
		"wrong network": func(t *testing.T, p *fakeProvider, m *Manager) {
			p.set(func(p *fakeProvider) { p.switchErr = &web3.ProviderError{Code: -32603, Message: "boom"} })
			p.emitChain(1)
			waitState(t, m, StateWrongNetwork)
		},
		"disconnected": func(*testing.T, *fakeProvider, *Manager) {},
	}
	for name, setup := range prior {
		name, setup := name, setup
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			provider := newFakeProvider(t, 1)
			m := newTestManager(t, provider, nil)
			waitState(t, m, StateDisconnected)
			setup(t, provider, m)
			before := m.Session()

			provider.emitAccounts()
			waitFor(t, "disconnect after empty accounts", func() bool {
				s := m.Session()
				return s.State == StateDisconnected && s.Version > before.Version
			})
			s := m.Session()
			if s.Account != nil || s.Contract != nil {
				t.Fatalf("expected cleared session, got %+v", s)
			}
			if before.Contract != nil && before.Contract.Valid() {
				t.Fatalf("previous contract handle must be invalidated")
			}
		})
	}
}

func TestAccountsChangedReplacesHandle(t *testing.T) {
	t.Parallel()

	provider := newFakeProvider(t, 2)
	first, second := provider.accounts[0], provider.accounts[1]
	m := newTestManager(t, provider, nil)
	waitState(t, m, StateDisconnected)
	if err := m.Connect(connectCtx(t)); err != nil {
		t.Fatalf("connect: %v", err)
	}
	old := m.Session().Contract

	provider.emitAccounts(second, first)
	waitFor(t, "reconnect with second account", func() bool {
		s := m.Session()
		return s.State == StateConnected && s.Account != nil && *s.Account == second
	})
	s := m.Session()
	if s.Contract == old || s.Contract.Account() != second {
		t.Fatalf("expected a new handle for the new account")
	}
	if old.Valid() {
		t.Fatalf("old handle must be invalidated on account change")
	}
	if provider.promptCount() != 1 {
		t.Fatalf("account change must not prompt again, got %d prompts", provider.promptCount())
	}
}

func TestChainChangedReloads(t *testing.T) {
	t.Parallel()

	var reloads atomic.Int32
	provider := newFakeProvider(t, 1)
	m := newTestManager(t, provider, func(o *Options) {
		o.AutoConnect = true
		o.OnReload = func() { reloads.Add(1) }
	})
	waitState(t, m, StateDisconnected)
	if err := m.Connect(connectCtx(t)); err != nil {
		t.Fatalf("connect: %v", err)
	}
	old := m.Session().Contract

	provider.set(func(p *fakeProvider) { p.switchErr = &web3.ProviderError{Code: -32603, Message: "internal error"} })
	provider.emitChain(1)
	waitFor(t, "reload", func() bool { return reloads.Load() == 1 })
	if old.Valid() {
		t.Fatalf("handle must be invalidated by a chain change")
	}
	s := waitState(t, m, StateWrongNetwork)
	if s.Contract != nil {
		t.Fatalf("no handle may be live on the wrong chain")
	}

	provider.set(func(p *fakeProvider) { p.switchErr = nil })
	provider.emitChain(31337)
	waitFor(t, "silent reconnect", func() bool { return m.Session().Connected() })
	if reloads.Load() != 2 {
		t.Fatalf("expected two reloads, got %d", reloads.Load())
	}
	if m.Session().Contract == old {
		t.Fatalf("expected a fresh handle after reload")
	}
	if provider.promptCount() != 1 {
		t.Fatalf("silent reconnect must not prompt, got %d prompts", provider.promptCount())
	}
}

func TestConcurrentConnectsCoalesce(t *testing.T) {
	t.Parallel()

	provider := newFakeProvider(t, 1)
	gate := make(chan struct{})
	provider.set(func(p *fakeProvider) { p.requestGate = gate })
	m := newTestManager(t, provider, nil)
	waitState(t, m, StateDisconnected)

	const callers = 5
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		go func() { errs <- m.Connect(context.Background()) }()
	}
	waitFor(t, "prompt", func() bool { return provider.promptCount() == 1 })
	close(gate)

	for i := 0; i < callers; i++ {
		if err := <-errs; err != nil {
			t.Fatalf("connect: %v", err)
		}
	}
	if provider.promptCount() != 1 {
		t.Fatalf("expected one prompt for concurrent callers, got %d", provider.promptCount())
	}
}

func TestDisconnectSupersedesInflightConnect(t *testing.T) {
	t.Parallel()

	provider := newFakeProvider(t, 1)
	gate := make(chan struct{})
	provider.set(func(p *fakeProvider) { p.requestGate = gate })
	m := newTestManager(t, provider, nil)
	waitState(t, m, StateDisconnected)

	errCh := make(chan error, 1)
	go func() { errCh <- m.Connect(context.Background()) }()
	waitFor(t, "prompt", func() bool { return provider.promptCount() == 1 })

	m.Disconnect()
	if s := m.Session(); s.State != StateDisconnected {
		t.Fatalf("disconnect must apply immediately, got %s", s.State)
	}
	close(gate)

	if err := <-errCh; xerrors.CodeOf(err) != CodeSuperseded {
		t.Fatalf("expected superseded attempt, got %v", err)
	}
	s := m.Session()
	if s.State != StateDisconnected || s.Contract != nil || s.Account != nil {
		t.Fatalf("late result must be discarded, got %+v", s)
	}
}

func TestNotificationsQueuedDuringConnect(t *testing.T) {
	t.Parallel()

	provider := newFakeProvider(t, 1)
	gate := make(chan struct{})
	provider.set(func(p *fakeProvider) { p.requestGate = gate })
	m := newTestManager(t, provider, nil)
	waitState(t, m, StateDisconnected)

	errCh := make(chan error, 1)
	go func() { errCh <- m.Connect(context.Background()) }()
	waitFor(t, "prompt", func() bool { return provider.promptCount() == 1 })

	provider.accountsFeed.Send([]common.Address{})
	if s := m.Session(); s.State != StateChecking {
		t.Fatalf("notification must wait for the in-flight connect, got %s", s.State)
	}
	close(gate)

	if err := <-errCh; err != nil {
		t.Fatalf("connect: %v", err)
	}
	waitState(t, m, StateDisconnected)
}

func TestListenersAreScopedToStartAndClose(t *testing.T) {
	t.Parallel()

	provider := newFakeProvider(t, 1)
	m := NewManager(provider, Options{Network: web3.DefaultNetwork()})

	for round := 0; round < 2; round++ {
		if err := m.Start(context.Background()); err != nil {
			t.Fatalf("start round %d: %v", round, err)
		}
		if err := m.Start(context.Background()); err != ErrAlreadyStarted {
			t.Fatalf("expected ErrAlreadyStarted, got %v", err)
		}
		if provider.accountSubs.Load() != 1 || provider.chainSubs.Load() != 1 {
			t.Fatalf("expected one listener each, got %d/%d", provider.accountSubs.Load(), provider.chainSubs.Load())
		}
		m.Close()
		if provider.accountSubs.Load() != 0 || provider.chainSubs.Load() != 0 {
			t.Fatalf("listeners leaked after close: %d/%d", provider.accountSubs.Load(), provider.chainSubs.Load())
		}
	}
	if err := m.Connect(context.Background()); err != ErrNotStarted {
		t.Fatalf("expected ErrNotStarted after close, got %v", err)
	}
}

func TestInvariantHoldsAcrossRandomSequences(t *testing.T) {
	t.Parallel()

	provider := newFakeProvider(t, 2)
	m := newTestManager(t, provider, func(o *Options) { o.AutoConnect = true })

	snapshots := make(chan Session, 64)
	sub := m.Subscribe(snapshots)
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		violated []Session
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		for s := range snapshots {
			if s.Contract != nil && (s.Account == nil || s.ChainID == nil || s.ChainID.Cmp(expectedChain) != 0) {
				mu.Lock()
				violated = append(violated, s)
				mu.Unlock()
			}
		}
	}()

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 60; i++ {
		switch rng.Intn(5) {
		case 0:
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			_ = m.Connect(ctx)
			cancel()
		case 1:
			m.Disconnect()
		case 2:
			provider.emitAccounts(provider.keysOrder(rng.Intn(2))...)
		case 3:
			provider.emitAccounts()
		case 4:
			if rng.Intn(2) == 0 {
				provider.emitChain(1)
			} else {
				provider.emitChain(31337)
			}
		}
		assertInvariant(t, m.Session())
	}

	m.Close()
	sub.Unsubscribe()
	close(snapshots)
	wg.Wait()
	if len(violated) > 0 {
		t.Fatalf("invariant violated in %d snapshots, first: %+v", len(violated), violated[0])
	}
}

func (p *fakeProvider) keysOrder(first int) []common.Address {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := append([]common.Address(nil), p.accounts...)
	if first < len(out) {
		out[0], out[first] = out[first], out[0]
	}
	return out
}

func TestKeysOrderIsStable(t *testing.T) {
	t.Parallel()

	provider := newFakeProvider(t, 3)
	for i := 0; i < 5; i++ {
		got := provider.keysOrder(0)
		for j, addr := range provider.accounts {
			if got[j] != addr {
				t.Fatalf("round %d: position %d is %s, want %s", i, j, got[j].Hex(), addr.Hex())
			}
		}
	}
	swapped := provider.keysOrder(1)
	if swapped[0] != provider.accounts[1] || swapped[1] != provider.accounts[0] || swapped[2] != provider.accounts[2] {
		t.Fatalf("unexpected order %v", swapped)
	}
}

func TestSessionJSON(t *testing.T) {
	t.Parallel()

	raw, err := json.Marshal(Session{State: StateDisconnected, IsMetaMaskInstalled: true})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	body := string(raw)
	for _, want := range []string{`"account":null`, `"contract":null`, `"networkError":null`, `"isMetaMaskInstalled":true`, `"state":"disconnected"`} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %s in %s", want, body)
		}
	}

	account := common.HexToAddress("0xabc0000000000000000000000000000000000001")
	raw, _ = json.Marshal(Session{Account: &account, NetworkError: "boom", ChainID: big.NewInt(31337)})
	body = string(raw)
	if !strings.Contains(body, `"chainId":"0x7a69"`) || !strings.Contains(body, `"networkError":"boom"`) {
		t.Fatalf("unexpected json %s", body)
	}
}
