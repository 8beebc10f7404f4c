package ethereum

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// startWatching launches the poller that turns account and chain changes
// into feed notifications. The first observation is taken synchronously so
// changes made after a Subscribe call are never folded into the baseline.
func (w *Wallet) startWatching() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.watching || w.closed {
		return
	}
	w.watching = true

	var last walletState
	last.merge(w.observe())
	go w.watch(last)
}

// observation is one poll of the wallet. A failed call clears its ok flag;
// an empty account list with accountsOK set is a real disconnect.
type observation struct {
	accounts   []common.Address
	accountsOK bool
	chainID    *big.Int
	chainOK    bool
}

func (w *Wallet) observe() observation {
	ctx, cancel := context.WithTimeout(w.ctx, w.pollInterval+5*time.Second)
	defer cancel()

	var obs observation
	accounts, err := w.Accounts(ctx)
	if err != nil {
		w.logger.Debug("轮询账户失败", "error", err)
	} else {
		obs.accounts, obs.accountsOK = accounts, true
	}
	chainID, err := w.ChainID(ctx)
	if err != nil {
		w.logger.Debug("轮询链 ID 失败", "error", err)
	} else {
		obs.chainID, obs.chainOK = chainID, true
	}
	return obs
}

// walletState is the last successfully observed wallet state.
type walletState struct {
	accounts []common.Address
	chainID  *big.Int
}

// merge folds obs into s and reports which parts changed. A chain change is
// only reported once a previous chain is known.
func (s *walletState) merge(obs observation) (accountsChanged, chainChanged bool) {
	if obs.chainOK {
		if s.chainID != nil && s.chainID.Cmp(obs.chainID) != 0 {
			chainChanged = true
		}
		s.chainID = obs.chainID
	}
	if obs.accountsOK && !sameAccounts(s.accounts, obs.accounts) {
		accountsChanged = true
		s.accounts = obs.accounts
	}
	return accountsChanged, chainChanged
}

func (w *Wallet) watch(last walletState) {
	defer close(w.done)

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
		}

		prevChain := last.chainID
		obs := w.observe()
		if w.ctx.Err() != nil {
			return
		}
		accountsChanged, chainChanged := last.merge(obs)
		if chainChanged {
			w.logger.Info("检测到链切换", "from", prevChain.String(), "to", last.chainID.String())
			w.chainFeed.Send(new(big.Int).Set(last.chainID))
		}
		if accountsChanged {
			w.logger.Info("检测到账户变更", "accounts", len(last.accounts))
			w.accountsFeed.Send(append([]common.Address{}, last.accounts...))
		}
	}
}

func sameAccounts(a, b []common.Address) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
