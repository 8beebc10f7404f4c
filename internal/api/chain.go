package api

import (
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"BloodBank-Chain/internal/bloodbank"
	"BloodBank-Chain/internal/chainevents"
)

type transactionResponse struct {
	TransactionHash common.Hash `json:"transactionHash"`
	BlockNumber     uint64      `json:"blockNumber"`
	Amount          *big.Int    `json:"amount"`
	Account         string      `json:"account"`
}

type eventsResponse struct {
	Watcher *chainevents.Status       `json:"watcher,omitempty"`
	Events  chainevents.StatsSnapshot `json:"events"`
}

// contract 返回已连接会话的合约句柄，未连接时写入错误并返回 nil。
func (s *Server) contract(w http.ResponseWriter, r *http.Request) *bloodbank.Contract {
	if !s.walletReady(w, r) {
		return nil
	}
	c, err := s.wallet.Contract()
	if err != nil {
		s.walletFailure(w, r, err)
		return nil
	}
	return c
}

func (s *Server) handleChainDonate(w http.ResponseWriter, r *http.Request) {
	var form bloodbank.DonationForm
	if err := decodeJSON(w, r, &form); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	if err := form.Validate(); err != nil {
		s.walletFailure(w, r, err)
		return
	}
	c := s.contract(w, r)
	if c == nil {
		return
	}
	tx, err := c.Donate(r.Context(), form)
	if err != nil {
		s.walletFailure(w, r, err)
		return
	}
	s.respondMined(w, r, c, tx, form.Amount())
}

func (s *Server) handleChainRequest(w http.ResponseWriter, r *http.Request) {
	var form bloodbank.RequestForm
	if err := decodeJSON(w, r, &form); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	if err := form.Validate(); err != nil {
		s.walletFailure(w, r, err)
		return
	}
	c := s.contract(w, r)
	if c == nil {
		return
	}
	tx, err := c.RequestBlood(r.Context(), form)
	if err != nil {
		s.walletFailure(w, r, err)
		return
	}
	s.respondMined(w, r, c, tx, form.Amount())
}

// respondMined 等待交易上链后返回回执摘要。
func (s *Server) respondMined(w http.ResponseWriter, r *http.Request, c *bloodbank.Contract, tx *types.Transaction, amount *big.Int) {
	receipt, err := c.WaitMined(r.Context(), tx)
	if err != nil {
		s.walletFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, transactionResponse{
		TransactionHash: receipt.TxHash,
		BlockNumber:     receipt.BlockNumber.Uint64(),
		Amount:          amount,
		Account:         c.Account().Hex(),
	})
}

func (s *Server) handleChainStats(w http.ResponseWriter, r *http.Request) {
	c := s.contract(w, r)
	if c == nil {
		return
	}
	stats, err := c.Stats(r.Context())
	if err != nil {
		s.walletFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleChainInventory(w http.ResponseWriter, r *http.Request) {
	c := s.contract(w, r)
	if c == nil {
		return
	}
	levels, err := c.Inventory(r.Context())
	if err != nil {
		s.walletFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, levels)
}

func (s *Server) handleChainEvents(w http.ResponseWriter, r *http.Request) {
	if c := s.contract(w, r); c == nil {
		return
	}
	var resp eventsResponse
	if s.events != nil {
		resp.Events = s.events.Snapshot()
	}
	if s.watcher != nil {
		status := s.watcher.Status()
		resp.Watcher = &status
	}
	writeJSON(w, http.StatusOK, resp)
}
