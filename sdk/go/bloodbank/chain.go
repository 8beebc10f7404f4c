package bloodbank

import (
	"context"
	"math/big"
	"net/http"
	"time"
)

// Session states reported by the daemon.
const (
	StateUninitialized = "uninitialized"
	StateChecking      = "checking"
	StateDisconnected  = "disconnected"
	StateWrongNetwork  = "wrong_network"
	StateConnected     = "connected"
)

// Session is a snapshot of the daemon's wallet session.
type Session struct {
	Account             *string `json:"account"`
	Contract            *string `json:"contract"`
	NetworkError        *string `json:"networkError"`
	IsMetaMaskInstalled bool    `json:"isMetaMaskInstalled"`
	State               string  `json:"state"`
	ChainID             *string `json:"chainId"`
	Version             uint64  `json:"version"`
}

// Connected reports whether the session can sign contract calls.
func (s Session) Connected() bool {
	return s.State == StateConnected && s.Contract != nil
}

// ConnectResult is returned by Connect. Error and Code are set when the
// attempt failed; Session still carries the resulting snapshot.
type ConnectResult struct {
	Session Session `json:"session"`
	Error   string  `json:"error,omitempty"`
	Code    string  `json:"code,omitempty"`
}

// DonationForm is submitted to the contract's donateBlood.
type DonationForm struct {
	BloodType string `json:"bloodType"`
	DonorName string `json:"donorName"`
	Age       int    `json:"age"`
	Contact   string `json:"contact"`
}

// RequestForm is submitted to the contract's requestBlood. Age is required.
type RequestForm struct {
	BloodType     string `json:"bloodType"`
	Units         int    `json:"units"`
	RecipientName string `json:"recipientName"`
	Age           *int   `json:"age"`
	Contact       string `json:"contact"`
	Hospital      string `json:"hospital"`
	Reason        string `json:"reason"`
}

// Transaction summarises a mined contract call.
type Transaction struct {
	TransactionHash string   `json:"transactionHash"`
	BlockNumber     uint64   `json:"blockNumber"`
	Amount          *big.Int `json:"amount"`
	Account         string   `json:"account"`
}

// ChainStats are the contract's running totals.
type ChainStats struct {
	TotalDonors    *big.Int `json:"totalDonors"`
	TotalDonations *big.Int `json:"totalDonations"`
	TotalRequests  *big.Int `json:"totalRequests"`
}

// InventoryLevel is the on-chain stock of one blood type.
type InventoryLevel struct {
	BloodType string   `json:"type"`
	Quantity  *big.Int `json:"quantity"`
	Units     int64    `json:"units"`
	Error     string   `json:"error,omitempty"`
}

// ChainEvent is a decoded contract event.
type ChainEvent struct {
	Kind        string   `json:"kind"`
	Contract    string   `json:"contract"`
	Actor       string   `json:"actor"`
	Name        string   `json:"name,omitempty"`
	BloodType   string   `json:"bloodType,omitempty"`
	Amount      *big.Int `json:"amount,omitempty"`
	Timestamp   uint64   `json:"timestamp,omitempty"`
	TxHash      string   `json:"txHash"`
	BlockNumber uint64   `json:"blockNumber"`
	LogIndex    uint     `json:"logIndex"`
	Removed     bool     `json:"removed,omitempty"`
}

// EventEnvelope is a chain event as it passed through the event queue.
type EventEnvelope struct {
	ID         string     `json:"id"`
	ReceivedAt time.Time  `json:"receivedAt"`
	Event      ChainEvent `json:"event"`
}

// WatcherStatus describes how the daemon is following contract events.
type WatcherStatus struct {
	Mode     string  `json:"mode"`
	Contract *string `json:"contract"`
	Block    uint64  `json:"block"`
}

// EventReport combines the watcher status with the processed event counters.
type EventReport struct {
	Watcher *WatcherStatus `json:"watcher,omitempty"`
	Events  struct {
		Total      uint64            `json:"total"`
		Removed    uint64            `json:"removed"`
		Duplicates uint64            `json:"duplicates"`
		ByKind     map[string]uint64 `json:"byKind"`
		Last       *EventEnvelope    `json:"last"`
	} `json:"events"`
}

// Session returns the current wallet session snapshot.
func (c *Client) Session(ctx context.Context) (Session, error) {
	var out Session
	err := c.send(ctx, http.MethodGet, "/api/wallet/session", nil, nil, &out)
	return out, err
}

// Connect asks the daemon to connect its wallet. A rejected or failed
// attempt is returned as an *APIError.
func (c *Client) Connect(ctx context.Context) (ConnectResult, error) {
	var out ConnectResult
	err := c.send(ctx, http.MethodPost, "/api/wallet/connect", nil, nil, &out)
	return out, err
}

// Disconnect drops the daemon's wallet session.
func (c *Client) Disconnect(ctx context.Context) (Session, error) {
	var out ConnectResult
	err := c.send(ctx, http.MethodPost, "/api/wallet/disconnect", nil, nil, &out)
	return out.Session, err
}

// Donate submits a donation to the contract and waits until it is mined.
func (c *Client) Donate(ctx context.Context, form DonationForm) (Transaction, error) {
	var out Transaction
	err := c.send(ctx, http.MethodPost, "/api/chain/donations", nil, form, &out)
	return out, err
}

// RequestBlood submits a blood request to the contract and waits until it is mined.
func (c *Client) RequestBlood(ctx context.Context, form RequestForm) (Transaction, error) {
	var out Transaction
	err := c.send(ctx, http.MethodPost, "/api/chain/requests", nil, form, &out)
	return out, err
}

// ChainStats reads the contract totals.
func (c *Client) ChainStats(ctx context.Context) (ChainStats, error) {
	var out ChainStats
	err := c.send(ctx, http.MethodGet, "/api/chain/stats", nil, nil, &out)
	return out, err
}

// ChainInventory reads the on-chain quantity of every blood type.
func (c *Client) ChainInventory(ctx context.Context) ([]InventoryLevel, error) {
	var out []InventoryLevel
	err := c.send(ctx, http.MethodGet, "/api/chain/inventory", nil, nil, &out)
	return out, err
}

// ChainEvents reports the event watcher and its counters.
func (c *Client) ChainEvents(ctx context.Context) (EventReport, error) {
	var out EventReport
	err := c.send(ctx, http.MethodGet, "/api/chain/events", nil, nil, &out)
	return out, err
}
