package api

import (
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"BloodBank-Chain/internal/bloodbank"
	"BloodBank-Chain/internal/chainevents"
	xerrors "BloodBank-Chain/internal/errors"
	"BloodBank-Chain/internal/session"
)

const validDonation = `{"bloodType":"A+","donorName":"Ada","age":30,"contact":"0123456789"}`

func TestWalletRoutesWithoutSession(t *testing.T) {
	h := newTestServer(t, nil)
	rec := do(t, h, http.MethodGet, "/api/wallet/session", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without wallet, got %d", rec.Code)
	}
}

func TestConnectAndDisconnect(t *testing.T) {
	connected, _ := connectedSession(t)
	wallet := &fakeWallet{
		current:   session.Session{State: session.StateDisconnected, IsMetaMaskInstalled: true},
		connected: connected,
	}
	h := newTestServer(t, wallet)

	rec := do(t, h, http.MethodPost, "/api/wallet/connect", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("connect: %d %s", rec.Code, rec.Body.String())
	}
	body := decodeBody[map[string]map[string]any](t, rec)
	if body["session"]["state"] != string(session.StateConnected) || body["session"]["contract"] == nil {
		t.Fatalf("unexpected session: %+v", body)
	}

	rec = do(t, h, http.MethodGet, "/api/wallet/session", "")
	if got := decodeBody[map[string]any](t, rec); got["state"] != string(session.StateConnected) {
		t.Fatalf("unexpected session: %+v", got)
	}

	rec = do(t, h, http.MethodPost, "/api/wallet/disconnect", "")
	body = decodeBody[map[string]map[string]any](t, rec)
	if body["session"]["state"] != string(session.StateDisconnected) || body["session"]["account"] != nil {
		t.Fatalf("unexpected session after disconnect: %+v", body)
	}
	if wallet.disconnects != 1 {
		t.Fatalf("expected one disconnect, got %d", wallet.disconnects)
	}
}

func TestConnectFailureReturnsSession(t *testing.T) {
	cases := []struct {
		err     error
		status  int
		message string
	}{
		{xerrors.New(session.CodeUserRejected, ""), http.StatusForbidden, "Connection rejected. Please try again."},
		{xerrors.New(session.CodeNoWalletInstalled, ""), http.StatusServiceUnavailable, "Please install MetaMask to use this application"},
		{xerrors.New(session.CodeContractNotDeployed, ""), http.StatusBadGateway, "Contract not deployed"},
	}
	for _, tc := range cases {
		wallet := &fakeWallet{current: session.Session{State: session.StateDisconnected}, connectErr: tc.err}
		h := newTestServer(t, wallet)

		rec := do(t, h, http.MethodPost, "/api/wallet/connect", "")
		if rec.Code != tc.status {
			t.Fatalf("%s: expected %d, got %d", tc.message, tc.status, rec.Code)
		}
		var body struct {
			Session map[string]any `json:"session"`
			Error   string         `json:"error"`
			Code    string         `json:"code"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if body.Error != tc.message || body.Code != string(xerrors.CodeOf(tc.err)) {
			t.Fatalf("unexpected body: %+v", body)
		}
		if body.Session["networkError"] != tc.message {
			t.Fatalf("expected network error on session, got %+v", body.Session)
		}
	}
}

func TestChainRoutesRequireConnectedSession(t *testing.T) {
	wallet := &fakeWallet{current: session.Session{State: session.StateWrongNetwork}}
	h := newTestServer(t, wallet)

	for _, tc := range []struct{ method, target, body string }{
		{http.MethodGet, "/api/chain/stats", ""},
		{http.MethodGet, "/api/chain/inventory", ""},
		{http.MethodGet, "/api/chain/events", ""},
		{http.MethodPost, "/api/chain/donations", validDonation},
	} {
		rec := do(t, h, tc.method, tc.target, tc.body)
		if rec.Code != http.StatusConflict {
			t.Fatalf("%s: expected 409, got %d", tc.target, rec.Code)
		}
		got := decodeBody[errorResponse](t, rec)
		if got.Error != "Please connect your wallet first" || got.Code != string(session.CodeNotConnected) {
			t.Fatalf("%s: unexpected body %+v", tc.target, got)
		}
	}
}

func TestChainDonateAndRead(t *testing.T) {
	connected, backend := connectedSession(t)
	wallet := &fakeWallet{current: connected}
	h := newTestServer(t, wallet)

	rec := do(t, h, http.MethodPost, "/api/chain/donations", validDonation)
	if rec.Code != http.StatusOK {
		t.Fatalf("donate: %d %s", rec.Code, rec.Body.String())
	}
	var tx struct {
		TransactionHash string   `json:"transactionHash"`
		BlockNumber     uint64   `json:"blockNumber"`
		Amount          *big.Int `json:"amount"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &tx); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if tx.BlockNumber != backend.Block() || tx.Amount.Int64() != bloodbank.UnitVolume || !strings.HasPrefix(tx.TransactionHash, "0x") {
		t.Fatalf("unexpected transaction response: %+v", tx)
	}

	age := 40
	request, _ := json.Marshal(bloodbank.RequestForm{
		BloodType: "A+", Units: 1, RecipientName: "Grace", Age: &age,
		Contact: "0123456789", Hospital: "General", Reason: "surgery",
	})
	rec = do(t, h, http.MethodPost, "/api/chain/requests", string(request))
	if rec.Code != http.StatusOK {
		t.Fatalf("request: %d %s", rec.Code, rec.Body.String())
	}

	rec = do(t, h, http.MethodGet, "/api/chain/stats", "")
	var stats bloodbank.Stats
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.TotalDonations.Int64() != 1 || stats.TotalRequests.Int64() != 1 || stats.TotalDonors.Int64() != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}

	rec = do(t, h, http.MethodGet, "/api/chain/inventory", "")
	levels := decodeBody[[]bloodbank.InventoryLevel](t, rec)
	if len(levels) != len(bloodbank.BloodTypes) {
		t.Fatalf("expected %d levels, got %d", len(bloodbank.BloodTypes), len(levels))
	}
}

func TestChainDonateValidation(t *testing.T) {
	connected, backend := connectedSession(t)
	h := newTestServer(t, &fakeWallet{current: connected})
	before := backend.Block()

	rec := do(t, h, http.MethodPost, "/api/chain/donations", `{"bloodType":"A+","donorName":"Ada","age":12,"contact":"0123456789"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	got := decodeBody[errorResponse](t, rec)
	if got.Error != "Donor must be between 17 and 70 years old" || got.Field != "Age" {
		t.Fatalf("unexpected body: %+v", got)
	}
	if backend.Block() != before {
		t.Fatalf("invalid form must not reach the chain")
	}
}

type staticStats chainevents.StatsSnapshot

func (s staticStats) Snapshot() chainevents.StatsSnapshot { return chainevents.StatsSnapshot(s) }

type staticWatcher chainevents.Status

func (s staticWatcher) Status() chainevents.Status { return chainevents.Status(s) }

func TestChainEventsReport(t *testing.T) {
	connected, _ := connectedSession(t)
	svc := NewServer(":0",
		WithWallet(&fakeWallet{current: connected}),
		WithChainEvents(staticStats{Total: 3, ByKind: map[string]uint64{"BloodDonated": 3}}, staticWatcher{Mode: chainevents.ModePolling, Block: 9}),
	)
	rec := do(t, svc.Handler(), http.MethodGet, "/api/chain/events", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	got := decodeBody[eventsResponse](t, rec)
	if got.Events.Total != 3 || got.Watcher == nil || got.Watcher.Mode != chainevents.ModePolling || got.Watcher.Block != 9 {
		t.Fatalf("unexpected report: %+v", got)
	}
}

func TestSessionStream(t *testing.T) {
	wallet := &fakeWallet{current: session.Session{State: session.StateDisconnected, IsMetaMaskInstalled: true}}
	srv := httptest.NewServer(NewServer(":0", WithWallet(wallet)).Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/wallet/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))

	var first map[string]any
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("read initial snapshot: %v", err)
	}
	if first["state"] != string(session.StateDisconnected) {
		t.Fatalf("unexpected initial snapshot: %+v", first)
	}

	connected, _ := connectedSession(t)
	connected.Version = 7
	wallet.publish(connected)

	var next map[string]any
	if err := conn.ReadJSON(&next); err != nil {
		t.Fatalf("read update: %v", err)
	}
	if next["state"] != string(session.StateConnected) || next["version"] != float64(7) {
		t.Fatalf("unexpected update: %+v", next)
	}
}
