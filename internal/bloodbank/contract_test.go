package bloodbank_test

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"BloodBank-Chain/internal/bloodbank"
	"BloodBank-Chain/internal/bloodbank/bloodbanktest"
)

func newTestContract(t *testing.T) (*bloodbank.Contract, *bloodbanktest.Backend) {
	t.Helper()
	backend := bloodbanktest.NewBackend(big.NewInt(31337))
	signer, err := backend.NewSigner()
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}
	contract, err := bloodbank.NewContract(bloodbanktest.ContractAddress, bloodbank.DefaultABI(), signer)
	if err != nil {
		t.Fatalf("new contract: %v", err)
	}
	return contract, backend
}

func TestContractDonateAndRead(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	contract, _ := newTestContract(t)

	tx, err := contract.Donate(ctx, bloodbank.DonationForm{BloodType: "A+", DonorName: "Ada", Age: 30, Contact: "0123456789"})
	if err != nil {
		t.Fatalf("donate: %v", err)
	}
	receipt, err := contract.WaitMined(ctx, tx)
	if err != nil {
		t.Fatalf("wait mined: %v", err)
	}
	if len(receipt.Logs) != 2 {
		t.Fatalf("expected DonorRegistered and BloodDonated logs, got %d", len(receipt.Logs))
	}

	quantity, err := contract.BloodTypeQuantity(ctx, "A+")
	if err != nil {
		t.Fatalf("quantity: %v", err)
	}
	if quantity.Int64() != bloodbank.UnitVolume {
		t.Fatalf("unexpected quantity %s", quantity)
	}

	stats, err := contract.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.TotalDonors.Int64() != 1 || stats.TotalDonations.Int64() != 1 || stats.TotalRequests.Int64() != 0 {
		t.Fatalf("unexpected stats %+v", stats)
	}

	levels, err := contract.Inventory(ctx)
	if err != nil {
		t.Fatalf("inventory: %v", err)
	}
	if len(levels) != len(bloodbank.BloodTypes) {
		t.Fatalf("expected %d levels, got %d", len(bloodbank.BloodTypes), len(levels))
	}
	if levels[0].BloodType != "A+" || levels[0].Units != 1 {
		t.Fatalf("unexpected A+ level %+v", levels[0])
	}
}

func TestContractInventoryReportsPerTypeFailure(t *testing.T) {
	t.Parallel()

	contract, backend := newTestContract(t)
	backend.FailCall("getBloodTypeQuantity", errors.New("rate limited"))

	levels, err := contract.Inventory(context.Background())
	if err != nil {
		t.Fatalf("inventory: %v", err)
	}
	for _, level := range levels {
		if level.Quantity.Sign() != 0 || level.Error == "" {
			t.Fatalf("expected zero quantity with error, got %+v", level)
		}
	}
}

func TestContractRejectsInvalidForm(t *testing.T) {
	t.Parallel()

	contract, backend := newTestContract(t)
	before := backend.Block()
	if _, err := contract.Donate(context.Background(), bloodbank.DonationForm{BloodType: "A+", DonorName: "Ada", Age: 12, Contact: "0123456789"}); err == nil {
		t.Fatalf("expected validation error")
	}
	if backend.Block() != before {
		t.Fatalf("invalid form must not reach the chain")
	}
}

func TestContractInvalidate(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	contract, _ := newTestContract(t)
	contract.Invalidate()
	if contract.Valid() {
		t.Fatalf("expected invalid handle")
	}

	if _, err := contract.BloodTypeQuantity(ctx, "A+"); !errors.Is(err, bloodbank.ErrContractInvalidated) {
		t.Fatalf("expected ErrContractInvalidated, got %v", err)
	}
	if _, err := contract.Stats(ctx); !errors.Is(err, bloodbank.ErrContractInvalidated) {
		t.Fatalf("expected ErrContractInvalidated from stats, got %v", err)
	}
	if _, err := contract.Donate(ctx, bloodbank.DonationForm{BloodType: "A+", DonorName: "Ada", Age: 30, Contact: "0123456789"}); !errors.Is(err, bloodbank.ErrContractInvalidated) {
		t.Fatalf("expected ErrContractInvalidated from donate, got %v", err)
	}
	if _, err := contract.SubscribeEvents(ctx, nil); !errors.Is(err, bloodbank.ErrContractInvalidated) {
		t.Fatalf("expected ErrContractInvalidated from subscribe, got %v", err)
	}
}

func TestContractEvents(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	contract, _ := newTestContract(t)

	sub, err := contract.SubscribeEvents(ctx, nil)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()

	age := 40
	tx, err := contract.RequestBlood(ctx, bloodbank.RequestForm{
		BloodType: "O-", Units: 2, RecipientName: "Grace", Age: &age,
		Contact: "0123456789", Hospital: "General", Reason: "Accident",
	})
	if err != nil {
		t.Fatalf("request blood: %v", err)
	}

	select {
	case log := <-sub.Logs():
		ev, err := contract.DecodeEvent(log)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if ev.Kind != bloodbank.EventBloodRequested {
			t.Fatalf("unexpected kind %s", ev.Kind)
		}
		if ev.Actor != contract.Account() || ev.BloodType != "O-" || ev.Amount.Int64() != 900 {
			t.Fatalf("unexpected event %+v", ev)
		}
		if ev.TxHash != tx.Hash() {
			t.Fatalf("tx hash mismatch")
		}
	case <-ctx.Done():
		t.Fatal("timeout waiting for event")
	}

	events, err := contract.FilterEvents(ctx, nil, nil)
	if err != nil {
		t.Fatalf("filter: %v", err)
	}
	if len(events) != 1 || events[0].Kind != bloodbank.EventBloodRequested {
		t.Fatalf("unexpected filtered events %+v", events)
	}
}

func TestDecodeDonorRegistered(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	contract, _ := newTestContract(t)
	tx, err := contract.Donate(ctx, bloodbank.DonationForm{BloodType: "B+", DonorName: "Linus", Age: 50, Contact: "0123456789"})
	if err != nil {
		t.Fatalf("donate: %v", err)
	}
	receipt, err := contract.WaitMined(ctx, tx)
	if err != nil {
		t.Fatalf("wait mined: %v", err)
	}
	ev, err := contract.DecodeEvent(*receipt.Logs[0])
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.Kind != bloodbank.EventDonorRegistered || ev.Name != "Linus" || ev.Actor != contract.Account() {
		t.Fatalf("unexpected event %+v", ev)
	}
}
