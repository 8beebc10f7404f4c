package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"time"

	"BloodBank-Chain/sdk/go/bloodbank"
)

func main() {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/wallet/session", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(bloodbank.Session{State: bloodbank.StateDisconnected, IsMetaMaskInstalled: true})
	})
	mux.HandleFunc("/api/donations", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			var in bloodbank.DonationInput
			_ = json.NewDecoder(r.Body).Decode(&in)
			_ = json.NewEncoder(w).Encode(bloodbank.Donation{
				ID:              "donation-demo",
				TransactionHash: in.TransactionHash,
				DonorAddress:    in.DonorAddress,
				BloodType:       in.BloodType,
				Quantity:        in.Quantity,
				Status:          "PENDING",
				Timestamp:       time.Now().UTC(),
			})
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})
	mux.HandleFunc("/api/inventory", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]bloodbank.InventorySummary{
			{BloodType: "O+", Quantity: 900, Available: 450, Reserved: 450},
		})
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	client, err := bloodbank.NewClient(srv.URL, srv.Client())
	if err != nil {
		panic(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	session, err := client.Session(ctx)
	if err != nil {
		panic(err)
	}
	fmt.Printf("wallet session state=%s metamask=%v\n", session.State, session.IsMetaMaskInstalled)

	donation, err := client.CreateDonation(ctx, bloodbank.DonationInput{
		TransactionHash: "0xdemo",
		DonorAddress:    "0x0000000000000000000000000000000000000001",
		BloodType:       "O+",
		Quantity:        450,
		DonorName:       "Demo",
		Age:             30,
		Contact:         "0123456789",
	})
	if err != nil {
		panic(err)
	}
	fmt.Printf("recorded donation %s (status=%s)\n", donation.ID, donation.Status)

	summary, err := client.InventorySummary(ctx)
	if err != nil {
		panic(err)
	}
	for _, s := range summary {
		fmt.Printf("%s: %d ml available, %d ml reserved\n", s.BloodType, s.Available, s.Reserved)
	}
}
