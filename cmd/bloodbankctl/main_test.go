package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func execute(t *testing.T, handler http.HandlerFunc, args ...string) (string, error) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs(append([]string{"--server", srv.URL}, args...))
	err := root.Execute()
	return out.String(), err
}

func TestInventorySummaryPrintsJSON(t *testing.T) {
	out, err := execute(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/inventory" || r.Method != http.MethodGet {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		_, _ = w.Write([]byte(`[{"bloodType":"O+","quantity":900,"available":450,"reserved":450}]`))
	}, "inventory", "summary")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	var summary []map[string]any
	if err := json.Unmarshal([]byte(out), &summary); err != nil {
		t.Fatalf("output is not json: %v\n%s", err, out)
	}
	if len(summary) != 1 || summary[0]["bloodType"] != "O+" {
		t.Fatalf("unexpected output %s", out)
	}
}

func TestYAMLOutput(t *testing.T) {
	out, err := execute(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"totalDonors":1,"totalDonations":2,"totalRequests":0}`))
	}, "-o", "yaml", "chain", "stats")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !strings.Contains(out, "totalDonations: 2") {
		t.Fatalf("unexpected yaml output:\n%s", out)
	}
}

func TestChainRequestSendsAgeOnlyWhenSet(t *testing.T) {
	var body map[string]any
	handler := func(w http.ResponseWriter, r *http.Request) {
		body = nil
		_ = json.NewDecoder(r.Body).Decode(&body)
		_, _ = w.Write([]byte(`{"transactionHash":"0x01","blockNumber":1,"amount":900,"account":"0x02"}`))
	}

	if _, err := execute(t, handler, "chain", "request", "--blood-type", "A+", "--recipient", "Bo", "--units", "2"); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if body["age"] != nil {
		t.Fatalf("expected null age, got %v", body["age"])
	}

	if _, err := execute(t, handler, "chain", "request", "--blood-type", "A+", "--recipient", "Bo", "--age", "0"); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if age, ok := body["age"].(float64); !ok || age != 0 {
		t.Fatalf("expected age 0, got %v", body["age"])
	}
}

func TestUsersUpdateSendsOnlyChangedFields(t *testing.T) {
	var body map[string]any
	out, err := execute(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut || r.URL.Path != "/api/users" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		_, _ = w.Write([]byte(`{"id":"u1","address":"0x01","name":"Ada","email":"ada@hospital.org","role":"HOSPITAL"}`))
	}, "users", "update", "--address", "0x01", "--email", "ada@hospital.org")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if _, ok := body["role"]; ok {
		t.Fatalf("role must not be sent when the flag is unset: %v", body)
	}
	if _, ok := body["name"]; ok {
		t.Fatalf("name must not be sent when the flag is unset: %v", body)
	}
	if body["email"] != "ada@hospital.org" || body["address"] != "0x01" {
		t.Fatalf("unexpected body %v", body)
	}
	if !strings.Contains(out, `"role": "HOSPITAL"`) {
		t.Fatalf("unexpected output %s", out)
	}
}

func TestAPIErrorIsReturned(t *testing.T) {
	_, err := execute(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":"Please connect your wallet first","code":"NOT_CONNECTED"}`))
	}, "chain", "inventory")
	if err == nil || !strings.Contains(err.Error(), "NOT_CONNECTED") {
		t.Fatalf("expected NOT_CONNECTED error, got %v", err)
	}
}

func TestUnknownOutputFormat(t *testing.T) {
	_, err := execute(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	}, "-o", "xml", "users", "get")
	if err == nil {
		t.Fatal("expected error for unknown output format")
	}
}
