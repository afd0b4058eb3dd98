package bch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestGetBalance(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/api/v2/address/") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"address":"1BoatSLRHtKNngkdXEeobR76b53LETtpyT","balance":"1000000","unconfirmedBalance":"250000","txs":3}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)

	confirmed, unconfirmed, err := c.GetBalance(context.Background(), "1BoatSLRHtKNngkdXEeobR76b53LETtpyT")
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if confirmed != 1_000_000 {
		t.Errorf("confirmed = %d, want 1000000", confirmed)
	}
	if unconfirmed != 250_000 {
		t.Errorf("unconfirmed = %d, want 250000", unconfirmed)
	}
}

func TestGetBalance_EmptyUnconfirmed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"balance":"500"}`))
	}))
	defer srv.Close()

	confirmed, unconfirmed, err := NewClient(srv.URL).GetBalance(context.Background(), "addr")
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if confirmed != 500 || unconfirmed != 0 {
		t.Errorf("balance = (%d, %d), want (500, 0)", confirmed, unconfirmed)
	}
}

func TestGetBalance_BadPayload(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "non-numeric balance", body: `{"balance":"abc"}`},
		{name: "negative balance", body: `{"balance":"-1","unconfirmedBalance":"0"}`},
		{name: "not json", body: `<html></html>`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			if _, _, err := NewClient(srv.URL).GetBalance(context.Background(), "addr"); err == nil {
				t.Fatalf("expected error for %q", tt.body)
			}
		})
	}
}

func TestGetBalance_BadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	if _, _, err := NewClient(srv.URL).GetBalance(context.Background(), "addr"); err == nil {
		t.Fatalf("expected error for status 400")
	}
}

func TestGetBalance_NotConfigured(t *testing.T) {
	if _, _, err := NewClient("").GetBalance(context.Background(), "addr"); err == nil {
		t.Fatalf("expected error for empty base URL")
	}
}

func TestGetUTXOs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/api/v2/utxo/") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`[{"txid":"aa11","vout":1,"value":"300000","height":800000,"confirmations":6},{"txid":"bb22","vout":0,"value":"700000","height":0,"confirmations":0}]`))
	}))
	defer srv.Close()

	utxos, err := NewClient(srv.URL).GetUTXOs(context.Background(), "addr")
	if err != nil {
		t.Fatalf("get utxos: %v", err)
	}
	if len(utxos) != 2 {
		t.Fatalf("utxos = %d, want 2", len(utxos))
	}

	sat, err := utxos[0].ValueSat()
	if err != nil {
		t.Fatalf("value sat: %v", err)
	}
	if sat != 300_000 {
		t.Errorf("value = %d, want 300000", sat)
	}
	if utxos[1].TxID != "bb22" || utxos[1].Vout != 0 {
		t.Errorf("unexpected second utxo: %+v", utxos[1])
	}
}

func TestSendTx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/api/v2/sendtx/") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`{"result":"deadbeef"}`))
	}))
	defer srv.Close()

	txid, err := NewClient(srv.URL).SendTx(context.Background(), "0100beef")
	if err != nil {
		t.Fatalf("send tx: %v", err)
	}
	if txid != "deadbeef" {
		t.Errorf("txid = %q, want deadbeef", txid)
	}
}

func TestSendTx_Rejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error":{"message":"dust output"}}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).SendTx(context.Background(), "0100beef")
	if err == nil || !strings.Contains(err.Error(), "dust output") {
		t.Fatalf("expected broadcast rejection, got %v", err)
	}
}
