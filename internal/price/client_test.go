package price

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCurrentPrice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v2/tickers" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("currency"); got != "usd" {
			t.Errorf("currency = %q, want usd", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ts":1700000000,"rates":{"usd":20000.5}}`))
	}))
	defer srv.Close()

	rate, err := NewClient(srv.URL).CurrentPrice(context.Background())
	if err != nil {
		t.Fatalf("current price: %v", err)
	}
	if rate != 20000.5 {
		t.Errorf("rate = %v, want 20000.5", rate)
	}
}

func TestCurrentPrice_BadPayload(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "missing usd", body: `{"ts":1700000000,"rates":{"eur":18000}}`},
		{name: "zero quote", body: `{"ts":1700000000,"rates":{"usd":0}}`},
		{name: "negative quote", body: `{"ts":1700000000,"rates":{"usd":-5}}`},
		{name: "not json", body: `oops`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			if _, err := NewClient(srv.URL).CurrentPrice(context.Background()); err == nil {
				t.Fatalf("expected error for %q", tt.body)
			}
		})
	}
}

func TestCurrentPrice_BadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	if _, err := NewClient(srv.URL).CurrentPrice(context.Background()); err == nil {
		t.Fatalf("expected error for status 404")
	}
}

func TestCurrentPrice_NotConfigured(t *testing.T) {
	if _, err := NewClient("").CurrentPrice(context.Background()); err == nil {
		t.Fatalf("expected error for empty base URL")
	}
}
