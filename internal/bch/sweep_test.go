package bch

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

func testSweeper(t *testing.T, srvURL string) (*Sweeper, *KeyRing) {
	t.Helper()

	k, err := NewKeyRing(testSeed(), &chaincfg.MainNetParams)
	if err != nil {
		t.Fatalf("new key ring: %v", err)
	}

	company, err := k.AddressAt(1000)
	if err != nil {
		t.Fatalf("company address: %v", err)
	}

	return NewSweeper(NewClient(srvURL), k, company), k
}

func TestSweepAddress_EmptyAddress(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	s, _ := testSweeper(t, srv.URL)

	txid, err := s.SweepAddress(context.Background(), 0)
	if err != nil {
		t.Fatalf("sweep empty address: %v", err)
	}
	if txid != "" {
		t.Fatalf("txid = %q, want empty for address without utxos", txid)
	}
}

func TestSweepAddress_DustOnly(t *testing.T) {
	var sendTxCalled bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/api/v2/utxo/"):
			w.Write([]byte(`[{"txid":"e3bf4b2b9e419fa8e76f2b71b0b24a409ad1ba7d2890aa9b3b33d3d5f1e8a3c1","vout":0,"value":"600"}]`))
		case strings.HasPrefix(r.URL.Path, "/api/v2/sendtx/"):
			sendTxCalled = true
			w.Write([]byte(`{"result":"x"}`))
		}
	}))
	defer srv.Close()

	s, _ := testSweeper(t, srv.URL)

	// 600 сатоши не покрывают комиссию и пыль: перевод не отправляется.
	txid, err := s.SweepAddress(context.Background(), 0)
	if err != nil {
		t.Fatalf("sweep dust address: %v", err)
	}
	if txid != "" {
		t.Fatalf("txid = %q, want empty for dust-only address", txid)
	}
	if sendTxCalled {
		t.Fatalf("sendtx must not be called for dust-only address")
	}
}

func TestSweepAddress_BuildsValidTx(t *testing.T) {
	var rawHex string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/api/v2/utxo/"):
			w.Write([]byte(`[
				{"txid":"e3bf4b2b9e419fa8e76f2b71b0b24a409ad1ba7d2890aa9b3b33d3d5f1e8a3c1","vout":0,"value":"300000"},
				{"txid":"0f2c1a7bb0bbf9ab914a8f0c3e05a66b9c199a6a1c3a24c68672f91e65f0a9d2","vout":1,"value":"700000"}
			]`))
		case strings.HasPrefix(r.URL.Path, "/api/v2/sendtx/"):
			rawHex = strings.TrimPrefix(r.URL.Path, "/api/v2/sendtx/")
			json.NewEncoder(w).Encode(map[string]string{"result": "swept-txid"})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	s, k := testSweeper(t, srv.URL)

	txid, err := s.SweepAddress(context.Background(), 0)
	if err != nil {
		t.Fatalf("sweep address: %v", err)
	}
	if txid != "swept-txid" {
		t.Fatalf("txid = %q, want swept-txid", txid)
	}

	raw, err := hex.DecodeString(rawHex)
	if err != nil {
		t.Fatalf("broadcast payload is not hex: %v", err)
	}

	var tx wire.MsgTx
	if err := tx.Deserialize(bytes.NewReader(raw)); err != nil {
		t.Fatalf("broadcast payload is not a transaction: %v", err)
	}

	if len(tx.TxIn) != 2 {
		t.Fatalf("inputs = %d, want 2", len(tx.TxIn))
	}
	for i, in := range tx.TxIn {
		pushes, err := txscript.PushedData(in.SignatureScript)
		if err != nil {
			t.Fatalf("parse signature script of input %d: %v", i, err)
		}
		if len(pushes) != 2 {
			t.Fatalf("input %d signature script pushes = %d, want sig and pubkey", i, len(pushes))
		}

		sig := pushes[0]
		if len(sig) == 0 {
			t.Fatalf("input %d is not signed", i)
		}
		if got := txscript.SigHashType(sig[len(sig)-1]); got != txscript.SigHashAll|sigHashForkID {
			t.Errorf("input %d hash type = %#x, want SIGHASH_ALL|FORKID", i, got)
		}

		if len(pushes[1]) != 33 {
			t.Errorf("input %d pubkey length = %d, want 33 (compressed)", i, len(pushes[1]))
		}
	}

	if len(tx.TxOut) != 1 {
		t.Fatalf("outputs = %d, want 1", len(tx.TxOut))
	}

	want := int64(1_000_000) - estimateFee(2)
	if tx.TxOut[0].Value != want {
		t.Errorf("output value = %d, want %d", tx.TxOut[0].Value, want)
	}

	company, err := k.AddressAt(1000)
	if err != nil {
		t.Fatalf("company address: %v", err)
	}
	_, addrs, _, err := txscript.ExtractPkScriptAddrs(tx.TxOut[0].PkScript, &chaincfg.MainNetParams)
	if err != nil {
		t.Fatalf("extract output addresses: %v", err)
	}
	if len(addrs) != 1 || addrs[0].EncodeAddress() != company {
		t.Errorf("output pays %v, want %s", addrs, company)
	}
}

func TestEstimateFee(t *testing.T) {
	if fee := estimateFee(1); fee != 212 {
		t.Errorf("fee for 1 input = %d, want 212", fee)
	}
	if one, two := estimateFee(1), estimateFee(2); two <= one {
		t.Errorf("fee must grow with inputs: %d vs %d", one, two)
	}
}
