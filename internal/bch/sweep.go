package bch

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"math"

	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// dustLimitSat — минимальный осмысленный выход P2PKH.
const dustLimitSat = 546

// sigHashForkID — обязательный для Bitcoin Cash флаг типа подписи. С ним
// дайджест подписи строится по схеме BIP143 с суммой входа; подписи без
// этого флага узлы BCH отвергают.
const sigHashForkID = txscript.SigHashType(0x40)

// Sweeper собирает и подписывает транзакции, переводящие все средства с
// депозитного адреса на корпоративный кошелёк.
type Sweeper struct {
	client      *Client
	keyRing     *KeyRing
	companyAddr string
}

// NewSweeper создаёт Sweeper с указанным адресом назначения.
func NewSweeper(client *Client, keyRing *KeyRing, companyAddr string) *Sweeper {
	return &Sweeper{
		client:      client,
		keyRing:     keyRing,
		companyAddr: companyAddr,
	}
}

// estimateFee оценивает комиссию по размеру транзакции из P2PKH входов и
// одного P2PKH выхода, с запасом 10%.
func estimateFee(numInputs int) int64 {
	byteCount := 148*numInputs + 34 + 10
	return int64(math.Ceil(1.1 * float64(byteCount)))
}

// SweepAddress переводит весь баланс депозитного адреса с указанным индексом
// деривации на корпоративный кошелёк и возвращает txid. Если на адресе нет
// средств сверх пыли и комиссии, возвращается пустой txid без ошибки.
func (s *Sweeper) SweepAddress(ctx context.Context, hdIndex int64) (string, error) {
	if s.companyAddr == "" {
		return "", fmt.Errorf("company address not configured")
	}

	fromAddr, err := s.keyRing.AddressAt(hdIndex)
	if err != nil {
		return "", err
	}

	utxos, err := s.client.GetUTXOs(ctx, fromAddr)
	if err != nil {
		return "", fmt.Errorf("get utxos: %w", err)
	}
	if len(utxos) == 0 {
		return "", nil
	}

	// Все входы принадлежат одному депозитному адресу.
	fromDecoded, err := btcutil.DecodeAddress(fromAddr, s.keyRing.Params())
	if err != nil {
		return "", fmt.Errorf("decode deposit address: %w", err)
	}

	fromScript, err := txscript.PayToAddrScript(fromDecoded)
	if err != nil {
		return "", fmt.Errorf("build input script: %w", err)
	}

	tx := wire.NewMsgTx(wire.TxVersion)
	prevOuts := txscript.NewMultiPrevOutFetcher(nil)
	inputSat := make([]int64, 0, len(utxos))

	var totalSat int64
	for _, u := range utxos {
		hash, err := chainhash.NewHashFromStr(u.TxID)
		if err != nil {
			return "", fmt.Errorf("parse utxo txid %q: %w", u.TxID, err)
		}

		value, err := u.ValueSat()
		if err != nil {
			return "", err
		}
		totalSat += value
		inputSat = append(inputSat, value)

		outPoint := wire.NewOutPoint(hash, u.Vout)
		prevOuts.AddPrevOut(*outPoint, wire.NewTxOut(value, fromScript))
		tx.AddTxIn(wire.NewTxIn(outPoint, nil, nil))
	}

	sendSat := totalSat - estimateFee(len(utxos))
	if sendSat < dustLimitSat {
		return "", nil
	}

	toAddr, err := btcutil.DecodeAddress(s.companyAddr, s.keyRing.Params())
	if err != nil {
		return "", fmt.Errorf("decode company address: %w", err)
	}

	toScript, err := txscript.PayToAddrScript(toAddr)
	if err != nil {
		return "", fmt.Errorf("build output script: %w", err)
	}
	tx.AddTxOut(wire.NewTxOut(sendSat, toScript))

	privKey, err := s.keyRing.PrivKeyAt(hdIndex)
	if err != nil {
		return "", err
	}
	pubKey := privKey.PubKey().SerializeCompressed()

	hashType := txscript.SigHashAll | sigHashForkID
	sigHashes := txscript.NewTxSigHashes(tx, prevOuts)

	for i := range tx.TxIn {
		digest, err := txscript.CalcWitnessSigHash(fromScript, sigHashes, hashType, tx, i, inputSat[i])
		if err != nil {
			return "", fmt.Errorf("compute sighash for input %d: %w", i, err)
		}

		sig := ecdsa.Sign(privKey, digest)

		sigScript, err := txscript.NewScriptBuilder().
			AddData(append(sig.Serialize(), byte(hashType))).
			AddData(pubKey).
			Script()
		if err != nil {
			return "", fmt.Errorf("build signature script for input %d: %w", i, err)
		}
		tx.TxIn[i].SignatureScript = sigScript
	}

	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return "", fmt.Errorf("serialize tx: %w", err)
	}

	txid, err := s.client.SendTx(ctx, hex.EncodeToString(buf.Bytes()))
	if err != nil {
		return "", fmt.Errorf("broadcast sweep: %w", err)
	}

	return txid, nil
}
