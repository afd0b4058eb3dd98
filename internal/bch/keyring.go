package bch

import (
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
)

// coinTypeBCH — BIP44 coin type для Bitcoin Cash.
const coinTypeBCH = 145

// KeyRing детерминированно выводит депозитные адреса и ключи к ним из
// мастер-сида по пути m/44'/145'/0'/0/index. Один и тот же индекс всегда даёт
// один и тот же адрес, поэтому адреса не нужно хранить отдельно.
type KeyRing struct {
	branch *hdkeychain.ExtendedKey
	params *chaincfg.Params
}

// NewKeyRing создаёт KeyRing из бинарного сида.
func NewKeyRing(seed []byte, params *chaincfg.Params) (*KeyRing, error) {
	master, err := hdkeychain.NewMaster(seed, params)
	if err != nil {
		return nil, fmt.Errorf("derive master key: %w", err)
	}

	purpose, err := master.Derive(hdkeychain.HardenedKeyStart + 44)
	if err != nil {
		return nil, fmt.Errorf("derive purpose key: %w", err)
	}

	coinType, err := purpose.Derive(hdkeychain.HardenedKeyStart + coinTypeBCH)
	if err != nil {
		return nil, fmt.Errorf("derive coin type key: %w", err)
	}

	account, err := coinType.Derive(hdkeychain.HardenedKeyStart)
	if err != nil {
		return nil, fmt.Errorf("derive account key: %w", err)
	}

	// Внешняя ветка 0 — депозитные адреса.
	branch, err := account.Derive(0)
	if err != nil {
		return nil, fmt.Errorf("derive external branch: %w", err)
	}

	return &KeyRing{branch: branch, params: params}, nil
}

func (k *KeyRing) childAt(index int64) (*hdkeychain.ExtendedKey, error) {
	if index < 0 || index >= hdkeychain.HardenedKeyStart {
		return nil, fmt.Errorf("hd index out of range: %d", index)
	}
	child, err := k.branch.Derive(uint32(index))
	if err != nil {
		return nil, fmt.Errorf("derive child %d: %w", index, err)
	}
	return child, nil
}

// AddressAt возвращает P2PKH-адрес для указанного индекса деривации.
func (k *KeyRing) AddressAt(index int64) (string, error) {
	child, err := k.childAt(index)
	if err != nil {
		return "", err
	}

	addr, err := child.Address(k.params)
	if err != nil {
		return "", fmt.Errorf("address for index %d: %w", index, err)
	}

	return addr.EncodeAddress(), nil
}

// PrivKeyAt возвращает приватный ключ адреса с указанным индексом деривации.
func (k *KeyRing) PrivKeyAt(index int64) (*btcec.PrivateKey, error) {
	child, err := k.childAt(index)
	if err != nil {
		return nil, err
	}

	priv, err := child.ECPrivKey()
	if err != nil {
		return nil, fmt.Errorf("private key for index %d: %w", index, err)
	}

	return priv, nil
}

// Params возвращает параметры сети, с которыми создан KeyRing.
func (k *KeyRing) Params() *chaincfg.Params {
	return k.params
}
