package state

import (
	"errors"
	"fmt"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"escrowd/native/escrow"
)

var balancePrefix = []byte("escrow/balance:")

// ErrInsufficientBalance indicates the source account cannot cover a transfer.
var ErrInsufficientBalance = errors.New("state: insufficient balance")

func balanceKey(addr [20]byte, asset escrow.Asset) []byte {
	assetKey := asset.Key()
	buf := make([]byte, len(balancePrefix)+len(assetKey)+1+len(addr))
	copy(buf, balancePrefix)
	copy(buf[len(balancePrefix):], assetKey)
	buf[len(balancePrefix)+len(assetKey)] = ':'
	copy(buf[len(balancePrefix)+len(assetKey)+1:], addr[:])
	return buf
}

// VaultAddress derives the custody address holding escrowed funds for the
// given asset. Derivation from a fixed label keeps the vault out of any
// keyspace a caller could occupy.
func (m *Manager) VaultAddress(asset escrow.Asset) [20]byte {
	hash := ethcrypto.Keccak256([]byte("escrow/vault/" + asset.Key()))
	var addr [20]byte
	copy(addr[:], hash[12:])
	return addr
}

// Balance returns the balance held by addr for the given asset.
func (m *Manager) Balance(addr [20]byte, asset escrow.Asset) (*big.Int, error) {
	normalized, err := escrow.NormalizeAsset(asset)
	if err != nil {
		return nil, err
	}
	balance := new(big.Int)
	ok, err := m.KVGet(balanceKey(addr, normalized), balance)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return balance, nil
}

func (m *Manager) setBalance(addr [20]byte, asset escrow.Asset, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("state: balance must be non-negative")
	}
	return m.KVPut(balanceKey(addr, asset), amount)
}

// Mint credits the address with new units of the asset. Used by genesis
// seeding and tests; deposits and claims only ever move existing balances.
func (m *Manager) Mint(addr [20]byte, asset escrow.Asset, amount *big.Int) error {
	normalized, err := escrow.NormalizeAsset(asset)
	if err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("state: mint amount must be positive")
	}
	balance, err := m.Balance(addr, normalized)
	if err != nil {
		return err
	}
	return m.setBalance(addr, normalized, new(big.Int).Add(balance, amount))
}

// transfer moves amount of asset between two accounts, restoring the source
// balance when the destination write fails so custody never diverges from
// the ledger.
func (m *Manager) transfer(asset escrow.Asset, from, to [20]byte, amount *big.Int) error {
	normalized, err := escrow.NormalizeAsset(asset)
	if err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("state: transfer amount must be positive")
	}
	fromBalance, err := m.Balance(from, normalized)
	if err != nil {
		return err
	}
	if fromBalance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	toBalance, err := m.Balance(to, normalized)
	if err != nil {
		return err
	}
	if err := m.setBalance(from, normalized, new(big.Int).Sub(fromBalance, amount)); err != nil {
		return err
	}
	if err := m.setBalance(to, normalized, new(big.Int).Add(toBalance, amount)); err != nil {
		if restoreErr := m.setBalance(from, normalized, fromBalance); restoreErr != nil {
			return errors.Join(err, fmt.Errorf("state: rollback source balance: %w", restoreErr))
		}
		return err
	}
	return nil
}

// Pull moves amount of asset from the caller into custody.
func (m *Manager) Pull(asset escrow.Asset, from [20]byte, amount *big.Int) error {
	normalized, err := escrow.NormalizeAsset(asset)
	if err != nil {
		return err
	}
	return m.transfer(normalized, from, m.VaultAddress(normalized), amount)
}

// Push moves amount of asset out of custody to the destination.
func (m *Manager) Push(asset escrow.Asset, to [20]byte, amount *big.Int) error {
	normalized, err := escrow.NormalizeAsset(asset)
	if err != nil {
		return err
	}
	return m.transfer(normalized, m.VaultAddress(normalized), to, amount)
}
