package state

import (
	"errors"
	"math/big"
	"testing"

	"escrowd/native/escrow"
)

func TestMintAndBalance(t *testing.T) {
	m := newTestManager(t)
	addr := testAddress(0x10)
	asset := escrow.TokenAsset("NHB")

	balance, err := m.Balance(addr, asset)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.Sign() != 0 {
		t.Fatalf("fresh balance = %s, want 0", balance)
	}

	if err := m.Mint(addr, asset, big.NewInt(100)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := m.Mint(addr, asset, big.NewInt(50)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	balance, err = m.Balance(addr, asset)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.Cmp(big.NewInt(150)) != 0 {
		t.Fatalf("balance = %s, want 150", balance)
	}

	if err := m.Mint(addr, asset, big.NewInt(0)); err == nil {
		t.Fatalf("zero mint must be rejected")
	}
}

func TestPullAndPushMoveThroughVault(t *testing.T) {
	m := newTestManager(t)
	payee := testAddress(0x10)
	recipient := testAddress(0x11)
	asset := escrow.TokenAsset("NHB")
	vault := m.VaultAddress(asset)

	if err := m.Mint(payee, asset, big.NewInt(100)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := m.Pull(asset, payee, big.NewInt(40)); err != nil {
		t.Fatalf("pull: %v", err)
	}
	vaultBalance, err := m.Balance(vault, asset)
	if err != nil {
		t.Fatalf("vault balance: %v", err)
	}
	if vaultBalance.Cmp(big.NewInt(40)) != 0 {
		t.Fatalf("vault balance = %s, want 40", vaultBalance)
	}

	if err := m.Push(asset, recipient, big.NewInt(40)); err != nil {
		t.Fatalf("push: %v", err)
	}
	recipientBalance, err := m.Balance(recipient, asset)
	if err != nil {
		t.Fatalf("recipient balance: %v", err)
	}
	if recipientBalance.Cmp(big.NewInt(40)) != 0 {
		t.Fatalf("recipient balance = %s, want 40", recipientBalance)
	}
}

func TestPullNormalizesAssetBeforeVaultDerivation(t *testing.T) {
	m := newTestManager(t)
	payee := testAddress(0x10)
	canonical := escrow.TokenAsset("NHB")

	if err := m.Mint(payee, canonical, big.NewInt(10)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	// A lowercase symbol must land in the same vault as the canonical form.
	if err := m.Pull(escrow.TokenAsset("nhb"), payee, big.NewInt(10)); err != nil {
		t.Fatalf("pull: %v", err)
	}
	vaultBalance, err := m.Balance(m.VaultAddress(canonical), canonical)
	if err != nil {
		t.Fatalf("vault balance: %v", err)
	}
	if vaultBalance.Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("vault balance = %s, want 10", vaultBalance)
	}
}

func TestPullInsufficientBalance(t *testing.T) {
	m := newTestManager(t)
	payee := testAddress(0x10)
	asset := escrow.TokenAsset("NHB")

	if err := m.Mint(payee, asset, big.NewInt(5)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := m.Pull(asset, payee, big.NewInt(6)); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	balance, err := m.Balance(payee, asset)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.Cmp(big.NewInt(5)) != 0 {
		t.Fatalf("failed pull must not move funds, balance = %s", balance)
	}
}

func TestVaultAddressesDifferPerAsset(t *testing.T) {
	m := newTestManager(t)
	if m.VaultAddress(escrow.NativeAsset()) == m.VaultAddress(escrow.TokenAsset("NHB")) {
		t.Fatalf("native and token vaults must not collide")
	}
	if m.VaultAddress(escrow.TokenAsset("NHB")) == m.VaultAddress(escrow.TokenAsset("ZNHB")) {
		t.Fatalf("token vaults must not collide across symbols")
	}
}
