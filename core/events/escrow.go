package events

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"escrowd/core/types"
)

const (
	TypeEscrowDeposited            = "escrow.deposited"
	TypeEscrowClaimed              = "escrow.claimed"
	TypeEscrowRedeemed             = "escrow.redeemed"
	TypeEscrowIntervalUpdated      = "escrow.interval_updated"
	TypeEscrowOwnershipTransferred = "escrow.ownership_transferred"
	TypeEscrowNativeReceived       = "escrow.native_received"
	TypeEscrowUpgradeAuthorized    = "escrow.upgrade_authorized"
)

// Deposited is emitted when a payee places funds into custody.
type Deposited struct {
	ID        [32]byte
	Payee     [20]byte
	Recipient [20]byte
	Asset     string
	Amount    *big.Int
	CreatedAt int64
}

func (Deposited) EventType() string { return TypeEscrowDeposited }

func (e Deposited) Event() *types.Event {
	return &types.Event{
		Type: TypeEscrowDeposited,
		Attributes: map[string]string{
			"id":        hex.EncodeToString(e.ID[:]),
			"payee":     hex.EncodeToString(e.Payee[:]),
			"recipient": hex.EncodeToString(e.Recipient[:]),
			"asset":     e.Asset,
			"amount":    formatAmount(e.Amount),
			"createdAt": intToString(e.CreatedAt),
		},
	}
}

// Claimed is emitted when the recipient-side withdrawal succeeds inside the
// claim window.
type Claimed struct {
	ID        [32]byte
	Recipient [20]byte
	Asset     string
	Amount    *big.Int
}

func (Claimed) EventType() string { return TypeEscrowClaimed }

func (e Claimed) Event() *types.Event {
	return &types.Event{
		Type: TypeEscrowClaimed,
		Attributes: map[string]string{
			"id":        hex.EncodeToString(e.ID[:]),
			"recipient": hex.EncodeToString(e.Recipient[:]),
			"asset":     e.Asset,
			"amount":    formatAmount(e.Amount),
		},
	}
}

// Redeemed is emitted when the payee reclaims funds after the window elapsed.
type Redeemed struct {
	ID     [32]byte
	Payee  [20]byte
	Asset  string
	Amount *big.Int
}

func (Redeemed) EventType() string { return TypeEscrowRedeemed }

func (e Redeemed) Event() *types.Event {
	return &types.Event{
		Type: TypeEscrowRedeemed,
		Attributes: map[string]string{
			"id":     hex.EncodeToString(e.ID[:]),
			"payee":  hex.EncodeToString(e.Payee[:]),
			"asset":  e.Asset,
			"amount": formatAmount(e.Amount),
		},
	}
}

// IntervalUpdated is emitted when the operator replaces the claim window.
type IntervalUpdated struct {
	OldSeconds uint64
	NewSeconds uint64
}

func (IntervalUpdated) EventType() string { return TypeEscrowIntervalUpdated }

func (e IntervalUpdated) Event() *types.Event {
	return &types.Event{
		Type: TypeEscrowIntervalUpdated,
		Attributes: map[string]string{
			"oldInterval": strconv.FormatUint(e.OldSeconds, 10),
			"newInterval": strconv.FormatUint(e.NewSeconds, 10),
		},
	}
}

// OwnershipTransferred is emitted when the operator role changes hands.
type OwnershipTransferred struct {
	Previous [20]byte
	Next     [20]byte
}

func (OwnershipTransferred) EventType() string { return TypeEscrowOwnershipTransferred }

func (e OwnershipTransferred) Event() *types.Event {
	return &types.Event{
		Type: TypeEscrowOwnershipTransferred,
		Attributes: map[string]string{
			"previousOwner": hex.EncodeToString(e.Previous[:]),
			"newOwner":      hex.EncodeToString(e.Next[:]),
		},
	}
}

// NativeReceived is emitted when unsolicited native currency lands in the
// custody vault outside of a deposit.
type NativeReceived struct {
	From   [20]byte
	Amount *big.Int
}

func (NativeReceived) EventType() string { return TypeEscrowNativeReceived }

func (e NativeReceived) Event() *types.Event {
	return &types.Event{
		Type: TypeEscrowNativeReceived,
		Attributes: map[string]string{
			"from":   hex.EncodeToString(e.From[:]),
			"amount": formatAmount(e.Amount),
		},
	}
}

// UpgradeAuthorized is emitted when the owner approves a schema migration
// target.
type UpgradeAuthorized struct {
	Owner   [20]byte
	Version uint64
}

func (UpgradeAuthorized) EventType() string { return TypeEscrowUpgradeAuthorized }

func (e UpgradeAuthorized) Event() *types.Event {
	return &types.Event{
		Type: TypeEscrowUpgradeAuthorized,
		Attributes: map[string]string{
			"owner":   hex.EncodeToString(e.Owner[:]),
			"version": strconv.FormatUint(e.Version, 10),
		},
	}
}

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func intToString(v int64) string {
	return strconv.FormatInt(v, 10)
}
