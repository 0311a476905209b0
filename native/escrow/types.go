package escrow

import (
	"fmt"
	"math/big"
	"strings"
)

// AssetKind distinguishes the two asset categories the engine can hold in
// custody. The zero value is the token kind so records persisted before the
// native category existed keep decoding unchanged.
type AssetKind uint8

const (
	AssetToken AssetKind = iota
	AssetNative
)

// Valid reports whether the kind value is within the supported range.
func (k AssetKind) Valid() bool {
	switch k {
	case AssetToken, AssetNative:
		return true
	default:
		return false
	}
}

func (k AssetKind) String() string {
	switch k {
	case AssetToken:
		return "token"
	case AssetNative:
		return "native"
	default:
		return "unknown"
	}
}

// Asset identifies what is held in custody for a record: either the chain's
// native currency or a fungible token named by its symbol. The tagged form
// replaces sentinel-address dispatch so transfer code matches exhaustively on
// the kind.
type Asset struct {
	Kind  AssetKind
	Token string
}

// NativeAsset returns the descriptor for the native currency.
func NativeAsset() Asset { return Asset{Kind: AssetNative} }

// TokenAsset returns the descriptor for a fungible token identified by symbol.
func TokenAsset(symbol string) Asset {
	return Asset{Kind: AssetToken, Token: symbol}
}

// NormalizeAsset validates the descriptor and returns its canonical form:
// token symbols are upper-cased and trimmed, native assets carry no symbol.
func NormalizeAsset(a Asset) (Asset, error) {
	switch a.Kind {
	case AssetNative:
		if strings.TrimSpace(a.Token) != "" {
			return Asset{}, fmt.Errorf("%w: native asset must not carry a token symbol", ErrInvalidAsset)
		}
		return Asset{Kind: AssetNative}, nil
	case AssetToken:
		symbol := strings.ToUpper(strings.TrimSpace(a.Token))
		if symbol == "" {
			return Asset{}, fmt.Errorf("%w: token asset requires a symbol", ErrInvalidAsset)
		}
		return Asset{Kind: AssetToken, Token: symbol}, nil
	default:
		return Asset{}, fmt.Errorf("%w: unknown asset kind %d", ErrInvalidAsset, a.Kind)
	}
}

// Key returns the canonical storage key component for the asset.
func (a Asset) Key() string {
	if a.Kind == AssetNative {
		return "native"
	}
	return "token/" + a.Token
}

func (a Asset) String() string {
	if a.Kind == AssetNative {
		return "NATIVE"
	}
	return a.Token
}

// TransactionRecord is the unit of escrowed value. Records are immutable once
// created; terminal resolution removes them from the ledger instead of
// flipping a status field, so existence alone marks the open lifetime.
type TransactionRecord struct {
	ID        [32]byte
	Payee     [20]byte
	Recipient [20]byte
	Asset     Asset
	Amount    *big.Int
	CreatedAt int64
}

// Clone returns a deep copy of the record so callers can safely mutate the
// copy without affecting the stored instance.
func (r *TransactionRecord) Clone() *TransactionRecord {
	if r == nil {
		return nil
	}
	clone := *r
	if r.Amount != nil {
		clone.Amount = new(big.Int).Set(r.Amount)
	} else {
		clone.Amount = big.NewInt(0)
	}
	return &clone
}

// SanitizeRecord validates and normalises the supplied record, returning a
// cloned instance with a canonical asset descriptor and a non-nil amount. The
// function does not mutate the original value.
func SanitizeRecord(r *TransactionRecord) (*TransactionRecord, error) {
	if r == nil {
		return nil, fmt.Errorf("escrow: nil record")
	}
	clone := r.Clone()
	asset, err := NormalizeAsset(clone.Asset)
	if err != nil {
		return nil, err
	}
	clone.Asset = asset
	if clone.Amount == nil || clone.Amount.Sign() <= 0 {
		return nil, ErrAmountZero
	}
	if clone.Recipient == ([20]byte{}) {
		return nil, ErrRecipientZero
	}
	if clone.CreatedAt <= 0 {
		return nil, fmt.Errorf("escrow: record requires a positive creation time")
	}
	return clone, nil
}
