package escrow

import "errors"

var (
	// ErrAmountZero rejects deposits that carry no value.
	ErrAmountZero = errors.New("escrow: amount cannot be zero")
	// ErrRecipientZero rejects deposits addressed to the null identity.
	ErrRecipientZero = errors.New("escrow: recipient cannot be zero")
	// ErrInvalidTxID covers unknown identifiers and records that have already
	// been resolved by a claim or redeem.
	ErrInvalidTxID = errors.New("escrow: invalid transaction id")
	// ErrClaimExpired is returned when a claim arrives after the window.
	ErrClaimExpired = errors.New("escrow: claim window expired")
	// ErrClaimNotExpired is returned when a redeem arrives before the window
	// has elapsed.
	ErrClaimNotExpired = errors.New("escrow: claim window not expired")
	// ErrNotAuthorized is returned when a non-owner attempts an owner-only
	// operation.
	ErrNotAuthorized = errors.New("escrow: not authorized")
	// ErrOwnerZero rejects ownership transfers to the null identity.
	ErrOwnerZero = errors.New("escrow: owner cannot be zero")
	// ErrInvalidAsset rejects malformed asset descriptors.
	ErrInvalidAsset = errors.New("escrow: invalid asset")

	errNilState  = errors.New("escrow engine: state not configured")
	errNilAssets = errors.New("escrow engine: asset transfer not configured")
)
