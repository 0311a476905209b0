package escrow

import (
	"encoding/binary"
	"fmt"
	"math/big"
	"sync"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"escrowd/core/events"
)

// EngineVersion identifies the escrow engine revision compiled into this
// binary. Version 2 introduced the native asset category; the persisted
// schema tracks the same number so observers can assert upgrade success.
const EngineVersion uint64 = 2

type engineState interface {
	EscrowPut(*TransactionRecord) error
	EscrowGet(id [32]byte) (*TransactionRecord, bool)
	EscrowDelete(id [32]byte) error
	EscrowNextSequence() (uint64, error)
	EscrowRevertSequence(seq uint64)
	EscrowInterval() (uint64, error)
	EscrowSetInterval(uint64) error
	EscrowOwner() ([20]byte, error)
	EscrowSetOwner([20]byte) error
	EscrowSetUpgradeAuthorization(uint64) error
}

type assetTransfer interface {
	Pull(asset Asset, from [20]byte, amount *big.Int) error
	Push(asset Asset, to [20]byte, amount *big.Int) error
}

// Engine wires the escrow state machine with external state, the asset
// transfer capability and an event emitter. Every state-mutating operation
// runs under a per-engine mutex so the record check-and-delete is the single
// point of truth and no transfer can observe partially applied state.
type Engine struct {
	mu      sync.Mutex
	state   engineState
	assets  assetTransfer
	emitter events.Emitter
	nowFn   func() int64
}

// NewEngine creates an escrow engine with a no-op emitter. Callers can
// override the emitter via SetEmitter.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the ledger backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetAssets configures the asset transfer capability used to move funds in
// and out of custody.
func (e *Engine) SetAssets(assets assetTransfer) { e.assets = assets }

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

func (e *Engine) emit(event events.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(event)
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) ready() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.assets == nil {
		return errNilAssets
	}
	return nil
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

// deriveTransactionID hashes the recipient, creation time and sequence number
// into the record identifier. The sequence component keeps two deposits in
// the same instant from colliding and the hash keeps identifiers unforgeable
// ahead of creation.
func deriveTransactionID(recipient [20]byte, createdAt int64, seq uint64) [32]byte {
	buf := make([]byte, len(recipient)+16)
	copy(buf, recipient[:])
	binary.BigEndian.PutUint64(buf[len(recipient):], uint64(createdAt))
	binary.BigEndian.PutUint64(buf[len(recipient)+8:], seq)
	hash := ethcrypto.Keccak256(buf)
	var id [32]byte
	copy(id[:], hash)
	return id
}

func (e *Engine) requireOwner(caller [20]byte) error {
	owner, err := e.state.EscrowOwner()
	if err != nil {
		return err
	}
	if owner == ([20]byte{}) || caller != owner {
		return ErrNotAuthorized
	}
	return nil
}

// Deposit places amount of asset into custody on behalf of payee, earmarked
// for recipient, and returns the fresh transaction identifier. The record is
// written before the inbound transfer so custody never reflects funds the
// ledger does not know about; a failed pull rolls the record and the sequence
// counter back.
func (e *Engine) Deposit(payee, recipient [20]byte, asset Asset, amount *big.Int) ([32]byte, error) {
	if err := e.ready(); err != nil {
		return [32]byte{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	normalized, err := NormalizeAsset(asset)
	if err != nil {
		return [32]byte{}, err
	}
	amt := cloneBigInt(amount)
	if amt.Sign() <= 0 {
		return [32]byte{}, ErrAmountZero
	}
	if recipient == ([20]byte{}) {
		return [32]byte{}, ErrRecipientZero
	}
	now := e.now()
	if now <= 0 {
		return [32]byte{}, fmt.Errorf("escrow: clock before epoch")
	}
	seq, err := e.state.EscrowNextSequence()
	if err != nil {
		return [32]byte{}, err
	}
	id := deriveTransactionID(recipient, now, seq)
	record := &TransactionRecord{
		ID:        id,
		Payee:     payee,
		Recipient: recipient,
		Asset:     normalized,
		Amount:    amt,
		CreatedAt: now,
	}
	if err := e.state.EscrowPut(record); err != nil {
		e.state.EscrowRevertSequence(seq)
		return [32]byte{}, err
	}
	if err := e.assets.Pull(normalized, payee, amt); err != nil {
		_ = e.state.EscrowDelete(id)
		e.state.EscrowRevertSequence(seq)
		return [32]byte{}, err
	}
	e.emit(events.Deposited{
		ID:        id,
		Payee:     payee,
		Recipient: recipient,
		Asset:     normalized.String(),
		Amount:    cloneBigInt(amt),
		CreatedAt: now,
	})
	return id, nil
}

// DepositNative is the native-currency deposit variant: the amount is the
// value accompanying the call rather than a token pull.
func (e *Engine) DepositNative(payee, recipient [20]byte, amount *big.Int) ([32]byte, error) {
	return e.Deposit(payee, recipient, NativeAsset(), amount)
}

// Claim releases the escrowed funds to the recorded recipient when invoked
// inside the claim window. The record is deleted before the outbound transfer
// (checks-effects-interactions); a failed push re-inserts the record so the
// ledger never diverges from custody. Any caller may claim any identifier —
// funds only ever move to the recorded recipient.
func (e *Engine) Claim(id [32]byte) (*TransactionRecord, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	record, ok := e.state.EscrowGet(id)
	if !ok {
		return nil, ErrInvalidTxID
	}
	interval, err := e.state.EscrowInterval()
	if err != nil {
		return nil, err
	}
	if recordAge(e.now(), record.CreatedAt) > interval {
		return nil, ErrClaimExpired
	}
	if err := e.state.EscrowDelete(id); err != nil {
		return nil, err
	}
	if err := e.assets.Push(record.Asset, record.Recipient, record.Amount); err != nil {
		if putErr := e.state.EscrowPut(record); putErr != nil {
			return nil, fmt.Errorf("escrow: restore record after failed claim transfer: %w", putErr)
		}
		return nil, err
	}
	e.emit(events.Claimed{
		ID:        id,
		Recipient: record.Recipient,
		Asset:     record.Asset.String(),
		Amount:    cloneBigInt(record.Amount),
	})
	return record.Clone(), nil
}

// Redeem returns the escrowed funds to the payee once the claim window has
// elapsed. Symmetric to Claim in ordering and atomicity.
func (e *Engine) Redeem(id [32]byte) (*TransactionRecord, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	record, ok := e.state.EscrowGet(id)
	if !ok {
		return nil, ErrInvalidTxID
	}
	interval, err := e.state.EscrowInterval()
	if err != nil {
		return nil, err
	}
	if recordAge(e.now(), record.CreatedAt) <= interval {
		return nil, ErrClaimNotExpired
	}
	if err := e.state.EscrowDelete(id); err != nil {
		return nil, err
	}
	if err := e.assets.Push(record.Asset, record.Payee, record.Amount); err != nil {
		if putErr := e.state.EscrowPut(record); putErr != nil {
			return nil, fmt.Errorf("escrow: restore record after failed redeem transfer: %w", putErr)
		}
		return nil, err
	}
	e.emit(events.Redeemed{
		ID:     id,
		Payee:  record.Payee,
		Asset:  record.Asset.String(),
		Amount: cloneBigInt(record.Amount),
	})
	return record.Clone(), nil
}

// UpdateInterval replaces the claim window length. The change applies
// immediately to all open records because the window is evaluated live
// against each record's age. Zero is accepted and effectively disables
// future claims.
func (e *Engine) UpdateInterval(caller [20]byte, seconds uint64) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.requireOwner(caller); err != nil {
		return err
	}
	old, err := e.state.EscrowInterval()
	if err != nil {
		return err
	}
	if err := e.state.EscrowSetInterval(seconds); err != nil {
		return err
	}
	e.emit(events.IntervalUpdated{OldSeconds: old, NewSeconds: seconds})
	return nil
}

// TransferOwnership hands the operator role to a new principal in a single
// step; the new owner takes effect immediately.
func (e *Engine) TransferOwnership(caller, newOwner [20]byte) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.requireOwner(caller); err != nil {
		return err
	}
	if newOwner == ([20]byte{}) {
		return ErrOwnerZero
	}
	if err := e.state.EscrowSetOwner(newOwner); err != nil {
		return err
	}
	e.emit(events.OwnershipTransferred{Previous: caller, Next: newOwner})
	return nil
}

// AuthorizeUpgrade records the owner's approval for migrating the persisted
// state to the target schema version. The migration runner refuses to apply
// any step the owner has not authorized.
func (e *Engine) AuthorizeUpgrade(caller [20]byte, target uint64) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.requireOwner(caller); err != nil {
		return err
	}
	if target == 0 {
		return fmt.Errorf("escrow: upgrade target must be positive")
	}
	if err := e.state.EscrowSetUpgradeAuthorization(target); err != nil {
		return err
	}
	e.emit(events.UpgradeAuthorized{Owner: caller, Version: target})
	return nil
}

// ReceiveNative credits unsolicited native currency to custody and surfaces
// the fact to observers. No record is created; the funds belong to the
// custody vault until an operator intervenes.
func (e *Engine) ReceiveNative(from [20]byte, amount *big.Int) error {
	if err := e.ready(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	amt := cloneBigInt(amount)
	if amt.Sign() <= 0 {
		return ErrAmountZero
	}
	if err := e.assets.Pull(NativeAsset(), from, amt); err != nil {
		return err
	}
	e.emit(events.NativeReceived{From: from, Amount: amt})
	return nil
}

// Get returns a copy of the open record stored under id.
func (e *Engine) Get(id [32]byte) (*TransactionRecord, bool) {
	if e == nil || e.state == nil {
		return nil, false
	}
	record, ok := e.state.EscrowGet(id)
	if !ok {
		return nil, false
	}
	return record.Clone(), true
}

// Interval returns the configured claim window in seconds.
func (e *Engine) Interval() (uint64, error) {
	if e == nil || e.state == nil {
		return 0, errNilState
	}
	return e.state.EscrowInterval()
}

// Owner returns the current operator principal.
func (e *Engine) Owner() ([20]byte, error) {
	if e == nil || e.state == nil {
		return [20]byte{}, errNilState
	}
	return e.state.EscrowOwner()
}

// Version reports the engine revision compiled into the running binary.
func (e *Engine) Version() uint64 { return EngineVersion }

// recordAge measures how long the record has been open. A clock reading
// behind the creation time counts as zero age so the record stays claimable.
func recordAge(now, createdAt int64) uint64 {
	if now <= createdAt {
		return 0
	}
	return uint64(now - createdAt)
}
