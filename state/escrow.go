package state

import (
	"fmt"
	"math/big"

	"escrowd/native/escrow"
)

var (
	recordPrefix = []byte("escrow/record:")
	sequenceKey  = []byte("escrow/sequence")
	intervalKey  = []byte("escrow/interval")
	ownerKey     = []byte("escrow/owner")
)

func recordStorageKey(id [32]byte) []byte {
	buf := make([]byte, len(recordPrefix)+len(id))
	copy(buf, recordPrefix)
	copy(buf[len(recordPrefix):], id[:])
	return buf
}

// storedRecord is the persisted layout of a transaction record. AssetKind is
// a trailing optional field: records written before the native asset category
// existed decode with the zero value, which is the token kind. New fields may
// only ever be appended here, each as rlp:"optional", so every layout stays
// an additive superset of its predecessors.
type storedRecord struct {
	ID        [32]byte
	Payee     [20]byte
	Recipient [20]byte
	Token     string
	Amount    *big.Int
	CreatedAt *big.Int
	AssetKind uint8 `rlp:"optional"`
}

func newStoredRecord(r *escrow.TransactionRecord) *storedRecord {
	if r == nil {
		return nil
	}
	amount := big.NewInt(0)
	if r.Amount != nil {
		amount = new(big.Int).Set(r.Amount)
	}
	return &storedRecord{
		ID:        r.ID,
		Payee:     r.Payee,
		Recipient: r.Recipient,
		Token:     r.Asset.Token,
		Amount:    amount,
		CreatedAt: big.NewInt(r.CreatedAt),
		AssetKind: uint8(r.Asset.Kind),
	}
}

func (s *storedRecord) toRecord() (*escrow.TransactionRecord, error) {
	if s == nil {
		return nil, fmt.Errorf("state: nil storage record")
	}
	asset, err := escrow.NormalizeAsset(escrow.Asset{Kind: escrow.AssetKind(s.AssetKind), Token: s.Token})
	if err != nil {
		return nil, err
	}
	out := &escrow.TransactionRecord{
		ID:        s.ID,
		Payee:     s.Payee,
		Recipient: s.Recipient,
		Asset:     asset,
		Amount:    big.NewInt(0),
	}
	if s.Amount != nil {
		out.Amount = new(big.Int).Set(s.Amount)
	}
	if s.CreatedAt != nil {
		out.CreatedAt = s.CreatedAt.Int64()
	}
	return out, nil
}

// EscrowPut persists the record under its identifier after validation.
func (m *Manager) EscrowPut(r *escrow.TransactionRecord) error {
	sanitized, err := escrow.SanitizeRecord(r)
	if err != nil {
		return err
	}
	return m.KVPut(recordStorageKey(sanitized.ID), newStoredRecord(sanitized))
}

// EscrowGet loads the open record stored under id. Absence covers both
// never-created and already-resolved identifiers.
func (m *Manager) EscrowGet(id [32]byte) (*escrow.TransactionRecord, bool) {
	stored := new(storedRecord)
	ok, err := m.KVGet(recordStorageKey(id), stored)
	if err != nil || !ok {
		return nil, false
	}
	record, err := stored.toRecord()
	if err != nil {
		return nil, false
	}
	return record, true
}

// EscrowDelete removes the record, marking terminal resolution.
func (m *Manager) EscrowDelete(id [32]byte) error {
	return m.KVDelete(recordStorageKey(id))
}

// EscrowNextSequence increments and returns the transaction sequence counter.
func (m *Manager) EscrowNextSequence() (uint64, error) {
	var current uint64
	if _, err := m.KVGet(sequenceKey, &current); err != nil {
		return 0, err
	}
	next := current + 1
	if next == 0 {
		return 0, fmt.Errorf("state: sequence counter overflow")
	}
	if err := m.KVPut(sequenceKey, next); err != nil {
		return 0, err
	}
	return next, nil
}

// EscrowRevertSequence undoes a sequence increment after a failed deposit.
func (m *Manager) EscrowRevertSequence(seq uint64) {
	if seq == 0 {
		return
	}
	_ = m.KVPut(sequenceKey, seq-1)
}

// EscrowSequence returns the number of transactions ever created.
func (m *Manager) EscrowSequence() (uint64, error) {
	var current uint64
	if _, err := m.KVGet(sequenceKey, &current); err != nil {
		return 0, err
	}
	return current, nil
}

// EscrowInterval returns the configured claim window in seconds.
func (m *Manager) EscrowInterval() (uint64, error) {
	var interval uint64
	if _, err := m.KVGet(intervalKey, &interval); err != nil {
		return 0, err
	}
	return interval, nil
}

// EscrowSetInterval replaces the claim window.
func (m *Manager) EscrowSetInterval(seconds uint64) error {
	return m.KVPut(intervalKey, seconds)
}

// EscrowOwner returns the operator principal, or the zero address when the
// state has never been bootstrapped.
func (m *Manager) EscrowOwner() ([20]byte, error) {
	var owner [20]byte
	if _, err := m.KVGet(ownerKey, &owner); err != nil {
		return [20]byte{}, err
	}
	return owner, nil
}

// EscrowSetOwner replaces the operator principal.
func (m *Manager) EscrowSetOwner(owner [20]byte) error {
	return m.KVPut(ownerKey, owner)
}

// Bootstrap seeds the owner and interval on a fresh database. Values already
// present are left untouched so restarting or upgrading a node can never
// reset the operator or the claim window.
func (m *Manager) Bootstrap(owner [20]byte, interval uint64) error {
	hasOwner, err := m.KVHas(ownerKey)
	if err != nil {
		return err
	}
	if !hasOwner {
		if owner == ([20]byte{}) {
			return escrow.ErrOwnerZero
		}
		if err := m.EscrowSetOwner(owner); err != nil {
			return err
		}
	}
	hasInterval, err := m.KVHas(intervalKey)
	if err != nil {
		return err
	}
	if !hasInterval {
		if err := m.EscrowSetInterval(interval); err != nil {
			return err
		}
	}
	return nil
}
