package state

import (
	"errors"
	"fmt"
	"time"

	"escrowd/native/escrow"
)

// SchemaVersion identifies the on-disk layout the running binary expects. It
// tracks the engine revision: version 2 introduced the native asset category
// via the optional trailing field on stored records.
const SchemaVersion uint64 = escrow.EngineVersion

var (
	schemaVersionKey = []byte("escrow/schema-version")
	upgradeAuthKey   = []byte("escrow/upgrade-authorized")
	upgradedAtFmt    = "escrow/upgraded-at/%d"
)

var (
	// ErrSchemaVersionMismatch indicates the stored schema version cannot be
	// interpreted by the running binary.
	ErrSchemaVersionMismatch = errors.New("state: schema version mismatch")
	// ErrUpgradeNotAuthorized indicates a migration step the owner has not
	// approved via the engine's upgrade authorization.
	ErrUpgradeNotAuthorized = errors.New("state: upgrade not authorized")
)

// SchemaVersionStored returns the persisted schema version and whether one
// was present.
func (m *Manager) SchemaVersionStored() (uint64, bool, error) {
	var stored uint64
	ok, err := m.KVGet(schemaVersionKey, &stored)
	if err != nil {
		return 0, false, err
	}
	return stored, ok, nil
}

// SetSchemaVersion records the provided schema version in state.
func (m *Manager) SetSchemaVersion(version uint64) error {
	return m.KVPut(schemaVersionKey, version)
}

// UpgradeAuthorization returns the owner-approved migration target, if any.
func (m *Manager) UpgradeAuthorization() (uint64, bool, error) {
	var target uint64
	ok, err := m.KVGet(upgradeAuthKey, &target)
	if err != nil {
		return 0, false, err
	}
	return target, ok, nil
}

// EscrowSetUpgradeAuthorization records the owner-approved migration target.
func (m *Manager) EscrowSetUpgradeAuthorization(target uint64) error {
	return m.KVPut(upgradeAuthKey, target)
}

func (m *Manager) clearUpgradeAuthorization() error {
	return m.KVDelete(upgradeAuthKey)
}

// Migration is one versioned state transformation. Apply must be additive: it
// may backfill or reshape bookkeeping but must never reset the interval, the
// owner, the sequence counter, or any open record.
type Migration struct {
	Version uint64
	Apply   func(m *Manager) error
}

// Migrations returns the ordered migration registry for this binary.
func Migrations() []Migration {
	return []Migration{
		{Version: 2, Apply: migrateV2},
	}
}

// migrateV2 accompanies the native asset category. Existing records need no
// rewrite because the asset kind arrives as an optional trailing field that
// old layouts decode to the token kind; only the cutover time is stamped for
// audit.
func migrateV2(m *Manager) error {
	return m.KVPut([]byte(fmt.Sprintf(upgradedAtFmt, 2)), uint64(time.Now().Unix()))
}

// Migrate brings the persisted state up to SchemaVersion. A fresh database is
// stamped with the current version without running any step. Databases
// written by an older binary require a prior owner authorization covering the
// target version; steps are applied strictly in order with the stored version
// advanced after each one, so a crash mid-migration resumes where it stopped.
func (m *Manager) Migrate(migrations []Migration) error {
	stored, ok, err := m.SchemaVersionStored()
	if err != nil {
		return err
	}
	if !ok {
		return m.SetSchemaVersion(SchemaVersion)
	}
	if stored == SchemaVersion {
		return nil
	}
	if stored > SchemaVersion {
		return fmt.Errorf("%w: on-disk=%d newer than binary=%d", ErrSchemaVersionMismatch, stored, SchemaVersion)
	}
	authorized, hasAuth, err := m.UpgradeAuthorization()
	if err != nil {
		return err
	}
	if !hasAuth || authorized < SchemaVersion {
		return fmt.Errorf("%w: target=%d", ErrUpgradeNotAuthorized, SchemaVersion)
	}
	for _, step := range migrations {
		if step.Version <= stored || step.Version > SchemaVersion {
			continue
		}
		if step.Apply != nil {
			if err := step.Apply(m); err != nil {
				return fmt.Errorf("state: migration to v%d: %w", step.Version, err)
			}
		}
		if err := m.SetSchemaVersion(step.Version); err != nil {
			return err
		}
		stored = step.Version
	}
	if stored != SchemaVersion {
		if err := m.SetSchemaVersion(SchemaVersion); err != nil {
			return err
		}
	}
	return m.clearUpgradeAuthorization()
}
