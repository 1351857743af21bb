package state

import (
	"errors"
	"fmt"
	"math"
)

// SchemaVersion identifies the on-disk layout of escrow, bank and registry
// state. Bump it whenever stored records change shape.
const SchemaVersion uint32 = 1

var (
	schemaVersionKey = []byte("state/version")
	// ErrSchemaMismatch indicates the data directory was written by a binary
	// with a different schema version.
	ErrSchemaMismatch = errors.New("state: schema version mismatch")
)

// StoredSchemaVersion returns the recorded schema version and whether one was
// present.
func (m *Manager) StoredSchemaVersion() (uint32, bool, error) {
	var stored uint64
	var ok bool
	err := m.View(func() error {
		var err error
		ok, err = m.KVGet(schemaVersionKey, &stored)
		return err
	})
	if err != nil || !ok {
		return 0, false, err
	}
	if stored > uint64(math.MaxUint32) {
		return 0, false, fmt.Errorf("state: schema version overflow: %d", stored)
	}
	return uint32(stored), true, nil
}

// EnsureSchemaVersion stamps an empty data directory with SchemaVersion and
// rejects directories stamped with any other version.
func (m *Manager) EnsureSchemaVersion() error {
	version, ok, err := m.StoredSchemaVersion()
	if err != nil {
		return err
	}
	if !ok {
		return m.Atomic(func() error {
			return m.KVPut(schemaVersionKey, uint64(SchemaVersion))
		})
	}
	if version != SchemaVersion {
		return fmt.Errorf("%w: on-disk=%d expected=%d", ErrSchemaMismatch, version, SchemaVersion)
	}
	return nil
}
