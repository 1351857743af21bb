package state

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"reflect"
	"sync"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"deedescrow/storage"
)

var (
	// ErrNoTransaction is returned when a write is attempted outside Atomic.
	ErrNoTransaction = errors.New("state: write outside transaction")
	// ErrNestedTransaction is returned when Atomic is re-entered from inside a
	// running transaction.
	ErrNestedTransaction = errors.New("state: nested transaction")
)

// TxObserver is notified when a transaction started by Atomic ends. Both
// callbacks run while the state lock is still held so observers see
// transactions in commit order.
type TxObserver interface {
	Committed()
	Aborted()
}

type pendingWrite struct {
	value   []byte
	deleted bool
}

// Manager is the single writer of escrow, bank and registry state. Writes are
// staged in a journal and reach the backing database only when the enclosing
// Atomic call returns without error, so every state transition is
// all-or-nothing.
type Manager struct {
	mu        sync.Mutex
	db        storage.Database
	pending   map[string]pendingWrite
	observers []TxObserver
}

// NewManager creates a state manager operating on the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

// AddObserver registers an observer for transaction outcomes.
func (m *Manager) AddObserver(o TxObserver) {
	if m == nil || o == nil {
		return
	}
	m.mu.Lock()
	m.observers = append(m.observers, o)
	m.mu.Unlock()
}

func (m *Manager) notify(committed bool) {
	for _, o := range m.observers {
		if committed {
			o.Committed()
		} else {
			o.Aborted()
		}
	}
}

func kvKey(key []byte) []byte {
	return ethcrypto.Keccak256(key)
}

// Atomic runs fn as one state transition. Writes made by fn are committed in a
// single database batch if fn succeeds and discarded otherwise.
func (m *Manager) Atomic(fn func() error) (err error) {
	if m == nil || m.db == nil {
		return fmt.Errorf("state: manager not configured")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pending != nil {
		return ErrNestedTransaction
	}
	m.pending = make(map[string]pendingWrite)
	defer func() {
		if r := recover(); r != nil {
			m.pending = nil
			m.notify(false)
			panic(r)
		}
	}()
	if err := fn(); err != nil {
		m.pending = nil
		m.notify(false)
		return err
	}
	batch := storage.NewBatch()
	for key, write := range m.pending {
		if write.deleted {
			batch.Delete([]byte(key))
			continue
		}
		batch.Put([]byte(key), write.value)
	}
	m.pending = nil
	if err := m.db.Write(batch); err != nil {
		m.notify(false)
		return fmt.Errorf("state: commit: %w", err)
	}
	m.notify(true)
	return nil
}

// View runs fn while holding the state lock so reads observe a committed,
// consistent snapshot.
func (m *Manager) View(fn func() error) error {
	if m == nil || m.db == nil {
		return fmt.Errorf("state: manager not configured")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn()
}

func (m *Manager) read(hashed []byte) ([]byte, error) {
	if m.pending != nil {
		if write, ok := m.pending[string(hashed)]; ok {
			if write.deleted {
				return nil, nil
			}
			return write.value, nil
		}
	}
	data, err := m.db.Get(hashed)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	return data, err
}

func (m *Manager) write(hashed []byte, value []byte) error {
	if m.pending == nil {
		return ErrNoTransaction
	}
	if len(value) == 0 {
		m.pending[string(hashed)] = pendingWrite{deleted: true}
		return nil
	}
	m.pending[string(hashed)] = pendingWrite{value: append([]byte(nil), value...)}
	return nil
}

// KVPut stores the RLP encoding of value under key.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	return m.write(kvKey(key), encoded)
}

// KVGet retrieves the value stored under the supplied key and decodes it into
// the provided destination. The boolean return value indicates whether the key
// existed in state.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	data, err := m.read(kvKey(key))
	if err != nil {
		return false, err
	}
	if len(data) == 0 {
		return false, nil
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, err
	}
	return true, nil
}

// KVDelete removes the key from state.
func (m *Manager) KVDelete(key []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	return m.write(kvKey(key), nil)
}

// KVAppend appends the provided value to the RLP-encoded byte slice list stored
// under the supplied key. Duplicate values are ignored to keep the index
// deterministic.
func (m *Manager) KVAppend(key []byte, value []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	hashed := kvKey(key)
	data, err := m.read(hashed)
	if err != nil {
		return err
	}
	var list [][]byte
	if len(data) > 0 {
		if err := rlp.DecodeBytes(data, &list); err != nil {
			return err
		}
	}
	for _, existing := range list {
		if bytes.Equal(existing, value) {
			return nil
		}
	}
	list = append(list, append([]byte(nil), value...))
	encoded, err := rlp.EncodeToBytes(list)
	if err != nil {
		return err
	}
	return m.write(hashed, encoded)
}

// KVGetList decodes the list stored under key into out. Missing keys yield an
// empty slice.
func (m *Manager) KVGetList(key []byte, out interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	data, err := m.read(kvKey(key))
	if err != nil {
		return err
	}
	if len(data) == 0 {
		val := reflect.ValueOf(out)
		if val.Kind() != reflect.Ptr || val.IsNil() {
			return fmt.Errorf("kv: destination must be a non-nil pointer")
		}
		elem := val.Elem()
		if elem.Kind() != reflect.Slice {
			return fmt.Errorf("kv: destination must point to a slice")
		}
		elem.Set(reflect.MakeSlice(elem.Type(), 0, 0))
		return nil
	}
	return rlp.DecodeBytes(data, out)
}

// LoadBigInt reads a big integer counter, returning zero when unset.
func (m *Manager) LoadBigInt(key []byte) (*big.Int, error) {
	value := new(big.Int)
	ok, err := m.KVGet(key, value)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return value, nil
}

// WriteBigInt stores a big integer counter. Negative values are rejected.
func (m *Manager) WriteBigInt(key []byte, value *big.Int) error {
	if value == nil {
		value = big.NewInt(0)
	}
	if value.Sign() < 0 {
		return fmt.Errorf("state: negative value for %s", key)
	}
	return m.KVPut(key, value)
}
