package state

import (
	"errors"
	"fmt"
	"reflect"
	"sync"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"reserveledger/storage"
)

var (
	// ErrTxClosed is returned when a committed or discarded transaction is reused.
	ErrTxClosed = errors.New("state: transaction closed")
	// ErrTxActive is returned when a second writable transaction is opened.
	ErrTxActive = errors.New("state: another transaction is active")
)

// Manager owns the key-value store backing the ledger. All writes go
// through a Tx so that a failed operation leaves the store untouched.
type Manager struct {
	db storage.Database

	mu     sync.Mutex
	active bool
}

// NewManager creates a state manager operating on the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

// Database exposes the underlying store.
func (m *Manager) Database() storage.Database {
	if m == nil {
		return nil
	}
	return m.db
}

// Begin opens a writable overlay. Only one writable transaction may be open
// at a time; callers serialize operations above the manager.
func (m *Manager) Begin() (*Tx, error) {
	if m == nil || m.db == nil {
		return nil, fmt.Errorf("state: manager not initialised")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active {
		return nil, ErrTxActive
	}
	m.active = true
	return newTx(m, false), nil
}

// View opens a read-only overlay. Writes are buffered but can never be
// committed, which lets queries reuse module code that settles lazily.
func (m *Manager) View() *Tx {
	return newTx(m, true)
}

func (m *Manager) release() {
	m.mu.Lock()
	m.active = false
	m.mu.Unlock()
}

func kvKey(key []byte) []byte {
	return ethcrypto.Keccak256(key)
}

// Tx buffers writes over the manager's database until Commit.
type Tx struct {
	manager  *Manager
	readOnly bool
	closed   bool
	writes   map[string][]byte
	deletes  map[string]struct{}
	order    []string
}

func newTx(m *Manager, readOnly bool) *Tx {
	return &Tx{
		manager:  m,
		readOnly: readOnly,
		writes:   make(map[string][]byte),
		deletes:  make(map[string]struct{}),
	}
}

func (tx *Tx) touch(hashed string) {
	if _, ok := tx.writes[hashed]; ok {
		return
	}
	if _, ok := tx.deletes[hashed]; ok {
		return
	}
	tx.order = append(tx.order, hashed)
}

func (tx *Tx) raw(hashed []byte) ([]byte, error) {
	if tx.closed {
		return nil, ErrTxClosed
	}
	key := string(hashed)
	if value, ok := tx.writes[key]; ok {
		return value, nil
	}
	if _, ok := tx.deletes[key]; ok {
		return nil, nil
	}
	data, err := tx.manager.db.Get(hashed)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	return data, err
}

func (tx *Tx) setRaw(hashed []byte, value []byte) error {
	if tx.closed {
		return ErrTxClosed
	}
	key := string(hashed)
	tx.touch(key)
	delete(tx.deletes, key)
	tx.writes[key] = value
	return nil
}

// KVPut stores the RLP encoding of value under key.
func (tx *Tx) KVPut(key []byte, value interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	return tx.setRaw(kvKey(key), encoded)
}

// KVGet retrieves the value stored under the supplied key and decodes it into
// the provided destination. The boolean return value indicates whether the key
// existed in state.
func (tx *Tx) KVGet(key []byte, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	data, err := tx.raw(kvKey(key))
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

// KVDelete removes key.
func (tx *Tx) KVDelete(key []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	if tx.closed {
		return ErrTxClosed
	}
	hashed := string(kvKey(key))
	tx.touch(hashed)
	delete(tx.writes, hashed)
	tx.deletes[hashed] = struct{}{}
	return nil
}

// KVAppend adds value to the list stored under key if it is not already
// present.
func (tx *Tx) KVAppend(key []byte, value []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	hashed := kvKey(key)
	data, err := tx.raw(hashed)
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
		if string(existing) == string(value) {
			return nil
		}
	}
	list = append(list, append([]byte(nil), value...))
	encoded, err := rlp.EncodeToBytes(list)
	if err != nil {
		return err
	}
	return tx.setRaw(hashed, encoded)
}

// KVGetList decodes the list stored under key into out, which must be a
// pointer to a slice. A missing key yields an empty slice.
func (tx *Tx) KVGetList(key []byte, out interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	val := reflect.ValueOf(out)
	if val.Kind() != reflect.Ptr || val.IsNil() {
		return fmt.Errorf("kv: destination must be a non-nil pointer")
	}
	elem := val.Elem()
	if elem.Kind() != reflect.Slice {
		return fmt.Errorf("kv: destination must point to a slice")
	}
	data, err := tx.raw(kvKey(key))
	if err != nil {
		return err
	}
	if len(data) == 0 {
		elem.Set(reflect.MakeSlice(elem.Type(), 0, 0))
		return nil
	}
	return rlp.DecodeBytes(data, out)
}

// Dirty reports how many keys the transaction has touched.
func (tx *Tx) Dirty() int {
	if tx == nil {
		return 0
	}
	return len(tx.order)
}

// Commit writes every buffered change in one batch and closes the
// transaction.
func (tx *Tx) Commit() error {
	if tx == nil || tx.closed {
		return ErrTxClosed
	}
	if tx.readOnly {
		return fmt.Errorf("state: read-only transaction cannot commit")
	}
	batch := storage.NewBatch()
	for _, key := range tx.order {
		if _, ok := tx.deletes[key]; ok {
			batch.Delete([]byte(key))
			continue
		}
		batch.Put([]byte(key), tx.writes[key])
	}
	err := tx.manager.db.Write(batch)
	tx.close()
	return err
}

// Discard drops every buffered change. Calling it after Commit is a no-op.
func (tx *Tx) Discard() {
	if tx == nil || tx.closed {
		return
	}
	tx.close()
}

func (tx *Tx) close() {
	tx.closed = true
	tx.writes = nil
	tx.deletes = nil
	tx.order = nil
	if !tx.readOnly {
		tx.manager.release()
	}
}
