package state

import (
	"errors"
	"fmt"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"p2pescrow/storage"
)

// Manager persists escrow records as RLP values in a key-value database.
type Manager struct {
	db storage.Database
}

// NewManager creates a state manager operating on the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

func kvKey(key []byte) []byte {
	return ethcrypto.Keccak256(key)
}

// KVPut stores the provided value under the supplied key using RLP encoding.
// The key is hashed with keccak256 so every record has a fixed-width key.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	return m.db.Put(kvKey(key), encoded)
}

// KVGet retrieves the value stored under the supplied key and decodes it into
// the provided destination. The boolean return value indicates whether the key
// existed in state.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	data, err := m.db.Get(kvKey(key))
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
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

// KVDelete removes the value stored under key.
func (m *Manager) KVDelete(key []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	return m.db.Delete(kvKey(key))
}

// KVBatch queues RLP encoded writes for one atomic commit.
type KVBatch struct {
	batch storage.Batch
	err   error
}

// Put encodes value and queues it under key. The first encoding error is
// reported by Manager.KVWrite.
func (b *KVBatch) Put(key []byte, value interface{}) {
	if b.err != nil {
		return
	}
	if len(key) == 0 {
		b.err = fmt.Errorf("kv: key must not be empty")
		return
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		b.err = err
		return
	}
	b.batch.Put(kvKey(key), encoded)
}

// KVWrite commits every value queued in b, or none of them.
func (m *Manager) KVWrite(b *KVBatch) error {
	if b.err != nil {
		return b.err
	}
	return m.db.Write(&b.batch)
}
