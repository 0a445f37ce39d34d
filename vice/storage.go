package vice

import (
	"errors"
	"fmt"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/dgraph-io/ristretto/v2"
)

const debugStorage = false

// Storage persists snapshot blobs by key.
type Storage interface {
	Put(key string, blob []byte) error
	// Get returns false when the key does not exist.
	Get(key string) ([]byte, bool, error)
	Delete(key string) error
	// Keys returns all keys in sorted order.
	Keys() ([]string, error)
	// KeysWithPrefix returns the sorted keys that begin with prefix.
	KeysWithPrefix(prefix string) ([]string, error)
	Clear() error
	Close() error
}

// KeyPrefixStorage scopes s to keys under prefix, so several sessions can share one store. Listed keys are returned
// without the prefix.
func KeyPrefixStorage(s Storage, prefix string) Storage {
	if prefix == "" {
		return s
	}
	return &prefixStorage{store: s, prefix: prefix + "/"}
}

type prefixStorage struct {
	store  Storage
	prefix string
}

func (p *prefixStorage) Put(key string, blob []byte) error {
	return p.store.Put(p.prefix+key, blob)
}

func (p *prefixStorage) Get(key string) ([]byte, bool, error) {
	return p.store.Get(p.prefix + key)
}

func (p *prefixStorage) Delete(key string) error {
	return p.store.Delete(p.prefix + key)
}

func (p *prefixStorage) KeysWithPrefix(prefix string) ([]string, error) {
	underlying, err := p.store.KeysWithPrefix(p.prefix + prefix)
	if err != nil {
		return nil, err
	}
	for i, k := range underlying {
		underlying[i] = strings.TrimPrefix(k, p.prefix)
	}
	return underlying, nil
}

func (p *prefixStorage) Keys() ([]string, error) {
	return p.KeysWithPrefix("")
}

// Clear removes only the keys under the prefix.
func (p *prefixStorage) Clear() error {
	keys, err := p.Keys()
	if err != nil {
		return err
	}
	for _, key := range keys {
		if err := p.Delete(key); err != nil {
			return err
		}
	}
	return nil
}

func (p *prefixStorage) Close() error {
	return p.store.Close()
}

type memStorage struct {
	mu   sync.Mutex
	data map[string][]byte
}

// NewMemStorage returns an in-memory Storage.
func NewMemStorage() Storage {
	return &memStorage{data: make(map[string][]byte)}
}

func (m *memStorage) Put(key string, blob []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.data[key] = append([]byte(nil), blob...)
	return nil
}

func (m *memStorage) Get(key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	blob, ok := m.data[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), blob...), true, nil
}

func (m *memStorage) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.data, key)
	return nil
}

func (m *memStorage) KeysWithPrefix(prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var keys []string
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	return keys, nil
}

func (m *memStorage) Keys() ([]string, error) {
	return m.KeysWithPrefix("")
}

func (m *memStorage) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	clear(m.data)
	return nil
}

func (m *memStorage) Close() error {
	return nil
}

type badgerStorage struct {
	path      string
	temporary bool
	db        *badger.DB
}

// BadgerOptions configures NewBadgerStorage.
type BadgerOptions struct {
	MaxMemMB int
	// Temporary removes the database directory on Close.
	Temporary bool
}

// NewBadgerStorage opens a Badger backed Storage at path. Snapshot blobs are compressed before they are stored, so
// the database's own compression is left off.
func NewBadgerStorage(path string, opts BadgerOptions) (Storage, error) {
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, fmt.Errorf("create storage dir failed: %w", err)
	}
	maxMemMB := opts.MaxMemMB
	if maxMemMB <= 0 {
		maxMemMB = 64
	}
	clamp := func(val, lo, high int64) int64 {
		return min(max(val, lo), high)
	}
	memTableSize := clamp(int64(maxMemMB/4), 8, 64) << 20
	dbOpts := badger.DefaultOptions(path).
		WithInMemory(false).
		WithCompression(options.None).
		WithNumMemtables(2).
		WithMemTableSize(memTableSize).
		WithBaseTableSize(memTableSize).
		WithIndexCacheSize(clamp(int64(maxMemMB/4), 8, 64) << 20).
		WithValueLogFileSize(64 << 20)
	if !debugStorage {
		dbOpts = dbOpts.
			WithLoggingLevel(badger.ERROR).
			WithMetricsEnabled(false)
	}

	db, err := badger.Open(dbOpts)
	if err != nil {
		return nil, fmt.Errorf("open storage db failed: %w", err)
	}
	if debugStorage {
		go logCacheMetrics(db)
	}
	return &badgerStorage{path: path, temporary: opts.Temporary, db: db}, nil
}

func logCacheMetrics(db *badger.DB) {
	for {
		time.Sleep(60 * time.Second)
		if db.IsClosed() {
			return
		}
		logMetrics := func(name string, metrics *ristretto.Metrics) {
			if metrics == nil {
				return
			} else if metrics.Hits() != 0 || metrics.Misses() != 0 {
				log.Println(name + ": " + metrics.String())
			}
			metrics.Clear()
		}
		logMetrics("block", db.BlockCacheMetrics())
		logMetrics("index", db.IndexCacheMetrics())
	}
}

func (b *badgerStorage) Put(key string, blob []byte) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), blob)
	})
}

func (b *badgerStorage) Get(key string) ([]byte, bool, error) {
	var blob []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		blob, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	} else if err != nil {
		return nil, false, err
	}
	return blob, true, nil
}

func (b *badgerStorage) Delete(key string) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
}

func (b *badgerStorage) KeysWithPrefix(prefix string) ([]string, error) {
	var keys []string
	err := b.db.View(func(txn *badger.Txn) error {
		itOpts := badger.DefaultIteratorOptions
		itOpts.PrefetchValues = false
		it := txn.NewIterator(itOpts)
		defer it.Close()
		for it.Seek([]byte(prefix)); it.ValidForPrefix([]byte(prefix)); it.Next() {
			keys = append(keys, string(it.Item().Key()))
		}
		return nil
	})
	return keys, err // iteration is in key order
}

func (b *badgerStorage) Keys() ([]string, error) {
	return b.KeysWithPrefix("")
}

func (b *badgerStorage) Clear() error {
	return b.db.DropAll()
}

func (b *badgerStorage) Close() error {
	err := b.db.Close()
	if b.temporary {
		err = errors.Join(err, os.RemoveAll(b.path))
	}
	return err
}
