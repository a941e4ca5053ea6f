package store

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v4"
	gocid "github.com/ipfs/go-cid"
	"github.com/sirupsen/logrus"
)

// Key prefixes inside the badger keyspace.
const (
	prefixObject  = "o/"
	prefixJournal = "j/"
	prefixRef     = "r/"
)

// BadgerConfig configures a BadgerBackend.
type BadgerConfig struct {
	Path     string
	InMemory bool // for tests; Path is ignored
	Logger   logrus.FieldLogger
}

// BadgerBackend stores objects, journals and refs in one badger database.
// Journal entries are keyed by partition and a big-endian sequence number so
// a prefix scan returns them in append order.
type BadgerBackend struct {
	db  *badger.DB
	log logrus.FieldLogger

	mu   sync.Mutex
	next map[string]uint64 // next journal sequence per partition
}

// OpenBadgerBackend opens or creates the database.
func OpenBadgerBackend(cfg BadgerConfig) (*BadgerBackend, error) {
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	log := cfg.Logger.WithField("backend", "badger")
	opts := badger.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts.Logger = log
	opts.SyncWrites = true

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %s: %w", cfg.Path, err)
	}
	return &BadgerBackend{
		db:   db,
		log:  log,
		next: make(map[string]uint64),
	}, nil
}

func objectKey(c gocid.Cid) []byte {
	return append([]byte(prefixObject), c.Bytes()...)
}

// Put stores data under its CID. Existing objects are left as they are.
func (b *BadgerBackend) Put(data []byte) (gocid.Cid, error) {
	c, err := ComputeCID(data)
	if err != nil {
		return gocid.Undef, err
	}
	key := objectKey(c)
	err = b.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		if err == nil {
			return nil
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.Set(key, data)
	})
	if err != nil {
		return gocid.Undef, fmt.Errorf("write object: %w", err)
	}
	return c, nil
}

func (b *BadgerBackend) read(key []byte) ([]byte, error) {
	var value []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	return value, err
}

// Get reads an object by CID.
func (b *BadgerBackend) Get(c gocid.Cid) ([]byte, error) {
	data, err := b.read(objectKey(c))
	if err != nil {
		return nil, fmt.Errorf("object %s: %w", c, err)
	}
	return data, nil
}

// Has checks if an object exists.
func (b *BadgerBackend) Has(c gocid.Cid) (bool, error) {
	_, err := b.read(objectKey(c))
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func journalPrefix(partition string) []byte {
	return []byte(prefixJournal + partition + "/")
}

func journalKey(partition string, seq uint64) []byte {
	return binary.BigEndian.AppendUint64(journalPrefix(partition), seq)
}

// nextSeq returns the first free sequence number, scanning backwards from
// the end of the partition's keyspace on first use. The caller holds b.mu.
func (b *BadgerBackend) nextSeq(partition string) (uint64, error) {
	if seq, ok := b.next[partition]; ok {
		return seq, nil
	}
	prefix := journalPrefix(partition)
	var seq uint64
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Reverse = true
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		it.Seek(append(append([]byte{}, prefix...), 0xff))
		if it.ValidForPrefix(prefix) {
			key := it.Item().Key()
			seq = binary.BigEndian.Uint64(key[len(prefix):]) + 1
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	b.next[partition] = seq
	return seq, nil
}

// AppendJournal appends entries in one transaction.
func (b *BadgerBackend) AppendJournal(partition string, entries ...[]byte) error {
	if err := checkName("partition", partition); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	seq, err := b.nextSeq(partition)
	if err != nil {
		return fmt.Errorf("journal %s: %w", partition, err)
	}
	err = b.db.Update(func(txn *badger.Txn) error {
		for i, e := range entries {
			if err := txn.Set(journalKey(partition, seq+uint64(i)), e); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("append journal %s: %w", partition, err)
	}
	b.next[partition] = seq + uint64(len(entries))
	return nil
}

// ReadJournal returns the partition's entries in append order.
func (b *BadgerBackend) ReadJournal(partition string) ([][]byte, error) {
	if err := checkName("partition", partition); err != nil {
		return nil, err
	}
	prefix := journalPrefix(partition)
	var entries [][]byte
	err := b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			v, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			entries = append(entries, v)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read journal %s: %w", partition, err)
	}
	return entries, nil
}

// ResetJournal deletes every entry of the partition's journal.
func (b *BadgerBackend) ResetJournal(partition string) error {
	if err := checkName("partition", partition); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.db.DropPrefix(journalPrefix(partition)); err != nil {
		return fmt.Errorf("reset journal %s: %w", partition, err)
	}
	b.next[partition] = 0
	return nil
}

func refKey(name string) ([]byte, error) {
	if _, _, err := splitRef(name); err != nil {
		return nil, err
	}
	return []byte(prefixRef + name), nil
}

// SetRef points name at c.
func (b *BadgerBackend) SetRef(name string, c gocid.Cid) error {
	key, err := refKey(name)
	if err != nil {
		return err
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, c.Bytes())
	})
}

// GetRef resolves name to a CID.
func (b *BadgerBackend) GetRef(name string) (gocid.Cid, error) {
	key, err := refKey(name)
	if err != nil {
		return gocid.Undef, err
	}
	raw, err := b.read(key)
	if err != nil {
		return gocid.Undef, fmt.Errorf("ref %s: %w", name, err)
	}
	return gocid.Cast(raw)
}

// DeleteRef removes name.
func (b *BadgerBackend) DeleteRef(name string) error {
	key, err := refKey(name)
	if err != nil {
		return err
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	})
}

// ListRefs returns the keys in namespace, sorted.
func (b *BadgerBackend) ListRefs(namespace string) ([]string, error) {
	if err := checkName("ref namespace", namespace); err != nil {
		return nil, err
	}
	prefix := []byte(prefixRef + namespace + "/")
	var keys []string
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, string(it.Item().Key()[len(prefix):]))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list refs: %w", err)
	}
	return keys, nil
}

// Close flushes and closes the database.
func (b *BadgerBackend) Close() error {
	if err := b.db.Sync(); err != nil {
		b.log.WithError(err).Warn("sync before close failed")
	}
	return b.db.Close()
}
