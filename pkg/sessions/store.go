package sessions

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/fortiblox/intcode/internal/types"
	"github.com/fortiblox/intcode/pkg/intcode"
)

// Key prefixes for BadgerDB storage.
var (
	// prefixSnapshot is the prefix for encoded machine snapshots.
	// Key format: prefixSnapshot + session id (16 bytes)
	prefixSnapshot = []byte{0x01}

	// prefixMeta is the prefix for gob-encoded session metadata.
	// Key format: prefixMeta + session id (16 bytes)
	prefixMeta = []byte{0x02}

	// prefixCounter is the prefix for store counters.
	prefixCounter = []byte{0x03}

	// counterSessions is the key for the live session count.
	counterSessions = append(prefixCounter, []byte("sessions")...)
)

// StoreConfig contains configuration for the session store.
type StoreConfig struct {
	// Path is the directory path for the database.
	Path string

	// InMemory runs the database in memory (for testing).
	InMemory bool

	// SyncWrites ensures writes are synced to disk.
	SyncWrites bool

	// NumCompactors is the number of compaction workers.
	NumCompactors int

	// ValueLogFileSize is the size of each value log file.
	ValueLogFileSize int64

	// Logger is an optional logger. Set to nil to disable logging.
	Logger badger.Logger
}

// DefaultStoreConfig returns default configuration.
func DefaultStoreConfig(path string) StoreConfig {
	return StoreConfig{
		Path:             path,
		SyncWrites:       false,
		NumCompactors:    2,
		ValueLogFileSize: 64 << 20,
	}
}

// Meta describes a stored session without its machine state.
type Meta struct {
	ID        types.SessionID
	ProgramID types.ProgramID
	Status    intcode.Status
	Steps     uint64
	Pending   int // undrained outputs
	Fault     string
	Created   time.Time
	Updated   time.Time
}

// Record is a session as persisted: metadata plus the encoded snapshot.
type Record struct {
	Meta     Meta
	Snapshot []byte
}

// Store persists sessions in BadgerDB. Snapshot and metadata for a session
// are always written in the same transaction.
type Store struct {
	db *badger.DB

	count atomic.Uint64

	// mu serializes count-changing writes.
	mu     sync.Mutex
	closed atomic.Bool
}

// OpenStore opens the session store.
func OpenStore(cfg StoreConfig) (*Store, error) {
	opts := badger.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts = opts.
		WithSyncWrites(cfg.SyncWrites).
		WithLogger(cfg.Logger)
	if cfg.NumCompactors > 0 {
		opts = opts.WithNumCompactors(cfg.NumCompactors)
	}
	if cfg.ValueLogFileSize > 0 && !cfg.InMemory {
		opts = opts.WithValueLogFileSize(cfg.ValueLogFileSize)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}

	s := &Store{db: db}
	if err := s.loadCount(); err != nil {
		db.Close()
		return nil, fmt.Errorf("load metadata: %w", err)
	}
	return s, nil
}

func (s *Store) loadCount() error {
	return s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(counterSessions)
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if len(val) >= 8 {
				s.count.Store(binary.LittleEndian.Uint64(val))
			}
			return nil
		})
	})
}

func snapshotKey(id types.SessionID) []byte {
	return append(append([]byte(nil), prefixSnapshot...), id[:]...)
}

func metaKey(id types.SessionID) []byte {
	return append(append([]byte(nil), prefixMeta...), id[:]...)
}

// Put stores a session, replacing any previous record with the same id.
func (s *Store) Put(rec *Record) error {
	if s.closed.Load() {
		return ErrClosed
	}

	meta, err := encodeMeta(&rec.Meta)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	added := false
	err = s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(metaKey(rec.Meta.ID)); err == badger.ErrKeyNotFound {
			added = true
		} else if err != nil {
			return err
		}

		if err := txn.Set(snapshotKey(rec.Meta.ID), rec.Snapshot); err != nil {
			return err
		}
		if err := txn.Set(metaKey(rec.Meta.ID), meta); err != nil {
			return err
		}
		if !added {
			return nil
		}
		return s.setCount(txn, s.count.Load()+1)
	})
	if err != nil {
		return err
	}
	if added {
		s.count.Add(1)
	}
	return nil
}

// Get returns the stored session.
func (s *Store) Get(id types.SessionID) (*Record, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	rec := &Record{}
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(metaKey(id))
		if err == badger.ErrKeyNotFound {
			return ErrSessionNotFound
		}
		if err != nil {
			return err
		}
		if err := item.Value(func(val []byte) error {
			return decodeMeta(val, &rec.Meta)
		}); err != nil {
			return err
		}

		item, err = txn.Get(snapshotKey(id))
		if err != nil {
			return fmt.Errorf("session %s: snapshot: %w", id, err)
		}
		rec.Snapshot, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Delete removes a session. Deleting a missing session returns
// ErrSessionNotFound.
func (s *Store) Delete(id types.SessionID) error {
	if s.closed.Load() {
		return ErrClosed
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	n := s.count.Load()
	if n > 0 {
		n--
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(metaKey(id)); err == badger.ErrKeyNotFound {
			return ErrSessionNotFound
		} else if err != nil {
			return err
		}
		if err := txn.Delete(snapshotKey(id)); err != nil {
			return err
		}
		if err := txn.Delete(metaKey(id)); err != nil {
			return err
		}
		return s.setCount(txn, n)
	})
	if err != nil {
		return err
	}
	s.count.Store(n)
	return nil
}

// List returns metadata for every session, ordered by id.
func (s *Store) List() ([]Meta, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	var metas []Meta
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefixMeta
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			if len(item.Key()) != len(prefixMeta)+types.SessionIDSize {
				continue
			}
			var m Meta
			if err := item.Value(func(val []byte) error {
				return decodeMeta(val, &m)
			}); err != nil {
				return err
			}
			metas = append(metas, m)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return metas, nil
}

// Count returns the number of stored sessions.
func (s *Store) Count() uint64 {
	return s.count.Load()
}

// RunGC runs garbage collection on the value log.
func (s *Store) RunGC() error {
	if s.closed.Load() {
		return ErrClosed
	}
	err := s.db.RunValueLogGC(0.5)
	if err == badger.ErrNoRewrite {
		return nil
	}
	return err
}

// Close closes the database.
func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return ErrClosed
	}
	return s.db.Close()
}

func (s *Store) setCount(txn *badger.Txn, n uint64) error {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, n)
	return txn.Set(counterSessions, buf)
}

func encodeMeta(m *Meta) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(m); err != nil {
		return nil, fmt.Errorf("encode session meta: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeMeta(data []byte, m *Meta) error {
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(m); err != nil {
		return fmt.Errorf("decode session meta: %w", err)
	}
	return nil
}
