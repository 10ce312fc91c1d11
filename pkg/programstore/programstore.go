// Package programstore provides persistent storage for IntCode programs.
//
// Programs are content addressed: the id is the BLAKE3 digest of the
// canonical program text, and an optional name points at the latest id
// stored under it. Parsed programs are kept in an LRU cache so sessions can
// start machines without re-parsing.
package programstore

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	bolt "go.etcd.io/bbolt"

	"github.com/fortiblox/intcode/internal/types"
	"github.com/fortiblox/intcode/pkg/intcode"
)

var (
	// ErrProgramNotFound is returned when a program doesn't exist.
	ErrProgramNotFound = errors.New("program not found")

	// ErrClosed is returned when operating on a closed store.
	ErrClosed = errors.New("program store closed")

	// ErrEmptyProgram is returned when program text holds no values.
	ErrEmptyProgram = errors.New("program is empty")
)

// Bucket names for BoltDB.
var (
	// bucketPrograms stores gob-encoded programs keyed by id.
	bucketPrograms = []byte("programs")

	// bucketNames maps program names to ids.
	bucketNames = []byte("names")

	// bucketMetadata stores store metadata.
	bucketMetadata = []byte("metadata")
)

// Metadata keys.
var (
	keyProgramCount = []byte("program_count")
)

// Config holds program store configuration options.
type Config struct {
	// Path is the database file path.
	Path string

	// NoSync disables fsync after each write (faster but less durable).
	NoSync bool

	// ReadOnly opens the database in read-only mode.
	ReadOnly bool

	// CacheSize is the number of parsed programs kept in memory.
	CacheSize int
}

// DefaultConfig returns the default program store configuration.
func DefaultConfig(path string) Config {
	return Config{
		Path:      path,
		NoSync:    false,
		ReadOnly:  false,
		CacheSize: 128,
	}
}

// Program is a stored program.
type Program struct {
	// ID is the content address of Text.
	ID types.ProgramID

	// Name is the most recent name the program was stored under.
	Name string

	// Text is the canonical program text.
	Text string

	// Length is the number of words in the program.
	Length int64

	// Created is the unix time the program was first stored.
	Created int64
}

// Store is the program library interface.
type Store interface {
	Put(name, text string) (*Program, error)
	Get(id types.ProgramID) (*Program, error)
	GetByName(name string) (*Program, error)
	Resolve(ref string) (*Program, error)
	Memory(id types.ProgramID) (intcode.Memory, error)
	List() ([]*Program, error)
	Delete(id types.ProgramID) error
	Count() uint64
	Close() error
}

// BoltStore implements Store using BoltDB.
type BoltStore struct {
	db     *bolt.DB
	config Config
	cache  *lru.Cache // types.ProgramID -> intcode.Memory

	mu     sync.RWMutex
	count  uint64
	closed bool
}

// Open creates or opens a program store at the configured path.
func Open(config Config) (*BoltStore, error) {
	dir := filepath.Dir(config.Path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}

	opts := &bolt.Options{
		Timeout:  5 * time.Second,
		NoSync:   config.NoSync,
		ReadOnly: config.ReadOnly,
	}
	db, err := bolt.Open(config.Path, 0600, opts)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	size := config.CacheSize
	if size <= 0 {
		size = 1
	}
	cache, err := lru.New(size)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create cache: %w", err)
	}

	store := &BoltStore{
		db:     db,
		config: config,
		cache:  cache,
	}

	if !config.ReadOnly {
		if err := store.initBuckets(); err != nil {
			db.Close()
			return nil, fmt.Errorf("init buckets: %w", err)
		}
	}

	if err := store.loadCachedValues(); err != nil {
		db.Close()
		return nil, fmt.Errorf("load cached values: %w", err)
	}

	return store, nil
}

// initBuckets creates all required buckets.
func (s *BoltStore) initBuckets() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketPrograms, bucketNames, bucketMetadata} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	})
}

// loadCachedValues loads the program count.
func (s *BoltStore) loadCachedValues() error {
	return s.db.View(func(tx *bolt.Tx) error {
		meta := tx.Bucket(bucketMetadata)
		if meta == nil {
			return nil
		}
		if v := meta.Get(keyProgramCount); len(v) == 8 {
			s.count = binary.BigEndian.Uint64(v)
		}
		return nil
	})
}

// Put parses text and stores it under name. Storing the same program twice
// keeps the original creation time; name is rebound to the new id.
func (s *BoltStore) Put(name, text string) (*Program, error) {
	mem, err := intcode.Parse(text)
	if err != nil {
		return nil, err
	}
	if len(mem) == 0 {
		return nil, ErrEmptyProgram
	}

	n := mem.Len()
	prog := &Program{
		ID:      types.ProgramIDFromMemory(mem),
		Name:    name,
		Text:    mem.Format(n),
		Length:  n,
		Created: time.Now().Unix(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}

	added := false
	err = s.db.Update(func(tx *bolt.Tx) error {
		programs := tx.Bucket(bucketPrograms)
		if existing := programs.Get(prog.ID[:]); existing != nil {
			var old Program
			if err := decodeProgram(existing, &old); err != nil {
				return err
			}
			prog.Created = old.Created
			if name == "" {
				prog.Name = old.Name
			}
		} else {
			added = true
		}

		data, err := encodeProgram(prog)
		if err != nil {
			return err
		}
		if err := programs.Put(prog.ID[:], data); err != nil {
			return fmt.Errorf("put program: %w", err)
		}

		if name != "" {
			if err := tx.Bucket(bucketNames).Put([]byte(name), prog.ID[:]); err != nil {
				return fmt.Errorf("put name: %w", err)
			}
		}

		if added {
			return putCount(tx, s.count+1)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if added {
		s.count++
	}
	s.cache.Add(prog.ID, mem)
	return prog, nil
}

// Get retrieves a program by id.
func (s *BoltStore) Get(id types.ProgramID) (*Program, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	var prog Program
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketPrograms).Get(id[:])
		if data == nil {
			return ErrProgramNotFound
		}
		return decodeProgram(data, &prog)
	})
	if err != nil {
		return nil, err
	}
	return &prog, nil
}

// GetByName retrieves the program most recently stored under name.
func (s *BoltStore) GetByName(name string) (*Program, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	var prog Program
	err := s.db.View(func(tx *bolt.Tx) error {
		id := tx.Bucket(bucketNames).Get([]byte(name))
		if id == nil {
			return ErrProgramNotFound
		}
		data := tx.Bucket(bucketPrograms).Get(id)
		if data == nil {
			return ErrProgramNotFound
		}
		return decodeProgram(data, &prog)
	})
	if err != nil {
		return nil, err
	}
	return &prog, nil
}

// Resolve looks ref up as a base58 program id, then as a name.
func (s *BoltStore) Resolve(ref string) (*Program, error) {
	if id, err := types.ProgramIDFromBase58(ref); err == nil {
		prog, err := s.Get(id)
		if !errors.Is(err, ErrProgramNotFound) {
			return prog, err
		}
	}
	return s.GetByName(ref)
}

// Memory returns a private parsed copy of the program.
func (s *BoltStore) Memory(id types.ProgramID) (intcode.Memory, error) {
	if v, ok := s.cache.Get(id); ok {
		return v.(intcode.Memory).Clone(), nil
	}

	prog, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	mem, err := intcode.Parse(prog.Text)
	if err != nil {
		return nil, fmt.Errorf("stored program %s: %w", id, err)
	}
	s.cache.Add(id, mem)
	return mem.Clone(), nil
}

// List returns every stored program ordered by name, then id.
func (s *BoltStore) List() ([]*Program, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	var progs []*Program
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPrograms).ForEach(func(k, v []byte) error {
			var prog Program
			if err := decodeProgram(v, &prog); err != nil {
				return err
			}
			progs = append(progs, &prog)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(progs, func(i, j int) bool {
		if progs[i].Name != progs[j].Name {
			return progs[i].Name < progs[j].Name
		}
		return bytes.Compare(progs[i].ID[:], progs[j].ID[:]) < 0
	})
	return progs, nil
}

// Delete removes a program and every name bound to it.
func (s *BoltStore) Delete(id types.ProgramID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	err := s.db.Update(func(tx *bolt.Tx) error {
		programs := tx.Bucket(bucketPrograms)
		if programs.Get(id[:]) == nil {
			return ErrProgramNotFound
		}
		if err := programs.Delete(id[:]); err != nil {
			return err
		}

		names := tx.Bucket(bucketNames)
		var stale [][]byte
		if err := names.ForEach(func(k, v []byte) error {
			if bytes.Equal(v, id[:]) {
				stale = append(stale, append([]byte(nil), k...))
			}
			return nil
		}); err != nil {
			return err
		}
		for _, k := range stale {
			if err := names.Delete(k); err != nil {
				return err
			}
		}

		return putCount(tx, s.count-1)
	})
	if err != nil {
		return err
	}

	s.count--
	s.cache.Remove(id)
	return nil
}

// Count returns the number of stored programs.
func (s *BoltStore) Count() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.count
}

// Sync forces a sync of the database to disk.
func (s *BoltStore) Sync() error {
	return s.db.Sync()
}

// Close closes the store.
func (s *BoltStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.cache.Purge()
	return s.db.Close()
}

func putCount(tx *bolt.Tx, n uint64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], n)
	return tx.Bucket(bucketMetadata).Put(keyProgramCount, buf[:])
}

func encodeProgram(p *Program) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(p); err != nil {
		return nil, fmt.Errorf("encode program: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeProgram(data []byte, p *Program) error {
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(p); err != nil {
		return fmt.Errorf("decode program: %w", err)
	}
	return nil
}
