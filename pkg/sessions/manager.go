// Package sessions keeps suspended IntCode machines between requests.
//
// A session is a machine started from a stored program. It runs until it
// halts or needs input; callers then feed it inputs and drain its outputs
// across any number of requests. Every change is persisted as a snapshot in
// BadgerDB, so sessions survive restarts. Recently used machines stay live in
// an LRU cache and are restored from their snapshot on a miss.
package sessions

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"

	"github.com/fortiblox/intcode/internal/types"
	"github.com/fortiblox/intcode/pkg/intcode"
	"github.com/fortiblox/intcode/pkg/snapshot"
)

var (
	// ErrSessionNotFound is returned for unknown session ids.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionHalted is returned when feeding input to a halted session.
	ErrSessionHalted = errors.New("session halted")

	// ErrClosed is returned when operating on a closed store.
	ErrClosed = errors.New("session store closed")
)

// ProgramSource resolves stored programs. Memory returns a copy the caller
// may modify.
type ProgramSource interface {
	Memory(id types.ProgramID) (intcode.Memory, error)
}

// Config configures a Manager.
type Config struct {
	// Options apply to every machine the manager starts.
	Options intcode.Options

	// CacheSize is the number of live machines kept in memory.
	CacheSize int
}

// DefaultConfig returns the default manager configuration.
func DefaultConfig() Config {
	return Config{
		Options:   intcode.DefaultOptions(),
		CacheSize: 256,
	}
}

// Session is a snapshot of a session's visible state.
type Session struct {
	Meta

	// Pointer is the machine's instruction pointer.
	Pointer int64

	// Outputs holds the undrained outputs.
	Outputs []int64

	// Consumed is the number of inputs the last SupplyInput call used.
	Consumed int
}

type live struct {
	m    *intcode.Machine
	meta Meta
}

// Manager runs sessions against a program source and a session store.
type Manager struct {
	programs ProgramSource
	store    *Store
	opts     intcode.Options
	interp   *intcode.Interpreter
	cache    *lru.Cache // types.SessionID -> *live

	mu    sync.Mutex
	locks map[types.SessionID]*sync.Mutex
}

// NewManager creates a session manager.
func NewManager(cfg Config, programs ProgramSource, store *Store) (*Manager, error) {
	size := cfg.CacheSize
	if size <= 0 {
		size = DefaultConfig().CacheSize
	}
	cache, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("create session cache: %w", err)
	}
	return &Manager{
		programs: programs,
		store:    store,
		opts:     cfg.Options,
		interp:   intcode.New(cfg.Options),
		cache:    cache,
		locks:    make(map[types.SessionID]*sync.Mutex),
	}, nil
}

// Start creates a session for the program, applies patches to its memory,
// and runs it until it halts or needs input.
func (mgr *Manager) Start(ctx context.Context, program types.ProgramID, patches map[int64]int64) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mem, err := mgr.programs.Memory(program)
	if err != nil {
		return nil, err
	}
	for addr, x := range patches {
		mem.Write(addr, x)
	}

	id, err := types.NewSessionID()
	if err != nil {
		return nil, err
	}

	m := mgr.interp.Load(mem)
	if err := m.Run(); err != nil {
		return nil, err
	}

	now := time.Now()
	l := &live{
		m: m,
		meta: Meta{
			ID:        id,
			ProgramID: program,
			Created:   now,
		},
	}

	lock := mgr.lock(id)
	lock.Lock()
	defer lock.Unlock()

	if err := mgr.persist(l); err != nil {
		return nil, err
	}
	return view(l, 0), nil
}

// SupplyInput feeds values to a suspended session and runs it until it halts
// or needs more input. Values left over after the machine halts are
// discarded; Session.Consumed reports how many were used. A fault is
// persisted and returned.
func (mgr *Manager) SupplyInput(ctx context.Context, id types.SessionID, values ...int64) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	lock := mgr.lock(id)
	lock.Lock()
	defer lock.Unlock()

	l, err := mgr.load(id)
	if err != nil {
		return nil, err
	}
	if l.m.Halted() {
		return nil, fmt.Errorf("%w: %s", ErrSessionHalted, id)
	}
	if err := l.m.Err(); err != nil {
		return nil, err
	}

	n, runErr := l.m.SupplyInputs(values...)
	if err := mgr.persist(l); err != nil {
		return nil, err
	}
	if runErr != nil {
		return nil, runErr
	}
	return view(l, n), nil
}

// Get returns the session's current state.
func (mgr *Manager) Get(ctx context.Context, id types.SessionID) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	lock := mgr.lock(id)
	lock.Lock()
	defer lock.Unlock()

	l, err := mgr.load(id)
	if err != nil {
		return nil, err
	}
	return view(l, 0), nil
}

// Drain returns the session's undrained outputs and clears them.
func (mgr *Manager) Drain(ctx context.Context, id types.SessionID) ([]int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	lock := mgr.lock(id)
	lock.Lock()
	defer lock.Unlock()

	l, err := mgr.load(id)
	if err != nil {
		return nil, err
	}
	out := l.m.DrainOutputs()
	if err := mgr.persist(l); err != nil {
		return nil, err
	}
	return out, nil
}

// Close deletes the session.
func (mgr *Manager) Close(ctx context.Context, id types.SessionID) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	lock := mgr.lock(id)
	lock.Lock()
	defer lock.Unlock()

	mgr.cache.Remove(id)
	if err := mgr.store.Delete(id); err != nil {
		return err
	}

	mgr.mu.Lock()
	delete(mgr.locks, id)
	mgr.mu.Unlock()
	return nil
}

// List returns metadata for every stored session.
func (mgr *Manager) List(ctx context.Context) ([]Meta, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return mgr.store.List()
}

// Export returns the session's encoded snapshot.
func (mgr *Manager) Export(ctx context.Context, id types.SessionID) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	lock := mgr.lock(id)
	lock.Lock()
	defer lock.Unlock()

	rec, err := mgr.store.Get(id)
	if err != nil {
		return nil, err
	}
	return rec.Snapshot, nil
}

// Import creates a new session from an encoded snapshot. The manager's step
// budget and unsupported opcodes apply on top of the snapshot's own.
func (mgr *Manager) Import(ctx context.Context, data []byte) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	snap, err := snapshot.Decode(data)
	if err != nil {
		return nil, err
	}
	id, err := types.NewSessionID()
	if err != nil {
		return nil, err
	}

	l := &live{
		m: snap.RestoreWith(mgr.opts),
		meta: Meta{
			ID:        id,
			ProgramID: snap.ProgramID,
			Created:   time.Now(),
		},
	}

	lock := mgr.lock(id)
	lock.Lock()
	defer lock.Unlock()

	if err := mgr.persist(l); err != nil {
		return nil, err
	}
	return view(l, 0), nil
}

// Count returns the number of stored sessions.
func (mgr *Manager) Count() uint64 {
	return mgr.store.Count()
}

// lock returns the mutex serializing operations on id.
func (mgr *Manager) lock(id types.SessionID) *sync.Mutex {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()

	l, ok := mgr.locks[id]
	if !ok {
		l = &sync.Mutex{}
		mgr.locks[id] = l
	}
	return l
}

// load returns the live machine for id. Caller must hold the session lock.
func (mgr *Manager) load(id types.SessionID) (*live, error) {
	if v, ok := mgr.cache.Get(id); ok {
		return v.(*live), nil
	}

	rec, err := mgr.store.Get(id)
	if err != nil {
		return nil, err
	}
	snap, err := snapshot.Decode(rec.Snapshot)
	if err != nil {
		return nil, fmt.Errorf("session %s: %w", id, err)
	}

	l := &live{m: snap.RestoreWith(mgr.opts), meta: rec.Meta}
	mgr.cache.Add(id, l)
	return l, nil
}

// persist writes the machine state. Caller must hold the session lock.
func (mgr *Manager) persist(l *live) error {
	data, err := snapshot.Encode(snapshot.Capture(l.m, l.meta.ProgramID))
	if err != nil {
		return err
	}

	l.meta.Status = l.m.Status()
	l.meta.Steps = l.m.Steps()
	l.meta.Pending = len(l.m.Outputs())
	l.meta.Fault = ""
	if err := l.m.Err(); err != nil {
		l.meta.Fault = err.Error()
	}
	l.meta.Updated = time.Now()

	if err := mgr.store.Put(&Record{Meta: l.meta, Snapshot: data}); err != nil {
		mgr.cache.Remove(l.meta.ID)
		return err
	}
	mgr.cache.Add(l.meta.ID, l)
	return nil
}

func view(l *live, consumed int) *Session {
	return &Session{
		Meta:     l.meta,
		Pointer:  l.m.Pointer(),
		Outputs:  l.m.Outputs(),
		Consumed: consumed,
	}
}
