// Package config loads the intcode.toml service configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/fortiblox/intcode/pkg/grpcapi"
	"github.com/fortiblox/intcode/pkg/intcode"
	"github.com/fortiblox/intcode/pkg/programstore"
	"github.com/fortiblox/intcode/pkg/rpc"
	"github.com/fortiblox/intcode/pkg/sessions"
)

// ErrConfigInvalid is returned by Validate.
var ErrConfigInvalid = errors.New("invalid configuration")

// Config is the top-level service configuration.
type Config struct {
	// DataDir is the root directory for the program and session stores.
	DataDir string `toml:"data-dir"`

	Interpreter Interpreter `toml:"interpreter"`
	Storage     Storage     `toml:"storage"`
	RPC         RPC         `toml:"rpc"`
	GRPC        GRPC        `toml:"grpc"`
	Cache       Cache       `toml:"cache"`
}

// Interpreter configures every machine the service runs.
type Interpreter struct {
	// Unsupported names opcodes ("add", "jt", or decimal numbers) that
	// fault when reached.
	Unsupported []string `toml:"unsupported"`

	// MaxSteps bounds instructions per run. Zero means unlimited.
	MaxSteps uint64 `toml:"max-steps"`
}

// Storage configures the on-disk stores.
type Storage struct {
	NoSync           bool  `toml:"no-sync"`
	SyncWrites       bool  `toml:"sync-writes"`
	ValueLogFileSize int64 `toml:"value-log-file-size"`
}

// RPC configures the JSON-RPC server.
type RPC struct {
	Enabled        bool     `toml:"enabled"`
	Addr           string   `toml:"addr"`
	EnableCORS     bool     `toml:"enable-cors"`
	AllowedOrigins []string `toml:"allowed-origins"`
	LogRequests    bool     `toml:"log-requests"`
	MaxRequestSize int64    `toml:"max-request-size"`
	MaxBatchSize   int      `toml:"max-batch-size"`
	BatchWorkers   int      `toml:"batch-workers"`
	ReadTimeout    Duration `toml:"read-timeout"`
	WriteTimeout   Duration `toml:"write-timeout"`
}

// GRPC configures the gRPC server.
type GRPC struct {
	Enabled        bool     `toml:"enabled"`
	Addr           string   `toml:"addr"`
	Token          string   `toml:"token"`
	MaxMessageSize int      `toml:"max-message-size"`
	KeepaliveTime  Duration `toml:"keepalive-time"`
	LogRequests    bool     `toml:"log-requests"`
}

// Cache sizes the in-memory caches.
type Cache struct {
	Programs int `toml:"programs"`
	Sessions int `toml:"sessions"`
}

// Duration is a time.Duration written as a string ("30s") in TOML.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() Config {
	return Config{
		DataDir: "./data",
		Interpreter: Interpreter{
			MaxSteps: 10_000_000,
		},
		Storage: Storage{
			ValueLogFileSize: 64 << 20,
		},
		RPC: RPC{
			Enabled:        true,
			Addr:           ":8645",
			EnableCORS:     true,
			MaxRequestSize: 1 << 20,
			MaxBatchSize:   64,
			BatchWorkers:   8,
			ReadTimeout:    Duration(30 * time.Second),
			WriteTimeout:   Duration(30 * time.Second),
		},
		GRPC: GRPC{
			Enabled:        true,
			Addr:           ":8646",
			MaxMessageSize: 16 << 20,
			KeepaliveTime:  Duration(30 * time.Second),
		},
		Cache: Cache{
			Programs: 128,
			Sessions: 256,
		},
	}
}

// Load reads a TOML file over the defaults. Keys missing from the file keep
// their default values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	c := DefaultConfig()
	md, err := toml.Decode(string(data), &c)
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("%w: unknown key %q in %s", ErrConfigInvalid, undecoded[0].String(), path)
	}
	c.GRPC.Token = os.ExpandEnv(c.GRPC.Token)

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks the configuration for values no component accepts.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("%w: data directory is required", ErrConfigInvalid)
	}
	if _, err := ParseOpcodes(c.Interpreter.Unsupported); err != nil {
		return fmt.Errorf("%w: interpreter.unsupported: %v", ErrConfigInvalid, err)
	}
	if c.RPC.Enabled && c.RPC.Addr == "" {
		return fmt.Errorf("%w: rpc.addr is required", ErrConfigInvalid)
	}
	if c.GRPC.Enabled && c.GRPC.Addr == "" {
		return fmt.Errorf("%w: grpc.addr is required", ErrConfigInvalid)
	}
	if c.RPC.MaxBatchSize < 0 || c.RPC.BatchWorkers < 0 {
		return fmt.Errorf("%w: rpc batch limits must not be negative", ErrConfigInvalid)
	}
	if c.Cache.Programs < 0 || c.Cache.Sessions < 0 {
		return fmt.Errorf("%w: cache sizes must not be negative", ErrConfigInvalid)
	}
	return nil
}

// ParseOpcodes resolves opcode names or numbers. Duplicates are kept; the
// interpreter collapses them.
func ParseOpcodes(names []string) ([]intcode.Opcode, error) {
	ops := make([]intcode.Opcode, 0, len(names))
	for _, name := range names {
		op, err := intcode.ParseOpcode(name)
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	return ops, nil
}

// Options returns the interpreter options. Call after Validate.
func (c *Config) Options() intcode.Options {
	ops, _ := ParseOpcodes(c.Interpreter.Unsupported)
	return intcode.Options{
		Unsupported: ops,
		MaxSteps:    c.Interpreter.MaxSteps,
	}
}

// ProgramStorePath returns the program database file.
func (c *Config) ProgramStorePath() string {
	return filepath.Join(c.DataDir, "programs", "programs.db")
}

// SessionStorePath returns the session database directory.
func (c *Config) SessionStorePath() string {
	return filepath.Join(c.DataDir, "sessions")
}

// ProgramStore returns the program store configuration.
func (c *Config) ProgramStore() programstore.Config {
	pc := programstore.DefaultConfig(c.ProgramStorePath())
	pc.NoSync = c.Storage.NoSync
	pc.CacheSize = c.Cache.Programs
	return pc
}

// SessionStore returns the session store configuration.
func (c *Config) SessionStore() sessions.StoreConfig {
	sc := sessions.DefaultStoreConfig(c.SessionStorePath())
	sc.SyncWrites = c.Storage.SyncWrites
	if c.Storage.ValueLogFileSize > 0 {
		sc.ValueLogFileSize = c.Storage.ValueLogFileSize
	}
	return sc
}

// Sessions returns the session manager configuration.
func (c *Config) Sessions() sessions.Config {
	return sessions.Config{
		Options:   c.Options(),
		CacheSize: c.Cache.Sessions,
	}
}

// RPCServer returns the JSON-RPC server configuration.
func (c *Config) RPCServer() rpc.Config {
	opts := c.Options()
	rc := rpc.DefaultConfig()
	rc.Addr = c.RPC.Addr
	rc.EnableCORS = c.RPC.EnableCORS
	rc.AllowedOrigins = c.RPC.AllowedOrigins
	rc.LogRequests = c.RPC.LogRequests
	rc.MaxSteps = opts.MaxSteps
	rc.Unsupported = opts.Unsupported
	if c.RPC.MaxRequestSize > 0 {
		rc.MaxRequestSize = c.RPC.MaxRequestSize
	}
	if c.RPC.MaxBatchSize > 0 {
		rc.MaxBatchSize = c.RPC.MaxBatchSize
	}
	if c.RPC.BatchWorkers > 0 {
		rc.BatchWorkers = c.RPC.BatchWorkers
	}
	if c.RPC.ReadTimeout > 0 {
		rc.ReadTimeout = time.Duration(c.RPC.ReadTimeout)
	}
	if c.RPC.WriteTimeout > 0 {
		rc.WriteTimeout = time.Duration(c.RPC.WriteTimeout)
	}
	return rc
}

// GRPCServer returns the gRPC server configuration.
func (c *Config) GRPCServer() grpcapi.ServerConfig {
	opts := c.Options()
	gc := grpcapi.DefaultServerConfig()
	gc.Addr = c.GRPC.Addr
	gc.Token = c.GRPC.Token
	gc.LogRequests = c.GRPC.LogRequests
	gc.MaxSteps = opts.MaxSteps
	gc.Unsupported = opts.Unsupported
	if c.GRPC.MaxMessageSize > 0 {
		gc.MaxMessageSize = c.GRPC.MaxMessageSize
	}
	if c.GRPC.KeepaliveTime > 0 {
		gc.KeepaliveTime = time.Duration(c.GRPC.KeepaliveTime)
	}
	return gc
}
