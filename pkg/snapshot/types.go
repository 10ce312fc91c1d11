// Package snapshot serializes suspended IntCode machines.
//
// A snapshot file is a fixed header followed by a zstd-compressed CBOR body:
//
//	offset  size  field
//	0       4     magic "ICSN"
//	4       1     format version
//	5       32    SHA3-256 of the uncompressed body
//	37      ...   zstd(cbor(Snapshot))
//
// Restoring a snapshot yields a machine that continues exactly where the
// captured one stopped, including across process restarts.
package snapshot

import (
	"errors"

	"github.com/fortiblox/intcode/internal/types"
)

// Format constants.
const (
	Magic      = "ICSN"
	Version    = byte(1)
	HeaderSize = len(Magic) + 1 + ChecksumSize

	// ChecksumSize is the SHA3-256 digest length.
	ChecksumSize = 32

	// MaxBodySize bounds the decompressed body Decode accepts.
	MaxBodySize = 64 << 20
)

// Errors.
var (
	// ErrBadMagic indicates the data is not a snapshot.
	ErrBadMagic = errors.New("not a machine snapshot")

	// ErrUnsupportedVersion indicates a snapshot from a newer format.
	ErrUnsupportedVersion = errors.New("unsupported snapshot version")

	// ErrChecksumMismatch indicates a corrupted snapshot body.
	ErrChecksumMismatch = errors.New("snapshot checksum mismatch")

	// ErrDecompressionFailed indicates zstd decompression failed.
	ErrDecompressionFailed = errors.New("snapshot decompression failed")

	// ErrMalformed indicates a body that verifies but does not describe a
	// machine.
	ErrMalformed = errors.New("malformed snapshot")
)

// Snapshot is the complete state of one machine.
type Snapshot struct {
	// ProgramID identifies the program the machine was started from. Zero
	// when unknown.
	ProgramID types.ProgramID `cbor:"1,keyasint"`

	// Memory holds every written address.
	Memory map[int64]int64 `cbor:"2,keyasint"`

	Pointer      int64 `cbor:"3,keyasint"`
	RelativeBase int64 `cbor:"4,keyasint"`
	Status       uint8 `cbor:"5,keyasint"`

	// Outputs is the undrained output log.
	Outputs []int64 `cbor:"6,keyasint,omitempty"`

	Steps       uint64  `cbor:"7,keyasint"`
	MaxSteps    uint64  `cbor:"8,keyasint,omitempty"`
	Unsupported []int64 `cbor:"9,keyasint,omitempty"`
	Fault       string  `cbor:"10,keyasint,omitempty"`

	// Taken is the capture time in unix nanoseconds.
	Taken int64 `cbor:"11,keyasint"`
}
