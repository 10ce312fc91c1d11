// Package types defines identifiers shared by the program library and the
// session layer.
//
// Identifiers are fixed-size byte arrays rendered as base58 text.
package types

import (
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/mr-tron/base58"
	"github.com/zeebo/blake3"

	"github.com/fortiblox/intcode/pkg/intcode"
)

// Size constants for identifiers.
const (
	ProgramIDSize = 32
	SessionIDSize = 16
)

var (
	// ErrInvalidProgramID is returned when a program id has invalid length.
	ErrInvalidProgramID = errors.New("invalid program id: must be 32 bytes")

	// ErrInvalidSessionID is returned when a session id has invalid length.
	ErrInvalidSessionID = errors.New("invalid session id: must be 16 bytes")
)

// ProgramID is the BLAKE3-256 digest of a program's canonical text.
type ProgramID [ProgramIDSize]byte

// ProgramIDFromMemory computes the id of a freshly parsed program. The
// canonical text is the comma-joined decimal values, so formatting
// differences in the source do not change the id.
func ProgramIDFromMemory(mem intcode.Memory) ProgramID {
	return ProgramID(blake3.Sum256([]byte(mem.Format(mem.Len()))))
}

// ProgramIDFromBase58 parses a base58-encoded program id.
func ProgramIDFromBase58(s string) (ProgramID, error) {
	var id ProgramID
	data, err := base58.Decode(s)
	if err != nil {
		return id, fmt.Errorf("%w: %v", ErrInvalidProgramID, err)
	}
	if len(data) != ProgramIDSize {
		return id, ErrInvalidProgramID
	}
	copy(id[:], data)
	return id, nil
}

// ProgramIDFromBytes creates a ProgramID from a byte slice.
func ProgramIDFromBytes(b []byte) (ProgramID, error) {
	var id ProgramID
	if len(b) != ProgramIDSize {
		return id, ErrInvalidProgramID
	}
	copy(id[:], b)
	return id, nil
}

// String returns the base58-encoded representation.
func (id ProgramID) String() string {
	return base58.Encode(id[:])
}

// IsZero returns true if the id is all zeros.
func (id ProgramID) IsZero() bool {
	return id == ProgramID{}
}

// Bytes returns the id as a byte slice.
func (id ProgramID) Bytes() []byte {
	return id[:]
}

// MarshalText implements encoding.TextMarshaler.
func (id ProgramID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *ProgramID) UnmarshalText(text []byte) error {
	parsed, err := ProgramIDFromBase58(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// SessionID identifies an interactive machine session.
type SessionID [SessionIDSize]byte

// NewSessionID returns a random session id.
func NewSessionID() (SessionID, error) {
	var id SessionID
	if _, err := rand.Read(id[:]); err != nil {
		return id, fmt.Errorf("generate session id: %w", err)
	}
	return id, nil
}

// SessionIDFromBase58 parses a base58-encoded session id.
func SessionIDFromBase58(s string) (SessionID, error) {
	var id SessionID
	data, err := base58.Decode(s)
	if err != nil {
		return id, fmt.Errorf("%w: %v", ErrInvalidSessionID, err)
	}
	if len(data) != SessionIDSize {
		return id, ErrInvalidSessionID
	}
	copy(id[:], data)
	return id, nil
}

// String returns the base58-encoded representation.
func (id SessionID) String() string {
	return base58.Encode(id[:])
}

// Bytes returns the id as a byte slice.
func (id SessionID) Bytes() []byte {
	return id[:]
}

// MarshalText implements encoding.TextMarshaler.
func (id SessionID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *SessionID) UnmarshalText(text []byte) error {
	parsed, err := SessionIDFromBase58(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
