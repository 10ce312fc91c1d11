package snapshot

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"
	"golang.org/x/crypto/sha3"

	"github.com/fortiblox/intcode/internal/types"
	"github.com/fortiblox/intcode/pkg/intcode"
)

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("snapshot: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// Capture records the state of m.
func Capture(m *intcode.Machine, program types.ProgramID) *Snapshot {
	st := m.State()
	s := &Snapshot{
		ProgramID:    program,
		Memory:       st.Memory,
		Pointer:      st.Pointer,
		RelativeBase: st.RelativeBase,
		Status:       uint8(st.Status),
		Outputs:      st.Outputs,
		Steps:        st.Steps,
		MaxSteps:     st.MaxSteps,
		Fault:        st.Fault,
		Taken:        time.Now().UnixNano(),
	}
	for _, op := range st.Unsupported {
		s.Unsupported = append(s.Unsupported, int64(op))
	}
	return s
}

// Restore rebuilds the captured machine with the limits it was captured
// under.
func (s *Snapshot) Restore() *intcode.Machine {
	return intcode.Resume(s.state())
}

// RestoreWith rebuilds the captured machine under opts as well as its own
// limits: the lower non-zero step budget wins and both unsupported sets
// apply.
func (s *Snapshot) RestoreWith(opts intcode.Options) *intcode.Machine {
	st := s.state()
	if opts.MaxSteps > 0 && (st.MaxSteps == 0 || opts.MaxSteps < st.MaxSteps) {
		st.MaxSteps = opts.MaxSteps
	}
	st.Unsupported = append(st.Unsupported, opts.Unsupported...)
	return intcode.Resume(st)
}

func (s *Snapshot) state() intcode.State {
	st := intcode.State{
		Memory:       intcode.Memory(s.Memory),
		Pointer:      s.Pointer,
		RelativeBase: s.RelativeBase,
		Status:       intcode.Status(s.Status),
		Outputs:      s.Outputs,
		Steps:        s.Steps,
		MaxSteps:     s.MaxSteps,
		Fault:        s.Fault,
	}
	for _, op := range s.Unsupported {
		st.Unsupported = append(st.Unsupported, intcode.Opcode(op))
	}
	return st
}

// Encode serializes s.
func Encode(s *Snapshot) ([]byte, error) {
	body, err := cborEncMode.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	sum := sha3.Sum256(body)

	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, err
	}
	defer encoder.Close()

	out := make([]byte, 0, HeaderSize+len(body)/2)
	out = append(out, Magic...)
	out = append(out, Version)
	out = append(out, sum[:]...)
	return encoder.EncodeAll(body, out), nil
}

// Decode parses and verifies an encoded snapshot.
func Decode(data []byte) (*Snapshot, error) {
	if len(data) < HeaderSize || !bytes.Equal(data[:len(Magic)], []byte(Magic)) {
		return nil, ErrBadMagic
	}
	if v := data[len(Magic)]; v != Version {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, v)
	}
	want := data[len(Magic)+1 : HeaderSize]

	decoder, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(MaxBodySize))
	if err != nil {
		return nil, err
	}
	defer decoder.Close()

	body, err := decoder.DecodeAll(data[HeaderSize:], nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecompressionFailed, err)
	}
	if sum := sha3.Sum256(body); !bytes.Equal(sum[:], want) {
		return nil, ErrChecksumMismatch
	}

	var s Snapshot
	if err := cbor.Unmarshal(body, &s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if s.Status > uint8(intcode.StatusFaulted) {
		return nil, fmt.Errorf("%w: status %d", ErrMalformed, s.Status)
	}
	return &s, nil
}

// WriteFile encodes s to path, replacing any existing file atomically.
func WriteFile(path string, s *Snapshot) error {
	data, err := Encode(s)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename snapshot: %w", err)
	}
	return nil
}

// ReadFile reads and decodes the snapshot at path.
func ReadFile(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	return Decode(data)
}
