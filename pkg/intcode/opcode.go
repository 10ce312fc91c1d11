package intcode

import (
	"fmt"
	"sort"
	"strings"
)

// Opcode is an IntCode operation, stored in the two low decimal digits of an
// instruction word.
type Opcode int64

// Opcodes.
const (
	OpAdd         Opcode = 1  // dst = a + b
	OpMultiply    Opcode = 2  // dst = a * b
	OpInput       Opcode = 3  // dst = next input (suspends)
	OpOutput      Opcode = 4  // emit a
	OpJumpIfTrue  Opcode = 5  // if a != 0: ip = b
	OpJumpIfFalse Opcode = 6  // if a == 0: ip = b
	OpLessThan    Opcode = 7  // dst = a < b
	OpEquals      Opcode = 8  // dst = a == b
	OpAdjustBase  Opcode = 9  // base += a
	OpHalt        Opcode = 99 // stop
)

// MaxParams is the widest instruction in the set. Mode digits beyond the
// third parameter are never read.
const MaxParams = 3

type opcodeInfo struct {
	name   string
	params int
}

var opcodeTable = map[Opcode]opcodeInfo{
	OpAdd:         {"add", 3},
	OpMultiply:    {"mul", 3},
	OpInput:       {"in", 1},
	OpOutput:      {"out", 1},
	OpJumpIfTrue:  {"jt", 2},
	OpJumpIfFalse: {"jf", 2},
	OpLessThan:    {"lt", 3},
	OpEquals:      {"eq", 3},
	OpAdjustBase:  {"rb", 1},
	OpHalt:        {"halt", 0},
}

// Opcodes returns the full instruction set in numeric order.
func Opcodes() []Opcode {
	ops := make([]Opcode, 0, len(opcodeTable))
	for op := range opcodeTable {
		ops = append(ops, op)
	}
	sort.Slice(ops, func(i, j int) bool { return ops[i] < ops[j] })
	return ops
}

// Valid reports whether op is part of the instruction set.
func (op Opcode) Valid() bool {
	_, ok := opcodeTable[op]
	return ok
}

// ParamCount returns the number of parameter words following the opcode.
func (op Opcode) ParamCount() int {
	return opcodeTable[op].params
}

// Width returns the total instruction length in words.
func (op Opcode) Width() int64 {
	return int64(op.ParamCount()) + 1
}

func (op Opcode) String() string {
	if info, ok := opcodeTable[op]; ok {
		return info.name
	}
	return fmt.Sprintf("op(%d)", int64(op))
}

// ParseOpcode resolves a mnemonic ("add", "jt", ...) or a decimal opcode
// number to an Opcode.
func ParseOpcode(s string) (Opcode, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for op, info := range opcodeTable {
		if info.name == s || fmt.Sprint(int64(op)) == s {
			return op, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownOpcode, s)
}

// Mode is a parameter addressing mode.
type Mode int64

// Addressing modes.
const (
	ModePosition  Mode = 0 // operand = mem[p]
	ModeImmediate Mode = 1 // operand = p
	ModeRelative  Mode = 2 // operand = mem[p + base]
)

func (m Mode) String() string {
	switch m {
	case ModePosition:
		return "position"
	case ModeImmediate:
		return "immediate"
	case ModeRelative:
		return "relative"
	default:
		return fmt.Sprintf("mode(%d)", int64(m))
	}
}

// OpcodeSet is a set of opcodes, used to gate instructions a run does not
// support.
type OpcodeSet map[Opcode]struct{}

// NewOpcodeSet builds a set from ops.
func NewOpcodeSet(ops ...Opcode) OpcodeSet {
	s := make(OpcodeSet, len(ops))
	for _, op := range ops {
		s[op] = struct{}{}
	}
	return s
}

// Has reports whether op is in the set. A nil set is empty.
func (s OpcodeSet) Has(op Opcode) bool {
	_, ok := s[op]
	return ok
}

// Slice returns the members in ascending order.
func (s OpcodeSet) Slice() []Opcode {
	ops := make([]Opcode, 0, len(s))
	for op := range s {
		ops = append(ops, op)
	}
	sort.Slice(ops, func(i, j int) bool { return ops[i] < ops[j] })
	return ops
}

// Instruction is a decoded instruction. Slots past Op.ParamCount() are zero.
type Instruction struct {
	Op     Opcode
	Params [MaxParams]int64
	Modes  [MaxParams]Mode
}

func (ins Instruction) String() string {
	var b strings.Builder
	b.WriteString(ins.Op.String())
	for i := 0; i < ins.Op.ParamCount(); i++ {
		b.WriteByte(' ')
		switch ins.Modes[i] {
		case ModeImmediate:
			fmt.Fprintf(&b, "#%d", ins.Params[i])
		case ModeRelative:
			fmt.Fprintf(&b, "@%d", ins.Params[i])
		default:
			fmt.Fprintf(&b, "[%d]", ins.Params[i])
		}
	}
	return b.String()
}

// Decode reads the instruction at ptr. Opcodes in unsupported fail with
// ErrUnsupportedOpcode.
func Decode(mem Memory, ptr int64, unsupported OpcodeSet) (Instruction, error) {
	raw := mem.Read(ptr)

	var ins Instruction
	ins.Op = Opcode(raw % 100)
	if raw < 0 || !ins.Op.Valid() {
		return ins, fmt.Errorf("%w: %d at address %d", ErrUnknownOpcode, raw, ptr)
	}
	if unsupported.Has(ins.Op) {
		return ins, fmt.Errorf("%w: %s at address %d", ErrUnsupportedOpcode, ins.Op, ptr)
	}

	modes := raw / 100
	for i := 0; i < ins.Op.ParamCount(); i++ {
		m := Mode(modes % 10)
		modes /= 10
		switch m {
		case ModePosition, ModeImmediate, ModeRelative:
		default:
			return ins, fmt.Errorf("%w: digit %d for parameter %d of %d at address %d",
				ErrInvalidParameterMode, int64(m), i+1, raw, ptr)
		}
		ins.Modes[i] = m
		ins.Params[i] = mem.Read(ptr + 1 + int64(i))
	}
	return ins, nil
}
