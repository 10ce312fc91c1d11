package intcode

import "fmt"

// Status is the execution state of a Machine.
type Status uint8

// Machine states.
const (
	// StatusRunning means the next Run executes instructions. New machines
	// start here.
	StatusRunning Status = iota

	// StatusAwaitingInput means the instruction at the pointer is an Input
	// that has not consumed a value yet.
	StatusAwaitingInput

	// StatusHalted is terminal.
	StatusHalted

	// StatusFaulted is terminal; Err holds the cause.
	StatusFaulted
)

func (s Status) String() string {
	switch s {
	case StatusRunning:
		return "running"
	case StatusAwaitingInput:
		return "awaiting_input"
	case StatusHalted:
		return "halted"
	case StatusFaulted:
		return "faulted"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// Machine executes one IntCode program. It owns its memory and output log
// and is not safe for concurrent use; distinct machines share nothing.
type Machine struct {
	mem     Memory
	ip      int64
	base    int64
	status  Status
	outputs []int64
	err     error

	// Configuration
	unsupported OpcodeSet
	maxSteps    uint64 // 0 = unlimited
	steps       uint64
}

func newMachine(mem Memory, unsupported OpcodeSet, maxSteps uint64) *Machine {
	return &Machine{
		mem:         mem,
		unsupported: unsupported,
		maxSteps:    maxSteps,
	}
}

// Run executes instructions until the machine halts or reaches an Input
// instruction. Calling Run on a suspended or halted machine is a no-op.
func (m *Machine) Run() error {
	switch m.status {
	case StatusAwaitingInput, StatusHalted:
		return nil
	case StatusFaulted:
		return m.err
	}

	for m.status == StatusRunning {
		ins, err := Decode(m.mem, m.ip, m.unsupported)
		if err != nil {
			return m.fault(err)
		}
		if ins.Op == OpInput {
			m.status = StatusAwaitingInput
			return nil
		}
		if err := m.consume(); err != nil {
			return m.fault(err)
		}
		if err := m.exec(ins); err != nil {
			return m.fault(err)
		}
	}
	return nil
}

// SupplyInput stores x through the pending Input instruction and continues
// running. The instruction at the pointer must be an Input.
func (m *Machine) SupplyInput(x int64) error {
	switch m.status {
	case StatusFaulted:
		return m.err
	case StatusHalted:
		return fmt.Errorf("%w: machine halted at address %d", ErrContractViolation, m.ip)
	}

	ins, err := Decode(m.mem, m.ip, m.unsupported)
	if err != nil {
		return m.fault(err)
	}
	if ins.Op != OpInput {
		return m.fault(fmt.Errorf("%w: %s at address %d", ErrContractViolation, ins.Op, m.ip))
	}
	if err := m.consume(); err != nil {
		return m.fault(err)
	}
	if err := m.store(ins, 0, x); err != nil {
		return m.fault(err)
	}
	m.ip += OpInput.Width()
	m.status = StatusRunning
	return m.Run()
}

// SupplyInputs feeds values one per suspension, running the machine first
// if it has not started. It stops early when the machine halts and returns
// the number of values consumed.
func (m *Machine) SupplyInputs(values ...int64) (int, error) {
	if err := m.Run(); err != nil {
		return 0, err
	}
	n := 0
	for _, x := range values {
		if m.status != StatusAwaitingInput {
			break
		}
		if err := m.SupplyInput(x); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// exec performs every instruction except Input.
func (m *Machine) exec(ins Instruction) error {
	switch ins.Op {
	case OpAdd, OpMultiply, OpLessThan, OpEquals:
		a, b := m.load(ins, 0), m.load(ins, 1)
		var r int64
		switch ins.Op {
		case OpAdd:
			r = a + b
		case OpMultiply:
			r = a * b
		case OpLessThan:
			if a < b {
				r = 1
			}
		case OpEquals:
			if a == b {
				r = 1
			}
		}
		if err := m.store(ins, 2, r); err != nil {
			return err
		}
		m.ip += ins.Op.Width()

	case OpOutput:
		m.outputs = append(m.outputs, m.load(ins, 0))
		m.ip += ins.Op.Width()

	case OpJumpIfTrue:
		if m.load(ins, 0) != 0 {
			m.ip = m.load(ins, 1)
		} else {
			m.ip += ins.Op.Width()
		}

	case OpJumpIfFalse:
		if m.load(ins, 0) == 0 {
			m.ip = m.load(ins, 1)
		} else {
			m.ip += ins.Op.Width()
		}

	case OpAdjustBase:
		m.base += m.load(ins, 0)
		m.ip += ins.Op.Width()

	case OpHalt:
		m.status = StatusHalted

	default:
		return fmt.Errorf("%w: %s at address %d", ErrUnknownOpcode, ins.Op, m.ip)
	}
	return nil
}

// load resolves parameter i to its operand value.
func (m *Machine) load(ins Instruction, i int) int64 {
	p := ins.Params[i]
	switch ins.Modes[i] {
	case ModeImmediate:
		return p
	case ModeRelative:
		return m.mem.Read(p + m.base)
	default:
		return m.mem.Read(p)
	}
}

// store writes x to the address named by parameter i.
func (m *Machine) store(ins Instruction, i int, x int64) error {
	p := ins.Params[i]
	switch ins.Modes[i] {
	case ModePosition:
		m.mem.Write(p, x)
	case ModeRelative:
		m.mem.Write(p+m.base, x)
	default:
		return fmt.Errorf("%w: parameter %d of %s at address %d", ErrIllegalWrite, i+1, ins.Op, m.ip)
	}
	return nil
}

func (m *Machine) consume() error {
	if m.maxSteps > 0 && m.steps >= m.maxSteps {
		return fmt.Errorf("%w: %d steps at address %d", ErrStepLimit, m.steps, m.ip)
	}
	m.steps++
	return nil
}

func (m *Machine) fault(err error) error {
	m.status = StatusFaulted
	m.err = err
	return err
}

// Status returns the current execution state.
func (m *Machine) Status() Status {
	return m.status
}

// Halted reports whether the machine executed a Halt instruction.
func (m *Machine) Halted() bool {
	return m.status == StatusHalted
}

// AwaitingInput reports whether the machine is suspended on an Input.
func (m *Machine) AwaitingInput() bool {
	return m.status == StatusAwaitingInput
}

// Err returns the fault that stopped the machine, if any.
func (m *Machine) Err() error {
	return m.err
}

// Pointer returns the instruction pointer.
func (m *Machine) Pointer() int64 {
	return m.ip
}

// RelativeBase returns the relative base.
func (m *Machine) RelativeBase() int64 {
	return m.base
}

// Steps returns the number of instructions executed so far.
func (m *Machine) Steps() uint64 {
	return m.steps
}

// Peek returns the value at addr without side effects.
func (m *Machine) Peek(addr int64) int64 {
	return m.mem.Read(addr)
}

// Current decodes the instruction at the pointer.
func (m *Machine) Current() (Instruction, error) {
	return Decode(m.mem, m.ip, m.unsupported)
}

// LatestOutput returns the most recent output.
func (m *Machine) LatestOutput() (int64, bool) {
	if len(m.outputs) == 0 {
		return 0, false
	}
	return m.outputs[len(m.outputs)-1], true
}

// LatestOutputs returns the last n outputs in production order, or all of
// them if fewer than n exist.
func (m *Machine) LatestOutputs(n int) []int64 {
	if n <= 0 {
		return []int64{}
	}
	if n > len(m.outputs) {
		n = len(m.outputs)
	}
	out := make([]int64, n)
	copy(out, m.outputs[len(m.outputs)-n:])
	return out
}

// Outputs returns a copy of the output log.
func (m *Machine) Outputs() []int64 {
	out := make([]int64, len(m.outputs))
	copy(out, m.outputs)
	return out
}

// DrainOutputs returns the output log and clears it.
func (m *Machine) DrainOutputs() []int64 {
	out := m.outputs
	if out == nil {
		out = []int64{}
	}
	m.outputs = nil
	return out
}

// ClearOutputs discards the output log.
func (m *Machine) ClearOutputs() {
	m.outputs = nil
}

// State is a detached copy of a machine's complete execution state.
type State struct {
	Memory       Memory
	Pointer      int64
	RelativeBase int64
	Status       Status
	Outputs      []int64
	Steps        uint64
	MaxSteps     uint64
	Unsupported  []Opcode
	Fault        string
}

// State captures the machine. The result shares nothing with m.
func (m *Machine) State() State {
	s := State{
		Memory:       m.mem.Clone(),
		Pointer:      m.ip,
		RelativeBase: m.base,
		Status:       m.status,
		Outputs:      m.Outputs(),
		Steps:        m.steps,
		MaxSteps:     m.maxSteps,
		Unsupported:  m.unsupported.Slice(),
	}
	if m.err != nil {
		s.Fault = m.err.Error()
	}
	return s
}

// Resume rebuilds a machine from a captured state. It continues exactly
// where the captured machine stopped.
func Resume(s State) *Machine {
	m := newMachine(s.Memory.Clone(), NewOpcodeSet(s.Unsupported...), s.MaxSteps)
	m.ip = s.Pointer
	m.base = s.RelativeBase
	m.status = s.Status
	m.steps = s.Steps
	if len(s.Outputs) > 0 {
		m.outputs = append([]int64(nil), s.Outputs...)
	}
	if s.Status == StatusFaulted {
		m.err = restoreFault(s.Fault)
	}
	return m
}
