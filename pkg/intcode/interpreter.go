package intcode

// Options configures an Interpreter.
type Options struct {
	// Unsupported lists opcodes that fail with ErrUnsupportedOpcode when
	// reached. Used to validate programs written for a partial instruction
	// set.
	Unsupported []Opcode

	// MaxSteps bounds the instructions a machine may execute. Zero means
	// unlimited.
	MaxSteps uint64
}

// DefaultOptions returns options with the full instruction set and no step
// limit.
func DefaultOptions() Options {
	return Options{}
}

// Interpreter creates machines that share one configuration.
type Interpreter struct {
	unsupported OpcodeSet
	maxSteps    uint64
}

// New creates an interpreter.
func New(opts Options) *Interpreter {
	return &Interpreter{
		unsupported: NewOpcodeSet(opts.Unsupported...),
		maxSteps:    opts.MaxSteps,
	}
}

// Options returns the interpreter configuration.
func (ip *Interpreter) Options() Options {
	return Options{
		Unsupported: ip.unsupported.Slice(),
		MaxSteps:    ip.maxSteps,
	}
}

// Run loads program, executes it feeding one queued input per suspension,
// and returns every output produced. Running out of inputs leaves the
// machine suspended and is not an error.
func (ip *Interpreter) Run(program string, inputs []int64) ([]int64, error) {
	m, err := ip.RunMachine(program, inputs)
	if err != nil {
		return nil, err
	}
	return m.Outputs(), nil
}

// RunMachine is like Run but returns the machine for inspection or further
// input.
func (ip *Interpreter) RunMachine(program string, inputs []int64) (*Machine, error) {
	m, err := ip.Start(program)
	if err != nil {
		return nil, err
	}
	if _, err := m.SupplyInputs(inputs...); err != nil {
		return m, err
	}
	return m, nil
}

// Start loads program and returns a machine that has not executed anything.
func (ip *Interpreter) Start(program string) (*Machine, error) {
	mem, err := Parse(program)
	if err != nil {
		return nil, err
	}
	return newMachine(mem, ip.unsupported, ip.maxSteps), nil
}

// StartWithPatches is like Start but overwrites memory at the given
// addresses before the first instruction executes.
func (ip *Interpreter) StartWithPatches(program string, patches map[int64]int64) (*Machine, error) {
	m, err := ip.Start(program)
	if err != nil {
		return nil, err
	}
	for addr, x := range patches {
		m.mem.Write(addr, x)
	}
	return m, nil
}

// Load starts a machine from parsed memory. The machine works on a copy.
func (ip *Interpreter) Load(mem Memory) *Machine {
	return newMachine(mem.Clone(), ip.unsupported, ip.maxSteps)
}
