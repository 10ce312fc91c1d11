package intcode

import (
	"errors"
	"strconv"
	"testing"

	"github.com/google/go-cmp/cmp"
)

const (
	quine       = "109,1,204,-1,1001,100,1,100,1008,100,16,101,1006,101,0,99"
	equals8Pos  = "3,9,8,9,10,9,4,9,99,-1,8"
	equals8Imm  = "3,3,1108,-1,8,3,4,3,99"
	lessThan8   = "3,9,7,9,10,9,4,9,99,-1,8"
	lessThan8Im = "3,3,1107,-1,8,3,4,3,99"
	jumpPos     = "3,12,6,12,15,1,13,14,13,4,13,99,-1,0,1,9"
	jumpImm     = "3,3,1105,-1,9,1101,0,0,12,4,12,99,1"
	compare8    = "3,21,1008,21,8,20,1005,20,22,107,8,21,20,1006,20,31," +
		"1106,0,36,98,0,0,1002,21,125,20,4,20,1105,1,46,104," +
		"999,1105,1,46,1101,1000,1,20,4,20,1105,1,46,98,99"
	twoInputs = "3,100,3,101,1,100,101,102,4,102,99"
)

func runProgram(t *testing.T, program string, inputs ...int64) []int64 {
	t.Helper()
	out, err := New(DefaultOptions()).Run(program, inputs)
	if err != nil {
		t.Fatalf("Run(%q) error: %v", program, err)
	}
	return out
}

// TestQuine tests that the self-replicating program outputs its own source
// using only relative-mode addressing.
func TestQuine(t *testing.T) {
	mem := MustParse(quine)
	want := mem.Slice(int64(len(mem)))

	if diff := cmp.Diff(want, runProgram(t, quine)); diff != "" {
		t.Errorf("quine output mismatch (-want +got):\n%s", diff)
	}
}

// TestLargeValues tests arithmetic beyond 32 bits.
func TestLargeValues(t *testing.T) {
	out := runProgram(t, "1102,34915192,34915192,7,4,7,99,0")
	if len(out) != 1 {
		t.Fatalf("got %d outputs, want 1", len(out))
	}
	if s := strconv.FormatInt(out[0], 10); len(s) != 16 {
		t.Errorf("output %s has %d digits, want 16", s, len(s))
	}
	if out[0] != 1219070632396864 {
		t.Errorf("output = %d, want 1219070632396864", out[0])
	}

	out = runProgram(t, "104,1125899906842624,99")
	if diff := cmp.Diff([]int64{1125899906842624}, out); diff != "" {
		t.Errorf("large literal mismatch (-want +got):\n%s", diff)
	}
}

// TestComparisons tests the comparison and jump programs in both
// addressing modes.
func TestComparisons(t *testing.T) {
	tests := []struct {
		name    string
		program string
		input   int64
		want    int64
	}{
		{"equals 8 position, 8", equals8Pos, 8, 1},
		{"equals 8 position, 7", equals8Pos, 7, 0},
		{"equals 8 immediate, 8", equals8Imm, 8, 1},
		{"equals 8 immediate, 7", equals8Imm, 7, 0},
		{"less than 8 position, 7", lessThan8, 7, 1},
		{"less than 8 position, 8", lessThan8, 8, 0},
		{"less than 8 immediate, -3", lessThan8Im, -3, 1},
		{"less than 8 immediate, 9", lessThan8Im, 9, 0},
		{"jump position, 0", jumpPos, 0, 0},
		{"jump position, 5", jumpPos, 5, 1},
		{"jump immediate, 0", jumpImm, 0, 0},
		{"jump immediate, -5", jumpImm, -5, 1},
		{"compare 8, below", compare8, 7, 999},
		{"compare 8, equal", compare8, 8, 1000},
		{"compare 8, above", compare8, 9, 1001},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := runProgram(t, tt.program, tt.input)
			if diff := cmp.Diff([]int64{tt.want}, out); diff != "" {
				t.Errorf("output mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

// TestMemoryResults tests programs whose result is left in memory.
func TestMemoryResults(t *testing.T) {
	tests := []struct {
		program string
		addr    int64
		want    int64
	}{
		{"1,9,10,3,2,3,11,0,99,30,40,50", 0, 3500},
		{"1,0,0,0,99", 0, 2},
		{"2,3,0,3,99", 3, 6},
		{"2,4,4,5,99,0", 5, 9801},
		{"1,1,1,4,99,5,6,0,99", 0, 30},
		{"1002,4,3,4,33", 4, 99},
		{"1101,100,-1,4,0", 4, 99},
	}

	ip := New(DefaultOptions())
	for _, tt := range tests {
		m, err := ip.RunMachine(tt.program, nil)
		if err != nil {
			t.Fatalf("RunMachine(%q) error: %v", tt.program, err)
		}
		if !m.Halted() {
			t.Errorf("%q: Halted() = false", tt.program)
		}
		if got := m.Peek(tt.addr); got != tt.want {
			t.Errorf("%q: Peek(%d) = %d, want %d", tt.program, tt.addr, got, tt.want)
		}
	}
}

// TestSparseMemory tests reads and writes far beyond the loaded program.
func TestSparseMemory(t *testing.T) {
	// rb 1000000; add #7 #35 -> @0; out @0; halt
	m, err := New(DefaultOptions()).RunMachine("109,1000000,21101,7,35,0,204,0,99", nil)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]int64{42}, m.Outputs()); diff != "" {
		t.Errorf("output mismatch (-want +got):\n%s", diff)
	}
	if got := m.Peek(1000000); got != 42 {
		t.Errorf("Peek(1000000) = %d, want 42", got)
	}
	if got := m.RelativeBase(); got != 1000000 {
		t.Errorf("RelativeBase() = %d, want 1000000", got)
	}
	if n := len(m.State().Memory); n != 10 {
		t.Errorf("memory holds %d words, want 10", n)
	}
}

// TestSuspendResume tests that driving input by hand matches a one-shot
// run.
func TestSuspendResume(t *testing.T) {
	ip := New(DefaultOptions())

	m, err := ip.Start(twoInputs)
	if err != nil {
		t.Fatal(err)
	}
	if m.Status() != StatusRunning || m.Steps() != 0 {
		t.Fatalf("new machine: status %s, %d steps", m.Status(), m.Steps())
	}

	if err := m.Run(); err != nil {
		t.Fatal(err)
	}
	if !m.AwaitingInput() || m.Pointer() != 0 {
		t.Fatalf("after Run: status %s, pointer %d", m.Status(), m.Pointer())
	}

	// Run again while suspended does nothing.
	if err := m.Run(); err != nil || m.Pointer() != 0 {
		t.Fatalf("second Run: err %v, pointer %d", err, m.Pointer())
	}

	if err := m.SupplyInput(6); err != nil {
		t.Fatal(err)
	}
	if !m.AwaitingInput() || m.Pointer() != 2 {
		t.Fatalf("after first input: status %s, pointer %d", m.Status(), m.Pointer())
	}

	if err := m.SupplyInput(7); err != nil {
		t.Fatal(err)
	}
	if !m.Halted() {
		t.Fatalf("after second input: status %s", m.Status())
	}

	oneShot, err := ip.RunMachine(twoInputs, []int64{6, 7})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(oneShot.State(), m.State()); diff != "" {
		t.Errorf("state mismatch (-one-shot +manual):\n%s", diff)
	}
	if got, _ := m.LatestOutput(); got != 13 {
		t.Errorf("LatestOutput() = %d, want 13", got)
	}
}

// TestTooFewInputs tests that a run which exhausts its inputs stays
// suspended.
func TestTooFewInputs(t *testing.T) {
	m, err := New(DefaultOptions()).RunMachine(twoInputs, []int64{6})
	if err != nil {
		t.Fatalf("RunMachine() error: %v", err)
	}
	if !m.AwaitingInput() {
		t.Fatalf("Status() = %s, want awaiting_input", m.Status())
	}
	if m.Pointer() != 2 {
		t.Errorf("Pointer() = %d, want 2", m.Pointer())
	}

	out, err := New(DefaultOptions()).Run(twoInputs, nil)
	if err != nil || len(out) != 0 {
		t.Errorf("Run() = %v, %v; want no outputs, no error", out, err)
	}
}

// TestExtraInputsIgnored tests that inputs left over after a halt are not
// consumed.
func TestExtraInputsIgnored(t *testing.T) {
	m, err := New(DefaultOptions()).Start(equals8Imm)
	if err != nil {
		t.Fatal(err)
	}
	n, err := m.SupplyInputs(8, 9, 10)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("SupplyInputs() consumed %d, want 1", n)
	}
}

// TestUnsupportedOpcode tests that gated opcodes fail before any of their
// side effects.
func TestUnsupportedOpcode(t *testing.T) {
	ip := New(Options{Unsupported: []Opcode{OpJumpIfTrue}})

	// out #1; jt #1 #7; out #2; halt
	m, err := ip.RunMachine("104,1,1105,1,7,104,2,99", nil)
	if !errors.Is(err, ErrUnsupportedOpcode) {
		t.Fatalf("RunMachine() = %v, want ErrUnsupportedOpcode", err)
	}
	if diff := cmp.Diff([]int64{1}, m.Outputs()); diff != "" {
		t.Errorf("outputs mismatch (-want +got):\n%s", diff)
	}
	if m.Pointer() != 2 {
		t.Errorf("Pointer() = %d, want 2", m.Pointer())
	}
	if m.Status() != StatusFaulted {
		t.Errorf("Status() = %s, want faulted", m.Status())
	}

	// A gated opcode that is never reached is harmless.
	if out, err := ip.Run("104,1,1106,1,7,99", nil); err != nil || len(out) != 1 {
		t.Errorf("Run() = %v, %v", out, err)
	}
}

func TestFatalErrors(t *testing.T) {
	tests := []struct {
		name    string
		program string
		inputs  []int64
		want    error
	}{
		{"unknown opcode", "104,1,42", nil, ErrUnknownOpcode},
		{"invalid mode", "104,1,301,0,0,0,99", nil, ErrInvalidParameterMode},
		{"immediate destination", "11101,1,2,3,99", nil, ErrIllegalWrite},
		{"immediate input destination", "103,5,99", []int64{1}, ErrIllegalWrite},
		{"run off the program", "1105,1,50", nil, ErrUnknownOpcode},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := New(DefaultOptions()).RunMachine(tt.program, tt.inputs)
			if !errors.Is(err, tt.want) {
				t.Fatalf("RunMachine() = %v, want %v", err, tt.want)
			}
			// Faults are sticky.
			if err := m.Run(); !errors.Is(err, tt.want) {
				t.Errorf("Run() after fault = %v, want %v", err, tt.want)
			}
			if err := m.SupplyInput(1); !errors.Is(err, tt.want) {
				t.Errorf("SupplyInput() after fault = %v, want %v", err, tt.want)
			}
		})
	}

	if _, err := New(DefaultOptions()).Run("1,2,three", nil); !errors.Is(err, ErrParse) {
		t.Errorf("Run() = %v, want ErrParse", err)
	}
}

func TestContractViolation(t *testing.T) {
	ip := New(DefaultOptions())

	t.Run("not at input", func(t *testing.T) {
		m, err := ip.Start("104,1,99")
		if err != nil {
			t.Fatal(err)
		}
		if err := m.SupplyInput(5); !errors.Is(err, ErrContractViolation) {
			t.Errorf("SupplyInput() = %v, want ErrContractViolation", err)
		}
		if len(m.Outputs()) != 0 {
			t.Error("rejected input executed instructions")
		}
	})

	t.Run("halted", func(t *testing.T) {
		m, err := ip.RunMachine("104,1,99", nil)
		if err != nil {
			t.Fatal(err)
		}
		if err := m.SupplyInput(5); !errors.Is(err, ErrContractViolation) {
			t.Errorf("SupplyInput() = %v, want ErrContractViolation", err)
		}
		if !m.Halted() {
			t.Errorf("Status() = %s, want halted", m.Status())
		}
	})

	t.Run("input reachable but not at pointer", func(t *testing.T) {
		const program = "104,1,3,9,4,9,99"
		m, err := ip.Start(program)
		if err != nil {
			t.Fatal(err)
		}
		if err := m.SupplyInput(5); !errors.Is(err, ErrContractViolation) {
			t.Errorf("SupplyInput() = %v, want ErrContractViolation", err)
		}
		if m.Status() != StatusFaulted || m.Pointer() != 0 {
			t.Errorf("Status() = %s at %d, want faulted at 0", m.Status(), m.Pointer())
		}

		// SupplyInputs runs up to the Input first.
		m, err = ip.Start(program)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := m.SupplyInputs(5); err != nil {
			t.Fatalf("SupplyInputs() error: %v", err)
		}
		if diff := cmp.Diff([]int64{1, 5}, m.Outputs()); diff != "" || !m.Halted() {
			t.Errorf("Outputs mismatch (-want +got):\n%s (status %s)", diff, m.Status())
		}
	})

	t.Run("input before run", func(t *testing.T) {
		m, err := ip.Start(equals8Imm)
		if err != nil {
			t.Fatal(err)
		}
		if err := m.SupplyInput(8); err != nil {
			t.Fatalf("SupplyInput() error: %v", err)
		}
		if got, _ := m.LatestOutput(); got != 1 || !m.Halted() {
			t.Errorf("LatestOutput() = %d, status %s", got, m.Status())
		}
	})
}

func TestOutputLog(t *testing.T) {
	m, err := New(DefaultOptions()).RunMachine("104,1,104,2,104,3,99", nil)
	if err != nil {
		t.Fatal(err)
	}

	if got, ok := m.LatestOutput(); !ok || got != 3 {
		t.Errorf("LatestOutput() = %d, %v; want 3, true", got, ok)
	}
	if diff := cmp.Diff([]int64{2, 3}, m.LatestOutputs(2)); diff != "" {
		t.Errorf("LatestOutputs(2) mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int64{1, 2, 3}, m.LatestOutputs(10)); diff != "" {
		t.Errorf("LatestOutputs(10) mismatch (-want +got):\n%s", diff)
	}
	if got := m.LatestOutputs(0); len(got) != 0 {
		t.Errorf("LatestOutputs(0) = %v, want empty", got)
	}
	if diff := cmp.Diff([]int64{1, 2, 3}, m.DrainOutputs()); diff != "" {
		t.Errorf("DrainOutputs() mismatch (-want +got):\n%s", diff)
	}
	if got := m.DrainOutputs(); len(got) != 0 {
		t.Errorf("second DrainOutputs() = %v, want empty", got)
	}
	if _, ok := m.LatestOutput(); ok {
		t.Error("LatestOutput() after drain reported a value")
	}
}

func TestClearOutputsKeepsRunning(t *testing.T) {
	// in -> [20]; out [20]; in -> [20]; out [20]; halt
	m, err := New(DefaultOptions()).Start("3,20,4,20,3,20,4,20,99")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.SupplyInputs(5); err != nil {
		t.Fatal(err)
	}
	m.ClearOutputs()
	if err := m.SupplyInput(9); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]int64{9}, m.Outputs()); diff != "" {
		t.Errorf("outputs mismatch (-want +got):\n%s", diff)
	}
}

func TestStepLimit(t *testing.T) {
	m, err := New(Options{MaxSteps: 100}).RunMachine("1105,1,0", nil)
	if !errors.Is(err, ErrStepLimit) {
		t.Fatalf("RunMachine() = %v, want ErrStepLimit", err)
	}
	if m.Steps() != 100 {
		t.Errorf("Steps() = %d, want 100", m.Steps())
	}

	if _, err := New(Options{MaxSteps: 100}).Run(quine, nil); err != nil {
		t.Errorf("quine within budget: %v", err)
	}
}

func TestStateResume(t *testing.T) {
	ip := New(Options{Unsupported: []Opcode{OpJumpIfFalse}})
	m, err := ip.RunMachine(twoInputs, []int64{6})
	if err != nil {
		t.Fatal(err)
	}

	s := m.State()
	r := Resume(s)
	if r.Status() != StatusAwaitingInput || r.Pointer() != 2 {
		t.Fatalf("resumed: status %s, pointer %d", r.Status(), r.Pointer())
	}
	if err := r.SupplyInput(7); err != nil {
		t.Fatal(err)
	}
	if got, _ := r.LatestOutput(); got != 13 {
		t.Errorf("LatestOutput() = %d, want 13", got)
	}

	// The original is untouched.
	if !m.AwaitingInput() || m.Peek(101) != 0 {
		t.Errorf("original changed: status %s, [101] = %d", m.Status(), m.Peek(101))
	}
	if diff := cmp.Diff([]Opcode{OpJumpIfFalse}, s.Unsupported); diff != "" {
		t.Errorf("Unsupported mismatch (-want +got):\n%s", diff)
	}

	faulted, _ := New(DefaultOptions()).RunMachine("42", nil)
	r = Resume(faulted.State())
	if r.Status() != StatusFaulted {
		t.Errorf("resumed fault: status %s", r.Status())
	}
	if err := r.Run(); !errors.Is(err, ErrUnknownOpcode) {
		t.Errorf("resumed Run() = %v, want ErrUnknownOpcode", err)
	}
	if r.Err().Error() != faulted.Err().Error() {
		t.Errorf("resumed Err() = %q, want %q", r.Err(), faulted.Err())
	}
}

func TestStartWithPatches(t *testing.T) {
	ip := New(DefaultOptions())

	// out [5]; halt; data
	out, err := ip.Run("4,5,99,0,0,7", nil)
	if err != nil || out[0] != 7 {
		t.Fatalf("unpatched Run() = %v, %v", out, err)
	}

	m, err := ip.StartWithPatches("4,5,99,0,0,7", map[int64]int64{5: 11})
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Run(); err != nil {
		t.Fatal(err)
	}
	if got, _ := m.LatestOutput(); got != 11 {
		t.Errorf("patched output = %d, want 11", got)
	}

	// Patch the first word into a halt.
	m, err = ip.StartWithPatches("104,1,99", map[int64]int64{0: 99})
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Run(); err != nil || !m.Halted() || len(m.Outputs()) != 0 {
		t.Errorf("patched halt: err %v, status %s, outputs %v", err, m.Status(), m.Outputs())
	}
}
