package intcode

import (
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
)

const (
	amplifier = "3,15,3,16,1002,16,10,16,1,16,15,15,4,15,99,0,0"
	feedback  = "3,26,1001,26,-4,26,3,27,1002,27,2,27,1,27,26,27,4,27," +
		"1001,28,-1,28,1005,28,6,99,0,0,5"
)

// chain runs one machine per phase, wiring each machine's output into the
// next one's input until the last machine halts.
func chain(t *testing.T, ip *Interpreter, program string, phases []int64) int64 {
	t.Helper()

	machines := make([]*Machine, len(phases))
	for i, phase := range phases {
		m, err := ip.Start(program)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := m.SupplyInputs(phase); err != nil {
			t.Fatal(err)
		}
		machines[i] = m
	}

	var signal int64
	for !machines[len(machines)-1].Halted() {
		for _, m := range machines {
			if err := m.SupplyInput(signal); err != nil {
				t.Fatal(err)
			}
			out := m.DrainOutputs()
			if len(out) != 1 {
				t.Fatalf("amplifier produced %d outputs, want 1", len(out))
			}
			signal = out[0]
		}
	}
	return signal
}

// TestIndependentMachines tests machines driven in lockstep without
// sharing state.
func TestIndependentMachines(t *testing.T) {
	ip := New(DefaultOptions())

	if got := chain(t, ip, amplifier, []int64{4, 3, 2, 1, 0}); got != 43210 {
		t.Errorf("amplifier chain = %d, want 43210", got)
	}
	if got := chain(t, ip, feedback, []int64{9, 8, 7, 6, 5}); got != 139629729 {
		t.Errorf("feedback loop = %d, want 139629729", got)
	}
}

// TestConcurrentMachines tests that machines from one interpreter run in
// parallel goroutines.
func TestConcurrentMachines(t *testing.T) {
	ip := New(DefaultOptions())
	mem := MustParse(quine)
	want := mem.Slice(int64(len(mem)))

	var wg sync.WaitGroup
	results := make([][]int64, 16)
	errs := make([]error, len(results))
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m := ip.Load(mem)
			errs[i] = m.Run()
			results[i] = m.Outputs()
		}(i)
	}
	wg.Wait()

	for i := range results {
		if errs[i] != nil {
			t.Fatalf("machine %d: %v", i, errs[i])
		}
		if diff := cmp.Diff(want, results[i]); diff != "" {
			t.Errorf("machine %d mismatch (-want +got):\n%s", i, diff)
		}
	}
	if got := mem.Read(100); got != 0 {
		t.Errorf("shared program modified: [100] = %d", got)
	}
}

func TestInterpreterOptions(t *testing.T) {
	ip := New(Options{Unsupported: []Opcode{OpEquals, OpAdd, OpEquals}, MaxSteps: 7})
	got := ip.Options()
	want := Options{Unsupported: []Opcode{OpAdd, OpEquals}, MaxSteps: 7}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Options() mismatch (-want +got):\n%s", diff)
	}
}
