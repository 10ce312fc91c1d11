// Package intcode implements the IntCode virtual machine.
//
// IntCode programs are flat sequences of signed 64-bit integers. Each
// instruction word holds an opcode in its two low decimal digits and one
// addressing mode per parameter in the digits above:
//
//	ABCDE
//	 1002
//
//	DE - two-digit opcode
//	 C - mode of the 1st parameter
//	 B - mode of the 2nd parameter
//	 A - mode of the 3rd parameter
//
// Memory is sparse: every address not yet written reads as zero, and
// programs may address far beyond their loaded length through the relative
// base. A Machine suspends when it reaches an Input instruction and resumes
// from the same instruction when a value is supplied.
package intcode

import (
	"sort"
	"strconv"
	"strings"
)

// Memory maps addresses to values. Reads of unwritten addresses return zero.
type Memory map[int64]int64

// Read returns the value at addr.
func (m Memory) Read(addr int64) int64 {
	return m[addr]
}

// Write stores x at addr.
func (m Memory) Write(addr, x int64) {
	m[addr] = x
}

// Clone returns an independent copy.
func (m Memory) Clone() Memory {
	c := make(Memory, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}

// Len returns one past the highest address holding a value, or zero for
// empty memory. Negative addresses are ignored.
func (m Memory) Len() int64 {
	var n int64
	for addr := range m {
		if addr >= n {
			n = addr + 1
		}
	}
	return n
}

// Slice returns the values at addresses [0, n).
func (m Memory) Slice(n int64) []int64 {
	out := make([]int64, n)
	for i := range out {
		out[i] = m[int64(i)]
	}
	return out
}

// Addresses returns every stored address in ascending order.
func (m Memory) Addresses() []int64 {
	addrs := make([]int64, 0, len(m))
	for addr := range m {
		addrs = append(addrs, addr)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })
	return addrs
}

// Format renders the first n words as program text.
func (m Memory) Format(n int64) string {
	var b strings.Builder
	for i := int64(0); i < n; i++ {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatInt(m[i], 10))
	}
	return b.String()
}
