package intcode

import (
	"fmt"
	"strconv"
	"strings"
)

// Parse loads program text into memory starting at address 0. Values are
// separated by commas and/or line breaks; blank tokens are skipped.
func Parse(text string) (Memory, error) {
	mem := make(Memory)
	var addr int64
	for _, line := range strings.Split(text, "\n") {
		for _, tok := range strings.Split(line, ",") {
			tok = strings.TrimSpace(tok)
			if tok == "" {
				continue
			}
			v, err := strconv.ParseInt(tok, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: token %q at address %d", ErrParse, tok, addr)
			}
			mem[addr] = v
			addr++
		}
	}
	return mem, nil
}

// ParseLines concatenates lines into one flat program.
func ParseLines(lines []string) (Memory, error) {
	return Parse(strings.Join(lines, "\n"))
}

// MustParse is like Parse but panics on error. Only use for program
// constants.
func MustParse(text string) Memory {
	mem, err := Parse(text)
	if err != nil {
		panic(fmt.Sprintf("invalid program constant: %v", err))
	}
	return mem
}
