package intcode

import (
	"errors"
	"strings"
)

// Errors. Every error returned by a Machine is fatal to that machine.
var (
	// ErrParse is returned when program text holds a token that is not a
	// signed decimal integer.
	ErrParse = errors.New("invalid program text")

	// ErrUnknownOpcode is returned when an instruction word has no opcode
	// mapping.
	ErrUnknownOpcode = errors.New("unknown opcode")

	// ErrUnsupportedOpcode is returned when an opcode disabled for the run is
	// reached.
	ErrUnsupportedOpcode = errors.New("unsupported opcode")

	// ErrInvalidParameterMode is returned for a mode digit other than 0, 1 or 2.
	ErrInvalidParameterMode = errors.New("invalid parameter mode")

	// ErrIllegalWrite is returned when a destination parameter is in
	// immediate mode.
	ErrIllegalWrite = errors.New("write to immediate-mode parameter")

	// ErrContractViolation is returned when input is supplied to a machine
	// that is not waiting for it.
	ErrContractViolation = errors.New("machine is not awaiting input")

	// ErrStepLimit is returned when a machine exceeds its step budget.
	ErrStepLimit = errors.New("step limit exceeded")
)

var sentinels = []error{
	ErrParse,
	ErrUnknownOpcode,
	ErrUnsupportedOpcode,
	ErrInvalidParameterMode,
	ErrIllegalWrite,
	ErrContractViolation,
	ErrStepLimit,
}

// faultError is a fault rebuilt from its message. It keeps the original
// text and still matches the sentinel it was wrapping.
type faultError struct {
	msg   string
	cause error
}

func (e *faultError) Error() string { return e.msg }
func (e *faultError) Unwrap() error { return e.cause }

func restoreFault(msg string) error {
	for _, s := range sentinels {
		if strings.HasPrefix(msg, s.Error()) {
			return &faultError{msg: msg, cause: s}
		}
	}
	return errors.New(msg)
}
