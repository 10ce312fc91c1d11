package rpc

import (
	"context"
	"errors"
	"fmt"

	"github.com/fortiblox/intcode/internal/types"
	"github.com/fortiblox/intcode/pkg/intcode"
	"github.com/fortiblox/intcode/pkg/programstore"
	"github.com/fortiblox/intcode/pkg/sessions"
	"github.com/fortiblox/intcode/pkg/snapshot"
)

// JSON-RPC 2.0 standard error codes.
const (
	// ParseError indicates invalid JSON was received.
	ParseError = -32700

	// InvalidRequest indicates the JSON sent is not a valid Request object.
	InvalidRequest = -32600

	// MethodNotFound indicates the method does not exist.
	MethodNotFound = -32601

	// InvalidParams indicates invalid method parameters.
	InvalidParams = -32602

	// InternalError indicates an internal JSON-RPC error.
	InternalError = -32603
)

// Server error codes.
const (
	// ProgramNotFound indicates no stored program matches the reference.
	ProgramNotFound = -32001

	// SessionNotFound indicates the session id is unknown.
	SessionNotFound = -32002

	// SessionHalted indicates input was sent to a halted session.
	SessionHalted = -32003

	// InvalidSnapshot indicates an imported snapshot failed verification.
	InvalidSnapshot = -32004

	// NodeUnhealthy indicates the server is unhealthy.
	NodeUnhealthy = -32005

	// RequestCanceled indicates the client went away mid-request.
	RequestCanceled = -32006
)

// Machine error codes, one per intcode error.
const (
	ProgramParseFailed   = -32100
	UnknownOpcode        = -32101
	UnsupportedOpcode    = -32102
	InvalidParameterMode = -32103
	IllegalWrite         = -32104
	ContractViolation    = -32105
	StepLimitExceeded    = -32106
)

// Common error messages.
var (
	ErrParseError     = NewRPCError(ParseError, "Parse error")
	ErrInvalidRequest = NewRPCError(InvalidRequest, "Invalid Request")
	ErrMethodNotFound = NewRPCError(MethodNotFound, "Method not found")
	ErrInvalidParams  = NewRPCError(InvalidParams, "Invalid params")
	ErrInternalError  = NewRPCError(InternalError, "Internal error")
	ErrNodeUnhealthy  = NewRPCError(NodeUnhealthy, "Node is unhealthy")
)

var machineCodes = []struct {
	err  error
	code int
}{
	{intcode.ErrParse, ProgramParseFailed},
	{intcode.ErrUnknownOpcode, UnknownOpcode},
	{intcode.ErrUnsupportedOpcode, UnsupportedOpcode},
	{intcode.ErrInvalidParameterMode, InvalidParameterMode},
	{intcode.ErrIllegalWrite, IllegalWrite},
	{intcode.ErrContractViolation, ContractViolation},
	{intcode.ErrStepLimit, StepLimitExceeded},
}

// NewRPCError creates a new RPC error.
func NewRPCError(code int, message string) *RPCError {
	return &RPCError{
		Code:    code,
		Message: message,
	}
}

// NewRPCErrorWithData creates a new RPC error with additional data.
func NewRPCErrorWithData(code int, message string, data interface{}) *RPCError {
	return &RPCError{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

// Error implements the error interface.
func (e *RPCError) Error() string {
	if e.Data != nil {
		return fmt.Sprintf("RPC error %d: %s (data: %v)", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

// InvalidParamsError creates an invalid params error with a custom message.
func InvalidParamsError(msg string) *RPCError {
	return NewRPCError(InvalidParams, msg)
}

// InvalidParamsErrorf creates an invalid params error with a formatted message.
func InvalidParamsErrorf(format string, args ...interface{}) *RPCError {
	return NewRPCError(InvalidParams, fmt.Sprintf(format, args...))
}

// InternalServerErrorf creates an internal server error with a formatted message.
func InternalServerErrorf(format string, args ...interface{}) *RPCError {
	return NewRPCError(InternalError, fmt.Sprintf(format, args...))
}

// MachineError creates an error for a failed machine. data carries the
// machine state at the fault, if any.
func MachineError(err error, data interface{}) *RPCError {
	for _, mc := range machineCodes {
		if errors.Is(err, mc.err) {
			return NewRPCErrorWithData(mc.code, err.Error(), data)
		}
	}
	return NewRPCErrorWithData(InternalError, err.Error(), data)
}

// FromError maps a service error to its RPC error.
func FromError(err error) *RPCError {
	var rpcErr *RPCError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &rpcErr):
		return rpcErr
	case errors.Is(err, programstore.ErrProgramNotFound):
		return NewRPCError(ProgramNotFound, "Program not found")
	case errors.Is(err, programstore.ErrEmptyProgram):
		return InvalidParamsError(err.Error())
	case errors.Is(err, sessions.ErrSessionNotFound):
		return NewRPCError(SessionNotFound, "Session not found")
	case errors.Is(err, sessions.ErrSessionHalted):
		return NewRPCError(SessionHalted, err.Error())
	case errors.Is(err, snapshot.ErrBadMagic),
		errors.Is(err, snapshot.ErrUnsupportedVersion),
		errors.Is(err, snapshot.ErrChecksumMismatch),
		errors.Is(err, snapshot.ErrDecompressionFailed),
		errors.Is(err, snapshot.ErrMalformed):
		return NewRPCError(InvalidSnapshot, err.Error())
	case errors.Is(err, types.ErrInvalidProgramID),
		errors.Is(err, types.ErrInvalidSessionID):
		return InvalidParamsError(err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return NewRPCError(RequestCanceled, err.Error())
	}
	return MachineError(err, nil)
}
