package rpc

import (
	"encoding/json"
	"time"

	"github.com/fortiblox/intcode/pkg/programstore"
	"github.com/fortiblox/intcode/pkg/sessions"
)

// JSON-RPC 2.0 constants.
const (
	JSONRPCVersion = "2.0"
)

// Request represents a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response represents a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

// RPCError represents a JSON-RPC 2.0 error.
type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// RunConfig configures run and runBatch requests.
type RunConfig struct {
	// Patches overwrite memory before the first instruction.
	Patches map[int64]int64 `json:"patches,omitempty"`

	// Unsupported names opcodes to reject, by mnemonic or number.
	Unsupported []string `json:"unsupported,omitempty"`

	// MaxSteps lowers the server's step limit for this run.
	MaxSteps uint64 `json:"maxSteps,omitempty"`

	// Memory asks for the first Memory words of final memory.
	Memory int64 `json:"memory,omitempty"`
}

// RunRequest is one program execution in a runBatch call.
type RunRequest struct {
	Program string     `json:"program"`
	Inputs  []int64    `json:"inputs,omitempty"`
	Config  *RunConfig `json:"config,omitempty"`
}

// RunResult is the result of run.
type RunResult struct {
	Outputs []int64 `json:"outputs"`
	Status  string  `json:"status"`
	Pointer int64   `json:"pointer"`
	Steps   uint64  `json:"steps"`
	Memory  []int64 `json:"memory,omitempty"`
}

// BatchRunResult is one entry of a runBatch result.
type BatchRunResult struct {
	Result *RunResult `json:"result,omitempty"`
	Error  *RPCError  `json:"error,omitempty"`
}

// ProgramInfo describes a stored program.
type ProgramInfo struct {
	ID      string `json:"id"`
	Name    string `json:"name,omitempty"`
	Length  int64  `json:"length"`
	Created int64  `json:"created"`
	Text    string `json:"text,omitempty"`
}

// SessionConfig configures startSession requests.
type SessionConfig struct {
	Patches map[int64]int64 `json:"patches,omitempty"`
}

// SessionInfo describes a session.
type SessionInfo struct {
	ID        string  `json:"id"`
	ProgramID string  `json:"programId"`
	Status    string  `json:"status"`
	Pointer   *int64  `json:"pointer,omitempty"`
	Steps     uint64  `json:"steps"`
	Pending   int     `json:"pending"`
	Outputs   []int64 `json:"outputs,omitempty"`
	Consumed  *int    `json:"consumed,omitempty"`
	Fault     string  `json:"fault,omitempty"`
	Created   int64   `json:"created"`
	Updated   int64   `json:"updated"`
}

// ExportConfig configures exportSession requests.
type ExportConfig struct {
	Encoding Encoding `json:"encoding,omitempty"`
}

// VersionInfo is the result of getVersion.
type VersionInfo struct {
	Core    string   `json:"intcode-core"`
	Opcodes []string `json:"opcodes"`
}

func programInfo(p *programstore.Program, withText bool) ProgramInfo {
	info := ProgramInfo{
		ID:      p.ID.String(),
		Name:    p.Name,
		Length:  p.Length,
		Created: p.Created,
	}
	if withText {
		info.Text = p.Text
	}
	return info
}

func sessionMetaInfo(m sessions.Meta) SessionInfo {
	return SessionInfo{
		ID:        m.ID.String(),
		ProgramID: m.ProgramID.String(),
		Status:    m.Status.String(),
		Steps:     m.Steps,
		Pending:   m.Pending,
		Fault:     m.Fault,
		Created:   unixMillis(m.Created),
		Updated:   unixMillis(m.Updated),
	}
}

func sessionInfo(s *sessions.Session, withConsumed bool) SessionInfo {
	info := sessionMetaInfo(s.Meta)
	pointer := s.Pointer
	info.Pointer = &pointer
	info.Outputs = s.Outputs
	if withConsumed {
		consumed := s.Consumed
		info.Consumed = &consumed
	}
	return info
}

func unixMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}
