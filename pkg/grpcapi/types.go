package grpcapi

// RunRequest executes a program to completion or suspension.
type RunRequest struct {
	Program     string          `json:"program"`
	Inputs      []int64         `json:"inputs,omitempty"`
	Patches     map[int64]int64 `json:"patches,omitempty"`
	Unsupported []string        `json:"unsupported,omitempty"`
	MaxSteps    uint64          `json:"maxSteps,omitempty"`
}

// RunResponse is the result of Run.
type RunResponse struct {
	Outputs []int64 `json:"outputs"`
	Status  string  `json:"status"`
	Pointer int64   `json:"pointer"`
	Steps   uint64  `json:"steps"`
}

// StartSessionRequest starts a session from a stored program, referenced by
// id or name.
type StartSessionRequest struct {
	Program string          `json:"program"`
	Patches map[int64]int64 `json:"patches,omitempty"`
}

// SupplyInputRequest feeds values to a session.
type SupplyInputRequest struct {
	Session string  `json:"session"`
	Values  []int64 `json:"values"`
}

// GetSessionRequest identifies a session.
type GetSessionRequest struct {
	Session string `json:"session"`
}

// SessionResponse describes a session.
type SessionResponse struct {
	ID        string  `json:"id"`
	ProgramID string  `json:"programId"`
	Status    string  `json:"status"`
	Pointer   int64   `json:"pointer"`
	Steps     uint64  `json:"steps"`
	Outputs   []int64 `json:"outputs,omitempty"`
	Consumed  int     `json:"consumed"`
	Fault     string  `json:"fault,omitempty"`
}
