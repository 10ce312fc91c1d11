package rpc

import (
	"context"
	"encoding/json"

	"golang.org/x/sync/errgroup"

	"github.com/fortiblox/intcode/internal/types"
	"github.com/fortiblox/intcode/pkg/intcode"
	"github.com/fortiblox/intcode/pkg/programstore"
)

// CoreVersion is reported by getVersion.
const CoreVersion = "intcode-1.0.0"

// maxMemoryWords bounds the memory dump a run may request.
const maxMemoryWords = 1 << 16

// parseArgs decodes positional params and checks that at least required
// are present.
func parseArgs(params json.RawMessage, required int, missing string) ([]json.RawMessage, *RPCError) {
	var args []json.RawMessage
	if len(params) > 0 && string(params) != "null" {
		if err := json.Unmarshal(params, &args); err != nil {
			return nil, InvalidParamsError("invalid params")
		}
	}
	if len(args) < required {
		return nil, InvalidParamsError(missing)
	}
	return args, nil
}

// optional reports whether args holds a non-null value at i.
func optional(args []json.RawMessage, i int) bool {
	return len(args) > i && string(args[i]) != "null"
}

// Execution Methods

// run executes a program. Params: [program, inputs?, config?].
func (s *Server) run(ctx context.Context, params json.RawMessage) (interface{}, *RPCError) {
	args, rpcErr := parseArgs(params, 1, "missing program parameter")
	if rpcErr != nil {
		return nil, rpcErr
	}

	var req RunRequest
	if err := json.Unmarshal(args[0], &req.Program); err != nil {
		return nil, InvalidParamsError("invalid program")
	}
	if optional(args, 1) {
		if err := json.Unmarshal(args[1], &req.Inputs); err != nil {
			return nil, InvalidParamsError("invalid inputs")
		}
	}
	if optional(args, 2) {
		req.Config = &RunConfig{}
		if err := json.Unmarshal(args[2], req.Config); err != nil {
			return nil, InvalidParamsError("invalid config")
		}
	}

	return s.execute(&req)
}

// runBatch executes independent programs concurrently. Params: [[request...]].
// A failed program does not fail the batch.
func (s *Server) runBatch(ctx context.Context, params json.RawMessage) (interface{}, *RPCError) {
	args, rpcErr := parseArgs(params, 1, "missing requests parameter")
	if rpcErr != nil {
		return nil, rpcErr
	}

	var reqs []RunRequest
	if err := json.Unmarshal(args[0], &reqs); err != nil {
		return nil, InvalidParamsError("invalid requests")
	}
	if s.config.MaxBatchSize > 0 && len(reqs) > s.config.MaxBatchSize {
		return nil, InvalidParamsErrorf("batch of %d exceeds limit of %d", len(reqs), s.config.MaxBatchSize)
	}

	results := make([]BatchRunResult, len(reqs))

	var g errgroup.Group
	if s.config.BatchWorkers > 0 {
		g.SetLimit(s.config.BatchWorkers)
	}
	for i := range reqs {
		i := i
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				results[i].Error = FromError(err)
				return nil
			}
			res, rpcErr := s.execute(&reqs[i])
			results[i] = BatchRunResult{Result: res, Error: rpcErr}
			return nil
		})
	}
	g.Wait()

	return results, nil
}

// execute runs one request to completion or suspension. Machine errors
// carry the partial result as data.
func (s *Server) execute(req *RunRequest) (*RunResult, *RPCError) {
	cfg := req.Config
	if cfg == nil {
		cfg = &RunConfig{}
	}
	if cfg.Memory < 0 || cfg.Memory > maxMemoryWords {
		return nil, InvalidParamsErrorf("memory must be between 0 and %d", maxMemoryWords)
	}

	opts, rpcErr := s.runOptions(cfg)
	if rpcErr != nil {
		return nil, rpcErr
	}

	m, err := intcode.New(opts).StartWithPatches(req.Program, cfg.Patches)
	if err != nil {
		return nil, MachineError(err, nil)
	}

	_, err = m.SupplyInputs(req.Inputs...)
	result := &RunResult{
		Outputs: m.Outputs(),
		Status:  m.Status().String(),
		Pointer: m.Pointer(),
		Steps:   m.Steps(),
	}
	if cfg.Memory > 0 {
		result.Memory = make([]int64, cfg.Memory)
		for addr := range result.Memory {
			result.Memory[addr] = m.Peek(int64(addr))
		}
	}
	if err != nil {
		return nil, MachineError(err, result)
	}
	return result, nil
}

// runOptions merges the server limits with a request's config.
func (s *Server) runOptions(cfg *RunConfig) (intcode.Options, *RPCError) {
	opts := intcode.Options{
		Unsupported: append([]intcode.Opcode(nil), s.config.Unsupported...),
		MaxSteps:    s.config.MaxSteps,
	}
	for _, name := range cfg.Unsupported {
		op, err := intcode.ParseOpcode(name)
		if err != nil {
			return opts, InvalidParamsErrorf("invalid unsupported opcode %q", name)
		}
		opts.Unsupported = append(opts.Unsupported, op)
	}
	if cfg.MaxSteps > 0 && (opts.MaxSteps == 0 || cfg.MaxSteps < opts.MaxSteps) {
		opts.MaxSteps = cfg.MaxSteps
	}
	return opts, nil
}

// Program Methods

// putProgram stores a program. Params: [text, name?].
func (s *Server) putProgram(ctx context.Context, params json.RawMessage) (interface{}, *RPCError) {
	args, rpcErr := parseArgs(params, 1, "missing program parameter")
	if rpcErr != nil {
		return nil, rpcErr
	}

	var text, name string
	if err := json.Unmarshal(args[0], &text); err != nil {
		return nil, InvalidParamsError("invalid program")
	}
	if optional(args, 1) {
		if err := json.Unmarshal(args[1], &name); err != nil {
			return nil, InvalidParamsError("invalid name")
		}
	}

	p, err := s.programs.Put(name, text)
	if err != nil {
		return nil, FromError(err)
	}
	return programInfo(p, false), nil
}

// getProgram returns a stored program with its text. Params: [idOrName].
func (s *Server) getProgram(ctx context.Context, params json.RawMessage) (interface{}, *RPCError) {
	p, rpcErr := s.programParam(params)
	if rpcErr != nil {
		return nil, rpcErr
	}
	return programInfo(p, true), nil
}

// listPrograms returns every stored program without text.
func (s *Server) listPrograms(ctx context.Context, params json.RawMessage) (interface{}, *RPCError) {
	programs, err := s.programs.List()
	if err != nil {
		return nil, InternalServerErrorf("failed to list programs: %v", err)
	}

	infos := make([]ProgramInfo, 0, len(programs))
	for _, p := range programs {
		infos = append(infos, programInfo(p, false))
	}
	return infos, nil
}

// deleteProgram removes a stored program. Params: [idOrName].
func (s *Server) deleteProgram(ctx context.Context, params json.RawMessage) (interface{}, *RPCError) {
	p, rpcErr := s.programParam(params)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if err := s.programs.Delete(p.ID); err != nil {
		return nil, FromError(err)
	}
	return true, nil
}

// programParam resolves the first param as a program id, then as a name.
func (s *Server) programParam(params json.RawMessage) (*programstore.Program, *RPCError) {
	args, rpcErr := parseArgs(params, 1, "missing program parameter")
	if rpcErr != nil {
		return nil, rpcErr
	}

	var ref string
	if err := json.Unmarshal(args[0], &ref); err != nil {
		return nil, InvalidParamsError("invalid program reference")
	}

	p, err := s.programs.Resolve(ref)
	if err != nil {
		return nil, FromError(err)
	}
	return p, nil
}

// Session Methods

// startSession starts a session from a stored program.
// Params: [idOrName, config?].
func (s *Server) startSession(ctx context.Context, params json.RawMessage) (interface{}, *RPCError) {
	if s.programs == nil {
		return nil, InternalServerErrorf("no program store configured")
	}
	p, rpcErr := s.programParam(params)
	if rpcErr != nil {
		return nil, rpcErr
	}

	args, _ := parseArgs(params, 1, "")
	var cfg SessionConfig
	if optional(args, 1) {
		if err := json.Unmarshal(args[1], &cfg); err != nil {
			return nil, InvalidParamsError("invalid config")
		}
	}

	sess, err := s.sessions.Start(ctx, p.ID, cfg.Patches)
	if err != nil {
		return nil, FromError(err)
	}
	return sessionInfo(sess, false), nil
}

// supplyInput feeds a session. Params: [sessionId, value | [values]].
func (s *Server) supplyInput(ctx context.Context, params json.RawMessage) (interface{}, *RPCError) {
	args, rpcErr := parseArgs(params, 2, "missing input parameter")
	if rpcErr != nil {
		return nil, rpcErr
	}
	id, rpcErr := sessionIDParam(args[0])
	if rpcErr != nil {
		return nil, rpcErr
	}

	var values []int64
	if err := json.Unmarshal(args[1], &values); err != nil {
		var x int64
		if err := json.Unmarshal(args[1], &x); err != nil {
			return nil, InvalidParamsError("invalid input")
		}
		values = []int64{x}
	}

	sess, err := s.sessions.SupplyInput(ctx, id, values...)
	if err != nil {
		return nil, FromError(err)
	}
	return sessionInfo(sess, true), nil
}

// getSession returns a session's state. Params: [sessionId].
func (s *Server) getSession(ctx context.Context, params json.RawMessage) (interface{}, *RPCError) {
	id, rpcErr := s.sessionParam(params)
	if rpcErr != nil {
		return nil, rpcErr
	}
	sess, err := s.sessions.Get(ctx, id)
	if err != nil {
		return nil, FromError(err)
	}
	return sessionInfo(sess, false), nil
}

// drainOutputs returns and clears a session's outputs. Params: [sessionId].
func (s *Server) drainOutputs(ctx context.Context, params json.RawMessage) (interface{}, *RPCError) {
	id, rpcErr := s.sessionParam(params)
	if rpcErr != nil {
		return nil, rpcErr
	}
	out, err := s.sessions.Drain(ctx, id)
	if err != nil {
		return nil, FromError(err)
	}
	if out == nil {
		out = []int64{}
	}
	return out, nil
}

// closeSession deletes a session. Params: [sessionId].
func (s *Server) closeSession(ctx context.Context, params json.RawMessage) (interface{}, *RPCError) {
	id, rpcErr := s.sessionParam(params)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if err := s.sessions.Close(ctx, id); err != nil {
		return nil, FromError(err)
	}
	return true, nil
}

// listSessions returns metadata for every session.
func (s *Server) listSessions(ctx context.Context, params json.RawMessage) (interface{}, *RPCError) {
	metas, err := s.sessions.List(ctx)
	if err != nil {
		return nil, FromError(err)
	}

	infos := make([]SessionInfo, 0, len(metas))
	for _, m := range metas {
		infos = append(infos, sessionMetaInfo(m))
	}
	return infos, nil
}

// exportSession returns a session's snapshot as [data, encoding].
// Params: [sessionId, config?].
func (s *Server) exportSession(ctx context.Context, params json.RawMessage) (interface{}, *RPCError) {
	args, rpcErr := parseArgs(params, 1, "missing session parameter")
	if rpcErr != nil {
		return nil, rpcErr
	}
	id, rpcErr := sessionIDParam(args[0])
	if rpcErr != nil {
		return nil, rpcErr
	}

	var cfg ExportConfig
	if optional(args, 1) {
		if err := json.Unmarshal(args[1], &cfg); err != nil {
			return nil, InvalidParamsError("invalid config")
		}
	}

	data, err := s.sessions.Export(ctx, id)
	if err != nil {
		return nil, FromError(err)
	}
	encoded, err := EncodeBytes(data, ParseEncoding(string(cfg.Encoding)))
	if err != nil {
		return nil, InternalServerErrorf("failed to encode snapshot: %v", err)
	}
	return encoded, nil
}

// importSession creates a session from an exported snapshot.
// Params: [data, encoding?].
func (s *Server) importSession(ctx context.Context, params json.RawMessage) (interface{}, *RPCError) {
	args, rpcErr := parseArgs(params, 1, "missing snapshot parameter")
	if rpcErr != nil {
		return nil, rpcErr
	}

	var encoded, encoding string
	if err := json.Unmarshal(args[0], &encoded); err != nil {
		return nil, InvalidParamsError("invalid snapshot")
	}
	if optional(args, 1) {
		if err := json.Unmarshal(args[1], &encoding); err != nil {
			return nil, InvalidParamsError("invalid encoding")
		}
	}

	data, err := DecodeBytes(encoded, ParseEncoding(encoding))
	if err != nil {
		return nil, InvalidParamsErrorf("invalid snapshot encoding: %v", err)
	}
	sess, err := s.sessions.Import(ctx, data)
	if err != nil {
		return nil, FromError(err)
	}
	return sessionInfo(sess, false), nil
}

func (s *Server) sessionParam(params json.RawMessage) (types.SessionID, *RPCError) {
	args, rpcErr := parseArgs(params, 1, "missing session parameter")
	if rpcErr != nil {
		return types.SessionID{}, rpcErr
	}
	return sessionIDParam(args[0])
}

func sessionIDParam(raw json.RawMessage) (types.SessionID, *RPCError) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return types.SessionID{}, InvalidParamsError("invalid session id")
	}
	id, err := types.SessionIDFromBase58(s)
	if err != nil {
		return types.SessionID{}, InvalidParamsError("invalid session id format")
	}
	return id, nil
}

// Node Methods

// getHealth returns "ok" while the server is healthy.
func (s *Server) getHealth(ctx context.Context, params json.RawMessage) (interface{}, *RPCError) {
	if !s.IsHealthy() {
		return nil, ErrNodeUnhealthy
	}
	return "ok", nil
}

// getVersion returns the core version and the opcodes runs accept.
func (s *Server) getVersion(ctx context.Context, params json.RawMessage) (interface{}, *RPCError) {
	disabled := intcode.NewOpcodeSet(s.config.Unsupported...)
	info := VersionInfo{Core: CoreVersion}
	for _, op := range intcode.Opcodes() {
		if !disabled.Has(op) {
			info.Opcodes = append(info.Opcodes, op.String())
		}
	}
	return info, nil
}
