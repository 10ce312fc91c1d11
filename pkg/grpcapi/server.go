// Package grpcapi serves IntCode execution and sessions over gRPC.
//
// The service is described by a hand-written grpc.ServiceDesc and carries
// JSON messages under the "json" content subtype, so neither side needs
// generated protobuf code.
package grpcapi

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/fortiblox/intcode/internal/types"
	"github.com/fortiblox/intcode/pkg/intcode"
	"github.com/fortiblox/intcode/pkg/programstore"
	"github.com/fortiblox/intcode/pkg/sessions"
)

// tokenHeader is the metadata key carrying the auth token.
const tokenHeader = "x-token"

// ServerConfig holds gRPC server configuration.
type ServerConfig struct {
	// Addr is the listen address (host:port).
	Addr string

	// Token, when set, must accompany every call in the x-token header.
	Token string

	// MaxMessageSize is the maximum message size in bytes.
	MaxMessageSize int

	// KeepaliveTime is the interval between server keepalive pings.
	KeepaliveTime time.Duration

	// MaxSteps caps the instructions any run may execute. Zero means
	// unlimited.
	MaxSteps uint64

	// Unsupported lists opcodes rejected by every run.
	Unsupported []intcode.Opcode

	// LogRequests enables request logging.
	LogRequests bool
}

// DefaultServerConfig returns a default gRPC server configuration.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:           ":8646",
		MaxMessageSize: 16 << 20,
		KeepaliveTime:  30 * time.Second,
		MaxSteps:       10_000_000,
	}
}

// Server implements MachineServer.
type Server struct {
	config   ServerConfig
	programs programstore.Store
	sessions *sessions.Manager

	grpc *grpc.Server

	mu      sync.Mutex
	running bool
}

// NewServer creates a gRPC server. programs and mgr may be nil; session
// calls then fail with Unimplemented.
func NewServer(config ServerConfig, programs programstore.Store, mgr *sessions.Manager) *Server {
	s := &Server{
		config:   config,
		programs: programs,
		sessions: mgr,
	}

	opts := []grpc.ServerOption{
		grpc.UnaryInterceptor(s.intercept),
		grpc.KeepaliveParams(keepalive.ServerParameters{Time: config.KeepaliveTime}),
	}
	if config.MaxMessageSize > 0 {
		opts = append(opts,
			grpc.MaxRecvMsgSize(config.MaxMessageSize),
			grpc.MaxSendMsgSize(config.MaxMessageSize),
		)
	}

	s.grpc = grpc.NewServer(opts...)
	RegisterMachineServer(s.grpc, s)
	return s
}

// Serve accepts connections on lis until Stop is called.
func (s *Server) Serve(lis net.Listener) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server already running")
	}
	s.running = true
	s.mu.Unlock()

	log.Printf("[gRPC] Server listening on %s", lis.Addr())
	return s.grpc.Serve(lis)
}

// Start listens on the configured address and serves until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.config.Addr, err)
	}

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	return s.Serve(lis)
}

// Stop gracefully stops the server.
func (s *Server) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	s.running = false
	s.grpc.GracefulStop()
}

// intercept checks the auth token and logs calls.
func (s *Server) intercept(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	if s.config.Token != "" {
		md, _ := metadata.FromIncomingContext(ctx)
		tokens := md.Get(tokenHeader)
		if len(tokens) == 0 || subtle.ConstantTimeCompare([]byte(tokens[0]), []byte(s.config.Token)) != 1 {
			return nil, status.Error(codes.Unauthenticated, "invalid or missing token")
		}
	}

	start := time.Now()
	resp, err := handler(ctx, req)
	if s.config.LogRequests {
		log.Printf("[gRPC] %s %s err=%v", info.FullMethod, time.Since(start), err)
	}
	return resp, err
}

// Run executes a program to completion or suspension.
func (s *Server) Run(ctx context.Context, req *RunRequest) (*RunResponse, error) {
	opts := intcode.Options{
		Unsupported: append([]intcode.Opcode(nil), s.config.Unsupported...),
		MaxSteps:    s.config.MaxSteps,
	}
	for _, name := range req.Unsupported {
		op, err := intcode.ParseOpcode(name)
		if err != nil {
			return nil, status.Error(codes.InvalidArgument, err.Error())
		}
		opts.Unsupported = append(opts.Unsupported, op)
	}
	if req.MaxSteps > 0 && (opts.MaxSteps == 0 || req.MaxSteps < opts.MaxSteps) {
		opts.MaxSteps = req.MaxSteps
	}

	m, err := intcode.New(opts).StartWithPatches(req.Program, req.Patches)
	if err != nil {
		return nil, toStatus(err)
	}
	if _, err := m.SupplyInputs(req.Inputs...); err != nil {
		return nil, faultStatus(m, err)
	}

	return &RunResponse{
		Outputs: m.Outputs(),
		Status:  m.Status().String(),
		Pointer: m.Pointer(),
		Steps:   m.Steps(),
	}, nil
}

// StartSession starts a session from a stored program.
func (s *Server) StartSession(ctx context.Context, req *StartSessionRequest) (*SessionResponse, error) {
	if s.sessions == nil || s.programs == nil {
		return nil, status.Error(codes.Unimplemented, "sessions are not enabled")
	}

	prog, err := s.programs.Resolve(req.Program)
	if err != nil {
		return nil, toStatus(err)
	}
	sess, err := s.sessions.Start(ctx, prog.ID, req.Patches)
	if err != nil {
		return nil, toStatus(err)
	}
	return sessionResponse(sess), nil
}

// SupplyInput feeds values to a session.
func (s *Server) SupplyInput(ctx context.Context, req *SupplyInputRequest) (*SessionResponse, error) {
	if s.sessions == nil {
		return nil, status.Error(codes.Unimplemented, "sessions are not enabled")
	}

	id, err := types.SessionIDFromBase58(req.Session)
	if err != nil {
		return nil, toStatus(err)
	}
	sess, err := s.sessions.SupplyInput(ctx, id, req.Values...)
	if err != nil {
		return nil, toStatus(err)
	}
	return sessionResponse(sess), nil
}

// GetSession returns a session's state.
func (s *Server) GetSession(ctx context.Context, req *GetSessionRequest) (*SessionResponse, error) {
	if s.sessions == nil {
		return nil, status.Error(codes.Unimplemented, "sessions are not enabled")
	}

	id, err := types.SessionIDFromBase58(req.Session)
	if err != nil {
		return nil, toStatus(err)
	}
	sess, err := s.sessions.Get(ctx, id)
	if err != nil {
		return nil, toStatus(err)
	}
	return sessionResponse(sess), nil
}

func sessionResponse(s *sessions.Session) *SessionResponse {
	return &SessionResponse{
		ID:        s.ID.String(),
		ProgramID: s.ProgramID.String(),
		Status:    s.Status.String(),
		Pointer:   s.Pointer,
		Steps:     s.Steps,
		Outputs:   s.Outputs,
		Consumed:  s.Consumed,
		Fault:     s.Fault,
	}
}

// toStatus maps service errors to gRPC status errors.
// faultReason tags the ErrorInfo detail that carries a faulted run's
// partial result. FaultResult reads it back.
const (
	faultReason = "MACHINE_FAULT"
	faultDomain = "intcode"
)

// faultStatus is toStatus plus the machine's outputs and position at the
// fault, attached as an ErrorInfo detail.
func faultStatus(m *intcode.Machine, err error) error {
	st := status.Convert(toStatus(err))
	outputs := make([]string, 0, len(m.Outputs()))
	for _, x := range m.Outputs() {
		outputs = append(outputs, strconv.FormatInt(x, 10))
	}
	detailed, derr := st.WithDetails(&errdetails.ErrorInfo{
		Reason: faultReason,
		Domain: faultDomain,
		Metadata: map[string]string{
			"outputs": strings.Join(outputs, ","),
			"status":  m.Status().String(),
			"pointer": strconv.FormatInt(m.Pointer(), 10),
			"steps":   strconv.FormatUint(m.Steps(), 10),
		},
	})
	if derr != nil {
		log.Printf("gRPC: cannot attach fault details: %v", derr)
		return st.Err()
	}
	return detailed.Err()
}

func toStatus(err error) error {
	var code codes.Code
	switch {
	case errors.Is(err, intcode.ErrParse),
		errors.Is(err, types.ErrInvalidProgramID),
		errors.Is(err, types.ErrInvalidSessionID),
		errors.Is(err, programstore.ErrEmptyProgram):
		code = codes.InvalidArgument
	case errors.Is(err, programstore.ErrProgramNotFound),
		errors.Is(err, sessions.ErrSessionNotFound):
		code = codes.NotFound
	case errors.Is(err, sessions.ErrSessionHalted),
		errors.Is(err, intcode.ErrContractViolation):
		code = codes.FailedPrecondition
	case errors.Is(err, intcode.ErrStepLimit):
		code = codes.ResourceExhausted
	case errors.Is(err, intcode.ErrUnknownOpcode),
		errors.Is(err, intcode.ErrUnsupportedOpcode),
		errors.Is(err, intcode.ErrInvalidParameterMode),
		errors.Is(err, intcode.ErrIllegalWrite):
		code = codes.Aborted
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return status.FromContextError(err).Err()
	default:
		code = codes.Internal
	}
	return status.Error(code, err.Error())
}
