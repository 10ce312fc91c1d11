package grpcapi

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"
)

// Client errors.
var (
	ErrNoEndpoint = errors.New("grpc endpoint is required")
)

// ClientConfig holds gRPC client configuration.
type ClientConfig struct {
	// Endpoint is the server address (host:port).
	Endpoint string

	// Token is sent in the x-token header when set.
	Token string

	// UseTLS enables TLS for the connection.
	UseTLS bool

	// Keepalive configuration.
	KeepaliveTime    time.Duration
	KeepaliveTimeout time.Duration

	// MaxMessageSize is the maximum message size in bytes.
	MaxMessageSize int
}

// DefaultClientConfig returns a default client configuration for endpoint.
func DefaultClientConfig(endpoint string) ClientConfig {
	return ClientConfig{
		Endpoint:         endpoint,
		KeepaliveTime:    30 * time.Second,
		KeepaliveTimeout: 10 * time.Second,
		MaxMessageSize:   16 << 20,
	}
}

// Client calls the intcode.Machine service.
type Client struct {
	config ClientConfig
	conn   *grpc.ClientConn
}

// Dial connects to the configured endpoint. extra options are appended to
// the defaults.
func Dial(config ClientConfig, extra ...grpc.DialOption) (*Client, error) {
	if config.Endpoint == "" {
		return nil, ErrNoEndpoint
	}

	opts := []grpc.DialOption{
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                config.KeepaliveTime,
			Timeout:             config.KeepaliveTimeout,
			PermitWithoutStream: true,
		}),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(codecName)),
	}
	if config.MaxMessageSize > 0 {
		opts = append(opts, grpc.WithDefaultCallOptions(
			grpc.MaxCallRecvMsgSize(config.MaxMessageSize),
			grpc.MaxCallSendMsgSize(config.MaxMessageSize),
		))
	}

	if config.UseTLS {
		opts = append(opts, grpc.WithTransportCredentials(
			credentials.NewTLS(&tls.Config{
				MinVersion: tls.VersionTLS12,
			}),
		))
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}

	if config.Token != "" {
		opts = append(opts, grpc.WithPerRPCCredentials(&tokenAuth{
			token:      config.Token,
			requireTLS: config.UseTLS,
		}))
	}

	//nolint:staticcheck // Dial keeps the passthrough resolver for plain host:port targets
	conn, err := grpc.Dial(config.Endpoint, append(opts, extra...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to dial gRPC: %w", err)
	}
	return &Client{config: config, conn: conn}, nil
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Run executes a program on the server.
func (c *Client) Run(ctx context.Context, req *RunRequest) (*RunResponse, error) {
	out := new(RunResponse)
	if err := c.conn.Invoke(ctx, methodRun, req, out); err != nil {
		return nil, err
	}
	return out, nil
}

// FaultResult returns the partial result carried by a Run error when the
// machine faulted mid-run: the outputs it produced and where it stopped.
func FaultResult(err error) (*RunResponse, bool) {
	st, ok := status.FromError(err)
	if !ok {
		return nil, false
	}
	for _, detail := range st.Details() {
		info, ok := detail.(*errdetails.ErrorInfo)
		if !ok || info.GetReason() != faultReason || info.GetDomain() != faultDomain {
			continue
		}
		md := info.GetMetadata()
		resp := &RunResponse{Status: md["status"]}
		if s := md["outputs"]; s != "" {
			for _, field := range strings.Split(s, ",") {
				x, err := strconv.ParseInt(field, 10, 64)
				if err != nil {
					return nil, false
				}
				resp.Outputs = append(resp.Outputs, x)
			}
		}
		resp.Pointer, _ = strconv.ParseInt(md["pointer"], 10, 64)
		resp.Steps, _ = strconv.ParseUint(md["steps"], 10, 64)
		return resp, true
	}
	return nil, false
}

// StartSession starts a session from a stored program.
func (c *Client) StartSession(ctx context.Context, req *StartSessionRequest) (*SessionResponse, error) {
	out := new(SessionResponse)
	if err := c.conn.Invoke(ctx, methodStartSession, req, out); err != nil {
		return nil, err
	}
	return out, nil
}

// SupplyInput feeds values to a session.
func (c *Client) SupplyInput(ctx context.Context, req *SupplyInputRequest) (*SessionResponse, error) {
	out := new(SessionResponse)
	if err := c.conn.Invoke(ctx, methodSupplyInput, req, out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetSession returns a session's state.
func (c *Client) GetSession(ctx context.Context, req *GetSessionRequest) (*SessionResponse, error) {
	out := new(SessionResponse)
	if err := c.conn.Invoke(ctx, methodGetSession, req, out); err != nil {
		return nil, err
	}
	return out, nil
}

// tokenAuth implements grpc.PerRPCCredentials for token authentication.
type tokenAuth struct {
	token      string
	requireTLS bool
}

// GetRequestMetadata returns the authentication metadata.
func (t *tokenAuth) GetRequestMetadata(ctx context.Context, uri ...string) (map[string]string, error) {
	return map[string]string{
		tokenHeader: t.token,
	}, nil
}

// RequireTransportSecurity returns whether TLS is required.
func (t *tokenAuth) RequireTransportSecurity() bool {
	return t.requireTLS
}

var _ MachineServer = (*Server)(nil)
