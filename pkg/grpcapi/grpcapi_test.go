package grpcapi

import (
	"context"
	"net"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/fortiblox/intcode/pkg/programstore"
	"github.com/fortiblox/intcode/pkg/sessions"
)

const sumTwo = "3,20,3,21,1,20,21,22,4,22,99"

type testEnv struct {
	server   *Server
	programs *programstore.BoltStore
	lis      *bufconn.Listener
}

func newTestEnv(t *testing.T, config ServerConfig) *testEnv {
	t.Helper()

	programs, err := programstore.Open(programstore.DefaultConfig(filepath.Join(t.TempDir(), "programs.db")))
	if err != nil {
		t.Fatalf("failed to open program store: %v", err)
	}
	t.Cleanup(func() { programs.Close() })

	storeCfg := sessions.DefaultStoreConfig("")
	storeCfg.InMemory = true
	store, err := sessions.OpenStore(storeCfg)
	if err != nil {
		t.Fatalf("failed to open session store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	mgr, err := sessions.NewManager(sessions.DefaultConfig(), programs, store)
	if err != nil {
		t.Fatal(err)
	}

	env := &testEnv{
		server:   NewServer(config, programs, mgr),
		programs: programs,
		lis:      bufconn.Listen(1 << 20),
	}
	go env.server.Serve(env.lis)
	t.Cleanup(env.server.Stop)
	return env
}

func (env *testEnv) dial(t *testing.T, token string) *Client {
	t.Helper()

	config := DefaultClientConfig("bufnet")
	config.Token = token
	client, err := Dial(config, grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return env.lis.DialContext(ctx)
	}))
	if err != nil {
		t.Fatalf("Dial() error: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestRun(t *testing.T) {
	env := newTestEnv(t, DefaultServerConfig())
	client := env.dial(t, "")
	ctx := context.Background()

	resp, err := client.Run(ctx, &RunRequest{Program: sumTwo, Inputs: []int64{40, 2}})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if diff := cmp.Diff([]int64{42}, resp.Outputs); diff != "" {
		t.Errorf("Outputs mismatch (-want +got):\n%s", diff)
	}
	if resp.Status != "halted" || resp.Steps != 5 {
		t.Errorf("Run() = %+v", resp)
	}

	resp, err = client.Run(ctx, &RunRequest{Program: "1,0,0,0,4,0,99", Patches: map[int64]int64{1: 5, 2: 6}})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if diff := cmp.Diff([]int64{99}, resp.Outputs); diff != "" {
		t.Errorf("patched Outputs mismatch (-want +got):\n%s", diff)
	}
}

func TestRunErrors(t *testing.T) {
	config := DefaultServerConfig()
	config.MaxSteps = 100
	env := newTestEnv(t, config)
	client := env.dial(t, "")

	tests := []struct {
		name string
		req  *RunRequest
		code codes.Code
	}{
		{"parse", &RunRequest{Program: "1,,x"}, codes.InvalidArgument},
		{"unknown opcode", &RunRequest{Program: "42"}, codes.Aborted},
		{"unsupported", &RunRequest{Program: "1101,1,1,0,99", Unsupported: []string{"add"}}, codes.Aborted},
		{"bad opcode name", &RunRequest{Program: "99", Unsupported: []string{"jmp"}}, codes.InvalidArgument},
		{"step limit", &RunRequest{Program: "1105,1,0"}, codes.ResourceExhausted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := client.Run(context.Background(), tt.req)
			if got := status.Code(err); got != tt.code {
				t.Errorf("Run() code = %s, want %s (%v)", got, tt.code, err)
			}
		})
	}
}

func TestRunFaultKeepsOutputs(t *testing.T) {
	env := newTestEnv(t, DefaultServerConfig())
	client := env.dial(t, "")

	_, err := client.Run(context.Background(), &RunRequest{Program: "104,7,104,8,42"})
	if got := status.Code(err); got != codes.Aborted {
		t.Fatalf("Run() code = %s, want %s (%v)", got, codes.Aborted, err)
	}

	partial, ok := FaultResult(err)
	if !ok {
		t.Fatalf("FaultResult(%v) found no details", err)
	}
	want := &RunResponse{Outputs: []int64{7, 8}, Status: "faulted", Pointer: 4, Steps: 2}
	if diff := cmp.Diff(want, partial); diff != "" {
		t.Errorf("FaultResult() mismatch (-want +got):\n%s", diff)
	}

	// Errors raised before the machine runs carry no partial result.
	_, err = client.Run(context.Background(), &RunRequest{Program: "1,,x"})
	if _, ok := FaultResult(err); ok {
		t.Errorf("FaultResult() found details on a parse error")
	}
}

func TestSessions(t *testing.T) {
	env := newTestEnv(t, DefaultServerConfig())
	client := env.dial(t, "")
	ctx := context.Background()

	if _, err := env.programs.Put("sum", sumTwo); err != nil {
		t.Fatal(err)
	}

	sess, err := client.StartSession(ctx, &StartSessionRequest{Program: "sum"})
	if err != nil {
		t.Fatalf("StartSession() error: %v", err)
	}
	if sess.Status != "awaiting_input" {
		t.Fatalf("Status = %q, want awaiting_input", sess.Status)
	}

	sess, err = client.SupplyInput(ctx, &SupplyInputRequest{Session: sess.ID, Values: []int64{40, 2, 5}})
	if err != nil {
		t.Fatalf("SupplyInput() error: %v", err)
	}
	if sess.Status != "halted" || sess.Consumed != 2 {
		t.Errorf("SupplyInput() = %+v", sess)
	}

	got, err := client.GetSession(ctx, &GetSessionRequest{Session: sess.ID})
	if err != nil {
		t.Fatalf("GetSession() error: %v", err)
	}
	if diff := cmp.Diff([]int64{42}, got.Outputs); diff != "" {
		t.Errorf("Outputs mismatch (-want +got):\n%s", diff)
	}

	_, err = client.SupplyInput(ctx, &SupplyInputRequest{Session: sess.ID, Values: []int64{1}})
	if status.Code(err) != codes.FailedPrecondition {
		t.Errorf("SupplyInput(halted) = %v, want FailedPrecondition", err)
	}
	_, err = client.StartSession(ctx, &StartSessionRequest{Program: "missing"})
	if status.Code(err) != codes.NotFound {
		t.Errorf("StartSession(missing) = %v, want NotFound", err)
	}
	_, err = client.GetSession(ctx, &GetSessionRequest{Session: "0OIl"})
	if status.Code(err) != codes.InvalidArgument {
		t.Errorf("GetSession(bad id) = %v, want InvalidArgument", err)
	}
}

func TestTokenAuth(t *testing.T) {
	config := DefaultServerConfig()
	config.Token = "secret"
	env := newTestEnv(t, config)
	ctx := context.Background()

	if _, err := env.dial(t, "").Run(ctx, &RunRequest{Program: "99"}); status.Code(err) != codes.Unauthenticated {
		t.Errorf("Run() without token = %v, want Unauthenticated", err)
	}
	if _, err := env.dial(t, "wrong").Run(ctx, &RunRequest{Program: "99"}); status.Code(err) != codes.Unauthenticated {
		t.Errorf("Run() with wrong token = %v, want Unauthenticated", err)
	}
	if _, err := env.dial(t, "secret").Run(ctx, &RunRequest{Program: "99"}); err != nil {
		t.Errorf("Run() with token error: %v", err)
	}
}

func TestDialRequiresEndpoint(t *testing.T) {
	if _, err := Dial(ClientConfig{}); err != ErrNoEndpoint {
		t.Errorf("Dial() = %v, want ErrNoEndpoint", err)
	}
}
