package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/fortiblox/intcode/pkg/intcode"
)

func writeConfig(t *testing.T, text string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "intcode.toml")
	if err := os.WriteFile(path, []byte(text), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaultConfig(t *testing.T) {
	c := DefaultConfig()
	if err := c.Validate(); err != nil {
		t.Fatalf("Validate() = %v", err)
	}
	if got := c.RPCServer().Addr; got != ":8645" {
		t.Errorf("RPCServer().Addr = %q, want :8645", got)
	}
	if got := c.GRPCServer().Addr; got != ":8646" {
		t.Errorf("GRPCServer().Addr = %q, want :8646", got)
	}
}

func TestLoad(t *testing.T) {
	t.Setenv("INTCODE_TOKEN", "s3cret")
	path := writeConfig(t, `
data-dir = "/var/lib/intcode"

[interpreter]
unsupported = ["rb", "8"]
max-steps = 5000

[rpc]
addr = "127.0.0.1:9000"
batch-workers = 2
read-timeout = "5s"

[grpc]
token = "${INTCODE_TOKEN}"
keepalive-time = "1m"

[cache]
sessions = 16
`)

	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	opts := c.Options()
	want := intcode.Options{Unsupported: []intcode.Opcode{intcode.OpAdjustBase, intcode.OpEquals}, MaxSteps: 5000}
	if diff := cmp.Diff(want, opts); diff != "" {
		t.Errorf("Options() mismatch (-want +got):\n%s", diff)
	}

	rc := c.RPCServer()
	if rc.Addr != "127.0.0.1:9000" || rc.BatchWorkers != 2 || rc.ReadTimeout != 5*time.Second {
		t.Errorf("RPCServer() = %+v", rc)
	}
	if rc.MaxBatchSize != 64 {
		t.Errorf("MaxBatchSize = %d, want default 64", rc.MaxBatchSize)
	}
	if rc.MaxSteps != 5000 {
		t.Errorf("rpc MaxSteps = %d, want 5000", rc.MaxSteps)
	}

	gc := c.GRPCServer()
	if gc.Token != "s3cret" {
		t.Errorf("Token = %q, want expanded env value", gc.Token)
	}
	if gc.KeepaliveTime != time.Minute {
		t.Errorf("KeepaliveTime = %v, want 1m", gc.KeepaliveTime)
	}

	if got := c.Sessions().CacheSize; got != 16 {
		t.Errorf("Sessions().CacheSize = %d, want 16", got)
	}
	if got := c.Cache.Programs; got != 128 {
		t.Errorf("Cache.Programs = %d, want default 128", got)
	}
	if got, want := c.SessionStore().Path, filepath.Join("/var/lib/intcode", "sessions"); got != want {
		t.Errorf("SessionStore().Path = %q, want %q", got, want)
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		text string
		want error
	}{
		{"unknown opcode", "[interpreter]\nunsupported = [\"jmp\"]\n", ErrConfigInvalid},
		{"unknown key", "[rpc]\nport = 80\n", ErrConfigInvalid},
		{"empty data dir", "data-dir = \"\"\n", ErrConfigInvalid},
		{"negative cache", "[cache]\nsessions = -1\n", ErrConfigInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.text))
			if !errors.Is(err, tt.want) {
				t.Errorf("Load() = %v, want %v", err, tt.want)
			}
		})
	}

	if _, err := Load(writeConfig(t, "[rpc\n")); err == nil {
		t.Error("Load() accepted malformed TOML")
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Load(missing) = %v, want os.ErrNotExist", err)
	}
	if _, err := Load(writeConfig(t, "[rpc]\nread-timeout = \"soon\"\n")); err == nil {
		t.Error("Load() accepted a bad duration")
	}
}

func TestParseOpcodes(t *testing.T) {
	ops, err := ParseOpcodes([]string{"add", "JF", "99"})
	if err != nil {
		t.Fatal(err)
	}
	want := []intcode.Opcode{intcode.OpAdd, intcode.OpJumpIfFalse, intcode.OpHalt}
	if diff := cmp.Diff(want, ops); diff != "" {
		t.Errorf("ParseOpcodes() mismatch (-want +got):\n%s", diff)
	}
	if _, err := ParseOpcodes([]string{"nop"}); !errors.Is(err, intcode.ErrUnknownOpcode) {
		t.Errorf("ParseOpcodes(nop) = %v, want ErrUnknownOpcode", err)
	}
}
