// intcode: IntCode interpreter and execution service.
//
// Without -serve the command runs one program and prints its outputs, one
// per line. With -serve it opens the program and session stores and serves
// the JSON-RPC and gRPC APIs until interrupted.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/fortiblox/intcode/internal/types"
	"github.com/fortiblox/intcode/pkg/config"
	"github.com/fortiblox/intcode/pkg/grpcapi"
	"github.com/fortiblox/intcode/pkg/intcode"
	"github.com/fortiblox/intcode/pkg/programstore"
	"github.com/fortiblox/intcode/pkg/rpc"
	"github.com/fortiblox/intcode/pkg/sessions"
	"github.com/fortiblox/intcode/pkg/snapshot"
)

// Version information
var (
	Version   = "0.1.0"
	GitCommit = "dev"
)

// Configuration flags
var (
	configPath  = flag.String("config", "", "Path to an intcode.toml configuration file")
	programPath = flag.String("program", "", "Program file to run (- for stdin)")
	inputList   = flag.String("inputs", "", "Comma separated input values")
	unsupported = flag.String("unsupported", "", "Comma separated opcodes to reject (e.g. rb,eq)")
	maxSteps    = flag.Uint64("max-steps", 0, "Instruction limit (0 = config value)")
	snapshotOut = flag.String("snapshot", "", "Write the machine state here if it stops awaiting input")
	resumePath  = flag.String("resume", "", "Resume from a snapshot file instead of -program")
	serve       = flag.Bool("serve", false, "Run the JSON-RPC and gRPC servers")
	rpcAddr     = flag.String("rpc-addr", "", "JSON-RPC listen address (overrides config)")
	grpcAddr    = flag.String("grpc-addr", "", "gRPC listen address (overrides config)")
	dataDir     = flag.String("data-dir", "", "Data directory for the program and session stores")
	showVersion = flag.Bool("version", false, "Print version and exit")

	patches = patchFlag{}
)

func init() {
	flag.Var(patches, "patch", "Memory patch addr=value applied before the first instruction (repeatable)")
}

// patchFlag collects repeated -patch addr=value flags.
type patchFlag map[int64]int64

func (p patchFlag) String() string {
	parts := make([]string, 0, len(p))
	for addr, x := range p {
		parts = append(parts, fmt.Sprintf("%d=%d", addr, x))
	}
	return strings.Join(parts, ",")
}

func (p patchFlag) Set(s string) error {
	addr, value, ok := strings.Cut(s, "=")
	if !ok {
		return fmt.Errorf("want addr=value, got %q", s)
	}
	a, err := strconv.ParseInt(strings.TrimSpace(addr), 10, 64)
	if err != nil {
		return fmt.Errorf("bad address %q: %w", addr, err)
	}
	x, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil {
		return fmt.Errorf("bad value %q: %w", value, err)
	}
	p[a] = x
	return nil
}

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("intcode %s (%s)\n", Version, GitCommit)
		os.Exit(0)
	}

	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)

	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("Configuration error: %v", err)
	}

	if !*serve {
		if err := runOnce(cfg, flagRunOptions(), os.Stdout); err != nil {
			log.Fatalf("%v", err)
		}
		return
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Printf("Received signal %v, shutting down...", sig)
		cancel()
	}()

	log.Printf("Starting intcode %s", Version)
	if err := runServers(ctx, cfg); err != nil {
		log.Fatalf("%v", err)
	}
	log.Println("intcode stopped")
}

// loadConfig reads the config file, if any, and applies flag overrides.
func loadConfig() (*config.Config, error) {
	cfg := config.DefaultConfig()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			return nil, err
		}
		cfg = *loaded
	}

	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}
	if *rpcAddr != "" {
		cfg.RPC.Addr = *rpcAddr
		cfg.RPC.Enabled = true
	}
	if *grpcAddr != "" {
		cfg.GRPC.Addr = *grpcAddr
		cfg.GRPC.Enabled = true
	}
	if *unsupported != "" {
		cfg.Interpreter.Unsupported = splitList(*unsupported)
	}
	if *maxSteps > 0 {
		cfg.Interpreter.MaxSteps = *maxSteps
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// runOptions selects what runOnce executes.
type runOptions struct {
	Program  string // program file, - for stdin
	Resume   string // snapshot file to continue instead of Program
	Inputs   string // comma separated input values
	Patches  map[int64]int64
	Snapshot string // where to write the state if the run stops awaiting input
}

func flagRunOptions() runOptions {
	return runOptions{
		Program:  *programPath,
		Resume:   *resumePath,
		Inputs:   *inputList,
		Patches:  patches,
		Snapshot: *snapshotOut,
	}
}

// runOnce executes a single program (or resumes a snapshot) and prints
// every output. A resumed machine runs under the stricter of its own and
// cfg's step budget, with cfg's unsupported opcodes added to its own.
func runOnce(cfg *config.Config, ro runOptions, w io.Writer) error {
	inputs, err := parseInputs(ro.Inputs)
	if err != nil {
		return err
	}

	var (
		m       *intcode.Machine
		program types.ProgramID
	)
	switch {
	case ro.Resume != "" && ro.Program != "":
		return errors.New("-program and -resume are mutually exclusive")
	case ro.Resume != "":
		if len(ro.Patches) > 0 {
			return errors.New("-patch applies to -program only, not -resume")
		}
		snap, err := snapshot.ReadFile(ro.Resume)
		if err != nil {
			return fmt.Errorf("resume: %w", err)
		}
		m, program = snap.RestoreWith(cfg.Options()), snap.ProgramID
	case ro.Program != "":
		text, err := readProgram(ro.Program)
		if err != nil {
			return err
		}
		mem, err := intcode.Parse(text)
		if err != nil {
			return err
		}
		program = types.ProgramIDFromMemory(mem)
		for addr, x := range ro.Patches {
			mem.Write(addr, x)
		}
		m = intcode.New(cfg.Options()).Load(mem)
	default:
		return errors.New("one of -program, -resume or -serve is required")
	}

	_, runErr := m.SupplyInputs(inputs...)
	for _, x := range m.Outputs() {
		fmt.Fprintln(w, x)
	}
	if runErr != nil {
		return runErr
	}

	if m.AwaitingInput() {
		if ro.Snapshot == "" {
			log.Printf("Machine awaiting input at %d after %d steps", m.Pointer(), m.Steps())
			return nil
		}
		if err := snapshot.WriteFile(ro.Snapshot, snapshot.Capture(m, program)); err != nil {
			return fmt.Errorf("snapshot: %w", err)
		}
		log.Printf("Machine awaiting input, state written to %s", ro.Snapshot)
	}
	return nil
}

// runServers opens the stores and serves until ctx is canceled.
func runServers(ctx context.Context, cfg *config.Config) error {
	programs, err := programstore.Open(cfg.ProgramStore())
	if err != nil {
		return fmt.Errorf("open program store: %w", err)
	}
	defer programs.Close()
	log.Printf("Program store: %s (%d programs)", cfg.ProgramStorePath(), programs.Count())

	store, err := sessions.OpenStore(cfg.SessionStore())
	if err != nil {
		return fmt.Errorf("open session store: %w", err)
	}
	defer store.Close()
	log.Printf("Session store: %s (%d sessions)", cfg.SessionStorePath(), store.Count())

	mgr, err := sessions.NewManager(cfg.Sessions(), programs, store)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	if cfg.RPC.Enabled {
		srv := rpc.New(cfg.RPCServer(), programs, mgr)
		g.Go(func() error {
			return srv.Start(ctx)
		})
	}
	if cfg.GRPC.Enabled {
		srv := grpcapi.NewServer(cfg.GRPCServer(), programs, mgr)
		g.Go(func() error {
			return srv.Start(ctx)
		})
	}

	// Session value log GC and periodic status
	g.Go(func() error {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if err := store.RunGC(); err != nil {
					log.Printf("Session store GC failed: %v", err)
				}
				log.Printf("Status: programs=%d, sessions=%d", programs.Count(), mgr.Count())
			}
		}
	})

	return g.Wait()
}

func readProgram(path string) (string, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("read program: %w", err)
	}
	return string(data), nil
}

func parseInputs(s string) ([]int64, error) {
	var inputs []int64
	for _, field := range splitList(s) {
		x, err := strconv.ParseInt(field, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad input %q: %w", field, err)
		}
		inputs = append(inputs, x)
	}
	return inputs, nil
}

func splitList(s string) []string {
	var out []string
	for _, field := range strings.Split(s, ",") {
		if field = strings.TrimSpace(field); field != "" {
			out = append(out, field)
		}
	}
	return out
}
