package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
)

// WorkerEnv marks a process started as a discovery worker.
const WorkerEnv = "WEASEL_DISCOVERY_WORKER"

// IsWorker reports whether the current process was started as a discovery worker.
func IsWorker() bool {
	return os.Getenv(WorkerEnv) == "1"
}

// CommandFactory builds the worker command for one exchange.
type CommandFactory func(ctx context.Context) (*exec.Cmd, error)

// Process runs discovery in a child process speaking JSON over stdin and stdout.
type Process struct {
	factory CommandFactory
	logger  *slog.Logger
}

// ProcessOption mutates process exchanger construction.
type ProcessOption func(*Process)

// WithCommandFactory replaces the default self re-exec.
func WithCommandFactory(factory CommandFactory) ProcessOption {
	return func(process *Process) {
		if factory != nil {
			process.factory = factory
		}
	}
}

// WithProcessLogger configures the exchanger logger.
func WithProcessLogger(logger *slog.Logger) ProcessOption {
	return func(process *Process) {
		process.logger = loggerOrDefault(logger)
	}
}

// NewProcess creates a child-process exchanger. By default it re-executes the
// running binary with WorkerEnv set.
func NewProcess(options ...ProcessOption) *Process {
	process := &Process{
		factory: selfCommand,
		logger:  slog.Default(),
	}
	for _, option := range options {
		option(process)
	}

	return process
}

func selfCommand(ctx context.Context) (*exec.Cmd, error) {
	executable, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("resolve executable: %w", err)
	}
	cmd := exec.CommandContext(ctx, executable)
	cmd.Env = append(os.Environ(), WorkerEnv+"=1")

	return cmd, nil
}

// Exchange implements Exchanger.
func (p *Process) Exchange(ctx context.Context, request Request) (Response, error) {
	payload, err := json.Marshal(request)
	if err != nil {
		return Response{}, fmt.Errorf("process exchange encode request: %w", err)
	}
	cmd, err := p.factory(ctx)
	if err != nil {
		return Response{}, fmt.Errorf("process exchange: %w", err)
	}

	var stdout bytes.Buffer
	cmd.Stdin = bytes.NewReader(append(payload, '\n'))
	cmd.Stdout = &stdout
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}

	runErr := cmd.Run()
	raw := bytes.TrimSpace(stdout.Bytes())
	if len(raw) == 0 {
		if runErr != nil {
			return Response{}, fmt.Errorf("process exchange worker: %w", runErr)
		}
		return Response{}, fmt.Errorf("process exchange: worker wrote no response")
	}

	response, err := decodeResponse(raw)
	if err != nil {
		return Response{}, fmt.Errorf("process exchange: %w", err)
	}
	if runErr != nil {
		p.logger.WarnContext(ctx, "discovery worker exited with error after responding", "error", runErr)
	}

	return response, nil
}
