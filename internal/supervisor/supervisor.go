package supervisor

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/bishoku/autopilot-codex/internal/ident"
	"github.com/bishoku/autopilot-codex/internal/ndjson"
	"github.com/bishoku/autopilot-codex/internal/protocol"
)

// ErrExited is returned when the agent process ends with a non-zero status
var ErrExited = errors.New("codex exited with error")

// Sandbox modes accepted by codex exec
const (
	SandboxWorkspaceWrite = "workspace-write"
	SandboxReadOnly       = "read-only"
)

// Config controls how the codex binary is launched
type Config struct {
	BinPath          string
	ExtraArgs        []string
	Env              map[string]string
	Sandbox          string
	SkipGitRepoCheck bool
	// SchemaDir holds temporary output schema files; defaults to os.TempDir()
	SchemaDir string
	// WaitDelay bounds how long pipes may stay open after the process is killed
	WaitDelay time.Duration
}

// CodexSupervisor launches one `codex exec --json` process per invocation
// and turns its output into an ordered event stream.
type CodexSupervisor struct {
	cfg    Config
	logger *slog.Logger
}

// NewCodexSupervisor creates a supervisor for the given binary
func NewCodexSupervisor(cfg Config, logger *slog.Logger) *CodexSupervisor {
	if cfg.BinPath == "" {
		cfg.BinPath = "codex"
	}
	if cfg.WaitDelay == 0 {
		cfg.WaitDelay = 5 * time.Second
	}
	return &CodexSupervisor{cfg: cfg, logger: logger}
}

// BuildArgs returns the codex argv (without the binary) for a request
func BuildArgs(cfg Config, req protocol.StreamRequest, schemaPath string) []string {
	args := []string{"exec", "--json"}
	if req.FullAuto {
		args = append(args, "--full-auto")
	} else if cfg.Sandbox != "" {
		args = append(args, "--sandbox", cfg.Sandbox)
	}
	if cfg.SkipGitRepoCheck {
		args = append(args, "--skip-git-repo-check")
	}
	if schemaPath != "" {
		args = append(args, "--output-schema", schemaPath)
	}
	args = append(args, cfg.ExtraArgs...)
	if req.ThreadID != "" {
		args = append(args, "resume", req.ThreadID)
	}
	return append(args, req.Prompt)
}

// RunStreamed starts the agent and returns its event stream
func (s *CodexSupervisor) RunStreamed(ctx context.Context, req protocol.StreamRequest) (protocol.EventStream, error) {
	schemaPath, err := s.writeSchema(req.OutputSchema)
	if err != nil {
		return nil, err
	}
	cleanup := func() {
		if schemaPath == "" {
			return
		}
		if err := os.Remove(schemaPath); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("failed to remove output schema", "path", schemaPath, "error", err)
		}
	}

	args := BuildArgs(s.cfg, req, schemaPath)
	runCtx, cancel := context.WithCancel(ctx)

	proc := exec.CommandContext(runCtx, s.cfg.BinPath, args...)
	proc.Dir = req.WorkingDirectory
	proc.WaitDelay = s.cfg.WaitDelay
	proc.Env = os.Environ()
	for k, v := range s.cfg.Env {
		proc.Env = append(proc.Env, fmt.Sprintf("%s=%s", k, v))
	}

	stdout, err := proc.StdoutPipe()
	if err != nil {
		cancel()
		cleanup()
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := proc.StderrPipe()
	if err != nil {
		cancel()
		cleanup()
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := proc.Start(); err != nil {
		cancel()
		cleanup()
		return nil, fmt.Errorf("failed to start codex: %w", err)
	}

	s.logger.Info("codex started",
		"pid", proc.Process.Pid,
		"cwd", req.WorkingDirectory,
		"resume", req.ThreadID != "",
		"full_auto", req.FullAuto)

	st := &Stream{
		ctx:     runCtx,
		cancel:  cancel,
		proc:    proc,
		logger:  s.logger,
		events:  make(chan protocol.Event, 64),
		done:    make(chan struct{}),
		cleanup: cleanup,
	}

	st.wg.Add(2)
	go st.readStdout(stdout)
	go st.readStderr(stderr)
	go st.waitForExit(ctx)

	return st, nil
}

func (s *CodexSupervisor) writeSchema(doc map[string]any) (string, error) {
	if doc == nil {
		return "", nil
	}

	fingerprint, err := ident.Fingerprint(doc)
	if err != nil {
		return "", fmt.Errorf("failed to fingerprint output schema: %w", err)
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("failed to marshal output schema: %w", err)
	}

	dir := s.cfg.SchemaDir
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("failed to create schema dir: %w", err)
	}

	f, err := os.CreateTemp(dir, "schema-"+fingerprint+"-*.json")
	if err != nil {
		return "", fmt.Errorf("failed to create schema file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("failed to write schema file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("failed to close schema file: %w", err)
	}
	return f.Name(), nil
}

// Stream is a running codex process. It satisfies protocol.EventStream.
type Stream struct {
	ctx     context.Context
	cancel  context.CancelFunc
	proc    *exec.Cmd
	logger  *slog.Logger
	events  chan protocol.Event
	done    chan struct{}
	cleanup func()
	wg      sync.WaitGroup

	mu         sync.Mutex
	err        error
	readErr    error
	lastStderr string
}

// Events returns the ordered agent events; closed when the process exits
func (st *Stream) Events() <-chan protocol.Event {
	return st.events
}

// Err returns the terminal stream error once Events is closed
func (st *Stream) Err() error {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.err
}

// Close kills the process if it is still running and waits for it to exit
func (st *Stream) Close() error {
	st.cancel()
	<-st.done
	return nil
}

func (st *Stream) emit(evt protocol.Event) bool {
	select {
	case st.events <- evt:
		return true
	case <-st.ctx.Done():
		return false
	}
}

func (st *Stream) readStdout(stdout io.Reader) {
	defer st.wg.Done()

	decoder := ndjson.NewDecoderSize(stdout, st.logger, ndjson.MaxAgentLineSize)
	for {
		evt, err := decoder.DecodeEvent()
		if err == io.EOF {
			st.logger.Debug("codex stdout closed")
			return
		}
		if err != nil {
			st.logger.Error("failed to read codex output", "error", err)
			st.mu.Lock()
			st.readErr = err
			st.mu.Unlock()
			// Drain so the process is not blocked on a full pipe
			io.Copy(io.Discard, stdout)
			return
		}
		if !st.emit(evt) {
			io.Copy(io.Discard, stdout)
			return
		}
	}
}

func (st *Stream) readStderr(stderr io.Reader) {
	defer st.wg.Done()

	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 4096), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		st.logger.Debug("codex stderr", "line", line)

		st.mu.Lock()
		if line != "" {
			st.lastStderr = line
		}
		st.mu.Unlock()

		if !st.emit(ndjson.LineEvent(protocol.EventStderr, line, time.Now())) {
			io.Copy(io.Discard, stderr)
			return
		}
	}

	if err := scanner.Err(); err != nil {
		st.logger.Error("error reading codex stderr", "error", err)
		io.Copy(io.Discard, stderr)
	}
}

func (st *Stream) waitForExit(parent context.Context) {
	defer close(st.done)

	// Pipes must be drained before Wait
	st.wg.Wait()
	waitErr := st.proc.Wait()

	st.mu.Lock()
	switch {
	case parent.Err() != nil:
		st.err = fmt.Errorf("codex run interrupted: %w", parent.Err())
	case st.ctx.Err() != nil:
		st.err = fmt.Errorf("codex run closed: %w", context.Canceled)
	case waitErr != nil:
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			st.err = fmt.Errorf("%w: code %d", ErrExited, exitErr.ExitCode())
		} else {
			st.err = fmt.Errorf("%w: %v", ErrExited, waitErr)
		}
		if st.lastStderr != "" {
			st.err = fmt.Errorf("%w: %s", st.err, st.lastStderr)
		}
	case st.readErr != nil:
		st.err = fmt.Errorf("failed to read codex output: %w", st.readErr)
	}
	err := st.err
	st.mu.Unlock()

	st.cleanup()
	st.cancel()
	close(st.events)

	if err != nil {
		st.logger.Warn("codex process exited", "error", err)
	} else {
		st.logger.Info("codex process exited cleanly")
	}
}
