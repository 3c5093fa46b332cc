package sidecar

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/vfxforge/bidd/sidecar/rpc"
	"go.uber.org/zap"
)

// PythonEnvVar pins an exact runtime executable, overriding detection.
const PythonEnvVar = "BIDD_PYTHON"

const killGracePeriod = 2 * time.Second

// ErrNotRunning is returned for operations that need a live worker.
var ErrNotRunning = errors.New("sidecar is not running")

// Sidecar supervises the worker process: it owns the child handle, the
// three stdio pipes, and the RPC client bound to them. The stderr pipe is
// consumed entirely by the event reader goroutine and is not otherwise
// exposed.
//
// A Sidecar does not stop itself when garbage collected; whoever starts one
// must Stop it. The Registry does this for the instance it holds.
type Sidecar struct {
	log          *zap.SugaredLogger
	script       string // resolved absolute path, retained for Restart
	callTimeout  time.Duration
	eventHandler func(rpc.ProgressEvent)

	mu     sync.Mutex
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	client *rpc.Client
	async  *rpc.AsyncClient
	exited chan struct{} // closed by the wait goroutine
}

// Option configures a Sidecar.
type Option func(s *Sidecar)

// WithLogger sets the supervisor's logger.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(s *Sidecar) {
		s.log = l
	}
}

// WithCallTimeout sets the response deadline on the RPC client constructed
// for the worker.
func WithCallTimeout(d time.Duration) Option {
	return func(s *Sidecar) {
		s.callTimeout = d
	}
}

// WithEventHandler registers a handler for progress events parsed off the
// worker's stderr. The handler runs on the event reader goroutine and must
// not block.
func WithEventHandler(f func(rpc.ProgressEvent)) Option {
	return func(s *Sidecar) {
		s.eventHandler = f
	}
}

// Start resolves the worker entry script, spawns the runtime with its three
// standard streams piped, and begins consuming stderr. The returned handle
// is running, or an error is returned and nothing is left behind.
func Start(path string, opts ...Option) (*Sidecar, error) {
	script, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving script path %q: %w", path, err)
	}
	if _, err := os.Stat(script); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("worker script not found: %w", err)
		}
		return nil, fmt.Errorf("checking script path: %w", err)
	}

	s := &Sidecar{
		log:         zap.NewNop().Sugar(),
		script:      script,
		callTimeout: rpc.DefaultCallTimeout,
	}
	for _, o := range opts {
		o(s)
	}

	if err := s.start(); err != nil {
		return nil, err
	}
	return s, nil
}

// start spawns the worker for the retained script path. Called with no
// child present, from Start and Restart.
func (s *Sidecar) start() error {
	python := resolvePython()
	s.log.Infow("starting worker", "Python", python, "Script", s.script)

	cmd := exec.Command(python, s.script)
	cmd.Env = mergePythonPath(os.Environ(), filepath.Dir(s.script))

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("creating stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return fmt.Errorf("creating stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		stdin.Close()
		return fmt.Errorf("creating stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		stdin.Close()
		return fmt.Errorf("spawning worker: %w", err)
	}

	exited := make(chan struct{})
	go func() {
		err := cmd.Wait()
		close(exited)
		if err != nil {
			s.log.Warnw("worker exited", "Error", err)
		} else {
			s.log.Infow("worker exited")
		}
	}()
	go s.readEvents(stderr)

	s.mu.Lock()
	s.cmd = cmd
	s.stdin = stdin
	s.exited = exited
	s.client = rpc.NewClient(stdin, stdout,
		rpc.WithCallTimeout(s.callTimeout),
		rpc.WithClientLogger(s.log.Named("rpc")),
	)
	s.async = rpc.NewAsyncClient(s.client)
	s.mu.Unlock()
	return nil
}

// IsRunning is a non-blocking liveness probe. Once the child has exited the
// handle forgets it, so repeated calls reflect current truth.
func (s *Sidecar) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd == nil {
		return false
	}
	select {
	case <-s.exited:
		s.forgetLocked()
		return false
	default:
		return true
	}
}

// Client returns the RPC client bound to the current streams, or nil when
// the worker is not usable right now.
func (s *Sidecar) Client() *rpc.Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd == nil {
		return nil
	}
	select {
	case <-s.exited:
		s.forgetLocked()
		return nil
	default:
		return s.client
	}
}

// Stop terminates the worker and waits for it to exit so no zombie is left
// behind. Idempotent: stopping an already-stopped sidecar is a no-op.
func (s *Sidecar) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cmd == nil {
		return nil
	}

	s.log.Infow("stopping worker", "PID", s.cmd.Process.Pid)

	// Closing stdin flushes pending writes and signals EOF, giving a
	// well-behaved worker the chance to exit on its own.
	if s.stdin != nil {
		s.stdin.Close()
	}

	s.cmd.Process.Signal(os.Interrupt)
	select {
	case <-s.exited:
	case <-time.After(killGracePeriod):
		s.cmd.Process.Kill()
		<-s.exited
	}

	s.forgetLocked()
	return nil
}

// AsyncClient returns the dispatch-pool wrapper around the current client,
// or nil when the worker is not usable right now.
func (s *Sidecar) AsyncClient() *rpc.AsyncClient {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd == nil {
		return nil
	}
	select {
	case <-s.exited:
		s.forgetLocked()
		return nil
	default:
		return s.async
	}
}

// forgetLocked releases the child and stream handles and drains the
// dispatch pool. In-flight calls fail fast once the pipes are gone. Caller
// holds s.mu.
func (s *Sidecar) forgetLocked() {
	if s.async != nil {
		s.async.Close()
	}
	s.cmd = nil
	s.stdin = nil
	s.client = nil
	s.async = nil
}

// Restart stops the worker and starts a fresh one against the same resolved
// script path. If the new start fails, the handle ends up fully stopped.
func (s *Sidecar) Restart() error {
	if err := s.Stop(); err != nil {
		return err
	}
	return s.start()
}

// resolvePython picks the worker runtime: the env override, then a
// conventional local virtual environment, then the system default.
func resolvePython() string {
	if p := os.Getenv(PythonEnvVar); p != "" {
		return p
	}
	if wd, err := os.Getwd(); err == nil {
		venv := filepath.Join(wd, "venv", "bin", "python")
		if _, err := os.Stat(venv); err == nil {
			return venv
		}
	}
	return "python3"
}

// mergePythonPath adds dir to PYTHONPATH in env, keeping any inherited
// entries rather than overwriting them.
func mergePythonPath(env []string, dir string) []string {
	for i, kv := range env {
		if strings.HasPrefix(kv, "PYTHONPATH=") {
			env[i] = kv + string(os.PathListSeparator) + dir
			return env
		}
	}
	return append(env, "PYTHONPATH="+dir)
}
