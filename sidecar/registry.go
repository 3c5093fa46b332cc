package sidecar

import (
	"sync"

	"github.com/vfxforge/bidd/sidecar/rpc"
	"go.uber.org/zap"
)

// Registry is the process-wide owner of at most one live Sidecar. All
// mutations go through its lock, so concurrent start/stop/restart calls are
// serialized. It is an explicit value handed to whatever layer needs the
// worker, not ambient global state.
type Registry struct {
	log  *zap.SugaredLogger
	opts []Option

	mu sync.Mutex
	sc *Sidecar
}

// NewRegistry builds an empty registry. opts are applied to every sidecar
// it starts.
func NewRegistry(log *zap.SugaredLogger, opts ...Option) *Registry {
	return &Registry{
		log:  log,
		opts: append([]Option{WithLogger(log.Named("sidecar"))}, opts...),
	}
}

// Start installs a new sidecar for the given script path, stopping any
// existing one first.
func (r *Registry) Start(path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sc != nil {
		if err := r.sc.Stop(); err != nil {
			r.log.Warnw("stopping previous sidecar", "Error", err)
		}
		r.sc = nil
	}

	sc, err := Start(path, r.opts...)
	if err != nil {
		return err
	}
	r.sc = sc
	return nil
}

// Stop stops and clears the held sidecar. Idempotent.
func (r *Registry) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sc == nil {
		return nil
	}
	err := r.sc.Stop()
	r.sc = nil
	return err
}

// Restart delegates to the held sidecar.
func (r *Registry) Restart() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sc == nil {
		return ErrNotRunning
	}
	return r.sc.Restart()
}

// IsRunning reports whether a live worker is installed.
func (r *Registry) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sc != nil && r.sc.IsRunning()
}

// Client returns the RPC client for the current worker, or nil when the
// worker is not usable right now. Callers must treat nil exactly like a
// dead worker.
func (r *Registry) Client() *rpc.Client {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sc == nil {
		return nil
	}
	return r.sc.Client()
}

// AsyncClient returns the dispatch-pool client for the current worker, or
// nil when the worker is not usable.
func (r *Registry) AsyncClient() *rpc.AsyncClient {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sc == nil {
		return nil
	}
	return r.sc.AsyncClient()
}
