package rpc

import (
	"context"
	"encoding/json"
	"sync"
)

const (
	defaultPoolSize  = 4
	defaultQueueSize = 16
)

// AsyncClient lets many concurrent callers issue blocking RPC calls without
// each occupying its own OS thread indefinitely. Calls are dispatched to a
// fixed-size pool of worker goroutines fed by a bounded queue; a full queue
// applies backpressure through the caller's context rather than spawning
// more goroutines.
type AsyncClient struct {
	client *Client

	mu     sync.RWMutex // guards closed against concurrent enqueues
	closed bool
	jobs   chan asyncJob
	wg     sync.WaitGroup
}

type asyncJob struct {
	ctx    context.Context
	method string
	params any
	result chan asyncResult
}

type asyncResult struct {
	result json.RawMessage
	err    error
}

// AsyncOption configures an AsyncClient.
type AsyncOption func(a *asyncConfig)

type asyncConfig struct {
	poolSize  int
	queueSize int
}

// WithPoolSize sets the number of dispatch workers.
func WithPoolSize(n int) AsyncOption {
	return func(a *asyncConfig) {
		a.poolSize = n
	}
}

// WithQueueSize sets the pending-call queue capacity.
func WithQueueSize(n int) AsyncOption {
	return func(a *asyncConfig) {
		a.queueSize = n
	}
}

// NewAsyncClient wraps client with a dispatch pool.
func NewAsyncClient(client *Client, opts ...AsyncOption) *AsyncClient {
	cfg := asyncConfig{poolSize: defaultPoolSize, queueSize: defaultQueueSize}
	for _, o := range opts {
		o(&cfg)
	}
	a := &AsyncClient{
		client: client,
		jobs:   make(chan asyncJob, cfg.queueSize),
	}
	a.wg.Add(cfg.poolSize)
	for i := 0; i < cfg.poolSize; i++ {
		go a.worker()
	}
	return a
}

func (a *AsyncClient) worker() {
	defer a.wg.Done()
	for job := range a.jobs {
		result, err := a.client.Call(job.ctx, job.method, job.params)
		job.result <- asyncResult{result: result, err: err}
	}
}

// Call enqueues the request and blocks until a dispatch worker completes it
// or ctx is canceled. Queue rejection (ErrClosed, ctx errors) is
// distinguishable from the underlying RPC error kinds.
func (a *AsyncClient) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	job := asyncJob{
		ctx:    ctx,
		method: method,
		params: params,
		result: make(chan asyncResult, 1),
	}

	a.mu.RLock()
	if a.closed {
		a.mu.RUnlock()
		return nil, ErrClosed
	}
	select {
	case <-ctx.Done():
		a.mu.RUnlock()
		return nil, ctx.Err()
	case a.jobs <- job:
		a.mu.RUnlock()
	}

	select {
	case <-ctx.Done():
		// The dispatch worker still finishes the call; the buffered result
		// channel keeps it from leaking.
		return nil, ctx.Err()
	case res := <-job.result:
		return res.result, res.err
	}
}

// Notify forwards to the underlying client. Notifications never block on a
// response, so they bypass the dispatch pool.
func (a *AsyncClient) Notify(method string, params any) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return ErrClosed
	}
	return a.client.Notify(method, params)
}

// Close stops accepting calls and waits for already-enqueued dispatches to
// finish. Safe to call more than once.
func (a *AsyncClient) Close() {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.jobs)
	}
	a.mu.Unlock()
	a.wg.Wait()
}
