package rpc

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultCallTimeout bounds how long a call waits for its response.
// Script analysis can take a while, so the default is generous.
const DefaultCallTimeout = 120 * time.Second

// Client speaks newline-delimited JSON-RPC 2.0 with a worker process over
// its stdin/stdout pipes.
//
// Calls are serialized: only one request/response pair is ever in flight on
// a given client. The worker processes one line at a time in arrival order,
// so interleaving requests buys nothing and risks a response being consumed
// by the wrong waiter. A single reader goroutine owns the stdout side for
// the lifetime of the client and forwards lines over a channel, so an
// abandoned wait (timeout, canceled context) never corrupts the stream for
// later calls: the stale response is dropped by the identifier check.
type Client struct {
	log     *zap.SugaredLogger
	timeout time.Duration

	callMu  sync.Mutex // serializes calls: single request/response in flight
	writeMu sync.Mutex // guards the write side, shared with Notify

	stdin io.Writer
	lines chan readLine
}

type readLine struct {
	text string
	err  error
}

// ClientOption configures a Client.
type ClientOption func(c *Client)

// WithCallTimeout sets the per-call response deadline.
func WithCallTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithClientLogger sets the client's logger.
func WithClientLogger(l *zap.SugaredLogger) ClientOption {
	return func(c *Client) {
		c.log = l
	}
}

// NewClient builds a client around the worker's stdin writer and stdout
// reader and starts the reader goroutine. The goroutine exits when the
// stdout pipe closes.
func NewClient(stdin io.Writer, stdout io.Reader, opts ...ClientOption) *Client {
	c := &Client{
		log:     zap.NewNop().Sugar(),
		timeout: DefaultCallTimeout,
		stdin:   stdin,
		lines:   make(chan readLine, 16),
	}
	for _, o := range opts {
		o(c)
	}
	go c.readLines(stdout)
	return c
}

func (c *Client) readLines(stdout io.Reader) {
	defer close(c.lines)
	r := bufio.NewReader(stdout)
	for {
		line, err := r.ReadString('\n')
		if line != "" {
			c.lines <- readLine{text: line}
		}
		if err != nil {
			if err != io.EOF {
				c.lines <- readLine{err: err}
			}
			return
		}
	}
}

// Call sends a request and blocks until the matching response arrives, the
// configured timeout expires, or ctx is canceled. On success it returns the
// raw result; a worker-reported failure comes back as *Error, pipe failures
// as *TransportError, and a missing response as ErrTimeout.
func (c *Client) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	return c.call(ctx, NewRequest(method, params))
}

// CallWithID is Call with a caller-supplied request identifier.
func (c *Client) CallWithID(ctx context.Context, method string, params any, id string) (json.RawMessage, error) {
	return c.call(ctx, NewRequestWithID(method, params, id))
}

func (c *Client) call(ctx context.Context, req Request) (json.RawMessage, error) {
	c.callMu.Lock()
	defer c.callMu.Unlock()

	if err := c.write(req); err != nil {
		return nil, err
	}
	c.log.Debugw("sent request", "Method", req.Method, "ID", req.ID)

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			c.log.Warnw("request timed out", "Method", req.Method, "ID", req.ID, "Timeout", c.timeout)
			return nil, ErrTimeout
		case line, ok := <-c.lines:
			if !ok {
				return nil, &TransportError{Op: "read", Err: io.ErrUnexpectedEOF}
			}
			if line.err != nil {
				return nil, &TransportError{Op: "read", Err: line.err}
			}
			result, done, err := c.consumeLine(req.ID, line.text)
			if done {
				return result, err
			}
		}
	}
}

// consumeLine classifies one stdout line while waiting for the response to
// id. done is true only when the line settles the call.
func (c *Client) consumeLine(id, text string) (json.RawMessage, bool, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, false, nil
	}

	var resp Response
	if err := json.Unmarshal([]byte(text), &resp); err == nil && resp.ID != "" {
		if resp.ID != id {
			// A response nobody is waiting for. Calls are serialized, so
			// this is a stale reply from an abandoned wait; drop it.
			c.log.Warnw("dropping response for unknown request", "ID", resp.ID)
			return nil, false, nil
		}
		if !resp.valid() {
			return nil, true, &ProtocolError{Reason: "response must carry exactly one of result and error"}
		}
		if resp.Error != nil {
			return nil, true, resp.Error
		}
		return resp.Result, true, nil
	}

	var ev ProgressEvent
	if err := json.Unmarshal([]byte(text), &ev); err == nil && ev.Event != "" {
		// Progress events belong on stderr; tolerate the wrong stream.
		c.log.Infow("progress event on stdout", "Event", ev.Event)
		return nil, false, nil
	}

	c.log.Debugw("unrecognized worker output", "Line", text)
	return nil, false, nil
}

// Notify sends a fire-and-forget request. No response is awaited, so the
// fixed notify identifier is used.
func (c *Client) Notify(method string, params any) error {
	return c.write(NewRequestWithID(method, params, notifyID))
}

func (c *Client) write(req Request) error {
	b, err := json.Marshal(req)
	if err != nil {
		return &ProtocolError{Reason: "marshaling request: " + err.Error()}
	}
	b = append(b, '\n')

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.stdin.Write(b); err != nil {
		return &TransportError{Op: "write", Err: err}
	}
	if f, ok := c.stdin.(interface{ Flush() error }); ok {
		if err := f.Flush(); err != nil {
			return &TransportError{Op: "flush", Err: err}
		}
	}
	return nil
}
