package rpc

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var log *zap.SugaredLogger

func init() {
	l, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	log = l.Sugar()
}

// fakeWorker is the far end of the client's pipes: it reads request lines
// and writes whatever the test tells it to.
type fakeWorker struct {
	requests *bufio.Scanner
	out      *io.PipeWriter
	in       *io.PipeReader
}

func newFakeWorker(t *testing.T, opts ...ClientOption) (*Client, *fakeWorker) {
	t.Helper()
	stdinR, stdinW := io.Pipe()
	stdoutR, stdoutW := io.Pipe()
	t.Cleanup(func() {
		stdinW.Close()
		stdoutW.Close()
	})

	opts = append([]ClientOption{WithClientLogger(log)}, opts...)
	client := NewClient(stdinW, stdoutR, opts...)
	return client, &fakeWorker{
		requests: bufio.NewScanner(stdinR),
		out:      stdoutW,
		in:       stdinR,
	}
}

// readRequest blocks until the next request line arrives.
func (w *fakeWorker) readRequest(t *testing.T) Request {
	t.Helper()
	require.True(t, w.requests.Scan(), "expected a request line")
	var req Request
	require.NoError(t, json.Unmarshal(w.requests.Bytes(), &req))
	return req
}

func (w *fakeWorker) writeLine(t *testing.T, line string) {
	t.Helper()
	_, err := w.out.Write([]byte(line + "\n"))
	require.NoError(t, err)
}

// respondAll echoes a result for every request until the stdin pipe closes.
// The result is derived from the method name so tests can check that no
// response is ever delivered to the wrong caller.
func (w *fakeWorker) respondAll() {
	for w.requests.Scan() {
		var req Request
		if err := json.Unmarshal(w.requests.Bytes(), &req); err != nil {
			continue
		}
		resp := fmt.Sprintf(`{"jsonrpc":"2.0","result":"echo:%s","id":"%s"}`, req.Method, req.ID)
		if _, err := w.out.Write([]byte(resp + "\n")); err != nil {
			return
		}
	}
}

func TestCallReturnsMatchingResult(t *testing.T) {
	client, worker := newFakeWorker(t)

	go func() {
		req := worker.readRequest(t)
		assert.Equal(t, "2.0", req.JSONRPC)
		assert.Equal(t, "ping", req.Method)
		assert.NotEmpty(t, req.ID)
		worker.writeLine(t, fmt.Sprintf(`{"jsonrpc":"2.0","result":"pong","id":"%s"}`, req.ID))
	}()

	result, err := client.Call(context.Background(), "ping", map[string]any{})
	require.NoError(t, err)
	require.JSONEq(t, `"pong"`, string(result))
}

func TestCallPropagatesRPCError(t *testing.T) {
	client, worker := newFakeWorker(t)

	go func() {
		req := worker.readRequest(t)
		worker.writeLine(t, fmt.Sprintf(`{"jsonrpc":"2.0","error":{"code":-1,"message":"bad method"},"id":"%s"}`, req.ID))
	}()

	_, err := client.Call(context.Background(), "nope", nil)
	var rpcErr *Error
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, -1, rpcErr.Code)
	assert.Equal(t, "bad method", rpcErr.Message)
}

func TestCallSkipsUnrelatedLines(t *testing.T) {
	client, worker := newFakeWorker(t)

	go func() {
		req := worker.readRequest(t)
		// Noise the read loop must scan past: a misdirected progress
		// event, garbage, a blank line, and a response for another id.
		worker.writeLine(t, `{"event":"progress","data":{"percent":50}}`)
		worker.writeLine(t, `this is not JSON`)
		worker.writeLine(t, ``)
		worker.writeLine(t, `{"jsonrpc":"2.0","result":"stale","id":"someone-else"}`)
		worker.writeLine(t, fmt.Sprintf(`{"jsonrpc":"2.0","result":42,"id":"%s"}`, req.ID))
	}()

	result, err := client.Call(context.Background(), "compute", nil)
	require.NoError(t, err)
	require.JSONEq(t, `42`, string(result))
}

func TestCallTimesOut(t *testing.T) {
	client, _ := newFakeWorker(t, WithCallTimeout(200*time.Millisecond))

	start := time.Now()
	_, err := client.Call(context.Background(), "never", nil)
	require.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestCallContextCanceled(t *testing.T) {
	client, _ := newFakeWorker(t)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := client.Call(ctx, "never", nil)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCallTransportError(t *testing.T) {
	client, worker := newFakeWorker(t)

	go func() {
		worker.readRequest(t)
		// Worker dies mid-call.
		worker.out.Close()
	}()

	_, err := client.Call(context.Background(), "ping", nil)
	var terr *TransportError
	require.ErrorAs(t, err, &terr)
}

func TestCallInvalidResponse(t *testing.T) {
	for name, body := range map[string]string{
		"both":    `"result":"x","error":{"code":1,"message":"y"}`,
		"neither": `"method":"looks-like-a-request"`,
	} {
		t.Run(name, func(t *testing.T) {
			client, worker := newFakeWorker(t)
			go func() {
				req := worker.readRequest(t)
				worker.writeLine(t, fmt.Sprintf(`{"jsonrpc":"2.0",%s,"id":"%s"}`, body, req.ID))
			}()

			_, err := client.Call(context.Background(), "ping", nil)
			var perr *ProtocolError
			require.ErrorAs(t, err, &perr)
		})
	}
}

func TestConcurrentCallsEachGetOwnResult(t *testing.T) {
	client, worker := newFakeWorker(t)
	go worker.respondAll()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			method := fmt.Sprintf("method-%d", i)
			result, err := client.Call(context.Background(), method, nil)
			assert.NoError(t, err)
			assert.JSONEq(t, fmt.Sprintf(`"echo:%s"`, method), string(result))
		}(i)
	}
	wg.Wait()
}

func TestStaleResponseDoesNotCorruptStream(t *testing.T) {
	client, worker := newFakeWorker(t, WithCallTimeout(100*time.Millisecond))

	firstID := make(chan string, 1)
	go func() {
		req := worker.readRequest(t)
		firstID <- req.ID
	}()

	// First call times out before the worker answers.
	_, err := client.Call(context.Background(), "slow", nil)
	require.ErrorIs(t, err, ErrTimeout)

	// The late answer lands on the stream just before the second call's
	// response; it must be dropped by the id check, not delivered.
	go func() {
		staleID := <-firstID
		req := worker.readRequest(t)
		worker.writeLine(t, fmt.Sprintf(`{"jsonrpc":"2.0","result":"stale","id":"%s"}`, staleID))
		worker.writeLine(t, fmt.Sprintf(`{"jsonrpc":"2.0","result":"fresh","id":"%s"}`, req.ID))
	}()

	result, err := client.Call(context.Background(), "fast", nil)
	require.NoError(t, err)
	require.JSONEq(t, `"fresh"`, string(result))
}

func TestNotify(t *testing.T) {
	client, worker := newFakeWorker(t)

	require.NoError(t, client.Notify("shutdown", map[string]any{"reason": "test"}))

	req := worker.readRequest(t)
	assert.Equal(t, "notify", req.ID)
	assert.Equal(t, "shutdown", req.Method)
}

func TestRequestRoundTrip(t *testing.T) {
	req := NewRequest("process_script", map[string]any{"path": "/tmp/script.pdf"})

	b, err := json.Marshal(req)
	require.NoError(t, err)

	var got Request
	require.NoError(t, json.Unmarshal(b, &got))
	assert.Equal(t, req.Method, got.Method)
	assert.Equal(t, req.ID, got.ID)
	assert.Equal(t, map[string]any{"path": "/tmp/script.pdf"}, got.Params)
}

func TestResponseRoundTrip(t *testing.T) {
	resp := Response{
		JSONRPC: "2.0",
		Result:  json.RawMessage(`{"ok":true}`),
		ID:      "abc",
	}

	b, err := json.Marshal(resp)
	require.NoError(t, err)

	var got Response
	require.NoError(t, json.Unmarshal(b, &got))
	assert.Equal(t, resp.ID, got.ID)
	assert.JSONEq(t, string(resp.Result), string(got.Result))
	assert.Nil(t, got.Error)
	assert.True(t, got.valid())
}

func TestUniqueRequestIDs(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		id := NewRequest("m", nil).ID
		require.False(t, seen[id], "duplicate request id %s", id)
		seen[id] = true
	}
}
