package sidecar

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryLifecycle(t *testing.T) {
	script := writeWorker(t, pongWorker)

	r := NewRegistry(log)
	assert.False(t, r.IsRunning())
	assert.Nil(t, r.Client())

	require.NoError(t, r.Start(script))
	assert.True(t, r.IsRunning())

	client := r.Client()
	require.NotNil(t, client)
	result, err := client.Call(context.Background(), "ping", nil)
	require.NoError(t, err)
	require.JSONEq(t, `"pong"`, string(result))

	// Starting again replaces the previous instance.
	require.NoError(t, r.Start(script))
	assert.True(t, r.IsRunning())

	require.NoError(t, r.Stop())
	assert.False(t, r.IsRunning())
	assert.Nil(t, r.Client())

	// stop is idempotent
	require.NoError(t, r.Stop())
	assert.False(t, r.IsRunning())
}

func TestRegistryRestart(t *testing.T) {
	script := writeWorker(t, pongWorker)

	r := NewRegistry(log)
	require.ErrorIs(t, r.Restart(), ErrNotRunning)

	require.NoError(t, r.Start(script))
	defer r.Stop()

	require.NoError(t, r.Restart())
	assert.True(t, r.IsRunning())
}

func TestRegistryStartMissingScript(t *testing.T) {
	r := NewRegistry(log)
	require.Error(t, r.Start("/does/not/exist.py"))
	assert.False(t, r.IsRunning())
}

func TestRegistryAsyncClient(t *testing.T) {
	script := writeWorker(t, pongWorker)

	r := NewRegistry(log)
	assert.Nil(t, r.AsyncClient())

	require.NoError(t, r.Start(script))
	defer r.Stop()

	async := r.AsyncClient()
	require.NotNil(t, async)

	result, err := async.Call(context.Background(), "ping", nil)
	require.NoError(t, err)
	require.JSONEq(t, `"pong"`, string(result))
}
