// ABOUTME: Tests for the reference host and its built-in methods.
// ABOUTME: Uses a temporary SQLite data file for the kv and data operations.

package host

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/2389/coven-bridge/internal/calls"
	"github.com/2389/coven-bridge/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHost(t *testing.T, withData bool) *Host {
	t.Helper()
	cfg := Config{
		Port:   7070,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	if withData {
		cfg.DataPath = filepath.Join(t.TempDir(), "host.db")
	}
	h, err := New(cfg)
	require.NoError(t, err)
	RegisterBuiltins(h)
	t.Cleanup(func() { _ = h.Close() })
	return h
}

func drain(t *testing.T, s service.Stream) ([][]byte, error) {
	t.Helper()
	var out [][]byte
	for {
		raw, err := s.Recv()
		if err != nil {
			return out, err
		}
		out = append(out, raw)
	}
}

func TestHostEcho(t *testing.T) {
	h := newTestHost(t, false)

	out, err := h.Call(t.Context(), calls.Invocation{Name: "echo", Payload: []byte("hello")})
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), out)
}

func TestHostUnknownMethod(t *testing.T) {
	h := newTestHost(t, false)

	_, err := h.Call(t.Context(), calls.Invocation{Name: "nope"})
	var se *calls.ServiceError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 404, se.Code)

	_, err = h.CallStream(t.Context(), calls.Invocation{Name: "nope/cb"})
	require.ErrorAs(t, err, &se)
}

func TestHostReadiness(t *testing.T) {
	h := newTestHost(t, true)
	assert.Equal(t, 7070, h.InitializedPort())
	assert.Equal(t, "host.db", filepath.Base(h.DatabasePath()))

	bare := newTestHost(t, false)
	assert.Empty(t, bare.DatabasePath())
}

func TestHostKeyValue(t *testing.T) {
	h := newTestHost(t, true)

	_, err := h.Call(t.Context(), calls.Invocation{Name: "kv/put", Params: []byte("color"), Payload: []byte("green")})
	require.NoError(t, err)

	out, err := h.Call(t.Context(), calls.Invocation{Name: "kv/get", Params: []byte("color")})
	require.NoError(t, err)
	assert.Equal(t, []byte("green"), out)

	_, err = h.Call(t.Context(), calls.Invocation{Name: "kv/get", Params: []byte("size")})
	var se *calls.ServiceError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 404, se.Code)
}

func TestHostCountStreamIsFramed(t *testing.T) {
	h := newTestHost(t, false)

	s, err := h.CallStream(t.Context(), calls.Invocation{Name: "count/cb", Payload: []byte("2")})
	require.NoError(t, err)
	got, err := drain(t, s)
	assert.ErrorIs(t, err, io.EOF)
	require.Len(t, got, 2)

	first, err := calls.StripFrame(got[0])
	require.NoError(t, err)
	assert.Equal(t, "1", string(first))
}

func TestHostCountRejectsBadPayload(t *testing.T) {
	h := newTestHost(t, false)

	s, err := h.CallStream(t.Context(), calls.Invocation{Name: "count/cb", Payload: []byte("many")})
	require.NoError(t, err)
	got, err := drain(t, s)
	assert.Empty(t, got)
	var se *calls.ServiceError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 400, se.Code)
}

func TestHostCountStopsOnCancel(t *testing.T) {
	h := newTestHost(t, false)
	ctx, cancel := context.WithCancel(t.Context())

	s, err := h.CallStream(ctx, calls.Invocation{Name: "count/cb", Payload: []byte("100"), Params: []byte("50")})
	require.NoError(t, err)
	cancel()
	_, err = drain(t, s)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestHostFailStream(t *testing.T) {
	h := newTestHost(t, false)

	s, err := h.CallStream(t.Context(), calls.Invocation{Name: "fail/cb", Payload: []byte("x")})
	require.NoError(t, err)
	got, err := drain(t, s)
	require.Len(t, got, 1)
	var se *calls.ServiceError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 500, se.Code)
}

func TestHostDataOperationsWithoutDataFile(t *testing.T) {
	h := newTestHost(t, false)

	assert.ErrorIs(t, h.SyncData(t.Context(), "/tmp/x.db"), ErrNoDataFile)
	assert.ErrorIs(t, h.RollbackData(t.Context()), ErrNoDataFile)
	assert.ErrorIs(t, h.ResetData(t.Context()), ErrNoDataFile)
}

func TestHostResetClearsData(t *testing.T) {
	h := newTestHost(t, true)

	_, err := h.Call(t.Context(), calls.Invocation{Name: "kv/put", Params: []byte("k"), Payload: []byte("v")})
	require.NoError(t, err)
	require.NoError(t, h.ResetData(t.Context()))

	_, err = h.Call(t.Context(), calls.Invocation{Name: "kv/get", Params: []byte("k")})
	var se *calls.ServiceError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, 404, se.Code)
}
