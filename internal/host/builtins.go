// ABOUTME: Built-in methods served by the reference host.
// ABOUTME: echo, kv/put, kv/get, count/cb and fail/cb.

package host

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/2389/coven-bridge/internal/calls"
	"github.com/2389/coven-bridge/internal/service"
	"github.com/2389/coven-bridge/internal/store"
)

const defaultCount = 3

// RegisterBuiltins installs the built-in methods on h.
func RegisterBuiltins(h *Host) {
	h.Handle("echo", echo)
	h.Handle("kv/put", h.kvPut)
	h.Handle("kv/get", h.kvGet)
	h.HandleStream("count/cb", count)
	h.HandleStream("fail/cb", fail)
}

func echo(_ context.Context, inv calls.Invocation) ([]byte, error) {
	return inv.Payload, nil
}

// kvPut stores the payload under the key carried in params.
func (h *Host) kvPut(ctx context.Context, inv calls.Invocation) ([]byte, error) {
	if h.data == nil {
		return nil, &calls.ServiceError{Code: 503, Message: ErrNoDataFile.Error()}
	}
	key := string(inv.Params)
	if key == "" {
		return nil, &calls.ServiceError{Code: 400, Message: "key is required"}
	}
	if err := h.data.Put(ctx, key, inv.Payload); err != nil {
		return nil, err
	}
	return []byte("ok"), nil
}

func (h *Host) kvGet(ctx context.Context, inv calls.Invocation) ([]byte, error) {
	if h.data == nil {
		return nil, &calls.ServiceError{Code: 503, Message: ErrNoDataFile.Error()}
	}
	value, err := h.data.Get(ctx, string(inv.Params))
	if errors.Is(err, store.ErrNotFound) {
		return nil, &calls.ServiceError{Code: 404, Message: "no such key"}
	}
	return value, err
}

// count streams 1..n where n is the decimal payload, then completes.
func count(ctx context.Context, inv calls.Invocation, emit service.EmitFunc) error {
	n := defaultCount
	if len(inv.Payload) > 0 {
		parsed, err := strconv.Atoi(string(inv.Payload))
		if err != nil || parsed < 0 {
			return &calls.ServiceError{Code: 400, Message: "count must be a non-negative integer"}
		}
		n = parsed
	}

	// Optional per-update delay in milliseconds.
	var delay time.Duration
	if ms, err := strconv.Atoi(string(inv.Params)); err == nil && ms > 0 {
		delay = time.Duration(ms) * time.Millisecond
	}

	for i := 1; i <= n; i++ {
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err := emit([]byte(strconv.Itoa(i))); err != nil {
			return err
		}
	}
	return nil
}

// fail emits the payload once, if any, and then fails the call.
func fail(_ context.Context, inv calls.Invocation, emit service.EmitFunc) error {
	if len(inv.Payload) > 0 {
		if err := emit(inv.Payload); err != nil {
			return err
		}
	}
	return &calls.ServiceError{Code: 500, Message: "requested failure"}
}
