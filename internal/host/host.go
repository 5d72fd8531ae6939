// ABOUTME: Reference background service answering calls from a handler table.
// ABOUTME: Owns a data file and reports its gRPC port as the readiness token.

package host

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/2389/coven-bridge/internal/calls"
	"github.com/2389/coven-bridge/internal/service"
	"github.com/2389/coven-bridge/internal/store"
)

// ErrNoDataFile is returned by data operations on a host without a data file.
var ErrNoDataFile = errors.New("host has no data file")

// Handler answers a simple call.
type Handler func(ctx context.Context, inv calls.Invocation) ([]byte, error)

// StreamHandler drives a streaming call. Updates passed to emit are framed
// by the host before they leave it.
type StreamHandler func(ctx context.Context, inv calls.Invocation, emit service.EmitFunc) error

// Config configures a Host.
type Config struct {
	// Port is reported as the readiness token.
	Port int
	// DataPath is the SQLite data file. Empty disables data operations.
	DataPath string
	Logger   *slog.Logger
}

// Host is a service.Service backed by registered handlers.
type Host struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	streams  map[string]StreamHandler

	port   int
	data   *store.DataFile
	logger *slog.Logger
}

// New creates a host and opens its data file.
func New(cfg Config) (*Host, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	h := &Host{
		handlers: make(map[string]Handler),
		streams:  make(map[string]StreamHandler),
		port:     cfg.Port,
		logger:   logger.With("component", "host"),
	}
	if cfg.DataPath != "" {
		data, err := store.OpenDataFile(cfg.DataPath, logger)
		if err != nil {
			return nil, fmt.Errorf("opening data file: %w", err)
		}
		h.data = data
	}
	return h, nil
}

// Handle registers a simple method.
func (h *Host) Handle(name string, fn Handler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handlers[name] = fn
}

// HandleStream registers a streaming method. name should end in "/cb".
func (h *Host) HandleStream(name string, fn StreamHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.streams[name] = fn
}

// Call implements service.Service.
func (h *Host) Call(ctx context.Context, inv calls.Invocation) ([]byte, error) {
	h.mu.RLock()
	fn, ok := h.handlers[inv.Name]
	h.mu.RUnlock()
	if !ok {
		return nil, &calls.ServiceError{Code: 404, Message: fmt.Sprintf("unknown method %s", inv.Name)}
	}
	return fn(ctx, inv)
}

// CallStream implements service.Service.
func (h *Host) CallStream(ctx context.Context, inv calls.Invocation) (service.Stream, error) {
	h.mu.RLock()
	fn, ok := h.streams[inv.Name]
	h.mu.RUnlock()
	if !ok {
		return nil, &calls.ServiceError{Code: 404, Message: fmt.Sprintf("unknown method %s", inv.Name)}
	}

	h.logger.Debug("stream call", "method", inv.Name)
	return service.Produce(ctx, func(emit service.EmitFunc) error {
		return fn(ctx, inv, func(update []byte) error {
			return emit(calls.FrameUpdate(update))
		})
	}), nil
}

// InitializedPort implements service.Service.
func (h *Host) InitializedPort() int { return h.port }

// DatabasePath implements service.Service.
func (h *Host) DatabasePath() string {
	if h.data == nil {
		return ""
	}
	return h.data.Path()
}

// SyncData implements service.Service.
func (h *Host) SyncData(ctx context.Context, src string) error {
	if h.data == nil {
		return ErrNoDataFile
	}
	return h.data.Sync(ctx, src)
}

// RollbackData implements service.Service.
func (h *Host) RollbackData(ctx context.Context) error {
	if h.data == nil {
		return ErrNoDataFile
	}
	return h.data.Rollback(ctx)
}

// ResetData implements service.Service.
func (h *Host) ResetData(ctx context.Context) error {
	if h.data == nil {
		return ErrNoDataFile
	}
	return h.data.Reset(ctx)
}

// Log implements service.Service.
func (h *Host) Log(level int, message string) {
	h.logger.Log(context.Background(), calls.SlogLevel(level), message, "source", "caller")
}

// Close releases the data file.
func (h *Host) Close() error {
	if h.data == nil {
		return nil
	}
	return h.data.Close()
}

var _ service.Service = (*Host)(nil)
