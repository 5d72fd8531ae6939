// ABOUTME: In-memory Service implementation for tests.
// ABOUTME: Handlers are configured per method name; all interactions are recorded.

package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/2389/coven-bridge/internal/calls"
)

// Handler answers a simple call.
type Handler func(ctx context.Context, inv calls.Invocation) ([]byte, error)

// StreamHandler drives a streaming call by emitting raw updates.
type StreamHandler func(ctx context.Context, inv calls.Invocation, emit EmitFunc) error

// LoggedLine is a log call received by the mock.
type LoggedLine struct {
	Level   int
	Message string
}

// MockService is an in-memory Service for tests.
type MockService struct {
	mu sync.Mutex

	Port   int
	DBPath string

	Handlers       map[string]Handler
	StreamHandlers map[string]StreamHandler

	SyncErr     error
	RollbackErr error
	ResetErr    error

	Invocations []calls.Invocation
	Synced      []string
	Rollbacks   int
	Resets      int
	Logs        []LoggedLine
}

// NewMockService creates a mock with the given readiness port.
func NewMockService(port int) *MockService {
	return &MockService{
		Port:           port,
		Handlers:       make(map[string]Handler),
		StreamHandlers: make(map[string]StreamHandler),
	}
}

// Handle registers a simple call handler.
func (m *MockService) Handle(name string, h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Handlers[name] = h
}

// HandleStream registers a streaming call handler.
func (m *MockService) HandleStream(name string, h StreamHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.StreamHandlers[name] = h
}

func (m *MockService) record(inv calls.Invocation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Invocations = append(m.Invocations, inv)
}

// Call implements Service.
func (m *MockService) Call(ctx context.Context, inv calls.Invocation) ([]byte, error) {
	m.record(inv)
	m.mu.Lock()
	h, ok := m.Handlers[inv.Name]
	m.mu.Unlock()
	if !ok {
		return nil, &calls.ServiceError{Code: 404, Message: fmt.Sprintf("no handler for %s", inv.Name)}
	}
	return h(ctx, inv)
}

// CallStream implements Service.
func (m *MockService) CallStream(ctx context.Context, inv calls.Invocation) (Stream, error) {
	m.record(inv)
	m.mu.Lock()
	h, ok := m.StreamHandlers[inv.Name]
	m.mu.Unlock()
	if !ok {
		return nil, &calls.ServiceError{Code: 404, Message: fmt.Sprintf("no stream handler for %s", inv.Name)}
	}
	return Produce(ctx, func(emit EmitFunc) error {
		return h(ctx, inv, emit)
	}), nil
}

// InitializedPort implements Service.
func (m *MockService) InitializedPort() int { return m.Port }

// DatabasePath implements Service.
func (m *MockService) DatabasePath() string { return m.DBPath }

// SyncData implements Service.
func (m *MockService) SyncData(_ context.Context, src string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SyncErr != nil {
		return m.SyncErr
	}
	m.Synced = append(m.Synced, src)
	return nil
}

// RollbackData implements Service.
func (m *MockService) RollbackData(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.RollbackErr != nil {
		return m.RollbackErr
	}
	m.Rollbacks++
	return nil
}

// ResetData implements Service.
func (m *MockService) ResetData(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ResetErr != nil {
		return m.ResetErr
	}
	m.Resets++
	return nil
}

// Log implements Service.
func (m *MockService) Log(level int, message string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Logs = append(m.Logs, LoggedLine{Level: level, Message: message})
}

// Calls returns a copy of the recorded invocations.
func (m *MockService) Calls() []calls.Invocation {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]calls.Invocation, len(m.Invocations))
	copy(out, m.Invocations)
	return out
}

// LoggedLines returns a copy of the recorded log calls.
func (m *MockService) LoggedLines() []LoggedLine {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]LoggedLine, len(m.Logs))
	copy(out, m.Logs)
	return out
}

var _ Service = (*MockService)(nil)
