// ABOUTME: Streaming bridge that executes /cb calls and relays updates by token.
// ABOUTME: Owns the subscription registry and records every stream in the call ledger.

package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/coven-bridge/internal/calls"
	"github.com/2389/coven-bridge/internal/metrics"
	"github.com/2389/coven-bridge/internal/service"
	"github.com/2389/coven-bridge/internal/store"
	"github.com/2389/coven-bridge/internal/subscription"
	"github.com/google/uuid"
)

// ErrShuttingDown is returned by Start after Shutdown has begun.
var ErrShuttingDown = errors.New("bridge shutting down")

// StreamExecutor starts streaming calls. Satisfied by *gate.Gate.
type StreamExecutor interface {
	ExecuteStream(ctx context.Context, inv calls.Invocation) (service.Stream, error)
}

// Ledger records call outcomes. Satisfied by store.Store.
type Ledger interface {
	RecordCall(ctx context.Context, rec *store.CallRecord) error
}

// Config configures a Bridge.
type Config struct {
	Executor      StreamExecutor
	Subscriptions subscription.Config
	Ledger        Ledger
	Metrics       *metrics.Metrics
	Logger        *slog.Logger
}

// Bridge executes streaming calls and routes their updates to consumers.
type Bridge struct {
	executor StreamExecutor
	registry *subscription.Registry
	ledger   Ledger
	metrics  *metrics.Metrics
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	stopping bool

	newToken func() string
}

// New creates a Bridge with its own subscription registry.
func New(cfg Config) *Bridge {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Bridge{
		executor: cfg.Executor,
		registry: subscription.NewRegistry(cfg.Subscriptions, logger),
		ledger:   cfg.Ledger,
		metrics:  cfg.Metrics,
		logger:   logger.With("component", "bridge"),
		ctx:      ctx,
		cancel:   cancel,
		newToken: uuid.NewString,
	}
}

// Registry returns the bridge's subscription registry.
func (b *Bridge) Registry() *subscription.Registry {
	return b.registry
}

// Start begins a streaming call and returns its token. The service runs the
// call in the background; ctx only bounds the registration itself.
func (b *Bridge) Start(ctx context.Context, inv calls.Invocation) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	b.mu.Lock()
	if b.stopping {
		b.mu.Unlock()
		return "", ErrShuttingDown
	}
	b.wg.Add(1)
	b.mu.Unlock()

	token := b.newToken()
	if err := b.registry.Open(token); err != nil {
		b.wg.Done()
		return "", fmt.Errorf("opening subscription: %w", err)
	}

	rec := &store.CallRecord{
		ID:        token,
		Method:    inv.Name,
		Kind:      string(calls.KindStreaming),
		Status:    store.StatusPending,
		StartedAt: time.Now(),
	}
	b.record(rec)

	b.logger.Debug("stream started", "token", token, "method", inv.Name)
	go b.run(token, inv, rec)
	return token, nil
}

// Subscribe attaches the single consumer for token.
func (b *Bridge) Subscribe(token string) (*subscription.Subscription, error) {
	return b.registry.Attach(token)
}

// run drives one streaming call to its terminal outcome.
func (b *Bridge) run(token string, inv calls.Invocation, rec *store.CallRecord) {
	defer b.wg.Done()

	b.metrics.StreamStarted()
	defer b.metrics.StreamFinished()

	outcome := b.relay(token, inv, rec)

	if err := b.registry.Resolve(token, outcome); err != nil {
		b.logger.Warn("failed to resolve stream", "token", token, "error", err)
	}

	finished := time.Now()
	rec.FinishedAt = &finished
	if outcome != nil {
		rec.Status = store.StatusFailed
		rec.ErrorCode = outcome.Code
		rec.ErrorMessage = outcome.Message
		b.logger.Debug("stream failed", "token", token, "method", inv.Name, "code", outcome.Code, "error", outcome.Message)
	} else {
		rec.Status = store.StatusOK
		b.logger.Debug("stream completed", "token", token, "method", inv.Name, "updates", rec.Updates)
	}
	b.record(rec)
	b.metrics.RecordCall(string(calls.KindStreaming), calls.StatusLabel(outcome), finished.Sub(rec.StartedAt))
}

// relay forwards updates until the stream ends and returns the failure, if any.
func (b *Bridge) relay(token string, inv calls.Invocation, rec *store.CallRecord) *calls.Error {
	stream, err := b.executor.ExecuteStream(b.ctx, inv)
	if err != nil {
		return calls.FromError(err)
	}

	for {
		raw, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return calls.FromError(err)
		}

		data, err := calls.StripFrame(raw)
		if err != nil {
			b.logger.Warn("skipping malformed update", "token", token, "size", len(raw))
			rec.Dropped++
			b.metrics.RecordUpdate(false)
			continue
		}

		if err := b.registry.Deliver(token, data); err != nil {
			rec.Dropped++
			b.metrics.RecordUpdate(false)
			continue
		}
		rec.Updates++
		b.metrics.RecordUpdate(true)
	}
}

func (b *Bridge) record(rec *store.CallRecord) {
	if b.ledger == nil {
		return
	}
	cp := *rec
	if err := b.ledger.RecordCall(context.WithoutCancel(b.ctx), &cp); err != nil {
		b.logger.Warn("failed to record call", "id", rec.ID, "error", err)
	}
}

// Shutdown cancels in-flight executions, waits for them to resolve and
// closes every open subscription.
func (b *Bridge) Shutdown(ctx context.Context) error {
	b.mu.Lock()
	b.stopping = true
	b.mu.Unlock()

	b.cancel()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}
	b.registry.Close()
	return err
}
