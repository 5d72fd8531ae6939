// ABOUTME: Call dispatcher routing control calls and generic simple/streaming calls.
// ABOUTME: Applies the readiness check, per-method rate limit and call ledger.

package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/2389/coven-bridge/internal/calls"
	"github.com/2389/coven-bridge/internal/gate"
	"github.com/2389/coven-bridge/internal/metrics"
	"github.com/2389/coven-bridge/internal/ratelimit"
	"github.com/2389/coven-bridge/internal/service"
	"github.com/2389/coven-bridge/internal/store"
	"github.com/google/uuid"
)

// ServiceGate is the subset of *gate.Gate the dispatcher needs.
type ServiceGate interface {
	IsReady() bool
	Service() service.Service
	Execute(ctx context.Context, inv calls.Invocation) ([]byte, error)
	WaitInitialized(ctx context.Context) (int, error)
}

// StreamStarter starts streaming calls. Satisfied by *bridge.Bridge.
type StreamStarter interface {
	Start(ctx context.Context, inv calls.Invocation) (string, error)
}

// Ledger records call outcomes. Satisfied by store.Store.
type Ledger interface {
	RecordCall(ctx context.Context, rec *store.CallRecord) error
}

// Config configures a Dispatcher.
type Config struct {
	Gate    ServiceGate
	Streams StreamStarter
	Ledger  Ledger
	Metrics *metrics.Metrics
	Limiter *ratelimit.MethodLimiter
	// CallTimeout bounds simple calls. Zero means no bound beyond the caller's context.
	CallTimeout time.Duration
	Logger      *slog.Logger
	// LocalIP overrides the interface lookup used by getLocalIpAddress.
	LocalIP func() (string, bool)
}

// Dispatcher routes invocations by name.
type Dispatcher struct {
	gate        ServiceGate
	streams     StreamStarter
	ledger      Ledger
	metrics     *metrics.Metrics
	limiter     *ratelimit.MethodLimiter
	callTimeout time.Duration
	logger      *slog.Logger
	localIP     func() (string, bool)
	controls    map[string]controlHandler
}

type controlHandler func(ctx context.Context, inv calls.Invocation) (calls.Reply, error)

// New creates a Dispatcher.
func New(cfg Config) *Dispatcher {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	localIP := cfg.LocalIP
	if localIP == nil {
		localIP = LocalIPv4
	}

	d := &Dispatcher{
		gate:        cfg.Gate,
		streams:     cfg.Streams,
		ledger:      cfg.Ledger,
		metrics:     cfg.Metrics,
		limiter:     cfg.Limiter,
		callTimeout: cfg.CallTimeout,
		logger:      logger.With("component", "dispatcher"),
		localIP:     localIP,
	}
	d.controls = map[string]controlHandler{
		calls.ControlLocalIP:      d.handleLocalIP,
		calls.ControlDatabasePath: d.handleDatabasePath,
		calls.ControlInitialized:  d.handleInitialized,
		calls.ControlSyncData:     d.handleSyncData,
		calls.ControlRollbackData: d.handleRollbackData,
		calls.ControlResetData:    d.handleResetData,
		calls.ControlLog:          d.handleLog,
	}
	return d
}

// Dispatch routes inv and returns its reply. Failures are *calls.Error.
func (d *Dispatcher) Dispatch(ctx context.Context, inv calls.Invocation) (calls.Reply, error) {
	if h, ok := d.controls[inv.Name]; ok {
		start := time.Now()
		reply, err := h(ctx, inv)
		d.metrics.RecordCall(string(calls.KindControl), statusOf(err), time.Since(start))
		if err != nil {
			return calls.Reply{}, calls.FromError(err)
		}
		return reply, nil
	}
	return d.dispatchGeneric(ctx, inv)
}

func (d *Dispatcher) dispatchGeneric(ctx context.Context, inv calls.Invocation) (calls.Reply, error) {
	kind := calls.KindOf(inv.Name)
	start := time.Now()

	if !d.gate.IsReady() {
		d.logger.Warn("call rejected, service not connected", "method", inv.Name)
		d.finish(inv, kind, start, calls.ErrServiceUnavailable)
		return calls.Reply{}, calls.ErrServiceUnavailable
	}

	if !d.limiter.Allow(inv.Name, start) {
		err := calls.NewError(calls.CodeRateLimited, calls.MsgRateLimited)
		d.logger.Warn("call rate limited", "method", inv.Name)
		d.finish(inv, kind, start, err)
		return calls.Reply{}, err
	}

	if kind == calls.KindStreaming {
		token, err := d.streams.Start(ctx, inv)
		if err != nil {
			be := calls.FromError(err)
			d.finish(inv, kind, start, be)
			return calls.Reply{}, be
		}
		return calls.Reply{Data: calls.EncodeStreamAck(token)}, nil
	}

	callCtx := ctx
	if d.callTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, d.callTimeout)
		defer cancel()
	}

	out, err := d.gate.Execute(callCtx, inv)
	if err != nil {
		be := calls.FromError(err)
		d.logger.Debug("call failed", "method", inv.Name, "code", be.Code, "error", be.Message)
		d.finish(inv, kind, start, be)
		return calls.Reply{}, be
	}
	d.finish(inv, kind, start, nil)
	if out == nil {
		// a simple call always answers with bytes, possibly none
		out = []byte{}
	}
	return calls.Reply{Data: out}, nil
}

// finish records a generic call that ended during dispatch. Streaming calls
// that were started are recorded by the bridge.
func (d *Dispatcher) finish(inv calls.Invocation, kind calls.Kind, start time.Time, failure *calls.Error) {
	now := time.Now()
	d.metrics.RecordCall(string(kind), calls.StatusLabel(failure), now.Sub(start))

	if d.ledger == nil {
		return
	}
	rec := &store.CallRecord{
		ID:         uuid.NewString(),
		Method:     inv.Name,
		Kind:       string(kind),
		Status:     store.StatusOK,
		StartedAt:  start,
		FinishedAt: &now,
	}
	if failure != nil {
		rec.Status = store.StatusFailed
		rec.ErrorCode = failure.Code
		rec.ErrorMessage = failure.Message
	}
	if err := d.ledger.RecordCall(context.Background(), rec); err != nil {
		d.logger.Warn("failed to record call", "method", inv.Name, "error", err)
	}
}

func statusOf(err error) string {
	if err == nil {
		return store.StatusOK
	}
	var be *calls.Error
	if errors.As(err, &be) {
		return be.Code
	}
	return calls.FromError(err).Code
}

// gateService returns the connected service or the unavailable error.
func (d *Dispatcher) gateService() (service.Service, error) {
	svc := d.gate.Service()
	if svc == nil {
		return nil, gate.ErrServiceUnavailable
	}
	return svc, nil
}
