// ABOUTME: Service handle interface and the pull-based Stream abstraction.
// ABOUTME: Produce bridges a push-style producer goroutine into a Stream.

package service

import (
	"context"
	"io"

	"github.com/2389/coven-bridge/internal/calls"
)

// Service is the background service the bridge forwards calls to.
type Service interface {
	// Call executes a simple call and returns its raw result.
	Call(ctx context.Context, inv calls.Invocation) ([]byte, error)
	// CallStream starts a streaming call.
	CallStream(ctx context.Context, inv calls.Invocation) (Stream, error)
	// InitializedPort is the readiness token reported by the service.
	InitializedPort() int
	// DatabasePath is the service's storage path, empty if it has none.
	DatabasePath() string
	SyncData(ctx context.Context, src string) error
	RollbackData(ctx context.Context) error
	ResetData(ctx context.Context) error
	Log(level int, message string)
}

// Stream yields raw updates of a streaming call.
type Stream interface {
	// Recv returns the next raw update, io.EOF on success or the call's error.
	Recv() ([]byte, error)
}

// EmitFunc pushes one raw update to the consumer side of a Stream.
type EmitFunc func(update []byte) error

type item struct {
	data []byte
	err  error
}

type producedStream struct {
	ctx   context.Context
	items chan item
	final error
}

// Produce runs fn on its own goroutine and exposes the updates it emits as a
// Stream. A nil return from fn completes the stream with io.EOF.
func Produce(ctx context.Context, fn func(emit EmitFunc) error) Stream {
	s := &producedStream{
		ctx:   ctx,
		items: make(chan item),
	}

	go func() {
		emit := func(update []byte) error {
			select {
			case s.items <- item{data: update}:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		err := fn(emit)
		if err == nil {
			err = io.EOF
		}
		select {
		case s.items <- item{err: err}:
		case <-ctx.Done():
		}
	}()

	return s
}

func (s *producedStream) Recv() ([]byte, error) {
	if s.final != nil {
		return nil, s.final
	}
	select {
	case it := <-s.items:
		if it.err != nil {
			s.final = it.err
			return nil, it.err
		}
		return it.data, nil
	case <-s.ctx.Done():
		s.final = s.ctx.Err()
		return nil, s.final
	}
}
