// ABOUTME: Token-keyed registry of streaming call sinks with pre-attach buffering.
// ABOUTME: Guarantees ordered delivery and exactly one terminal outcome per token.

package subscription

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/coven-bridge/internal/calls"
)

var (
	// ErrDuplicateToken is returned when a token is opened twice.
	ErrDuplicateToken = errors.New("duplicate call token")
	// ErrUnknownToken is returned for tokens with no entry.
	ErrUnknownToken = errors.New("unknown call token")
	// ErrAlreadyAttached is returned when a second consumer attaches to a token.
	ErrAlreadyAttached = errors.New("subscription already attached")
	// ErrAlreadyResolved is returned for deliveries or outcomes after the outcome.
	ErrAlreadyResolved = errors.New("call outcome already recorded")
	// ErrSubscriptionClosed is returned once a subscription has been cancelled or finished.
	ErrSubscriptionClosed = errors.New("subscription closed")
	// ErrNotAttached is returned when an update arrives before attach and buffering is off.
	ErrNotAttached = errors.New("no consumer attached")
	// ErrBufferFull is returned when a token's undelivered updates are at capacity.
	ErrBufferFull = errors.New("update buffer full")
	// ErrRegistryClosed is returned after Close.
	ErrRegistryClosed = errors.New("registry closed")
)

// Config controls buffering and replay retention.
type Config struct {
	// BufferUpdates keeps updates that arrive before a consumer attaches.
	BufferUpdates bool
	// MaxBuffered caps undelivered updates per token, before and after attach.
	// Zero means unlimited.
	MaxBuffered int
	// ReplayTTL is how long a resolved, never-attached entry is kept. Zero keeps it forever.
	ReplayTTL time.Duration
}

// DefaultConfig returns buffering on, 1024 buffered updates and a 5 minute replay window.
func DefaultConfig() Config {
	return Config{
		BufferUpdates: true,
		MaxBuffered:   1024,
		ReplayTTL:     5 * time.Minute,
	}
}

type sinkState int

const (
	sinkUnattached sinkState = iota
	sinkAttached
	sinkClosed
)

type entry struct {
	token      string
	queue      [][]byte
	resolved   bool
	outcome    *calls.Error
	state      sinkState
	notify     chan struct{}
	resolvedAt time.Time
}

func (e *entry) signal() {
	select {
	case e.notify <- struct{}{}:
	default:
	}
}

// Registry maps call tokens to consumer sinks.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry
	cfg     Config
	logger  *slog.Logger
	now     func() time.Time
	done    chan struct{}
	closed  bool
}

// NewRegistry creates a registry. A background reaper runs when ReplayTTL is set.
func NewRegistry(cfg Config, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		entries: make(map[string]*entry),
		cfg:     cfg,
		logger:  logger.With("component", "subscriptions"),
		now:     time.Now,
		done:    make(chan struct{}),
	}
	if cfg.ReplayTTL > 0 {
		go r.reap()
	}
	return r
}

// Open creates the entry for a freshly minted token.
func (r *Registry) Open(token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrRegistryClosed
	}
	if _, exists := r.entries[token]; exists {
		return ErrDuplicateToken
	}
	r.entries[token] = &entry{
		token:  token,
		notify: make(chan struct{}, 1),
	}
	return nil
}

// Deliver appends one update for token. A non-nil error means the update was dropped.
func (r *Registry) Deliver(token string, data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[token]
	if !ok {
		r.logger.Debug("dropping update for unknown token", "token", token)
		return ErrUnknownToken
	}
	if e.resolved {
		return ErrAlreadyResolved
	}

	switch e.state {
	case sinkClosed:
		r.logger.Debug("dropping update for closed subscription", "token", token)
		return ErrSubscriptionClosed
	case sinkUnattached:
		if !r.cfg.BufferUpdates {
			r.logger.Debug("dropping update before attach", "token", token)
			return ErrNotAttached
		}
	}
	// the cap also holds once attached, when the consumer falls behind
	if r.cfg.MaxBuffered > 0 && len(e.queue) >= r.cfg.MaxBuffered {
		r.logger.Warn("update buffer full, dropping update",
			"token", token,
			"attached", e.state == sinkAttached,
			"max_buffered", r.cfg.MaxBuffered,
		)
		return ErrBufferFull
	}

	e.queue = append(e.queue, data)
	e.signal()
	return nil
}

// Resolve records the terminal outcome for token. A nil outcome means completed.
func (r *Registry) Resolve(token string, outcome *calls.Error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[token]
	if !ok {
		return ErrUnknownToken
	}
	if e.resolved {
		return ErrAlreadyResolved
	}

	e.resolved = true
	e.outcome = outcome
	e.resolvedAt = r.now()

	if e.state == sinkClosed {
		delete(r.entries, token)
		return nil
	}
	e.signal()
	return nil
}

// Attach binds the single consumer for token.
func (r *Registry) Attach(token string) (*Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrRegistryClosed
	}
	e, ok := r.entries[token]
	if !ok {
		return nil, ErrUnknownToken
	}
	if e.state != sinkUnattached {
		return nil, ErrAlreadyAttached
	}
	e.state = sinkAttached

	r.logger.Debug("subscription attached",
		"token", token,
		"buffered", len(e.queue),
		"resolved", e.resolved,
	)
	return &Subscription{token: token, entry: e, registry: r}, nil
}

// Cancel closes the sink for token and discards anything still queued.
func (r *Registry) Cancel(token string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[token]
	if !ok {
		return
	}
	r.closeLocked(e)
}

func (r *Registry) closeLocked(e *entry) {
	if e.state == sinkClosed {
		return
	}
	e.state = sinkClosed
	e.queue = nil
	if e.resolved {
		delete(r.entries, e.token)
	}
	e.signal()
}

// Len returns the number of tracked tokens.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Close closes every sink and stops the reaper.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}
	r.closed = true
	close(r.done)
	for _, e := range r.entries {
		e.state = sinkClosed
		e.queue = nil
		e.signal()
	}
	r.entries = make(map[string]*entry)
}

func (r *Registry) reap() {
	interval := r.cfg.ReplayTTL / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.done:
			return
		case <-ticker.C:
			r.reapExpired()
		}
	}
}

// reapExpired drops resolved entries nobody attached to within ReplayTTL.
func (r *Registry) reapExpired() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-r.cfg.ReplayTTL)
	removed := 0
	for token, e := range r.entries {
		if e.resolved && e.state == sinkUnattached && e.resolvedAt.Before(cutoff) {
			delete(r.entries, token)
			removed++
			r.logger.Warn("discarding unclaimed call result",
				"token", token,
				"buffered", len(e.queue),
			)
		}
	}
	return removed
}

// Subscription is the consumer handle for one call token.
type Subscription struct {
	token    string
	entry    *entry
	registry *Registry

	mu       sync.Mutex
	finished bool
}

// Token returns the call token this subscription is bound to.
func (s *Subscription) Token() string { return s.token }

// Next blocks for the next update. It returns io.EOF on completion or the
// call's *calls.Error on failure, exactly once, then ErrSubscriptionClosed.
func (s *Subscription) Next(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for {
		if s.finished {
			return nil, ErrSubscriptionClosed
		}

		data, outcome, done, ok := s.poll()
		if ok {
			return data, nil
		}
		if done {
			s.finished = true
			if outcome != nil {
				return nil, outcome
			}
			return nil, io.EOF
		}
		if s.finished {
			return nil, ErrSubscriptionClosed
		}

		select {
		case <-s.entry.notify:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// poll takes the next queued update or, once drained, the terminal outcome.
func (s *Subscription) poll() (data []byte, outcome *calls.Error, done, ok bool) {
	r := s.registry
	r.mu.Lock()
	defer r.mu.Unlock()

	e := s.entry
	if e.state == sinkClosed {
		s.finished = true
		return nil, nil, false, false
	}
	if len(e.queue) > 0 {
		data = e.queue[0]
		e.queue[0] = nil
		e.queue = e.queue[1:]
		return data, nil, false, true
	}
	if e.resolved {
		e.state = sinkClosed
		delete(r.entries, e.token)
		return nil, e.outcome, true, false
	}
	return nil, nil, false, false
}

// Close cancels the subscription. Further updates for the token are dropped.
func (s *Subscription) Close() {
	s.registry.Cancel(s.token)
}
