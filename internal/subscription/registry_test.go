// ABOUTME: Tests for the subscription registry covering buffering, replay and cancellation.
// ABOUTME: Exercises early and late attach orderings and the drop-before-attach mode.

package subscription

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/2389/coven-bridge/internal/calls"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testToken = "0f8fad5b-d9cb-469f-a165-70867728950e"

func newTestRegistry(t *testing.T, cfg Config) *Registry {
	t.Helper()
	r := NewRegistry(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	t.Cleanup(r.Close)
	return r
}

// collect pulls from sub until a terminal error.
func collect(t *testing.T, sub *Subscription) ([]string, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(t.Context(), 2*time.Second)
	defer cancel()

	var out []string
	for {
		data, err := sub.Next(ctx)
		if err != nil {
			return out, err
		}
		out = append(out, string(data))
	}
}

func TestRegistryOpenRejectsDuplicateToken(t *testing.T) {
	r := newTestRegistry(t, DefaultConfig())
	require.NoError(t, r.Open(testToken))
	assert.ErrorIs(t, r.Open(testToken), ErrDuplicateToken)
}

func TestRegistryEarlyAttachReceivesLiveUpdates(t *testing.T) {
	r := newTestRegistry(t, DefaultConfig())
	require.NoError(t, r.Open(testToken))

	sub, err := r.Attach(testToken)
	require.NoError(t, err)

	go func() {
		_ = r.Deliver(testToken, []byte("A"))
		_ = r.Deliver(testToken, []byte("B"))
		_ = r.Resolve(testToken, nil)
	}()

	got, err := collect(t, sub)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, []string{"A", "B"}, got)

	// end-of-stream is delivered once
	_, err = sub.Next(t.Context())
	assert.ErrorIs(t, err, ErrSubscriptionClosed)
	assert.Equal(t, 0, r.Len())
}

func TestRegistryLateAttachReplaysBufferedUpdates(t *testing.T) {
	r := newTestRegistry(t, DefaultConfig())
	require.NoError(t, r.Open(testToken))

	require.NoError(t, r.Deliver(testToken, []byte("A")))
	require.NoError(t, r.Deliver(testToken, []byte("B")))
	require.NoError(t, r.Resolve(testToken, nil))

	sub, err := r.Attach(testToken)
	require.NoError(t, err)

	got, err := collect(t, sub)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, []string{"A", "B"}, got)
}

func TestRegistryLateAttachWithoutBuffering(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BufferUpdates = false
	r := newTestRegistry(t, cfg)
	require.NoError(t, r.Open(testToken))

	assert.ErrorIs(t, r.Deliver(testToken, []byte("A")), ErrNotAttached)
	assert.ErrorIs(t, r.Deliver(testToken, []byte("B")), ErrNotAttached)
	require.NoError(t, r.Resolve(testToken, nil))

	sub, err := r.Attach(testToken)
	require.NoError(t, err)

	got, err := collect(t, sub)
	assert.ErrorIs(t, err, io.EOF)
	assert.Empty(t, got)
}

func TestRegistryFailedOutcomeAfterUpdates(t *testing.T) {
	r := newTestRegistry(t, DefaultConfig())
	require.NoError(t, r.Open(testToken))

	require.NoError(t, r.Deliver(testToken, []byte("A")))
	require.NoError(t, r.Resolve(testToken, calls.NewError("7", "x")))

	sub, err := r.Attach(testToken)
	require.NoError(t, err)

	got, err := collect(t, sub)
	assert.Equal(t, []string{"A"}, got)
	var ce *calls.Error
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "7", ce.Code)
	assert.Equal(t, "x", ce.Message)

	_, err = sub.Next(t.Context())
	assert.ErrorIs(t, err, ErrSubscriptionClosed)
}

func TestRegistryResolveExactlyOnce(t *testing.T) {
	r := newTestRegistry(t, DefaultConfig())
	require.NoError(t, r.Open(testToken))

	require.NoError(t, r.Resolve(testToken, nil))
	assert.ErrorIs(t, r.Resolve(testToken, calls.NewError("1", "late")), ErrAlreadyResolved)
	assert.ErrorIs(t, r.Deliver(testToken, []byte("late")), ErrAlreadyResolved)
}

func TestRegistryAttachErrors(t *testing.T) {
	r := newTestRegistry(t, DefaultConfig())

	_, err := r.Attach("missing")
	assert.ErrorIs(t, err, ErrUnknownToken)

	require.NoError(t, r.Open(testToken))
	_, err = r.Attach(testToken)
	require.NoError(t, err)
	_, err = r.Attach(testToken)
	assert.ErrorIs(t, err, ErrAlreadyAttached)
}

func TestRegistryCancelDropsLaterUpdates(t *testing.T) {
	r := newTestRegistry(t, DefaultConfig())
	require.NoError(t, r.Open(testToken))

	sub, err := r.Attach(testToken)
	require.NoError(t, err)
	require.NoError(t, r.Deliver(testToken, []byte("A")))

	sub.Close()

	assert.ErrorIs(t, r.Deliver(testToken, []byte("B")), ErrSubscriptionClosed)
	_, err = sub.Next(t.Context())
	assert.ErrorIs(t, err, ErrSubscriptionClosed)

	// resolving a cancelled token cleans up the entry
	require.NoError(t, r.Resolve(testToken, nil))
	assert.Equal(t, 0, r.Len())
}

func TestRegistryCancelWakesBlockedConsumer(t *testing.T) {
	r := newTestRegistry(t, DefaultConfig())
	require.NoError(t, r.Open(testToken))
	sub, err := r.Attach(testToken)
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() {
		_, err := sub.Next(t.Context())
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	sub.Close()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrSubscriptionClosed)
	case <-time.After(time.Second):
		t.Fatal("consumer was not woken by cancel")
	}
}

func TestRegistryNextRespectsContext(t *testing.T) {
	r := newTestRegistry(t, DefaultConfig())
	require.NoError(t, r.Open(testToken))
	sub, err := r.Attach(testToken)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
	defer cancel()
	_, err = sub.Next(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// the subscription stays usable after a timed-out wait
	require.NoError(t, r.Deliver(testToken, []byte("A")))
	data, err := sub.Next(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "A", string(data))
}

func TestRegistryBufferLimit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxBuffered = 2
	r := newTestRegistry(t, cfg)
	require.NoError(t, r.Open(testToken))

	require.NoError(t, r.Deliver(testToken, []byte("A")))
	require.NoError(t, r.Deliver(testToken, []byte("B")))
	assert.ErrorIs(t, r.Deliver(testToken, []byte("C")), ErrBufferFull)
	require.NoError(t, r.Resolve(testToken, nil))

	sub, err := r.Attach(testToken)
	require.NoError(t, err)
	got, err := collect(t, sub)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, []string{"A", "B"}, got)
}

func TestRegistryBufferLimitAppliesWhileAttached(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxBuffered = 2
	r := newTestRegistry(t, cfg)
	require.NoError(t, r.Open(testToken))

	sub, err := r.Attach(testToken)
	require.NoError(t, err)

	// consumer is attached but not reading
	require.NoError(t, r.Deliver(testToken, []byte("A")))
	require.NoError(t, r.Deliver(testToken, []byte("B")))
	assert.ErrorIs(t, r.Deliver(testToken, []byte("C")), ErrBufferFull)

	data, err := sub.Next(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "A", string(data))

	// draining frees room again
	require.NoError(t, r.Deliver(testToken, []byte("D")))
	require.NoError(t, r.Resolve(testToken, nil))

	got, err := collect(t, sub)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, []string{"B", "D"}, got)
}

func TestRegistryUnknownTokenDelivery(t *testing.T) {
	r := newTestRegistry(t, DefaultConfig())
	assert.ErrorIs(t, r.Deliver("missing", []byte("A")), ErrUnknownToken)
	assert.ErrorIs(t, r.Resolve("missing", nil), ErrUnknownToken)
}

func TestRegistryReapsUnclaimedResults(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ReplayTTL = 0
	r := newTestRegistry(t, cfg)
	r.cfg.ReplayTTL = time.Minute

	base := time.Now()
	r.now = func() time.Time { return base }

	require.NoError(t, r.Open("old"))
	require.NoError(t, r.Resolve("old", nil))
	require.NoError(t, r.Open("pending"))

	r.now = func() time.Time { return base.Add(2 * time.Minute) }
	assert.Equal(t, 1, r.reapExpired())

	_, err := r.Attach("old")
	assert.ErrorIs(t, err, ErrUnknownToken)
	_, err = r.Attach("pending")
	assert.NoError(t, err)
}

func TestRegistryCloseReleasesConsumers(t *testing.T) {
	r := NewRegistry(DefaultConfig(), nil)
	require.NoError(t, r.Open(testToken))
	sub, err := r.Attach(testToken)
	require.NoError(t, err)

	r.Close()

	_, err = sub.Next(t.Context())
	assert.ErrorIs(t, err, ErrSubscriptionClosed)
	assert.ErrorIs(t, r.Open("new"), ErrRegistryClosed)
}

func TestRegistryConcurrentTokensPreserveOrder(t *testing.T) {
	r := newTestRegistry(t, DefaultConfig())

	const tokens = 10
	const updates = 50

	var wg sync.WaitGroup
	for i := range tokens {
		token := fmt.Sprintf("token-%d", i)
		require.NoError(t, r.Open(token))

		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range updates {
				_ = r.Deliver(token, []byte(fmt.Sprintf("%d", j)))
			}
			_ = r.Resolve(token, nil)
		}()
	}

	for i := range tokens {
		sub, err := r.Attach(fmt.Sprintf("token-%d", i))
		require.NoError(t, err)
		got, err := collect(t, sub)
		assert.ErrorIs(t, err, io.EOF)
		require.Len(t, got, updates)
		for j, v := range got {
			assert.Equal(t, fmt.Sprintf("%d", j), v)
		}
	}
	wg.Wait()
}
