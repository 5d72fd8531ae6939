// ABOUTME: Tests for call name classification, ack/update framing and error mapping.
// ABOUTME: Covers the fixed boundary codes used by the dispatcher.

package calls

import (
	"errors"
	"fmt"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		want Kind
	}{
		{"initialized", KindControl},
		{"log", KindControl},
		{"getLocalIpAddress", KindControl},
		{"echo", KindSimple},
		{"kv/get", KindSimple},
		{"count/cb", KindStreaming},
		{"cb", KindSimple},
		{"/cb", KindStreaming},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.name))
			assert.Equal(t, tt.want == KindStreaming, Invocation{Name: tt.name}.IsStreaming())
		})
	}
}

func TestStreamAckRoundTrip(t *testing.T) {
	token := "0f8fad5b-d9cb-469f-a165-70867728950e"
	ack := EncodeStreamAck(token)

	require.Len(t, ack, 38)
	assert.Equal(t, byte(217), ack[0])
	assert.Equal(t, byte(36), ack[1])

	got, err := DecodeStreamAck(ack)
	require.NoError(t, err)
	assert.Equal(t, token, got)
}

func TestDecodeStreamAckRejectsMalformed(t *testing.T) {
	_, err := DecodeStreamAck([]byte{0xD9})
	assert.ErrorIs(t, err, ErrBadAck)

	_, err = DecodeStreamAck([]byte("xxabc"))
	assert.ErrorIs(t, err, ErrBadAck)
}

func TestStripFrame(t *testing.T) {
	got, err := StripFrame([]byte{0x01, 0x02, 'A'})
	require.NoError(t, err)
	assert.Equal(t, []byte("A"), got)

	got, err = StripFrame([]byte{0x01, 0x02})
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = StripFrame([]byte{0x01})
	assert.ErrorIs(t, err, ErrShortFrame)

	framed := FrameUpdate([]byte("B"))
	got, err = StripFrame(framed)
	require.NoError(t, err)
	assert.Equal(t, []byte("B"), got)
}

func TestFromError(t *testing.T) {
	t.Run("service error keeps numeric code", func(t *testing.T) {
		got := FromError(fmt.Errorf("wrapped: %w", &ServiceError{Code: 7, Message: "x"}))
		assert.Equal(t, &Error{Code: "7", Message: "x"}, got)
	})

	t.Run("boundary error passes through", func(t *testing.T) {
		got := FromError(ErrServiceUnavailable)
		assert.Equal(t, "50000", got.Code)
		assert.Equal(t, "Service Start Failed", got.Message)
	})

	t.Run("io failure is tagged", func(t *testing.T) {
		got := FromError(&IOError{Op: MsgResetFailed, Err: errors.New("disk full")})
		assert.Equal(t, TagIO, got.Code)
		assert.Equal(t, "Reset Failed: disk full", got.Message)
	})

	t.Run("unknown error is tagged", func(t *testing.T) {
		got := FromError(errors.New("boom"))
		assert.Equal(t, TagIO, got.Code)
		assert.Equal(t, "boom", got.Message)
	})

	t.Run("nil stays nil", func(t *testing.T) {
		assert.Nil(t, FromError(nil))
	})
}

func TestStatusLabel(t *testing.T) {
	assert.Equal(t, "ok", StatusLabel(nil))
	assert.Equal(t, "50000", StatusLabel(ErrServiceUnavailable))
	assert.Equal(t, "42900", StatusLabel(NewError(CodeRateLimited, MsgRateLimited)))
	assert.Equal(t, "api_error", StatusLabel(FromError(errors.New("connection reset"))))

	// every numeric service code shares one label
	for _, code := range []int{3, 404, 500, 9001} {
		assert.Equal(t, "service_error", StatusLabel(FromError(&ServiceError{Code: code, Message: "x"})))
	}
}

func TestSlogLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, SlogLevel(LogVerbose))
	assert.Equal(t, slog.LevelDebug, SlogLevel(LogDebug))
	assert.Equal(t, slog.LevelInfo, SlogLevel(LogInfo))
	assert.Equal(t, slog.LevelWarn, SlogLevel(LogWarn))
	assert.Equal(t, slog.LevelError, SlogLevel(LogError))
}
