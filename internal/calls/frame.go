// ABOUTME: Byte framing for stream acknowledgments and streaming updates.
// ABOUTME: Acks are 0xD9 0x24 followed by the token; updates carry two leading frame bytes.

package calls

import (
	"bytes"
	"errors"
)

// AckTag prefixes every streaming acknowledgment.
var AckTag = []byte{0xD9, 0x24}

// FrameSize is the number of leading framing bytes on each update.
const FrameSize = 2

// UpdateTag is the frame written by FrameUpdate.
var UpdateTag = []byte{0xD9, 0x01}

// ErrShortFrame is returned for updates too short to carry a frame.
var ErrShortFrame = errors.New("update shorter than frame header")

// ErrBadAck is returned when an acknowledgment does not carry the ack tag.
var ErrBadAck = errors.New("malformed stream acknowledgment")

// EncodeStreamAck builds the acknowledgment for a streaming call.
func EncodeStreamAck(token string) []byte {
	out := make([]byte, 0, len(AckTag)+len(token))
	out = append(out, AckTag...)
	return append(out, token...)
}

// DecodeStreamAck extracts the call token from an acknowledgment.
func DecodeStreamAck(ack []byte) (string, error) {
	if len(ack) <= len(AckTag) || !bytes.HasPrefix(ack, AckTag) {
		return "", ErrBadAck
	}
	return string(ack[len(AckTag):]), nil
}

// StripFrame removes the framing bytes from a raw update.
func StripFrame(raw []byte) ([]byte, error) {
	if len(raw) < FrameSize {
		return nil, ErrShortFrame
	}
	return raw[FrameSize:], nil
}

// FrameUpdate prepends the update frame to a payload.
func FrameUpdate(payload []byte) []byte {
	out := make([]byte, 0, FrameSize+len(payload))
	out = append(out, UpdateTag...)
	return append(out, payload...)
}
