// ABOUTME: Wire messages for the bridge and service gRPC services.
// ABOUTME: Invocations and log records reuse the calls package types directly.

package transport

import (
	"fmt"

	"github.com/2389/coven-bridge/internal/calls"
)

// DispatchResponse is the reply to a Dispatch call. At most one of Data, Text
// and Number is set; none set means an absent value. HasData keeps an empty
// byte result distinct from an absent one.
type DispatchResponse struct {
	Data    []byte  `cbor:"data,omitempty"`
	HasData bool    `cbor:"has_data,omitempty"`
	Text    *string `cbor:"text,omitempty"`
	Number  *int64  `cbor:"number,omitempty"`
	Silent  bool    `cbor:"silent,omitempty"`
}

// ListenRequest attaches to the updates of a streaming call.
type ListenRequest struct {
	Token string `cbor:"token"`
}

// Update is one streamed payload.
type Update struct {
	Data []byte `cbor:"data"`
}

// CallResponse is the raw result of a simple service call.
type CallResponse struct {
	Data []byte `cbor:"data"`
}

// HandshakeResponse describes a connected service.
type HandshakeResponse struct {
	Port         int    `cbor:"port"`
	DatabasePath string `cbor:"database_path,omitempty"`
}

// SyncRequest names the file to sync service data from.
type SyncRequest struct {
	Path string `cbor:"path"`
}

// Empty is used where a call has no payload.
type Empty struct{}

func encodeReply(r calls.Reply) *DispatchResponse {
	out := &DispatchResponse{Data: r.Data, HasData: r.Data != nil, Silent: r.Silent}
	switch v := r.Value.(type) {
	case nil:
	case string:
		out.Text = &v
	case int:
		n := int64(v)
		out.Number = &n
	case int64:
		out.Number = &v
	default:
		s := fmt.Sprint(v)
		out.Text = &s
	}
	return out
}

func decodeReply(r *DispatchResponse) calls.Reply {
	out := calls.Reply{Data: r.Data, Silent: r.Silent}
	if r.HasData && out.Data == nil {
		out.Data = []byte{}
	}
	switch {
	case r.Text != nil:
		out.Value = *r.Text
	case r.Number != nil:
		out.Value = int(*r.Number)
	}
	return out
}
