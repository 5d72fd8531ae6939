// ABOUTME: CBOR codec registered with gRPC under the "cbor" content subtype.
// ABOUTME: Lets the hand-written service descriptors carry plain Go structs.

package transport

import (
	"github.com/fxamacker/cbor/v2"
	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"
)

// CodecName is the gRPC content subtype used by every bridge call.
const CodecName = "cbor"

type cborCodec struct{}

func (cborCodec) Marshal(v any) ([]byte, error) {
	return cbor.Marshal(v)
}

func (cborCodec) Unmarshal(data []byte, v any) error {
	return cbor.Unmarshal(data, v)
}

func (cborCodec) Name() string {
	return CodecName
}

func init() {
	encoding.RegisterCodec(cborCodec{})
}

// callCodec selects the CBOR codec for an outgoing call.
func callCodec() grpc.CallOption {
	return grpc.CallContentSubtype(CodecName)
}
