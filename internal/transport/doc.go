// Package transport carries the bridge over gRPC.
//
// Two services are defined with hand-written descriptors and a CBOR codec
// (content subtype "cbor"):
//
//	coven.bridge.v1.Bridge    caller-facing: Dispatch (unary), Listen (server stream)
//	coven.bridge.v1.Service   background service: Call, CallStream, Handshake,
//	                          SyncData, RollbackData, ResetData, Log
//
// BridgeServer exposes a dispatcher and the subscription registry to callers.
// BridgeClient is its counterpart. ServiceServer exposes any service.Service
// implementation; RemoteService is the service.Service the bridge uses to
// reach it, and ServiceLink keeps the service gate in sync with the
// connection state.
//
// # Errors
//
// Call failures travel as gRPC status errors carrying an errdetails.ErrorInfo
// in the "coven.bridge" domain. Reason CALL_ERROR holds a boundary
// {code, message}; reason SERVICE_ERROR holds a service's numeric code. Both
// are restored on the receiving side so error codes survive the hop.
package transport
