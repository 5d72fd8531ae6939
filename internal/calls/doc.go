// Package calls defines the shapes that cross the caller boundary: invocations,
// replies, the {code, message} error pair and the byte framing used for
// streaming acknowledgments and updates.
//
// # Names
//
// A small set of reserved names are control calls handled by the dispatcher
// itself (see the Control* constants). Every other name is a generic call.
// Generic names ending in StreamSuffix ("/cb") are streaming calls.
//
// # Framing
//
// A streaming call is acknowledged with two tag bytes (0xD9 0x24) followed by
// the 36-byte textual call token. Updates produced by the service carry two
// leading framing bytes that are stripped before delivery to the consumer.
package calls
