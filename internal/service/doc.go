// Package service defines the handle to the long-lived background service that
// executes calls on behalf of the bridge.
//
// A Service executes simple calls with Call and streaming calls with
// CallStream. A streaming call returns a Stream: a finite, non-restartable
// sequence of raw (framed) updates terminated by a single result. Recv returns
// io.EOF when the call completed successfully and any other error when it
// failed.
//
// Produce adapts a push-style producer function into a pull-style Stream and is
// used by in-process services. MockService is an in-memory test double.
package service
