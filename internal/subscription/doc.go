// Package subscription tracks the consumer side of every in-flight streaming
// call, keyed by call token.
//
// # Lifecycle
//
// The bridge opens an entry for a token before it hands the token to the
// caller. From then on updates are delivered and eventually a single terminal
// outcome is resolved. The caller attaches a Subscription at any point and
// pulls updates with Next until end-of-stream (io.EOF) or the call's error.
//
//	reg.Open(token)
//	reg.Deliver(token, data) // zero or more
//	reg.Resolve(token, nil)  // exactly once
//
//	sub, _ := reg.Attach(token)
//	for {
//		data, err := sub.Next(ctx)
//		...
//	}
//
// # Late attach
//
// Updates delivered before a Subscription is attached are buffered (bounded by
// MaxBuffered) unless buffering is disabled, in which case they are dropped.
// An outcome resolved before attach is kept for replay until ReplayTTL passes.
// The same MaxBuffered cap applies to an attached consumer that falls behind.
//
// # Locking
//
// A single mutex guards every entry. Consumers block outside the lock on a
// per-entry notify channel, so producers never wait on a slow consumer.
package subscription
