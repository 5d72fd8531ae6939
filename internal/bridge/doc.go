// Package bridge runs streaming calls against the background service and
// relays their updates to the subscription registry.
//
// Start mints a call token, opens its registry entry and returns the token
// before any service work begins. Execution runs on a bridge-owned context, so
// a caller that goes away never interrupts the service. Each raw update has its
// two framing bytes stripped before delivery. The terminal result is recorded
// in the registry exactly once: io.EOF from the stream completes the call and
// any other error fails it with the boundary {code, message} shape.
//
// Consumers attach with Subscribe at any time, before or after the call
// finishes.
package bridge
