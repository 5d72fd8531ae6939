// Package dispatch routes named invocations to their handlers.
//
// # Routing
//
// Reserved control names are answered by the dispatcher itself or passed
// straight to the service handle:
//
//	getLocalIpAddress  first non-loopback IPv4 address, absent if none
//	databasePath       the service's storage path, absent without a service
//	initialized        the service's readiness token, waiting for it if needed
//	syncData           replace service data from the path in the payload
//	rollbackData       restore the data snapshot taken by the last sync
//	resetData          discard service data
//	log                forward a {level, message} record, no reply
//
// Every other name is a generic call. Generic calls fail immediately with
// {"50000", "Service Start Failed"} when no service is connected. Names ending
// in "/cb" start a streaming call and are answered with the stream
// acknowledgment; all others are executed as simple request/response calls.
//
// # Errors
//
// Dispatch failures are always *calls.Error values.
package dispatch
