// Package host is a reference background service.
//
// A Host answers simple and streaming calls from a handler table, frames
// every streamed update with the 2-byte update tag, owns a SQLite data file
// that supports sync, rollback and reset, and writes forwarded log records
// to slog. RegisterBuiltins installs the methods cmd/fake-service exposes.
package host
