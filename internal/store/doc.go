// Package store provides SQLite persistence for the bridge.
//
// # Call ledger
//
// Every generic call the dispatcher handles is recorded in the calls table:
// method, kind (simple or streaming), final status, the boundary error code
// and message on failure, and for streaming calls how many updates were
// relayed or dropped. The gateway exposes the most recent entries over HTTP.
//
//   - Store: interface used by the bridge and dispatcher
//   - SQLiteStore: modernc.org/sqlite implementation
//   - MockStore: in-memory implementation for tests
//
// # Data file
//
// DataFile is the storage a background service keeps behind the
// databasePath, syncData, rollbackData and resetData control calls. Sync
// snapshots the current file with VACUUM INTO before replacing it, so the
// previous contents can be restored by Rollback.
//
// # SQLite Configuration
//
//	PRAGMA journal_mode=WAL;
//
// Use NewSQLiteStore(":memory:") or a t.TempDir() path in tests.
package store
