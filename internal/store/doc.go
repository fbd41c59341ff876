// Package store provides the SQLite-backed Action Log.
//
// The log keeps every recorded action until a caller removes it:
//   - Enqueue assigns id, created_at, PENDING and retry_count 0
//   - Pending returns PENDING actions in insertion order
//   - SetStatus is the only mutation a sync pass performs
//
// # Ordering
//
// Every listing uses ORDER BY seq, an autoincrement column, so insertion
// order survives equal created_at values and clock skew.
//
// # Durability
//
// Each mutating call is a single committed statement or transaction.
// synchronous=FULL makes the commit durable before the call returns.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=FULL: Commit is on disk when a call returns
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON
//
// All storage errors are returned as ir.Error with code IO_FAILURE.
package store
