// Package store provides durable storage for collection databases over
// SQLite (mattn/go-sqlite3) and Postgres (pgx stdlib).
//
// Every store carries the user tables of a schema plus three bookkeeping
// tables:
//   - meta: key/value pairs (clone_history_id, sync_batch_num, last_pull_uri)
//   - history: the append-only change log, one entry per mutation
//   - to_sync: remote change log entries staged for replay, by batch
//
// # Transactions
//
// Methods take a Querier so callers choose the transaction boundary; nil
// means the store connection. InTx commits when the callback returns nil
// and rolls back otherwise.
//
// # Values
//
// Row values travel as Values (column name to value). Log entries encode
// them as canonical JSON: sorted keys, NFC strings, integers as int64 and
// datetimes as RFC 3339. ValuesEqual compares a live column value with a
// captured one across driver representations.
//
// # Errors
//
// Driver errors are classified into *Error: constraint violations from
// either engine become CONSTRAINT_CONFLICT, everything else STORE.
//
// # Database Configuration
//
// SQLite stores use a single connection with:
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
