// Package task runs long store operations (cloning, syncing) as
// cancellable background work that reports progress.
//
// Work functions receive a *Reporter and call Step at table and row
// boundaries. Step emits a Progress event every configured percentage of
// the total and returns ErrCancelled once the task has been cancelled, so
// cancellation is cooperative and never interrupts a row in flight.
package task
