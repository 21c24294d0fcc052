// Package remind drives the per-session reminder battery: the fixed set of
// delayed callbacks armed when a vote is created and retracted when the
// session ends or revotes.
//
// # Batteries and epochs
//
// At most one battery exists per session key. StartSchedule always retracts
// the previous battery first, and every arm/retract bumps the key's epoch
// counter; a timer that fires anyway (cancellation is advisory) carries the
// epoch it was armed with and is dropped when it no longer matches. The
// callback body additionally re-resolves the live vote linkage, so a stale
// fire after end/revote degrades to a logged no-op.
//
// # Execution model
//
// Timers never run callback bodies themselves: a fire enqueues a task and a
// small fixed worker pool executes it, so external-call latency inside one
// callback cannot skew another session's timing. Failures inside a callback
// are caught at the worker boundary and logged; they never cancel the rest
// of the battery.
//
// A cron-driven sweep ends sessions that have been idle for too long, which
// keeps the in-memory registry bounded on long-running bots.
package remind
