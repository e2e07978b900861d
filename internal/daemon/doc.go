// Package daemon coordinates the long-running snapkeep process.
//
// A Daemon owns everything the scheduled tasks share: the single-flight
// guard, the capturer, the upload drainer, the retention scanner, and the
// tick scheduler with its handler registry. Start takes a flock-based
// instance lock, starts the scheduler, the HTTP control endpoint, and the
// optional staging watcher. Stop cancels them without waiting for in-flight
// commands.
//
// Slow work never runs on the scheduler goroutine or an HTTP request: Go
// starts it under the daemon's lifetime context and the caller returns at
// once.
package daemon
