// Package main hosts the snapkeep CLI entrypoint and command graph.
//
// The Cobra command tree starts and stops the background daemon, forwards
// capture, upload, and prune triggers to its HTTP control endpoint, and reads
// the history database directly when the daemon is down. `logs` tails the
// current run log from disk.
package main
