// Package logs reads the daemon's run log for `snapkeep logs`.
//
// Last returns the final lines of a file, ReadFrom returns complete lines
// written after an offset, and Follow streams new lines until its context
// ends. Follow reopens the path on every read, so it tracks the snapkeep.log
// pointer across daemon restarts.
package logs
