// Package retention enforces the remote retention window.
//
// Each pass lists the remote directory, picks one line whose YYYY-MM-DD date
// is older than the window, and deletes it. Passes repeat until nothing stale
// is listed. The default "last" selection keeps the historical behaviour of
// choosing the last stale line in listing order rather than the oldest.
package retention
