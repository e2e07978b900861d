// Package history keeps a SQLite log of capture, upload, and delete outcomes
// for the status API and the history command.
package history
