// Package upload drains the local staging directory to the remote store, one
// file at a time, under the shared single-flight guard.
package upload
