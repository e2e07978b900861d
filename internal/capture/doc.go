// Package capture runs the external still-image command, either into the
// staging directory for upload or to a temporary file for on-demand
// snapshots.
package capture
