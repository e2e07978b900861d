// Package preflight provides readiness checks for the filesystem paths,
// external binaries, and remote host that snapkeep depends on.
//
// The daemon runs RunAll at startup and logs failures without refusing to
// start, since captures are staged locally until the remote comes back. The
// CLI status command reuses the individual checks when no daemon is running.
package preflight
